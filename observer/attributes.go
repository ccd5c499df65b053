package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for gateway observability spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrEmbedTextCount  = attribute.Key("llm.embed.text_count")
	AttrEmbedDimensions = attribute.Key("llm.embed.dimensions")

	AttrTaskStatus = attribute.Key("task.status")
	AttrChannel    = attribute.Key("channel.name")
	AttrSendKind   = attribute.Key("channel.send_kind")
)
