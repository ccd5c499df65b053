// Package parley is the conversational message gateway core of a personal
// AI assistant. It fronts a chat channel webhook and orchestrates LLM
// responses through an inbound pipeline:
//
//	webhook → dedup → flood gate → task queue → worker pool → sender
//
// with per-chat generation tracking so a reply that was overtaken by a newer
// message is never delivered. Reasoning, memory retrieval, knowledge graph,
// persona assembly, and channel transports live in subpackages; this package
// owns the pipeline primitives, the provider and store contracts, and the
// composable provider wrappers (retry, rate limit).
//
// Construct the pieces explicitly and wire them into a Gateway:
//
//	gw := parley.NewGateway(sender, process,
//		parley.GatewayLogger(logger),
//		parley.PoolOptions(parley.Workers(2)),
//	)
//	gw.Start(ctx)
//	receipt := gw.Submit(msg)
//
// Nothing in this package is a singleton; every component takes its
// dependencies as arguments and is safe for concurrent use unless noted.
package parley
