package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/nevindra/parley"
)

// TaskSink returns an EventSink that records task lifecycle transitions and
// the queue depth gauge. Chain it with other sinks in main when the status
// websocket is also wired.
func (inst *Instruments) TaskSink() parley.EventSink {
	return func(ev parley.TaskEvent) {
		ctx := context.Background()
		inst.TasksSettled.Add(ctx, 1, metric.WithAttributes(
			AttrTaskStatus.String(string(ev.Status)),
		))
		inst.QueueDepth.Record(ctx, int64(ev.QueueDepth))
	}
}

// RecordDedupHit counts one suppressed duplicate delivery.
func (inst *Instruments) RecordDedupHit(ctx context.Context) {
	inst.DedupHits.Add(ctx, 1)
}

// ObservedSender wraps a parley.Sender, counting outbound sends.
type ObservedSender struct {
	inner   parley.Sender
	inst    *Instruments
	channel string
}

// WrapSender returns an instrumented sender.
func WrapSender(inner parley.Sender, channel string, inst *Instruments) *ObservedSender {
	return &ObservedSender{inner: inner, inst: inst, channel: channel}
}

var _ parley.Sender = (*ObservedSender)(nil)

func (o *ObservedSender) SendText(ctx context.Context, target, text, quoteID string) error {
	ctx, span := o.inst.Tracer.Start(ctx, "channel.send", trace.WithAttributes(
		AttrChannel.String(o.channel),
	))
	defer span.End()
	start := time.Now()

	err := o.inner.SendText(ctx, target, text, quoteID)

	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Float64("channel.duration_ms",
		float64(time.Since(start).Milliseconds())))

	o.inst.SendTotal.Add(ctx, 1, metric.WithAttributes(
		AttrChannel.String(o.channel),
		AttrSendKind.String("text"),
		attribute.String("status", status),
	))
	return err
}

func (o *ObservedSender) SendTyping(ctx context.Context, target string) {
	o.inner.SendTyping(ctx, target)
	o.inst.SendTotal.Add(ctx, 1, metric.WithAttributes(
		AttrChannel.String(o.channel),
		AttrSendKind.String("typing"),
	))
}

func (o *ObservedSender) MarkSeen(ctx context.Context, target, messageID string) {
	o.inner.MarkSeen(ctx, target, messageID)
	o.inst.SendTotal.Add(ctx, 1, metric.WithAttributes(
		AttrChannel.String(o.channel),
		AttrSendKind.String("mark_seen"),
	))
}
