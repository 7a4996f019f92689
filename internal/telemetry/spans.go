package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by spans and metrics.
var (
	AttrCycleID      = attribute.Key("amazo.cycle.id")
	AttrLoop         = attribute.Key("amazo.loop")
	AttrRound        = attribute.Key("amazo.cycle.round")
	AttrOutcome      = attribute.Key("amazo.cycle.outcome")
	AttrToolName     = attribute.Key("amazo.tool.name")
	AttrModel        = attribute.Key("amazo.llm.model")
	AttrTokensInput  = attribute.Key("amazo.llm.tokens.input")
	AttrTokensOutput = attribute.Key("amazo.llm.tokens.output")
)

// StartSpan starts an internal span (cycle, tool dispatch).
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan starts a span for an outbound model call.
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
