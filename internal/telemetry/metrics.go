package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names.
const (
	MetricCycles       = "amazo.cycles"
	MetricCycleRounds  = "amazo.cycle.rounds"
	MetricToolCalls    = "amazo.tool.calls"
	MetricToolDuration = "amazo.tool.duration"
	MetricLLMDuration  = "amazo.llm.duration"
	MetricLLMTokens    = "amazo.llm.tokens"
)

// Metrics holds the loop's instruments.
type Metrics struct {
	Cycles       metric.Int64Counter
	CycleRounds  metric.Int64Histogram
	ToolCalls    metric.Int64Counter
	ToolDuration metric.Float64Histogram
	LLMDuration  metric.Float64Histogram
	LLMTokens    metric.Int64Counter
}

// NewMetrics creates all instruments from meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Cycles, err = meter.Int64Counter(MetricCycles,
		metric.WithDescription("Wake cycles completed, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.CycleRounds, err = meter.Int64Histogram(MetricCycleRounds,
		metric.WithDescription("Model rounds per cycle"),
	)
	if err != nil {
		return nil, err
	}

	m.ToolCalls, err = meter.Int64Counter(MetricToolCalls,
		metric.WithDescription("Tool invocations, by tool and failure"),
	)
	if err != nil {
		return nil, err
	}

	m.ToolDuration, err = meter.Float64Histogram(MetricToolDuration,
		metric.WithDescription("Tool execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.LLMDuration, err = meter.Float64Histogram(MetricLLMDuration,
		metric.WithDescription("Model call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.LLMTokens, err = meter.Int64Counter(MetricLLMTokens,
		metric.WithDescription("Tokens consumed, by direction"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordCycle counts a finished cycle.
func (m *Metrics) RecordCycle(ctx context.Context, outcome string, rounds int) {
	outcomeAttr := metric.WithAttributes(AttrOutcome.String(outcome))
	m.Cycles.Add(ctx, 1, outcomeAttr)
	m.CycleRounds.Record(ctx, int64(rounds), outcomeAttr)
}

// RecordToolCall counts one dispatch.
func (m *Metrics) RecordToolCall(ctx context.Context, tool string, d time.Duration, failed bool) {
	attrs := metric.WithAttributes(AttrToolName.String(tool), attribute.Bool("failed", failed))
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolDuration.Record(ctx, d.Seconds(), metric.WithAttributes(AttrToolName.String(tool)))
}

// RecordLLMCall records a model round trip. Token counts are only
// added for successful calls.
func (m *Metrics) RecordLLMCall(ctx context.Context, model string, d time.Duration, inputTokens, outputTokens int, failed bool) {
	modelAttr := AttrModel.String(model)
	m.LLMDuration.Record(ctx, d.Seconds(), metric.WithAttributes(modelAttr, attribute.Bool("failed", failed)))
	if failed {
		return
	}
	m.LLMTokens.Add(ctx, int64(inputTokens), metric.WithAttributes(modelAttr, attribute.String("direction", "input")))
	m.LLMTokens.Add(ctx, int64(outputTokens), metric.WithAttributes(modelAttr, attribute.String("direction", "output")))
}
