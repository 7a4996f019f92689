// Package cycle runs one wake cycle: a bounded conversation with the
// model in which every requested tool call is executed and answered
// before the next model call.
//
// A cycle moves through WAKING, CONVERSING, then TERMINATED or
// LIMIT_REACHED, and always ends in SLEEPING. A model failure or a
// cancelled context goes straight from CONVERSING to SLEEPING. The
// conversation is discarded when the cycle ends.
package cycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/nugget/amazo/internal/heartbeat"
	"github.com/nugget/amazo/internal/ledger"
	"github.com/nugget/amazo/internal/llm"
	"github.com/nugget/amazo/internal/telemetry"
	"github.com/nugget/amazo/internal/tools"
)

// DefaultMaxRounds bounds the model calls in one cycle.
const DefaultMaxRounds = 50

// excerptLimit is how much of each model utterance is logged.
const excerptLimit = 300

// ledgerTimeout bounds the ledger write at the end of a cycle.
const ledgerTimeout = 5 * time.Second

// State is a phase of the cycle.
type State string

const (
	StateWaking       State = "WAKING"
	StateConversing   State = "CONVERSING"
	StateTerminated   State = "TERMINATED"
	StateLimitReached State = "LIMIT_REACHED"
	StateSleeping     State = "SLEEPING"
)

// Outcome is how a cycle ended.
type Outcome string

const (
	// OutcomeTerminated: the model stopped calling tools or called
	// done_for_now.
	OutcomeTerminated Outcome = "terminated"
	// OutcomeLimitReached: the round limit ran out first.
	OutcomeLimitReached Outcome = "limit_reached"
	// OutcomeModelError: a model call failed and the cycle was cut short.
	OutcomeModelError Outcome = "model_error"
	// OutcomeCancelled: the context was cancelled mid-cycle.
	OutcomeCancelled Outcome = "cancelled"
)

// Dispatcher executes tool calls. *tools.Registry satisfies it.
type Dispatcher interface {
	Definitions() []llm.ToolDefinition
	Dispatch(ctx context.Context, name, rawArgs string) tools.Result
}

// PromptSource supplies the opening messages. prompts.Files satisfies
// it.
type PromptSource interface {
	System(now time.Time) string
	User() string
}

// Recorder persists finished cycles. *ledger.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, rec ledger.Record) error
}

// Config holds the engine's tunables.
type Config struct {
	Model string
	// MaxRounds defaults to DefaultMaxRounds when zero.
	MaxRounds int
	// ModelTimeout bounds each model call. Zero leaves the call bounded
	// only by the context and the HTTP client.
	ModelTimeout time.Duration
}

// Deps holds injected dependencies for the engine.
type Deps struct {
	Client    llm.Client
	Tools     Dispatcher
	Prompts   PromptSource
	Heartbeat *heartbeat.Writer
	Ledger    Recorder            // nil disables the ledger
	Telemetry *telemetry.Provider // nil uses telemetry.Disabled
	Logger    *slog.Logger
	Now       func() time.Time // nil uses time.Now
	NewID     func() string    // nil uses uuid.NewString
}

// Result summarizes a finished cycle.
type Result struct {
	CycleID      string
	Loop         int
	Outcome      Outcome
	Rounds       int
	ToolCalls    int
	InputTokens  int
	OutputTokens int
	// Summary is the done_for_now summary, if the model gave one.
	Summary  string
	Duration time.Duration
}

// Engine runs wake cycles. Create with [New].
type Engine struct {
	cfg  Config
	deps Deps
}

// New creates an engine.
func New(cfg Config, deps Deps) *Engine {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.Disabled()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Heartbeat == nil {
		deps.Heartbeat = heartbeat.NewWriter(&heartbeat.MemorySink{}, deps.Now, deps.Logger)
	}
	return &Engine{cfg: cfg, deps: deps}
}

// Run executes one cycle for the given loop number. It never returns an
// error: every failure ends the cycle with an outcome and is logged.
func (e *Engine) Run(ctx context.Context, loop int) Result {
	started := e.deps.Now()
	res := Result{CycleID: e.deps.NewID(), Loop: loop}

	logger := e.deps.Logger.With("cycle_id", res.CycleID, "loop", loop)
	ctx = tools.WithCycle(ctx, res.CycleID, loop)
	ctx, span := telemetry.StartSpan(ctx, e.deps.Telemetry.Tracer, "amazo.cycle",
		telemetry.AttrCycleID.String(res.CycleID),
		telemetry.AttrLoop.Int(loop),
	)
	defer span.End()

	e.transition(logger, StateWaking)
	e.deps.Heartbeat.Write(loop, heartbeat.StatusWaking, "starting loop")

	conversation := []llm.Message{
		llm.SystemMessage(e.deps.Prompts.System(started)),
		llm.UserMessage(e.deps.Prompts.User()),
	}

	e.transition(logger, StateConversing)
	res.Outcome = e.converse(ctx, logger, conversation, &res)

	switch res.Outcome {
	case OutcomeTerminated:
		e.transition(logger, StateTerminated)
	case OutcomeLimitReached:
		e.transition(logger, StateLimitReached)
		logger.Warn(fmt.Sprintf("Safety limit reached (%d tool rounds). Ending cycle.", e.cfg.MaxRounds))
	}

	e.transition(logger, StateSleeping)
	e.deps.Heartbeat.Write(loop, heartbeat.StatusSleeping, fmt.Sprintf("completed loop %d", loop))

	res.Duration = e.deps.Now().Sub(started)
	e.record(ctx, logger, res, started)

	e.deps.Telemetry.Metrics.RecordCycle(ctx, string(res.Outcome), res.Rounds)
	span.SetAttributes(
		telemetry.AttrOutcome.String(string(res.Outcome)),
		telemetry.AttrRound.Int(res.Rounds),
	)
	if res.Outcome == OutcomeModelError {
		span.SetStatus(codes.Error, "model call failed")
	}

	logger.Info("cycle complete",
		"outcome", res.Outcome,
		"rounds", res.Rounds,
		"tool_calls", res.ToolCalls,
		"elapsed", res.Duration.Round(time.Millisecond),
	)
	return res
}

// converse runs model rounds until the model stops, finishes, fails, or
// the round limit is hit.
func (e *Engine) converse(ctx context.Context, logger *slog.Logger, conversation []llm.Message, res *Result) Outcome {
	defs := e.deps.Tools.Definitions()

	for res.Rounds < e.cfg.MaxRounds {
		if ctx.Err() != nil {
			logger.Info("cycle interrupted", "round", res.Rounds)
			return OutcomeCancelled
		}
		res.Rounds++

		resp, err := e.chat(ctx, conversation, defs, res.Rounds)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("cycle interrupted", "round", res.Rounds)
				return OutcomeCancelled
			}
			logger.Error("LLM call failed", "error", err, "round", res.Rounds)
			return OutcomeModelError
		}
		res.InputTokens += resp.InputTokens
		res.OutputTokens += resp.OutputTokens

		msg := resp.Message
		msg.Role = llm.RoleAssistant
		conversation = append(conversation, msg)

		if msg.Content != "" {
			logger.Info("[amazo] " + excerpt(msg.Content, excerptLimit))
		}

		if len(msg.ToolCalls) == 0 {
			return OutcomeTerminated
		}

		for _, tc := range msg.ToolCalls {
			if ctx.Err() != nil {
				logger.Info("cycle interrupted", "round", res.Rounds, "pending_tool", tc.Function.Name)
				return OutcomeCancelled
			}
			result := e.dispatch(ctx, tc)
			res.ToolCalls++
			conversation = append(conversation, llm.ToolResultMessage(tc.ID, result.Text))
			if result.Finish {
				res.Summary = result.Summary
				return OutcomeTerminated
			}
		}
	}
	return OutcomeLimitReached
}

func (e *Engine) chat(ctx context.Context, conversation []llm.Message, defs []llm.ToolDefinition, round int) (*llm.ChatResponse, error) {
	ctx, span := telemetry.StartClientSpan(ctx, e.deps.Telemetry.Tracer, "amazo.llm.chat",
		telemetry.AttrModel.String(e.cfg.Model),
		telemetry.AttrRound.Int(round),
	)
	defer span.End()

	if e.cfg.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ModelTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := e.deps.Client.Chat(ctx, e.cfg.Model, conversation, defs)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.deps.Telemetry.Metrics.RecordLLMCall(ctx, e.cfg.Model, elapsed, 0, 0, true)
		return nil, err
	}

	span.SetAttributes(
		telemetry.AttrTokensInput.Int(resp.InputTokens),
		telemetry.AttrTokensOutput.Int(resp.OutputTokens),
	)
	e.deps.Telemetry.Metrics.RecordLLMCall(ctx, e.cfg.Model, elapsed, resp.InputTokens, resp.OutputTokens, false)
	return resp, nil
}

func (e *Engine) dispatch(ctx context.Context, tc llm.ToolCall) tools.Result {
	ctx, span := telemetry.StartSpan(ctx, e.deps.Telemetry.Tracer, "amazo.tool",
		telemetry.AttrToolName.String(tc.Function.Name),
	)
	defer span.End()

	start := time.Now()
	result := e.deps.Tools.Dispatch(ctx, tc.Function.Name, tc.Function.Arguments)
	if result.Failed {
		span.SetStatus(codes.Error, excerpt(result.Text, excerptLimit))
	}
	e.deps.Telemetry.Metrics.RecordToolCall(ctx, tc.Function.Name, time.Since(start), result.Failed)
	return result
}

// record writes the ledger entry. It runs even when ctx is cancelled so
// interrupted cycles are still accounted for. Failures are logged only.
func (e *Engine) record(ctx context.Context, logger *slog.Logger, res Result, started time.Time) {
	if e.deps.Ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()

	err := e.deps.Ledger.Record(ctx, ledger.Record{
		CycleID:      res.CycleID,
		Loop:         res.Loop,
		StartedAt:    started,
		EndedAt:      started.Add(res.Duration),
		Outcome:      string(res.Outcome),
		Model:        e.cfg.Model,
		Rounds:       res.Rounds,
		ToolCalls:    res.ToolCalls,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		Summary:      res.Summary,
	})
	if err != nil {
		logger.Warn("ledger write failed", "error", err)
	}
}

func (e *Engine) transition(logger *slog.Logger, s State) {
	logger.Debug("cycle state", "state", s)
}

// excerpt returns at most limit runes of s.
func excerpt(s string, limit int) string {
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
