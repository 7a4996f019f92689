package tools

import "context"

type contextKey string

const (
	cycleIDKey contextKey = "cycle_id"
	loopKey    contextKey = "loop"
)

// WithCycle tags ctx with the running cycle's ID and loop number so
// tool log lines can be correlated with the cycle that issued them.
func WithCycle(ctx context.Context, cycleID string, loop int) context.Context {
	ctx = context.WithValue(ctx, cycleIDKey, cycleID)
	return context.WithValue(ctx, loopKey, loop)
}

// CycleFromContext returns the cycle ID and loop number set by
// [WithCycle], or "" and 0 when absent.
func CycleFromContext(ctx context.Context) (string, int) {
	id, _ := ctx.Value(cycleIDKey).(string)
	loop, _ := ctx.Value(loopKey).(int)
	return id, loop
}
