package tools

import "strings"

// FinishSentinel is the text returned by done_for_now.
const FinishSentinel = "DONE"

// truncationMarker joins the head and tail of oversized output.
const truncationMarker = "\n\n...[truncated]...\n\n"

// Result is the outcome of one tool call. Text is what the model sees;
// it is always set, including for failures.
type Result struct {
	Text string

	// Failed marks results that describe a failure. The model sees
	// only Text; Failed feeds logs and metrics.
	Failed bool

	// Finish is set by done_for_now and ends the cycle.
	Finish bool

	// Summary is the optional done_for_now summary.
	Summary string
}

func textResult(s string) Result { return Result{Text: s} }

func failure(s string) Result { return Result{Text: s, Failed: true} }

// truncateMiddle keeps the first head and last tail code points of s
// when s is longer than limit code points.
func truncateMiddle(s string, limit, head, tail int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	var b strings.Builder
	b.Grow(head + tail + len(truncationMarker))
	b.WriteString(string(r[:head]))
	b.WriteString(truncationMarker)
	b.WriteString(string(r[len(r)-tail:]))
	return b.String()
}
