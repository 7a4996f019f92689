// Package prompts assembles the opening messages of each wake cycle.
//
// The agent's own instructions live on disk (the wakeup prompt, the
// wake-state notes and the post-its) and are edited by the agent
// itself between cycles. This package only reads them, substitutes the
// timestamp and supplies fallbacks when a file is missing. The fallback
// text is Go code so tests can pin it.
package prompts
