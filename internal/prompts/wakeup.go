package prompts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultWakeup is the system instruction used when no wakeup prompt
// file exists.
const DefaultWakeup = "You just woke up. Read my-core/my-wake-state.md and follow my-core/theloop.md."

// TimestampToken in the wakeup prompt is replaced with the wake time.
const TimestampToken = "[timestamp]"

// TimestampFormat renders the wake time, local zone included.
const TimestampFormat = "2006-01-02 15:04:05 MST"

// wakeMessageTemplate frames the wake-state and post-its contents.
const wakeMessageTemplate = "Wake-state:\n%s\n\nPost-its:\n%s"

// WakeupPrompt substitutes every timestamp token in template.
func WakeupPrompt(template string, now time.Time) string {
	return strings.ReplaceAll(template, TimestampToken, now.Format(TimestampFormat))
}

// WakeMessage builds the first user message of a cycle.
func WakeMessage(wakeState, postIts string) string {
	return fmt.Sprintf(wakeMessageTemplate, wakeState, postIts)
}

// Files locates the prompt sources on disk.
type Files struct {
	WakeupPrompt string
	WakeState    string
	PostIts      string
}

// System returns the system instruction for a cycle starting at now.
func (f Files) System(now time.Time) string {
	data, err := os.ReadFile(f.WakeupPrompt)
	if err != nil {
		return WakeupPrompt(DefaultWakeup, now)
	}
	return WakeupPrompt(string(data), now)
}

// User returns the wake message. Missing files are replaced by a
// placeholder naming the file, so the model knows what was absent.
func (f Files) User() string {
	return WakeMessage(readOrPlaceholder(f.WakeState), readOrPlaceholder(f.PostIts))
}

func readOrPlaceholder(path string) string {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		return string(data)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Sprintf("(%s not found)", filepath.Base(path))
	default:
		return fmt.Sprintf("(error reading %s: %v)", filepath.Base(path), err)
	}
}
