package triage

import (
	"strings"
	"sync/atomic"
)

// DefaultTriggers are the phrases that mark an AI reply as a hand-off to a manager.
var DefaultTriggers = []string{
	"уточнить у менеджера",
	"вызываю менеджера",
	"нужна помощь менеджера",
	"не могу ответить на этот вопрос",
	"передаю менеджеру",
	"require manager",
	"нужен менеджер",
	"обратитесь к менеджеру",
}

// Classifier decides whether an AI reply means the conversation needs a human.
// The trigger list can be swapped at runtime.
type Classifier struct {
	triggers atomic.Pointer[[]string]
}

// NewClassifier builds a classifier; an empty list falls back to DefaultTriggers.
func NewClassifier(triggers []string) *Classifier {
	c := &Classifier{}
	c.Replace(triggers)
	return c
}

// Replace atomically installs a new trigger list.
func (c *Classifier) Replace(triggers []string) {
	normalized := normalize(triggers)
	if len(normalized) == 0 {
		normalized = normalize(DefaultTriggers)
	}
	c.triggers.Store(&normalized)
}

// Triggers returns the active phrases.
func (c *Classifier) Triggers() []string {
	list := c.triggers.Load()
	if list == nil {
		return nil
	}
	return append([]string(nil), (*list)...)
}

// ShouldEscalate reports true for a missing or blank reply, or one containing a trigger phrase.
func (c *Classifier) ShouldEscalate(reply *string) bool {
	if reply == nil {
		return true
	}
	text := strings.ToLower(strings.TrimSpace(*reply))
	if text == "" {
		return true
	}
	list := c.triggers.Load()
	if list == nil {
		return false
	}
	for _, phrase := range *list {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

func normalize(triggers []string) []string {
	out := make([]string, 0, len(triggers))
	for _, t := range triggers {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
