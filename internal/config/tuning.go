package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tuning holds operator-editable settings that can change without a redeploy.
type Tuning struct {
	ServiceName          string   `yaml:"service_name"`
	MainBotUsername      string   `yaml:"main_bot_username"`
	SystemPromptOverride string   `yaml:"system_prompt_override"`
	EscalationTriggers   []string `yaml:"escalation_triggers"`
}

// LoadTuning reads the YAML tuning file. An empty path yields an empty Tuning.
func LoadTuning(path string) (*Tuning, error) {
	if strings.TrimSpace(path) == "" {
		return &Tuning{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tuning file: %w", err)
	}
	var t Tuning
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parse tuning file %s: %w", path, err)
	}
	triggers := t.EscalationTriggers[:0]
	for _, phrase := range t.EscalationTriggers {
		if phrase = strings.TrimSpace(phrase); phrase != "" {
			triggers = append(triggers, phrase)
		}
	}
	t.EscalationTriggers = triggers
	return &t, nil
}

// Apply overlays the non-empty tuning values onto the support settings.
func (t *Tuning) Apply(s SupportConfig) SupportConfig {
	if t == nil {
		return s
	}
	if t.ServiceName != "" {
		s.ServiceName = t.ServiceName
	}
	if t.MainBotUsername != "" {
		s.MainBotUsername = strings.TrimPrefix(t.MainBotUsername, "@")
	}
	if t.SystemPromptOverride != "" {
		s.SystemPromptOverride = t.SystemPromptOverride
	}
	return s
}
