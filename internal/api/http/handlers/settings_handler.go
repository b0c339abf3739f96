package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/reshala/support-desk/internal/config"
	"github.com/reshala/support-desk/internal/observability"
)

// ProfileStatus reports which profile providers are configured.
type ProfileStatus interface {
	Status() map[string]bool
}

// SettingsHandler exposes the effective configuration and the metrics snapshot.
type SettingsHandler struct {
	cfg      config.Config
	profiles ProfileStatus
	telegram bool
	metrics  *observability.Metrics
}

// NewSettingsHandler constructs handler. telegram reports whether a real gateway is wired.
func NewSettingsHandler(cfg config.Config, profiles ProfileStatus, telegram bool, metrics *observability.Metrics) *SettingsHandler {
	return &SettingsHandler{cfg: cfg, profiles: profiles, telegram: telegram, metrics: metrics}
}

// Status GET /api/settings/status. Secrets are never echoed back.
func (h *SettingsHandler) Status(c *fiber.Ctx) error {
	providers := map[string]bool{"remnawave": false, "bedolaga": false}
	if h.profiles != nil {
		for name, ok := range h.profiles.Status() {
			providers[name] = ok
		}
	}
	support := h.cfg.Support
	return c.JSON(fiber.Map{
		"ok": true,
		"ai": fiber.Map{
			"enabled":    h.cfg.AI.Enabled,
			"configured": h.cfg.AI.Configured(),
			"provider":   h.cfg.AI.Provider,
			"model":      h.cfg.AI.Model,
			"keys":       len(h.cfg.AI.APIKeys),
		},
		"profiles": providers,
		"telegram": fiber.Map{
			"gateway":          h.telegram,
			"support_group":    h.cfg.Telegram.SupportGroupID != 0,
			"allowed_managers": len(h.cfg.Telegram.AllowedManagerIDs),
		},
		"support": fiber.Map{
			"service_name":      support.ServiceName,
			"main_bot_username": support.MainBotUsername,
			"retain_closed":     support.RetainClosedTickets,
			"prompt_override":   support.SystemPromptOverride != "",
			"tuning_file":       support.TuningFile != "",
		},
		"persistence": fiber.Map{
			"postgres": h.cfg.Postgres.DSN != "",
			"redis":    h.cfg.Redis.Addr != "",
		},
	})
}

// Metrics GET /api/metrics.
func (h *SettingsHandler) Metrics(c *fiber.Ctx) error {
	if h.metrics == nil {
		return c.JSON(fiber.Map{"ok": true, "metrics": observability.MetricsSnapshot{}})
	}
	return c.JSON(fiber.Map{"ok": true, "metrics": h.metrics.Snapshot()})
}
