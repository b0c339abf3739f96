package gateway

import (
	"context"

	"go.uber.org/zap"

	"github.com/reshala/support-desk/internal/domain"
)

// Noop is used by the API process when no bot token is configured. Every call
// fails with ErrUnavailable.
type Noop struct {
	logger *zap.Logger
}

// NewNoop creates the gateway.
func NewNoop(logger *zap.Logger) *Noop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Noop{logger: logger}
}

func (n *Noop) warn(op string) error {
	n.logger.Warn("telegram gateway disabled", zap.String("op", op))
	return ErrUnavailable
}

func (n *Noop) CreateTopic(context.Context, int64, string) (domain.ThreadID, error) {
	return 0, n.warn("create_topic")
}

func (n *Noop) RenameTopic(context.Context, int64, domain.ThreadID, string) error {
	return n.warn("rename_topic")
}

func (n *Noop) CloseTopic(context.Context, int64, domain.ThreadID) error {
	return n.warn("close_topic")
}

func (n *Noop) Send(context.Context, Outbound) (int, error) {
	return 0, n.warn("send")
}

func (n *Noop) Pin(context.Context, int64, int) error {
	return n.warn("pin")
}

func (n *Noop) EditCard(context.Context, int64, int, string, Keyboard) error {
	return n.warn("edit_card")
}

func (n *Noop) AnswerCallback(context.Context, string, string, bool) error {
	return n.warn("answer_callback")
}
