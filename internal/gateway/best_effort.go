package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/reshala/support-desk/internal/domain"
)

// BestEffort bounds every platform call with a timeout and turns failures into
// log lines. Callers get (value, ok) and decide whether a failure matters.
type BestEffort struct {
	gw      Gateway
	timeout time.Duration
	logger  *zap.Logger
}

// NewBestEffort wraps a gateway.
func NewBestEffort(gw Gateway, timeout time.Duration, logger *zap.Logger) *BestEffort {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BestEffort{gw: gw, timeout: timeout, logger: logger.With(zap.String("component", "gateway"))}
}

// Gateway returns the wrapped gateway.
func (b *BestEffort) Gateway() Gateway { return b.gw }

// Attempt runs fn against the gateway with a bounded context.
func Attempt[T any](ctx context.Context, b *BestEffort, op string, fn func(context.Context, Gateway) (T, error), fields ...zap.Field) (T, bool) {
	var zero T
	if b == nil || b.gw == nil {
		return zero, false
	}
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	value, err := fn(callCtx, b.gw)
	if err != nil {
		b.logger.Warn("gateway call failed", append(fields, zap.String("op", op), zap.Error(err))...)
		return zero, false
	}
	return value, true
}

func (b *BestEffort) CreateTopic(ctx context.Context, chatID int64, name string) (domain.ThreadID, bool) {
	return Attempt(ctx, b, "create_topic", func(ctx context.Context, gw Gateway) (domain.ThreadID, error) {
		return gw.CreateTopic(ctx, chatID, name)
	}, zap.String("name", name))
}

func (b *BestEffort) RenameTopic(ctx context.Context, chatID int64, thread domain.ThreadID, name string) bool {
	_, ok := Attempt(ctx, b, "rename_topic", func(ctx context.Context, gw Gateway) (struct{}, error) {
		return struct{}{}, gw.RenameTopic(ctx, chatID, thread, name)
	}, zap.Int("thread_id", int(thread)))
	return ok
}

func (b *BestEffort) CloseTopic(ctx context.Context, chatID int64, thread domain.ThreadID) bool {
	_, ok := Attempt(ctx, b, "close_topic", func(ctx context.Context, gw Gateway) (struct{}, error) {
		return struct{}{}, gw.CloseTopic(ctx, chatID, thread)
	}, zap.Int("thread_id", int(thread)))
	return ok
}

func (b *BestEffort) Send(ctx context.Context, msg Outbound) (int, bool) {
	return Attempt(ctx, b, "send", func(ctx context.Context, gw Gateway) (int, error) {
		return gw.Send(ctx, msg)
	}, zap.Int64("chat_id", msg.ChatID), zap.Int("thread_id", int(msg.ThreadID)))
}

func (b *BestEffort) Pin(ctx context.Context, chatID int64, messageID int) bool {
	_, ok := Attempt(ctx, b, "pin", func(ctx context.Context, gw Gateway) (struct{}, error) {
		return struct{}{}, gw.Pin(ctx, chatID, messageID)
	})
	return ok
}

func (b *BestEffort) EditCard(ctx context.Context, chatID int64, messageID int, text string, keyboard Keyboard) bool {
	_, ok := Attempt(ctx, b, "edit_card", func(ctx context.Context, gw Gateway) (struct{}, error) {
		return struct{}{}, gw.EditCard(ctx, chatID, messageID, text, keyboard)
	})
	return ok
}

func (b *BestEffort) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) bool {
	_, ok := Attempt(ctx, b, "answer_callback", func(ctx context.Context, gw Gateway) (struct{}, error) {
		return struct{}{}, gw.AnswerCallback(ctx, callbackID, text, alert)
	})
	return ok
}
