package gateway

import (
	"context"
	"errors"

	"github.com/reshala/support-desk/internal/domain"
)

// ErrUnavailable is returned by gateways that cannot reach the platform.
var ErrUnavailable = errors.New("messaging platform unavailable")

// Button is one inline keyboard button. Exactly one of Data and URL is set.
type Button struct {
	Text string
	Data string
	URL  string
}

// Keyboard is an inline keyboard laid out in rows.
type Keyboard [][]Button

// Outbound is a message to deliver. A zero ThreadID means a direct message to ChatID.
type Outbound struct {
	ChatID   int64
	ThreadID domain.ThreadID
	Text     string
	Media    *domain.Media
	Keyboard Keyboard
	// Plain disables HTML parsing.
	Plain bool
}

// Gateway is the messaging platform as seen by the support desk.
type Gateway interface {
	CreateTopic(ctx context.Context, chatID int64, name string) (domain.ThreadID, error)
	RenameTopic(ctx context.Context, chatID int64, thread domain.ThreadID, name string) error
	CloseTopic(ctx context.Context, chatID int64, thread domain.ThreadID) error
	Send(ctx context.Context, msg Outbound) (int, error)
	Pin(ctx context.Context, chatID int64, messageID int) error
	EditCard(ctx context.Context, chatID int64, messageID int, text string, keyboard Keyboard) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}
