package service

import (
	"errors"
	"net/http"

	"github.com/reshala/support-desk/pkg/errorutil"
)

var (
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrStatusConflict    = errors.New("ticket status changed concurrently")
	ErrInvalidTransition = errors.New("transition not allowed from current status")
	ErrDeliveryFailed    = errors.New("message saved but not delivered")
	ErrClientRequired    = errors.New("client id is required")
	ErrMessageRequired   = errors.New("message is required")
)

// Error codes reported to API clients.
const (
	CodeTicketNotFound      = "ticket_not_found"
	CodeStatusConflict      = "status_conflict"
	CodeInvalidTransition   = "invalid_transition"
	CodeTelegramUnavailable = "telegram_unavailable"
	CodeClientIDRequired    = "client_id_required"
	CodeMessageRequired     = "message_required"
)

// MapError turns service sentinels into DomainErrors with stable codes.
// Unknown errors pass through unchanged.
func MapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTicketNotFound):
		return errorutil.NewFailure(CodeTicketNotFound, "ticket not found", nil, err)
	case errors.Is(err, ErrStatusConflict):
		return errorutil.NewFailure(CodeStatusConflict, "ticket status changed concurrently", nil, err)
	case errors.Is(err, ErrInvalidTransition):
		return errorutil.NewFailure(CodeInvalidTransition, "transition not allowed", nil, err)
	case errors.Is(err, ErrDeliveryFailed):
		return errorutil.NewFailure(CodeTelegramUnavailable, "message saved but not delivered", map[string]any{"saved": true}, err)
	case errors.Is(err, ErrClientRequired):
		return &errorutil.DomainError{Code: CodeClientIDRequired, Message: "client_id is required", HTTPStatus: http.StatusBadRequest, Err: err}
	case errors.Is(err, ErrInvalidCredentials):
		return &errorutil.DomainError{Code: errorutil.CodeUnauthorized, Message: "invalid credentials", HTTPStatus: http.StatusUnauthorized, Err: err}
	case errors.Is(err, ErrForbiddenManager):
		return &errorutil.DomainError{Code: errorutil.CodeForbidden, Message: "not an allowed manager", HTTPStatus: http.StatusForbidden, Err: err}
	case errors.Is(err, ErrMessageRequired):
		return &errorutil.DomainError{Code: CodeMessageRequired, Message: "message is required", HTTPStatus: http.StatusBadRequest, Err: err}
	default:
		return err
	}
}
