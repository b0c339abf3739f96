package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/reshala/support-desk/internal/domain"
)

// Client-side callback payloads.
const (
	CallbackAskCallManager = "ask_call_manager"
	CallbackAskCloseTicket = "ask_close_ticket"
	CallbackCallManager    = "call_manager"
	CallbackClientClose    = "client_close_ticket"
	CallbackCancelClient   = "cancel_client_action"
	CallbackCheckBalance   = "check_balance"
)

// Ticket operations carried by "tk:<op>:<ref>" callbacks.
const (
	TicketOpClose  = "close"
	TicketOpRemove = "remove"
)

// ErrUnknownCallback is returned for payloads no handler understands.
var ErrUnknownCallback = errors.New("unknown callback data")

// CallbackKind tags a parsed callback payload.
type CallbackKind int

const (
	CallbackClient CallbackKind = iota + 1
	CallbackSection
	CallbackAction
	CallbackTicket
)

// Callback is a decoded inline button payload.
type Callback struct {
	Kind     CallbackKind
	Name     string
	Client   domain.ClientID
	Section  CardSection
	Action   CardAction
	TicketOp string
	Ref      domain.TicketRef
}

// IsManager reports whether the callback belongs to the support-group card.
func (c Callback) IsManager() bool {
	return c.Kind == CallbackSection || c.Kind == CallbackAction || c.Kind == CallbackTicket
}

// SectionCallback encodes card navigation.
func SectionCallback(client domain.ClientID, section CardSection) string {
	return fmt.Sprintf("sup:%d:%s", client, section)
}

// ActionCallback encodes a card action.
func ActionCallback(client domain.ClientID, action CardAction) string {
	return fmt.Sprintf("sup_act:%d:%s", client, action)
}

// TicketCallback encodes a ticket operation. The reference always names its kind.
func TicketCallback(op string, ref domain.TicketRef) string {
	return "tk:" + op + ":" + ref.String()
}

// ParseCallback decodes any payload produced by this package.
func ParseCallback(data string) (Callback, error) {
	switch data {
	case CallbackAskCallManager, CallbackAskCloseTicket, CallbackCallManager,
		CallbackClientClose, CallbackCancelClient, CallbackCheckBalance:
		return Callback{Kind: CallbackClient, Name: data}, nil
	}

	prefix, rest, ok := strings.Cut(data, ":")
	if !ok {
		return Callback{}, fmt.Errorf("%w: %q", ErrUnknownCallback, data)
	}
	switch prefix {
	case "sup", "sup_act":
		rawClient, value, ok := strings.Cut(rest, ":")
		if !ok || value == "" {
			return Callback{}, fmt.Errorf("%w: %q", ErrUnknownCallback, data)
		}
		id, err := strconv.ParseInt(rawClient, 10, 64)
		if err != nil || id <= 0 {
			return Callback{}, fmt.Errorf("%w: %q", ErrUnknownCallback, data)
		}
		if prefix == "sup" {
			section := CardSection(value)
			if !section.Valid() {
				return Callback{}, fmt.Errorf("%w: %q", ErrUnknownCallback, data)
			}
			return Callback{Kind: CallbackSection, Name: prefix, Client: domain.ClientID(id), Section: section}, nil
		}
		action := CardAction(value)
		if !action.Valid() {
			return Callback{}, fmt.Errorf("%w: %q", ErrUnknownCallback, data)
		}
		return Callback{Kind: CallbackAction, Name: prefix, Client: domain.ClientID(id), Action: action}, nil
	case "tk":
		op, rawRef, ok := strings.Cut(rest, ":")
		if !ok || (op != TicketOpClose && op != TicketOpRemove) {
			return Callback{}, fmt.Errorf("%w: %q", ErrUnknownCallback, data)
		}
		ref, err := domain.ParseTicketRef(rawRef)
		if err != nil {
			return Callback{}, err
		}
		return Callback{Kind: CallbackTicket, Name: prefix, TicketOp: op, Ref: ref}, nil
	default:
		return Callback{}, fmt.Errorf("%w: %q", ErrUnknownCallback, data)
	}
}
