package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// TicketID is the store-assigned identifier of a ticket.
type TicketID string

// ClientID is the Telegram user id of a customer.
type ClientID int64

// ThreadID is a forum topic (message thread) id inside the support group.
type ThreadID int

func (id ClientID) String() string { return strconv.FormatInt(int64(id), 10) }

func (id ThreadID) String() string { return strconv.Itoa(int(id)) }

// RefKind tags which identifier a TicketRef carries.
type RefKind int

const (
	RefTicket RefKind = iota + 1
	RefThread
	RefClient
)

func (k RefKind) String() string {
	switch k {
	case RefTicket:
		return "ticket"
	case RefThread:
		return "thread"
	case RefClient:
		return "client"
	default:
		return "unknown"
	}
}

// TicketRef addresses a ticket by exactly one kind of identifier.
type TicketRef struct {
	Kind   RefKind
	Ticket TicketID
	Thread ThreadID
	Client ClientID
}

// ByTicket addresses a ticket by its durable id.
func ByTicket(id TicketID) TicketRef { return TicketRef{Kind: RefTicket, Ticket: id} }

// ByThread addresses the ticket owning a support-group topic.
func ByThread(id ThreadID) TicketRef { return TicketRef{Kind: RefThread, Thread: id} }

// ByClient addresses the active ticket of a client.
func ByClient(id ClientID) TicketRef { return TicketRef{Kind: RefClient, Client: id} }

// ErrInvalidRef is returned when a textual reference cannot be parsed.
var ErrInvalidRef = errors.New("invalid ticket reference")

// String renders the reference in the "kind:value" form accepted by ParseTicketRef.
func (r TicketRef) String() string {
	switch r.Kind {
	case RefTicket:
		return "ticket:" + string(r.Ticket)
	case RefThread:
		return "thread:" + r.Thread.String()
	case RefClient:
		return "client:" + r.Client.String()
	default:
		return ""
	}
}

// ParseTicketRef parses "ticket:<id>", "thread:<n>" or "client:<n>".
func ParseTicketRef(raw string) (TicketRef, error) {
	kind, value, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok || value == "" {
		return TicketRef{}, fmt.Errorf("%w: %q", ErrInvalidRef, raw)
	}
	switch kind {
	case "ticket":
		return ByTicket(TicketID(value)), nil
	case "thread":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return TicketRef{}, fmt.Errorf("%w: %q", ErrInvalidRef, raw)
		}
		return ByThread(ThreadID(n)), nil
	case "client":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n <= 0 {
			return TicketRef{}, fmt.Errorf("%w: %q", ErrInvalidRef, raw)
		}
		return ByClient(ClientID(n)), nil
	default:
		return TicketRef{}, fmt.Errorf("%w: %q", ErrInvalidRef, raw)
	}
}
