package domain

import "time"

// TicketAuditEntry is an immutable record of one lifecycle event. It outlives
// the ticket row, so it carries the client id itself.
type TicketAuditEntry struct {
	ID          int64
	TicketID    TicketID
	ClientID    ClientID
	EventType   string
	ActorSource string
	ActorName   string
	Payload     map[string]any
	CreatedAt   time.Time
}
