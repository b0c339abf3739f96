package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusEscalated  TicketStatus = "escalated"
	TicketStatusSuspicious TicketStatus = "suspicious"
	TicketStatusClosed     TicketStatus = "closed"
)

// ActiveStatuses lists the statuses that count as an active conversation.
var ActiveStatuses = []TicketStatus{TicketStatusOpen, TicketStatusEscalated, TicketStatusSuspicious}

// IsActive reports whether the status is non-terminal.
func (s TicketStatus) IsActive() bool {
	return s == TicketStatusOpen || s == TicketStatusEscalated || s == TicketStatusSuspicious
}

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	return s.IsActive() || s == TicketStatusClosed
}

// AttachmentType classifies client-supplied evidence.
type AttachmentType string

const (
	AttachmentPhoto            AttachmentType = "photo"
	AttachmentSubscriptionLink AttachmentType = "subscription_link"
	AttachmentDocument         AttachmentType = "document"
)

// Attachment is a piece of evidence stored with a ticket.
type Attachment struct {
	Type    AttachmentType
	Value   string
	AddedAt time.Time
}

// HistoryRole names the author of a transcript entry.
type HistoryRole string

const (
	RoleUser    HistoryRole = "user"
	RoleAI      HistoryRole = "ai"
	RoleManager HistoryRole = "manager"
)

// HistoryEntry is one line of the ticket transcript.
type HistoryEntry struct {
	Role           HistoryRole
	Content        string
	AuthorName     string
	SentToTelegram bool
	CreatedAt      time.Time
}

// Ticket is the aggregate for one support conversation.
type Ticket struct {
	ID             TicketID
	ClientID       ClientID
	ClientName     string
	ClientUsername string
	TopicID        *ThreadID
	Status         TicketStatus
	Reason         *string
	AIDisabled     bool
	IsRemoved      bool
	Attachments    []Attachment
	History        []HistoryEntry
	CreatedAt      time.Time
	UpdatedAt      time.Time
	EscalatedAt    *time.Time
	ClosedAt       *time.Time
	RemovedAt      *time.Time
}

// DisplayName returns the name used in topic titles.
func (t *Ticket) DisplayName() string {
	if t.ClientUsername != "" {
		return t.ClientUsername
	}
	return t.ClientName
}

// HasTopic reports whether a forum topic has been attached.
func (t *Ticket) HasTopic() bool {
	return t.TopicID != nil && *t.TopicID != 0
}

// Tombstone is the audit record left behind when a ticket is deleted on close.
type Tombstone struct {
	TicketID TicketID
	ClientID ClientID
	TopicID  *ThreadID
	ClosedBy string
	ClosedAt time.Time
}
