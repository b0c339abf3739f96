package events

import (
	"time"

	"github.com/reshala/support-desk/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketOpened         EventType = "ticket_opened"
	EventTicketTopicAttached  EventType = "ticket_topic_attached"
	EventTicketStatusChanged  EventType = "ticket_status_changed"
	EventTicketProofReceived  EventType = "ticket_proof_received"
	EventTicketClientClosed   EventType = "ticket_client_closed"
	EventTicketClosed         EventType = "ticket_closed"
	EventTicketRemoved        EventType = "ticket_removed"
	EventTicketMessageAdded   EventType = "ticket_message_added"
	EventTicketAIToggled      EventType = "ticket_ai_toggled"
	EventTicketDeliveryFailed EventType = "ticket_delivery_failed"
)

// AllTicketEvents lists every ticket event type, for subscribers that audit everything.
var AllTicketEvents = []EventType{
	EventTicketOpened,
	EventTicketTopicAttached,
	EventTicketStatusChanged,
	EventTicketProofReceived,
	EventTicketClientClosed,
	EventTicketClosed,
	EventTicketRemoved,
	EventTicketMessageAdded,
	EventTicketAIToggled,
	EventTicketDeliveryFailed,
}

// Actor sources.
const (
	SourceAI      = "ai"
	SourceClient  = "client"
	SourceManager = "manager"
	SourceSystem  = "system"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Source    string `json:"source"`
	ManagerID *int64 `json:"manager_id,omitempty"`
	Name      string `json:"name,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string           `json:"id"`
	Type      EventType        `json:"type"`
	TicketID  domain.TicketID  `json:"ticket_id"`
	ClientID  domain.ClientID  `json:"client_id"`
	TopicID   *domain.ThreadID `json:"topic_id,omitempty"`
	Actor     Actor            `json:"actor"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   interface{}      `json:"payload"`
}

// TicketOpenedPayload payload.
type TicketOpenedPayload struct {
	Status     domain.TicketStatus `json:"status"`
	ClientName string              `json:"client_name"`
}

// TicketTopicAttachedPayload payload.
type TicketTopicAttachedPayload struct {
	Status    domain.TicketStatus `json:"status"`
	TopicName string              `json:"topic_name"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Reason    string              `json:"reason,omitempty"`
}

// TicketProofReceivedPayload payload.
type TicketProofReceivedPayload struct {
	AttachmentType domain.AttachmentType `json:"attachment_type"`
	Count          int                   `json:"count"`
}

// TicketClosedPayload payload.
type TicketClosedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	Retained  bool                `json:"retained"`
}

// TicketMessageAddedPayload payload.
type TicketMessageAddedPayload struct {
	Role        domain.HistoryRole `json:"role"`
	BodyPreview string             `json:"body_preview"`
	Delivered   bool               `json:"delivered"`
}

// TicketAIToggledPayload payload.
type TicketAIToggledPayload struct {
	Disabled bool `json:"disabled"`
}

// TicketDeliveryFailedPayload payload.
type TicketDeliveryFailedPayload struct {
	Operation string `json:"operation"`
	Error     string `json:"error"`
}
