package dto

import (
	"time"

	"github.com/reshala/support-desk/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	ClientID       int64          `json:"client_id"`
	ClientName     string         `json:"client_name"`
	ClientUsername string         `json:"client_username"`
	IsSuspicious   bool           `json:"is_suspicious"`
	Reason         string         `json:"reason"`
	UserData       map[string]any `json:"user_data"`
}

// ReplyRequest is a manager reply typed into the Mini App.
type ReplyRequest struct {
	Message     string `json:"message"`
	ManagerName string `json:"manager_name"`
}

// ReasonRequest carries the optional reason of escalate and mark-suspicious.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// AttachmentRequest adds evidence to a ticket. URL is accepted as an alias of Value.
type AttachmentRequest struct {
	Type  domain.AttachmentType `json:"type"`
	Value string                `json:"value"`
	URL   string                `json:"url"`
}

// AIToggleRequest switches the auto-responder of a ticket.
type AIToggleRequest struct {
	Disabled *bool `json:"disabled"`
}

// TicketResponse is the serialized ticket.
type TicketResponse struct {
	ID             string               `json:"id"`
	ClientID       int64                `json:"client_id"`
	ClientName     string               `json:"client_name"`
	ClientUsername string               `json:"client_username,omitempty"`
	TopicID        *int                 `json:"topic_id"`
	Status         domain.TicketStatus  `json:"status"`
	Reason         *string              `json:"reason"`
	AIDisabled     bool                 `json:"ai_disabled"`
	IsRemoved      bool                 `json:"is_removed"`
	Attachments    []AttachmentResponse `json:"attachments"`
	History        []HistoryResponse    `json:"history"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	EscalatedAt    *time.Time           `json:"escalated_at"`
	ClosedAt       *time.Time           `json:"closed_at"`
	RemovedAt      *time.Time           `json:"removed_at,omitempty"`
}

// HistoryResponse is one transcript line.
type HistoryResponse struct {
	Role           domain.HistoryRole `json:"role"`
	Content        string             `json:"content"`
	AuthorName     string             `json:"author_name,omitempty"`
	SentToTelegram bool               `json:"sent_to_telegram"`
	CreatedAt      time.Time          `json:"created_at"`
}

// AttachmentResponse is one piece of evidence.
type AttachmentResponse struct {
	Type    domain.AttachmentType `json:"type"`
	Value   string                `json:"value"`
	AddedAt time.Time             `json:"added_at"`
}

// AuditEntryResponse is one lifecycle event of a ticket.
type AuditEntryResponse struct {
	EventType   string         `json:"event_type"`
	ActorSource string         `json:"actor_source"`
	ActorName   string         `json:"actor_name,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewTicketResponse serializes a ticket. Lists carry no transcript, so History stays empty there.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	resp := TicketResponse{
		ID:             string(t.ID),
		ClientID:       int64(t.ClientID),
		ClientName:     t.ClientName,
		ClientUsername: t.ClientUsername,
		Status:         t.Status,
		Reason:         t.Reason,
		AIDisabled:     t.AIDisabled,
		IsRemoved:      t.IsRemoved,
		Attachments:    make([]AttachmentResponse, 0, len(t.Attachments)),
		History:        make([]HistoryResponse, 0, len(t.History)),
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
		EscalatedAt:    t.EscalatedAt,
		ClosedAt:       t.ClosedAt,
		RemovedAt:      t.RemovedAt,
	}
	if t.HasTopic() {
		topic := int(*t.TopicID)
		resp.TopicID = &topic
	}
	for _, a := range t.Attachments {
		resp.Attachments = append(resp.Attachments, AttachmentResponse{Type: a.Type, Value: a.Value, AddedAt: a.AddedAt})
	}
	for _, h := range t.History {
		resp.History = append(resp.History, HistoryResponse{
			Role:           h.Role,
			Content:        h.Content,
			AuthorName:     h.AuthorName,
			SentToTelegram: h.SentToTelegram,
			CreatedAt:      h.CreatedAt,
		})
	}
	return resp
}

// NewTicketList serializes a queue.
func NewTicketList(tickets []domain.Ticket) []TicketResponse {
	items := make([]TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, NewTicketResponse(&tickets[i]))
	}
	return items
}

// NewAuditList serializes an audit trail.
func NewAuditList(entries []domain.TicketAuditEntry) []AuditEntryResponse {
	items := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, AuditEntryResponse{
			EventType:   e.EventType,
			ActorSource: e.ActorSource,
			ActorName:   e.ActorName,
			Payload:     e.Payload,
			CreatedAt:   e.CreatedAt,
		})
	}
	return items
}
