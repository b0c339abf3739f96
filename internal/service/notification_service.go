package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/reshala/support-desk/internal/domain"
	"github.com/reshala/support-desk/internal/events"
	"github.com/reshala/support-desk/internal/observability"
	"github.com/reshala/support-desk/internal/repository"
)

// NotificationService turns lifecycle events into audit rows, counters and log lines.
type NotificationService struct {
	dispatcher events.Dispatcher
	audit      repository.TicketAuditRepository
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, audit repository.TicketAuditRepository, metrics *observability.Metrics, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		audit:      audit,
		metrics:    metrics,
		logger:     logger.With(zap.String("component", "notifications")),
	}
}

// RegisterHandlers subscribes to every ticket event.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, eventType := range events.AllTicketEvents {
		n.dispatcher.Subscribe(eventType, n.handle)
	}
}

func (n *NotificationService) handle(ctx context.Context, event events.Event) error {
	n.metrics.RecordTransition(string(event.Type))

	fields := []zap.Field{
		zap.String("event_type", string(event.Type)),
		zap.String("ticket_id", string(event.TicketID)),
		zap.Int64("client_id", int64(event.ClientID)),
		zap.String("actor", event.Actor.Source),
	}
	if event.Type == events.EventTicketDeliveryFailed {
		n.logger.Warn("ticket delivery failed", append(fields, zap.Any("payload", event.Payload))...)
	} else {
		n.logger.Info("ticket event", fields...)
	}

	if n.audit == nil {
		return nil
	}
	entry := &domain.TicketAuditEntry{
		TicketID:    event.TicketID,
		ClientID:    event.ClientID,
		EventType:   string(event.Type),
		ActorSource: event.Actor.Source,
		ActorName:   event.Actor.Name,
		Payload:     payloadMap(event),
	}
	if err := n.audit.Create(ctx, entry); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// payloadMap flattens an event payload into the JSON object stored with the audit row.
func payloadMap(event events.Event) map[string]any {
	out := map[string]any{}
	if event.Payload != nil {
		if raw, err := json.Marshal(event.Payload); err == nil {
			_ = json.Unmarshal(raw, &out)
		}
	}
	if event.TopicID != nil {
		out["topic_id"] = int(*event.TopicID)
	}
	if event.Actor.ManagerID != nil {
		out["manager_id"] = *event.Actor.ManagerID
	}
	return out
}
