package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reshala/support-desk/internal/directory"
	"github.com/reshala/support-desk/internal/domain"
	"github.com/reshala/support-desk/internal/events"
	"github.com/reshala/support-desk/internal/gateway"
	"github.com/reshala/support-desk/internal/profile"
	"github.com/reshala/support-desk/internal/repository"
	"github.com/reshala/support-desk/pkg/syncutil"
)

// ProfileLookup resolves the panel and billing snapshot of a client.
type ProfileLookup interface {
	Lookup(ctx context.Context, clientID domain.ClientID) profile.Snapshot
}

// TicketService is the ticket lifecycle engine. Every status change is a
// conditional store update; platform side effects follow and never undo it.
type TicketService struct {
	tickets      repository.TicketRepository
	messages     repository.TicketMessageRepository
	attachments  repository.AttachmentRepository
	audit        repository.TicketAuditRepository
	directory    *directory.Directory
	profiles     ProfileLookup
	gateway      *gateway.BestEffort
	dispatcher   events.Dispatcher
	supportChat  int64
	retainClosed bool
	topicLocks   *syncutil.KeyedMutex[domain.ClientID]
	logger       *zap.Logger
	now          func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo     repository.TicketRepository
	MessageRepo    repository.TicketMessageRepository
	AttachmentRepo repository.AttachmentRepository
	AuditRepo      repository.TicketAuditRepository
	Directory      *directory.Directory
	Profiles       ProfileLookup
	Gateway        *gateway.BestEffort
	Dispatcher     events.Dispatcher
	SupportChatID  int64
	RetainClosed   bool
	Logger         *zap.Logger
	Now            func() time.Time
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	dir := deps.Directory
	if dir == nil {
		dir = directory.New(deps.SupportChatID)
	}
	return &TicketService{
		tickets:      deps.TicketRepo,
		messages:     deps.MessageRepo,
		attachments:  deps.AttachmentRepo,
		audit:        deps.AuditRepo,
		directory:    dir,
		profiles:     deps.Profiles,
		gateway:      deps.Gateway,
		dispatcher:   deps.Dispatcher,
		supportChat:  deps.SupportChatID,
		retainClosed: deps.RetainClosed,
		topicLocks:   syncutil.NewKeyedMutex[domain.ClientID](),
		logger:       logger.With(zap.String("component", "ticket_service")),
		now:          now,
	}
}

// Directory exposes the routing table the service keeps current.
func (s *TicketService) Directory() *directory.Directory { return s.directory }

// SupportChatID returns the configured support group.
func (s *TicketService) SupportChatID() int64 { return s.supportChat }

// ClientContact identifies the client behind a private chat.
type ClientContact struct {
	ID        domain.ClientID
	Username  string
	FirstName string
}

func (c ClientContact) displayName() string {
	return domain.Sender{ID: int64(c.ID), Username: c.Username, FirstName: c.FirstName}.DisplayName()
}

// EscalationInput describes who escalates and why.
type EscalationInput struct {
	Source  string
	Name    string
	Reason  string
	AIReply string
}

// CloserKind distinguishes who closes a ticket.
type CloserKind string

const (
	CloserManager CloserKind = "manager"
	CloserClient  CloserKind = "client"
)

// Closer describes who closes a ticket.
type Closer struct {
	Kind CloserKind
	Name string
}

// CloseResult reports what Close did.
type CloseResult struct {
	Ticket        *domain.Ticket
	AlreadyClosed bool
	Retained      bool
	// KeptForReview is set when a client closed a suspicious ticket: the ticket stays open for managers.
	KeptForReview bool
}

// ProofResult reports the outcome of RecordProof.
type ProofResult struct {
	Count    int
	Notified bool
}

// ManagerReply is a reply typed into the Mini App.
type ManagerReply struct {
	Name string
	Text string
}

// ListKind names the ticket queues.
type ListKind string

const (
	ListActive     ListKind = "active"
	ListEscalated  ListKind = "escalated"
	ListSuspicious ListKind = "suspicious"
)

// CreateInput describes a ticket opened through the HTTP API.
type CreateInput struct {
	ClientID       domain.ClientID
	ClientName     string
	ClientUsername string
	IsSuspicious   bool
	Reason         string
	UserData       map[string]any
}

// EnsureTicket returns the active ticket of a client, creating it on first contact.
// A ticket without a topic gets one here, so a failed topic creation heals on the next message.
func (s *TicketService) EnsureTicket(ctx context.Context, contact ClientContact) (*domain.Ticket, bool, error) {
	if contact.ID == 0 {
		return nil, false, ErrClientRequired
	}

	ticket, err := s.activeTicket(ctx, contact.ID)
	if err != nil && !errors.Is(err, ErrTicketNotFound) {
		return nil, false, err
	}
	if ticket != nil {
		ticket = s.ensureTopic(ctx, ticket, nil)
		return ticket, false, nil
	}

	snap := s.lookup(ctx, contact.ID)
	status := domain.TicketStatusOpen
	if snap.Suspicious() {
		status = domain.TicketStatusSuspicious
	}
	ticket = &domain.Ticket{
		ID:             domain.TicketID(uuid.NewString()),
		ClientID:       contact.ID,
		ClientName:     contact.displayName(),
		ClientUsername: contact.Username,
		Status:         status,
	}
	if status == domain.TicketStatusSuspicious {
		reason := "user_not_found"
		ticket.Reason = &reason
	}

	ticket, created, err := s.insert(ctx, ticket)
	if err != nil {
		return nil, false, err
	}
	s.directory.SetSnapshot(contact.ID, snap)
	if created {
		s.publishEvent(ctx, events.Event{
			Type:     events.EventTicketOpened,
			TicketID: ticket.ID,
			ClientID: ticket.ClientID,
			Actor:    events.Actor{Source: events.SourceClient, Name: ticket.ClientName},
			Payload:  events.TicketOpenedPayload{Status: ticket.Status, ClientName: ticket.ClientName},
		})
	}
	ticket = s.ensureTopic(ctx, ticket, &snap)
	return ticket, created, nil
}

// Create opens a ticket through the HTTP API, returning an existing active ticket unchanged.
func (s *TicketService) Create(ctx context.Context, input CreateInput) (*domain.Ticket, bool, error) {
	if input.ClientID <= 0 {
		return nil, false, ErrClientRequired
	}
	if existing, err := s.tickets.FindActiveByClient(ctx, input.ClientID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("find active ticket: %w", err)
	}

	status := domain.TicketStatusOpen
	if input.IsSuspicious || len(input.UserData) == 0 {
		status = domain.TicketStatusSuspicious
	}
	name := strings.TrimSpace(input.ClientName)
	if name == "" {
		name = strings.TrimPrefix(input.ClientUsername, "@")
	}
	if name == "" {
		name = input.ClientID.String()
	}
	ticket := &domain.Ticket{
		ID:             domain.TicketID(uuid.NewString()),
		ClientID:       input.ClientID,
		ClientName:     name,
		ClientUsername: strings.TrimPrefix(input.ClientUsername, "@"),
		Status:         status,
	}
	if reason := strings.TrimSpace(input.Reason); reason != "" {
		ticket.Reason = &reason
	}

	ticket, created, err := s.insert(ctx, ticket)
	if err != nil || !created {
		return ticket, false, err
	}
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketOpened,
		TicketID: ticket.ID,
		ClientID: ticket.ClientID,
		Actor:    events.Actor{Source: events.SourceManager},
		Payload:  events.TicketOpenedPayload{Status: ticket.Status, ClientName: ticket.ClientName},
	})
	ticket = s.ensureTopic(ctx, ticket, nil)
	return ticket, true, nil
}

// insert stores a new ticket; losing a concurrent create adopts the winner.
func (s *TicketService) insert(ctx context.Context, ticket *domain.Ticket) (*domain.Ticket, bool, error) {
	err := s.tickets.Create(ctx, ticket)
	if err == nil {
		return ticket, true, nil
	}
	if !errors.Is(err, repository.ErrActiveTicketExists) {
		return nil, false, fmt.Errorf("create ticket: %w", err)
	}
	existing, findErr := s.tickets.FindActiveByClient(ctx, ticket.ClientID)
	if findErr != nil {
		return nil, false, fmt.Errorf("adopt active ticket: %w", findErr)
	}
	s.logger.Info("adopted concurrently created ticket",
		zap.Int64("client_id", int64(ticket.ClientID)),
		zap.String("ticket_id", string(existing.ID)))
	return existing, false, nil
}

// ensureTopic creates the forum topic and card of a ticket that has none.
func (s *TicketService) ensureTopic(ctx context.Context, ticket *domain.Ticket, snap *profile.Snapshot) *domain.Ticket {
	if ticket.HasTopic() || s.supportChat == 0 {
		return ticket
	}
	unlock := s.topicLocks.Lock(ticket.ClientID)
	defer unlock()

	fresh, err := s.tickets.GetByID(ctx, ticket.ID)
	if err != nil {
		return ticket
	}
	if fresh.HasTopic() || !fresh.Status.IsActive() || fresh.IsRemoved {
		return fresh
	}
	ticket = fresh

	name := TopicName(ticket.DisplayName(), ticket.Status)
	thread, ok := s.gateway.CreateTopic(ctx, s.supportChat, name)
	if !ok {
		s.deliveryFailed(ctx, ticket, "create_topic", "topic not created")
		return ticket
	}
	if err := s.tickets.SetTopic(ctx, ticket.ID, thread); err != nil {
		s.logger.Error("attach topic", zap.String("ticket_id", string(ticket.ID)), zap.Error(err))
		return ticket
	}
	ticket.TopicID = &thread

	if snap == nil {
		looked := s.lookup(ctx, ticket.ClientID)
		snap = &looked
		s.directory.SetSnapshot(ticket.ClientID, looked)
	}
	view := CardView{Client: ticket.ClientID, ClientName: ticket.DisplayName(), Ticket: ticket, Snapshot: *snap, Section: SectionProfile, Now: s.now()}
	if msgID, ok := s.gateway.Send(ctx, gateway.Outbound{
		ChatID:   s.supportChat,
		ThreadID: thread,
		Text:     RenderCard(view),
		Keyboard: CardKeyboard(view),
	}); ok {
		s.gateway.Pin(ctx, s.supportChat, msgID)
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketTopicAttached,
		TicketID: ticket.ID,
		ClientID: ticket.ClientID,
		TopicID:  &thread,
		Actor:    events.Actor{Source: events.SourceSystem},
		Payload:  events.TicketTopicAttachedPayload{Status: ticket.Status, TopicName: name},
	})
	return ticket
}

// Escalate hands a ticket to managers.
func (s *TicketService) Escalate(ctx context.Context, ref domain.TicketRef, input EscalationInput) (*domain.Ticket, error) {
	ticket, err := s.ResolveRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if ticket.IsRemoved {
		return nil, ErrInvalidTransition
	}

	switch ticket.Status {
	case domain.TicketStatusEscalated:
		return ticket, nil
	case domain.TicketStatusClosed:
		return nil, ErrInvalidTransition
	case domain.TicketStatusSuspicious:
		if input.Source != events.SourceManager {
			return s.flagSuspiciousHandOff(ctx, ticket, input)
		}
	}

	reason := escalationReason(input)
	from := ticket.Status
	updated, err := s.tickets.UpdateStatus(ctx, ticket.ID, repository.StatusUpdate{
		From:           []domain.TicketStatus{from},
		To:             domain.TicketStatusEscalated,
		Reason:         &reason,
		DisableAI:      true,
		StampEscalated: true,
	})
	if err != nil {
		if errors.Is(err, repository.ErrStatusMismatch) && updated != nil && updated.Status == domain.TicketStatusEscalated && !updated.IsRemoved {
			return updated, nil
		}
		return nil, s.transitionError(ticket, err)
	}

	s.renameTopic(ctx, updated)
	s.postNotice(ctx, updated, escalationNotice(updated, input))
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: updated.ID,
		ClientID: updated.ClientID,
		TopicID:  updated.TopicID,
		Actor:    events.Actor{Source: input.Source, Name: input.Name},
		Payload:  events.TicketStatusChangedPayload{OldStatus: from, NewStatus: updated.Status, Reason: reason},
	})
	return updated, nil
}

// flagSuspiciousHandOff stops the AI on a suspicious ticket without changing its status.
func (s *TicketService) flagSuspiciousHandOff(ctx context.Context, ticket *domain.Ticket, input EscalationInput) (*domain.Ticket, error) {
	if err := s.tickets.SetAIDisabled(ctx, ticket.ID, true); err != nil {
		return nil, s.storeError("disable ai", err)
	}
	ticket.AIDisabled = true
	s.postNotice(ctx, ticket, escalationNotice(ticket, input))
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketAIToggled,
		TicketID: ticket.ID,
		ClientID: ticket.ClientID,
		TopicID:  ticket.TopicID,
		Actor:    events.Actor{Source: input.Source, Name: input.Name},
		Payload:  events.TicketAIToggledPayload{Disabled: true},
	})
	return ticket, nil
}

func escalationReason(input EscalationInput) string {
	if r := strings.TrimSpace(input.Reason); r != "" {
		return r
	}
	switch input.Source {
	case events.SourceAI:
		return "ai_escalation"
	case events.SourceClient:
		return "client_request"
	default:
		return "manager_escalation"
	}
}

func escalationNotice(ticket *domain.Ticket, input EscalationInput) string {
	user := html.EscapeString(strings.TrimPrefix(ticket.DisplayName(), "@"))
	excerpt := html.EscapeString(truncateRunes(strings.TrimSpace(input.AIReply), 300))
	suspicious := ticket.Status == domain.TicketStatusSuspicious

	switch input.Source {
	case events.SourceAI:
		if suspicious {
			return "⚠️ <b>AI не смог ответить подозрительному пользователю</b>\nAI: " + excerpt
		}
		return "🔥 <b>Эскалация</b>: AI не смог ответить.\nAI: " + excerpt
	case events.SourceClient:
		if suspicious {
			return "⚠️ <b>Подозрительный клиент @" + user + " вызывает менеджера!</b>"
		}
		return "🔥 <b>Клиент @" + user + " вызывает менеджера!</b>"
	default:
		notice := "🔥 <b>Тикет эскалирован</b>"
		if input.Name != "" {
			notice += " (" + html.EscapeString(input.Name) + ")"
		}
		if r := strings.TrimSpace(input.Reason); r != "" {
			notice += "\nПричина: " + html.EscapeString(r)
		}
		return notice
	}
}

// MarkSuspicious flags a ticket for manual verification.
func (s *TicketService) MarkSuspicious(ctx context.Context, ref domain.TicketRef, reason string, actor events.Actor) (*domain.Ticket, error) {
	ticket, err := s.ResolveRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if ticket.Status == domain.TicketStatusSuspicious && !ticket.IsRemoved {
		return ticket, nil
	}
	if ticket.Status == domain.TicketStatusClosed || ticket.IsRemoved {
		return nil, ErrInvalidTransition
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "manual_review"
	}
	from := ticket.Status
	updated, err := s.tickets.UpdateStatus(ctx, ticket.ID, repository.StatusUpdate{
		From:           []domain.TicketStatus{domain.TicketStatusOpen, domain.TicketStatusEscalated},
		To:             domain.TicketStatusSuspicious,
		Reason:         &reason,
		StampEscalated: true,
	})
	if err != nil {
		if errors.Is(err, repository.ErrStatusMismatch) && updated != nil && updated.Status == domain.TicketStatusSuspicious && !updated.IsRemoved {
			return updated, nil
		}
		return nil, s.transitionError(ticket, err)
	}

	s.renameTopic(ctx, updated)
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: updated.ID,
		ClientID: updated.ClientID,
		TopicID:  updated.TopicID,
		Actor:    actor,
		Payload:  events.TicketStatusChangedPayload{OldStatus: from, NewStatus: updated.Status, Reason: reason},
	})
	return updated, nil
}

// RecordProof stores client evidence. The first piece on a suspicious ticket alerts managers once.
func (s *TicketService) RecordProof(ctx context.Context, ref domain.TicketRef, attachment domain.Attachment) (ProofResult, error) {
	ticket, err := s.ResolveRef(ctx, ref)
	if err != nil {
		return ProofResult{}, err
	}
	suspicious := ticket.Status == domain.TicketStatusSuspicious && !ticket.IsRemoved
	if entry, ok := s.directory.ResolveTopic(ticket.ClientID); suspicious && (!ok || entry.Ticket != ticket.ID) {
		s.remember(ctx, ticket)
	}
	count, err := s.attachments.Append(ctx, ticket.ID, &attachment)
	if err != nil {
		return ProofResult{}, s.storeError("append attachment", err)
	}
	result := ProofResult{Count: count}

	if attachment.Type == domain.AttachmentSubscriptionLink {
		s.postNotice(ctx, ticket, "📎 <b>Получена ссылка:</b>\n<code>"+html.EscapeString(attachment.Value)+"</code>")
	}
	if !suspicious || !s.directory.MarkProof(ticket.ClientID) {
		return result, nil
	}

	result.Notified = true
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketProofReceived,
		TicketID: ticket.ID,
		ClientID: ticket.ClientID,
		TopicID:  ticket.TopicID,
		Actor:    events.Actor{Source: events.SourceClient, Name: ticket.ClientName},
		Payload:  events.TicketProofReceivedPayload{AttachmentType: attachment.Type, Count: count},
	})
	s.renameTopic(ctx, ticket)
	if attachment.Type == domain.AttachmentPhoto {
		s.postNotice(ctx, ticket, "📷 <b>Получен скриншот от подозрительного пользователя</b>")
	}
	user := html.EscapeString(strings.TrimPrefix(ticket.DisplayName(), "@"))
	s.postNotice(ctx, ticket, "🚨 <b>ВНИМАНИЕ!</b> Пользователь @"+user+" не найден, но предоставил данные. Требуется проверка.")
	return result, nil
}

// AddAttachment stores evidence supplied through the API without any notification.
func (s *TicketService) AddAttachment(ctx context.Context, ref domain.TicketRef, attachment domain.Attachment) (int, error) {
	ticket, err := s.ResolveRef(ctx, ref)
	if err != nil {
		return 0, err
	}
	count, err := s.attachments.Append(ctx, ticket.ID, &attachment)
	if err != nil {
		return 0, s.storeError("append attachment", err)
	}
	return count, nil
}

// Close ends a ticket. A client closing a suspicious ticket only stamps closed_at
// and leaves it for review; every other close finishes the ticket.
func (s *TicketService) Close(ctx context.Context, ref domain.TicketRef, closer Closer) (CloseResult, error) {
	ticket, err := s.ResolveRef(ctx, ref)
	if errors.Is(err, ErrTicketNotFound) && ref.Kind == domain.RefTicket && s.tombstoned(ctx, ref.Ticket) {
		return CloseResult{AlreadyClosed: true}, nil
	}
	if err != nil {
		return CloseResult{}, err
	}
	if ticket.Status == domain.TicketStatusClosed || ticket.IsRemoved {
		return CloseResult{Ticket: ticket, AlreadyClosed: true}, nil
	}

	if closer.Kind == CloserClient && ticket.Status == domain.TicketStatusSuspicious {
		return s.closeForReview(ctx, ticket)
	}

	from := ticket.Status
	result := CloseResult{Ticket: ticket, Retained: s.retainClosed}
	if s.retainClosed {
		updated, err := s.tickets.UpdateStatus(ctx, ticket.ID, repository.StatusUpdate{
			From:        []domain.TicketStatus{from},
			To:          domain.TicketStatusClosed,
			StampClosed: true,
		})
		if err != nil {
			if errors.Is(err, repository.ErrStatusMismatch) && updated != nil && updated.Status == domain.TicketStatusClosed {
				return CloseResult{Ticket: updated, AlreadyClosed: true}, nil
			}
			return CloseResult{}, s.transitionError(ticket, err)
		}
		result.Ticket = updated
	} else {
		if _, err := s.tickets.DeleteWithTombstone(ctx, ticket.ID, []domain.TicketStatus{from}, string(closer.Kind)); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return CloseResult{AlreadyClosed: true}, nil
			}
			return CloseResult{}, s.transitionError(ticket, err)
		}
		closed := *ticket
		closed.Status = domain.TicketStatusClosed
		now := s.now()
		closed.ClosedAt = &now
		result.Ticket = &closed
	}

	if ticket.HasTopic() {
		s.gateway.RenameTopic(ctx, s.supportChat, *ticket.TopicID, TopicName(ticket.DisplayName(), domain.TicketStatusClosed))
		s.gateway.CloseTopic(ctx, s.supportChat, *ticket.TopicID)
	}
	if closer.Kind == CloserClient {
		s.postNotice(ctx, ticket, "✅ Тикет закрыт клиентом.")
	} else {
		notice := "✅ Тикет закрыт менеджером."
		if closer.Name != "" {
			notice = "✅ Тикет закрыт менеджером " + html.EscapeString(closer.Name) + "."
		}
		s.postNotice(ctx, ticket, notice)
		s.gateway.Send(ctx, gateway.Outbound{
			ChatID: int64(ticket.ClientID),
			Text:   "✅ Ваш тикет закрыт. Если появятся вопросы — просто напишите сюда.",
		})
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketClosed,
		TicketID: ticket.ID,
		ClientID: ticket.ClientID,
		TopicID:  ticket.TopicID,
		Actor:    events.Actor{Source: string(closer.Kind), Name: closer.Name},
		Payload:  events.TicketClosedPayload{OldStatus: from, Retained: s.retainClosed},
	})
	return result, nil
}

func (s *TicketService) closeForReview(ctx context.Context, ticket *domain.Ticket) (CloseResult, error) {
	if ticket.ClosedAt != nil {
		return CloseResult{Ticket: ticket, KeptForReview: true}, nil
	}
	updated, err := s.tickets.UpdateStatus(ctx, ticket.ID, repository.StatusUpdate{
		From:        []domain.TicketStatus{domain.TicketStatusSuspicious},
		To:          domain.TicketStatusSuspicious,
		StampClosed: true,
	})
	if err != nil {
		return CloseResult{}, s.transitionError(ticket, err)
	}
	s.postNotice(ctx, updated, "✅ Клиент закрыл чат. Тикет остаётся для проверки!")
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketClientClosed,
		TicketID: updated.ID,
		ClientID: updated.ClientID,
		TopicID:  updated.TopicID,
		Actor:    events.Actor{Source: events.SourceClient, Name: updated.ClientName},
		Payload:  events.TicketStatusChangedPayload{OldStatus: updated.Status, NewStatus: updated.Status, Reason: "client_closed"},
	})
	return CloseResult{Ticket: updated, KeptForReview: true}, nil
}

// Remove hides a ticket from every queue. Calling it again is a no-op.
func (s *TicketService) Remove(ctx context.Context, ref domain.TicketRef, actor events.Actor) (*domain.Ticket, bool, error) {
	ticket, err := s.ResolveRef(ctx, ref)
	if err != nil {
		return nil, false, err
	}
	updated, changed, err := s.tickets.MarkRemoved(ctx, ticket.ID)
	if err != nil {
		return nil, false, s.storeError("remove ticket", err)
	}
	if !changed {
		return updated, false, nil
	}
	if updated.HasTopic() {
		s.gateway.CloseTopic(ctx, s.supportChat, *updated.TopicID)
	}
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketRemoved,
		TicketID: updated.ID,
		ClientID: updated.ClientID,
		TopicID:  updated.TopicID,
		Actor:    actor,
	})
	return updated, true, nil
}

// Reply delivers a Mini App reply to the client and mirrors it into the topic.
// The history entry is saved even when delivery fails.
func (s *TicketService) Reply(ctx context.Context, ref domain.TicketRef, reply ManagerReply) (*domain.HistoryEntry, error) {
	text := strings.TrimSpace(reply.Text)
	if text == "" {
		return nil, ErrMessageRequired
	}
	ticket, err := s.ResolveRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(reply.Name)
	if name == "" {
		name = "Менеджер"
	}

	_, delivered := s.gateway.Send(ctx, gateway.Outbound{
		ChatID:   int64(ticket.ClientID),
		Text:     "💬 <b>Поддержка</b> (" + html.EscapeString(name) + "):\n\n" + html.EscapeString(text),
		Keyboard: ClientKeyboard(),
	})
	s.postNotice(ctx, ticket, "👨‍💼 <b>"+html.EscapeString(name)+":</b>\n\n"+html.EscapeString(text))

	entry := &domain.HistoryEntry{Role: domain.RoleManager, Content: text, AuthorName: name, SentToTelegram: delivered}
	if err := s.appendHistory(ctx, ticket, entry, events.Actor{Source: events.SourceManager, Name: name}); err != nil {
		return nil, err
	}
	if !delivered {
		s.deliveryFailed(ctx, ticket, "reply", "client unreachable")
		return entry, ErrDeliveryFailed
	}
	return entry, nil
}

// RelayManagerMessage forwards a message typed in a support topic to its client.
func (s *TicketService) RelayManagerMessage(ctx context.Context, chatID int64, thread domain.ThreadID, msg domain.InboundMessage) (*domain.Ticket, error) {
	if !s.directory.IsSupportChat(chatID) || thread == 0 {
		return nil, ErrTicketNotFound
	}
	ticket, err := s.ResolveRef(ctx, domain.ByThread(thread))
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" && !msg.HasMedia() {
		return ticket, nil
	}
	out := gateway.Outbound{ChatID: int64(ticket.ClientID), Text: "👨‍💼 <b>Поддержка:</b>\n" + html.EscapeString(text)}
	if msg.HasMedia() {
		media := *msg.Media
		out.Media = &media
	}
	_, delivered := s.gateway.Send(ctx, out)

	content := text
	if content == "" {
		content = msg.Media.Placeholder()
	}
	entry := &domain.HistoryEntry{Role: domain.RoleManager, Content: content, AuthorName: msg.From.DisplayName(), SentToTelegram: delivered}
	if err := s.appendHistory(ctx, ticket, entry, events.Actor{Source: events.SourceManager, ManagerID: &msg.From.ID, Name: msg.From.DisplayName()}); err != nil {
		return nil, err
	}
	if !delivered {
		s.deliveryFailed(ctx, ticket, "relay", "client unreachable")
		return ticket, ErrDeliveryFailed
	}
	return ticket, nil
}

// SetAIDisabled toggles the auto-responder for a ticket.
func (s *TicketService) SetAIDisabled(ctx context.Context, ref domain.TicketRef, disabled bool, actor events.Actor) (*domain.Ticket, error) {
	ticket, err := s.ResolveRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if ticket.AIDisabled == disabled {
		return ticket, nil
	}
	if err := s.tickets.SetAIDisabled(ctx, ticket.ID, disabled); err != nil {
		return nil, s.storeError("toggle ai", err)
	}
	ticket.AIDisabled = disabled
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketAIToggled,
		TicketID: ticket.ID,
		ClientID: ticket.ClientID,
		TopicID:  ticket.TopicID,
		Actor:    actor,
		Payload:  events.TicketAIToggledPayload{Disabled: disabled},
	})
	return ticket, nil
}

// AppendHistory records a transcript line for a ticket.
func (s *TicketService) AppendHistory(ctx context.Context, ticket *domain.Ticket, entry *domain.HistoryEntry) error {
	source := events.SourceClient
	switch entry.Role {
	case domain.RoleAI:
		source = events.SourceAI
	case domain.RoleManager:
		source = events.SourceManager
	}
	return s.appendHistory(ctx, ticket, entry, events.Actor{Source: source, Name: entry.AuthorName})
}

func (s *TicketService) appendHistory(ctx context.Context, ticket *domain.Ticket, entry *domain.HistoryEntry, actor events.Actor) error {
	if err := s.messages.Append(ctx, ticket.ID, entry); err != nil {
		return s.storeError("append history", err)
	}
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketMessageAdded,
		TicketID: ticket.ID,
		ClientID: ticket.ClientID,
		TopicID:  ticket.TopicID,
		Actor:    actor,
		Payload: events.TicketMessageAddedPayload{
			Role:        entry.Role,
			BodyPreview: stringPreview(entry.Content, 120),
			Delivered:   entry.SentToTelegram,
		},
	})
	return nil
}

// Get returns a ticket with its history and attachments. Removed tickets stay readable.
func (s *TicketService) Get(ctx context.Context, id domain.TicketID) (*domain.Ticket, error) {
	if _, err := uuid.Parse(string(id)); err != nil {
		return nil, ErrTicketNotFound
	}
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, s.notFoundOr("get ticket", err)
	}
	if ticket.History, err = s.messages.ListByTicket(ctx, id); err != nil {
		return nil, s.storeError("list history", err)
	}
	if ticket.Attachments, err = s.attachments.ListByTicket(ctx, id); err != nil {
		return nil, s.storeError("list attachments", err)
	}
	return ticket, nil
}

// List returns one of the manager queues.
func (s *TicketService) List(ctx context.Context, kind ListKind) ([]domain.Ticket, error) {
	filter := repository.TicketFilter{}
	switch kind {
	case ListActive:
		filter.Statuses = domain.ActiveStatuses
		filter.Order = repository.OrderTriage
		filter.Limit = 100
	case ListEscalated:
		filter.Statuses = []domain.TicketStatus{domain.TicketStatusEscalated}
		filter.Order = repository.OrderEscalatedDesc
		filter.Limit = 50
	case ListSuspicious:
		filter.Statuses = []domain.TicketStatus{domain.TicketStatusSuspicious}
		filter.Order = repository.OrderCreatedDesc
		filter.Limit = 50
	default:
		return nil, fmt.Errorf("unknown ticket list %q", kind)
	}
	tickets, err := s.tickets.List(ctx, filter)
	if err != nil {
		return nil, s.storeError("list tickets", err)
	}
	if tickets == nil {
		tickets = []domain.Ticket{}
	}
	return tickets, nil
}

// Audit returns the lifecycle trail of a ticket, including deleted ones.
func (s *TicketService) Audit(ctx context.Context, id domain.TicketID) ([]domain.TicketAuditEntry, error) {
	if s.audit == nil {
		return []domain.TicketAuditEntry{}, nil
	}
	entries, err := s.audit.ListByTicket(ctx, id)
	if err != nil {
		return nil, s.storeError("list audit", err)
	}
	if len(entries) == 0 {
		if _, err := uuid.Parse(string(id)); err != nil {
			return nil, ErrTicketNotFound
		}
	}
	if entries == nil {
		entries = []domain.TicketAuditEntry{}
	}
	return entries, nil
}

// RecentHistory returns the last n transcript entries of a ticket in order.
func (s *TicketService) RecentHistory(ctx context.Context, id domain.TicketID, n int) ([]domain.HistoryEntry, error) {
	entries, err := s.messages.ListRecent(ctx, id, n)
	if err != nil {
		return nil, s.storeError("recent history", err)
	}
	return entries, nil
}

// ResolveRef finds the ticket a reference points at. Directory hits whose
// ticket is gone from the store are purged.
func (s *TicketService) ResolveRef(ctx context.Context, ref domain.TicketRef) (*domain.Ticket, error) {
	switch ref.Kind {
	case domain.RefTicket:
		if _, err := uuid.Parse(string(ref.Ticket)); err != nil {
			return nil, ErrTicketNotFound
		}
		ticket, err := s.tickets.GetByID(ctx, ref.Ticket)
		if err != nil {
			return nil, s.notFoundOr("get ticket", err)
		}
		return ticket, nil
	case domain.RefThread:
		for _, chat := range directory.SupportChatIDs(s.supportChat) {
			if entry, ok := s.directory.ResolveClient(chat, ref.Thread); ok && entry.Ticket != "" {
				if ticket, ok := s.fromDirectory(ctx, entry); ok {
					return ticket, nil
				}
				break
			}
		}
		ticket, err := s.tickets.FindByTopic(ctx, ref.Thread)
		if err != nil {
			return nil, s.notFoundOr("find by topic", err)
		}
		s.remember(ctx, ticket)
		return ticket, nil
	case domain.RefClient:
		return s.activeTicket(ctx, ref.Client)
	default:
		return nil, ErrTicketNotFound
	}
}

// activeTicket resolves the non-closed, non-removed ticket of a client.
func (s *TicketService) activeTicket(ctx context.Context, client domain.ClientID) (*domain.Ticket, error) {
	if entry, ok := s.directory.ResolveTopic(client); ok && entry.Ticket != "" {
		if ticket, ok := s.fromDirectory(ctx, entry); ok && ticket.Status.IsActive() {
			return ticket, nil
		}
	}
	ticket, err := s.tickets.FindActiveByClient(ctx, client)
	if err != nil {
		return nil, s.notFoundOr("find active ticket", err)
	}
	s.remember(ctx, ticket)
	return ticket, nil
}

func (s *TicketService) fromDirectory(ctx context.Context, entry directory.Entry) (*domain.Ticket, bool) {
	ticket, err := s.tickets.GetByID(ctx, entry.Ticket)
	if err == nil && !ticket.IsRemoved && ticket.Status.IsActive() {
		return ticket, true
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("directory lookup failed", zap.String("ticket_id", string(entry.Ticket)), zap.Error(err))
		return nil, false
	}
	s.logger.Info("purging stale directory entry",
		zap.Int64("client_id", int64(entry.Client)),
		zap.String("ticket_id", string(entry.Ticket)))
	s.directory.Forget(entry.Client)
	return nil, false
}

// remember rebuilds a directory entry from the store. A suspicious ticket that
// already holds attachments counts as having provided proof.
func (s *TicketService) remember(ctx context.Context, ticket *domain.Ticket) {
	if ticket == nil || ticket.IsRemoved || !ticket.Status.IsActive() {
		return
	}
	entry := directory.Entry{Client: ticket.ClientID, Ticket: ticket.ID, Status: ticket.Status}
	if ticket.TopicID != nil {
		entry.Thread = *ticket.TopicID
	}
	if ticket.Status == domain.TicketStatusSuspicious && s.attachments != nil {
		stored, err := s.attachments.ListByTicket(ctx, ticket.ID)
		if err != nil {
			s.logger.Warn("count attachments", zap.String("ticket_id", string(ticket.ID)), zap.Error(err))
		}
		entry.HasProof = len(stored) > 0
	}
	s.directory.Put(entry)
}

func (s *TicketService) tombstoned(ctx context.Context, id domain.TicketID) bool {
	if _, err := uuid.Parse(string(id)); err != nil {
		return false
	}
	_, err := s.tickets.GetTombstone(ctx, id)
	return err == nil
}

func (s *TicketService) lookup(ctx context.Context, client domain.ClientID) profile.Snapshot {
	if s.profiles == nil {
		return profile.Snapshot{Result: profile.Result{Kind: profile.KindNotConfigured}}
	}
	return s.profiles.Lookup(ctx, client)
}

func (s *TicketService) renameTopic(ctx context.Context, ticket *domain.Ticket) {
	if !ticket.HasTopic() {
		return
	}
	s.gateway.RenameTopic(ctx, s.supportChat, *ticket.TopicID, TopicName(ticket.DisplayName(), ticket.Status))
}

// postNotice writes a service line into the ticket's topic.
func (s *TicketService) postNotice(ctx context.Context, ticket *domain.Ticket, text string) bool {
	if !ticket.HasTopic() {
		return false
	}
	_, ok := s.gateway.Send(ctx, gateway.Outbound{ChatID: s.supportChat, ThreadID: *ticket.TopicID, Text: text})
	return ok
}

// PostToTopic writes into the ticket's topic; used by the conversation pipeline.
func (s *TicketService) PostToTopic(ctx context.Context, ticket *domain.Ticket, msg gateway.Outbound) bool {
	if !ticket.HasTopic() {
		return false
	}
	msg.ChatID = s.supportChat
	msg.ThreadID = *ticket.TopicID
	_, ok := s.gateway.Send(ctx, msg)
	return ok
}

func (s *TicketService) deliveryFailed(ctx context.Context, ticket *domain.Ticket, op, reason string) {
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketDeliveryFailed,
		TicketID: ticket.ID,
		ClientID: ticket.ClientID,
		TopicID:  ticket.TopicID,
		Actor:    events.Actor{Source: events.SourceSystem},
		Payload:  events.TicketDeliveryFailedPayload{Operation: op, Error: reason},
	})
}

func (s *TicketService) transitionError(ticket *domain.Ticket, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrTicketNotFound
	case errors.Is(err, repository.ErrStatusMismatch):
		s.logger.Info("conditional update lost",
			zap.String("ticket_id", string(ticket.ID)),
			zap.String("expected", string(ticket.Status)))
		return ErrStatusConflict
	default:
		return s.storeError("update status", err)
	}
}

func (s *TicketService) notFoundOr(op string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrTicketNotFound
	}
	return s.storeError(op, err)
}

func (s *TicketService) storeError(op string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrTicketNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func stringPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	if len([]rune(body)) <= max {
		return body
	}
	if max <= 3 {
		return string([]rune(body)[:max])
	}
	return string([]rune(body)[:max-3]) + "..."
}
