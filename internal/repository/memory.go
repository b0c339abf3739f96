package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/reshala/support-desk/internal/domain"
)

// MemoryStore keeps tickets, history, attachments and knowledge articles in
// process memory. It honours the same constraints as the Postgres schema and is
// used when no DSN is configured and in tests.
type MemoryStore struct {
	mu          sync.Mutex
	tickets     map[domain.TicketID]*domain.Ticket
	history     map[domain.TicketID][]domain.HistoryEntry
	attachments map[domain.TicketID][]domain.Attachment
	tombstones  map[domain.TicketID]domain.Tombstone
	audit       []domain.TicketAuditEntry
	articles    []domain.KnowledgeArticle
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:     make(map[domain.TicketID]*domain.Ticket),
		history:     make(map[domain.TicketID][]domain.HistoryEntry),
		attachments: make(map[domain.TicketID][]domain.Attachment),
		tombstones:  make(map[domain.TicketID]domain.Tombstone),
	}
}

// Tickets exposes the store as a TicketRepository.
func (s *MemoryStore) Tickets() TicketRepository { return memoryTickets{s} }

// Messages exposes the store as a TicketMessageRepository.
func (s *MemoryStore) Messages() TicketMessageRepository { return memoryMessages{s} }

// Attachments exposes the store as an AttachmentRepository.
func (s *MemoryStore) Attachments() AttachmentRepository { return memoryAttachments{s} }

// Knowledge exposes the store as a KnowledgeRepository.
func (s *MemoryStore) Knowledge() KnowledgeRepository { return memoryKnowledge{s} }

// Audit exposes the store as a TicketAuditRepository.
func (s *MemoryStore) Audit() TicketAuditRepository { return memoryAudit{s} }

// AddArticle seeds a knowledge article.
func (s *MemoryStore) AddArticle(article domain.KnowledgeArticle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles = append(s.articles, article)
}

func cloneTicket(t *domain.Ticket) *domain.Ticket {
	c := *t
	if t.TopicID != nil {
		v := *t.TopicID
		c.TopicID = &v
	}
	c.Attachments = nil
	c.History = nil
	return &c
}

type memoryTickets struct{ s *MemoryStore }

func (m memoryTickets) Create(_ context.Context, ticket *domain.Ticket) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, existing := range m.s.tickets {
		if existing.ClientID == ticket.ClientID && existing.Status.IsActive() && !existing.IsRemoved {
			return ErrActiveTicketExists
		}
	}
	now := utcNow()
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	m.s.tickets[ticket.ID] = cloneTicket(ticket)
	return nil
}

func (m memoryTickets) GetByID(_ context.Context, id domain.TicketID) (*domain.Ticket, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	t, ok := m.s.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTicket(t), nil
}

func (m memoryTickets) FindActiveByClient(_ context.Context, clientID domain.ClientID) (*domain.Ticket, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, t := range m.s.tickets {
		if t.ClientID == clientID && t.Status.IsActive() && !t.IsRemoved {
			return cloneTicket(t), nil
		}
	}
	return nil, ErrNotFound
}

func (m memoryTickets) FindByTopic(_ context.Context, threadID domain.ThreadID) (*domain.Ticket, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var best *domain.Ticket
	for _, t := range m.s.tickets {
		if t.IsRemoved || t.TopicID == nil || *t.TopicID != threadID {
			continue
		}
		if best == nil ||
			(t.Status.IsActive() && !best.Status.IsActive()) ||
			(t.Status.IsActive() == best.Status.IsActive() && t.CreatedAt.After(best.CreatedAt)) {
			best = t
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return cloneTicket(best), nil
}

func (m memoryTickets) List(_ context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	var result []domain.Ticket
	for _, t := range m.s.tickets {
		if t.IsRemoved && !filter.IncludeRemoved {
			continue
		}
		if filter.ClientID != nil && t.ClientID != *filter.ClientID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, t.Status) {
			continue
		}
		result = append(result, *cloneTicket(t))
	}

	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i], result[j]
		switch filter.Order {
		case OrderTriage:
			if triageRank(a.Status) != triageRank(b.Status) {
				return triageRank(a.Status) < triageRank(b.Status)
			}
		case OrderEscalatedDesc:
			if a.EscalatedAt != nil && b.EscalatedAt != nil && !a.EscalatedAt.Equal(*b.EscalatedAt) {
				return a.EscalatedAt.After(*b.EscalatedAt)
			}
			if (a.EscalatedAt == nil) != (b.EscalatedAt == nil) {
				return a.EscalatedAt != nil
			}
		}
		return a.CreatedAt.After(b.CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func triageRank(s domain.TicketStatus) int {
	switch s {
	case domain.TicketStatusSuspicious:
		return 0
	case domain.TicketStatusEscalated:
		return 1
	case domain.TicketStatusOpen:
		return 2
	default:
		return 3
	}
}

func containsStatus(list []domain.TicketStatus, s domain.TicketStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (m memoryTickets) SetTopic(_ context.Context, id domain.TicketID, threadID domain.ThreadID) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	t, ok := m.s.tickets[id]
	if !ok {
		return ErrNotFound
	}
	v := threadID
	t.TopicID = &v
	t.UpdatedAt = utcNow()
	return nil
}

func (m memoryTickets) UpdateStatus(_ context.Context, id domain.TicketID, update StatusUpdate) (*domain.Ticket, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	t, ok := m.s.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	if t.IsRemoved || !containsStatus(update.From, t.Status) {
		return cloneTicket(t), ErrStatusMismatch
	}

	now := utcNow()
	t.Status = update.To
	if update.Reason != nil {
		r := *update.Reason
		t.Reason = &r
	}
	if update.DisableAI {
		t.AIDisabled = true
	}
	if update.StampEscalated && t.EscalatedAt == nil {
		t.EscalatedAt = &now
	}
	if update.StampClosed && t.ClosedAt == nil {
		t.ClosedAt = &now
	}
	t.UpdatedAt = now
	return cloneTicket(t), nil
}

func (m memoryTickets) SetAIDisabled(_ context.Context, id domain.TicketID, disabled bool) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	t, ok := m.s.tickets[id]
	if !ok {
		return ErrNotFound
	}
	t.AIDisabled = disabled
	t.UpdatedAt = utcNow()
	return nil
}

func (m memoryTickets) MarkRemoved(_ context.Context, id domain.TicketID) (*domain.Ticket, bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	t, ok := m.s.tickets[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if t.IsRemoved {
		return cloneTicket(t), false, nil
	}
	now := utcNow()
	t.IsRemoved = true
	t.RemovedAt = &now
	t.UpdatedAt = now
	return cloneTicket(t), true, nil
}

func (m memoryTickets) DeleteWithTombstone(_ context.Context, id domain.TicketID, from []domain.TicketStatus, closedBy string) (*domain.Tombstone, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	t, ok := m.s.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	if t.IsRemoved || !containsStatus(from, t.Status) {
		return nil, ErrStatusMismatch
	}
	tomb, exists := m.s.tombstones[id]
	if !exists {
		tomb = domain.Tombstone{
			TicketID: id,
			ClientID: t.ClientID,
			TopicID:  cloneTicket(t).TopicID,
			ClosedBy: closedBy,
			ClosedAt: utcNow(),
		}
		m.s.tombstones[id] = tomb
	}
	delete(m.s.tickets, id)
	delete(m.s.history, id)
	delete(m.s.attachments, id)
	return &tomb, nil
}

func (m memoryTickets) GetTombstone(_ context.Context, id domain.TicketID) (*domain.Tombstone, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	tomb, ok := m.s.tombstones[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &tomb, nil
}

type memoryMessages struct{ s *MemoryStore }

func (m memoryMessages) Append(_ context.Context, ticketID domain.TicketID, entry *domain.HistoryEntry) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.tickets[ticketID]; !ok {
		return ErrNotFound
	}
	entry.CreatedAt = utcNow()
	m.s.history[ticketID] = append(m.s.history[ticketID], *entry)
	return nil
}

func (m memoryMessages) ListByTicket(_ context.Context, ticketID domain.TicketID) ([]domain.HistoryEntry, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return append([]domain.HistoryEntry(nil), m.s.history[ticketID]...), nil
}

func (m memoryMessages) ListRecent(_ context.Context, ticketID domain.TicketID, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	entries := m.s.history[ticketID]
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]domain.HistoryEntry(nil), entries...), nil
}

type memoryAttachments struct{ s *MemoryStore }

func (m memoryAttachments) Append(_ context.Context, ticketID domain.TicketID, attachment *domain.Attachment) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.tickets[ticketID]; !ok {
		return 0, ErrNotFound
	}
	attachment.AddedAt = utcNow()
	m.s.attachments[ticketID] = append(m.s.attachments[ticketID], *attachment)
	return len(m.s.attachments[ticketID]), nil
}

func (m memoryAttachments) ListByTicket(_ context.Context, ticketID domain.TicketID) ([]domain.Attachment, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return append([]domain.Attachment(nil), m.s.attachments[ticketID]...), nil
}

type memoryKnowledge struct{ s *MemoryStore }

func (m memoryKnowledge) Search(_ context.Context, words []string, limit int) ([]domain.KnowledgeArticle, error) {
	if len(words) == 0 || limit <= 0 {
		return nil, nil
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var result []domain.KnowledgeArticle
	for _, article := range m.s.articles {
		haystack := strings.ToLower(article.Title + " " + article.Category + " " + article.Content)
		for _, w := range words {
			if strings.Contains(haystack, strings.ToLower(w)) {
				result = append(result, article)
				break
			}
		}
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

type memoryAudit struct{ s *MemoryStore }

func (m memoryAudit) Create(_ context.Context, entry *domain.TicketAuditEntry) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	entry.ID = int64(len(m.s.audit) + 1)
	entry.CreatedAt = utcNow()
	m.s.audit = append(m.s.audit, *entry)
	return nil
}

func (m memoryAudit) ListByTicket(_ context.Context, ticketID domain.TicketID) ([]domain.TicketAuditEntry, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var result []domain.TicketAuditEntry
	for _, e := range m.s.audit {
		if e.TicketID == ticketID {
			result = append(result, e)
		}
	}
	return result, nil
}
