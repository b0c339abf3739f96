package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/reshala/support-desk/internal/domain"
)

func newTicket(id string, client int64, status domain.TicketStatus) *domain.Ticket {
	return &domain.Ticket{ID: domain.TicketID(id), ClientID: domain.ClientID(client), ClientName: "Ivan", Status: status}
}

func TestMemoryCreateRejectsSecondActiveTicket(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore().Tickets()

	if err := repo.Create(ctx, newTicket("t1", 42, domain.TicketStatusOpen)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, newTicket("t2", 42, domain.TicketStatusOpen)); !errors.Is(err, ErrActiveTicketExists) {
		t.Fatalf("expected ErrActiveTicketExists, got %v", err)
	}
	if err := repo.Create(ctx, newTicket("t3", 43, domain.TicketStatusOpen)); err != nil {
		t.Fatalf("other client: %v", err)
	}
}

func TestMemoryCreateAllowsNewTicketAfterClose(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore().Tickets()
	_ = repo.Create(ctx, newTicket("t1", 42, domain.TicketStatusOpen))

	if _, err := repo.UpdateStatus(ctx, "t1", StatusUpdate{
		From: domain.ActiveStatuses, To: domain.TicketStatusClosed, StampClosed: true,
	}); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := repo.Create(ctx, newTicket("t2", 42, domain.TicketStatusOpen)); err != nil {
		t.Fatalf("create after close: %v", err)
	}
}

func TestMemoryConcurrentCreateSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore().Tickets()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := repo.Create(ctx, newTicket(string(rune('a'+i)), 7, domain.TicketStatusOpen))
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestMemoryUpdateStatusIsConditional(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore().Tickets()
	_ = repo.Create(ctx, newTicket("t1", 1, domain.TicketStatusOpen))

	updated, err := repo.UpdateStatus(ctx, "t1", StatusUpdate{
		From:           []domain.TicketStatus{domain.TicketStatusOpen},
		To:             domain.TicketStatusEscalated,
		StampEscalated: true,
	})
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if updated.EscalatedAt == nil {
		t.Fatal("escalated_at must be stamped")
	}
	first := *updated.EscalatedAt

	current, err := repo.UpdateStatus(ctx, "t1", StatusUpdate{
		From: []domain.TicketStatus{domain.TicketStatusOpen},
		To:   domain.TicketStatusEscalated,
	})
	if !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch, got %v", err)
	}
	if current.Status != domain.TicketStatusEscalated {
		t.Fatalf("mismatch must return current state, got %s", current.Status)
	}

	again, err := repo.UpdateStatus(ctx, "t1", StatusUpdate{
		From:           []domain.TicketStatus{domain.TicketStatusEscalated},
		To:             domain.TicketStatusEscalated,
		StampEscalated: true,
	})
	if err != nil {
		t.Fatalf("re-escalate: %v", err)
	}
	if !again.EscalatedAt.Equal(first) {
		t.Fatal("escalated_at must be stamped once")
	}

	if _, err := repo.UpdateStatus(ctx, "missing", StatusUpdate{From: domain.ActiveStatuses}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRemovedTicketsAreHidden(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore().Tickets()
	ticket := newTicket("t1", 1, domain.TicketStatusSuspicious)
	thread := domain.ThreadID(55)
	ticket.TopicID = &thread
	_ = repo.Create(ctx, ticket)

	_, changed, err := repo.MarkRemoved(ctx, "t1")
	if err != nil || !changed {
		t.Fatalf("remove: changed=%v err=%v", changed, err)
	}
	if _, changed, _ := repo.MarkRemoved(ctx, "t1"); changed {
		t.Fatal("second remove must be a no-op")
	}

	list, _ := repo.List(ctx, TicketFilter{Statuses: domain.ActiveStatuses})
	if len(list) != 0 {
		t.Fatalf("removed ticket must not be listed: %+v", list)
	}
	if _, err := repo.FindActiveByClient(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("removed ticket must not be active, got %v", err)
	}
	if _, err := repo.FindByTopic(ctx, thread); !errors.Is(err, ErrNotFound) {
		t.Fatalf("removed ticket must not resolve by topic, got %v", err)
	}
	got, err := repo.GetByID(ctx, "t1")
	if err != nil || !got.IsRemoved {
		t.Fatalf("removed ticket must stay fetchable by id: %v %+v", err, got)
	}
	if _, err := repo.UpdateStatus(ctx, "t1", StatusUpdate{From: domain.ActiveStatuses, To: domain.TicketStatusEscalated}); !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("removed ticket must not transition, got %v", err)
	}
}

func TestMemoryListTriageOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore().Tickets()
	_ = repo.Create(ctx, newTicket("open", 1, domain.TicketStatusOpen))
	_ = repo.Create(ctx, newTicket("esc", 2, domain.TicketStatusEscalated))
	_ = repo.Create(ctx, newTicket("sus", 3, domain.TicketStatusSuspicious))

	list, err := repo.List(ctx, TicketFilter{Statuses: domain.ActiveStatuses, Order: OrderTriage, Limit: 100})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []domain.TicketID{"sus", "esc", "open"}
	if len(list) != len(want) {
		t.Fatalf("got %d tickets", len(list))
	}
	for i, id := range want {
		if list[i].ID != id {
			t.Fatalf("position %d: want %s, got %s", i, id, list[i].ID)
		}
	}
}

func TestMemoryDeleteWithTombstone(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	repo := store.Tickets()
	_ = repo.Create(ctx, newTicket("t1", 9, domain.TicketStatusOpen))
	_ = store.Messages().Append(ctx, "t1", &domain.HistoryEntry{Role: domain.RoleUser, Content: "hi"})

	tomb, err := repo.DeleteWithTombstone(ctx, "t1", domain.ActiveStatuses, "manager")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if tomb.ClientID != 9 || tomb.ClosedBy != "manager" {
		t.Fatalf("unexpected tombstone %+v", tomb)
	}
	if _, err := repo.GetByID(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ticket must be gone, got %v", err)
	}
	if _, err := repo.GetTombstone(ctx, "t1"); err != nil {
		t.Fatalf("tombstone lookup: %v", err)
	}
	if _, err := repo.DeleteWithTombstone(ctx, "t1", domain.ActiveStatuses, "manager"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete must report not found, got %v", err)
	}
	history, _ := store.Messages().ListByTicket(ctx, "t1")
	if len(history) != 0 {
		t.Fatal("history must cascade")
	}
}

func TestMemoryDeleteRequiresExpectedStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	repo := store.Tickets()
	_ = repo.Create(ctx, newTicket("t1", 9, domain.TicketStatusSuspicious))

	_, err := repo.DeleteWithTombstone(ctx, "t1", []domain.TicketStatus{domain.TicketStatusOpen}, "client")
	if !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch, got %v", err)
	}
	if _, err := repo.GetByID(ctx, "t1"); err != nil {
		t.Fatalf("ticket must survive a lost delete: %v", err)
	}
	if _, err := repo.GetTombstone(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("no tombstone expected, got %v", err)
	}
}

func TestMemoryAttachmentCountAndRecentHistory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.Tickets().Create(ctx, newTicket("t1", 1, domain.TicketStatusSuspicious))

	for i := 1; i <= 3; i++ {
		n, err := store.Attachments().Append(ctx, "t1", &domain.Attachment{Type: domain.AttachmentPhoto, Value: "file"})
		if err != nil || n != i {
			t.Fatalf("append %d: n=%d err=%v", i, n, err)
		}
	}
	if _, err := store.Attachments().Append(ctx, "nope", &domain.Attachment{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	for _, c := range []string{"a", "b", "c", "d"} {
		_ = store.Messages().Append(ctx, "t1", &domain.HistoryEntry{Role: domain.RoleUser, Content: c})
	}
	recent, _ := store.Messages().ListRecent(ctx, "t1", 2)
	if len(recent) != 2 || recent[0].Content != "c" || recent[1].Content != "d" {
		t.Fatalf("unexpected window %+v", recent)
	}
}

func TestMemoryKnowledgeSearch(t *testing.T) {
	store := NewMemoryStore()
	store.AddArticle(domain.KnowledgeArticle{ID: "1", Title: "Подключение", Category: "setup", Content: "Как подключить VLESS"})
	store.AddArticle(domain.KnowledgeArticle{ID: "2", Title: "Оплата", Category: "billing", Content: "Баланс пополняется"})

	got, _ := store.Knowledge().Search(context.Background(), []string{"vless"}, 3)
	if len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("unexpected result %+v", got)
	}
	if got, _ := store.Knowledge().Search(context.Background(), nil, 3); got != nil {
		t.Fatal("empty query must return nothing")
	}
}

func TestMemoryAuditSurvivesDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.Tickets().Create(ctx, newTicket("t1", 1, domain.TicketStatusOpen))
	_ = store.Audit().Create(ctx, &domain.TicketAuditEntry{TicketID: "t1", ClientID: 1, EventType: "ticket_opened"})
	_, _ = store.Tickets().DeleteWithTombstone(ctx, "t1", domain.ActiveStatuses, "client")

	entries, _ := store.Audit().ListByTicket(ctx, "t1")
	if len(entries) != 1 || entries[0].ID != 1 {
		t.Fatalf("audit must outlive the ticket, got %+v", entries)
	}
}
