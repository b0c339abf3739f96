package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/reshala/support-desk/internal/ai"
	"github.com/reshala/support-desk/internal/directory"
	"github.com/reshala/support-desk/internal/domain"
	"github.com/reshala/support-desk/internal/events"
	"github.com/reshala/support-desk/internal/gateway"
	"github.com/reshala/support-desk/internal/gateway/gatewaytest"
	"github.com/reshala/support-desk/internal/observability"
	"github.com/reshala/support-desk/internal/profile"
	"github.com/reshala/support-desk/internal/repository"
)

const supportGroup = int64(-1001234567890)

type fakeProfiles struct {
	mu      sync.Mutex
	snaps   map[domain.ClientID]profile.Snapshot
	txs     []profile.Transaction
	applied []profile.Action
	lookups int
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{snaps: make(map[domain.ClientID]profile.Snapshot)}
}

func (f *fakeProfiles) set(client domain.ClientID, snap profile.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[client] = snap
}

func (f *fakeProfiles) Lookup(_ context.Context, client domain.ClientID) profile.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if snap, ok := f.snaps[client]; ok {
		return snap
	}
	return foundSnapshot("user-" + client.String())
}

func (f *fakeProfiles) Transactions(context.Context, domain.ClientID) ([]profile.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txs, nil
}

func (f *fakeProfiles) Apply(ctx context.Context, client domain.ClientID, action profile.Action) error {
	snap := f.Lookup(ctx, client)
	if snap.Result.User == nil {
		return profile.ErrNoPanelUser
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, action)
	return nil
}

func foundSnapshot(uuid string) profile.Snapshot {
	return profile.Snapshot{Result: profile.Result{
		Kind: profile.KindFound,
		User: &profile.User{UUID: uuid, Username: "ivan", Status: "ACTIVE"},
	}}
}

func notFoundSnapshot() profile.Snapshot {
	return profile.Snapshot{Result: profile.Result{Kind: profile.KindNotFound}}
}

type fakeAI struct {
	mu    sync.Mutex
	reply string
	err   error
	calls [][]ai.Message
}

func (f *fakeAI) Chat(_ context.Context, messages []ai.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, messages)
	return f.reply, f.err
}

func (f *fakeAI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type harness struct {
	store    *repository.MemoryStore
	rec      *gatewaytest.Recorder
	dir      *directory.Directory
	profiles *fakeProfiles
	metrics  *observability.Metrics
	tickets  *TicketService
}

type harnessOption func(*TicketDependencies)

func withRetention() harnessOption {
	return func(d *TicketDependencies) { d.RetainClosed = true }
}

// interleavedTickets runs before once, right ahead of the next close write,
// so a competing update lands between the service's read and its write.
type interleavedTickets struct {
	repository.TicketRepository
	mu     sync.Mutex
	before func()
}

func (r *interleavedTickets) arm(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.before = fn
}

func (r *interleavedTickets) fire() {
	r.mu.Lock()
	fn := r.before
	r.before = nil
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (r *interleavedTickets) UpdateStatus(ctx context.Context, id domain.TicketID, update repository.StatusUpdate) (*domain.Ticket, error) {
	if update.To == domain.TicketStatusClosed {
		r.fire()
	}
	return r.TicketRepository.UpdateStatus(ctx, id, update)
}

func (r *interleavedTickets) DeleteWithTombstone(ctx context.Context, id domain.TicketID, from []domain.TicketStatus, closedBy string) (*domain.Tombstone, error) {
	r.fire()
	return r.TicketRepository.DeleteWithTombstone(ctx, id, from, closedBy)
}

func withTicketRepo(wrap func(repository.TicketRepository) repository.TicketRepository) harnessOption {
	return func(d *TicketDependencies) { d.TicketRepo = wrap(d.TicketRepo) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := repository.NewMemoryStore()
	rec := gatewaytest.New()
	dispatcher := events.NewInMemoryDispatcher()
	dir := directory.New(supportGroup)
	dir.Subscribe(dispatcher)
	metrics := observability.NewMetrics()
	NewNotificationService(dispatcher, store.Audit(), metrics, logger).RegisterHandlers()

	profiles := newFakeProfiles()
	deps := TicketDependencies{
		TicketRepo:     store.Tickets(),
		MessageRepo:    store.Messages(),
		AttachmentRepo: store.Attachments(),
		AuditRepo:      store.Audit(),
		Directory:      dir,
		Profiles:       profiles,
		Gateway:        gateway.NewBestEffort(rec, time.Second, logger),
		Dispatcher:     dispatcher,
		SupportChatID:  supportGroup,
		Logger:         logger,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return &harness{
		store:    store,
		rec:      rec,
		dir:      dir,
		profiles: profiles,
		metrics:  metrics,
		tickets:  NewTicketService(deps),
	}
}

func (h *harness) conversation(t *testing.T, client ai.Client) *ConversationService {
	t.Helper()
	deps := ConversationDependencies{
		Tickets:   h.tickets,
		Knowledge: h.store.Knowledge(),
		Profiles:  h.profiles,
		Billing:   h.profiles,
		Prompt:    ai.PromptBuilder{ServiceName: "Test VPN", MainBotUsername: "vpn_bot"},
		Metrics:   h.metrics,
		Logger:    zaptest.NewLogger(t),
	}
	if client != nil {
		deps.AI = client
	}
	return NewConversationService(deps)
}

func (h *harness) open(t *testing.T, client domain.ClientID, username string) *domain.Ticket {
	t.Helper()
	ticket, _, err := h.tickets.EnsureTicket(context.Background(), ClientContact{ID: client, Username: username})
	if err != nil {
		t.Fatalf("EnsureTicket: %v", err)
	}
	return ticket
}

func message(client int64, username, text string) domain.InboundMessage {
	return domain.InboundMessage{
		ChatID: client,
		From:   domain.Sender{ID: client, Username: username},
		Text:   text,
	}
}
