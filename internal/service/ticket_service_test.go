package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/reshala/support-desk/internal/directory"
	"github.com/reshala/support-desk/internal/domain"
	"github.com/reshala/support-desk/internal/events"
	"github.com/reshala/support-desk/internal/gateway"
	"github.com/reshala/support-desk/internal/repository"
	"github.com/reshala/support-desk/pkg/errorutil"
)

var managerActor = events.Actor{Source: events.SourceManager, Name: "Anna"}

func TestEnsureTicketConcurrentFirstContact(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]domain.TicketID, 16)
	created := make([]bool, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ticket, isNew, err := h.tickets.EnsureTicket(ctx, ClientContact{ID: 42, Username: "ivan"})
			if err != nil {
				t.Errorf("EnsureTicket: %v", err)
				return
			}
			ids[i] = ticket.ID
			created[i] = isNew
		}(i)
	}
	wg.Wait()

	newCount := 0
	for i, id := range ids {
		if id != ids[0] {
			t.Fatalf("goroutine %d got ticket %s, want %s", i, id, ids[0])
		}
		if created[i] {
			newCount++
		}
	}
	if newCount != 1 {
		t.Fatalf("created reported %d times, want 1", newCount)
	}
	if got := h.rec.TopicCount(); got != 1 {
		t.Fatalf("topics = %d, want 1", got)
	}
	if len(h.rec.Pinned) != 1 {
		t.Fatalf("pinned = %v, want one card", h.rec.Pinned)
	}
}

func TestEnsureTicketOpensTopicWithCard(t *testing.T) {
	h := newHarness(t)
	ticket := h.open(t, 42, "ivan")

	if ticket.Status != domain.TicketStatusOpen || !ticket.HasTopic() {
		t.Fatalf("ticket = %+v", ticket)
	}
	topic, ok := h.rec.Topic(*ticket.TopicID)
	if !ok || topic.Name != "💬 @ivan" || topic.Chat != supportGroup {
		t.Fatalf("topic = %+v %v", topic, ok)
	}
	card := h.rec.SentTo(supportGroup, *ticket.TopicID)
	if len(card) != 1 || !strings.Contains(card[0].Text, "Тикет поддержки") || len(card[0].Keyboard) == 0 {
		t.Fatalf("card = %+v", card)
	}
	entry, ok := h.dir.ResolveClient(supportGroup, *ticket.TopicID)
	if !ok || entry.Client != 42 || entry.Ticket != ticket.ID {
		t.Fatalf("directory entry = %+v %v", entry, ok)
	}
}

func TestEnsureTicketUnknownClientIsSuspicious(t *testing.T) {
	h := newHarness(t)
	h.profiles.set(42, notFoundSnapshot())

	ticket := h.open(t, 42, "ghost")
	if ticket.Status != domain.TicketStatusSuspicious {
		t.Fatalf("status = %s", ticket.Status)
	}
	if ticket.Reason == nil || *ticket.Reason != "user_not_found" {
		t.Fatalf("reason = %v", ticket.Reason)
	}
	topic, _ := h.rec.Topic(*ticket.TopicID)
	if !strings.HasPrefix(topic.Name, TopicEmojiSuspicious) {
		t.Fatalf("topic name = %q", topic.Name)
	}
	if !h.rec.Contains("Пользователь не найден в Remnawave!") {
		t.Fatal("card must warn about the unknown user")
	}
}

func TestEnsureTicketHealsMissingTopic(t *testing.T) {
	h := newHarness(t)
	h.rec.SetFail("create_topic", true)
	ticket := h.open(t, 42, "ivan")
	if ticket.HasTopic() {
		t.Fatal("topic must be missing while the platform fails")
	}

	h.rec.SetFail("create_topic", false)
	healed := h.open(t, 42, "ivan")
	if healed.ID != ticket.ID || !healed.HasTopic() {
		t.Fatalf("healed = %+v", healed)
	}
	if h.rec.TopicCount() != 1 {
		t.Fatalf("topics = %d", h.rec.TopicCount())
	}
}

func TestEnsureTicketRequiresClient(t *testing.T) {
	h := newHarness(t)
	if _, _, err := h.tickets.EnsureTicket(context.Background(), ClientContact{}); !errors.Is(err, ErrClientRequired) {
		t.Fatalf("err = %v", err)
	}
}

func TestManagerCloseDeletesTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.open(t, 42, "ivan")

	result, err := h.tickets.Close(ctx, domain.ByTicket(ticket.ID), Closer{Kind: CloserManager, Name: "Anna"})
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if result.AlreadyClosed || result.Retained || result.Ticket.Status != domain.TicketStatusClosed {
		t.Fatalf("result = %+v", result)
	}
	topic, _ := h.rec.Topic(*ticket.TopicID)
	if !topic.Closed || topic.Name != "🟢 @ivan" {
		t.Fatalf("topic = %+v", topic)
	}
	if !h.rec.Contains("Тикет закрыт менеджером Anna.") || !h.rec.Contains("Ваш тикет закрыт") {
		t.Fatal("close notices missing")
	}
	if _, err := h.tickets.Get(ctx, ticket.ID); !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("deleted ticket must be gone, err = %v", err)
	}
	if _, ok := h.dir.ResolveTopic(42); ok {
		t.Fatal("directory must forget the closed ticket")
	}

	again, err := h.tickets.Close(ctx, domain.ByTicket(ticket.ID), Closer{Kind: CloserManager})
	if err != nil || !again.AlreadyClosed {
		t.Fatalf("second close = %+v, %v", again, err)
	}

	next := h.open(t, 42, "ivan")
	if next.ID == ticket.ID {
		t.Fatal("a new message after close must open a new ticket")
	}
}

func TestCloseWithRetentionKeepsRow(t *testing.T) {
	h := newHarness(t, withRetention())
	ctx := context.Background()
	ticket := h.open(t, 42, "ivan")

	result, err := h.tickets.Close(ctx, domain.ByClient(42), Closer{Kind: CloserClient})
	if err != nil || !result.Retained {
		t.Fatalf("close = %+v, %v", result, err)
	}
	stored, err := h.tickets.Get(ctx, ticket.ID)
	if err != nil || stored.Status != domain.TicketStatusClosed || stored.ClosedAt == nil {
		t.Fatalf("stored = %+v, %v", stored, err)
	}
	if _, err := h.tickets.Escalate(ctx, domain.ByTicket(ticket.ID), EscalationInput{Source: events.SourceManager}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("escalating a closed ticket: err = %v", err)
	}
	again, err := h.tickets.Close(ctx, domain.ByTicket(ticket.ID), Closer{Kind: CloserManager})
	if err != nil || !again.AlreadyClosed {
		t.Fatalf("second close = %+v, %v", again, err)
	}
}

func TestClientCloseKeepsSuspiciousTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.profiles.set(42, notFoundSnapshot())
	ticket := h.open(t, 42, "ghost")

	for i := 0; i < 2; i++ {
		result, err := h.tickets.Close(ctx, domain.ByClient(42), Closer{Kind: CloserClient})
		if err != nil || !result.KeptForReview {
			t.Fatalf("close #%d = %+v, %v", i, result, err)
		}
	}
	stored, err := h.tickets.Get(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != domain.TicketStatusSuspicious || stored.ClosedAt == nil {
		t.Fatalf("stored = %+v", stored)
	}
	if got := h.rec.Count("Тикет остаётся для проверки"); got != 1 {
		t.Fatalf("review notice posted %d times", got)
	}
	topic, _ := h.rec.Topic(*ticket.TopicID)
	if topic.Closed {
		t.Fatal("topic must stay open for review")
	}

	result, err := h.tickets.Close(ctx, domain.ByTicket(ticket.ID), Closer{Kind: CloserManager})
	if err != nil || result.KeptForReview {
		t.Fatalf("manager close = %+v, %v", result, err)
	}
}

func TestClientCloseLosesToConcurrentMarkSuspicious(t *testing.T) {
	for _, retain := range []bool{false, true} {
		var opts []harnessOption
		if retain {
			opts = append(opts, withRetention())
		}
		tickets := &interleavedTickets{}
		opts = append(opts, withTicketRepo(func(inner repository.TicketRepository) repository.TicketRepository {
			tickets.TicketRepository = inner
			return tickets
		}))
		h := newHarness(t, opts...)
		ctx := context.Background()
		ticket := h.open(t, 42, "ivan")

		tickets.arm(func() {
			reason := "manual_review"
			if _, err := h.store.Tickets().UpdateStatus(ctx, ticket.ID, repository.StatusUpdate{
				From:   []domain.TicketStatus{domain.TicketStatusOpen},
				To:     domain.TicketStatusSuspicious,
				Reason: &reason,
			}); err != nil {
				t.Errorf("concurrent mark: %v", err)
			}
		})

		_, err := h.tickets.Close(ctx, domain.ByClient(42), Closer{Kind: CloserClient})
		if !errors.Is(err, ErrStatusConflict) {
			t.Fatalf("retain=%v: err = %v, want ErrStatusConflict", retain, err)
		}
		stored, err := h.store.Tickets().GetByID(ctx, ticket.ID)
		if err != nil || stored.Status != domain.TicketStatusSuspicious {
			t.Fatalf("retain=%v: stored = %+v, %v", retain, stored, err)
		}
		if topic, _ := h.rec.Topic(*ticket.TopicID); topic.Closed {
			t.Fatalf("retain=%v: topic of a suspicious ticket must stay open", retain)
		}
	}
}

func TestCloseUnknownTicket(t *testing.T) {
	h := newHarness(t)
	_, err := h.tickets.Close(context.Background(), domain.ByTicket(domain.TicketID(uuid.NewString())), Closer{Kind: CloserManager})
	if !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("err = %v", err)
	}
	var de *errorutil.DomainError
	if !errors.As(MapError(err), &de) || de.Code != CodeTicketNotFound || !de.Expected() {
		t.Fatalf("mapped = %+v", de)
	}
}

func TestEscalateIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.open(t, 42, "ivan")

	first, err := h.tickets.Escalate(ctx, domain.ByTicket(ticket.ID), EscalationInput{Source: events.SourceManager, Name: "Anna", Reason: "billing"})
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if first.Status != domain.TicketStatusEscalated || !first.AIDisabled || first.EscalatedAt == nil {
		t.Fatalf("escalated = %+v", first)
	}
	second, err := h.tickets.Escalate(ctx, domain.ByTicket(ticket.ID), EscalationInput{Source: events.SourceManager})
	if err != nil || second.Status != domain.TicketStatusEscalated {
		t.Fatalf("second escalate = %+v, %v", second, err)
	}
	if got := h.rec.Count("Тикет эскалирован"); got != 1 {
		t.Fatalf("escalation notice posted %d times", got)
	}
	topic, _ := h.rec.Topic(*ticket.TopicID)
	if topic.Name != "🔥 @ivan" {
		t.Fatalf("topic = %q", topic.Name)
	}
}

func TestClientEscalationOfSuspiciousTicketKeepsStatus(t *testing.T) {
	h := newHarness(t)
	h.profiles.set(42, notFoundSnapshot())
	h.open(t, 42, "ghost")

	ticket, err := h.tickets.Escalate(context.Background(), domain.ByClient(42), EscalationInput{Source: events.SourceClient, Name: "ghost"})
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if ticket.Status != domain.TicketStatusSuspicious || !ticket.AIDisabled {
		t.Fatalf("ticket = %+v", ticket)
	}
	if !h.rec.Contains("Подозрительный клиент @ghost вызывает менеджера!") {
		t.Fatal("suspicious call notice missing")
	}
}

func TestMarkSuspicious(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.open(t, 42, "ivan")

	marked, err := h.tickets.MarkSuspicious(ctx, domain.ByTicket(ticket.ID), "", managerActor)
	if err != nil || marked.Status != domain.TicketStatusSuspicious || *marked.Reason != "manual_review" {
		t.Fatalf("marked = %+v, %v", marked, err)
	}
	again, err := h.tickets.MarkSuspicious(ctx, domain.ByTicket(ticket.ID), "other", managerActor)
	if err != nil || *again.Reason != "manual_review" {
		t.Fatalf("second mark = %+v, %v", again, err)
	}
}

func TestRecordProofNotifiesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.profiles.set(42, notFoundSnapshot())
	ticket := h.open(t, 42, "ghost")

	first, err := h.tickets.RecordProof(ctx, domain.ByTicket(ticket.ID), domain.Attachment{Type: domain.AttachmentPhoto, Value: "file-1"})
	if err != nil || first.Count != 1 || !first.Notified {
		t.Fatalf("first proof = %+v, %v", first, err)
	}
	second, err := h.tickets.RecordProof(ctx, domain.ByTicket(ticket.ID), domain.Attachment{Type: domain.AttachmentPhoto, Value: "file-2"})
	if err != nil || second.Count != 2 || second.Notified {
		t.Fatalf("second proof = %+v, %v", second, err)
	}
	if got := h.rec.Count("ВНИМАНИЕ!"); got != 1 {
		t.Fatalf("proof alert posted %d times", got)
	}
	if !h.dir.HasProof(42) {
		t.Fatal("directory must remember the proof")
	}
}

func TestRecordProofAfterLateMarkSuspicious(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.open(t, 42, "ivan")

	early, err := h.tickets.RecordProof(ctx, domain.ByTicket(ticket.ID), domain.Attachment{Type: domain.AttachmentPhoto, Value: "f-1"})
	if err != nil || early.Notified {
		t.Fatalf("open ticket proof = %+v, %v", early, err)
	}
	if _, err := h.tickets.MarkSuspicious(ctx, domain.ByTicket(ticket.ID), "", managerActor); err != nil {
		t.Fatalf("MarkSuspicious: %v", err)
	}

	link := domain.Attachment{Type: domain.AttachmentSubscriptionLink, Value: "https://panel.example.com/sub/abc"}
	res, err := h.tickets.RecordProof(ctx, domain.ByTicket(ticket.ID), link)
	if err != nil || res.Count != 2 || !res.Notified {
		t.Fatalf("proof after mark = %+v, %v", res, err)
	}
	if got := h.rec.Count("ВНИМАНИЕ!"); got != 1 {
		t.Fatalf("proof alert posted %d times", got)
	}
}

func TestProofSurvivesDirectoryRebuild(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.profiles.set(42, notFoundSnapshot())
	ticket := h.open(t, 42, "ghost")
	if _, err := h.tickets.RecordProof(ctx, domain.ByTicket(ticket.ID), domain.Attachment{Type: domain.AttachmentPhoto, Value: "f-1"}); err != nil {
		t.Fatalf("RecordProof: %v", err)
	}

	dir := directory.New(supportGroup)
	restarted := NewTicketService(TicketDependencies{
		TicketRepo:     h.store.Tickets(),
		MessageRepo:    h.store.Messages(),
		AttachmentRepo: h.store.Attachments(),
		AuditRepo:      h.store.Audit(),
		Directory:      dir,
		Profiles:       h.profiles,
		Gateway:        gateway.NewBestEffort(h.rec, time.Second, zaptest.NewLogger(t)),
		SupportChatID:  supportGroup,
		Logger:         zaptest.NewLogger(t),
	})
	again, created, err := restarted.EnsureTicket(ctx, ClientContact{ID: 42, Username: "ghost"})
	if err != nil || created || again.ID != ticket.ID {
		t.Fatalf("EnsureTicket = %+v, %v, %v", again, created, err)
	}
	if !dir.HasProof(42) {
		t.Fatal("proof flag must be rebuilt from stored attachments")
	}
	res, err := restarted.RecordProof(ctx, domain.ByTicket(ticket.ID), domain.Attachment{Type: domain.AttachmentPhoto, Value: "f-2"})
	if err != nil || res.Notified {
		t.Fatalf("proof after rebuild = %+v, %v", res, err)
	}
}

func TestPhotoProofPostsScreenshotNotice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.profiles.set(42, notFoundSnapshot())
	ticket := h.open(t, 42, "ghost")

	for _, file := range []string{"f-1", "f-2"} {
		if _, err := h.tickets.RecordProof(ctx, domain.ByTicket(ticket.ID), domain.Attachment{Type: domain.AttachmentPhoto, Value: file}); err != nil {
			t.Fatalf("RecordProof: %v", err)
		}
	}
	if got := h.rec.Count("Получен скриншот от подозрительного пользователя"); got != 1 {
		t.Fatalf("screenshot notice posted %d times", got)
	}
}

func TestRecordProofOnOpenTicketIsSilent(t *testing.T) {
	h := newHarness(t)
	ticket := h.open(t, 42, "ivan")
	result, err := h.tickets.RecordProof(context.Background(), domain.ByTicket(ticket.ID), domain.Attachment{Type: domain.AttachmentPhoto, Value: "f"})
	if err != nil || result.Notified {
		t.Fatalf("result = %+v, %v", result, err)
	}
}

func TestCreateThenGet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ticket, created, err := h.tickets.Create(ctx, CreateInput{ClientID: 7, ClientUsername: "@olga", UserData: map[string]any{"uuid": "u"}})
	if err != nil || !created {
		t.Fatalf("Create = %v, %v", created, err)
	}
	if ticket.Status != domain.TicketStatusOpen || ticket.ClientName != "olga" {
		t.Fatalf("ticket = %+v", ticket)
	}
	got, err := h.tickets.Get(ctx, ticket.ID)
	if err != nil || got.ClientID != 7 || len(got.History) != 0 {
		t.Fatalf("Get = %+v, %v", got, err)
	}

	same, created, err := h.tickets.Create(ctx, CreateInput{ClientID: 7})
	if err != nil || created || same.ID != ticket.ID {
		t.Fatalf("second Create = %+v, %v, %v", same, created, err)
	}

	suspicious, _, err := h.tickets.Create(ctx, CreateInput{ClientID: 8, ClientName: "Petr"})
	if err != nil || suspicious.Status != domain.TicketStatusSuspicious {
		t.Fatalf("no user data must mark suspicious: %+v, %v", suspicious, err)
	}

	if _, _, err := h.tickets.Create(ctx, CreateInput{}); !errors.Is(err, ErrClientRequired) {
		t.Fatalf("err = %v", err)
	}
}

func TestGetRejectsMalformedID(t *testing.T) {
	h := newHarness(t)
	if _, err := h.tickets.Get(context.Background(), "not-a-uuid"); !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestRemoveHidesTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.profiles.set(42, notFoundSnapshot())
	ticket := h.open(t, 42, "ghost")

	removed, changed, err := h.tickets.Remove(ctx, domain.ByTicket(ticket.ID), managerActor)
	if err != nil || !changed || !removed.IsRemoved {
		t.Fatalf("Remove = %+v, %v, %v", removed, changed, err)
	}
	if _, changed, err := h.tickets.Remove(ctx, domain.ByTicket(ticket.ID), managerActor); err != nil || changed {
		t.Fatalf("second Remove = %v, %v", changed, err)
	}

	for _, kind := range []ListKind{ListActive, ListSuspicious} {
		list, err := h.tickets.List(ctx, kind)
		if err != nil || len(list) != 0 {
			t.Fatalf("List(%s) = %+v, %v", kind, list, err)
		}
	}
	got, err := h.tickets.Get(ctx, ticket.ID)
	if err != nil || !got.IsRemoved {
		t.Fatalf("removed ticket must stay readable: %+v, %v", got, err)
	}
	result, err := h.tickets.Close(ctx, domain.ByTicket(ticket.ID), Closer{Kind: CloserManager})
	if err != nil || !result.AlreadyClosed {
		t.Fatalf("closing a removed ticket = %+v, %v", result, err)
	}
}

func TestListQueues(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.open(t, 1, "a")
	escalated := h.open(t, 2, "b")
	h.profiles.set(3, notFoundSnapshot())
	h.open(t, 3, "c")
	if _, err := h.tickets.Escalate(ctx, domain.ByTicket(escalated.ID), EscalationInput{Source: events.SourceManager}); err != nil {
		t.Fatalf("Escalate: %v", err)
	}

	active, _ := h.tickets.List(ctx, ListActive)
	if len(active) != 3 || active[0].Status != domain.TicketStatusSuspicious || active[1].Status != domain.TicketStatusEscalated {
		t.Fatalf("active order = %+v", active)
	}
	onlyEscalated, _ := h.tickets.List(ctx, ListEscalated)
	if len(onlyEscalated) != 1 || onlyEscalated[0].ID != escalated.ID {
		t.Fatalf("escalated = %+v", onlyEscalated)
	}
}

func TestReplyDeliversAndMirrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.open(t, 42, "ivan")

	entry, err := h.tickets.Reply(ctx, domain.ByTicket(ticket.ID), ManagerReply{Name: "Anna", Text: "  Проверьте приложение  "})
	if err != nil || entry.Content != "Проверьте приложение" || !entry.SentToTelegram {
		t.Fatalf("Reply = %+v, %v", entry, err)
	}
	direct := h.rec.SentTo(42, 0)
	if len(direct) != 1 || !strings.Contains(direct[0].Text, "Поддержка</b> (Anna)") {
		t.Fatalf("direct = %+v", direct)
	}
	if !h.rec.Contains("👨‍💼 <b>Anna:</b>") {
		t.Fatal("reply must be mirrored into the topic")
	}

	if _, err := h.tickets.Reply(ctx, domain.ByTicket(ticket.ID), ManagerReply{Text: " "}); !errors.Is(err, ErrMessageRequired) {
		t.Fatalf("blank reply err = %v", err)
	}
}

func TestReplyDeliveryFailureStillSaves(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.open(t, 42, "ivan")
	h.rec.SetFail("send_direct", true)

	entry, err := h.tickets.Reply(ctx, domain.ByTicket(ticket.ID), ManagerReply{Text: "hello"})
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("err = %v", err)
	}
	if entry == nil || entry.SentToTelegram {
		t.Fatalf("entry = %+v", entry)
	}
	got, _ := h.tickets.Get(ctx, ticket.ID)
	if len(got.History) != 1 || got.History[0].SentToTelegram {
		t.Fatalf("history = %+v", got.History)
	}
	var de *errorutil.DomainError
	if !errors.As(MapError(err), &de) || de.Code != CodeTelegramUnavailable || de.Details["saved"] != true {
		t.Fatalf("mapped = %+v", de)
	}
}

func TestRelayManagerMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.open(t, 42, "ivan")

	msg := domain.InboundMessage{From: domain.Sender{ID: 900, FirstName: "Anna"}, Text: "Готово"}
	got, err := h.tickets.RelayManagerMessage(ctx, supportGroup, *ticket.TopicID, msg)
	if err != nil || got.ID != ticket.ID {
		t.Fatalf("relay = %+v, %v", got, err)
	}
	direct := h.rec.SentTo(42, 0)
	if len(direct) != 1 || !strings.Contains(direct[0].Text, "Готово") {
		t.Fatalf("direct = %+v", direct)
	}

	photo := domain.InboundMessage{From: msg.From, Media: &domain.Media{Kind: domain.MediaPhoto, FileID: "f1"}}
	if _, err := h.tickets.RelayManagerMessage(ctx, supportGroup, *ticket.TopicID, photo); err != nil {
		t.Fatalf("relay photo: %v", err)
	}
	stored, _ := h.tickets.Get(ctx, ticket.ID)
	if len(stored.History) != 2 || stored.History[1].Content != "[фото]" {
		t.Fatalf("history = %+v", stored.History)
	}

	if _, err := h.tickets.RelayManagerMessage(ctx, -1, *ticket.TopicID, msg); !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("foreign chat err = %v", err)
	}
}

func TestAuditTrailOutlivesTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.open(t, 42, "ivan")
	if _, err := h.tickets.Close(ctx, domain.ByTicket(ticket.ID), Closer{Kind: CloserManager}); err != nil {
		t.Fatalf("Close: %v", err)
	}

	trail, err := h.tickets.Audit(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	var types []string
	for _, e := range trail {
		types = append(types, e.EventType)
	}
	joined := strings.Join(types, ",")
	for _, want := range []string{string(events.EventTicketOpened), string(events.EventTicketTopicAttached), string(events.EventTicketClosed)} {
		if !strings.Contains(joined, want) {
			t.Fatalf("audit %v missing %s", types, want)
		}
	}
	if h.metrics.Snapshot().Transitions[string(events.EventTicketClosed)] != 1 {
		t.Fatalf("metrics = %+v", h.metrics.Snapshot())
	}
}

func TestResolveRefPurgesStaleDirectoryEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.open(t, 42, "ivan")

	if _, err := h.store.Tickets().DeleteWithTombstone(ctx, ticket.ID, domain.ActiveStatuses, "test"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := h.tickets.ResolveRef(ctx, domain.ByClient(42)); !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("err = %v", err)
	}
	if _, ok := h.dir.ResolveTopic(42); ok {
		t.Fatal("stale entry must be purged")
	}
}
