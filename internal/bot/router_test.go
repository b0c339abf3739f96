package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"
	"go.uber.org/zap/zaptest"

	"github.com/reshala/support-desk/internal/ai"
	"github.com/reshala/support-desk/internal/directory"
	"github.com/reshala/support-desk/internal/domain"
	"github.com/reshala/support-desk/internal/events"
	"github.com/reshala/support-desk/internal/gateway"
	"github.com/reshala/support-desk/internal/gateway/gatewaytest"
	"github.com/reshala/support-desk/internal/profile"
	"github.com/reshala/support-desk/internal/repository"
	"github.com/reshala/support-desk/internal/service"
)

const (
	supportGroup = int64(-1001234567890)
	clientID     = int64(42)
	managerID    = int64(900)
)

type stubProfiles struct{}

func (stubProfiles) Lookup(context.Context, domain.ClientID) profile.Snapshot {
	return profile.Snapshot{Result: profile.Result{
		Kind: profile.KindFound,
		User: &profile.User{UUID: "u-1", Username: "ivan", Status: "ACTIVE"},
	}}
}

func (stubProfiles) Transactions(context.Context, domain.ClientID) ([]profile.Transaction, error) {
	return nil, nil
}

func (stubProfiles) Apply(context.Context, domain.ClientID, profile.Action) error { return nil }

type fixture struct {
	rec     *gatewaytest.Recorder
	tickets *service.TicketService
	router  *Router
}

func newFixture(t *testing.T, supportChat int64) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := repository.NewMemoryStore()
	rec := gatewaytest.New()
	gw := gateway.NewBestEffort(rec, time.Second, logger)
	dispatcher := events.NewInMemoryDispatcher()
	dir := directory.New(supportChat)
	dir.Subscribe(dispatcher)

	tickets := service.NewTicketService(service.TicketDependencies{
		TicketRepo:     store.Tickets(),
		MessageRepo:    store.Messages(),
		AttachmentRepo: store.Attachments(),
		AuditRepo:      store.Audit(),
		Directory:      dir,
		Profiles:       stubProfiles{},
		Gateway:        gw,
		Dispatcher:     dispatcher,
		SupportChatID:  supportChat,
		Logger:         logger,
	})
	conversation := service.NewConversationService(service.ConversationDependencies{
		Tickets:   tickets,
		Knowledge: store.Knowledge(),
		Profiles:  stubProfiles{},
		Billing:   stubProfiles{},
		Prompt:    ai.PromptBuilder{ServiceName: "Test VPN"},
		Logger:    logger,
	})
	router := NewRouter(RouterDependencies{
		Conversation: conversation,
		Tickets:      tickets,
		Cards:        service.NewCardService(tickets, stubProfiles{}, logger),
		Gateway:      gw,
		IsManager:    func(id int64) bool { return id == managerID },
		MiniAppURL:   "https://support.example.com",
		Logger:       logger,
	})
	return &fixture{rec: rec, tickets: tickets, router: router}
}

func privateText(text string) *models.Update {
	return &models.Update{Message: &models.Message{
		ID:   1,
		Chat: models.Chat{ID: clientID, Type: models.ChatTypePrivate},
		From: &models.User{ID: clientID, Username: "ivan", FirstName: "Ivan"},
		Text: text,
	}}
}

func topicMessage(thread domain.ThreadID, from *models.User, text string) *models.Update {
	return &models.Update{Message: &models.Message{
		ID:              7,
		Chat:            models.Chat{ID: supportGroup, Type: models.ChatTypeSupergroup},
		MessageThreadID: int(thread),
		From:            from,
		Text:            text,
	}}
}

func callback(from int64, data string, chat int64, thread domain.ThreadID) *models.Update {
	return &models.Update{CallbackQuery: &models.CallbackQuery{
		ID:   "cb",
		From: models.User{ID: from, Username: "anna"},
		Data: data,
		Message: models.MaybeInaccessibleMessage{
			Type:    models.MaybeInaccessibleMessageTypeMessage,
			Message: &models.Message{ID: 55, Chat: models.Chat{ID: chat}, MessageThreadID: int(thread)},
		},
	}}
}

func (f *fixture) active(t *testing.T) *domain.Ticket {
	t.Helper()
	ticket, err := f.tickets.ResolveRef(context.Background(), domain.ByClient(domain.ClientID(clientID)))
	if err != nil {
		t.Fatalf("ResolveRef: %v", err)
	}
	return ticket
}

func (f *fixture) lastAnswer(t *testing.T) string {
	t.Helper()
	if len(f.rec.Answers) == 0 {
		t.Fatal("no callback answered")
	}
	return f.rec.Answers[len(f.rec.Answers)-1]
}

func TestPrivateMessageOpensTicket(t *testing.T) {
	f := newFixture(t, supportGroup)
	f.router.Dispatch(context.Background(), privateText("не работает vpn"))

	ticket := f.active(t)
	if !ticket.HasTopic() || f.rec.TopicCount() != 1 {
		t.Fatalf("ticket topic = %v, topics = %d", ticket.TopicID, f.rec.TopicCount())
	}
	replies := f.rec.SentTo(clientID, 0)
	if len(replies) != 1 || replies[0].Text != service.ReplyAccepted || len(replies[0].Keyboard) == 0 {
		t.Fatalf("client replies = %+v", replies)
	}
	if !f.rec.Contains("не работает vpn") {
		t.Fatal("message not forwarded to the topic")
	}
}

func TestPrivateMessageWithoutSupportGroup(t *testing.T) {
	f := newFixture(t, 0)
	f.router.Dispatch(context.Background(), privateText("hello"))

	replies := f.rec.SentTo(clientID, 0)
	if len(replies) != 1 || replies[0].Text != "Поддержка Test VPN временно недоступна." {
		t.Fatalf("client replies = %+v", replies)
	}
	if f.rec.TopicCount() != 0 {
		t.Fatal("no topic may be created without a support group")
	}
}

func TestStartCommand(t *testing.T) {
	f := newFixture(t, supportGroup)
	f.router.Dispatch(context.Background(), privateText("/start"))
	if !f.rec.Contains("Здравствуйте! Это поддержка Test VPN.") {
		t.Fatalf("greeting not sent: %+v", f.rec.Sent)
	}

	update := privateText("/start@support_bot")
	update.Message.Chat.ID = managerID
	update.Message.From.ID = managerID
	f.router.Dispatch(context.Background(), update)
	sent := f.rec.SentTo(managerID, 0)
	if len(sent) != 1 || sent[0].Keyboard[0][0].URL != "https://support.example.com" {
		t.Fatalf("manager greeting = %+v", sent)
	}
	if f.rec.TopicCount() != 0 {
		t.Fatal("/start must not open a ticket")
	}
}

func TestTopicMessageIsRelayed(t *testing.T) {
	f := newFixture(t, supportGroup)
	ctx := context.Background()
	f.router.Dispatch(ctx, privateText("help"))
	thread := *f.active(t).TopicID

	f.router.Dispatch(ctx, topicMessage(thread, &models.User{ID: managerID, Username: "anna"}, "перезагрузите роутер"))
	relayed := f.rec.SentTo(clientID, 0)
	if got := relayed[len(relayed)-1].Text; !strings.Contains(got, "перезагрузите роутер") {
		t.Fatalf("relay = %q", got)
	}

	before := len(f.rec.Sent)
	f.router.Dispatch(ctx, topicMessage(thread, &models.User{ID: 1, IsBot: true}, "bot echo"))
	edited := topicMessage(thread, &models.User{ID: managerID}, "")
	edited.Message.ForumTopicEdited = &models.ForumTopicEdited{Name: "renamed"}
	f.router.Dispatch(ctx, edited)
	f.router.Dispatch(ctx, topicMessage(0, &models.User{ID: managerID}, "general chatter"))
	if len(f.rec.Sent) != before {
		t.Fatalf("bot, service and general messages must not be relayed: %+v", f.rec.Sent[before:])
	}
}

func TestTopicMessageFromNonManagerIsDropped(t *testing.T) {
	f := newFixture(t, supportGroup)
	ctx := context.Background()
	f.router.Dispatch(ctx, privateText("help"))
	ticket := f.active(t)

	before := len(f.rec.SentTo(clientID, 0))
	f.router.Dispatch(ctx, topicMessage(*ticket.TopicID, &models.User{ID: 777, Username: "member"}, "I am not a manager"))
	if got := len(f.rec.SentTo(clientID, 0)); got != before {
		t.Fatalf("client got %d messages, want %d", got, before)
	}
	if f.rec.Contains("I am not a manager") {
		t.Fatal("non-manager text must not reach the client")
	}
	stored, err := f.tickets.Get(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for _, entry := range stored.History {
		if entry.Role == domain.RoleManager {
			t.Fatalf("history must not carry a manager entry: %+v", entry)
		}
	}
}

func TestManagerCallbacksRequireAllowList(t *testing.T) {
	f := newFixture(t, supportGroup)
	ctx := context.Background()
	f.router.Dispatch(ctx, privateText("help"))
	ticket := f.active(t)

	f.router.Dispatch(ctx, callback(777, service.TicketCallback(service.TicketOpClose, domain.ByTicket(ticket.ID)), supportGroup, *ticket.TopicID))
	if got := f.lastAnswer(t); got != answerForbidden {
		t.Fatalf("answer = %q", got)
	}
	if f.active(t).Status != domain.TicketStatusOpen {
		t.Fatal("forbidden close changed the ticket")
	}
}

func TestManagerCloseCallback(t *testing.T) {
	f := newFixture(t, supportGroup)
	ctx := context.Background()
	f.router.Dispatch(ctx, privateText("help"))
	ticket := f.active(t)
	data := service.TicketCallback(service.TicketOpClose, domain.ByTicket(ticket.ID))

	f.router.Dispatch(ctx, callback(managerID, data, supportGroup, *ticket.TopicID))
	if got := f.lastAnswer(t); got != answerClosed {
		t.Fatalf("answer = %q", got)
	}
	if _, err := f.tickets.ResolveRef(ctx, domain.ByClient(domain.ClientID(clientID))); !errors.Is(err, service.ErrTicketNotFound) {
		t.Fatalf("closed ticket still active: %v", err)
	}

	f.router.Dispatch(ctx, callback(managerID, data, supportGroup, *ticket.TopicID))
	if got := f.lastAnswer(t); got != answerAlreadyClosed {
		t.Fatalf("second close answer = %q", got)
	}
}

func TestCardNavigation(t *testing.T) {
	f := newFixture(t, supportGroup)
	ctx := context.Background()
	f.router.Dispatch(ctx, privateText("help"))
	ticket := f.active(t)

	f.router.Dispatch(ctx, callback(managerID, service.SectionCallback(ticket.ClientID, service.SectionTraffic), supportGroup, *ticket.TopicID))
	if len(f.rec.Edits) != 1 {
		t.Fatalf("edits = %d", len(f.rec.Edits))
	}
	if got := f.lastAnswer(t); got != "" {
		t.Fatalf("answer = %q", got)
	}

	f.router.Dispatch(ctx, callback(managerID, service.ActionCallback(ticket.ClientID, service.CardStopAI), supportGroup, *ticket.TopicID))
	if !f.active(t).AIDisabled {
		t.Fatal("stop_ai did not disable the auto-responder")
	}
	if len(f.rec.Edits) != 2 {
		t.Fatalf("card not refreshed after stop_ai, edits = %d", len(f.rec.Edits))
	}
}

func TestClientCallManagerCallback(t *testing.T) {
	f := newFixture(t, supportGroup)
	ctx := context.Background()
	f.router.Dispatch(ctx, privateText("help"))

	f.router.Dispatch(ctx, callback(clientID, service.CallbackAskCallManager, clientID, 0))
	if !f.rec.Contains(service.ReplyConfirmCall) {
		t.Fatal("confirmation prompt not sent")
	}

	f.router.Dispatch(ctx, callback(clientID, service.CallbackCallManager, clientID, 0))
	if got := f.lastAnswer(t); got != answerManagerCalled {
		t.Fatalf("answer = %q", got)
	}
	ticket := f.active(t)
	if ticket.Status != domain.TicketStatusEscalated {
		t.Fatalf("status = %s", ticket.Status)
	}
	if len(f.rec.Edits) == 0 || f.rec.Edits[len(f.rec.Edits)-1] != service.ReplyManagerCalled {
		t.Fatalf("confirmation not replaced: %v", f.rec.Edits)
	}
}

func TestClientCancelAndUnknownCallbacks(t *testing.T) {
	f := newFixture(t, supportGroup)
	ctx := context.Background()

	f.router.Dispatch(ctx, callback(clientID, service.CallbackCancelClient, clientID, 0))
	if got := f.lastAnswer(t); got != service.ReplyCancelled {
		t.Fatalf("answer = %q", got)
	}
	if len(f.rec.Edits) != 1 || f.rec.Edits[0] != editCancelled {
		t.Fatalf("edits = %v", f.rec.Edits)
	}

	f.router.Dispatch(ctx, callback(clientID, "garbage", clientID, 0))
	if got := f.lastAnswer(t); got != answerUnknown {
		t.Fatalf("answer = %q", got)
	}
}

func TestInboundMessageMedia(t *testing.T) {
	m := &models.Message{
		ID:      3,
		Chat:    models.Chat{ID: clientID},
		From:    &models.User{ID: clientID},
		Caption: "скрин",
		Photo:   []models.PhotoSize{{FileID: "small"}, {FileID: "large"}},
	}
	msg := inboundMessage(m)
	if msg.Text != "скрин" || !msg.IsPhoto() || msg.Media.FileID != "large" {
		t.Fatalf("msg = %+v", msg)
	}

	doc := inboundMessage(&models.Message{Document: &models.Document{FileID: "d"}, Animation: &models.Animation{FileID: "a"}})
	if doc.Media.Kind != domain.MediaAnimation {
		t.Fatalf("animation kind = %s", doc.Media.Kind)
	}
	if inboundMessage(&models.Message{Text: "x"}).HasMedia() {
		t.Fatal("text message has no media")
	}
}

func TestIsCommand(t *testing.T) {
	cases := map[string]bool{
		"/start":         true,
		"/start@bot":     true,
		"/start payload": true,
		"/starter":       false,
		"start":          false,
		"":               false,
	}
	for text, want := range cases {
		if got := isCommand(text, "start"); got != want {
			t.Errorf("isCommand(%q) = %v", text, got)
		}
	}
}
