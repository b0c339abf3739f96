package bot

import (
	"context"
	"errors"
	"fmt"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/reshala/support-desk/internal/ai"
	"github.com/reshala/support-desk/internal/domain"
	"github.com/reshala/support-desk/internal/events"
	"github.com/reshala/support-desk/internal/gateway"
	"github.com/reshala/support-desk/internal/service"
	apperrors "github.com/reshala/support-desk/pkg/errorutil"
	"github.com/reshala/support-desk/pkg/syncutil"
)

// Texts the router sends on its own.
const (
	answerForbidden     = "⛔ Нет доступа"
	answerManagerCalled = "Менеджер вызван!"
	answerClosed        = "✅ Тикет закрыт"
	answerAlreadyClosed = "Тикет уже закрыт"
	answerRemoved       = "🗑 Тикет убран"
	answerAlreadyGone   = "Тикет уже убран"
	answerUnknown       = "Кнопка устарела"
	editCancelled       = "❌ Действие отменено."
)

// Router turns Telegram updates into support desk operations.
type Router struct {
	conversation *service.ConversationService
	tickets      *service.TicketService
	cards        *service.CardService
	gw           *gateway.BestEffort
	isManager    func(int64) bool
	miniAppURL   string
	clientLocks  *syncutil.KeyedMutex[int64]
	logger       *zap.Logger
}

// RouterDependencies wires the router.
type RouterDependencies struct {
	Conversation *service.ConversationService
	Tickets      *service.TicketService
	Cards        *service.CardService
	Gateway      *gateway.BestEffort
	IsManager    func(int64) bool
	MiniAppURL   string
	Logger       *zap.Logger
}

// NewRouter constructs the router.
func NewRouter(deps RouterDependencies) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	isManager := deps.IsManager
	if isManager == nil {
		isManager = func(int64) bool { return false }
	}
	return &Router{
		conversation: deps.Conversation,
		tickets:      deps.Tickets,
		cards:        deps.Cards,
		gw:           deps.Gateway,
		isManager:    isManager,
		miniAppURL:   deps.MiniAppURL,
		clientLocks:  syncutil.NewKeyedMutex[int64](),
		logger:       logger.With(zap.String("component", "bot_router")),
	}
}

// Handle satisfies bot.HandlerFunc.
func (r *Router) Handle(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	r.Dispatch(ctx, update)
}

// Dispatch routes one update. Updates of the same client are applied in receipt order.
func (r *Router) Dispatch(ctx context.Context, update *models.Update) {
	if update == nil {
		return
	}
	switch {
	case update.Message != nil:
		r.onMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		r.onCallback(ctx, update.CallbackQuery)
	}
}

func (r *Router) onMessage(ctx context.Context, m *models.Message) {
	if m.From == nil || m.From.IsBot {
		return
	}
	switch {
	case m.Chat.Type == models.ChatTypePrivate:
		r.onPrivate(ctx, m)
	case r.tickets.Directory().IsSupportChat(m.Chat.ID):
		r.onSupportMessage(ctx, m)
	}
}

func (r *Router) onPrivate(ctx context.Context, m *models.Message) {
	msg := inboundMessage(m)
	if isCommand(msg.Text, "start") {
		r.onStart(ctx, msg)
		return
	}
	if !r.conversation.Available() {
		r.gw.Send(ctx, gateway.Outbound{ChatID: msg.ChatID, Text: r.conversation.UnavailableText(), Plain: true})
		return
	}

	unlock := r.clientLocks.Lock(msg.From.ID)
	defer unlock()

	reply, err := r.conversation.HandleClientMessage(ctx, msg)
	if err != nil {
		r.logger.Error("handle client message", zap.Int64("client_id", msg.From.ID), zap.Error(err))
		return
	}
	r.gw.Send(ctx, gateway.Outbound{ChatID: msg.ChatID, Text: reply.Text, Keyboard: reply.Keyboard, Plain: true})
}

func (r *Router) onStart(ctx context.Context, msg domain.InboundMessage) {
	name := r.conversation.Prompt().ServiceName
	if name == "" {
		name = ai.DefaultServiceName
	}
	if !r.isManager(msg.From.ID) {
		text := fmt.Sprintf("Здравствуйте! Это поддержка %s.\n\nНапишите ваше сообщение — менеджер ответит здесь в боте.", name)
		r.gw.Send(ctx, gateway.Outbound{ChatID: msg.ChatID, Text: text, Plain: true})
		return
	}
	out := gateway.Outbound{
		ChatID: msg.ChatID,
		Text:   fmt.Sprintf("<b>Панель поддержки</b>\n\nСервис: %s\n\nТикеты приходят темами в группу поддержки.", name),
	}
	if r.miniAppURL != "" {
		out.Keyboard = gateway.Keyboard{{{Text: "Открыть Mini App", URL: r.miniAppURL}}}
	}
	r.gw.Send(ctx, out)
}

func (r *Router) onSupportMessage(ctx context.Context, m *models.Message) {
	if m.MessageThreadID == 0 || isServiceMessage(m) {
		return
	}
	if !r.isManager(m.From.ID) {
		r.logger.Debug("ignoring topic message from non-manager",
			zap.Int64("user_id", m.From.ID), zap.Int("thread_id", m.MessageThreadID))
		return
	}
	msg := inboundMessage(m)
	_, err := r.tickets.RelayManagerMessage(ctx, m.Chat.ID, msg.ThreadID, msg)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrTicketNotFound):
		r.logger.Debug("message in unknown topic", zap.Int("thread_id", m.MessageThreadID))
	case errors.Is(err, service.ErrDeliveryFailed):
		r.logger.Warn("relay not delivered", zap.Int("thread_id", m.MessageThreadID))
	default:
		r.logger.Error("relay manager message", zap.Int("thread_id", m.MessageThreadID), zap.Error(err))
	}
}

func (r *Router) onCallback(ctx context.Context, cq *models.CallbackQuery) {
	cb, err := service.ParseCallback(cq.Data)
	if err != nil {
		r.logger.Debug("unknown callback", zap.String("data", cq.Data))
		r.gw.AnswerCallback(ctx, cq.ID, answerUnknown, false)
		return
	}
	from := sender(&cq.From)
	target := targetOf(cq.Message)

	if cb.IsManager() {
		if !r.isManager(from.ID) {
			r.gw.AnswerCallback(ctx, cq.ID, answerForbidden, true)
			return
		}
		r.onManagerCallback(ctx, cq.ID, cb, from, target)
		return
	}

	unlock := r.clientLocks.Lock(from.ID)
	defer unlock()
	r.onClientCallback(ctx, cq.ID, cb, from, target)
}

func (r *Router) onClientCallback(ctx context.Context, callbackID string, cb service.Callback, from domain.Sender, target callbackTarget) {
	switch cb.Name {
	case service.CallbackAskCallManager:
		r.gw.AnswerCallback(ctx, callbackID, "", false)
		r.gw.Send(ctx, gateway.Outbound{ChatID: from.ID, Text: service.ReplyConfirmCall, Keyboard: service.ConfirmKeyboard(service.CallbackCallManager), Plain: true})
	case service.CallbackAskCloseTicket:
		r.gw.AnswerCallback(ctx, callbackID, "", false)
		r.gw.Send(ctx, gateway.Outbound{ChatID: from.ID, Text: service.ReplyConfirmClose, Keyboard: service.ConfirmKeyboard(service.CallbackClientClose), Plain: true})
	case service.CallbackCancelClient:
		r.gw.AnswerCallback(ctx, callbackID, service.ReplyCancelled, false)
		if target.messageID != 0 {
			r.gw.EditCard(ctx, target.chatID, target.messageID, editCancelled, nil)
		}
	case service.CallbackCallManager:
		if !r.conversation.Available() {
			r.gw.AnswerCallback(ctx, callbackID, r.conversation.UnavailableText(), true)
			return
		}
		reply, err := r.conversation.CallManager(ctx, from)
		if err != nil {
			r.answerError(ctx, callbackID, "call manager", err)
			return
		}
		r.gw.AnswerCallback(ctx, callbackID, answerManagerCalled, false)
		r.replace(ctx, from.ID, target, reply)
	case service.CallbackClientClose:
		reply, err := r.conversation.CloseByClient(ctx, from)
		if err != nil {
			r.answerError(ctx, callbackID, "client close", err)
			return
		}
		r.gw.AnswerCallback(ctx, callbackID, "", false)
		r.replace(ctx, from.ID, target, reply)
	case service.CallbackCheckBalance:
		r.gw.AnswerCallback(ctx, callbackID, "", false)
		r.gw.Send(ctx, gateway.Outbound{ChatID: from.ID, Text: r.conversation.Balance(ctx, from)})
	}
}

// replace swaps the confirmation prompt for the outcome, or sends it when the prompt is gone.
func (r *Router) replace(ctx context.Context, chatID int64, target callbackTarget, reply *service.ClientReply) {
	if target.messageID != 0 && r.gw.EditCard(ctx, target.chatID, target.messageID, reply.Text, reply.Keyboard) {
		return
	}
	r.gw.Send(ctx, gateway.Outbound{ChatID: chatID, Text: reply.Text, Keyboard: reply.Keyboard, Plain: true})
}

func (r *Router) onManagerCallback(ctx context.Context, callbackID string, cb service.Callback, from domain.Sender, target callbackTarget) {
	actor := events.Actor{Source: events.SourceManager, ManagerID: &from.ID, Name: from.DisplayName()}

	switch cb.Kind {
	case service.CallbackSection:
		if err := r.refreshCard(ctx, cb.Client, cb.Section, target); err != nil {
			r.answerError(ctx, callbackID, "render card", err)
			return
		}
		r.gw.AnswerCallback(ctx, callbackID, "", false)
	case service.CallbackAction:
		out, err := r.cards.Act(ctx, cb.Client, cb.Action, actor)
		if err != nil {
			r.answerError(ctx, callbackID, "card action", err)
			return
		}
		if out.Refresh {
			if err := r.refreshCard(ctx, cb.Client, service.SectionProfile, target); err != nil {
				r.logger.Warn("refresh card", zap.Int64("client_id", int64(cb.Client)), zap.Error(err))
			}
		}
		r.gw.AnswerCallback(ctx, callbackID, out.Answer, out.Alert)
		if out.Message != "" && target.chatID != 0 {
			r.gw.Send(ctx, gateway.Outbound{ChatID: target.chatID, ThreadID: target.thread, Text: out.Message})
		}
	case service.CallbackTicket:
		r.onTicketOp(ctx, callbackID, cb, from, actor)
	}
}

func (r *Router) refreshCard(ctx context.Context, client domain.ClientID, section service.CardSection, target callbackTarget) error {
	text, keyboard, err := r.cards.Render(ctx, client, section)
	if err != nil {
		return err
	}
	if target.messageID != 0 {
		r.gw.EditCard(ctx, target.chatID, target.messageID, text, keyboard)
	}
	return nil
}

func (r *Router) onTicketOp(ctx context.Context, callbackID string, cb service.Callback, from domain.Sender, actor events.Actor) {
	switch cb.TicketOp {
	case service.TicketOpClose:
		res, err := r.tickets.Close(ctx, cb.Ref, service.Closer{Kind: service.CloserManager, Name: from.DisplayName()})
		if err != nil {
			r.answerError(ctx, callbackID, "close ticket", err)
			return
		}
		if res.AlreadyClosed {
			r.gw.AnswerCallback(ctx, callbackID, answerAlreadyClosed, false)
			return
		}
		r.gw.AnswerCallback(ctx, callbackID, answerClosed, false)
	case service.TicketOpRemove:
		_, changed, err := r.tickets.Remove(ctx, cb.Ref, actor)
		if err != nil {
			r.answerError(ctx, callbackID, "remove ticket", err)
			return
		}
		if !changed {
			r.gw.AnswerCallback(ctx, callbackID, answerAlreadyGone, false)
			return
		}
		r.gw.AnswerCallback(ctx, callbackID, answerRemoved, false)
	}
}

func (r *Router) answerError(ctx context.Context, callbackID, op string, err error) {
	de := apperrors.ToDomainError(service.MapError(err))
	if de.Expected() {
		r.logger.Info(op, zap.String("code", de.Code), zap.Error(err))
	} else {
		r.logger.Error(op, zap.Error(err))
	}
	r.gw.AnswerCallback(ctx, callbackID, "❌ "+de.Message, true)
}
