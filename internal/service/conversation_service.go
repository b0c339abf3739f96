package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/reshala/support-desk/internal/ai"
	"github.com/reshala/support-desk/internal/domain"
	"github.com/reshala/support-desk/internal/events"
	"github.com/reshala/support-desk/internal/gateway"
	"github.com/reshala/support-desk/internal/observability"
	"github.com/reshala/support-desk/internal/profile"
	"github.com/reshala/support-desk/internal/repository"
	"github.com/reshala/support-desk/internal/triage"
)

// Client-facing texts.
const (
	ReplyAccepted      = "Ваше сообщение принято."
	ReplyFileReceived  = "Получил ваш файл."
	ReplyManagerCalled = "Менеджер скоро подключится."
	ReplyTicketClosed  = "Тикет закрыт. Если нужна помощь — пишите снова."
	ReplyConfirmCall   = "Вызвать менеджера? AI перестанет отвечать в этом тикете."
	ReplyConfirmClose  = "Закрыть тикет?"
	ReplyCancelled     = "Действие отменено"
)

// TransactionLookup fetches the billing history of a client.
type TransactionLookup interface {
	Transactions(ctx context.Context, clientID domain.ClientID) ([]profile.Transaction, error)
}

// ClientReply is what the bot sends back into the private chat.
type ClientReply struct {
	Text      string
	Keyboard  gateway.Keyboard
	Ticket    *domain.Ticket
	Escalated bool
}

// ConversationService runs the client message pipeline: ticket, proof, forward, AI, triage.
type ConversationService struct {
	tickets    *TicketService
	knowledge  repository.KnowledgeRepository
	profiles   ProfileLookup
	billing    TransactionLookup
	ai         ai.Client
	classifier *triage.Classifier
	prompt     atomic.Pointer[ai.PromptBuilder]
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// ConversationDependencies wires the conversation pipeline.
type ConversationDependencies struct {
	Tickets    *TicketService
	Knowledge  repository.KnowledgeRepository
	Profiles   ProfileLookup
	Billing    TransactionLookup
	AI         ai.Client
	Classifier *triage.Classifier
	Prompt     ai.PromptBuilder
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// NewConversationService constructs the pipeline. A nil AI client disables auto-replies.
func NewConversationService(deps ConversationDependencies) *ConversationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	classifier := deps.Classifier
	if classifier == nil {
		classifier = triage.NewClassifier(nil)
	}
	c := &ConversationService{
		tickets:    deps.Tickets,
		knowledge:  deps.Knowledge,
		profiles:   deps.Profiles,
		billing:    deps.Billing,
		ai:         deps.AI,
		classifier: classifier,
		metrics:    deps.Metrics,
		logger:     logger.With(zap.String("component", "conversation")),
	}
	c.SetPrompt(deps.Prompt)
	return c
}

// SetPrompt swaps the prompt settings, e.g. after a tuning reload.
func (c *ConversationService) SetPrompt(p ai.PromptBuilder) {
	c.prompt.Store(&p)
}

// Prompt returns the active prompt settings.
func (c *ConversationService) Prompt() ai.PromptBuilder {
	return *c.prompt.Load()
}

// Classifier exposes the escalation classifier for reloads.
func (c *ConversationService) Classifier() *triage.Classifier { return c.classifier }

// AIEnabled reports whether auto-replies can be produced at all.
func (c *ConversationService) AIEnabled() bool { return c.ai != nil }

// Available reports whether a support group is configured.
func (c *ConversationService) Available() bool { return c.tickets.SupportChatID() != 0 }

// UnavailableText is sent to clients when no support group is configured.
func (c *ConversationService) UnavailableText() string {
	name := c.Prompt().ServiceName
	if name == "" {
		name = ai.DefaultServiceName
	}
	return fmt.Sprintf("Поддержка %s временно недоступна.", name)
}

// HandleClientMessage processes one private message from a client.
func (c *ConversationService) HandleClientMessage(ctx context.Context, msg domain.InboundMessage) (*ClientReply, error) {
	contact := ClientContact{ID: domain.ClientID(msg.From.ID), Username: msg.From.Username, FirstName: msg.From.FirstName}
	ticket, _, err := c.tickets.EnsureTicket(ctx, contact)
	if err != nil {
		return nil, err
	}
	ref := domain.ByTicket(ticket.ID)
	text := strings.TrimSpace(msg.Text)

	if link, ok := triage.DetectProof(text); ok {
		if _, err := c.tickets.RecordProof(ctx, ref, domain.Attachment{Type: domain.AttachmentSubscriptionLink, Value: link}); err != nil {
			c.logger.Warn("record link proof", zap.String("ticket_id", string(ticket.ID)), zap.Error(err))
		}
	}
	if msg.IsPhoto() {
		if _, err := c.tickets.RecordProof(ctx, ref, domain.Attachment{Type: domain.AttachmentPhoto, Value: msg.Media.FileID}); err != nil {
			c.logger.Warn("record photo proof", zap.String("ticket_id", string(ticket.ID)), zap.Error(err))
		}
	}

	shouldReply := text != "" && !ticket.AIDisabled && c.ai != nil
	var history []domain.HistoryEntry
	if shouldReply {
		window := c.Prompt().HistoryTurns
		if window <= 0 {
			window = ai.DefaultHistoryTurns
		}
		if history, err = c.tickets.RecentHistory(ctx, ticket.ID, window); err != nil {
			c.logger.Warn("load history", zap.String("ticket_id", string(ticket.ID)), zap.Error(err))
		}
	}

	if text != "" {
		entry := &domain.HistoryEntry{Role: domain.RoleUser, Content: text, AuthorName: msg.From.DisplayName()}
		if err := c.tickets.AppendHistory(ctx, ticket, entry); err != nil {
			return nil, err
		}
	}

	forward := gateway.Outbound{Text: "👤 @" + html.EscapeString(strings.TrimPrefix(msg.From.DisplayName(), "@")) + ":\n" + html.EscapeString(text)}
	if msg.HasMedia() {
		media := *msg.Media
		forward.Media = &media
	}
	c.tickets.PostToTopic(ctx, ticket, forward)

	reply := &ClientReply{Ticket: ticket, Keyboard: ClientKeyboard()}
	if !shouldReply {
		reply.Text = defaultReply(msg, text)
		return reply, nil
	}

	answer := c.ask(ctx, ticket, text, history)
	if c.classifier.ShouldEscalate(&answer) {
		c.metrics.RecordAI("escalated")
		escalated, err := c.tickets.Escalate(ctx, ref, EscalationInput{Source: events.SourceAI, AIReply: answer})
		if err != nil && !errors.Is(err, ErrStatusConflict) {
			c.logger.Warn("ai escalation", zap.String("ticket_id", string(ticket.ID)), zap.Error(err))
		}
		if escalated != nil {
			reply.Ticket = escalated
		}
		reply.Escalated = true
	} else {
		c.metrics.RecordAI("reply")
		c.tickets.PostToTopic(ctx, ticket, gateway.Outbound{Text: "🤖 AI:\n" + html.EscapeString(answer)})
	}

	if answer == "" {
		reply.Text = defaultReply(msg, text)
		return reply, nil
	}
	entry := &domain.HistoryEntry{Role: domain.RoleAI, Content: answer, AuthorName: "AI", SentToTelegram: true}
	if err := c.tickets.AppendHistory(ctx, ticket, entry); err != nil {
		c.logger.Warn("append ai history", zap.String("ticket_id", string(ticket.ID)), zap.Error(err))
	}
	reply.Text = answer
	return reply, nil
}

// ask produces the assistant answer for one turn, or "" when the provider has nothing.
func (c *ConversationService) ask(ctx context.Context, ticket *domain.Ticket, text string, history []domain.HistoryEntry) string {
	dir := c.tickets.Directory()
	snap, ok := dir.Snapshot(ticket.ClientID)
	if !ok && c.profiles != nil {
		snap = c.profiles.Lookup(ctx, ticket.ClientID)
		dir.SetSnapshot(ticket.ClientID, snap)
	}

	var articles []domain.KnowledgeArticle
	if c.knowledge != nil {
		if words := ai.KnowledgeQueryWords(text); len(words) > 0 {
			found, err := c.knowledge.Search(ctx, words, ai.MaxKnowledgeArticle)
			if err != nil {
				c.logger.Warn("knowledge search", zap.Error(err))
			}
			articles = found
		}
	}

	messages := c.Prompt().Build(ai.PromptInput{
		Snapshot: snap,
		HasProof: dir.HasProof(ticket.ClientID),
		Articles: articles,
		History:  history,
		Message:  text,
	})
	answer, err := c.ai.Chat(ctx, messages)
	if err != nil {
		c.metrics.RecordAI("no_reply")
		c.logger.Warn("ai chat", zap.String("ticket_id", string(ticket.ID)), zap.Error(err))
		return ""
	}
	return triage.StripReasoning(answer)
}

func defaultReply(msg domain.InboundMessage, text string) string {
	if text == "" && msg.HasMedia() {
		return ReplyFileReceived
	}
	return ReplyAccepted
}

// CallManager escalates the client's ticket at the client's request.
func (c *ConversationService) CallManager(ctx context.Context, from domain.Sender) (*ClientReply, error) {
	ticket, _, err := c.tickets.EnsureTicket(ctx, ClientContact{ID: domain.ClientID(from.ID), Username: from.Username, FirstName: from.FirstName})
	if err != nil {
		return nil, err
	}
	escalated, err := c.tickets.Escalate(ctx, domain.ByTicket(ticket.ID), EscalationInput{Source: events.SourceClient, Name: from.DisplayName()})
	if err != nil && !errors.Is(err, ErrStatusConflict) {
		return nil, err
	}
	if escalated != nil {
		ticket = escalated
	}
	return &ClientReply{Text: ReplyManagerCalled, Keyboard: ClientKeyboard(), Ticket: ticket, Escalated: true}, nil
}

// CloseByClient closes the client's active ticket. Without one the reply is the same.
func (c *ConversationService) CloseByClient(ctx context.Context, from domain.Sender) (*ClientReply, error) {
	result, err := c.tickets.Close(ctx, domain.ByClient(domain.ClientID(from.ID)), Closer{Kind: CloserClient, Name: from.DisplayName()})
	if err != nil && !errors.Is(err, ErrTicketNotFound) {
		return nil, err
	}
	return &ClientReply{Text: ReplyTicketClosed, Ticket: result.Ticket}, nil
}

// Balance renders the client's wallet and recent top-ups.
func (c *ConversationService) Balance(ctx context.Context, from domain.Sender) string {
	if c.profiles == nil {
		return "❌ Bedolaga API недоступен."
	}
	client := domain.ClientID(from.ID)
	snap := c.profiles.Lookup(ctx, client)
	if snap.Balance == nil {
		return "❌ Bedolaga API недоступен."
	}
	lines := []string{fmt.Sprintf("💰 <b>Ваш баланс:</b> %s %s", ai.FormatAmount(snap.Balance.Amount), orRUB(snap.Balance.Currency))}

	var deposits []profile.Transaction
	if c.billing != nil {
		txs, err := c.billing.Transactions(ctx, client)
		if err != nil {
			c.logger.Warn("load transactions", zap.Int64("client_id", int64(client)), zap.Error(err))
		}
		for _, t := range txs {
			if t.Amount > 0 {
				deposits = append(deposits, t)
			}
		}
	}
	if len(deposits) == 0 {
		return strings.Join(append(lines, "\n<i>История пополнений пуста</i>"), "\n")
	}
	lines = append(lines, "\n📋 <b>История пополнений:</b>")
	if len(deposits) > 5 {
		deposits = deposits[:5]
	}
	for _, d := range deposits {
		lines = append(lines, fmt.Sprintf("• <b>+%s %s</b> — %s", ai.FormatAmount(d.Amount), orRUB(d.Currency), shortStamp(d.CreatedAt, 10)))
	}
	return strings.Join(lines, "\n")
}
