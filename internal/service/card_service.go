package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reshala/support-desk/internal/ai"
	"github.com/reshala/support-desk/internal/domain"
	"github.com/reshala/support-desk/internal/events"
	"github.com/reshala/support-desk/internal/gateway"
	"github.com/reshala/support-desk/internal/profile"
)

// CardProfiles is the profile surface the manager card needs.
type CardProfiles interface {
	ProfileLookup
	TransactionLookup
	Apply(ctx context.Context, clientID domain.ClientID, action profile.Action) error
}

// CardService renders the manager card and runs its buttons.
type CardService struct {
	tickets  *TicketService
	profiles CardProfiles
	logger   *zap.Logger
	now      func() time.Time
}

// NewCardService constructs the service.
func NewCardService(tickets *TicketService, profiles CardProfiles, logger *zap.Logger) *CardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CardService{
		tickets:  tickets,
		profiles: profiles,
		logger:   logger.With(zap.String("component", "card")),
		now:      time.Now,
	}
}

// CardOutcome tells the bot how to answer a card button.
type CardOutcome struct {
	// Answer is the callback toast.
	Answer string
	Alert  bool
	// Message is posted into the topic when set.
	Message string
	// Refresh asks for the card to be re-rendered in place.
	Refresh bool
}

// Render builds the card body and keyboard for a client.
func (c *CardService) Render(ctx context.Context, client domain.ClientID, section CardSection) (string, gateway.Keyboard, error) {
	ticket, err := c.tickets.ResolveRef(ctx, domain.ByClient(client))
	if err != nil && !errors.Is(err, ErrTicketNotFound) {
		return "", nil, err
	}

	view := CardView{Client: client, Ticket: ticket, Section: section, Now: c.now()}
	if ticket != nil {
		view.ClientName = ticket.DisplayName()
	}
	if c.profiles != nil {
		view.Snapshot = c.profiles.Lookup(ctx, client)
		c.tickets.Directory().SetSnapshot(client, view.Snapshot)
		if section == SectionTransactions {
			txs, err := c.profiles.Transactions(ctx, client)
			if err != nil {
				c.logger.Warn("load transactions", zap.Int64("client_id", int64(client)), zap.Error(err))
			}
			view.Transactions = txs
		}
	} else {
		view.Snapshot = profile.Snapshot{Result: profile.Result{Kind: profile.KindNotConfigured}}
	}
	return RenderCard(view), CardKeyboard(view), nil
}

// Act runs a card action for a client.
func (c *CardService) Act(ctx context.Context, client domain.ClientID, action CardAction, actor events.Actor) (CardOutcome, error) {
	switch action {
	case CardStopAI, CardStartAI:
		disabled := action == CardStopAI
		if _, err := c.tickets.SetAIDisabled(ctx, domain.ByClient(client), disabled, actor); err != nil {
			if errors.Is(err, ErrTicketNotFound) {
				return CardOutcome{Answer: "Активный тикет не найден.", Alert: true}, nil
			}
			return CardOutcome{}, err
		}
		if disabled {
			return CardOutcome{Answer: "AI остановлен. Отвечайте в чате сами.", Refresh: true}, nil
		}
		return CardOutcome{Answer: "AI включён снова.", Refresh: true}, nil

	case CardCheckBalance:
		out := CardOutcome{Answer: "Проверка баланса..."}
		if c.profiles == nil {
			out.Message = "❌ Не удалось получить баланс. Проверьте настройки Bedolaga API."
			return out, nil
		}
		snap := c.profiles.Lookup(ctx, client)
		if snap.Balance == nil {
			out.Message = "❌ Не удалось получить баланс. Проверьте настройки Bedolaga API."
			return out, nil
		}
		out.Message = fmt.Sprintf("💰 <b>Баланс Bedolaga</b>\n\nTelegram ID: <code>%d</code>\nБаланс: <b>%s ₽</b>", client, ai.FormatAmount(snap.Balance.Amount))
		return out, nil

	case CardTransactions:
		out := CardOutcome{Answer: "Загрузка транзакций..."}
		if c.profiles == nil {
			out.Message = "Нет данных Bedolaga для этого клиента."
			return out, nil
		}
		txs, err := c.profiles.Transactions(ctx, client)
		if err != nil {
			if errors.Is(err, profile.ErrNotConfigured) {
				out.Message = "Нет данных Bedolaga для этого клиента."
				return out, nil
			}
			out.Message = "❌ Ошибка: " + html.EscapeString(truncateRunes(err.Error(), 100))
			return out, nil
		}
		out.Message = formatTransactions(txs)
		return out, nil
	}

	panelAction, ok := action.PanelAction()
	if !ok {
		return CardOutcome{}, profile.ErrUnknownAction
	}
	if c.profiles == nil {
		return CardOutcome{Answer: "Remnawave API не настроен.", Alert: true}, nil
	}
	err := c.profiles.Apply(ctx, client, panelAction)
	switch {
	case errors.Is(err, profile.ErrNoPanelUser):
		return CardOutcome{Answer: "Пользователь не найден в Remnawave.", Alert: true}, nil
	case errors.Is(err, profile.ErrNotConfigured):
		return CardOutcome{Answer: "Remnawave API не настроен.", Alert: true}, nil
	case err != nil:
		c.logger.Warn("panel action failed", zap.String("action", string(action)), zap.Error(err))
		return CardOutcome{Answer: panelProgress[panelAction], Message: "❌ Ошибка: " + html.EscapeString(truncateRunes(err.Error(), 100))}, nil
	}
	return CardOutcome{Answer: panelProgress[panelAction], Message: panelDone[panelAction], Refresh: true}, nil
}

var panelProgress = map[profile.Action]string{
	profile.ActionResetTraffic: "Сброс трафика...",
	profile.ActionRevokeSub:    "Перевыпуск подписки...",
	profile.ActionDisable:      "Блокировка...",
	profile.ActionEnable:       "Разблокировка...",
	profile.ActionHWIDAll:      "Удаление устройств...",
}

var panelDone = map[profile.Action]string{
	profile.ActionResetTraffic: "✅ Трафик сброшен.",
	profile.ActionRevokeSub:    "✅ Подписка перевыпущена.",
	profile.ActionDisable:      "🔒 Пользователь заблокирован.",
	profile.ActionEnable:       "🔓 Пользователь разблокирован.",
	profile.ActionHWIDAll:      "🗑 Все устройства удалены.",
}

func formatTransactions(txs []profile.Transaction) string {
	if len(txs) == 0 {
		return "📜 <b>Транзакции</b>\n\nНет транзакций."
	}
	if len(txs) > 15 {
		txs = txs[:15]
	}
	lines := []string{"📜 <b>Транзакции (Bedolaga)</b>\n"}
	for _, t := range txs {
		lines = append(lines, fmt.Sprintf("• %s · %s ₽ · %s\n  %s",
			shortStamp(orText(t.CreatedAt, "—"), 19),
			ai.FormatAmount(t.Amount),
			html.EscapeString(dash(t.Type)),
			html.EscapeString(truncateRunes(dash(t.Description), 50))))
	}
	return strings.Join(lines, "\n")
}
