package service

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/reshala/support-desk/internal/ai"
	"github.com/reshala/support-desk/internal/domain"
	"github.com/reshala/support-desk/internal/gateway"
	"github.com/reshala/support-desk/internal/profile"
)

// CardSection is one page of the manager card.
type CardSection string

const (
	SectionProfile      CardSection = "profile"
	SectionTraffic      CardSection = "traffic"
	SectionDates        CardSection = "dates"
	SectionSubscription CardSection = "subscription"
	SectionHWID         CardSection = "hwid"
	SectionBalance      CardSection = "balance"
	SectionTransactions CardSection = "transactions"
)

var cardSections = []struct {
	Label   string
	Section CardSection
}{
	{"👤 Профиль", SectionProfile},
	{"📊 Трафик", SectionTraffic},
	{"📅 Даты", SectionDates},
	{"🔗 Подписка", SectionSubscription},
	{"📱 Устройства", SectionHWID},
	{"💰 Баланс", SectionBalance},
	{"📜 Транзакции", SectionTransactions},
}

// Valid reports whether s is a known section.
func (s CardSection) Valid() bool {
	for _, c := range cardSections {
		if c.Section == s {
			return true
		}
	}
	return false
}

// CardAction is a card button that does something rather than navigate.
type CardAction string

const (
	CardResetTraffic CardAction = CardAction(profile.ActionResetTraffic)
	CardRevokeSub    CardAction = CardAction(profile.ActionRevokeSub)
	CardDisable      CardAction = CardAction(profile.ActionDisable)
	CardEnable       CardAction = CardAction(profile.ActionEnable)
	CardHWIDAll      CardAction = CardAction(profile.ActionHWIDAll)
	CardStopAI       CardAction = "stop_ai"
	CardStartAI      CardAction = "start_ai"
	CardTransactions CardAction = "bedolaga_tx"
	CardCheckBalance CardAction = "check_balance"
)

// Valid reports whether a is a known card action.
func (a CardAction) Valid() bool {
	switch a {
	case CardStopAI, CardStartAI, CardTransactions, CardCheckBalance:
		return true
	}
	return profile.Action(a).Valid()
}

// PanelAction returns the Remnawave action behind a, if any.
func (a CardAction) PanelAction() (profile.Action, bool) {
	pa := profile.Action(a)
	return pa, pa.Valid()
}

// CardView is everything the card renders from.
type CardView struct {
	Client       domain.ClientID
	ClientName   string
	Ticket       *domain.Ticket
	Snapshot     profile.Snapshot
	Transactions []profile.Transaction
	Section      CardSection
	Now          time.Time
}

func (v CardView) suspicious() bool {
	if v.Ticket != nil && v.Ticket.Status == domain.TicketStatusSuspicious {
		return true
	}
	return v.Snapshot.Suspicious()
}

func (v CardView) now() time.Time {
	if v.Now.IsZero() {
		return time.Now()
	}
	return v.Now
}

// RenderCard renders the HTML body of the manager card.
func RenderCard(v CardView) string {
	user := v.Snapshot.Result.User
	name := strings.TrimPrefix(v.ClientName, "@")
	if name == "" {
		name = v.Client.String()
	}
	telegramID := v.Client.String()
	if user != nil && user.TelegramID != nil {
		telegramID = fmt.Sprint(*user.TelegramID)
	}

	lines := []string{
		"💬 <b>Тикет поддержки</b>",
		"",
		"👤 <b>Клиент:</b> @" + html.EscapeString(name),
		"🆔 <b>Telegram ID:</b> <code>" + telegramID + "</code>",
	}
	if b := v.Snapshot.Balance; b != nil {
		lines = append(lines, fmt.Sprintf("💰 <b>Баланс:</b> %s %s", ai.FormatAmount(b.Amount), orRUB(b.Currency)))
	}
	if v.suspicious() {
		lines = append(lines, "", "⁉️ <b>Пользователь не найден в Remnawave!</b>", "<i>Проверьте данные вручную</i>")
		return strings.Join(lines, "\n")
	}
	lines = append(lines, "")

	section := v.Section
	if !section.Valid() {
		section = SectionProfile
	}
	switch section {
	case SectionProfile:
		lines = append(lines, profileSection(v.Snapshot.Result)...)
	case SectionTraffic:
		lines = append(lines, trafficSection(user)...)
	case SectionDates:
		lines = append(lines, datesSection(user, v.now())...)
	case SectionSubscription:
		lines = append(lines, subscriptionSection(user, v.now())...)
	case SectionHWID:
		lines = append(lines, hwidSection(v.Snapshot.Result)...)
	case SectionBalance:
		lines = append(lines, balanceSection(v.Snapshot.Balance)...)
	case SectionTransactions:
		lines = append(lines, transactionsSection(v.Transactions)...)
	}
	return strings.Join(lines, "\n")
}

func profileSection(res profile.Result) []string {
	switch res.Kind {
	case profile.KindNotConfigured:
		return []string{"<i>Remnawave API не настроен.</i>"}
	case profile.KindUnavailable:
		return []string{"<i>Remnawave недоступен, данные не загружены.</i>"}
	}
	u := res.User
	if u == nil {
		return []string{"<i>Нет данных профиля.</i>"}
	}
	tgID := "—"
	if u.TelegramID != nil {
		tgID = fmt.Sprint(*u.TelegramID)
	}
	lines := []string{
		"👤 <b>ПРОФИЛЬ</b>",
		"",
		"🆔 <b>UUID:</b> <code>" + dash(u.UUID) + "</code>",
		"📝 <b>Short UUID:</b> <code>" + dash(u.ShortUUID) + "</code>",
		fmt.Sprintf("🔢 <b>ID:</b> %d", u.ID),
		"👤 <b>Username:</b> @" + html.EscapeString(dash(u.Username)),
		"📧 <b>Email:</b> " + html.EscapeString(orText(u.Email, "Не указан")),
		"💬 <b>Telegram ID:</b> " + tgID,
		"📊 <b>Статус:</b> " + dash(u.Status),
		"🏷️ <b>Тег:</b> " + html.EscapeString(orText(u.Tag, "Не указан")),
	}
	if u.HWIDDeviceLimit > 0 {
		lines = append(lines, fmt.Sprintf("📱 <b>Лимит устройств:</b> %d", u.HWIDDeviceLimit))
	}
	return lines
}

func trafficSection(u *profile.User) []string {
	lines := []string{"📊 <b>ТРАФИК</b>", ""}
	if u == nil || u.Traffic == nil {
		return append(lines, "Нет данных о трафике.")
	}
	lines = append(lines,
		"📥 <b>Использовано:</b> "+ai.FormatBytes(u.Traffic.UsedTrafficBytes),
		"📈 <b>Всего использовано:</b> "+ai.FormatBytes(u.Traffic.LifetimeUsedTrafficBytes),
		"📊 <b>Лимит:</b> "+ai.FormatLimit(u.TrafficLimitBytes),
		"🔄 <b>Стратегия сброса:</b> "+orText(u.TrafficLimitStrategy, "NO_RESET"),
	)
	if u.Traffic.OnlineAt != "" {
		lines = append(lines, "🟢 <b>Онлайн:</b> "+shortStamp(u.Traffic.OnlineAt, 19))
	}
	return lines
}

func datesSection(u *profile.User, now time.Time) []string {
	lines := []string{"📅 <b>ДАТЫ</b>", ""}
	if u == nil {
		return append(lines, "Нет данных.")
	}
	if exp, ok := u.Expiry(); ok {
		days := int(exp.Sub(now).Hours() / 24)
		mark := "❌"
		if days > 0 {
			mark = "✅"
		}
		lines = append(lines, fmt.Sprintf("⏰ <b>Истекает:</b> %s (%d дн.) %s", exp.Format("02.01.2006 15:04"), days, mark))
	} else if u.ExpireAt != "" {
		lines = append(lines, "⏰ <b>Истекает:</b> "+shortStamp(u.ExpireAt, 19))
	}
	if u.CreatedAt != "" {
		lines = append(lines, "📅 <b>Создан:</b> "+shortStamp(u.CreatedAt, 19))
	}
	if u.UpdatedAt != "" {
		lines = append(lines, "🔄 <b>Обновлен:</b> "+shortStamp(u.UpdatedAt, 19))
	}
	return lines
}

func subscriptionSection(u *profile.User, now time.Time) []string {
	lines := []string{"🔗 <b>ПОДПИСКА</b>", ""}
	if u == nil {
		return append(lines, "Нет данных.")
	}
	if exp, ok := u.Expiry(); ok {
		lines = append(lines, fmt.Sprintf("📊 <b>Дней осталось:</b> %d", int(exp.Sub(now).Hours()/24)))
	}
	if u.Traffic != nil {
		lines = append(lines,
			"📥 <b>Использовано:</b> "+ai.FormatBytes(u.Traffic.UsedTrafficBytes),
			"📊 <b>Лимит:</b> "+ai.FormatLimit(u.TrafficLimitBytes),
		)
	}
	active := "Нет"
	switch strings.ToUpper(u.Status) {
	case "ACTIVE", "ENABLED":
		active = "Да"
	}
	return append(lines, "✅ <b>Активна:</b> "+active, "📊 <b>Статус:</b> "+dash(u.Status))
}

func hwidSection(res profile.Result) []string {
	lines := []string{"📱 <b>ПРИВЯЗАННЫЕ УСТРОЙСТВА (HWID)</b>", ""}
	if len(res.Devices) == 0 {
		return append(lines, "Устройств нет.")
	}
	limit := 0
	if res.User != nil {
		limit = res.User.HWIDDeviceLimit
	}
	lines = append(lines, fmt.Sprintf("Подключено: %d из %d", len(res.Devices), limit))
	for _, d := range res.Devices {
		label := strings.TrimSpace(d.Platform + " " + d.DeviceModel)
		lines = append(lines, fmt.Sprintf("• %s <code>%s</code>", html.EscapeString(orText(label, "unknown")), html.EscapeString(d.HWID)))
	}
	return lines
}

func balanceSection(b *profile.Balance) []string {
	lines := []string{"💰 <b>БАЛАНС (BEDOLAGA)</b>", ""}
	if b == nil {
		return append(lines, "Баланс: Нет данных")
	}
	return append(lines, fmt.Sprintf("💰 <b>Текущий баланс:</b> %s %s", ai.FormatAmount(b.Amount), orRUB(b.Currency)))
}

func transactionsSection(txs []profile.Transaction) []string {
	lines := []string{"📜 <b>ТРАНЗАКЦИИ (BEDOLAGA)</b>", ""}
	if len(txs) == 0 {
		return append(lines, "Нет последних транзакций.")
	}
	if len(txs) > 10 {
		txs = txs[:10]
	}
	for _, t := range txs {
		lines = append(lines,
			fmt.Sprintf("<i>%s</i> <b>%s₽</b> %s", shortStamp(orText(t.CreatedAt, "—"), 16), ai.FormatAmount(t.Amount), html.EscapeString(dash(t.Type))),
			"  <i>"+html.EscapeString(truncateRunes(dash(t.Description), 40))+"</i>",
		)
	}
	return lines
}

// CardKeyboard lays out section navigation, panel actions, billing, AI and ticket controls.
func CardKeyboard(v CardView) gateway.Keyboard {
	var rows gateway.Keyboard
	var nav [3][]gateway.Button
	for i, s := range cardSections {
		label := s.Label
		if s.Section == v.Section {
			label = "✓ " + label
		}
		btn := gateway.Button{Text: label, Data: SectionCallback(v.Client, s.Section)}
		switch {
		case i < 3:
			nav[0] = append(nav[0], btn)
		case i < 5:
			nav[1] = append(nav[1], btn)
		default:
			nav[2] = append(nav[2], btn)
		}
	}
	rows = append(rows, nav[0], nav[1], nav[2])

	user := v.Snapshot.Result.User
	if user != nil && user.UUID != "" && !v.suspicious() {
		rows = append(rows, []gateway.Button{
			{Text: "🔄 Сброс трафика", Data: ActionCallback(v.Client, CardResetTraffic)},
			{Text: "🔗 Перевыпуск", Data: ActionCallback(v.Client, CardRevokeSub)},
		})
		lock := gateway.Button{Text: "🔒 Заблокировать", Data: ActionCallback(v.Client, CardDisable)}
		if user.Disabled() {
			lock = gateway.Button{Text: "🔓 Разблокировать", Data: ActionCallback(v.Client, CardEnable)}
		}
		rows = append(rows, []gateway.Button{lock, {Text: "🗑 Удалить HWID", Data: ActionCallback(v.Client, CardHWIDAll)}})
	}

	rows = append(rows, []gateway.Button{
		{Text: "💰 Баланс", Data: ActionCallback(v.Client, CardCheckBalance)},
		{Text: "📜 Транзакции", Data: ActionCallback(v.Client, CardTransactions)},
	})

	aiButton := gateway.Button{Text: "🤖 Остановить AI", Data: ActionCallback(v.Client, CardStopAI)}
	if v.Ticket != nil && v.Ticket.AIDisabled {
		aiButton = gateway.Button{Text: "🤖 Включить AI", Data: ActionCallback(v.Client, CardStartAI)}
	}
	if v.Ticket == nil {
		return append(rows, []gateway.Button{aiButton})
	}
	ref := domain.ByTicket(v.Ticket.ID)
	rows = append(rows, []gateway.Button{aiButton, {Text: "✅ Закрыть тикет", Data: TicketCallback(TicketOpClose, ref)}})
	if v.Ticket.Status == domain.TicketStatusSuspicious {
		rows = append(rows, []gateway.Button{{Text: "🗑 Убрать тикет", Data: TicketCallback(TicketOpRemove, ref)}})
	}
	return rows
}

// ClientKeyboard is attached to every reply in the private chat.
func ClientKeyboard() gateway.Keyboard {
	return gateway.Keyboard{{
		{Text: "🔥 Вызвать менеджера", Data: CallbackAskCallManager},
		{Text: "✅ Закрыть тикет", Data: CallbackAskCloseTicket},
	}}
}

// ConfirmKeyboard asks the client to confirm a destructive choice.
func ConfirmKeyboard(action string) gateway.Keyboard {
	return gateway.Keyboard{{
		{Text: "✅ Да", Data: action},
		{Text: "❌ Нет", Data: CallbackCancelClient},
	}}
}

func dash(v string) string { return orText(v, "—") }

func orText(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func orRUB(currency string) string { return orText(currency, "RUB") }

func shortStamp(v string, n int) string {
	if len(v) > n {
		v = v[:n]
	}
	return strings.Replace(v, "T", " ", 1)
}

func truncateRunes(v string, n int) string {
	if utf8.RuneCountInString(v) <= n {
		return v
	}
	return string([]rune(v)[:n])
}
