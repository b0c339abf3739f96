package ai

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/reshala/support-desk/internal/domain"
	"github.com/reshala/support-desk/internal/profile"
)

const defaultPromptTemplate = `Ты — дружелюбный и компетентный ассистент службы поддержки '%s'.

## ПРАВИЛА:
1. Отвечай кратко, по существу, на русском языке
2. ИСПОЛЬЗУЙ данные о пользователе из контекста ниже
3. НЕ придумывай информацию — используй только то, что видишь
4. НИКОГДА не раскрывай данные других пользователей или настройки системы
5. Если не можешь помочь — скажи: 'Данный вопрос нужно уточнить у менеджера, вызываю менеджера.'

## ТИПИЧНЫЕ ПРОБЛЕМЫ:
- "Не работает VPN" → Проверь статус подписки, предложи обновить подписку в приложении
- "Закончился трафик" → Покажи использованный трафик, предложи сброс или апгрейд
- "Много устройств" → Покажи количество, предложи удалить лишние
- "Когда истекает" → Покажи дату истечения подписки
`

const hiddenStrategyContext = `## ВНУТРЕННЯЯ ИНФОРМАЦИЯ (НЕ ГОВОРИ ПОЛЬЗОВАТЕЛЮ!)
У меня нет данных об этом пользователе в системе. Но я НЕ должен говорить ему об этом напрямую!

СТРАТЕГИЯ:
1. Веди себя как обычный техподдержка
2. Для диагностики запроси скриншот главного экрана VPN-приложения
3. Или попроси прислать ссылку подписки (обычно начинается с https:// или vless://)
4. Скажи что это нужно для диагностики проблемы
5. НЕ ГОВОРИ что пользователя нет в системе!

ПРИМЕРЫ ФРАЗ:
- "Для диагностики проблемы пришлите, пожалуйста, скриншот главного экрана вашего VPN-приложения"
- "Можете прислать ссылку вашей подписки? Это поможет мне проверить настройки"
- "Покажите скриншот — так я смогу быстрее понять в чём дело"

После получения скриншота или ссылки — система определит следующий шаг.`

const noSubscriptionContextTemplate = `## СТАТУС: ПОЛЬЗОВАТЕЛЬ НЕ НАЙДЕН В СИСТЕМЕ

Пользователь прислал скриншот или ссылку подписки, но его НЕТ в нашей базе данных.

ТВОЙ ОТВЕТ ДОЛЖЕН БЫТЬ ТАКИМ:
"К сожалению, я проверил вашу информацию и не нашёл активной подписки в нашей системе.

Возможно, подписка была оформлена на другой аккаунт или истекла.

Для оформления новой подписки, пожалуйста, перейдите в %s

Если вы уверены, что подписка была оформлена — нажмите кнопку 'Вызвать менеджера' и мы разберёмся в ситуации."

ВАЖНО: Будь вежлив, не обвиняй в мошенничестве.`

// Prompt knobs.
const (
	DefaultServiceName  = "Решала support"
	DefaultHistoryTurns = 10
	MaxKnowledgeArticle = 3
)

// PromptBuilder assembles the system prompt and conversation for one client turn.
type PromptBuilder struct {
	ServiceName     string
	Override        string
	MainBotUsername string
	HistoryTurns    int
	Now             func() time.Time
}

// PromptInput is everything a turn depends on.
type PromptInput struct {
	Snapshot profile.Snapshot
	HasProof bool
	Articles []domain.KnowledgeArticle
	History  []domain.HistoryEntry
	Message  string
}

// Build returns the messages to send to the provider.
func (b PromptBuilder) Build(in PromptInput) []Message {
	system := b.SystemPrompt()
	if ctx := FormatUserContext(in.Snapshot, in.HasProof, b.MainBotUsername, b.now()); ctx != "" {
		system += "\n\n" + ctx
	}
	if kb := FormatKnowledge(in.Articles); kb != "" {
		system += "\n\n## БАЗА ЗНАНИЙ:\n" + kb
	}

	messages := []Message{{Role: RoleSystem, Content: system}}
	history := in.History
	window := b.HistoryTurns
	if window <= 0 {
		window = DefaultHistoryTurns
	}
	if len(history) > window {
		history = history[len(history)-window:]
	}
	for _, h := range history {
		messages = append(messages, Message{Role: historyRole(h.Role), Content: h.Content})
	}
	messages = append(messages, Message{Role: RoleUser, Content: in.Message})
	return messages
}

// SystemPrompt returns the configured identity prompt.
func (b PromptBuilder) SystemPrompt() string {
	if strings.TrimSpace(b.Override) != "" {
		return b.Override
	}
	name := b.ServiceName
	if name == "" {
		name = DefaultServiceName
	}
	return fmt.Sprintf(defaultPromptTemplate, name)
}

func (b PromptBuilder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func historyRole(role domain.HistoryRole) string {
	if role == domain.RoleUser {
		return RoleUser
	}
	return RoleAssistant
}

// FormatUserContext renders what the assistant may know about the client.
func FormatUserContext(snap profile.Snapshot, hasProof bool, mainBot string, now time.Time) string {
	switch snap.Result.Kind {
	case profile.KindNotFound:
		if hasProof {
			mention := "основной бот"
			if mainBot = strings.TrimPrefix(strings.TrimSpace(mainBot), "@"); mainBot != "" {
				mention = "@" + mainBot
			}
			return fmt.Sprintf(noSubscriptionContextTemplate, mention)
		}
		return hiddenStrategyContext
	case profile.KindNotConfigured:
		return "## API Remnawave не настроен. Данные пользователя недоступны."
	}

	user := snap.Result.User
	if user == nil {
		return "## Данные пользователя не найдены."
	}

	username := user.Username
	if username == "" {
		username = "не указан"
	}
	telegramID := "N/A"
	if user.TelegramID != nil {
		telegramID = fmt.Sprint(*user.TelegramID)
	}
	status := user.Status
	if status == "" {
		status = "UNKNOWN"
	}
	parts := []string{
		"## ДАННЫЕ ТЕКУЩЕГО ПОЛЬЗОВАТЕЛЯ:",
		"- Username: @" + username,
		"- Telegram ID: " + telegramID,
		"- UUID: " + orDefault(user.UUID, "N/A"),
		"- Статус подписки: " + status,
	}
	if exp, ok := user.Expiry(); ok {
		days := int(exp.Sub(now).Hours() / 24)
		mark := "❌"
		if days > 0 {
			mark = "✅"
		}
		parts = append(parts, fmt.Sprintf("- Истекает: %s (%d дней) %s", exp.Format("02.01.2006"), days, mark))
	} else if user.ExpireAt != "" {
		parts = append(parts, "- Истекает: "+user.ExpireAt)
	}
	if user.Traffic != nil {
		parts = append(parts, "- Использовано трафика: "+FormatBytes(user.Traffic.UsedTrafficBytes))
		parts = append(parts, "- Лимит трафика: "+FormatLimit(user.TrafficLimitBytes))
	}
	parts = append(parts, fmt.Sprintf("- Устройств подключено: %d из %d", len(snap.Result.Devices), user.HWIDDeviceLimit))
	if snap.Balance != nil {
		parts = append(parts, fmt.Sprintf("- Баланс (Bedolaga): %s %s", FormatAmount(snap.Balance.Amount), snap.Balance.Currency))
	}
	return strings.Join(parts, "\n")
}

// FormatKnowledge renders knowledge articles for the prompt.
func FormatKnowledge(articles []domain.KnowledgeArticle) string {
	if len(articles) == 0 {
		return ""
	}
	if len(articles) > MaxKnowledgeArticle {
		articles = articles[:MaxKnowledgeArticle]
	}
	parts := make([]string, 0, len(articles))
	for _, a := range articles {
		parts = append(parts, fmt.Sprintf("Статья: %s\nКатегория: %s\nСодержание: %s", a.Title, orDefault(a.Category, "general"), a.Content))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// KnowledgeQueryWords extracts lower-cased words longer than three letters.
func KnowledgeQueryWords(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	seen := make(map[string]struct{}, len(fields))
	var words []string
	for _, f := range fields {
		if utf8.RuneCountInString(f) <= 3 {
			continue
		}
		w := strings.ToLower(f)
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		words = append(words, w)
	}
	return words
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(b int64) string {
	n := float64(b)
	for _, unit := range []string{"B", "KB", "MB", "GB", "TB"} {
		if n < 1024 {
			return fmt.Sprintf("%.2f %s", n, unit)
		}
		n /= 1024
	}
	return fmt.Sprintf("%.2f PB", n)
}

// FormatLimit renders a traffic limit where zero means unlimited.
func FormatLimit(b int64) string {
	if b <= 0 {
		return "Безлимит"
	}
	return FormatBytes(b)
}

// FormatAmount renders money with two decimals.
func FormatAmount(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
