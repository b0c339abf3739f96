package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/reshala/support-desk/internal/domain"
)

// telegramAPI is the subset of *bot.Bot the gateway uses.
type telegramAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
	SendVideo(ctx context.Context, params *bot.SendVideoParams) (*models.Message, error)
	SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*models.Message, error)
	SendVoice(ctx context.Context, params *bot.SendVoiceParams) (*models.Message, error)
	SendVideoNote(ctx context.Context, params *bot.SendVideoNoteParams) (*models.Message, error)
	SendSticker(ctx context.Context, params *bot.SendStickerParams) (*models.Message, error)
	SendAudio(ctx context.Context, params *bot.SendAudioParams) (*models.Message, error)
	SendAnimation(ctx context.Context, params *bot.SendAnimationParams) (*models.Message, error)
	CreateForumTopic(ctx context.Context, params *bot.CreateForumTopicParams) (*models.ForumTopic, error)
	EditForumTopic(ctx context.Context, params *bot.EditForumTopicParams) (bool, error)
	CloseForumTopic(ctx context.Context, params *bot.CloseForumTopicParams) (bool, error)
	PinChatMessage(ctx context.Context, params *bot.PinChatMessageParams) (bool, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

// TelegramGateway implements Gateway with the Bot API.
type TelegramGateway struct {
	api telegramAPI
}

// NewTelegramGateway wraps a bot client.
func NewTelegramGateway(b *bot.Bot) *TelegramGateway {
	return &TelegramGateway{api: b}
}

func (g *TelegramGateway) CreateTopic(ctx context.Context, chatID int64, name string) (domain.ThreadID, error) {
	topic, err := g.api.CreateForumTopic(ctx, &bot.CreateForumTopicParams{ChatID: chatID, Name: name})
	if err != nil {
		return 0, fmt.Errorf("create forum topic: %w", err)
	}
	if topic == nil || topic.MessageThreadID == 0 {
		return 0, fmt.Errorf("create forum topic: empty thread id")
	}
	return domain.ThreadID(topic.MessageThreadID), nil
}

func (g *TelegramGateway) RenameTopic(ctx context.Context, chatID int64, thread domain.ThreadID, name string) error {
	_, err := g.api.EditForumTopic(ctx, &bot.EditForumTopicParams{
		ChatID:          chatID,
		MessageThreadID: int(thread),
		Name:            name,
	})
	if err != nil && !isNotModified(err) {
		return fmt.Errorf("edit forum topic: %w", err)
	}
	return nil
}

func (g *TelegramGateway) CloseTopic(ctx context.Context, chatID int64, thread domain.ThreadID) error {
	_, err := g.api.CloseForumTopic(ctx, &bot.CloseForumTopicParams{ChatID: chatID, MessageThreadID: int(thread)})
	if err != nil && !isNotModified(err) {
		return fmt.Errorf("close forum topic: %w", err)
	}
	return nil
}

func (g *TelegramGateway) Send(ctx context.Context, msg Outbound) (int, error) {
	var (
		sent *models.Message
		err  error
	)
	parseMode := models.ParseModeHTML
	if msg.Plain {
		parseMode = ""
	}
	markup := inlineMarkup(msg.Keyboard)
	thread := int(msg.ThreadID)

	if msg.Media == nil {
		params := &bot.SendMessageParams{
			ChatID:          msg.ChatID,
			MessageThreadID: thread,
			Text:            msg.Text,
			ParseMode:       parseMode,
		}
		if markup != nil {
			params.ReplyMarkup = markup
		}
		sent, err = g.api.SendMessage(ctx, params)
		return messageID(sent), wrapSend(err)
	}

	file := &models.InputFileString{Data: msg.Media.FileID}
	switch msg.Media.Kind {
	case domain.MediaPhoto:
		params := &bot.SendPhotoParams{ChatID: msg.ChatID, MessageThreadID: thread, Photo: file, Caption: msg.Text, ParseMode: parseMode}
		if markup != nil {
			params.ReplyMarkup = markup
		}
		sent, err = g.api.SendPhoto(ctx, params)
	case domain.MediaVideo:
		params := &bot.SendVideoParams{ChatID: msg.ChatID, MessageThreadID: thread, Video: file, Caption: msg.Text, ParseMode: parseMode}
		if markup != nil {
			params.ReplyMarkup = markup
		}
		sent, err = g.api.SendVideo(ctx, params)
	case domain.MediaDocument:
		params := &bot.SendDocumentParams{ChatID: msg.ChatID, MessageThreadID: thread, Document: file, Caption: msg.Text, ParseMode: parseMode}
		if markup != nil {
			params.ReplyMarkup = markup
		}
		sent, err = g.api.SendDocument(ctx, params)
	case domain.MediaVoice:
		params := &bot.SendVoiceParams{ChatID: msg.ChatID, MessageThreadID: thread, Voice: file, Caption: msg.Text, ParseMode: parseMode}
		if markup != nil {
			params.ReplyMarkup = markup
		}
		sent, err = g.api.SendVoice(ctx, params)
	case domain.MediaAudio:
		params := &bot.SendAudioParams{ChatID: msg.ChatID, MessageThreadID: thread, Audio: file, Caption: msg.Text, ParseMode: parseMode}
		if markup != nil {
			params.ReplyMarkup = markup
		}
		sent, err = g.api.SendAudio(ctx, params)
	case domain.MediaAnimation:
		params := &bot.SendAnimationParams{ChatID: msg.ChatID, MessageThreadID: thread, Animation: file, Caption: msg.Text, ParseMode: parseMode}
		if markup != nil {
			params.ReplyMarkup = markup
		}
		sent, err = g.api.SendAnimation(ctx, params)
	case domain.MediaVideoNote, domain.MediaSticker:
		// No caption support: the text goes first as its own message.
		if strings.TrimSpace(msg.Text) != "" {
			if _, err := g.api.SendMessage(ctx, &bot.SendMessageParams{
				ChatID: msg.ChatID, MessageThreadID: thread, Text: msg.Text, ParseMode: parseMode,
			}); err != nil {
				return 0, wrapSend(err)
			}
		}
		if msg.Media.Kind == domain.MediaVideoNote {
			sent, err = g.api.SendVideoNote(ctx, &bot.SendVideoNoteParams{ChatID: msg.ChatID, MessageThreadID: thread, VideoNote: file})
		} else {
			sent, err = g.api.SendSticker(ctx, &bot.SendStickerParams{ChatID: msg.ChatID, MessageThreadID: thread, Sticker: file})
		}
	default:
		return 0, fmt.Errorf("send: unsupported media kind %q", msg.Media.Kind)
	}
	return messageID(sent), wrapSend(err)
}

func (g *TelegramGateway) Pin(ctx context.Context, chatID int64, msgID int) error {
	_, err := g.api.PinChatMessage(ctx, &bot.PinChatMessageParams{ChatID: chatID, MessageID: msgID, DisableNotification: true})
	if err != nil {
		return fmt.Errorf("pin message: %w", err)
	}
	return nil
}

func (g *TelegramGateway) EditCard(ctx context.Context, chatID int64, msgID int, text string, keyboard Keyboard) error {
	params := &bot.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: msgID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if markup := inlineMarkup(keyboard); markup != nil {
		params.ReplyMarkup = markup
	}
	if _, err := g.api.EditMessageText(ctx, params); err != nil && !isNotModified(err) {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

func (g *TelegramGateway) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	_, err := g.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       alert,
	})
	if err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

func inlineMarkup(keyboard Keyboard) *models.InlineKeyboardMarkup {
	if len(keyboard) == 0 {
		return nil
	}
	rows := make([][]models.InlineKeyboardButton, 0, len(keyboard))
	for _, row := range keyboard {
		buttons := make([]models.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, models.InlineKeyboardButton{Text: b.Text, CallbackData: b.Data, URL: b.URL})
		}
		rows = append(rows, buttons)
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func messageID(m *models.Message) int {
	if m == nil {
		return 0
	}
	return m.ID
}

func wrapSend(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("send message: %w", err)
}

func isNotModified(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not modified") || strings.Contains(msg, "topic_not_modified")
}
