package bot

import (
	"strings"

	"github.com/go-telegram/bot/models"

	"github.com/reshala/support-desk/internal/domain"
)

func sender(u *models.User) domain.Sender {
	if u == nil {
		return domain.Sender{}
	}
	return domain.Sender{ID: u.ID, Username: u.Username, FirstName: u.FirstName, IsBot: u.IsBot}
}

// inboundMessage strips the transport types off a chat message.
func inboundMessage(m *models.Message) domain.InboundMessage {
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	return domain.InboundMessage{
		MessageID: m.ID,
		ChatID:    m.Chat.ID,
		ThreadID:  domain.ThreadID(m.MessageThreadID),
		From:      sender(m.From),
		Text:      text,
		Media:     messageMedia(m),
	}
}

func messageMedia(m *models.Message) *domain.Media {
	switch {
	case len(m.Photo) > 0:
		// the last size is the largest
		return &domain.Media{Kind: domain.MediaPhoto, FileID: m.Photo[len(m.Photo)-1].FileID}
	case m.Animation != nil:
		return &domain.Media{Kind: domain.MediaAnimation, FileID: m.Animation.FileID}
	case m.Video != nil:
		return &domain.Media{Kind: domain.MediaVideo, FileID: m.Video.FileID}
	case m.VideoNote != nil:
		return &domain.Media{Kind: domain.MediaVideoNote, FileID: m.VideoNote.FileID}
	case m.Voice != nil:
		return &domain.Media{Kind: domain.MediaVoice, FileID: m.Voice.FileID}
	case m.Audio != nil:
		return &domain.Media{Kind: domain.MediaAudio, FileID: m.Audio.FileID}
	case m.Sticker != nil:
		return &domain.Media{Kind: domain.MediaSticker, FileID: m.Sticker.FileID}
	case m.Document != nil:
		return &domain.Media{Kind: domain.MediaDocument, FileID: m.Document.FileID}
	default:
		return nil
	}
}

// isServiceMessage reports topic and membership notifications posted by Telegram itself.
func isServiceMessage(m *models.Message) bool {
	return m.ForumTopicCreated != nil ||
		m.ForumTopicEdited != nil ||
		m.ForumTopicClosed != nil ||
		m.ForumTopicReopened != nil ||
		len(m.NewChatMembers) > 0 ||
		m.LeftChatMember != nil
}

// isCommand matches "/name" and "/name@bot" with optional arguments.
func isCommand(text, name string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return cmd == "/"+name
}

type callbackTarget struct {
	chatID    int64
	messageID int
	thread    domain.ThreadID
}

func targetOf(msg models.MaybeInaccessibleMessage) callbackTarget {
	switch msg.Type {
	case models.MaybeInaccessibleMessageTypeMessage:
		if msg.Message == nil {
			return callbackTarget{}
		}
		return callbackTarget{
			chatID:    msg.Message.Chat.ID,
			messageID: msg.Message.ID,
			thread:    domain.ThreadID(msg.Message.MessageThreadID),
		}
	case models.MaybeInaccessibleMessageTypeInaccessibleMessage:
		if msg.InaccessibleMessage == nil {
			return callbackTarget{}
		}
		return callbackTarget{chatID: msg.InaccessibleMessage.Chat.ID, messageID: msg.InaccessibleMessage.MessageID}
	default:
		return callbackTarget{}
	}
}
