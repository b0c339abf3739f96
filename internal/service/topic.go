package service

import (
	"strings"
	"unicode/utf8"

	"github.com/reshala/support-desk/internal/domain"
)

// Topic title prefixes. Telegram strips ✅ from topic names, hence 🟢 for closed.
const (
	TopicEmojiOpen       = "💬"
	TopicEmojiEscalated  = "🔥"
	TopicEmojiSuspicious = "🚨"
	TopicEmojiClosed     = "🟢"

	maxTopicNameRunes = 128
)

// TopicEmoji returns the title prefix for a status.
func TopicEmoji(status domain.TicketStatus) string {
	switch status {
	case domain.TicketStatusEscalated:
		return TopicEmojiEscalated
	case domain.TicketStatusSuspicious:
		return TopicEmojiSuspicious
	case domain.TicketStatusClosed:
		return TopicEmojiClosed
	default:
		return TopicEmojiOpen
	}
}

// TopicName builds "<emoji> @<username>" capped at the platform limit.
func TopicName(username string, status domain.TicketStatus) string {
	name := strings.ReplaceAll(strings.TrimSpace(username), "@", "")
	if name == "" {
		name = "Unknown"
	}
	full := TopicEmoji(status) + " @" + name
	if utf8.RuneCountInString(full) > maxTopicNameRunes {
		full = string([]rune(full)[:maxTopicNameRunes])
	}
	return full
}
