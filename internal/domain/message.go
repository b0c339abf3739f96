package domain

// MediaKind enumerates the media a chat message can carry.
type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaDocument  MediaKind = "document"
	MediaVoice     MediaKind = "voice"
	MediaVideoNote MediaKind = "video_note"
	MediaSticker   MediaKind = "sticker"
	MediaAudio     MediaKind = "audio"
	MediaAnimation MediaKind = "animation"
)

// Media references a platform-hosted file.
type Media struct {
	Kind   MediaKind
	FileID string
}

// SupportsCaption reports whether the platform accepts a caption for this kind.
func (m Media) SupportsCaption() bool {
	switch m.Kind {
	case MediaVideoNote, MediaSticker:
		return false
	default:
		return true
	}
}

// Placeholder is the bracketed label used in transcripts when no text accompanies media.
func (m Media) Placeholder() string {
	switch m.Kind {
	case MediaPhoto:
		return "[фото]"
	case MediaVideo:
		return "[видео]"
	case MediaDocument:
		return "[файл]"
	case MediaVoice:
		return "[голосовое]"
	case MediaVideoNote:
		return "[видеосообщение]"
	case MediaSticker:
		return "[стикер]"
	case MediaAudio:
		return "[аудио]"
	case MediaAnimation:
		return "[GIF]"
	default:
		return "[media]"
	}
}

// Sender describes the platform account behind a message.
type Sender struct {
	ID        int64
	Username  string
	FirstName string
	IsBot     bool
}

// DisplayName prefers the username, then the first name, then the numeric id.
func (s Sender) DisplayName() string {
	if s.Username != "" {
		return s.Username
	}
	if s.FirstName != "" {
		return s.FirstName
	}
	return ClientID(s.ID).String()
}

// InboundMessage is a chat message decoupled from the transport library.
type InboundMessage struct {
	MessageID int
	ChatID    int64
	ThreadID  ThreadID
	From      Sender
	Text      string
	Media     *Media
}

// HasMedia reports whether the message carries a file.
func (m InboundMessage) HasMedia() bool {
	return m.Media != nil && m.Media.FileID != ""
}

// IsPhoto reports whether the message carries a photo.
func (m InboundMessage) IsPhoto() bool {
	return m.HasMedia() && m.Media.Kind == MediaPhoto
}
