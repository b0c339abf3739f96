package domain

// SubjectType differentiates the kinds of authenticated callers.
type SubjectType string

const (
	SubjectTypeManager SubjectType = "MANAGER"
	SubjectTypeService SubjectType = "SERVICE"
)

// Manager is an allow-listed support agent identified by Telegram account.
type Manager struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
}

// DisplayName returns the name shown to clients in replies.
func (m Manager) DisplayName() string {
	if m.FirstName != "" {
		return m.FirstName
	}
	if m.Username != "" {
		return m.Username
	}
	return "Менеджер"
}
