package dto

import "time"

// WebAppLoginRequest carries raw Mini App init data.
type WebAppLoginRequest struct {
	InitData string `json:"init_data"`
}

// ServiceLoginRequest payload for the back-office service account.
type ServiceLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Subject   string          `json:"subject"`
	Manager   *ManagerProfile `json:"manager,omitempty"`
}

// ManagerProfile describes the signed-in manager.
type ManagerProfile struct {
	TelegramID int64  `json:"telegram_id"`
	Username   string `json:"username,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
}
