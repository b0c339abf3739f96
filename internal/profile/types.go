package profile

import (
	"strings"
	"time"
)

// Kind tags the outcome of a profile lookup.
type Kind int

const (
	// KindFound means the panel knows the client.
	KindFound Kind = iota + 1
	// KindNotFound means the panel answered and has no such client.
	KindNotFound
	// KindNotConfigured means no panel credentials are set.
	KindNotConfigured
	// KindUnavailable means the panel could not be reached or answered with an error.
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindFound:
		return "found"
	case KindNotFound:
		return "not_found"
	case KindNotConfigured:
		return "not_configured"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Traffic is the usage block of a panel user.
type Traffic struct {
	UsedTrafficBytes         int64  `json:"usedTrafficBytes"`
	LifetimeUsedTrafficBytes int64  `json:"lifetimeUsedTrafficBytes"`
	OnlineAt                 string `json:"onlineAt,omitempty"`
}

// User is the subset of the Remnawave user record the desk displays.
type User struct {
	UUID                 string   `json:"uuid"`
	ShortUUID            string   `json:"shortUuid,omitempty"`
	ID                   int64    `json:"id,omitempty"`
	Username             string   `json:"username,omitempty"`
	Email                string   `json:"email,omitempty"`
	TelegramID           *int64   `json:"telegramId,omitempty"`
	Status               string   `json:"status,omitempty"`
	Tag                  string   `json:"tag,omitempty"`
	HWIDDeviceLimit      int      `json:"hwidDeviceLimit,omitempty"`
	TrafficLimitBytes    int64    `json:"trafficLimitBytes,omitempty"`
	TrafficLimitStrategy string   `json:"trafficLimitStrategy,omitempty"`
	ExpireAt             string   `json:"expireAt,omitempty"`
	CreatedAt            string   `json:"createdAt,omitempty"`
	UpdatedAt            string   `json:"updatedAt,omitempty"`
	Traffic              *Traffic `json:"userTraffic,omitempty"`
}

// Expiry parses ExpireAt.
func (u *User) Expiry() (time.Time, bool) {
	if u == nil || u.ExpireAt == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, u.ExpireAt)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Disabled reports whether the panel considers the user switched off.
func (u *User) Disabled() bool {
	if u == nil {
		return false
	}
	switch strings.ToUpper(u.Status) {
	case "DISABLED", "INACTIVE", "BANNED":
		return true
	}
	return false
}

// Device is a bound HWID device.
type Device struct {
	HWID        string `json:"hwid"`
	Platform    string `json:"platform,omitempty"`
	OSVersion   string `json:"osVersion,omitempty"`
	DeviceModel string `json:"deviceModel,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
}

// Result is the tagged outcome of a Remnawave lookup.
type Result struct {
	Kind         Kind           `json:"kind"`
	User         *User          `json:"user,omitempty"`
	Subscription map[string]any `json:"subscription,omitempty"`
	Devices      []Device       `json:"devices,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// Balance is the Bedolaga wallet state of a client.
type Balance struct {
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	InternalID int64   `json:"internal_id,omitempty"`
}

// Transaction is one Bedolaga ledger entry.
type Transaction struct {
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	CreatedAt   string  `json:"created_at"`
}

// Snapshot bundles everything known about a client at lookup time.
type Snapshot struct {
	Result  Result   `json:"result"`
	Balance *Balance `json:"balance,omitempty"`
}

// Suspicious reports whether the client should be treated as unknown to the panel.
// Unavailable lookups are never suspicious.
func (s Snapshot) Suspicious() bool {
	return s.Result.Kind == KindNotFound
}

// Action is a panel operation a manager can trigger from the card.
type Action string

const (
	ActionResetTraffic Action = "reset_traffic"
	ActionRevokeSub    Action = "revoke_sub"
	ActionDisable      Action = "disable"
	ActionEnable       Action = "enable"
	ActionHWIDAll      Action = "hwid_all"
)

// Valid reports whether a is a known panel action.
func (a Action) Valid() bool {
	switch a {
	case ActionResetTraffic, ActionRevokeSub, ActionDisable, ActionEnable, ActionHWIDAll:
		return true
	}
	return false
}
