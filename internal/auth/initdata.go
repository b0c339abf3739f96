package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/reshala/support-desk/internal/domain"
)

var (
	ErrInitDataMissing = errors.New("init data missing")
	ErrInitDataInvalid = errors.New("init data signature invalid")
	ErrInitDataExpired = errors.New("init data expired")
	ErrNotManager      = errors.New("account is not an allowed manager")
)

// WebAppUser is the user object Telegram embeds in Mini App init data.
type WebAppUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

// InitData is a verified Mini App launch payload.
type InitData struct {
	User     WebAppUser
	AuthDate time.Time
	QueryID  string
}

// Manager converts the init data user into a manager identity.
func (d InitData) Manager() domain.Manager {
	return domain.Manager{
		TelegramID: d.User.ID,
		Username:   d.User.Username,
		FirstName:  d.User.FirstName,
		LastName:   d.User.LastName,
	}
}

// Verifier checks init data signatures and the manager allow-list.
type Verifier struct {
	botToken string
	maxAge   time.Duration
	allowed  func(int64) bool
	now      func() time.Time
}

// NewVerifier builds a verifier. A zero maxAge disables the freshness check.
func NewVerifier(botToken string, maxAge time.Duration, allowed func(int64) bool) *Verifier {
	if allowed == nil {
		allowed = func(int64) bool { return false }
	}
	return &Verifier{botToken: botToken, maxAge: maxAge, allowed: allowed, now: time.Now}
}

// Allowed reports whether a Telegram account is on the manager allow-list.
func (v *Verifier) Allowed(id int64) bool { return v.allowed(id) }

// Manager verifies raw init data and returns the manager behind it.
func (v *Verifier) Manager(raw string) (domain.Manager, error) {
	data, err := ParseInitData(raw, v.botToken, v.maxAge, v.now())
	if err != nil {
		return domain.Manager{}, err
	}
	if !v.allowed(data.User.ID) {
		return domain.Manager{}, ErrNotManager
	}
	return data.Manager(), nil
}

// ParseInitData validates the Telegram WebApp signature of raw and decodes it.
// The secret is HMAC-SHA256("WebAppData", botToken); the hash covers the sorted
// key=value lines of every other field.
func ParseInitData(raw, botToken string, maxAge time.Duration, now time.Time) (*InitData, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInitDataMissing
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitDataInvalid, err)
	}
	hash := values.Get("hash")
	if hash == "" || botToken == "" {
		return nil, ErrInitDataInvalid
	}
	expected := SignInitData(values, botToken)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(hash))) {
		return nil, ErrInitDataInvalid
	}

	data := &InitData{QueryID: values.Get("query_id")}
	if ts, err := strconv.ParseInt(values.Get("auth_date"), 10, 64); err == nil {
		data.AuthDate = time.Unix(ts, 0)
	}
	if maxAge > 0 && (data.AuthDate.IsZero() || now.Sub(data.AuthDate) > maxAge) {
		return nil, ErrInitDataExpired
	}
	if err := json.Unmarshal([]byte(values.Get("user")), &data.User); err != nil || data.User.ID == 0 {
		return nil, fmt.Errorf("%w: user field", ErrInitDataInvalid)
	}
	return data, nil
}

// SignInitData returns the hex signature Telegram would attach to values.
func SignInitData(values url.Values, botToken string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values.Get(k))
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}
