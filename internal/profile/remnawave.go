package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reshala/support-desk/internal/config"
	"github.com/reshala/support-desk/internal/domain"
)

var (
	// ErrNotConfigured is returned when the panel has no URL or token.
	ErrNotConfigured = errors.New("profile provider not configured")
	// ErrUnknownAction is returned for an unsupported panel action.
	ErrUnknownAction = errors.New("unknown panel action")
)

// RemnawaveClient talks to the Remnawave panel REST API.
type RemnawaveClient struct {
	baseURL       string
	token         string
	http          *http.Client
	actionTimeout time.Duration
	logger        *zap.Logger
}

// NewRemnawaveClient builds a client from config.
func NewRemnawaveClient(cfg config.RemnawaveConfig, logger *zap.Logger) *RemnawaveClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	actionTimeout := time.Duration(cfg.ActionTimeoutSeconds) * time.Second
	if actionTimeout <= 0 {
		actionTimeout = 15 * time.Second
	}
	return &RemnawaveClient{
		baseURL:       strings.TrimRight(cfg.URL, "/"),
		token:         cfg.Token,
		http:          &http.Client{Timeout: timeout},
		actionTimeout: actionTimeout,
		logger:        logger.With(zap.String("component", "remnawave")),
	}
}

// Configured reports whether the client can make calls.
func (c *RemnawaveClient) Configured() bool {
	return c != nil && c.baseURL != "" && c.token != ""
}

type envelope struct {
	Response json.RawMessage `json:"response"`
}

// FetchUser looks the client up by Telegram id, then pulls subscription and devices.
func (c *RemnawaveClient) FetchUser(ctx context.Context, clientID domain.ClientID) Result {
	if !c.Configured() {
		return Result{Kind: KindNotConfigured}
	}

	status, body, err := c.get(ctx, "/api/users/by-telegram-id/"+clientID.String())
	if err != nil {
		c.logger.Warn("fetch user failed", zap.Int64("client_id", int64(clientID)), zap.Error(err))
		return Result{Kind: KindUnavailable, Error: err.Error()}
	}
	switch {
	case status == http.StatusNotFound:
		return Result{Kind: KindNotFound}
	case status != http.StatusOK:
		return Result{Kind: KindUnavailable, Error: fmt.Sprintf("API error: %d", status)}
	}

	user, err := decodeUser(body)
	if err != nil {
		return Result{Kind: KindUnavailable, Error: err.Error()}
	}
	if user == nil {
		return Result{Kind: KindNotFound}
	}

	result := Result{Kind: KindFound, User: user}
	if status, body, err := c.get(ctx, "/api/subscriptions/by-uuid/"+user.UUID); err == nil && status == http.StatusOK {
		var env struct {
			Response map[string]any `json:"response"`
		}
		if json.Unmarshal(body, &env) == nil {
			result.Subscription = env.Response
		}
	}
	if status, body, err := c.get(ctx, "/api/hwid/devices/"+user.UUID); err == nil && status == http.StatusOK {
		result.Devices = decodeDevices(body)
	}
	return result
}

// decodeUser accepts a response that is either a list of users or a single user object.
func decodeUser(body []byte) (*User, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode remnawave response: %w", err)
	}
	raw := bytes.TrimSpace(env.Response)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var users []User
		if err := json.Unmarshal(raw, &users); err != nil {
			return nil, fmt.Errorf("decode remnawave users: %w", err)
		}
		if len(users) == 0 {
			return nil, nil
		}
		return &users[0], nil
	}
	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("decode remnawave user: %w", err)
	}
	if user.UUID == "" {
		return nil, nil
	}
	return &user, nil
}

func decodeDevices(body []byte) []Device {
	var env struct {
		Response struct {
			Devices []Device `json:"devices"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}
	return env.Response.Devices
}

// Action runs a panel operation against the user with the given uuid.
func (c *RemnawaveClient) Action(ctx context.Context, userUUID string, action Action) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	var (
		path    string
		payload any = map[string]any{}
	)
	switch action {
	case ActionResetTraffic:
		path = "/api/users/" + userUUID + "/actions/reset-traffic"
	case ActionRevokeSub:
		path = "/api/users/" + userUUID + "/actions/revoke"
	case ActionDisable:
		path = "/api/users/" + userUUID + "/actions/disable"
	case ActionEnable:
		path = "/api/users/" + userUUID + "/actions/enable"
	case ActionHWIDAll:
		path = "/api/hwid/devices/delete-all"
		payload = map[string]string{"userUuid": userUUID}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	ctx, cancel := context.WithTimeout(ctx, c.actionTimeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remnawave %s: %w", action, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remnawave %s: status %d", action, resp.StatusCode)
	}
	return nil
}

func (c *RemnawaveClient) get(ctx context.Context, path string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}
