package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/reshala/support-desk/internal/config"
)

// ErrNoReply is returned when no key produced a completion.
var ErrNoReply = errors.New("ai: no reply")

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client produces a completion for a conversation.
type Client interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// OpenAIClient speaks the OpenAI-compatible chat completions protocol (Groq,
// OpenAI, OpenRouter) and fails over between API keys.
type OpenAIClient struct {
	baseURL     string
	model       string
	keys        []string
	active      atomic.Int64
	temperature float64
	maxTokens   int
	http        *http.Client
	logger      *zap.Logger
}

// NewOpenAIClient builds the client. It returns nil when AI is disabled or has no keys.
func NewOpenAIClient(cfg config.AIConfig, logger *zap.Logger) *OpenAIClient {
	if !cfg.Configured() {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		keys:        append([]string(nil), cfg.APIKeys...),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		http:        &http.Client{Timeout: cfg.Timeout()},
		logger:      logger.With(zap.String("component", "ai")),
	}
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type statusError struct {
	status  int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ai http %d: %s", e.status, e.message)
}

func (e *statusError) rotatable() bool {
	switch {
	case e.status == http.StatusUnauthorized, e.status == http.StatusForbidden, e.status == http.StatusTooManyRequests:
		return true
	case e.status >= 500:
		return true
	}
	return false
}

// Chat tries every key starting from the last one that worked.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message) (string, error) {
	if c == nil || len(c.keys) == 0 {
		return "", ErrNoReply
	}
	start := int(c.active.Load())
	for attempt := 0; attempt < len(c.keys); attempt++ {
		idx := (start + attempt) % len(c.keys)
		text, err := c.call(ctx, c.keys[idx], messages)
		if err == nil {
			if idx != start {
				c.active.Store(int64(idx))
				c.logger.Info("rotated ai key", zap.Int("from", start), zap.Int("to", idx))
			}
			if strings.TrimSpace(text) == "" {
				return "", ErrNoReply
			}
			return text, nil
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", ErrNoReply, ctx.Err())
		}
		var se *statusError
		if errors.As(err, &se) && !se.rotatable() {
			return "", fmt.Errorf("%w: %v", ErrNoReply, err)
		}
		c.logger.Warn("ai key failed", zap.Int("key_index", idx), zap.Error(err))
	}
	return "", ErrNoReply
}

func (c *OpenAIClient) call(ctx context.Context, key string, messages []Message) (string, error) {
	body, err := json.Marshal(chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	var out chatCompletionResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return "", &statusError{status: resp.StatusCode, message: msg}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode completion: %w", decodeErr)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("ai: empty choices")
	}
	c.logger.Debug("ai completion", zap.Duration("latency", time.Since(started)))
	return out.Choices[0].Message.Content, nil
}
