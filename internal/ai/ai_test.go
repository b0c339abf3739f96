package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/reshala/support-desk/internal/config"
	"github.com/reshala/support-desk/internal/domain"
	"github.com/reshala/support-desk/internal/profile"
)

func newTestClient(t *testing.T, keys []string, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIClient(config.AIConfig{
		Enabled:        true,
		BaseURL:        srv.URL,
		APIKeys:        keys,
		Model:          "test-model",
		TimeoutSeconds: 5,
	}, zaptest.NewLogger(t))
}

func completion(text string) string {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"content": text}}},
	})
	return string(body)
}

func TestChatFailsOverAndRemembersKey(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	client := newTestClient(t, []string{"k1", "k2", "k3"}, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		mu.Lock()
		seen = append(seen, key)
		mu.Unlock()
		switch key {
		case "k1":
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":{"message":"rate limited"}}`)
		case "k2":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			_, _ = io.WriteString(w, completion("ответ"))
		}
	})

	got, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "привет"}})
	if err != nil || got != "ответ" {
		t.Fatalf("Chat = %q, %v", got, err)
	}
	if strings.Join(seen, ",") != "k1,k2,k3" {
		t.Fatalf("key order = %v", seen)
	}

	seen = nil
	if _, err := client.Chat(context.Background(), nil); err != nil {
		t.Fatalf("second chat: %v", err)
	}
	if len(seen) != 1 || seen[0] != "k3" {
		t.Fatalf("working key must be tried first, got %v", seen)
	}
}

func TestChatAllKeysFail(t *testing.T) {
	client := newTestClient(t, []string{"a", "b"}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	if _, err := client.Chat(context.Background(), nil); !errors.Is(err, ErrNoReply) {
		t.Fatalf("expected ErrNoReply, got %v", err)
	}
}

func TestChatBadRequestDoesNotRotate(t *testing.T) {
	calls := 0
	client := newTestClient(t, []string{"a", "b"}, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	})
	if _, err := client.Chat(context.Background(), nil); !errors.Is(err, ErrNoReply) {
		t.Fatalf("expected ErrNoReply, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("400 must not rotate keys, calls = %d", calls)
	}
}

func TestNewOpenAIClientDisabled(t *testing.T) {
	if c := NewOpenAIClient(config.AIConfig{Enabled: false, BaseURL: "x", APIKeys: []string{"k"}}, nil); c != nil {
		t.Fatal("disabled config must yield nil client")
	}
	var c *OpenAIClient
	if _, err := c.Chat(context.Background(), nil); !errors.Is(err, ErrNoReply) {
		t.Fatalf("nil client must report ErrNoReply, got %v", err)
	}
}

func TestBuildPromptForUnknownClient(t *testing.T) {
	b := PromptBuilder{ServiceName: "Тест VPN", MainBotUsername: "@shop_bot"}
	history := make([]domain.HistoryEntry, 0, 12)
	for i := 0; i < 12; i++ {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleManager
		}
		history = append(history, domain.HistoryEntry{Role: role, Content: string(rune('a' + i))})
	}

	msgs := b.Build(PromptInput{
		Snapshot: profile.Snapshot{Result: profile.Result{Kind: profile.KindNotFound}},
		History:  history,
		Message:  "не работает",
	})
	if len(msgs) != 1+DefaultHistoryTurns+1 {
		t.Fatalf("len = %d", len(msgs))
	}
	system := msgs[0].Content
	if !strings.Contains(system, "'Тест VPN'") || !strings.Contains(system, "ВНУТРЕННЯЯ ИНФОРМАЦИЯ") {
		t.Fatalf("system prompt missing identity or hidden strategy:\n%s", system)
	}
	if msgs[1].Content != "c" || msgs[2].Role != RoleAssistant {
		t.Fatalf("history window wrong: %+v", msgs[1:3])
	}
	if last := msgs[len(msgs)-1]; last.Role != RoleUser || last.Content != "не работает" {
		t.Fatalf("last message = %+v", last)
	}

	withProof := b.Build(PromptInput{
		Snapshot: profile.Snapshot{Result: profile.Result{Kind: profile.KindNotFound}},
		HasProof: true,
		Message:  "вот ссылка",
	})
	if !strings.Contains(withProof[0].Content, "перейдите в @shop_bot") {
		t.Fatalf("proof prompt must mention the main bot:\n%s", withProof[0].Content)
	}
}

func TestFormatUserContextFound(t *testing.T) {
	tg := int64(42)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := profile.Snapshot{
		Result: profile.Result{
			Kind: profile.KindFound,
			User: &profile.User{
				UUID: "u-1", Username: "ivan", TelegramID: &tg, Status: "ACTIVE",
				ExpireAt: "2026-01-11T00:00:00Z", HWIDDeviceLimit: 3, TrafficLimitBytes: 0,
				Traffic: &profile.Traffic{UsedTrafficBytes: 1536},
			},
			Devices: []profile.Device{{HWID: "a"}},
		},
		Balance: &profile.Balance{Amount: 150, Currency: "RUB"},
	}
	got := FormatUserContext(snap, false, "", now)
	for _, want := range []string{
		"- Username: @ivan",
		"- Telegram ID: 42",
		"- Истекает: 11.01.2026 (10 дней) ✅",
		"- Использовано трафика: 1.50 KB",
		"- Лимит трафика: Безлимит",
		"- Устройств подключено: 1 из 3",
		"- Баланс (Bedolaga): 150.00 RUB",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in:\n%s", want, got)
		}
	}

	if got := FormatUserContext(profile.Snapshot{Result: profile.Result{Kind: profile.KindNotConfigured}}, false, "", now); !strings.Contains(got, "не настроен") {
		t.Fatalf("not configured context = %q", got)
	}
}

func TestOverrideReplacesIdentity(t *testing.T) {
	b := PromptBuilder{Override: "Custom prompt"}
	if b.SystemPrompt() != "Custom prompt" {
		t.Fatalf("SystemPrompt = %q", b.SystemPrompt())
	}
}

func TestKnowledgeHelpers(t *testing.T) {
	words := KnowledgeQueryWords("Не работает VPN, не работает vless!")
	if strings.Join(words, ",") != "работает,vless" {
		t.Fatalf("words = %v", words)
	}
	articles := []domain.KnowledgeArticle{
		{Title: "A", Content: "a"}, {Title: "B", Category: "c", Content: "b"},
		{Title: "C", Content: "c"}, {Title: "D", Content: "d"},
	}
	kb := FormatKnowledge(articles)
	if strings.Count(kb, "Статья:") != 3 || !strings.Contains(kb, "Категория: general") {
		t.Fatalf("kb = %s", kb)
	}
}
