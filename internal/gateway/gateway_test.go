package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap/zaptest"

	"github.com/reshala/support-desk/internal/domain"
)

type fakeAPI struct {
	telegramAPI
	messages  []*bot.SendMessageParams
	stickers  []*bot.SendStickerParams
	photos    []*bot.SendPhotoParams
	renameErr error
}

func (f *fakeAPI) SendMessage(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	f.messages = append(f.messages, p)
	return &models.Message{ID: len(f.messages)}, nil
}

func (f *fakeAPI) SendPhoto(_ context.Context, p *bot.SendPhotoParams) (*models.Message, error) {
	f.photos = append(f.photos, p)
	return &models.Message{ID: 77}, nil
}

func (f *fakeAPI) SendSticker(_ context.Context, p *bot.SendStickerParams) (*models.Message, error) {
	f.stickers = append(f.stickers, p)
	return &models.Message{ID: 88}, nil
}

func (f *fakeAPI) CreateForumTopic(_ context.Context, p *bot.CreateForumTopicParams) (*models.ForumTopic, error) {
	return &models.ForumTopic{MessageThreadID: 501, Name: p.Name}, nil
}

func (f *fakeAPI) EditForumTopic(context.Context, *bot.EditForumTopicParams) (bool, error) {
	return f.renameErr == nil, f.renameErr
}

func TestTelegramSendText(t *testing.T) {
	api := &fakeAPI{}
	g := &TelegramGateway{api: api}

	id, err := g.Send(context.Background(), Outbound{
		ChatID: -100, ThreadID: 5, Text: "<b>hi</b>",
		Keyboard: Keyboard{{{Text: "Close", Data: "tk:close:ticket:1"}}},
	})
	if err != nil || id != 1 {
		t.Fatalf("send: id=%d err=%v", id, err)
	}
	p := api.messages[0]
	if p.MessageThreadID != 5 || p.ParseMode != models.ParseModeHTML {
		t.Fatalf("unexpected params %+v", p)
	}
	markup, ok := p.ReplyMarkup.(*models.InlineKeyboardMarkup)
	if !ok || markup.InlineKeyboard[0][0].CallbackData != "tk:close:ticket:1" {
		t.Fatalf("unexpected markup %#v", p.ReplyMarkup)
	}

	_, _ = g.Send(context.Background(), Outbound{ChatID: 1, Text: "plain"})
	if api.messages[1].ReplyMarkup != nil {
		t.Fatal("no keyboard must leave ReplyMarkup nil")
	}
}

func TestTelegramSendMedia(t *testing.T) {
	api := &fakeAPI{}
	g := &TelegramGateway{api: api}

	id, err := g.Send(context.Background(), Outbound{ChatID: 1, Text: "caption", Media: &domain.Media{Kind: domain.MediaPhoto, FileID: "f1"}})
	if err != nil || id != 77 {
		t.Fatalf("photo: id=%d err=%v", id, err)
	}
	if api.photos[0].Caption != "caption" {
		t.Fatalf("caption = %q", api.photos[0].Caption)
	}

	id, err = g.Send(context.Background(), Outbound{ChatID: 1, Text: "from client", Media: &domain.Media{Kind: domain.MediaSticker, FileID: "s1"}})
	if err != nil || id != 88 {
		t.Fatalf("sticker: id=%d err=%v", id, err)
	}
	if len(api.messages) != 1 || api.messages[0].Text != "from client" {
		t.Fatal("sticker text must be sent as a separate message first")
	}
}

func TestTelegramTopicCalls(t *testing.T) {
	api := &fakeAPI{}
	g := &TelegramGateway{api: api}

	thread, err := g.CreateTopic(context.Background(), -100, "💬 @ivan")
	if err != nil || thread != 501 {
		t.Fatalf("create: %d %v", thread, err)
	}

	api.renameErr = errors.New("Bad Request: TOPIC_NOT_MODIFIED")
	if err := g.RenameTopic(context.Background(), -100, thread, "💬 @ivan"); err != nil {
		t.Fatalf("not-modified rename must succeed, got %v", err)
	}
	api.renameErr = errors.New("Bad Request: chat not found")
	if err := g.RenameTopic(context.Background(), -100, thread, "x"); err == nil {
		t.Fatal("other rename errors must surface")
	}
}

type slowGateway struct{ Noop }

func (s *slowGateway) Send(ctx context.Context, _ Outbound) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestBestEffortTimesOut(t *testing.T) {
	be := NewBestEffort(&slowGateway{Noop: *NewNoop(nil)}, 20*time.Millisecond, zaptest.NewLogger(t))
	start := time.Now()
	if _, ok := be.Send(context.Background(), Outbound{ChatID: 1, Text: "x"}); ok {
		t.Fatal("timed out send must report false")
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout must bound the call")
	}
}

func TestBestEffortNoop(t *testing.T) {
	be := NewBestEffort(NewNoop(zaptest.NewLogger(t)), time.Second, zaptest.NewLogger(t))
	if _, ok := be.CreateTopic(context.Background(), 1, "x"); ok {
		t.Fatal("noop gateway must fail")
	}
	var nilBE *BestEffort
	if ok := nilBE.Pin(context.Background(), 1, 1); ok {
		t.Fatal("nil wrapper must fail closed")
	}
}
