// Package gatewaytest provides an in-memory gateway that records every call.
package gatewaytest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/reshala/support-desk/internal/domain"
	"github.com/reshala/support-desk/internal/gateway"
)

// ErrInjected is returned by failing operations.
var ErrInjected = errors.New("injected gateway failure")

// Topic is the recorded state of a forum topic.
type Topic struct {
	Chat   int64
	Name   string
	Closed bool
}

// Recorder implements gateway.Gateway in memory.
type Recorder struct {
	mu         sync.Mutex
	nextThread domain.ThreadID
	nextMsg    int
	Topics     map[domain.ThreadID]*Topic
	Sent       []gateway.Outbound
	Pinned     []int
	Edits      []string
	Answers    []string
	Renames    []string
	// Fail makes the named operations ("create_topic", "send", ...) fail.
	Fail map[string]bool
}

// New creates an empty recorder.
func New() *Recorder {
	return &Recorder{nextThread: 100, nextMsg: 1000, Topics: make(map[domain.ThreadID]*Topic), Fail: make(map[string]bool)}
}

// SetFail toggles failure of an operation.
func (r *Recorder) SetFail(op string, fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Fail[op] = fail
}

func (r *Recorder) CreateTopic(_ context.Context, chatID int64, name string) (domain.ThreadID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail["create_topic"] {
		return 0, ErrInjected
	}
	r.nextThread++
	r.Topics[r.nextThread] = &Topic{Chat: chatID, Name: name}
	return r.nextThread, nil
}

func (r *Recorder) RenameTopic(_ context.Context, _ int64, thread domain.ThreadID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail["rename_topic"] {
		return ErrInjected
	}
	r.Renames = append(r.Renames, name)
	if t, ok := r.Topics[thread]; ok {
		t.Name = name
	}
	return nil
}

func (r *Recorder) CloseTopic(_ context.Context, _ int64, thread domain.ThreadID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail["close_topic"] {
		return ErrInjected
	}
	if t, ok := r.Topics[thread]; ok {
		t.Closed = true
	}
	return nil
}

func (r *Recorder) Send(_ context.Context, msg gateway.Outbound) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail["send"] || (msg.ThreadID == 0 && r.Fail["send_direct"]) {
		return 0, ErrInjected
	}
	r.nextMsg++
	r.Sent = append(r.Sent, msg)
	return r.nextMsg, nil
}

func (r *Recorder) Pin(_ context.Context, _ int64, messageID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail["pin"] {
		return ErrInjected
	}
	r.Pinned = append(r.Pinned, messageID)
	return nil
}

func (r *Recorder) EditCard(_ context.Context, _ int64, _ int, text string, _ gateway.Keyboard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail["edit_card"] {
		return ErrInjected
	}
	r.Edits = append(r.Edits, text)
	return nil
}

func (r *Recorder) AnswerCallback(_ context.Context, _ string, text string, _ bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Answers = append(r.Answers, text)
	return nil
}

// Topic returns a copy of the recorded topic.
func (r *Recorder) Topic(thread domain.ThreadID) (Topic, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.Topics[thread]
	if !ok {
		return Topic{}, false
	}
	return *t, true
}

// TopicCount returns how many topics were created.
func (r *Recorder) TopicCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Topics)
}

// SentTo returns messages sent to a chat, optionally inside a thread.
func (r *Recorder) SentTo(chatID int64, thread domain.ThreadID) []gateway.Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []gateway.Outbound
	for _, m := range r.Sent {
		if m.ChatID == chatID && m.ThreadID == thread {
			out = append(out, m)
		}
	}
	return out
}

// Contains reports whether any sent message text contains substr.
func (r *Recorder) Contains(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.Sent {
		if strings.Contains(m.Text, substr) {
			return true
		}
	}
	return false
}

// Count returns how many sent messages contain substr.
func (r *Recorder) Count(substr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.Sent {
		if strings.Contains(m.Text, substr) {
			n++
		}
	}
	return n
}
