// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/Proton-105/claim-bot/internal/notify"
)

// Message is one recorded outbound message.
type Message struct {
	UserID   int64
	Text     string
	Keyboard notify.Keyboard
	Edited   bool
}

// Sink records everything sent through it. It satisfies notify.Sink.
type Sink struct {
	mu       sync.Mutex
	messages []Message
	nextID   int
	Err      error
}

func NewSink() *Sink {
	return &Sink{}
}

func (s *Sink) Send(_ context.Context, userID int64, text string, kb notify.Keyboard) (notify.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return notify.MessageRef{}, s.Err
	}
	s.nextID++
	s.messages = append(s.messages, Message{UserID: userID, Text: text, Keyboard: kb})
	return notify.MessageRef{ChatID: userID, MessageID: s.nextID}, nil
}

func (s *Sink) Edit(_ context.Context, ref notify.MessageRef, text string, kb notify.Keyboard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return s.Err
	}
	s.messages = append(s.messages, Message{UserID: ref.ChatID, Text: text, Keyboard: kb, Edited: true})
	return nil
}

// Messages returns a copy of what was recorded so far.
func (s *Sink) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Texts returns the recorded texts for userID.
func (s *Sink) Texts(userID int64) []string {
	var out []string
	for _, m := range s.Messages() {
		if m.UserID == userID {
			out = append(out, m.Text)
		}
	}
	return out
}

// Count returns how many texts for userID contain substr.
func (s *Sink) Count(userID int64, substr string) int {
	n := 0
	for _, text := range s.Texts(userID) {
		if strings.Contains(text, substr) {
			n++
		}
	}
	return n
}

// Replier records replies to the event under test. It satisfies notify.Replier.
type Replier struct {
	mu      sync.Mutex
	replies []Message
}

func NewReplier() *Replier {
	return &Replier{}
}

func (r *Replier) Reply(_ context.Context, text string, kb notify.Keyboard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, Message{Text: text, Keyboard: kb})
	return nil
}

func (r *Replier) EditOrReply(_ context.Context, text string, kb notify.Keyboard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, Message{Text: text, Keyboard: kb, Edited: true})
	return nil
}

func (r *Replier) Replies() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.replies...)
}

// Last returns the most recent reply, or the zero Message.
func (r *Replier) Last() Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.replies) == 0 {
		return Message{}
	}
	return r.replies[len(r.replies)-1]
}

// Actions flattens the callback actions of a keyboard, in order.
func Actions(kb notify.Keyboard) []string {
	var out []string
	for _, row := range kb {
		for _, b := range row {
			if b.Action != "" {
				out = append(out, b.Action)
			}
		}
	}
	return out
}
