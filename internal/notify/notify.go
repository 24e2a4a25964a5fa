// Package notify is the outbound side of the chat transport as seen by the core.
package notify

import (
	"context"
	"log/slog"
)

// Button is an inline button. Either Action or URL is set; Arg travels with Action.
type Button struct {
	Text   string
	Action string
	Arg    string
	URL    string
}

// Keyboard is rows of inline buttons.
type Keyboard [][]Button

// Row is a convenience for building a Keyboard row.
func Row(buttons ...Button) []Button {
	return buttons
}

// MessageRef identifies a delivered message so it can be edited later.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Sink delivers messages to users.
type Sink interface {
	Send(ctx context.Context, userID int64, text string, kb Keyboard) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, text string, kb Keyboard) error
}

// Replier answers the event currently being handled. A message event replies
// with a new message; a button press may edit the message carrying the button.
type Replier interface {
	Reply(ctx context.Context, text string, kb Keyboard) error
	EditOrReply(ctx context.Context, text string, kb Keyboard) error
}

// Notifier wraps a Sink for background jobs: delivery failures are logged, never returned.
type Notifier struct {
	sink Sink
	log  *slog.Logger
}

// NewNotifier builds a Notifier.
func NewNotifier(sink Sink, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{sink: sink, log: log}
}

// Notify sends text without a keyboard.
func (n *Notifier) Notify(ctx context.Context, userID int64, text string) {
	n.Send(ctx, userID, text, nil)
}

// Send delivers a message and reports whether it went through.
func (n *Notifier) Send(ctx context.Context, userID int64, text string, kb Keyboard) (MessageRef, bool) {
	ref, err := n.sink.Send(ctx, userID, text, kb)
	if err != nil {
		n.log.Warn("notification not delivered", slog.Int64("user_id", userID), slog.Any("error", err))
		return MessageRef{}, false
	}
	return ref, true
}

// Edit replaces a delivered message and reports whether it went through.
func (n *Notifier) Edit(ctx context.Context, ref MessageRef, text string, kb Keyboard) bool {
	if err := n.sink.Edit(ctx, ref, text, kb); err != nil {
		n.log.Warn("notification edit failed",
			slog.Int64("chat_id", ref.ChatID),
			slog.Int("message_id", ref.MessageID),
			slog.Any("error", err),
		)
		return false
	}
	return true
}
