package bot

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/claim-bot/internal/bot/keyboard"
	errors "github.com/Proton-105/claim-bot/internal/errors"
	"github.com/Proton-105/claim-bot/internal/notify"
)

const maxFloodWait = 30 * time.Second

// API is the part of telebot.Bot used to deliver messages.
type API interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
	Edit(msg telebot.Editable, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// Sink delivers HTML messages through the Telegram API. Flood-control
// responses are waited out and retried.
type Sink struct {
	api API
	log *slog.Logger
}

// NewSink builds a Sink over api.
func NewSink(api API, log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{api: api, log: log}
}

// Send implements notify.Sink.
func (s *Sink) Send(ctx context.Context, userID int64, text string, kb notify.Keyboard) (notify.MessageRef, error) {
	opts, err := sendOptions(kb)
	if err != nil {
		return notify.MessageRef{}, err
	}

	var msg *telebot.Message
	err = errors.WithRetry(ctx, func() error {
		var sendErr error
		msg, sendErr = s.api.Send(telebot.ChatID(userID), text, opts...)
		return s.classify(ctx, "send", sendErr)
	})
	if err != nil {
		return notify.MessageRef{}, err
	}

	ref := notify.MessageRef{ChatID: userID}
	if msg != nil {
		ref.MessageID = msg.ID
		if msg.Chat != nil {
			ref.ChatID = msg.Chat.ID
		}
	}
	return ref, nil
}

// Edit implements notify.Sink. Edits that change nothing count as delivered.
func (s *Sink) Edit(ctx context.Context, ref notify.MessageRef, text string, kb notify.Keyboard) error {
	opts, err := sendOptions(kb)
	if err != nil {
		return err
	}

	target := telebot.StoredMessage{MessageID: strconv.Itoa(ref.MessageID), ChatID: ref.ChatID}
	return errors.WithRetry(ctx, func() error {
		_, editErr := s.api.Edit(target, text, opts...)
		if isNotModified(editErr) {
			return nil
		}
		return s.classify(ctx, "edit", editErr)
	})
}

// classify waits out flood control and marks the error retryable; other
// failures are returned as permanent.
func (s *Sink) classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}

	var flood telebot.FloodError
	if !stdErrors.As(err, &flood) {
		return fmt.Errorf("telegram %s: %w", op, err)
	}

	wait := time.Duration(flood.RetryAfter) * time.Second
	if wait > maxFloodWait {
		wait = maxFloodWait
	}
	s.log.Warn("telegram flood control", slog.String("op", op), slog.Duration("retry_after", wait))

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return errors.NewExternalAPIError("telegram", err)
}

func sendOptions(kb notify.Keyboard) ([]interface{}, error) {
	opts := []interface{}{telebot.ModeHTML, telebot.NoPreview}
	markup, err := keyboard.Render(kb)
	if err != nil {
		return nil, err
	}
	if markup != nil {
		opts = append(opts, markup)
	}
	return opts, nil
}

func isNotModified(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "message is not modified")
}
