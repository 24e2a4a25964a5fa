package bot

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/claim-bot/internal/bot/keyboard"
	"github.com/Proton-105/claim-bot/internal/conversation"
	"github.com/Proton-105/claim-bot/internal/notify"
	"github.com/Proton-105/claim-bot/pkg/logger"
)

// Dispatcher handles transport-neutral events.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev conversation.Event, r notify.Replier) error
}

// Router turns telebot updates into conversation events and runs them
// through the middleware chain.
type Router struct {
	mu          sync.RWMutex
	dispatcher  Dispatcher
	sink        notify.Sink
	middlewares []telebot.MiddlewareFunc
	log         *slog.Logger
}

// NewRouter builds a Router with an empty middleware chain.
func NewRouter(dispatcher Dispatcher, sink notify.Sink, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}

	return &Router{
		dispatcher:  dispatcher,
		sink:        sink,
		middlewares: make([]telebot.MiddlewareFunc, 0),
		log:         log,
	}
}

// Use appends a middleware to the chain. The first one added runs outermost.
func (r *Router) Use(mw telebot.MiddlewareFunc) {
	if mw == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middlewares = append(r.middlewares, mw)
}

// Route handles a single update. It is registered for OnText and OnCallback.
func (r *Router) Route(c telebot.Context) error {
	if c == nil || c.Sender() == nil {
		return nil
	}
	return r.applyMiddlewares(r.handle)(c)
}

func (r *Router) handle(c telebot.Context) error {
	ev, ok := EventFromContext(c)
	if !ok {
		r.log.Debug("update ignored", slog.Int64("user_id", c.Sender().ID))
		return nil
	}

	if c.Callback() != nil {
		if err := c.Respond(); err != nil {
			r.log.Debug("callback answer failed", slog.Any("error", err))
		}
	}

	ctx := logger.WithCorrelationID(context.Background(), "")
	return r.dispatcher.Dispatch(ctx, ev, r.replier(c))
}

func (r *Router) replier(c telebot.Context) notify.Replier {
	base := chatReplier{sink: r.sink, userID: c.Sender().ID}
	if chat := c.Chat(); chat != nil {
		base.userID = chat.ID
	}

	cb := c.Callback()
	if cb == nil || cb.Message == nil {
		return base
	}

	ref := notify.MessageRef{MessageID: cb.Message.ID, ChatID: base.userID}
	if cb.Message.Chat != nil {
		ref.ChatID = cb.Message.Chat.ID
	}
	return callbackReplier{chatReplier: base, ref: ref, log: r.log}
}

// EventFromContext maps an update to an Event. Updates carrying neither a
// callback nor text yield false.
func EventFromContext(c telebot.Context) (conversation.Event, bool) {
	if c == nil || c.Sender() == nil {
		return conversation.Event{}, false
	}
	userID := c.Sender().ID

	if cb := c.Callback(); cb != nil {
		action, arg, err := keyboard.DecodeCallback(cb.Data)
		if err != nil {
			return conversation.Event{}, false
		}
		ev := conversation.Event{Kind: conversation.KindButton, Name: action, Token: cb.Data, UserID: userID}
		if arg != "" {
			ev.Args = []string{arg}
		}
		return ev, true
	}

	text := strings.TrimSpace(c.Text())
	if text == "" {
		return conversation.Event{}, false
	}

	if strings.HasPrefix(text, "/") {
		fields := strings.Fields(text)
		name := strings.TrimPrefix(fields[0], "/")
		if at := strings.IndexByte(name, '@'); at >= 0 {
			name = name[:at]
		}
		return conversation.Event{
			Kind:   conversation.KindCommand,
			Name:   strings.ToLower(name),
			Args:   fields[1:],
			Token:  fields[0],
			Text:   text,
			UserID: userID,
		}, true
	}

	return conversation.Event{Kind: conversation.KindText, Text: text, UserID: userID}, true
}

// applyMiddlewares wraps the handler with all registered middlewares.
func (r *Router) applyMiddlewares(h telebot.HandlerFunc) telebot.HandlerFunc {
	middlewares := r.middlewaresSnapshot()
	wrapped := h
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func (r *Router) middlewaresSnapshot() []telebot.MiddlewareFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.middlewares) == 0 {
		return nil
	}

	snapshot := make([]telebot.MiddlewareFunc, len(r.middlewares))
	copy(snapshot, r.middlewares)
	return snapshot
}

// chatReplier answers with a new message in the originating chat.
type chatReplier struct {
	sink   notify.Sink
	userID int64
}

func (r chatReplier) Reply(ctx context.Context, text string, kb notify.Keyboard) error {
	_, err := r.sink.Send(ctx, r.userID, text, kb)
	return err
}

func (r chatReplier) EditOrReply(ctx context.Context, text string, kb notify.Keyboard) error {
	return r.Reply(ctx, text, kb)
}

// callbackReplier edits the message holding the pressed button, falling
// back to a new message when the edit fails.
type callbackReplier struct {
	chatReplier
	ref notify.MessageRef
	log *slog.Logger
}

func (r callbackReplier) EditOrReply(ctx context.Context, text string, kb notify.Keyboard) error {
	if err := r.sink.Edit(ctx, r.ref, text, kb); err != nil {
		r.log.Debug("edit failed, sending instead",
			slog.Int64("chat_id", r.ref.ChatID),
			slog.Int("message_id", r.ref.MessageID),
			slog.Any("error", err),
		)
		return r.Reply(ctx, text, kb)
	}
	return nil
}
