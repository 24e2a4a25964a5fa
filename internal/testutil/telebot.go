package testutil

import (
	"sync"

	telebot "gopkg.in/telebot.v3"
)

// Sent is one Send or Edit captured by TelebotContext.
type Sent struct {
	What   any
	Opts   []any
	Edited bool
}

// TelebotContext is a telebot.Context for middleware and router tests.
// Methods it does not override panic through the nil embedded interface.
type TelebotContext struct {
	telebot.Context

	User *telebot.User
	Cb   *telebot.Callback
	Msg  *telebot.Message

	mu        sync.Mutex
	sent      []Sent
	responded int
	SendErr   error
	EditErr   error
}

// NewMessageContext builds a context for a text message from userID.
func NewMessageContext(userID int64, messageID int, text string) *TelebotContext {
	user := &telebot.User{ID: userID}
	return &TelebotContext{
		User: user,
		Msg: &telebot.Message{
			ID:     messageID,
			Sender: user,
			Chat:   &telebot.Chat{ID: userID},
			Text:   text,
		},
	}
}

// NewCallbackContext builds a context for a button press by userID on messageID.
func NewCallbackContext(userID int64, messageID int, callbackID, data string) *TelebotContext {
	user := &telebot.User{ID: userID}
	msg := &telebot.Message{ID: messageID, Chat: &telebot.Chat{ID: userID}}
	return &TelebotContext{
		User: user,
		Msg:  msg,
		Cb:   &telebot.Callback{ID: callbackID, Sender: user, Message: msg, Data: data},
	}
}

func (c *TelebotContext) Sender() *telebot.User       { return c.User }
func (c *TelebotContext) Callback() *telebot.Callback { return c.Cb }
func (c *TelebotContext) Message() *telebot.Message   { return c.Msg }

func (c *TelebotContext) Chat() *telebot.Chat {
	if c.Msg == nil {
		return nil
	}
	return c.Msg.Chat
}

func (c *TelebotContext) Text() string {
	if c.Msg == nil {
		return ""
	}
	return c.Msg.Text
}

func (c *TelebotContext) Send(what any, opts ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.sent = append(c.sent, Sent{What: what, Opts: opts})
	return nil
}

func (c *TelebotContext) Edit(what any, opts ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.EditErr != nil {
		return c.EditErr
	}
	c.sent = append(c.sent, Sent{What: what, Opts: opts, Edited: true})
	return nil
}

func (c *TelebotContext) Respond(...*telebot.CallbackResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responded++
	return nil
}

// SentMessages returns what was sent or edited so far.
func (c *TelebotContext) SentMessages() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// Responded reports how many callback answers were sent.
func (c *TelebotContext) Responded() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responded
}
