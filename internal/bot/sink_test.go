package bot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/claim-bot/internal/notify"
)

type apiCall struct {
	to   telebot.Recipient
	msg  telebot.Editable
	what interface{}
	opts []interface{}
}

type fakeAPI struct {
	calls []apiCall
	errs  []error
}

func (f *fakeAPI) nextErr() error {
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeAPI) Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error) {
	f.calls = append(f.calls, apiCall{to: to, what: what, opts: opts})
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	return &telebot.Message{ID: 77, Chat: &telebot.Chat{ID: 501}}, nil
}

func (f *fakeAPI) Edit(msg telebot.Editable, what interface{}, opts ...interface{}) (*telebot.Message, error) {
	f.calls = append(f.calls, apiCall{msg: msg, what: what, opts: opts})
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	return &telebot.Message{}, nil
}

func TestSink_SendReturnsMessageRef(t *testing.T) {
	api := &fakeAPI{}
	sink := NewSink(api, testLogger())

	kb := notify.Keyboard{notify.Row(notify.Button{Text: "Stop", Action: "cancel"})}
	ref, err := sink.Send(context.Background(), 501, "<b>hi</b>", kb)
	require.NoError(t, err)
	assert.Equal(t, notify.MessageRef{ChatID: 501, MessageID: 77}, ref)

	require.Len(t, api.calls, 1)
	call := api.calls[0]
	assert.Equal(t, "501", call.to.Recipient())
	assert.Contains(t, call.opts, telebot.ModeHTML)
	assert.Contains(t, call.opts, telebot.NoPreview)

	var markup *telebot.ReplyMarkup
	for _, opt := range call.opts {
		if m, ok := opt.(*telebot.ReplyMarkup); ok {
			markup = m
		}
	}
	require.NotNil(t, markup)
	require.Len(t, markup.InlineKeyboard, 1)
	assert.Equal(t, "cancel", markup.InlineKeyboard[0][0].Data)
}

func TestSink_SendWithoutKeyboardHasNoMarkup(t *testing.T) {
	api := &fakeAPI{}
	sink := NewSink(api, testLogger())

	_, err := sink.Send(context.Background(), 1, "plain", nil)
	require.NoError(t, err)
	assert.Len(t, api.calls[0].opts, 2)
}

func TestSink_RetriesAfterFloodControl(t *testing.T) {
	api := &fakeAPI{errs: []error{telebot.FloodError{RetryAfter: 0}}}
	sink := NewSink(api, testLogger())

	_, err := sink.Send(context.Background(), 1, "hi", nil)
	require.NoError(t, err)
	assert.Len(t, api.calls, 2)
}

func TestSink_OtherErrorsAreNotRetried(t *testing.T) {
	api := &fakeAPI{errs: []error{errors.New("telegram: bot was blocked by the user (403)")}}
	sink := NewSink(api, testLogger())

	_, err := sink.Send(context.Background(), 1, "hi", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")
	assert.Len(t, api.calls, 1)
}

func TestSink_EditTargetsStoredMessage(t *testing.T) {
	api := &fakeAPI{}
	sink := NewSink(api, testLogger())

	require.NoError(t, sink.Edit(context.Background(), notify.MessageRef{ChatID: 501, MessageID: 12}, "done", nil))

	require.Len(t, api.calls, 1)
	msgID, chatID := api.calls[0].msg.MessageSig()
	assert.Equal(t, "12", msgID)
	assert.Equal(t, int64(501), chatID)
}

func TestSink_EditNotModifiedIsSuccess(t *testing.T) {
	api := &fakeAPI{errs: []error{errors.New("telegram: Bad Request: message is not modified (400)")}}
	sink := NewSink(api, testLogger())

	assert.NoError(t, sink.Edit(context.Background(), notify.MessageRef{ChatID: 1, MessageID: 2}, "same", nil))
}
