package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Send(ctx context.Context, userID int64, text string, kb Keyboard) (MessageRef, error) {
	args := m.Called(ctx, userID, text, kb)
	return args.Get(0).(MessageRef), args.Error(1)
}

func (m *mockSink) Edit(ctx context.Context, ref MessageRef, text string, kb Keyboard) error {
	args := m.Called(ctx, ref, text, kb)
	return args.Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierSwallowsDeliveryErrors(t *testing.T) {
	sink := &mockSink{}
	sink.On("Send", mock.Anything, int64(1), "hello", Keyboard(nil)).
		Return(MessageRef{}, errors.New("bot was blocked by the user")).Once()
	sink.On("Send", mock.Anything, int64(2), "hello", Keyboard(nil)).
		Return(MessageRef{ChatID: 2, MessageID: 10}, nil).Once()

	n := NewNotifier(sink, testLogger())

	n.Notify(context.Background(), 1, "hello")

	ref, ok := n.Send(context.Background(), 2, "hello", nil)
	assert.True(t, ok)
	assert.Equal(t, MessageRef{ChatID: 2, MessageID: 10}, ref)

	sink.AssertExpectations(t)
}

func TestNotifierEdit(t *testing.T) {
	ref := MessageRef{ChatID: 3, MessageID: 7}
	kb := Keyboard{Row(Button{Text: "Stop", Action: "stop"})}

	sink := &mockSink{}
	sink.On("Edit", mock.Anything, ref, "progress", kb).Return(nil).Once()
	sink.On("Edit", mock.Anything, ref, "gone", Keyboard(nil)).Return(errors.New("message to edit not found")).Once()

	n := NewNotifier(sink, testLogger())
	assert.True(t, n.Edit(context.Background(), ref, "progress", kb))
	assert.False(t, n.Edit(context.Background(), ref, "gone", nil))

	sink.AssertExpectations(t)
}
