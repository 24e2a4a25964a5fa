package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	telebot "gopkg.in/telebot.v3"

	apperrors "github.com/Proton-105/claim-bot/internal/errors"
	"github.com/Proton-105/claim-bot/internal/idempotency"
	"github.com/Proton-105/claim-bot/internal/ratelimit"
	"github.com/Proton-105/claim-bot/internal/testutil"
	"github.com/Proton-105/claim-bot/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func counting(calls *int) telebot.HandlerFunc {
	return func(telebot.Context) error {
		*calls++
		return nil
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rules := ratelimit.NewRules(config.RateLimitConfig{
		Enabled: true,
		PerUser: config.RateLimitRule{Limit: 2, Window: "1m"},
	}, []int64{1})
	mw := NewRateLimitMiddleware(ratelimit.NewMemoryLimiter(), rules, testLogger())

	calls := 0
	h := mw.Handle(counting(&calls))

	user := testutil.NewMessageContext(42, 1, "hi")
	require.NoError(t, h(user))
	require.NoError(t, h(user))

	err := h(user)
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.CodeRateLimit, appErr.Code)
	assert.Equal(t, 2, calls)

	admin := testutil.NewMessageContext(1, 1, "hi")
	for i := 0; i < 5; i++ {
		require.NoError(t, h(admin))
	}
	assert.Equal(t, 7, calls)
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	rules := ratelimit.NewRules(config.RateLimitConfig{
		Enabled: false,
		PerUser: config.RateLimitRule{Limit: 1, Window: "1m"},
	}, nil)
	mw := NewRateLimitMiddleware(ratelimit.NewMemoryLimiter(), rules, testLogger())

	calls := 0
	h := mw.Handle(counting(&calls))
	ctx := testutil.NewMessageContext(42, 1, "hi")
	for i := 0; i < 3; i++ {
		require.NoError(t, h(ctx))
	}
	assert.Equal(t, 3, calls)
}

type brokenGuard struct{}

func (brokenGuard) Claim(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestIdempotency_DropsRedeliveredUpdates(t *testing.T) {
	calls := 0
	h := Idempotency(idempotency.NewMemoryGuard(), time.Hour, testLogger())(counting(&calls))

	msg := testutil.NewMessageContext(42, 7, "03001234567")
	require.NoError(t, h(msg))
	require.NoError(t, h(msg))
	assert.Equal(t, 1, calls)

	cb := testutil.NewCallbackContext(42, 7, "cb-1", "claim")
	require.NoError(t, h(cb))
	require.NoError(t, h(cb))
	assert.Equal(t, 2, calls)

	open := Idempotency(brokenGuard{}, time.Hour, testLogger())(counting(&calls))
	require.NoError(t, open(msg))
	assert.Equal(t, 3, calls)

	passthrough := Idempotency(nil, time.Hour, nil)(counting(&calls))
	require.NoError(t, passthrough(msg))
	assert.Equal(t, 4, calls)
}

func TestUpdateKey(t *testing.T) {
	assert.Equal(t, "msg:42:7", UpdateKey(testutil.NewMessageContext(42, 7, "hi")))
	assert.Equal(t, "cb:abc", UpdateKey(testutil.NewCallbackContext(42, 7, "abc", "joined")))
	assert.Equal(t, "cb-msg:42:7", UpdateKey(testutil.NewCallbackContext(42, 7, "", "joined")))
	assert.Equal(t, "", UpdateKey(nil))
}

func TestUpdateLabel(t *testing.T) {
	assert.Equal(t, "/start", UpdateLabel(testutil.NewMessageContext(1, 1, "/start")))
	assert.Equal(t, "/stop", UpdateLabel(testutil.NewMessageContext(1, 1, "/stop@claim_bot 42")))
	assert.Equal(t, "text", UpdateLabel(testutil.NewMessageContext(1, 1, "03001234567")))
	assert.Equal(t, "button:tier", UpdateLabel(testutil.NewCallbackContext(1, 1, "x", "tier:weekly")))
	assert.Equal(t, "unknown", UpdateLabel(nil))
}

func TestMetrics_PassesErrorThrough(t *testing.T) {
	want := errors.New("boom")
	h := Metrics(func(telebot.Context) error { return want })
	assert.ErrorIs(t, h(testutil.NewMessageContext(1, 1, "/status")), want)
}

func TestHTTPLogging_KeepsStatus(t *testing.T) {
	h := HTTPLogging(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
}
