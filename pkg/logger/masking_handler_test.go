package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskingHandler_MasksSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewMaskingHandler(slog.NewJSONHandler(&buf, nil)))

	log.Info("login submitted", slog.String("otp", "123456"), slog.String("Token", "abc"), slog.String("phone", "03001234567"))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "***", record["otp"])
	assert.Equal(t, "***", record["Token"])
	assert.Equal(t, "*******4567", record["phone"])
}

func TestMaskingHandler_MasksSubscriberNumbers(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewMaskingHandler(slog.NewJSONHandler(&buf, nil))).
		With(slog.String("msisdn", "+923001234567"))

	log.Info("claim attempt",
		slog.String("key", "03001234567"),
		slog.Group("request", slog.String("phone", "923009876543")),
		slog.Int64("user_id", 1001),
	)
	log.Info("rate limited", slog.String("key", "ratelimit:user:1001"))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var attempt map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &attempt))
	assert.Equal(t, "*******4567", attempt["key"])
	assert.Equal(t, "*********4567", attempt["msisdn"])
	assert.Equal(t, map[string]any{"phone": "********6543"}, attempt["request"])
	assert.EqualValues(t, 1001, attempt["user_id"])
	assert.NotContains(t, string(lines[0]), "03001234567")

	var limited map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &limited))
	assert.Equal(t, "ratelimit:user:1001", limited["key"])
}

func TestMaskPhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"03001234567", "*******4567"},
		{"+923001234567", "*********4567"},
		{"12345", "12345"},
		{"0300-1234567", "0300-1234567"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskPhone(tt.in), tt.in)
	}
}

func TestFanout_DeliversToEveryEnabledHandler(t *testing.T) {
	var info, errOnly bytes.Buffer
	h := fanout{
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&errOnly, &slog.HandlerOptions{Level: slog.LevelError}),
	}
	log := slog.New(h).With(slog.String("component", "test"))

	log.Info("progress")
	log.Error("boom")

	assert.Contains(t, info.String(), "progress")
	assert.Contains(t, info.String(), "boom")
	assert.NotContains(t, errOnly.String(), "progress")
	assert.Contains(t, errOnly.String(), "boom")
	assert.Contains(t, errOnly.String(), "component=test")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}
