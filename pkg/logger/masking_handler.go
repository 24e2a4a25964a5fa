package logger

import (
	"context"
	"log/slog"
	"strings"
)

var sensitiveKeys = []string{
	"password",
	"token",
	"secret",
	"api_key",
	"authorization",
	"otp",
}

// phoneKeys carry subscriber numbers. Only values that look like a number are
// masked, so Redis keys logged under "key" pass through untouched.
var phoneKeys = []string{
	"key",
	"phone",
	"msisdn",
}

// visiblePhoneDigits is how many trailing digits of a number stay readable.
const visiblePhoneDigits = 4

// MaskingHandler wraps a slog.Handler and masks secrets and subscriber numbers
// before delegating.
type MaskingHandler struct {
	next slog.Handler
}

// NewMaskingHandler creates a handler that masks sensitive fields before passing records downstream.
func NewMaskingHandler(next slog.Handler) *MaskingHandler {
	return &MaskingHandler{next: next}
}

// Enabled reports whether the handler handles records at the given level.
func (h *MaskingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// WithAttrs masks attrs bound through Logger.With as well.
func (h *MaskingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		masked[i] = maskAttr(attr)
	}
	return &MaskingHandler{next: h.next.WithAttrs(masked)}
}

// WithGroup returns a new handler with an appended group name.
func (h *MaskingHandler) WithGroup(name string) slog.Handler {
	return &MaskingHandler{next: h.next.WithGroup(name)}
}

// Handle applies masking to sensitive attributes and delegates to the wrapped handler.
func (h *MaskingHandler) Handle(ctx context.Context, record slog.Record) error {
	masked := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)

	record.Attrs(func(attr slog.Attr) bool {
		masked.AddAttrs(maskAttr(attr))
		return true
	})

	return h.next.Handle(ctx, masked)
}

func maskAttr(attr slog.Attr) slog.Attr {
	value := attr.Value.Resolve()

	switch {
	case value.Kind() == slog.KindGroup:
		group := value.Group()
		masked := make([]any, len(group))
		for i, member := range group {
			masked[i] = maskAttr(member)
		}
		return slog.Group(attr.Key, masked...)
	case matchesKey(attr.Key, sensitiveKeys):
		return slog.String(attr.Key, "***")
	case matchesKey(attr.Key, phoneKeys) && value.Kind() == slog.KindString:
		return slog.String(attr.Key, MaskPhone(value.String()))
	}
	return attr
}

// MaskPhone hides all but the last few digits of a phone-shaped value
// ("03001234567" becomes "*******4567"). Anything else is returned unchanged.
func MaskPhone(s string) string {
	digits := strings.TrimPrefix(s, "+")
	if len(digits) < 7 || len(digits) > 15 {
		return s
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return s
		}
	}
	return strings.Repeat("*", len(s)-visiblePhoneDigits) + s[len(s)-visiblePhoneDigits:]
}

func matchesKey(key string, keys []string) bool {
	for _, k := range keys {
		if strings.EqualFold(key, k) {
			return true
		}
	}
	return false
}
