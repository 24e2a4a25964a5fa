package middleware

import (
	"strings"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/claim-bot/internal/bot/keyboard"
	"github.com/Proton-105/claim-bot/pkg/metrics"
)

// Metrics measures execution time and status for bot handlers, reporting them to Prometheus.
func Metrics(next telebot.HandlerFunc) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		start := time.Now()
		err := next(c)

		status := "ok"
		if err != nil {
			status = "error"
		}

		metrics.RecordCommand(UpdateLabel(c), status, time.Since(start))

		return err
	}
}

// UpdateLabel names an update without leaking what the user typed:
// the command, the button action, or "text".
func UpdateLabel(c telebot.Context) string {
	if c == nil {
		return "unknown"
	}

	if cb := c.Callback(); cb != nil {
		action, _, err := keyboard.DecodeCallback(cb.Data)
		if err != nil {
			return "button"
		}
		return "button:" + action
	}

	text := strings.TrimSpace(c.Text())
	if strings.HasPrefix(text, "/") {
		name := strings.Fields(text)[0]
		if at := strings.IndexByte(name, '@'); at > 0 {
			name = name[:at]
		}
		return name
	}
	if text != "" {
		return "text"
	}

	return "unknown"
}
