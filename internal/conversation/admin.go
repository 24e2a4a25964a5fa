package conversation

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Proton-105/claim-bot/internal/errors"
	"github.com/Proton-105/claim-bot/internal/notify"
)

func (h *Handlers) registerAdmin(d *Dispatcher) {
	d.RegisterCommand("setcount", h.adminOnly(h.setCount))
	d.RegisterCommand("threshold", h.adminOnly(h.setThreshold))
	d.RegisterCommand("delay", h.adminOnly(h.setDelay))
	d.RegisterCommand("on", h.adminOnly(h.enable))
	d.RegisterCommand("off", h.adminOnly(h.disable))
	d.RegisterCommand("block", h.adminOnly(h.block))
	d.RegisterCommand("unblock", h.adminOnly(h.unblock))
	d.RegisterCommand("status", h.adminOnly(h.status))
}

// adminOnly makes admin commands look unknown to everyone else.
func (h *Handlers) adminOnly(next Handler) Handler {
	return func(ctx context.Context, ev Event, r notify.Replier) error {
		if !h.deps.IsAdmin(ev.UserID) {
			return h.fallback(ctx, ev, r)
		}
		return next(ctx, ev, r)
	}
}

func (h *Handlers) setCount(ctx context.Context, ev Event, r notify.Replier) error {
	n, err := intArg(ev, "/setcount N")
	if err != nil {
		return err
	}
	if err := h.deps.Admin.SetRequestCount(n); err != nil {
		return err
	}
	return r.Reply(ctx, fmt.Sprintf("✅ Attempt count set to %d.", n), nil)
}

func (h *Handlers) setThreshold(ctx context.Context, ev Event, r notify.Replier) error {
	n, err := intArg(ev, "/threshold N")
	if err != nil {
		return err
	}
	if err := h.deps.Admin.SetSuccessThreshold(n); err != nil {
		return err
	}
	return r.Reply(ctx, fmt.Sprintf("✅ Success threshold set to %d.", n), nil)
}

func (h *Handlers) setDelay(ctx context.Context, ev Event, r notify.Replier) error {
	d, ok := parseDelay(ev.Arg(0))
	if !ok {
		return apperrors.NewValidationError("Usage: /delay 2s (or a number of seconds).")
	}
	if err := h.deps.Admin.SetDelay(d); err != nil {
		return err
	}
	return r.Reply(ctx, fmt.Sprintf("✅ Delay set to %s.", d), nil)
}

func (h *Handlers) enable(ctx context.Context, _ Event, r notify.Replier) error {
	h.deps.Admin.SetRequestsEnabled(true)
	return r.Reply(ctx, "✅ Requests enabled.", nil)
}

func (h *Handlers) disable(ctx context.Context, _ Event, r notify.Replier) error {
	h.deps.Admin.SetRequestsEnabled(false)
	return r.Reply(ctx, "🚫 Requests disabled. Running jobs stop before their next call.", nil)
}

func (h *Handlers) adminStop(ctx context.Context, ev Event, r notify.Replier) error {
	userID, err := strconv.ParseInt(ev.Arg(0), 10, 64)
	if err != nil {
		return apperrors.NewValidationError("Usage: /stop USER_ID")
	}
	if h.deps.Admin.CancelUser(userID) {
		return r.Reply(ctx, fmt.Sprintf("🛑 Stopping the job of user <code>%d</code>.", userID), nil)
	}
	return r.Reply(ctx, fmt.Sprintf("ℹ️ User <code>%d</code> has no running job.", userID), nil)
}

func (h *Handlers) block(ctx context.Context, ev Event, r notify.Replier) error {
	if len(ev.Args) == 0 {
		return apperrors.NewValidationError("Usage: /block NUMBER...")
	}

	lines := make([]string, 0, len(ev.Args))
	for _, arg := range ev.Args {
		key, added, err := h.deps.Admin.Block(ctx, arg)
		switch {
		case err != nil:
			lines = append(lines, "❌ "+userMessage(err))
		case added:
			lines = append(lines, fmt.Sprintf("🚫 <code>%s</code> blocked.", key))
		default:
			lines = append(lines, fmt.Sprintf("ℹ️ <code>%s</code> was already blocked.", key))
		}
	}
	return r.Reply(ctx, strings.Join(lines, "\n"), nil)
}

func (h *Handlers) unblock(ctx context.Context, ev Event, r notify.Replier) error {
	if len(ev.Args) == 0 {
		return apperrors.NewValidationError("Usage: /unblock NUMBER...")
	}

	lines := make([]string, 0, len(ev.Args))
	for _, arg := range ev.Args {
		key, removed, err := h.deps.Admin.Unblock(ctx, arg)
		switch {
		case err != nil:
			lines = append(lines, "❌ "+userMessage(err))
		case removed:
			lines = append(lines, fmt.Sprintf("✅ <code>%s</code> unblocked.", key))
		default:
			lines = append(lines, fmt.Sprintf("ℹ️ <code>%s</code> was not blocked.", key))
		}
	}
	return r.Reply(ctx, strings.Join(lines, "\n"), nil)
}

func (h *Handlers) status(ctx context.Context, _ Event, r notify.Replier) error {
	st, err := h.deps.Admin.Status(ctx)
	if err != nil {
		return err
	}

	enabled := "✅ enabled"
	if !st.RequestsEnabled {
		enabled = "🚫 disabled"
	}

	text := fmt.Sprintf("📊 <b>Status</b>\nRequests: %s\nAttempts per number: %d\nSuccess threshold: %d\nDelay: %s\nRunning jobs: %d\nActivated numbers: %d\nBlocked numbers: %d",
		enabled, st.RequestCount, st.SuccessThreshold, st.Delay, st.ActiveJobs, st.ActivatedKeys, st.BlockedKeys)
	return r.Reply(ctx, text, nil)
}

func intArg(ev Event, usage string) (int, error) {
	n, err := strconv.Atoi(ev.Arg(0))
	if err != nil {
		return 0, apperrors.NewValidationError("Usage: " + usage)
	}
	return n, nil
}

// parseDelay accepts a Go duration or a bare number of seconds.
func parseDelay(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), true
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false
	}
	return d, true
}

func userMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return html.EscapeString(appErr.Message)
	}
	return html.EscapeString(err.Error())
}
