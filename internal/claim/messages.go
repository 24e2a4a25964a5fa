package claim

import (
	"fmt"
	"html"
	"strings"

	"github.com/Proton-105/claim-bot/internal/endpoint"
)

// MessageLimit bounds server-provided text echoed to the user.
const MessageLimit = 800

func quote(s string) string {
	return html.EscapeString(endpoint.Truncate(strings.TrimSpace(s), MessageLimit))
}

func attemptMessage(key string, attempt, budget int, success bool, detail string) string {
	icon := "❌"
	if success {
		icon = "✅"
	}
	return fmt.Sprintf("🔄 <b>Attempt %d/%d</b> · <code>%s</code>\n%s %s",
		attempt, budget, html.EscapeString(key), icon, quote(detail))
}

func activatedMessage(key, offer, detail string, attempts int) string {
	return fmt.Sprintf("✅ <b>Package activated!</b>\n\n📱 <b>Number:</b> %s\n📶 <b>Offer:</b> %s\n💬 <b>Message:</b> %s\n🔁 Activated after %d attempt(s).",
		html.EscapeString(key), html.EscapeString(offer), quote(detail), attempts)
}

func exhaustedMessage(key, detail string, attempts int) string {
	return fmt.Sprintf("❌ <b>All attempts failed</b>\n\n📱 <b>Number:</b> %s\n🔁 Tried %d time(s).\n💬 <pre>%s</pre>",
		html.EscapeString(key), attempts, quote(detail))
}

func alreadyActivatedMessage(key string) string {
	return fmt.Sprintf("ℹ️ <code>%s</code> is already activated. Skipping.", html.EscapeString(key))
}

func blockedMessage(key string) string {
	return fmt.Sprintf("🚫 <code>%s</code> is blocked. Skipping.", html.EscapeString(key))
}

const (
	disabledMessage = "🚫 Requests are currently disabled by the admin. Stopping."
	stoppedMessage  = "🛑 Stopped by user."
)

func startMessage(t Type, keys int, snap Snapshot) string {
	return fmt.Sprintf("🚀 Claiming <b>%s</b> for %d number(s).\nUp to %d attempt(s) each, %d success(es) needed. Send /stop to cancel.",
		html.EscapeString(t.Label()), keys, snap.RequestCount, snap.SuccessThreshold)
}

func summaryMessage(s Summary) string {
	var b strings.Builder
	b.WriteString("📋 <b>Summary</b>\n")
	writeKeys(&b, "✅ Activated", s.Activated)
	writeKeys(&b, "❌ Failed", s.Exhausted)
	writeKeys(&b, "⏭ Skipped", s.Skipped)
	writeKeys(&b, "⏸ Not processed", s.Pending)
	return strings.TrimRight(b.String(), "\n")
}

func writeKeys(b *strings.Builder, label string, keys []string) {
	if len(keys) == 0 {
		return
	}
	escaped := make([]string, len(keys))
	for i, k := range keys {
		escaped[i] = html.EscapeString(k)
	}
	fmt.Fprintf(b, "%s (%d): %s\n", label, len(keys), strings.Join(escaped, ", "))
}
