package conversation

import (
	"github.com/Proton-105/claim-bot/internal/claim"
	"github.com/Proton-105/claim-bot/internal/notify"
	"github.com/Proton-105/claim-bot/pkg/config"
)

// Button actions.
const (
	ActionJoined = "joined"
	ActionLogin  = "login"
	ActionClaim  = "claim"
	ActionTier   = "tier"
	ActionCancel = "cancel"
)

// MainMenu is shown after joining and after a completed login.
func MainMenu() notify.Keyboard {
	return notify.Keyboard{
		notify.Row(notify.Button{Text: "🔐 Login", Action: ActionLogin}),
		notify.Row(notify.Button{Text: "📥 Claim Your MB", Action: ActionClaim}),
	}
}

func channelsMenu(channels []config.ChannelLink) notify.Keyboard {
	kb := make(notify.Keyboard, 0, len(channels)+1)
	for _, ch := range channels {
		kb = append(kb, notify.Row(notify.Button{Text: ch.Title, URL: ch.URL}))
	}
	return append(kb, notify.Row(notify.Button{Text: "✅ I Joined", Action: ActionJoined}))
}

func tierMenu() notify.Keyboard {
	row := make([]notify.Button, 0, len(claim.Types))
	for _, t := range claim.Types {
		row = append(row, notify.Button{Text: "📶 " + t.Label(), Action: ActionTier, Arg: string(t)})
	}
	return notify.Keyboard{row, cancelRow()}
}

func cancelMenu() notify.Keyboard {
	return notify.Keyboard{cancelRow()}
}

func cancelRow() []notify.Button {
	return notify.Row(notify.Button{Text: "❌ Cancel", Action: ActionCancel})
}
