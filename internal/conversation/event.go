// Package conversation maps chat events onto workflow stages, jobs and admin actions.
// It knows nothing about the chat transport beyond notify.Replier.
package conversation

import (
	"context"

	"github.com/Proton-105/claim-bot/internal/notify"
)

// Kind tells commands, button presses and free text apart.
type Kind int

const (
	KindCommand Kind = iota + 1
	KindButton
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindButton:
		return "button"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// Event is one inbound update.
// For commands Name is the command without the slash and Args its arguments.
// For buttons Name is the action and Args holds its argument, if any.
type Event struct {
	Kind   Kind
	Name   string
	Args   []string
	Token  string
	Text   string
	UserID int64
}

// Arg returns the i-th argument or an empty string.
func (e Event) Arg(i int) string {
	if i < 0 || i >= len(e.Args) {
		return ""
	}
	return e.Args[i]
}

// Handler reacts to an Event.
type Handler func(ctx context.Context, ev Event, r notify.Replier) error
