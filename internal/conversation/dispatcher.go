package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Proton-105/claim-bot/internal/notify"
	"github.com/Proton-105/claim-bot/internal/state"
)

// StateReader resolves the user's current stage.
type StateReader interface {
	Current(ctx context.Context, userID int64) (*state.UserState, error)
}

// Dispatcher routes events to commands, button actions and per-stage text handlers.
type Dispatcher struct {
	mu             sync.RWMutex
	stages         StateReader
	commands       map[string]Handler
	buttons        map[string]Handler
	states         map[state.State]Handler
	defaultHandler Handler
	log            *slog.Logger
}

// NewDispatcher builds an empty Dispatcher.
func NewDispatcher(stages StateReader, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}

	return &Dispatcher{
		stages:   stages,
		commands: make(map[string]Handler),
		buttons:  make(map[string]Handler),
		states:   make(map[state.State]Handler),
		log:      log,
	}
}

func (d *Dispatcher) RegisterCommand(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands[name] = h
}

func (d *Dispatcher) RegisterButton(action string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buttons[action] = h
}

// RegisterState handles free text received while the user is in st.
func (d *Dispatcher) RegisterState(st state.State, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states[st] = h
}

// SetDefault handles unknown commands and text no stage expects.
func (d *Dispatcher) SetDefault(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defaultHandler = h
}

// Commands lists the registered command names.
func (d *Dispatcher) Commands() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.commands))
	for name := range d.commands {
		names = append(names, name)
	}
	return names
}

// Dispatch runs the handler matching ev. Presses of unknown buttons are ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event, r notify.Replier) error {
	switch ev.Kind {
	case KindCommand:
		if h := d.command(ev.Name); h != nil {
			return h(ctx, ev, r)
		}
	case KindButton:
		h := d.button(ev.Name)
		if h == nil {
			d.log.Info("no button handler found", slog.String("action", ev.Name), slog.Int64("user_id", ev.UserID))
			return nil
		}
		return h(ctx, ev, r)
	case KindText:
		us, err := d.stages.Current(ctx, ev.UserID)
		if err != nil {
			return err
		}
		if h := d.state(us.CurrentState); h != nil {
			return h(ctx, ev, r)
		}
	}

	if h := d.fallback(); h != nil {
		return h(ctx, ev, r)
	}
	return nil
}

func (d *Dispatcher) command(name string) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.commands[name]
}

func (d *Dispatcher) button(action string) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.buttons[action]
}

func (d *Dispatcher) state(st state.State) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.states[st]
}

func (d *Dispatcher) fallback() Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.defaultHandler
}
