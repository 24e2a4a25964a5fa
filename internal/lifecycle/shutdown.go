package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Shutdown coordinates graceful shutdown hooks. Hooks registered in the same
// phase run in parallel; phases run in the order they were first used.
type Shutdown struct {
	mu     sync.Mutex
	phases []string
	hooks  map[string][]Hook
	log    *slog.Logger
}

// NewShutdown constructs a new Shutdown coordinator.
func NewShutdown(log *slog.Logger) *Shutdown {
	if log == nil {
		log = slog.Default()
	}

	return &Shutdown{log: log, hooks: make(map[string][]Hook)}
}

// Register adds a named shutdown hook to the default phase.
func (s *Shutdown) Register(name string, fn func(context.Context) error) {
	s.RegisterPhase("default", name, fn)
}

// RegisterPhase adds a named shutdown hook to phase.
func (s *Shutdown) RegisterPhase(phase, name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.hooks[phase]; !ok {
		s.phases = append(s.phases, phase)
	}
	s.hooks[phase] = append(s.hooks[phase], Hook{Name: name, Fn: fn})
}

// Execute runs every phase in order and waits for completion. All hook errors are joined.
func (s *Shutdown) Execute(ctx context.Context) error {
	s.mu.Lock()
	phases := append([]string(nil), s.phases...)
	hooks := make(map[string][]Hook, len(s.hooks))
	for phase, hs := range s.hooks {
		hooks[phase] = append([]Hook(nil), hs...)
	}
	s.mu.Unlock()

	start := time.Now()
	s.log.Info("shutdown sequence started", slog.Int("phase_count", len(phases)))

	var errs []error
	for _, phase := range phases {
		errs = append(errs, s.runPhase(ctx, phase, hooks[phase])...)
	}

	s.log.Info("shutdown sequence finished", slog.Duration("elapsed", time.Since(start)))
	return errors.Join(errs...)
}

func (s *Shutdown) runPhase(ctx context.Context, phase string, hooks []Hook) []error {
	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)

	for _, h := range hooks {
		wg.Add(1)
		go func(h Hook) {
			defer wg.Done()

			log := s.log.With(slog.String("phase", phase), slog.String("hook", h.Name))
			log.Debug("running shutdown hook")

			if err := h.Fn(ctx); err != nil {
				log.Error("shutdown hook failed", slog.Any("error", err))
				errMu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", h.Name, err))
				errMu.Unlock()
				return
			}

			log.Info("shutdown hook completed")
		}(h)
	}

	wg.Wait()
	return errs
}
