package claim

import (
	"fmt"
	"sync/atomic"
	"time"

	apperrors "github.com/Proton-105/claim-bot/internal/errors"
	"github.com/Proton-105/claim-bot/pkg/config"
)

const maxDelay = 5 * time.Minute

// Settings holds the runtime-tunable engine parameters.
// Each field is independent; jobs read them through Snapshot.
type Settings struct {
	requestCount     atomic.Int64
	successThreshold atomic.Int64
	delay            atomic.Int64
	requestsEnabled  atomic.Bool
}

// Snapshot is a consistent-enough copy of Settings taken once per round.
type Snapshot struct {
	RequestCount     int
	SuccessThreshold int
	Delay            time.Duration
	RequestsEnabled  bool
}

// NewSettings seeds Settings from configuration.
func NewSettings(cfg config.EngineConfig) *Settings {
	s := &Settings{}
	s.Apply(cfg)
	return s
}

// Apply overwrites every field from cfg, ignoring out-of-range values.
func (s *Settings) Apply(cfg config.EngineConfig) {
	if cfg.RequestCount >= 1 {
		s.requestCount.Store(int64(cfg.RequestCount))
	}
	if cfg.SuccessThreshold >= 1 {
		s.successThreshold.Store(int64(cfg.SuccessThreshold))
	}
	if cfg.Delay >= 0 && cfg.Delay <= maxDelay {
		s.delay.Store(int64(cfg.Delay))
	}
	s.requestsEnabled.Store(cfg.RequestsEnabled)
}

// ApplyChanges stores only the fields whose value differs between prev and next,
// leaving values set at runtime through the admin controls in place otherwise.
func (s *Settings) ApplyChanges(prev, next config.EngineConfig) {
	if next.RequestCount != prev.RequestCount && next.RequestCount >= 1 {
		s.requestCount.Store(int64(next.RequestCount))
	}
	if next.SuccessThreshold != prev.SuccessThreshold && next.SuccessThreshold >= 1 {
		s.successThreshold.Store(int64(next.SuccessThreshold))
	}
	if next.Delay != prev.Delay && next.Delay >= 0 && next.Delay <= maxDelay {
		s.delay.Store(int64(next.Delay))
	}
	if next.RequestsEnabled != prev.RequestsEnabled {
		s.requestsEnabled.Store(next.RequestsEnabled)
	}
}

func (s *Settings) Snapshot() Snapshot {
	return Snapshot{
		RequestCount:     int(s.requestCount.Load()),
		SuccessThreshold: int(s.successThreshold.Load()),
		Delay:            time.Duration(s.delay.Load()),
		RequestsEnabled:  s.requestsEnabled.Load(),
	}
}

func (s *Settings) RequestsEnabled() bool {
	return s.requestsEnabled.Load()
}

func (s *Settings) SetRequestCount(n int) error {
	if n < 1 || n > 100 {
		return apperrors.NewValidationError("Attempt count must be between 1 and 100.")
	}
	s.requestCount.Store(int64(n))
	return nil
}

func (s *Settings) SetSuccessThreshold(n int) error {
	if n < 1 || n > 100 {
		return apperrors.NewValidationError("Success threshold must be between 1 and 100.")
	}
	s.successThreshold.Store(int64(n))
	return nil
}

func (s *Settings) SetDelay(d time.Duration) error {
	if d < 0 || d > maxDelay {
		return apperrors.NewValidationError(fmt.Sprintf("Delay must be between 0s and %s.", maxDelay))
	}
	s.delay.Store(int64(d))
	return nil
}

func (s *Settings) SetRequestsEnabled(enabled bool) {
	s.requestsEnabled.Store(enabled)
}
