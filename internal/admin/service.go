// Package admin exposes the operator controls over the claim engine.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Proton-105/claim-bot/internal/claim"
	apperrors "github.com/Proton-105/claim-bot/internal/errors"
)

// JobControl is the part of the supervisor the operator can drive.
type JobControl interface {
	Cancel(userID int64) bool
	ActiveCount() int
}

// Status is the aggregate view of the engine.
type Status struct {
	RequestsEnabled  bool          `json:"requests_enabled"`
	RequestCount     int           `json:"request_count"`
	SuccessThreshold int           `json:"success_threshold"`
	Delay            time.Duration `json:"-"`
	DelayText        string        `json:"delay"`
	ActiveJobs       int           `json:"active_jobs"`
	ActivatedKeys    int           `json:"activated_keys"`
	BlockedKeys      int           `json:"blocked_keys"`
}

// Service applies operator actions.
type Service struct {
	settings  *claim.Settings
	jobs      JobControl
	activated claim.KeySet
	blocked   claim.KeySet
	log       *slog.Logger
}

// NewService builds a Service.
func NewService(settings *claim.Settings, jobs JobControl, activated, blocked claim.KeySet, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		settings:  settings,
		jobs:      jobs,
		activated: activated,
		blocked:   blocked,
		log:       log.With(slog.String("component", "admin")),
	}
}

func (s *Service) SetRequestCount(n int) error {
	if err := s.settings.SetRequestCount(n); err != nil {
		return err
	}
	s.log.Info("request count changed", slog.Int("request_count", n))
	return nil
}

func (s *Service) SetSuccessThreshold(n int) error {
	if err := s.settings.SetSuccessThreshold(n); err != nil {
		return err
	}
	s.log.Info("success threshold changed", slog.Int("success_threshold", n))
	return nil
}

func (s *Service) SetDelay(d time.Duration) error {
	if err := s.settings.SetDelay(d); err != nil {
		return err
	}
	s.log.Info("delay changed", slog.Duration("delay", d))
	return nil
}

func (s *Service) SetRequestsEnabled(enabled bool) {
	s.settings.SetRequestsEnabled(enabled)
	s.log.Info("requests toggled", slog.Bool("enabled", enabled))
}

// CancelUser flags the user's running job and reports whether one existed.
func (s *Service) CancelUser(userID int64) bool {
	ok := s.jobs.Cancel(userID)
	s.log.Info("operator cancel", slog.Int64("user_id", userID), slog.Bool("had_job", ok))
	return ok
}

// Block normalizes key and adds it to the blocked set.
func (s *Service) Block(ctx context.Context, key string) (string, bool, error) {
	normalized, ok := claim.NormalizePhone(key)
	if !ok {
		return "", false, apperrors.NewValidationError(fmt.Sprintf("%q is not a valid number.", key))
	}

	added, err := s.blocked.Add(ctx, normalized)
	if err != nil {
		return "", false, apperrors.NewInternalError(err)
	}
	s.log.Info("key blocked", slog.String("key", normalized), slog.Bool("added", added))
	return normalized, added, nil
}

// Unblock normalizes key and removes it from the blocked set.
func (s *Service) Unblock(ctx context.Context, key string) (string, bool, error) {
	normalized, ok := claim.NormalizePhone(key)
	if !ok {
		return "", false, apperrors.NewValidationError(fmt.Sprintf("%q is not a valid number.", key))
	}

	removed, err := s.blocked.Remove(ctx, normalized)
	if err != nil {
		return "", false, apperrors.NewInternalError(err)
	}
	s.log.Info("key unblocked", slog.String("key", normalized), slog.Bool("removed", removed))
	return normalized, removed, nil
}

func (s *Service) Status(ctx context.Context) (Status, error) {
	snap := s.settings.Snapshot()

	activated, err := s.activated.Len(ctx)
	if err != nil {
		return Status{}, apperrors.NewInternalError(err)
	}
	blocked, err := s.blocked.Len(ctx)
	if err != nil {
		return Status{}, apperrors.NewInternalError(err)
	}

	return Status{
		RequestsEnabled:  snap.RequestsEnabled,
		RequestCount:     snap.RequestCount,
		SuccessThreshold: snap.SuccessThreshold,
		Delay:            snap.Delay,
		DelayText:        snap.Delay.String(),
		ActiveJobs:       s.jobs.ActiveCount(),
		ActivatedKeys:    activated,
		BlockedKeys:      blocked,
	}, nil
}
