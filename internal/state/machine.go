package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	userLockKeyPattern = "user:lock:%d"
	lockTTL            = 5 * time.Second
	defaultLockWait    = 500 * time.Millisecond
	lockRetryInterval  = 20 * time.Millisecond
)

var (
	// ErrInvalidTransition indicates that a requested workflow transition is not allowed.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrStateNotFound indicates that a user state record does not exist.
	ErrStateNotFound = errors.New("user state not found")
	// ErrStateLocked indicates that a concurrent operation already holds the lock.
	ErrStateLocked = errors.New("state is locked, try again later")
)

var transitionRecorder = func(from, to string) {}

// RegisterTransitionRecorder allows external packages to observe workflow transitions.
func RegisterTransitionRecorder(recorder func(from, to string)) {
	if recorder == nil {
		transitionRecorder = func(string, string) {}
		return
	}

	transitionRecorder = recorder
}

// StateMachine describes the operations supported by the workflow controller.
type StateMachine interface {
	// GetState returns the stored state or ErrStateNotFound.
	GetState(ctx context.Context, userID int64) (*UserState, error)
	// Current returns the stored state, or a fresh Idle state for unknown users.
	Current(ctx context.Context, userID int64) (*UserState, error)
	// TransitionTo validates and applies a stage change together with its mutations.
	TransitionTo(ctx context.Context, userID int64, newState State, mutations ...Mutation) error
	// Reset moves the user to their reset target and clears the claim choice.
	Reset(ctx context.Context, userID int64) (State, error)
	ClearState(ctx context.Context, userID int64) error
	GetAllStates(ctx context.Context) ([]*UserState, error)
}

// machine implements StateMachine on top of Storage with per-user locking.
// Locks live in Redis when a client is configured and in process memory otherwise.
type machine struct {
	storage     Storage
	log         *slog.Logger
	redisClient *redis.Client
	lockWait    time.Duration

	local sync.Map // int64 -> chan struct{}
}

// NewStateMachine creates a workflow controller using the provided storage and an optional redis client for locking.
func NewStateMachine(storage Storage, log *slog.Logger, redisClient *redis.Client) StateMachine {
	if log == nil {
		log = slog.Default()
	}

	return &machine{
		storage:     storage,
		log:         log,
		redisClient: redisClient,
		lockWait:    defaultLockWait,
	}
}

// GetState proxies to the underlying storage implementation.
func (m *machine) GetState(ctx context.Context, userID int64) (*UserState, error) {
	return m.storage.GetState(ctx, userID)
}

func (m *machine) Current(ctx context.Context, userID int64) (*UserState, error) {
	st, err := m.storage.GetState(ctx, userID)
	if errors.Is(err, ErrStateNotFound) || (err == nil && st == nil) {
		return NewUserState(userID), nil
	}
	return st, err
}

// GetAllStates returns every persisted user state.
func (m *machine) GetAllStates(ctx context.Context) ([]*UserState, error) {
	return m.storage.GetAllStates(ctx)
}

func (m *machine) TransitionTo(ctx context.Context, userID int64, newState State, mutations ...Mutation) error {
	if err := m.lock(ctx, userID); err != nil {
		return err
	}
	defer m.unlock(ctx, userID)

	current, err := m.Current(ctx, userID)
	if err != nil {
		return err
	}

	if !IsTransitionAllowed(current.CurrentState, newState) {
		m.log.Warn("invalid state transition", "user_id", userID, "from", current.CurrentState, "to", newState)
		return ErrInvalidTransition
	}

	from := current.CurrentState
	current.CurrentState = newState
	for _, mutate := range mutations {
		mutate(current)
	}

	if err := m.storage.SetState(ctx, userID, current); err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	if from != newState {
		transitionRecorder(string(from), string(newState))
	}
	return nil
}

func (m *machine) Reset(ctx context.Context, userID int64) (State, error) {
	if err := m.lock(ctx, userID); err != nil {
		return "", err
	}
	defer m.unlock(ctx, userID)

	current, err := m.Current(ctx, userID)
	if err != nil {
		return "", err
	}

	from := current.CurrentState
	target := current.ResetTarget()
	current.CurrentState = target
	current.ClaimType = ""

	if err := m.storage.SetState(ctx, userID, current); err != nil {
		return "", fmt.Errorf("save state: %w", err)
	}

	if from != target {
		transitionRecorder(string(from), string(target))
	}
	return target, nil
}

// ClearState removes the stored state via the backing storage while holding the lock.
func (m *machine) ClearState(ctx context.Context, userID int64) error {
	if err := m.lock(ctx, userID); err != nil {
		return err
	}
	defer m.unlock(ctx, userID)

	return m.storage.ClearState(ctx, userID)
}

func (m *machine) lock(ctx context.Context, userID int64) error {
	if m.redisClient == nil {
		return m.lockLocal(ctx, userID)
	}

	key := fmt.Sprintf(userLockKeyPattern, userID)
	deadline := time.Now().Add(m.lockWait)

	for {
		acquired, err := m.redisClient.SetNX(ctx, key, 1, lockTTL).Result()
		if err != nil {
			m.log.Error("failed to acquire user state lock", "user_id", userID, "error", err)
			return err
		}
		if acquired {
			return nil
		}

		if !time.Now().Before(deadline) {
			m.log.Warn("user state lock already held", "user_id", userID)
			return ErrStateLocked
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

func (m *machine) lockLocal(ctx context.Context, userID int64) error {
	v, _ := m.local.LoadOrStore(userID, make(chan struct{}, 1))
	slot := v.(chan struct{})

	select {
	case slot <- struct{}{}:
		return nil
	default:
	}

	if m.lockWait <= 0 {
		return ErrStateLocked
	}

	timer := time.NewTimer(m.lockWait)
	defer timer.Stop()

	select {
	case slot <- struct{}{}:
		return nil
	case <-timer.C:
		m.log.Warn("user state lock already held", "user_id", userID)
		return ErrStateLocked
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *machine) unlock(ctx context.Context, userID int64) {
	if m.redisClient == nil {
		if v, ok := m.local.Load(userID); ok {
			<-v.(chan struct{})
		}
		return
	}

	key := fmt.Sprintf(userLockKeyPattern, userID)
	if err := m.redisClient.Del(context.WithoutCancel(ctx), key).Err(); err != nil {
		m.log.Error("failed to release user state lock", "user_id", userID, "error", err)
	}
}
