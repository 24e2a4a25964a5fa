package state

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errStorageFailure = errors.New("storage error")

type mockStorage struct {
	mock.Mock
}

func (m *mockStorage) GetState(ctx context.Context, userID int64) (*UserState, error) {
	args := m.Called(ctx, userID)
	state, _ := args.Get(0).(*UserState)
	return state, args.Error(1)
}

func (m *mockStorage) SetState(ctx context.Context, userID int64, state *UserState) error {
	args := m.Called(ctx, userID, state)
	return args.Error(0)
}

func (m *mockStorage) ClearState(ctx context.Context, userID int64) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *mockStorage) GetAllStates(ctx context.Context) ([]*UserState, error) {
	args := m.Called(ctx)
	states, _ := args.Get(0).([]*UserState)
	return states, args.Error(1)
}

func TestStateMachine_TransitionTo(t *testing.T) {
	ctx := context.Background()
	userID := int64(42)
	log := testLogger()

	testCases := []struct {
		name        string
		setupMocks  func(ms *mockStorage)
		newState    State
		mutations   []Mutation
		expectedErr error
	}{
		{
			name: "successful transition",
			setupMocks: func(ms *mockStorage) {
				ms.On("GetState", mock.Anything, userID).
					Return(&UserState{UserID: userID, CurrentState: StateAwaitingClaimChoice}, nil).Once()
				ms.On("SetState", mock.Anything, userID, mock.MatchedBy(func(state *UserState) bool {
					return state.CurrentState == StateAwaitingPhoneForClaim && state.ClaimType == "monthly"
				})).Return(nil).Once()
			},
			newState:  StateAwaitingPhoneForClaim,
			mutations: []Mutation{WithClaimType("monthly")},
		},
		{
			name: "invalid transition",
			setupMocks: func(ms *mockStorage) {
				ms.On("GetState", mock.Anything, userID).
					Return(&UserState{CurrentState: StateIdle}, nil).Once()
			},
			newState:    StateAwaitingOTP,
			expectedErr: ErrInvalidTransition,
		},
		{
			name: "new user transition",
			setupMocks: func(ms *mockStorage) {
				ms.On("GetState", mock.Anything, userID).
					Return((*UserState)(nil), ErrStateNotFound).Once()
				ms.On("SetState", mock.Anything, userID, mock.MatchedBy(func(state *UserState) bool {
					return state.CurrentState == StateAwaitingPhoneForLogin && state.UserID == userID
				})).Return(nil).Once()
			},
			newState: StateAwaitingPhoneForLogin,
		},
		{
			name: "storage failure",
			setupMocks: func(ms *mockStorage) {
				ms.On("GetState", mock.Anything, userID).
					Return((*UserState)(nil), errStorageFailure).Once()
			},
			newState:    StateAwaitingPhoneForLogin,
			expectedErr: errStorageFailure,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ms := &mockStorage{}
			tc.setupMocks(ms)

			fsm := NewStateMachine(ms, log, nil)
			err := fsm.TransitionTo(ctx, userID, tc.newState, tc.mutations...)

			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr)
			} else {
				assert.NoError(t, err)
			}

			ms.AssertExpectations(t)
		})
	}
}

func TestStateMachine_Current(t *testing.T) {
	ctx := context.Background()

	ms := &mockStorage{}
	ms.On("GetState", mock.Anything, int64(7)).Return((*UserState)(nil), ErrStateNotFound).Twice()
	ms.On("GetState", mock.Anything, int64(8)).
		Return(&UserState{UserID: 8, CurrentState: StateLoggedIn, Verified: true}, nil).Once()

	fsm := NewStateMachine(ms, testLogger(), nil)

	fresh, err := fsm.Current(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, fresh.CurrentState)
	assert.Equal(t, int64(7), fresh.UserID)

	known, err := fsm.Current(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, StateLoggedIn, known.CurrentState)

	_, err = fsm.GetState(ctx, 7)
	assert.Error(t, err)
	ms.AssertExpectations(t)
}

func TestStateMachine_Reset(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	fsm := NewStateMachine(storage, testLogger(), nil)

	require.NoError(t, fsm.TransitionTo(ctx, 1, StateAwaitingClaimChoice))
	require.NoError(t, fsm.TransitionTo(ctx, 1, StateAwaitingPhoneForClaim, WithClaimType("weekly")))

	target, err := fsm.Reset(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, target)

	st, err := fsm.GetState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, st.CurrentState)
	assert.Empty(t, st.ClaimType)

	require.NoError(t, fsm.TransitionTo(ctx, 2, StateAwaitingPhoneForLogin, WithPhone("03001234567")))
	require.NoError(t, fsm.TransitionTo(ctx, 2, StateLoggedIn, MarkVerified()))
	require.NoError(t, fsm.TransitionTo(ctx, 2, StateAwaitingClaimChoice))

	target, err = fsm.Reset(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, StateLoggedIn, target)

	st, err = fsm.GetState(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "03001234567", st.Phone)
	assert.True(t, st.Verified)
}

func TestStateMachine_ClearState(t *testing.T) {
	ctx := context.Background()
	userID := int64(13)

	testCases := []struct {
		name      string
		storeErr  error
		expectErr error
	}{
		{name: "clear state success"},
		{name: "clear state error", storeErr: errStorageFailure, expectErr: errStorageFailure},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ms := &mockStorage{}
			ms.On("ClearState", mock.Anything, userID).Return(tc.storeErr).Once()

			fsm := NewStateMachine(ms, testLogger(), nil)
			err := fsm.ClearState(ctx, userID)

			if tc.expectErr != nil {
				assert.ErrorIs(t, err, tc.expectErr)
			} else {
				assert.NoError(t, err)
			}
			ms.AssertExpectations(t)
		})
	}
}

func TestStateMachine_TransitionRecorder(t *testing.T) {
	var (
		mu       sync.Mutex
		recorded []string
	)
	RegisterTransitionRecorder(func(from, to string) {
		mu.Lock()
		recorded = append(recorded, from+"->"+to)
		mu.Unlock()
	})
	t.Cleanup(func() { RegisterTransitionRecorder(nil) })

	fsm := NewStateMachine(NewMemoryStorage(), testLogger(), nil)
	ctx := context.Background()

	require.NoError(t, fsm.TransitionTo(ctx, 5, StateAwaitingClaimChoice))
	require.NoError(t, fsm.TransitionTo(ctx, 5, StateAwaitingClaimChoice))
	_, err := fsm.Reset(ctx, 5)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"idle->awaiting_claim_choice", "awaiting_claim_choice->idle"}, recorded)
}

func TestStateMachine_RedisLock(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	t.Cleanup(cleanup)

	storage := newSlowStorage(100 * time.Millisecond)
	fsm := NewStateMachine(storage, testLogger(), client)
	fsm.(*machine).lockWait = 0

	assertOneLocked(t, fsm)
}

func TestStateMachine_LocalLock(t *testing.T) {
	storage := newSlowStorage(100 * time.Millisecond)
	fsm := NewStateMachine(storage, testLogger(), nil)
	fsm.(*machine).lockWait = 0

	assertOneLocked(t, fsm)
}

func TestStateMachine_LocalLockWaits(t *testing.T) {
	storage := newSlowStorage(30 * time.Millisecond)
	fsm := NewStateMachine(storage, testLogger(), nil)

	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- fsm.TransitionTo(ctx, 9, StateAwaitingPhoneForLogin)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func assertOneLocked(t *testing.T, fsm StateMachine) {
	t.Helper()

	ctx := context.Background()
	userID := int64(77)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- fsm.TransitionTo(ctx, userID, StateAwaitingClaimChoice)
		}()
	}

	wg.Wait()
	close(errCh)

	var success, locked int
	for err := range errCh {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrStateLocked):
			locked++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, success)
	assert.Equal(t, 1, locked)
}

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}

	return client, cleanup
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// slowStorage delays writes so concurrent callers overlap on the lock.
type slowStorage struct {
	*MemoryStorage
	delay time.Duration
}

func newSlowStorage(delay time.Duration) *slowStorage {
	return &slowStorage{MemoryStorage: NewMemoryStorage(), delay: delay}
}

func (s *slowStorage) SetState(ctx context.Context, userID int64, state *UserState) error {
	time.Sleep(s.delay)
	return s.MemoryStorage.SetState(ctx, userID, state)
}
