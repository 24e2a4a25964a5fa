package claim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/claim-bot/internal/endpoint"
	"github.com/Proton-105/claim-bot/internal/state"
	"github.com/Proton-105/claim-bot/pkg/config"
)

const (
	keyA = "03001234567"
	keyB = "03007654321"
)

type scriptedCaller struct {
	mu      sync.Mutex
	calls   []string
	respond func(key string, n int) (*endpoint.Response, error)
	onCall  func(total int)
}

func (c *scriptedCaller) Call(_ context.Context, t endpoint.Target, params url.Values) (*endpoint.Response, error) {
	key := params.Get("msisdn")

	c.mu.Lock()
	c.calls = append(c.calls, key)
	n := 0
	for _, k := range c.calls {
		if k == key {
			n++
		}
	}
	total := len(c.calls)
	c.mu.Unlock()

	if c.onCall != nil {
		c.onCall(total)
	}
	return c.respond(key, n)
}

func (c *scriptedCaller) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *scriptedCaller) CallsFor(key string) int {
	n := 0
	for _, k := range c.Calls() {
		if k == key {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, _ int64, text string) {
	n.mu.Lock()
	n.messages = append(n.messages, text)
	n.mu.Unlock()
}

func (n *recordingNotifier) Count(substr string) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	count := 0
	for _, m := range n.messages {
		if strings.Contains(m, substr) {
			count++
		}
	}
	return count
}

type memoryRecorder struct {
	mu       sync.Mutex
	attempts []Attempt
}

func (r *memoryRecorder) RecordAttempt(_ context.Context, a Attempt) error {
	r.mu.Lock()
	r.attempts = append(r.attempts, a)
	r.mu.Unlock()
	return nil
}

func okResponse(msg string) *endpoint.Response {
	return &endpoint.Response{Status: "success", Message: msg}
}

func failResponse(msg string) *endpoint.Response {
	flag := false
	return &endpoint.Response{Status: "false", Flag: &flag, Message: msg}
}

type fixture struct {
	orch      *Orchestrator
	settings  *Settings
	notifier  *recordingNotifier
	activated *MemoryKeySet
	blocked   *MemoryKeySet
	fsm       state.StateMachine
	recorder  *memoryRecorder
	sleeps    []time.Duration
}

func newFixture(t *testing.T, caller Caller, engine config.EngineConfig) *fixture {
	t.Helper()

	f := &fixture{
		settings:  NewSettings(engine),
		notifier:  &recordingNotifier{},
		activated: NewMemoryKeySet(),
		blocked:   NewMemoryKeySet(),
		fsm:       state.NewStateMachine(state.NewMemoryStorage(), testLogger(), nil),
		recorder:  &memoryRecorder{},
	}

	orch, err := NewOrchestrator(Dependencies{
		Caller:    caller,
		Settings:  f.settings,
		Activated: f.activated,
		Blocked:   f.blocked,
		Targets: Targets{
			Weekly:  {Endpoint: endpoint.Target{URL: "https://example.com/weekly"}, PhoneParam: "msisdn", Offer: "Weekly"},
			Monthly: {Endpoint: endpoint.Target{URL: "https://example.com/monthly"}, PhoneParam: "msisdn", Offer: "Monthly"},
		},
		Notifier: f.notifier,
		Stages:   f.fsm,
		Recorder: f.recorder,
		Log:      testLogger(),
	})
	require.NoError(t, err)

	orch.sleep = func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return ctx.Err()
	}
	f.orch = orch
	return f
}

func engine(n, threshold int) config.EngineConfig {
	return config.EngineConfig{RequestCount: n, SuccessThreshold: threshold, Delay: time.Second, RequestsEnabled: true}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (f *fixture) stage(t *testing.T, userID int64) state.State {
	t.Helper()
	st, err := f.fsm.Current(context.Background(), userID)
	require.NoError(t, err)
	return st.CurrentState
}

func TestRunSkipsAlreadyActivatedKeys(t *testing.T) {
	caller := &scriptedCaller{respond: func(string, int) (*endpoint.Response, error) {
		return okResponse("Offer activated"), nil
	}}
	f := newFixture(t, caller, engine(3, 1))
	_, _ = f.activated.Add(context.Background(), keyA)

	summary := f.orch.Run(context.Background(), Request{UserID: 1, Type: Monthly, Keys: []string{keyA, keyB}}, nil)

	assert.Equal(t, 0, caller.CallsFor(keyA))
	assert.Equal(t, 1, caller.CallsFor(keyB))
	assert.Equal(t, []string{keyA}, summary.Skipped)
	assert.Equal(t, []string{keyB}, summary.Activated)
	assert.Equal(t, 1, f.notifier.Count("is already activated"))
}

func TestRunSkipsBlockedKeys(t *testing.T) {
	caller := &scriptedCaller{respond: func(string, int) (*endpoint.Response, error) {
		return okResponse("success"), nil
	}}
	f := newFixture(t, caller, engine(3, 1))
	_, _ = f.blocked.Add(context.Background(), keyA)

	summary := f.orch.Run(context.Background(), Request{UserID: 1, Type: Weekly, Keys: []string{keyA}}, nil)

	assert.Empty(t, caller.Calls())
	assert.Equal(t, []string{keyA}, summary.Skipped)
	assert.Equal(t, 1, f.notifier.Count("is blocked"))
	assert.Equal(t, state.StateLoggedIn, f.stage(t, 1))
}

func TestRunAttemptBudgetAndThreshold(t *testing.T) {
	testCases := []struct {
		n, threshold, k int
		wantAttempts    int
		wantActivated   bool
	}{
		{n: 5, threshold: 3, k: 1, wantAttempts: 3, wantActivated: true},
		{n: 5, threshold: 3, k: 3, wantAttempts: 5, wantActivated: true},
		{n: 5, threshold: 3, k: 4, wantAttempts: 5, wantActivated: false},
		{n: 3, threshold: 1, k: 2, wantAttempts: 2, wantActivated: true},
		{n: 1, threshold: 1, k: 1, wantAttempts: 1, wantActivated: true},
		{n: 4, threshold: 2, k: 5, wantAttempts: 4, wantActivated: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(fmt.Sprintf("N=%d_T=%d_k=%d", tc.n, tc.threshold, tc.k), func(t *testing.T) {
			caller := &scriptedCaller{respond: func(_ string, n int) (*endpoint.Response, error) {
				if n >= tc.k {
					return okResponse("Successfully received"), nil
				}
				return failResponse("try later"), nil
			}}
			f := newFixture(t, caller, engine(tc.n, tc.threshold))

			summary := f.orch.Run(context.Background(), Request{UserID: 2, Type: Weekly, Keys: []string{keyA}}, nil)

			assert.Equal(t, tc.wantAttempts, caller.CallsFor(keyA))
			ok, _ := f.activated.Contains(context.Background(), keyA)
			assert.Equal(t, tc.wantActivated, ok)
			if tc.wantActivated {
				assert.Equal(t, []string{keyA}, summary.Activated)
				assert.Equal(t, 1, f.notifier.Count("Package activated"))
			} else {
				assert.Equal(t, []string{keyA}, summary.Exhausted)
				assert.Equal(t, 1, f.notifier.Count("All attempts failed"))
			}
		})
	}
}

func TestRunDisabledMidLoopEmitsOneNotice(t *testing.T) {
	var settings *Settings
	caller := &scriptedCaller{
		respond: func(string, int) (*endpoint.Response, error) { return failResponse("nope"), nil },
		onCall: func(total int) {
			if total == 2 {
				settings.SetRequestsEnabled(false)
			}
		},
	}
	f := newFixture(t, caller, engine(5, 1))
	settings = f.settings

	summary := f.orch.Run(context.Background(), Request{UserID: 3, Type: Weekly, Keys: []string{keyA, keyB, "03110000000"}}, nil)

	assert.Len(t, caller.Calls(), 2)
	assert.True(t, summary.Disabled)
	assert.Equal(t, 1, f.notifier.Count("disabled by the admin"))
	assert.ElementsMatch(t, []string{keyA, keyB, "03110000000"}, summary.Pending)
	assert.Equal(t, state.StateLoggedIn, f.stage(t, 3))
}

func TestRunDisabledBeforeStartMakesNoCalls(t *testing.T) {
	caller := &scriptedCaller{respond: func(string, int) (*endpoint.Response, error) { return okResponse("success"), nil }}
	cfg := engine(3, 1)
	cfg.RequestsEnabled = false
	f := newFixture(t, caller, cfg)

	summary := f.orch.Run(context.Background(), Request{UserID: 3, Type: Weekly, Keys: []string{keyA, keyB}}, nil)

	assert.Empty(t, caller.Calls())
	assert.True(t, summary.Disabled)
	assert.Equal(t, 1, f.notifier.Count("disabled by the admin"))
}

func TestRunRoundRobin(t *testing.T) {
	caller := &scriptedCaller{respond: func(string, int) (*endpoint.Response, error) {
		return failResponse("Activation unsuccessful"), nil
	}}
	f := newFixture(t, caller, engine(3, 1))

	summary := f.orch.Run(context.Background(), Request{UserID: 4, Type: Monthly, Keys: []string{keyA, keyB}}, nil)

	assert.Equal(t, []string{keyA, keyB, keyA, keyB, keyA, keyB}, caller.Calls())
	assert.Equal(t, []string{keyA, keyB}, summary.Exhausted)
	assert.Equal(t, 6, summary.Attempts)
	assert.Equal(t, 2, f.notifier.Count("All attempts failed"))
}

func TestRunDelayBetweenCallsOnly(t *testing.T) {
	caller := &scriptedCaller{respond: func(string, int) (*endpoint.Response, error) {
		return failResponse("nope"), nil
	}}
	f := newFixture(t, caller, engine(2, 1))
	require.NoError(t, f.settings.SetDelay(3*time.Second))

	f.orch.Run(context.Background(), Request{UserID: 5, Type: Weekly, Keys: []string{keyA, keyB}}, nil)

	assert.Len(t, caller.Calls(), 4)
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second, 3 * time.Second}, f.sleeps)
}

func TestRunCancelStopsEverything(t *testing.T) {
	var cancelRequested bool
	caller := &scriptedCaller{
		respond: func(string, int) (*endpoint.Response, error) { return failResponse("nope"), nil },
		onCall:  func(int) { cancelRequested = true },
	}
	f := newFixture(t, caller, engine(5, 1))

	consumed := 0
	cancelled := func() bool {
		if cancelRequested {
			cancelRequested = false
			consumed++
			return true
		}
		return false
	}

	summary := f.orch.Run(context.Background(), Request{UserID: 6, Type: Weekly, Keys: []string{keyA, keyB}}, cancelled)

	assert.Equal(t, []string{keyA}, caller.Calls())
	assert.True(t, summary.Stopped)
	assert.Equal(t, 1, consumed)
	assert.Equal(t, 1, f.notifier.Count("Stopped by user"))
	assert.Equal(t, []string{keyA, keyB}, summary.Pending)
	assert.Equal(t, state.StateLoggedIn, f.stage(t, 6))
}

func TestRunTransportErrorsCountAsFailures(t *testing.T) {
	caller := &scriptedCaller{respond: func(_ string, n int) (*endpoint.Response, error) {
		if n == 1 {
			return nil, &endpoint.Failure{Cause: "request timed out after 10s", Timeout: true}
		}
		return okResponse("Offer activated"), nil
	}}
	f := newFixture(t, caller, engine(3, 1))

	summary := f.orch.Run(context.Background(), Request{UserID: 7, Type: Weekly, Keys: []string{keyA}}, nil)

	assert.Equal(t, 2, caller.CallsFor(keyA))
	assert.Equal(t, []string{keyA}, summary.Activated)
	assert.Equal(t, 1, f.notifier.Count("request timed out"))

	f.recorder.mu.Lock()
	defer f.recorder.mu.Unlock()
	require.Len(t, f.recorder.attempts, 2)
	assert.False(t, f.recorder.attempts[0].Success)
	assert.NotEmpty(t, f.recorder.attempts[0].Error)
	assert.True(t, f.recorder.attempts[1].Success)
	assert.Equal(t, 2, f.recorder.attempts[1].Number)
}

func TestRunDropsKeyActivatedByAnotherJob(t *testing.T) {
	var activated *MemoryKeySet
	caller := &scriptedCaller{
		respond: func(string, int) (*endpoint.Response, error) { return failResponse("nope"), nil },
		onCall: func(total int) {
			if total == 1 {
				_, _ = activated.Add(context.Background(), keyA)
			}
		},
	}
	f := newFixture(t, caller, engine(3, 1))
	activated = f.activated

	summary := f.orch.Run(context.Background(), Request{UserID: 8, Type: Weekly, Keys: []string{keyA, keyB}}, nil)

	assert.Equal(t, 1, caller.CallsFor(keyA))
	assert.Equal(t, 3, caller.CallsFor(keyB))
	assert.Equal(t, []string{keyA}, summary.Skipped)
	assert.Equal(t, []string{keyB}, summary.Exhausted)
}

func TestRunInterruptedByShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	caller := &scriptedCaller{
		respond: func(string, int) (*endpoint.Response, error) { return failResponse("nope"), nil },
		onCall:  func(int) { cancel() },
	}
	f := newFixture(t, caller, engine(3, 1))

	summary := f.orch.Run(ctx, Request{UserID: 9, Type: Weekly, Keys: []string{keyA}}, nil)

	assert.True(t, summary.Interrupted)
	assert.Len(t, caller.Calls(), 1)
	assert.Equal(t, 0, f.notifier.Count("Summary"))
	assert.Equal(t, state.StateLoggedIn, f.stage(t, 9))
}

func TestRunScenarioMonthlyTwoNumbers(t *testing.T) {
	caller := &scriptedCaller{respond: func(key string, _ int) (*endpoint.Response, error) {
		if key == keyA {
			return okResponse("Your offer has been activated"), nil
		}
		return failResponse("Not eligible"), nil
	}}
	f := newFixture(t, caller, engine(3, 1))
	ctx := context.Background()

	require.NoError(t, f.fsm.TransitionTo(ctx, 10, state.StateAwaitingClaimChoice))
	require.NoError(t, f.fsm.TransitionTo(ctx, 10, state.StateAwaitingPhoneForClaim, state.WithClaimType(string(Monthly))))

	summary := f.orch.Run(ctx, Request{UserID: 10, Type: Monthly, Keys: []string{keyA, keyB}}, nil)

	assert.Equal(t, 1, caller.CallsFor(keyA))
	assert.Equal(t, 3, caller.CallsFor(keyB))
	assert.Equal(t, 1, f.notifier.Count("Activated after 1 attempt(s)"))
	assert.Equal(t, 1, f.notifier.Count("Tried 3 time(s)"))
	assert.Equal(t, []string{keyA}, summary.Activated)
	assert.Equal(t, []string{keyB}, summary.Exhausted)
	assert.Equal(t, state.StateLoggedIn, f.stage(t, 10))
}

func TestRunEscapesServerText(t *testing.T) {
	caller := &scriptedCaller{respond: func(string, int) (*endpoint.Response, error) {
		return failResponse("<b>" + strings.Repeat("x", 1200) + "</b>"), nil
	}}
	f := newFixture(t, caller, engine(1, 1))

	f.orch.Run(context.Background(), Request{UserID: 11, Type: Weekly, Keys: []string{keyA}}, nil)

	assert.Equal(t, 0, f.notifier.Count("<b>xxx"))
	assert.Positive(t, f.notifier.Count("&lt;b&gt;"))
}

func TestNewOrchestratorValidates(t *testing.T) {
	_, err := NewOrchestrator(Dependencies{})
	assert.Error(t, err)
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, errors.Is(sleepContext(ctx, time.Hour), context.Canceled))
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}
