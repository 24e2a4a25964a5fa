package metrics

import (
	"context"
	"time"

	"github.com/Proton-105/claim-bot/internal/state"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	botCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_commands_total",
			Help: "Total number of bot commands received labeled by command and status",
		},
		[]string{"command", "status"},
	)
	commandDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "command_duration_seconds",
			Help:    "Duration of bot commands in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)
	stateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "state_transitions_total",
			Help: "Total number of state transitions",
		},
		[]string{"from", "to"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors split by type and severity",
		},
		[]string{"type", "severity"},
	)
	activeUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_users",
			Help: "Current number of active users",
		},
	)
	usersByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "users_by_state",
			Help: "Number of users per workflow stage",
		},
		[]string{"state"},
	)
	claimAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claim_attempts_total",
			Help: "Remote activation attempts labeled by claim type and outcome",
		},
		[]string{"claim_type", "outcome"},
	)
	claimKeyOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claim_key_outcomes_total",
			Help: "Final outcome per phone key (activated, exhausted, skipped)",
		},
		[]string{"outcome"},
	)
	claimJobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "claim_jobs_active",
			Help: "Background jobs currently running",
		},
	)
	claimJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claim_jobs_total",
			Help: "Finished background jobs labeled by kind and result",
		},
		[]string{"kind", "result"},
	)
	endpointRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "endpoint_request_duration_seconds",
			Help:    "Latency of remote endpoint calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "outcome"},
	)
	rateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Updates dropped by the inbound rate limiter",
		},
		[]string{"rule"},
	)
)

func init() {
	state.RegisterTransitionRecorder(RecordStateTransition)
}

// RecordCommand increments command counters and records duration.
func RecordCommand(command, status string, duration time.Duration) {
	if command == "" {
		command = "unknown"
	}
	if status == "" {
		status = "unknown"
	}

	botCommandsTotal.WithLabelValues(command, status).Inc()
	commandDurationSeconds.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordStateTransition tracks FSM transitions.
func RecordStateTransition(from, to string) {
	if from == "" {
		from = "unknown"
	}
	if to == "" {
		to = "unknown"
	}

	stateTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordError increments error counters with metadata.
func RecordError(errType, severity string) {
	if errType == "" {
		errType = "unknown"
	}
	if severity == "" {
		severity = "unknown"
	}

	errorsTotal.WithLabelValues(errType, severity).Inc()
}

// RecordClaimAttempt counts one remote activation attempt.
func RecordClaimAttempt(claimType, outcome string) {
	claimAttemptsTotal.WithLabelValues(orUnknown(claimType), orUnknown(outcome)).Inc()
}

// RecordKeyOutcome counts the terminal outcome of a single key.
func RecordKeyOutcome(outcome string) {
	claimKeyOutcomesTotal.WithLabelValues(orUnknown(outcome)).Inc()
}

// SetActiveJobs updates the running jobs gauge.
func SetActiveJobs(count int) {
	claimJobsActive.Set(float64(count))
}

// RecordJobResult counts a finished background job.
func RecordJobResult(kind, result string) {
	claimJobsTotal.WithLabelValues(orUnknown(kind), orUnknown(result)).Inc()
}

// ObserveEndpointRequest records the latency of a remote endpoint call.
func ObserveEndpointRequest(endpoint, outcome string, duration time.Duration) {
	endpointRequestDuration.WithLabelValues(orUnknown(endpoint), orUnknown(outcome)).Observe(duration.Seconds())
}

// RecordRateLimitRejection counts an update dropped by the limiter.
func RecordRateLimitRejection(rule string) {
	rateLimitRejectionsTotal.WithLabelValues(orUnknown(rule)).Inc()
}

func orUnknown(label string) string {
	if label == "" {
		return "unknown"
	}
	return label
}

// SetActiveUsers updates the gauge for current active users.
func SetActiveUsers(count int) {
	activeUsers.Set(float64(count))
}

// SetUsersByState updates the gauge for the given state.
func SetUsersByState(state string, count int) {
	if state == "" {
		state = "unknown"
	}

	usersByState.WithLabelValues(state).Set(float64(count))
}

// StateCollector periodically gathers workflow stage counts and emits gauge metrics.
type StateCollector struct {
	fsm      state.StateMachine
	interval time.Duration
}

// NewStateCollector builds a metrics collector bound to the provided state machine.
func NewStateCollector(fsm state.StateMachine, interval time.Duration) *StateCollector {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &StateCollector{fsm: fsm, interval: interval}
}

// Run polls the state machine on every interval, updating user gauges until ctx is cancelled.
func (c *StateCollector) Run(ctx context.Context) {
	if c == nil || c.fsm == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		_ = c.collect(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *StateCollector) collect(ctx context.Context) error {
	states, err := c.fsm.GetAllStates(ctx)
	if err != nil {
		return err
	}

	SetActiveUsers(len(states))

	stateCounts := make(map[string]int, len(states))
	for _, st := range states {
		label := "unknown"
		if st != nil && st.CurrentState != "" {
			label = string(st.CurrentState)
		}
		stateCounts[label]++
	}

	usersByState.Reset()

	for _, tracked := range state.AllStates {
		label := string(tracked)
		SetUsersByState(label, stateCounts[label])
		delete(stateCounts, label)
	}

	for label, count := range stateCounts {
		SetUsersByState(label, count)
	}

	return nil
}
