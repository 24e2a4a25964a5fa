package claim

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/Proton-105/claim-bot/internal/endpoint"
	"github.com/Proton-105/claim-bot/internal/state"
	"github.com/Proton-105/claim-bot/pkg/metrics"
)

// Caller performs one remote endpoint call.
type Caller interface {
	Call(ctx context.Context, t endpoint.Target, params url.Values) (*endpoint.Response, error)
}

// Notifier delivers progress text to a user. Delivery failures are the notifier's concern.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string)
}

// StageSetter moves a user to a workflow stage.
type StageSetter interface {
	TransitionTo(ctx context.Context, userID int64, newState state.State, mutations ...state.Mutation) error
}

// Attempt is one remote call made for a key.
type Attempt struct {
	JobID     string
	UserID    int64
	Key       string
	ClaimType Type
	Number    int
	Success   bool
	Message   string
	Error     string
	At        time.Time
}

// Recorder persists attempts for later inspection.
type Recorder interface {
	RecordAttempt(ctx context.Context, a Attempt) error
}

// Request is a single claim job.
type Request struct {
	JobID  string
	UserID int64
	Type   Type
	Keys   []string
}

// Summary is the outcome of a claim job.
type Summary struct {
	Activated []string
	Exhausted []string
	Skipped   []string
	// Pending lists keys left unprocessed because the job stopped early.
	Pending  []string
	Attempts int
	Stopped  bool
	Disabled bool
	// Interrupted is set when the process shut down mid-job.
	Interrupted bool
}

// Dependencies wires an Orchestrator.
type Dependencies struct {
	Caller     Caller
	Settings   *Settings
	Classifier *Classifier
	Activated  KeySet
	Blocked    KeySet
	Targets    Targets
	Notifier   Notifier
	Stages     StageSetter
	// Recorder is optional.
	Recorder Recorder
	Log      *slog.Logger
}

// Orchestrator runs claim jobs.
type Orchestrator struct {
	deps  Dependencies
	log   *slog.Logger
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewOrchestrator validates deps and builds an Orchestrator.
func NewOrchestrator(deps Dependencies) (*Orchestrator, error) {
	switch {
	case deps.Caller == nil:
		return nil, errors.New("claim: caller is required")
	case deps.Settings == nil:
		return nil, errors.New("claim: settings are required")
	case deps.Activated == nil:
		return nil, errors.New("claim: activated key set is required")
	case deps.Notifier == nil:
		return nil, errors.New("claim: notifier is required")
	case deps.Stages == nil:
		return nil, errors.New("claim: stage setter is required")
	case len(deps.Targets) == 0:
		return nil, errors.New("claim: no endpoints configured")
	}
	if deps.Classifier == nil {
		deps.Classifier = NewClassifier(nil, nil)
	}
	if deps.Blocked == nil {
		deps.Blocked = NewMemoryKeySet()
	}

	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	return &Orchestrator{
		deps:  deps,
		log:   log.With(slog.String("component", "claim")),
		sleep: sleepContext,
		now:   time.Now,
	}, nil
}

type keyProgress struct {
	key       string
	attempts  int
	successes int
	last      string
}

// Run executes req until every key is activated or exhausted, the user cancels,
// requests get disabled, or ctx is cancelled. The user always ends up LoggedIn.
func (o *Orchestrator) Run(ctx context.Context, req Request, cancelled func() bool) Summary {
	if cancelled == nil {
		cancelled = func() bool { return false }
	}

	log := o.log.With(
		slog.String("job_id", req.JobID),
		slog.Int64("user_id", req.UserID),
		slog.String("claim_type", string(req.Type)),
	)

	var summary Summary
	defer o.finish(ctx, req, &summary, log)

	target, ok := o.deps.Targets[req.Type]
	if !ok {
		log.Error("no endpoint for claim type")
		o.deps.Notifier.Notify(ctx, req.UserID, "⚠️ This offer is not available right now.")
		return summary
	}

	pending := o.admit(ctx, req, &summary, log)
	if len(pending) == 0 {
		return summary
	}

	o.deps.Notifier.Notify(ctx, req.UserID, startMessage(req.Type, len(pending), o.deps.Settings.Snapshot()))

	first := true
	for len(pending) > 0 {
		next := make([]*keyProgress, 0, len(pending))

		for i, kp := range pending {
			snap := o.deps.Settings.Snapshot()

			if kp.attempts >= snap.RequestCount {
				o.exhaust(ctx, req, kp, &summary)
				continue
			}
			if kp.attempts > 0 && o.activatedElsewhere(ctx, kp.key, log) {
				o.deps.Notifier.Notify(ctx, req.UserID, alreadyActivatedMessage(kp.key))
				summary.Skipped = append(summary.Skipped, kp.key)
				metrics.RecordKeyOutcome("skipped")
				continue
			}

			if !first {
				if err := o.sleep(ctx, snap.Delay); err != nil {
					summary.Interrupted = true
					summary.Pending = remaining(next, pending[i:])
					return summary
				}
			}
			first = false

			if !o.deps.Settings.RequestsEnabled() {
				summary.Disabled = true
				summary.Pending = remaining(next, pending[i:])
				o.deps.Notifier.Notify(ctx, req.UserID, disabledMessage)
				log.Info("claim stopped: requests disabled")
				return summary
			}
			if cancelled() {
				summary.Stopped = true
				summary.Pending = remaining(next, pending[i:])
				o.deps.Notifier.Notify(ctx, req.UserID, stoppedMessage)
				log.Info("claim stopped by user")
				return summary
			}
			if ctx.Err() != nil {
				summary.Interrupted = true
				summary.Pending = remaining(next, pending[i:])
				return summary
			}

			success := o.attempt(ctx, req, target, kp, snap, log)
			summary.Attempts++
			if success {
				kp.successes++
			}

			switch {
			case kp.successes >= snap.SuccessThreshold:
				o.activate(ctx, req, target, kp, &summary, log)
			case kp.attempts >= snap.RequestCount:
				o.exhaust(ctx, req, kp, &summary)
			default:
				next = append(next, kp)
			}
		}

		pending = next
	}

	return summary
}

// admit removes duplicates, blocked keys and keys that are already activated.
func (o *Orchestrator) admit(ctx context.Context, req Request, summary *Summary, log *slog.Logger) []*keyProgress {
	seen := make(map[string]struct{}, len(req.Keys))
	pending := make([]*keyProgress, 0, len(req.Keys))

	for _, key := range req.Keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		blocked, err := o.deps.Blocked.Contains(ctx, key)
		if err != nil {
			log.Warn("blocked key lookup failed", slog.String("key", key), slog.Any("error", err))
		}
		if blocked {
			o.deps.Notifier.Notify(ctx, req.UserID, blockedMessage(key))
			summary.Skipped = append(summary.Skipped, key)
			metrics.RecordKeyOutcome("blocked")
			continue
		}

		activated, err := o.deps.Activated.Contains(ctx, key)
		if err != nil {
			log.Warn("activated key lookup failed", slog.String("key", key), slog.Any("error", err))
		}
		if activated {
			o.deps.Notifier.Notify(ctx, req.UserID, alreadyActivatedMessage(key))
			summary.Skipped = append(summary.Skipped, key)
			metrics.RecordKeyOutcome("skipped")
			continue
		}

		pending = append(pending, &keyProgress{key: key})
	}

	return pending
}

func (o *Orchestrator) attempt(ctx context.Context, req Request, target Target, kp *keyProgress, snap Snapshot, log *slog.Logger) bool {
	resp, err := o.deps.Caller.Call(ctx, target.Endpoint, url.Values{target.PhoneParam: {kp.key}})
	kp.attempts++

	var (
		success bool
		detail  string
		outcome = "failure"
	)
	switch {
	case err != nil:
		outcome = "error"
		detail = err.Error()
		var failure *endpoint.Failure
		if errors.As(err, &failure) {
			detail = "⚠️ " + failure.Cause
		}
	default:
		success = o.deps.Classifier.Success(resp)
		detail = resp.Summary()
		if success {
			outcome = "success"
		}
	}
	kp.last = detail

	metrics.RecordClaimAttempt(string(req.Type), outcome)
	log.Info("claim attempt",
		slog.String("key", kp.key),
		slog.Int("attempt", kp.attempts),
		slog.String("outcome", outcome),
	)

	o.deps.Notifier.Notify(ctx, req.UserID, attemptMessage(kp.key, kp.attempts, snap.RequestCount, success, detail))
	o.record(ctx, Attempt{
		JobID:     req.JobID,
		UserID:    req.UserID,
		Key:       kp.key,
		ClaimType: req.Type,
		Number:    kp.attempts,
		Success:   success,
		Message:   respMessage(resp),
		Error:     errText(err),
		At:        o.now().UTC(),
	}, log)

	return success
}

func (o *Orchestrator) activate(ctx context.Context, req Request, target Target, kp *keyProgress, summary *Summary, log *slog.Logger) {
	if _, err := o.deps.Activated.Add(ctx, kp.key); err != nil {
		log.Error("failed to remember activated key", slog.String("key", kp.key), slog.Any("error", err))
	}
	summary.Activated = append(summary.Activated, kp.key)
	metrics.RecordKeyOutcome("activated")

	o.deps.Notifier.Notify(ctx, req.UserID, activatedMessage(kp.key, target.Offer, kp.last, kp.attempts))
}

func (o *Orchestrator) exhaust(ctx context.Context, req Request, kp *keyProgress, summary *Summary) {
	summary.Exhausted = append(summary.Exhausted, kp.key)
	metrics.RecordKeyOutcome("exhausted")

	o.deps.Notifier.Notify(ctx, req.UserID, exhaustedMessage(kp.key, kp.last, kp.attempts))
}

func (o *Orchestrator) activatedElsewhere(ctx context.Context, key string, log *slog.Logger) bool {
	ok, err := o.deps.Activated.Contains(ctx, key)
	if err != nil {
		log.Warn("activated key lookup failed", slog.String("key", key), slog.Any("error", err))
		return false
	}
	return ok
}

func (o *Orchestrator) record(ctx context.Context, a Attempt, log *slog.Logger) {
	if o.deps.Recorder == nil {
		return
	}
	if err := o.deps.Recorder.RecordAttempt(context.WithoutCancel(ctx), a); err != nil {
		log.Warn("failed to record claim attempt", slog.Any("error", err))
	}
}

func (o *Orchestrator) finish(ctx context.Context, req Request, summary *Summary, log *slog.Logger) {
	if err := o.deps.Stages.TransitionTo(context.WithoutCancel(ctx), req.UserID, state.StateLoggedIn); err != nil {
		log.Error("failed to reset stage after claim", slog.Any("error", err))
	}

	log.Info("claim finished",
		slog.Int("activated", len(summary.Activated)),
		slog.Int("exhausted", len(summary.Exhausted)),
		slog.Int("skipped", len(summary.Skipped)),
		slog.Int("attempts", summary.Attempts),
		slog.Bool("stopped", summary.Stopped),
		slog.Bool("disabled", summary.Disabled),
		slog.Bool("interrupted", summary.Interrupted),
	)

	if summary.Interrupted {
		return
	}
	if len(summary.Activated)+len(summary.Exhausted)+len(summary.Skipped)+len(summary.Pending) > 0 {
		o.deps.Notifier.Notify(ctx, req.UserID, summaryMessage(*summary))
	}
}

func remaining(next, rest []*keyProgress) []string {
	keys := make([]string, 0, len(next)+len(rest))
	for _, kp := range next {
		keys = append(keys, kp.key)
	}
	for _, kp := range rest {
		keys = append(keys, kp.key)
	}
	return keys
}

func respMessage(resp *endpoint.Response) string {
	if resp == nil {
		return ""
	}
	return endpoint.Truncate(resp.Summary(), MessageLimit)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
