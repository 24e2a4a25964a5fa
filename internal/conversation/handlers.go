package conversation

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/Proton-105/claim-bot/internal/admin"
	"github.com/Proton-105/claim-bot/internal/claim"
	apperrors "github.com/Proton-105/claim-bot/internal/errors"
	"github.com/Proton-105/claim-bot/internal/jobs"
	"github.com/Proton-105/claim-bot/internal/login"
	"github.com/Proton-105/claim-bot/internal/notify"
	"github.com/Proton-105/claim-bot/internal/state"
	"github.com/Proton-105/claim-bot/pkg/config"
)

// Stages is the workflow state machine as used by the handlers.
type Stages interface {
	StateReader
	TransitionTo(ctx context.Context, userID int64, newState state.State, mutations ...state.Mutation) error
	Reset(ctx context.Context, userID int64) (state.State, error)
}

// Jobs admits at most one background job per user.
type Jobs interface {
	TryStart(userID int64, kind jobs.Kind, fn jobs.JobFunc) (*jobs.Job, error)
	Cancel(userID int64) bool
	IsRunning(userID int64) bool
}

// ClaimRunner executes a claim job.
type ClaimRunner interface {
	Run(ctx context.Context, req claim.Request, cancelled func() bool) claim.Summary
}

// LoginFlow executes the login steps.
type LoginFlow interface {
	SubmitPhone(ctx context.Context, userID int64, phone string, cancelled func() bool) login.Outcome
	SubmitOTP(ctx context.Context, userID int64, otp string, cancelled func() bool) login.Outcome
}

// Gate is the global remote call switch.
type Gate interface {
	RequestsEnabled() bool
}

// Dependencies wires Handlers.
type Dependencies struct {
	Stages   Stages
	Jobs     Jobs
	Claims   ClaimRunner
	Login    LoginFlow
	Gate     Gate
	Admin    *admin.Service
	Channels []config.ChannelLink
	IsAdmin  func(userID int64) bool
	Log      *slog.Logger
}

// Handlers implements the bot conversation.
type Handlers struct {
	deps Dependencies
	log  *slog.Logger
}

// NewHandlers validates deps and builds Handlers.
func NewHandlers(deps Dependencies) (*Handlers, error) {
	switch {
	case deps.Stages == nil:
		return nil, errors.New("conversation: stages are required")
	case deps.Jobs == nil:
		return nil, errors.New("conversation: jobs are required")
	case deps.Claims == nil:
		return nil, errors.New("conversation: claim runner is required")
	case deps.Login == nil:
		return nil, errors.New("conversation: login flow is required")
	case deps.Gate == nil:
		return nil, errors.New("conversation: gate is required")
	}
	if deps.IsAdmin == nil {
		deps.IsAdmin = func(int64) bool { return false }
	}

	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	return &Handlers{deps: deps, log: log.With(slog.String("component", "conversation"))}, nil
}

// Register installs every handler on d.
func (h *Handlers) Register(d *Dispatcher) {
	d.RegisterCommand("start", h.start)
	d.RegisterCommand("help", h.help)
	d.RegisterCommand("login", h.beginLogin)
	d.RegisterCommand("claim", h.beginClaim)
	d.RegisterCommand("cancel", h.cancel)
	d.RegisterCommand("stop", h.stop)

	d.RegisterButton(ActionJoined, h.joined)
	d.RegisterButton(ActionLogin, h.beginLogin)
	d.RegisterButton(ActionClaim, h.beginClaim)
	d.RegisterButton(ActionTier, h.chooseTier)
	d.RegisterButton(ActionCancel, h.cancel)

	d.RegisterState(state.StateAwaitingPhoneForLogin, h.loginPhone)
	d.RegisterState(state.StateAwaitingOTP, h.loginOTP)
	d.RegisterState(state.StateAwaitingPhoneForClaim, h.claimPhones)

	if h.deps.Admin != nil {
		h.registerAdmin(d)
	}

	d.SetDefault(h.fallback)
}

func (h *Handlers) start(ctx context.Context, ev Event, r notify.Replier) error {
	if !h.deps.Jobs.IsRunning(ev.UserID) {
		if _, err := h.deps.Stages.Reset(ctx, ev.UserID); err != nil {
			return stageError(err)
		}
	}

	if len(h.deps.Channels) == 0 {
		return r.Reply(ctx, "👋 <b>Welcome!</b>\nChoose an option:", MainMenu())
	}
	return r.Reply(ctx, "👋 <b>Welcome!</b>\nJoin our channels first, then press <b>I Joined</b>.", channelsMenu(h.deps.Channels))
}

func (h *Handlers) help(ctx context.Context, ev Event, r notify.Replier) error {
	var b strings.Builder
	b.WriteString("ℹ️ <b>Commands</b>\n")
	b.WriteString("/start - main menu\n")
	b.WriteString("/login - log in with your number\n")
	b.WriteString("/claim - claim an offer\n")
	b.WriteString("/cancel - cancel the current step\n")
	b.WriteString("/stop - stop a running request")
	if h.deps.Admin != nil && h.deps.IsAdmin(ev.UserID) {
		b.WriteString("\n\n🛠 <b>Admin</b>\n")
		b.WriteString("/setcount N, /threshold N, /delay 2s\n")
		b.WriteString("/on, /off, /stop USER_ID\n")
		b.WriteString("/block NUMBER..., /unblock NUMBER..., /status")
	}
	return r.Reply(ctx, b.String(), nil)
}

func (h *Handlers) joined(ctx context.Context, _ Event, r notify.Replier) error {
	return r.EditOrReply(ctx, "🎉 Great! Choose an option:", MainMenu())
}

func (h *Handlers) beginLogin(ctx context.Context, ev Event, r notify.Replier) error {
	if h.deps.Jobs.IsRunning(ev.UserID) {
		return apperrors.NewJobRunningError(ev.UserID)
	}
	if err := h.deps.Stages.TransitionTo(ctx, ev.UserID, state.StateAwaitingPhoneForLogin); err != nil {
		return stageError(err)
	}
	return r.EditOrReply(ctx, "📱 Send the number you want to log in with, e.g. <code>03012345678</code>.", cancelMenu())
}

func (h *Handlers) beginClaim(ctx context.Context, ev Event, r notify.Replier) error {
	if h.deps.Jobs.IsRunning(ev.UserID) {
		return apperrors.NewJobRunningError(ev.UserID)
	}
	if err := h.deps.Stages.TransitionTo(ctx, ev.UserID, state.StateAwaitingClaimChoice); err != nil {
		return stageError(err)
	}
	return r.EditOrReply(ctx, "📶 Choose your offer:", tierMenu())
}

func (h *Handlers) chooseTier(ctx context.Context, ev Event, r notify.Replier) error {
	t, ok := claim.ParseType(ev.Arg(0))
	if !ok {
		return apperrors.NewValidationError("Unknown offer.")
	}
	if h.deps.Jobs.IsRunning(ev.UserID) {
		return apperrors.NewJobRunningError(ev.UserID)
	}
	if err := h.deps.Stages.TransitionTo(ctx, ev.UserID, state.StateAwaitingPhoneForClaim, state.WithClaimType(string(t))); err != nil {
		return stageError(err)
	}

	text := fmt.Sprintf("📶 <b>%s</b> selected.\n📱 Send one or more numbers, separated by spaces, commas or new lines.", html.EscapeString(t.Label()))
	return r.EditOrReply(ctx, text, cancelMenu())
}

func (h *Handlers) loginPhone(ctx context.Context, ev Event, r notify.Replier) error {
	keys, _ := claim.ParsePhones(ev.Text)
	if len(keys) != 1 {
		return apperrors.NewValidationError("Send a single number like 03012345678 or 923012345678.")
	}
	phone := keys[0]

	if h.deps.Jobs.IsRunning(ev.UserID) {
		return apperrors.NewJobRunningError(ev.UserID)
	}
	if err := r.Reply(ctx, fmt.Sprintf("⏳ Checking <code>%s</code>...", phone), nil); err != nil {
		return err
	}

	_, err := h.deps.Jobs.TryStart(ev.UserID, jobs.KindLogin, func(ctx context.Context, job *jobs.Job) error {
		h.deps.Login.SubmitPhone(ctx, ev.UserID, phone, job.Cancelled)
		return nil
	})
	if err != nil {
		return startError(err, ev.UserID)
	}
	return nil
}

func (h *Handlers) loginOTP(ctx context.Context, ev Event, r notify.Replier) error {
	otp, ok := login.NormalizeOTP(ev.Text)
	if !ok {
		return apperrors.NewValidationError("The code should be 4 to 8 digits.")
	}

	if h.deps.Jobs.IsRunning(ev.UserID) {
		return apperrors.NewJobRunningError(ev.UserID)
	}
	if err := r.Reply(ctx, "⏳ Verifying your code...", nil); err != nil {
		return err
	}

	_, err := h.deps.Jobs.TryStart(ev.UserID, jobs.KindVerify, func(ctx context.Context, job *jobs.Job) error {
		h.deps.Login.SubmitOTP(ctx, ev.UserID, otp, job.Cancelled)
		return nil
	})
	if err != nil {
		return startError(err, ev.UserID)
	}
	return nil
}

func (h *Handlers) claimPhones(ctx context.Context, ev Event, r notify.Replier) error {
	us, err := h.deps.Stages.Current(ctx, ev.UserID)
	if err != nil {
		return stageError(err)
	}
	t, ok := claim.ParseType(us.ClaimType)
	if !ok {
		return apperrors.NewStateError(fmt.Sprintf("claim type %q missing for user %d", us.ClaimType, ev.UserID))
	}

	keys, invalid := claim.ParsePhones(ev.Text)
	if len(keys) == 0 {
		return apperrors.NewValidationError("Send numbers like 03012345678 or 923012345678.")
	}
	if h.deps.Jobs.IsRunning(ev.UserID) {
		return apperrors.NewJobRunningError(ev.UserID)
	}
	if !h.deps.Gate.RequestsEnabled() {
		return apperrors.NewRequestsDisabledError()
	}

	if len(invalid) > 0 {
		escaped := make([]string, len(invalid))
		for i, s := range invalid {
			escaped[i] = html.EscapeString(s)
		}
		if err := r.Reply(ctx, "⚠️ Ignored invalid number(s): "+strings.Join(escaped, ", "), nil); err != nil {
			return err
		}
	}

	userID := ev.UserID
	_, err = h.deps.Jobs.TryStart(userID, jobs.KindClaim, func(ctx context.Context, job *jobs.Job) error {
		summary := h.deps.Claims.Run(ctx, claim.Request{
			JobID:  job.ID.String(),
			UserID: userID,
			Type:   t,
			Keys:   keys,
		}, job.Cancelled)

		h.log.Info("claim job finished",
			slog.String("job_id", job.ID.String()),
			slog.Int64("user_id", userID),
			slog.Int("activated", len(summary.Activated)),
			slog.Int("exhausted", len(summary.Exhausted)),
			slog.Int("attempts", summary.Attempts),
		)
		return nil
	})
	if err != nil {
		return startError(err, userID)
	}
	return nil
}

// startError maps a refused job start to the message the user sees.
func startError(err error, userID int64) error {
	if errors.Is(err, jobs.ErrClosed) {
		return apperrors.NewShuttingDownError()
	}
	return apperrors.NewJobRunningError(userID)
}

func (h *Handlers) cancel(ctx context.Context, ev Event, r notify.Replier) error {
	if h.deps.Jobs.Cancel(ev.UserID) {
		return r.Reply(ctx, "🛑 Stopping the current request...", nil)
	}

	target, err := h.deps.Stages.Reset(ctx, ev.UserID)
	if err != nil {
		return stageError(err)
	}
	if target == state.StateLoggedIn {
		return r.EditOrReply(ctx, "❌ Cancelled. Choose an option:", MainMenu())
	}
	return r.EditOrReply(ctx, "❌ Cancelled. Send /start to begin again.", nil)
}

// stop cancels the caller's own job, or with an argument and admin rights another user's.
func (h *Handlers) stop(ctx context.Context, ev Event, r notify.Replier) error {
	if len(ev.Args) > 0 && h.deps.Admin != nil && h.deps.IsAdmin(ev.UserID) {
		return h.adminStop(ctx, ev, r)
	}
	return h.cancel(ctx, ev, r)
}

func (h *Handlers) fallback(ctx context.Context, ev Event, r notify.Replier) error {
	if ev.Kind == KindCommand {
		return r.Reply(ctx, "❓ Unknown command. Send /help to see what I can do.", nil)
	}

	us, err := h.deps.Stages.Current(ctx, ev.UserID)
	if err != nil {
		return stageError(err)
	}

	switch us.CurrentState {
	case state.StateAwaitingClaimChoice:
		return r.Reply(ctx, "👆 Please pick an offer first.", tierMenu())
	case state.StateLoggedIn:
		return r.Reply(ctx, "Choose an option:", MainMenu())
	default:
		return r.Reply(ctx, "👋 Send /start to begin.", nil)
	}
}

func stageError(err error) error {
	switch {
	case errors.Is(err, state.ErrInvalidTransition):
		return apperrors.NewStateError(err.Error())
	case errors.Is(err, state.ErrStateLocked):
		return apperrors.NewStateError(err.Error())
	default:
		return apperrors.NewInternalError(err)
	}
}
