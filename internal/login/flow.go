// Package login runs the phone and OTP steps that bring a user to LoggedIn.
package login

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"strings"

	"github.com/Proton-105/claim-bot/internal/claim"
	"github.com/Proton-105/claim-bot/internal/endpoint"
	"github.com/Proton-105/claim-bot/internal/notify"
	"github.com/Proton-105/claim-bot/internal/state"
	"github.com/Proton-105/claim-bot/pkg/config"
)

var (
	DefaultVerifiedMarkers = []string{"verified", "logged in", "no otp", "already"}
	DefaultOTPSentMarkers  = []string{"otp", "sent", "success"}
	DefaultFailureMarkers  = []string{"invalid", "failed", "error", "wrong", "expired", "unsuccessful", "not sent"}
)

// Outcome classifies a login endpoint response.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeOTPSent
	OutcomeVerified
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOTPSent:
		return "otp_sent"
	case OutcomeVerified:
		return "verified"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// Caller performs one remote endpoint call.
type Caller interface {
	Call(ctx context.Context, t endpoint.Target, params url.Values) (*endpoint.Response, error)
}

// Sender delivers messages with an optional keyboard.
type Sender interface {
	Send(ctx context.Context, userID int64, text string, kb notify.Keyboard) (notify.MessageRef, bool)
}

// Stages reads and moves the workflow stage.
type Stages interface {
	Current(ctx context.Context, userID int64) (*state.UserState, error)
	TransitionTo(ctx context.Context, userID int64, newState state.State, mutations ...state.Mutation) error
	Reset(ctx context.Context, userID int64) (state.State, error)
}

// Gate is the global remote call switch.
type Gate interface {
	RequestsEnabled() bool
}

// Dependencies wires a Flow.
type Dependencies struct {
	Config config.LoginConfig
	Caller Caller
	Sender Sender
	Stages Stages
	Gate   Gate
	// Menu is attached to the message confirming a login.
	Menu notify.Keyboard
	Log  *slog.Logger
}

// Flow interprets the login endpoints and applies the resulting transitions.
// With login disabled every well-formed phone is accepted without a remote call.
type Flow struct {
	deps     Dependencies
	verified *claim.Classifier
	otpSent  *claim.Classifier
	log      *slog.Logger
}

// NewFlow builds a Flow.
func NewFlow(deps Dependencies) (*Flow, error) {
	if deps.Sender == nil || deps.Stages == nil {
		return nil, errors.New("login: sender and stages are required")
	}
	if deps.Config.Enabled && (deps.Caller == nil || deps.Config.Request.URL == "") {
		return nil, errors.New("login: request endpoint is required when login is enabled")
	}

	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	failure := deps.Config.FailureMarkers
	if len(failure) == 0 {
		failure = DefaultFailureMarkers
	}
	verified := deps.Config.VerifiedMarkers
	if len(verified) == 0 {
		verified = DefaultVerifiedMarkers
	}
	otpSent := deps.Config.OTPSentMarkers
	if len(otpSent) == 0 {
		otpSent = DefaultOTPSentMarkers
	}

	return &Flow{
		deps:     deps,
		verified: claim.NewClassifier(verified, failure),
		otpSent:  claim.NewClassifier(otpSent, failure),
		log:      log.With(slog.String("component", "login")),
	}, nil
}

// Classify maps a response to an Outcome. Verification markers win over OTP markers.
func (f *Flow) Classify(resp *endpoint.Response) Outcome {
	switch {
	case f.verified.Success(resp):
		return OutcomeVerified
	case f.otpSent.Success(resp):
		return OutcomeOTPSent
	default:
		return OutcomeFailed
	}
}

// SubmitPhone handles a normalized phone sent while AwaitingPhoneForLogin.
// cancelled is polled once the remote call returns; a pending cancel resets
// the stage instead of applying the outcome. It may be nil.
func (f *Flow) SubmitPhone(ctx context.Context, userID int64, phone string, cancelled func() bool) Outcome {
	if !f.deps.Config.Enabled {
		if isCancelled(cancelled) {
			return f.stop(ctx, userID)
		}
		return f.complete(ctx, userID, phone)
	}
	if f.disabled(ctx, userID) {
		return OutcomeFailed
	}

	params := url.Values{paramOr(f.deps.Config.Request.PhoneParam, "msisdn"): {phone}}
	resp, err := f.deps.Caller.Call(ctx, target(f.deps.Config.Request), params)
	if isCancelled(cancelled) {
		return f.stop(ctx, userID)
	}
	if err != nil {
		f.fail(ctx, userID, "Login failed", describe(err, nil))
		return OutcomeFailed
	}

	outcome := f.Classify(resp)
	f.log.Info("login phone submitted", slog.Int64("user_id", userID), slog.String("outcome", outcome.String()))

	switch outcome {
	case OutcomeVerified:
		return f.complete(ctx, userID, phone)
	case OutcomeOTPSent:
		if err := f.deps.Stages.TransitionTo(ctx, userID, state.StateAwaitingOTP, state.WithPhone(phone)); err != nil {
			f.log.Error("failed to move to otp stage", slog.Int64("user_id", userID), slog.Any("error", err))
			f.fail(ctx, userID, "Login failed", "please try again")
			return OutcomeFailed
		}
		f.deps.Sender.Send(ctx, userID, fmt.Sprintf("📩 A one-time code was sent to <code>%s</code>. Please send it here.", html.EscapeString(phone)), nil)
		return OutcomeOTPSent
	default:
		f.fail(ctx, userID, "Login failed", describe(nil, resp))
		return OutcomeFailed
	}
}

// SubmitOTP handles a code sent while AwaitingOtp. cancelled behaves as in SubmitPhone.
func (f *Flow) SubmitOTP(ctx context.Context, userID int64, otp string, cancelled func() bool) Outcome {
	current, err := f.deps.Stages.Current(ctx, userID)
	if err != nil {
		f.log.Error("failed to load state for otp", slog.Int64("user_id", userID), slog.Any("error", err))
		f.fail(ctx, userID, "Verification failed", "please try again")
		return OutcomeFailed
	}

	if !f.deps.Config.Enabled || f.deps.Config.Verify.URL == "" {
		if isCancelled(cancelled) {
			return f.stop(ctx, userID)
		}
		return f.complete(ctx, userID, current.Phone)
	}
	if f.disabled(ctx, userID) {
		return OutcomeFailed
	}

	params := url.Values{
		paramOr(f.deps.Config.Verify.PhoneParam, "msisdn"): {current.Phone},
		paramOr(f.deps.Config.OTPParam, "otp"):             {otp},
	}
	resp, err := f.deps.Caller.Call(ctx, target(f.deps.Config.Verify), params)
	if isCancelled(cancelled) {
		return f.stop(ctx, userID)
	}
	if err != nil {
		f.fail(ctx, userID, "Verification failed", describe(err, nil))
		return OutcomeFailed
	}

	if f.verified.Success(resp) || f.otpSent.Success(resp) {
		return f.complete(ctx, userID, current.Phone)
	}

	f.fail(ctx, userID, "Code rejected", describe(nil, resp)+"\nPlease send the code again.")
	return OutcomeFailed
}

func (f *Flow) complete(ctx context.Context, userID int64, phone string) Outcome {
	if err := f.deps.Stages.TransitionTo(ctx, userID, state.StateLoggedIn, state.WithPhone(phone), state.MarkVerified()); err != nil {
		f.log.Error("failed to complete login", slog.Int64("user_id", userID), slog.Any("error", err))
		f.fail(ctx, userID, "Login failed", "please try again")
		return OutcomeFailed
	}

	f.log.Info("user logged in", slog.Int64("user_id", userID))
	f.deps.Sender.Send(ctx, userID, fmt.Sprintf("✅ Logged in as <code>%s</code>.", html.EscapeString(phone)), f.deps.Menu)
	return OutcomeVerified
}

// stop abandons the login step after the user cancelled it.
func (f *Flow) stop(ctx context.Context, userID int64) Outcome {
	stage, err := f.deps.Stages.Reset(ctx, userID)
	if err != nil {
		f.log.Error("failed to reset stage after cancel", slog.Int64("user_id", userID), slog.Any("error", err))
	}

	f.log.Info("login cancelled", slog.Int64("user_id", userID), slog.String("stage", string(stage)))
	var menu notify.Keyboard
	if stage == state.StateLoggedIn {
		menu = f.deps.Menu
	}
	f.deps.Sender.Send(ctx, userID, "🛑 Stopped by user.", menu)
	return OutcomeCancelled
}

func isCancelled(cancelled func() bool) bool {
	return cancelled != nil && cancelled()
}

func (f *Flow) disabled(ctx context.Context, userID int64) bool {
	if f.deps.Gate == nil || f.deps.Gate.RequestsEnabled() {
		return false
	}
	f.deps.Sender.Send(ctx, userID, "🚫 Requests are currently disabled by the admin. Please try later.", nil)
	return true
}

func (f *Flow) fail(ctx context.Context, userID int64, title, detail string) {
	f.deps.Sender.Send(ctx, userID, fmt.Sprintf("❌ <b>%s</b>\n%s", title, detail), nil)
}

func describe(err error, resp *endpoint.Response) string {
	if err != nil {
		var failure *endpoint.Failure
		if errors.As(err, &failure) {
			return "⚠️ " + html.EscapeString(failure.Cause)
		}
		return "⚠️ " + html.EscapeString(err.Error())
	}
	if resp == nil {
		return ""
	}
	return html.EscapeString(endpoint.Truncate(resp.Summary(), claim.MessageLimit))
}

func target(ep config.RemoteEndpoint) endpoint.Target {
	return endpoint.Target{URL: ep.URL, Method: ep.Method}
}

func paramOr(param, fallback string) string {
	if strings.TrimSpace(param) == "" {
		return fallback
	}
	return param
}

// NormalizeOTP accepts a 4 to 8 digit code, ignoring surrounding whitespace.
func NormalizeOTP(text string) (string, bool) {
	code := strings.TrimSpace(text)
	if len(code) < 4 || len(code) > 8 {
		return "", false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return code, true
}
