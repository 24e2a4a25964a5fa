package state

import "time"

// State is a node of the per-user workflow.
type State string

const (
	// StateIdle is the initial stage of a user that has not logged in.
	StateIdle State = "idle"
	// StateAwaitingPhoneForLogin waits for the phone number used to log in.
	StateAwaitingPhoneForLogin State = "awaiting_phone_login"
	// StateAwaitingOTP waits for the one-time code sent to the login phone.
	StateAwaitingOTP State = "awaiting_otp"
	// StateAwaitingClaimChoice waits for the user to pick an offer tier.
	StateAwaitingClaimChoice State = "awaiting_claim_choice"
	// StateAwaitingPhoneForClaim waits for the numbers to claim the chosen offer for.
	StateAwaitingPhoneForClaim State = "awaiting_phone_claim"
	// StateLoggedIn is the resting stage after a completed login or claim.
	StateLoggedIn State = "logged_in"
)

// AllStates lists every stage, in workflow order.
var AllStates = []State{
	StateIdle,
	StateAwaitingPhoneForLogin,
	StateAwaitingOTP,
	StateAwaitingClaimChoice,
	StateAwaitingPhoneForClaim,
	StateLoggedIn,
}

// UserState captures the workflow position of a Telegram user.
type UserState struct {
	UserID       int64     `json:"user_id"`
	CurrentState State     `json:"current_state"`
	Phone        string    `json:"phone,omitempty"`
	ClaimType    string    `json:"claim_type,omitempty"`
	Verified     bool      `json:"verified"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewUserState returns the state of a user seen for the first time.
func NewUserState(userID int64) *UserState {
	return &UserState{UserID: userID, CurrentState: StateIdle}
}

// ResetTarget is the stage a cancel or a finished job returns the user to.
func (s *UserState) ResetTarget() State {
	if s != nil && s.Verified {
		return StateLoggedIn
	}
	return StateIdle
}

// Clone returns an independent copy.
func (s *UserState) Clone() *UserState {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

// Mutation changes per-user data alongside a transition.
type Mutation func(*UserState)

// WithPhone records the phone number entered during login.
func WithPhone(phone string) Mutation {
	return func(s *UserState) { s.Phone = phone }
}

// WithClaimType records the chosen offer tier.
func WithClaimType(claimType string) Mutation {
	return func(s *UserState) { s.ClaimType = claimType }
}

// MarkVerified records a completed login.
func MarkVerified() Mutation {
	return func(s *UserState) { s.Verified = true }
}
