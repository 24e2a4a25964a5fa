package state

// validTransitions contains the permitted forward transitions of the workflow.
var validTransitions = map[State][]State{
	StateIdle: {
		StateAwaitingPhoneForLogin,
		StateAwaitingClaimChoice,
	},
	StateAwaitingPhoneForLogin: {
		StateAwaitingOTP,
		StateLoggedIn,
	},
	StateAwaitingOTP: {
		StateLoggedIn,
	},
	StateLoggedIn: {
		StateAwaitingPhoneForLogin,
		StateAwaitingClaimChoice,
	},
	StateAwaitingClaimChoice: {
		StateAwaitingPhoneForClaim,
	},
	StateAwaitingPhoneForClaim: {
		StateAwaitingClaimChoice,
		StateLoggedIn,
	},
}

// IsTransitionAllowed reports whether moving from one state to another is valid.
// Resets to Idle or LoggedIn are always allowed, as is staying put.
func IsTransitionAllowed(from, to State) bool {
	if to == StateIdle || to == StateLoggedIn || from == to {
		return true
	}

	for _, state := range validTransitions[from] {
		if state == to {
			return true
		}
	}

	return false
}
