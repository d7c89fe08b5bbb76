package models

// Status is a request's position in the approval state machine.
//
//	created -> auto_verifying -> pending_review -> approved -> committing -> finalized
//	                          \-> rejected        \-> rejected              \-> failed
type Status string

const (
	StatusCreated       Status = "created"
	StatusAutoVerifying Status = "auto_verifying"
	StatusPendingReview Status = "pending_review"
	StatusApproved      Status = "approved"
	StatusCommitting    Status = "committing"
	StatusFinalized     Status = "finalized"
	StatusRejected      Status = "rejected"
	StatusFailed        Status = "failed"
)

var transitions = map[Status][]Status{
	StatusCreated:       {StatusAutoVerifying},
	StatusAutoVerifying: {StatusPendingReview, StatusRejected},
	StatusPendingReview: {StatusApproved, StatusRejected},
	StatusApproved:      {StatusCommitting},
	StatusCommitting:    {StatusFinalized, StatusFailed},
}

func (s Status) IsValid() bool {
	switch s {
	case StatusCreated, StatusAutoVerifying, StatusPendingReview, StatusApproved,
		StatusCommitting, StatusFinalized, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether next directly follows s. Terminal states
// have no successors.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusFinalized || s == StatusRejected || s == StatusFailed
}

func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	return st, st.IsValid()
}
