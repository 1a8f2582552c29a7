package fiscal

import "time"

// legalTransitions is the full lifecycle table. Anything absent is illegal
// and reported, never silently ignored.
var legalTransitions = map[State][]State{
	StateDraft:      {StateAuthorized, StateRejected},
	StateRejected:   {StateDraft},
	StateAuthorized: {StateVoided},
}

func transitionAllowed(from, to State) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition mutates the invoice state and appends a history entry. All
// lifecycle changes funnel through here; state is never inferred from the
// presence of fiscal artifacts.
func transition(inv *Invoice, to State, actor, reason string, at time.Time) error {
	if !transitionAllowed(inv.State, to) {
		return &IllegalTransitionError{From: inv.State, To: to}
	}
	inv.History = append(inv.History, TransitionEntry{
		From:   inv.State,
		To:     to,
		Actor:  actor,
		Reason: reason,
		At:     at,
	})
	inv.State = to
	inv.UpdatedAt = at
	return nil
}

// MarkAuthorized moves a draft to authorized and attaches the artifacts
// returned by the authority.
func MarkAuthorized(inv *Invoice, auth Authorization, actor string, at time.Time) error {
	if err := transition(inv, StateAuthorized, actor, "authority approved", at); err != nil {
		return err
	}
	inv.Authorization = auth
	inv.RejectionReasons = nil
	return nil
}

// MarkRejected moves a draft to rejected, recording the authority's reasons
// verbatim for audit.
func MarkRejected(inv *Invoice, reasons []string, actor string, at time.Time) error {
	if err := transition(inv, StateRejected, actor, "authority rejected", at); err != nil {
		return err
	}
	inv.RejectionReasons = reasons
	inv.Authorization = Authorization{}
	return nil
}

// ResetToDraft clears the rejection outcome so a corrected invoice can be
// resubmitted as a fresh attempt. Line items are preserved untouched.
func ResetToDraft(inv *Invoice, actor, reason string, at time.Time) error {
	if err := transition(inv, StateDraft, actor, reason, at); err != nil {
		return err
	}
	inv.RejectionReasons = nil
	inv.Authorization = Authorization{}
	return nil
}

// MarkVoided moves an authorized invoice to voided. Artifacts from the
// original authorization are retained for the historical record.
func MarkVoided(inv *Invoice, actor, reason string, at time.Time) error {
	if err := transition(inv, StateVoided, actor, reason, at); err != nil {
		return err
	}
	inv.VoidReason = reason
	inv.VoidedAt = at
	return nil
}
