// Package quorum folds review tallies into a judge-facing decision.
//
// The ledger counts votes and resolves reviews. This package only predicts
// the outcome from the running tally, against a threshold derived from the
// eligible judge count the ledger reports, so it never resolves anything
// on its own.
package quorum

import (
	"fmt"

	"github.com/trigg3rX/taskmarket/pkg/types"
)

type Verdict int

const (
	// Pending means neither side has reached the threshold.
	Pending Verdict = iota
	// ExpectApprove means yes votes reached the threshold and the ledger
	// is expected to approve the submission.
	ExpectApprove
	// ExpectReject means no votes reached the threshold.
	ExpectReject
	// Resolved means the review is no longer active.
	Resolved
)

func (v Verdict) String() string {
	switch v {
	case Pending:
		return "pending"
	case ExpectApprove:
		return "expect-approve"
	case ExpectReject:
		return "expect-reject"
	case Resolved:
		return "resolved"
	default:
		return "unknown"
	}
}

func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Decision is the state of one review as shown to judges and workers.
type Decision struct {
	TaskID    types.TaskID `json:"taskId"`
	Yes       uint64       `json:"yes"`
	No        uint64       `json:"no"`
	Eligible  uint64       `json:"eligible"`
	Threshold uint64       `json:"threshold"`
	// Outstanding is the number of eligible judges that have not voted.
	Outstanding uint64  `json:"outstanding"`
	Verdict     Verdict `json:"verdict"`
	// CanVote is set while the review is active and the caller has not voted.
	CanVote bool `json:"canVote"`
}

// Majority is the smallest vote count that is more than half of eligible.
func Majority(eligible uint64) uint64 {
	if eligible == 0 {
		return 0
	}
	return eligible/2 + 1
}

// Decide computes the decision for a review given the eligible judge count.
func Decide(r types.Review, eligible uint64) Decision {
	d := Decision{
		TaskID:    r.TaskID,
		Yes:       r.Yes,
		No:        r.No,
		Eligible:  eligible,
		Threshold: Majority(eligible),
		CanVote:   r.Votable(),
	}
	if cast := r.TotalVotes(); cast < eligible {
		d.Outstanding = eligible - cast
	}

	switch {
	case !r.Active:
		d.Verdict = Resolved
	case d.Threshold > 0 && r.Yes >= d.Threshold:
		d.Verdict = ExpectApprove
	case d.Threshold > 0 && r.No >= d.Threshold:
		d.Verdict = ExpectReject
	default:
		d.Verdict = Pending
	}
	return d
}

// ForTask returns the decision for the active review on id, or a Resolved
// decision when the snapshot holds none. A nil snapshot holds none.
func ForTask(s *types.Snapshot, id types.TaskID) Decision {
	if s == nil {
		return Decision{TaskID: id, Verdict: Resolved}
	}
	if r, ok := s.Review(id); ok {
		return Decide(*r, s.JudgeCount)
	}
	return Decision{TaskID: id, Verdict: Resolved, Eligible: s.JudgeCount, Threshold: Majority(s.JudgeCount)}
}

// All returns decisions for every active review, in snapshot order.
func All(s *types.Snapshot) []Decision {
	if s == nil {
		return nil
	}
	out := make([]Decision, 0, len(s.Reviews))
	for _, r := range s.Reviews {
		out = append(out, Decide(r, s.JudgeCount))
	}
	return out
}

// Message is the status text shown to the disputing worker.
func (d Decision) Message() string {
	switch d.Verdict {
	case Resolved:
		return "No active review found."
	case ExpectApprove:
		return "Judges agreed: your task will be approved soon."
	case ExpectReject:
		return "Judges rejected: your review was not successful."
	default:
		return fmt.Sprintf("Judges are still verifying (%d yes, %d no, %d needed). Please check later.",
			d.Yes, d.No, d.Threshold)
	}
}
