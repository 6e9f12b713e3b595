package types

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
)

// SubmissionStatus is the per-worker status of a submission on a task.
type SubmissionStatus uint8

const (
	StatusNone SubmissionStatus = iota
	StatusClaimed
	StatusSubmitted
	StatusApproved
	StatusRejected
)

// submissionTransitions lists the caller-triggered transitions the ledger
// accepts. A dispute on a Rejected submission does not change the status
// directly; the quorum outcome resolves it to Approved or leaves it Rejected.
var submissionTransitions = map[SubmissionStatus][]SubmissionStatus{
	StatusNone:      {StatusClaimed},
	StatusClaimed:   {StatusSubmitted},
	StatusSubmitted: {StatusApproved, StatusRejected},
	StatusRejected:  {StatusApproved},
	StatusApproved:  nil,
}

func (s SubmissionStatus) String() string {
	switch s {
	case StatusNone:
		return "None"
	case StatusClaimed:
		return "Claimed"
	case StatusSubmitted:
		return "Submitted"
	case StatusApproved:
		return "Approved"
	case StatusRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

func (s SubmissionStatus) Valid() bool {
	return s <= StatusRejected
}

func (s SubmissionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CanTransition reports whether the ledger may move a submission from s to next.
func (s SubmissionStatus) CanTransition(next SubmissionStatus) bool {
	for _, to := range submissionTransitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// RawSubmission is a submission entry as listed by the ledger for a task.
type RawSubmission struct {
	Worker     common.Address
	WorkerName string
	Proof      string
	Submitted  bool
	Rejected   bool
}

// FallbackStatus derives a best-effort status from the raw flags, used when
// the status lookup for a submission could not be joined.
func (r RawSubmission) FallbackStatus() SubmissionStatus {
	switch {
	case r.Rejected:
		return StatusRejected
	case r.Submitted:
		return StatusSubmitted
	default:
		return StatusClaimed
	}
}

// Submission is the normalized submission: the raw entry joined with the
// worker's current status and a point-in-time reputation snapshot.
type Submission struct {
	TaskID     TaskID           `json:"taskId"`
	Worker     common.Address   `json:"worker"`
	WorkerName string           `json:"workerName"`
	Proof      string           `json:"proof"`
	Submitted  bool             `json:"submitted"`
	Rejected   bool             `json:"rejected"`
	Status     SubmissionStatus `json:"status"`
	Reputation uint64           `json:"reputation"`
	// Degraded is set when the status or reputation join failed and a
	// default was substituted.
	Degraded bool `json:"degraded,omitempty"`
}

// HasProof reports whether a proof reference was provided.
func (s *Submission) HasProof() bool {
	return s.Proof != ""
}

// MarshalJSON adds proofUrl, an openable form of the proof reference, when
// one was provided.
func (s Submission) MarshalJSON() ([]byte, error) {
	type submission Submission
	out := struct {
		submission
		ProofURL string `json:"proofUrl,omitempty"`
	}{submission: submission(s)}
	if s.HasProof() {
		out.ProofURL = NormalizeProofURL(s.Proof)
	}
	return json.Marshal(out)
}
