package types

import (
	"github.com/ethereum/go-ethereum/common"
)

// ReviewStatus is the ledger's view of a dispute review for a caller.
type ReviewStatus struct {
	Active         bool
	YesCount       uint64
	NoCount        uint64
	CallerVoted    bool
	DisputedWorker common.Address
}

// Review is the normalized review record for a disputed submission.
type Review struct {
	TaskID      TaskID         `json:"taskId"`
	Active      bool           `json:"active"`
	Yes         uint64         `json:"yes"`
	No          uint64         `json:"no"`
	CallerVoted bool           `json:"callerVoted"`
	Worker      common.Address `json:"worker"`
	WorkerName  string         `json:"workerName"`
}

// TotalVotes returns the number of votes cast so far.
func (r *Review) TotalVotes() uint64 {
	return r.Yes + r.No
}

// Votable reports whether the caller may still vote on the review.
func (r *Review) Votable() bool {
	return r.Active && !r.CallerVoted
}
