// Package ledger defines the capability set the marketplace ledger exposes.
// Implementations own parameter encodings; callers only see normalized types.
package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/trigg3rX/taskmarket/pkg/types"
)

// Reader is the read half of the ledger API. Calls that depend on the
// caller (voted flag, own name) take the caller explicitly.
type Reader interface {
	ListTaskIDs(ctx context.Context) ([]types.TaskID, error)
	TaskHeader(ctx context.Context, id types.TaskID) (types.TaskHeader, error)
	Submissions(ctx context.Context, id types.TaskID) ([]types.RawSubmission, error)
	SubmissionStatus(ctx context.Context, worker common.Address, id types.TaskID) (types.SubmissionStatus, error)
	Reputation(ctx context.Context, worker common.Address) (uint64, error)

	ListActiveReviewIDs(ctx context.Context) ([]types.TaskID, error)
	ReviewStatus(ctx context.Context, id types.TaskID, caller common.Address) (types.ReviewStatus, error)

	DisplayName(ctx context.Context, addr common.Address) (string, error)
	IsJudge(ctx context.Context, addr common.Address) (bool, error)
	// JudgeCount is the number of judges eligible to vote on a review.
	JudgeCount(ctx context.Context) (uint64, error)
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
}

// Writer is the mutating half of the ledger API, bound to one signing
// identity. Every call returns once the write is dispatched; finality is
// awaited through the returned Handle.
type Writer interface {
	Address() common.Address

	CreateTask(ctx context.Context, description string, deadline time.Time, reward *big.Int) (Handle, error)
	ClaimTask(ctx context.Context, id types.TaskID) (Handle, error)
	SubmitProof(ctx context.Context, id types.TaskID, proof string) (Handle, error)
	ApproveSubmission(ctx context.Context, id types.TaskID, worker common.Address) (Handle, error)
	RejectSubmission(ctx context.Context, id types.TaskID, worker common.Address) (Handle, error)
	RaiseDispute(ctx context.Context, id types.TaskID) (Handle, error)
	CastVote(ctx context.Context, id types.TaskID, approve bool) (Handle, error)
	CancelTask(ctx context.Context, id types.TaskID) (Handle, error)
	SetDisplayName(ctx context.Context, name string) (Handle, error)
}

// Handle tracks a dispatched write.
type Handle interface {
	TxHash() common.Hash
	// Wait blocks until the write is final. It returns nil when the ledger
	// committed it, a *types.LedgerError of kind ErrRejectedByLedger when the
	// ledger refused it, or ctx's error if ctx ends first.
	Wait(ctx context.Context) error
}

// Ledger is a Reader plus a Writer bound to the caller.
type Ledger interface {
	Reader
	Writer
}
