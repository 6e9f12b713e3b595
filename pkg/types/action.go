package types

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Action names a ledger-mutating operation a caller can perform.
type Action string

const (
	ActionCreateTask        Action = "create-task"
	ActionClaimTask         Action = "claim-task"
	ActionSubmitProof       Action = "submit-proof"
	ActionApproveSubmission Action = "approve-submission"
	ActionRejectSubmission  Action = "reject-submission"
	ActionRaiseDispute      Action = "raise-dispute"
	ActionCastVote          Action = "cast-vote"
	ActionCancelTask        Action = "cancel-task"
	ActionSetDisplayName    Action = "set-display-name"
)

var allActions = []Action{
	ActionCreateTask,
	ActionClaimTask,
	ActionSubmitProof,
	ActionApproveSubmission,
	ActionRejectSubmission,
	ActionRaiseDispute,
	ActionCastVote,
	ActionCancelTask,
	ActionSetDisplayName,
}

// Actions returns every known action.
func Actions() []Action {
	out := make([]Action, len(allActions))
	copy(out, allActions)
	return out
}

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	for _, a := range allActions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrInvalidInput, s)
}

// RequiresName reports whether the caller must have a display name before
// performing the action.
func (a Action) RequiresName() bool {
	return a == ActionCreateTask
}

// SuccessMessage is the notification text shown when the action completes.
func (a Action) SuccessMessage() string {
	switch a {
	case ActionCreateTask:
		return "Task created!"
	case ActionClaimTask:
		return "Task claimed!"
	case ActionSubmitProof:
		return "Task submitted!"
	case ActionApproveSubmission:
		return "Submission approved!"
	case ActionRejectSubmission:
		return "Submission rejected"
	case ActionRaiseDispute:
		return "Dispute requested"
	case ActionCastVote:
		return "Vote recorded"
	case ActionCancelTask:
		return "Task cancelled!"
	case ActionSetDisplayName:
		return "Display name saved"
	default:
		return "Transaction confirmed"
	}
}

// ActionParams carries the arguments of an action. Only the fields the
// action uses are read.
type ActionParams struct {
	TaskID      TaskID         `json:"taskId"`
	Description string         `json:"description,omitempty"`
	Reward      *big.Int       `json:"reward,omitempty"`
	Deadline    time.Time      `json:"deadline,omitempty"`
	Proof       string         `json:"proof,omitempty"`
	Worker      common.Address `json:"worker,omitempty"`
	Approve     bool           `json:"approve,omitempty"`
	Name        string         `json:"name,omitempty"`
}
