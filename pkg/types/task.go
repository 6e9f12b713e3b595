package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TaskID is the ledger-assigned task identifier. Identifiers are assigned in
// ascending order and never reused.
type TaskID uint64

func (id TaskID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseTaskID parses a decimal task identifier.
func ParseTaskID(s string) (TaskID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: task id %q: %v", ErrInvalidInput, s, err)
	}
	return TaskID(v), nil
}

// TaskState is the lifecycle state of a task as recorded by the ledger.
//
//	Open ──claim──▶ InProgress ──approve──▶ Approved
//	  │                                      ▲
//	  └──cancel (no subs or expired)──▶ Cancelled
//
// Approved and Cancelled are terminal.
type TaskState uint8

const (
	TaskOpen TaskState = iota
	TaskInProgress
	TaskApproved
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskOpen:
		return "Open"
	case TaskInProgress:
		return "InProgress"
	case TaskApproved:
		return "Closed(Approved)"
	case TaskCancelled:
		return "Closed(Cancelled)"
	default:
		return "Unknown"
	}
}

func (s TaskState) IsClosed() bool {
	return s == TaskApproved || s == TaskCancelled
}

func (s TaskState) Valid() bool {
	return s <= TaskCancelled
}

func (s TaskState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TaskHeader is the task record as returned by the ledger, before any join.
type TaskHeader struct {
	Creator        common.Address
	CreatorName    string
	Description    string
	Reward         *big.Int
	Deadline       time.Time
	State          TaskState
	ApprovedWorker common.Address
}

// Task is the normalized task record: header joined with its submissions.
type Task struct {
	ID             TaskID         `json:"id"`
	Creator        common.Address `json:"creator"`
	CreatorName    string         `json:"creatorName"`
	Description    string         `json:"description"`
	Reward         *big.Int       `json:"reward"`
	Deadline       time.Time      `json:"deadline"`
	State          TaskState      `json:"state"`
	ApprovedWorker common.Address `json:"approvedWorker"`
	Submissions    []Submission   `json:"submissions"`
}

// MarshalJSON adds the reward in whole units next to the raw amount.
func (t Task) MarshalJSON() ([]byte, error) {
	type task Task
	return json.Marshal(struct {
		task
		RewardFormatted string `json:"rewardFormatted"`
	}{task(t), FormatEther(t.Reward)})
}

// Expired reports whether the deadline has passed at now.
func (t *Task) Expired(now time.Time) bool {
	return now.After(t.Deadline)
}

// SubmissionBy returns the submission held by worker, if any.
func (t *Task) SubmissionBy(worker common.Address) (*Submission, bool) {
	for i := range t.Submissions {
		if t.Submissions[i].Worker == worker {
			return &t.Submissions[i], true
		}
	}
	return nil, false
}

// CreatedBy reports whether addr created the task.
func (t *Task) CreatedBy(addr common.Address) bool {
	return t.Creator == addr
}

// Cancellable reports whether the creator may cancel at now: the task is
// Open and either has no submissions or its deadline has passed.
func (t *Task) Cancellable(now time.Time) bool {
	if t.State != TaskOpen {
		return false
	}
	return len(t.Submissions) == 0 || t.Expired(now)
}

// ApprovedCount returns the number of submissions in the Approved status.
func (t *Task) ApprovedCount() int {
	n := 0
	for _, s := range t.Submissions {
		if s.Status == StatusApproved {
			n++
		}
	}
	return n
}
