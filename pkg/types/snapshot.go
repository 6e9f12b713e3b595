package types

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Identity is the connected caller as seen by the ledger.
type Identity struct {
	Address common.Address `json:"address"`
	Name    string         `json:"name"`
	Balance *big.Int       `json:"balance"`
}

func (i Identity) MarshalJSON() ([]byte, error) {
	type identity Identity
	return json.Marshal(struct {
		identity
		BalanceFormatted string `json:"balanceFormatted"`
	}{identity(i), FormatEther(i.Balance)})
}

// Named reports whether the caller has registered a display name.
func (i *Identity) Named() bool {
	return i != nil && i.Name != ""
}

// ReadWarning records a join that failed during synchronization. The
// affected record was degraded or omitted; the snapshot is still usable.
type ReadWarning struct {
	TaskID TaskID         `json:"taskId"`
	Worker common.Address `json:"worker,omitempty"`
	Join   string         `json:"join"`
	Error  string         `json:"error"`
}

// Snapshot is a complete, internally consistent mirror of ledger state at
// one point in time. A Snapshot is never modified after it is published;
// a new synchronization produces a new Snapshot.
type Snapshot struct {
	Identity   *Identity `json:"identity,omitempty"`
	IsJudge    bool      `json:"isJudge"`
	JudgeCount uint64    `json:"judgeCount"`
	// JudgeCountDefaulted is set when JudgeCount is the configured default
	// rather than the ledger's figure.
	JudgeCountDefaulted bool          `json:"judgeCountDefaulted,omitempty"`
	Tasks               []Task        `json:"tasks"`
	Reviews             []Review      `json:"reviews"`
	Warnings            []ReadWarning `json:"warnings,omitempty"`
	SyncedAt            time.Time     `json:"syncedAt"`
}

// Caller returns the snapshot's caller address and whether one is set.
func (s *Snapshot) Caller() (common.Address, bool) {
	if s == nil || s.Identity == nil {
		return common.Address{}, false
	}
	return s.Identity.Address, true
}

// Task looks a task up by id.
func (s *Snapshot) Task(id TaskID) (*Task, bool) {
	if s == nil {
		return nil, false
	}
	for i := range s.Tasks {
		if s.Tasks[i].ID == id {
			return &s.Tasks[i], true
		}
	}
	return nil, false
}

// Review looks an active review up by task id.
func (s *Snapshot) Review(id TaskID) (*Review, bool) {
	if s == nil {
		return nil, false
	}
	for i := range s.Reviews {
		if s.Reviews[i].TaskID == id {
			return &s.Reviews[i], true
		}
	}
	return nil, false
}

// Degraded reports whether any join failed while building the snapshot.
func (s *Snapshot) Degraded() bool {
	return s != nil && len(s.Warnings) > 0
}
