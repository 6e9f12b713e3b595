// Package aggregator builds session snapshots from joined ledger reads.
//
// A synchronization enumerates task and review ids, then fans out one read
// batch per record. Each task is published only after its header, its
// submission list and every per-submission join have settled, and records
// are reassembled in enumeration order regardless of completion order. A
// failed join degrades or omits one record and is reported as a warning;
// failing to enumerate, or to read the caller's identity, fails the pass.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/trigg3rX/taskmarket/internal/taskmarket/ledger"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/metrics"
	"github.com/trigg3rX/taskmarket/pkg/logging"
	"github.com/trigg3rX/taskmarket/pkg/retry"
	"github.com/trigg3rX/taskmarket/pkg/types"
)

// Join names used in snapshot warnings.
const (
	JoinTask           = "task"
	JoinStatus         = "status"
	JoinReputation     = "reputation"
	JoinDuplicate      = "duplicate-submission"
	JoinApprovedCheck  = "approved-check"
	JoinReview         = "review"
	JoinReviewName     = "review-name"
	JoinJudgeCount     = "judge-count"
	defaultConcurrency = 16
)

type Config struct {
	// MaxConcurrentReads caps in-flight ledger reads per synchronization.
	MaxConcurrentReads int
	// ReadTimeout bounds a whole synchronization. Zero means no bound
	// beyond the caller's context.
	ReadTimeout time.Duration
	// DefaultJudgeCount is used when the ledger's judge count can't be read.
	DefaultJudgeCount uint64
	// Retry applies to the id enumerations only.
	Retry *retry.RetryConfig
	Now   func() time.Time
}

type Aggregator struct {
	reader ledger.Reader
	cfg    Config
	logger logging.Logger

	// set once the judge count fallback has been reported
	judgeCountWarned atomic.Bool
}

func New(reader ledger.Reader, cfg Config, logger logging.Logger) *Aggregator {
	if cfg.MaxConcurrentReads <= 0 {
		cfg.MaxConcurrentReads = defaultConcurrency
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultRetryConfig()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Aggregator{reader: reader, cfg: cfg, logger: logger}
}

// pass holds the state of one synchronization.
type pass struct {
	*Aggregator
	sem *semaphore.Weighted

	mu       sync.Mutex
	warnings []types.ReadWarning
}

func (p *pass) warn(id types.TaskID, worker common.Address, join string, err error) {
	p.mu.Lock()
	p.warnings = append(p.warnings, types.ReadWarning{TaskID: id, Worker: worker, Join: join, Error: err.Error()})
	p.mu.Unlock()

	metrics.PartialReadsTotal.WithLabelValues(join).Inc()
	p.logger.Warn("Partial read", "task_id", id, "worker", worker.Hex(), "join", join, "error", err)
}

// read runs one ledger call under the concurrency cap.
func read[T any](ctx context.Context, p *pass, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	defer p.sem.Release(1)
	return fn(ctx)
}

// Synchronize reads the full ledger state as seen by caller. A zero caller
// produces an anonymous snapshot without identity or judge eligibility.
// Failed joins are recorded in Snapshot.Warnings; the returned error is
// always of kind ErrLedgerUnavailable.
func (a *Aggregator) Synchronize(ctx context.Context, caller common.Address) (*types.Snapshot, error) {
	start := time.Now()
	if a.cfg.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.ReadTimeout)
		defer cancel()
	}

	p := &pass{Aggregator: a, sem: semaphore.NewWeighted(int64(a.cfg.MaxConcurrentReads))}
	snap := &types.Snapshot{}

	g, gctx := errgroup.WithContext(ctx)
	if caller != (common.Address{}) {
		g.Go(func() error {
			identity, isJudge, err := p.identity(gctx, caller)
			if err != nil {
				return err
			}
			snap.Identity = identity
			snap.IsJudge = isJudge
			return nil
		})
	}
	g.Go(func() error {
		snap.JudgeCount, snap.JudgeCountDefaulted = p.judgeCount(gctx)
		return nil
	})
	g.Go(func() error {
		tasks, err := p.tasks(gctx)
		if err != nil {
			return err
		}
		snap.Tasks = tasks
		return nil
	})
	g.Go(func() error {
		reviews, err := p.reviews(gctx, caller)
		if err != nil {
			return err
		}
		snap.Reviews = reviews
		return nil
	})

	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		err = types.NewLedgerError(types.ErrLedgerUnavailable, "synchronize", "read deadline exceeded", ctx.Err())
	}
	metrics.SyncDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SyncsTotal.WithLabelValues("failed").Inc()
		a.logger.Error("Synchronization failed", "error", err, "duration", time.Since(start))
		return nil, err
	}

	sort.SliceStable(p.warnings, func(i, j int) bool {
		wi, wj := p.warnings[i], p.warnings[j]
		if wi.TaskID != wj.TaskID {
			return wi.TaskID < wj.TaskID
		}
		if wi.Join != wj.Join {
			return wi.Join < wj.Join
		}
		return wi.Worker.Cmp(wj.Worker) < 0
	})
	snap.Warnings = p.warnings
	snap.SyncedAt = a.cfg.Now()

	outcome := "ok"
	if snap.Degraded() {
		outcome = "degraded"
	}
	metrics.SyncsTotal.WithLabelValues(outcome).Inc()
	metrics.TasksTotal.Set(float64(len(snap.Tasks)))
	metrics.ActiveReviewsTotal.Set(float64(len(snap.Reviews)))
	a.logger.Info("Synchronized",
		"tasks", len(snap.Tasks),
		"reviews", len(snap.Reviews),
		"warnings", len(snap.Warnings),
		"duration", time.Since(start),
	)
	return snap, nil
}

func (p *pass) retryConfig(ctx context.Context) *retry.RetryConfig {
	cfg := *p.cfg.Retry
	cfg.ShouldRetry = func(err error, _ int) bool {
		return ctx.Err() == nil && !errors.Is(err, types.ErrRejectedByLedger)
	}
	return &cfg
}

func (p *pass) enumerate(ctx context.Context, op string, list func(context.Context) ([]types.TaskID, error)) ([]types.TaskID, error) {
	ids, err := retry.Retry(ctx, func() ([]types.TaskID, error) {
		return read(ctx, p, list)
	}, p.retryConfig(ctx), p.logger)
	if err != nil {
		return nil, types.NewLedgerError(types.ErrLedgerUnavailable, op, "", err)
	}
	return ids, nil
}

func (p *pass) identity(ctx context.Context, caller common.Address) (*types.Identity, bool, error) {
	identity := &types.Identity{Address: caller}
	var isJudge bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		identity.Name, err = read(gctx, p, func(ctx context.Context) (string, error) {
			return p.reader.DisplayName(ctx, caller)
		})
		return err
	})
	g.Go(func() (err error) {
		identity.Balance, err = read(gctx, p, func(ctx context.Context) (*big.Int, error) {
			return p.reader.Balance(ctx, caller)
		})
		return err
	})
	g.Go(func() (err error) {
		isJudge, err = read(gctx, p, func(ctx context.Context) (bool, error) {
			return p.reader.IsJudge(ctx, caller)
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, false, types.NewLedgerError(types.ErrLedgerUnavailable, "identity", "", err)
	}
	return identity, isJudge, nil
}

// judgeCount reports whether the configured default was used. A ledger
// without the judge count call is a deployment property, not a partial
// read, so it never lands in the snapshot warnings.
func (p *pass) judgeCount(ctx context.Context) (uint64, bool) {
	n, err := read(ctx, p, p.reader.JudgeCount)
	if err != nil {
		metrics.PartialReadsTotal.WithLabelValues(JoinJudgeCount).Inc()
		if p.judgeCountWarned.CompareAndSwap(false, true) {
			p.logger.Warn("Judge count unavailable, using default quorum size", "default", p.cfg.DefaultJudgeCount, "error", err)
		} else {
			p.logger.Debug("Judge count unavailable, using default quorum size", "default", p.cfg.DefaultJudgeCount, "error", err)
		}
		return p.cfg.DefaultJudgeCount, true
	}
	if n == 0 {
		p.logger.Debug("Ledger reports no judges, using default quorum size", "default", p.cfg.DefaultJudgeCount)
		return p.cfg.DefaultJudgeCount, true
	}
	return n, false
}

func (p *pass) tasks(ctx context.Context) ([]types.Task, error) {
	ids, err := p.enumerate(ctx, "listTaskIds", p.reader.ListTaskIDs)
	if err != nil {
		return nil, err
	}

	// slots keep enumeration order; a nil slot is an omitted task
	slots := make([]*types.Task, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			slots[i] = p.task(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	tasks := make([]types.Task, 0, len(ids))
	for _, t := range slots {
		if t != nil {
			tasks = append(tasks, *t)
		}
	}
	if len(ids) > 0 && len(tasks) == 0 {
		return nil, types.NewLedgerError(types.ErrLedgerUnavailable, "getTask", fmt.Sprintf("none of %d tasks could be read", len(ids)), nil)
	}
	return tasks, nil
}

// task reads one task and all of its joins. It returns nil when the header
// or the submission list could not be read.
func (p *pass) task(ctx context.Context, id types.TaskID) *types.Task {
	var (
		header types.TaskHeader
		raws   []types.RawSubmission
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		header, err = read(gctx, p, func(ctx context.Context) (types.TaskHeader, error) {
			return p.reader.TaskHeader(ctx, id)
		})
		return err
	})
	g.Go(func() (err error) {
		raws, err = read(gctx, p, func(ctx context.Context) ([]types.RawSubmission, error) {
			return p.reader.Submissions(ctx, id)
		})
		return err
	})
	if err := g.Wait(); err != nil {
		p.warn(id, common.Address{}, JoinTask, err)
		return nil
	}

	task := &types.Task{
		ID:             id,
		Creator:        header.Creator,
		CreatorName:    header.CreatorName,
		Description:    header.Description,
		Reward:         header.Reward,
		Deadline:       header.Deadline,
		State:          header.State,
		ApprovedWorker: header.ApprovedWorker,
		Submissions:    p.submissions(ctx, id, p.unique(id, raws)),
	}
	if task.State == types.TaskApproved && task.ApprovedCount() != 1 {
		p.warn(id, task.ApprovedWorker, JoinApprovedCheck,
			fmt.Errorf("closed as approved with %d approved submissions", task.ApprovedCount()))
	}
	return task
}

// unique drops entries without a worker and keeps the latest entry per
// worker, at the position the worker first appeared.
func (p *pass) unique(id types.TaskID, raws []types.RawSubmission) []types.RawSubmission {
	out := make([]types.RawSubmission, 0, len(raws))
	seen := make(map[common.Address]int, len(raws))
	for _, r := range raws {
		if r.Worker == (common.Address{}) {
			continue
		}
		if i, dup := seen[r.Worker]; dup {
			p.warn(id, r.Worker, JoinDuplicate, errors.New("ledger listed the worker more than once"))
			out[i] = r
			continue
		}
		seen[r.Worker] = len(out)
		out = append(out, r)
	}
	return out
}

// submissions joins each entry with its status and the worker's
// reputation. A failed join keeps the entry with a fallback value.
func (p *pass) submissions(ctx context.Context, id types.TaskID, raws []types.RawSubmission) []types.Submission {
	n := len(raws)
	statuses := make([]types.SubmissionStatus, n)
	reps := make([]uint64, n)
	degraded := make([]bool, 2*n)

	var g errgroup.Group
	for i, raw := range raws {
		g.Go(func() error {
			st, err := read(ctx, p, func(ctx context.Context) (types.SubmissionStatus, error) {
				return p.reader.SubmissionStatus(ctx, raw.Worker, id)
			})
			if err != nil {
				p.warn(id, raw.Worker, JoinStatus, err)
				st, degraded[2*i] = raw.FallbackStatus(), true
			}
			statuses[i] = st
			return nil
		})
		g.Go(func() error {
			rep, err := read(ctx, p, func(ctx context.Context) (uint64, error) {
				return p.reader.Reputation(ctx, raw.Worker)
			})
			if err != nil {
				p.warn(id, raw.Worker, JoinReputation, err)
				degraded[2*i+1] = true
			}
			reps[i] = rep
			return nil
		})
	}
	_ = g.Wait()

	subs := make([]types.Submission, n)
	for i, raw := range raws {
		subs[i] = types.Submission{
			TaskID:     id,
			Worker:     raw.Worker,
			WorkerName: raw.WorkerName,
			Proof:      raw.Proof,
			Submitted:  raw.Submitted,
			Rejected:   raw.Rejected,
			Status:     statuses[i],
			Reputation: reps[i],
			Degraded:   degraded[2*i] || degraded[2*i+1],
		}
	}
	return subs
}

func (p *pass) reviews(ctx context.Context, caller common.Address) ([]types.Review, error) {
	ids, err := p.enumerate(ctx, "getActiveReviewIds", p.reader.ListActiveReviewIDs)
	if err != nil {
		return nil, err
	}

	slots := make([]*types.Review, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			slots[i] = p.review(ctx, id, caller)
			return nil
		})
	}
	_ = g.Wait()

	reviews := make([]types.Review, 0, len(ids))
	for _, r := range slots {
		if r != nil {
			reviews = append(reviews, *r)
		}
	}
	return reviews, nil
}

// review returns nil when the tally can't be read or the review resolved
// after enumeration.
func (p *pass) review(ctx context.Context, id types.TaskID, caller common.Address) *types.Review {
	st, err := read(ctx, p, func(ctx context.Context) (types.ReviewStatus, error) {
		return p.reader.ReviewStatus(ctx, id, caller)
	})
	if err != nil {
		p.warn(id, common.Address{}, JoinReview, err)
		return nil
	}
	if !st.Active {
		return nil
	}

	name, err := read(ctx, p, func(ctx context.Context) (string, error) {
		return p.reader.DisplayName(ctx, st.DisputedWorker)
	})
	if err != nil {
		p.warn(id, st.DisputedWorker, JoinReviewName, err)
	}
	return &types.Review{
		TaskID:      id,
		Active:      st.Active,
		Yes:         st.YesCount,
		No:          st.NoCount,
		CallerVoted: st.CallerVoted,
		Worker:      st.DisputedWorker,
		WorkerName:  name,
	}
}
