// Package session owns the shared snapshot and the identity it is read for.
//
// The snapshot is replaced whole by one synchronization at a time and is
// never edited in place, so views may read it from any goroutine.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/trigg3rX/taskmarket/internal/taskmarket/aggregator"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/ledger"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/notify"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/quorum"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/txmanager"
	"github.com/trigg3rX/taskmarket/internal/taskmarket/views"
	"github.com/trigg3rX/taskmarket/pkg/logging"
	"github.com/trigg3rX/taskmarket/pkg/types"
)

// NamePrompt asks the user for a display name. It returns an empty name
// when the user declines.
type NamePrompt interface {
	PromptName(ctx context.Context) (string, error)
}

type Config struct {
	Aggregator aggregator.Config
	TxManager  txmanager.Config
	Now        func() time.Time
}

// binding is the identity the session reads and writes as.
type binding struct {
	caller  common.Address
	writer  ledger.Writer
	manager *txmanager.Manager
}

type Session struct {
	agg    *aggregator.Aggregator
	bus    *notify.Bus
	cfg    Config
	logger logging.Logger

	mu     sync.RWMutex
	bound  binding
	prompt NamePrompt

	syncMu sync.Mutex
	snap   atomic.Pointer[types.Snapshot]
}

// New creates an anonymous session over reader. Call Connect to bind an
// identity.
func New(reader ledger.Reader, bus *notify.Bus, cfg Config, logger logging.Logger) *Session {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Aggregator.Now == nil {
		cfg.Aggregator.Now = cfg.Now
	}
	if cfg.TxManager.Now == nil {
		cfg.TxManager.Now = cfg.Now
	}
	s := &Session{
		agg:    aggregator.New(reader, cfg.Aggregator, logger),
		bus:    bus,
		cfg:    cfg,
		logger: logger,
	}
	s.bound = s.newBinding(common.Address{}, nil)
	return s
}

func (s *Session) newBinding(caller common.Address, writer ledger.Writer) binding {
	return binding{
		caller:  caller,
		writer:  writer,
		manager: txmanager.NewManager(writer, reconciler{s}, s.bus, s.cfg.TxManager, s.logger),
	}
}

// SetNamePrompt installs the prompt used by EnsureNamed.
func (s *Session) SetNamePrompt(p NamePrompt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompt = p
}

func (s *Session) binding() binding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bound
}

// Caller returns the bound identity, or the zero address when anonymous.
func (s *Session) Caller() common.Address {
	return s.binding().caller
}

// ReadOnly reports whether writes are unavailable.
func (s *Session) ReadOnly() bool {
	return s.binding().writer == nil
}

// Connect binds caller and synchronizes for it. writer may be nil for a
// read-only identity; otherwise its address must equal caller.
func (s *Session) Connect(ctx context.Context, caller common.Address, writer ledger.Writer) (*types.Snapshot, error) {
	if caller == (common.Address{}) {
		return nil, types.InvalidInputf("connect: caller address is required")
	}
	if writer != nil && writer.Address() != caller {
		return nil, types.InvalidInputf("connect: signer %s does not match caller %s", writer.Address().Hex(), caller.Hex())
	}

	s.mu.Lock()
	s.bound = s.newBinding(caller, writer)
	s.mu.Unlock()
	s.logger.Info("Session connected", "caller", caller.Hex(), "read_only", writer == nil)

	snap, err := s.Synchronize(ctx)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(notify.Notification{Kind: notify.KindInfo, Message: "Connected as " + shortAddress(caller)})
	return snap, nil
}

// Disconnect drops the identity and reloads an anonymous snapshot.
func (s *Session) Disconnect(ctx context.Context) (*types.Snapshot, error) {
	s.mu.Lock()
	prev := s.bound.caller
	s.bound = s.newBinding(common.Address{}, nil)
	// the old identity's snapshot must not outlive the binding
	s.snap.Store(nil)
	s.mu.Unlock()
	s.logger.Info("Session disconnected", "caller", prev.Hex())

	return s.Synchronize(ctx)
}

// Snapshot returns the last published snapshot, or nil before the first
// successful synchronization.
func (s *Session) Snapshot() *types.Snapshot {
	return s.snap.Load()
}

// Synchronize rebuilds the snapshot for the bound identity and publishes it.
// Calls are serialized. On failure the previous snapshot stays published
// and one error notification is sent.
func (s *Session) Synchronize(ctx context.Context) (*types.Snapshot, error) {
	snap, err := s.synchronize(ctx)
	if err != nil {
		s.bus.Publish(notify.Notification{Kind: notify.KindError, Message: "Could not load marketplace state: " + types.Reason(err)})
		return nil, err
	}
	if snap.Degraded() {
		s.bus.Publish(notify.Notification{
			Kind:    notify.KindWarning,
			Message: fmt.Sprintf("Some records could not be fully loaded (%d warnings)", len(snap.Warnings)),
		})
	}
	return snap, nil
}

func (s *Session) synchronize(ctx context.Context) (*types.Snapshot, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	caller := s.Caller()
	snap, err := s.agg.Synchronize(ctx, caller)
	if err != nil {
		return nil, err
	}
	// publish under the binding lock so a concurrent rebind cannot slip in
	// between the identity check and the store
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.bound.caller != caller {
		return nil, types.NewLedgerError(types.ErrLedgerUnavailable, "synchronize", "identity changed during synchronization", nil)
	}
	s.snap.Store(snap)
	return snap, nil
}

// reconciler lets the transaction manager refresh the snapshot without a
// second failure notification for the same action.
type reconciler struct{ s *Session }

func (r reconciler) Synchronize(ctx context.Context) (*types.Snapshot, error) {
	return r.s.synchronize(ctx)
}

// current returns the published snapshot, synchronizing once if there is
// none yet.
func (s *Session) current(ctx context.Context) (*types.Snapshot, error) {
	if snap := s.Snapshot(); snap != nil {
		return snap, nil
	}
	return s.Synchronize(ctx)
}

// Perform runs action for the bound identity against the current snapshot.
// Actions that need a display name pass through EnsureNamed first.
func (s *Session) Perform(ctx context.Context, action types.Action, params types.ActionParams) (*txmanager.Result, error) {
	if action.RequiresName() && !s.ReadOnly() {
		if err := s.EnsureNamed(ctx); err != nil {
			return nil, err
		}
	}
	snap, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return s.binding().manager.Perform(ctx, snap, action, params)
}

// EnsureNamed makes sure the bound identity has a display name, prompting
// for one if needed. Registering a name is followed by exactly one
// synchronization, so the next action sees it.
func (s *Session) EnsureNamed(ctx context.Context) error {
	snap, err := s.current(ctx)
	if err != nil {
		return err
	}
	if snap.Identity.Named() {
		return nil
	}

	b := s.binding()
	s.mu.RLock()
	prompt := s.prompt
	s.mu.RUnlock()

	fail := func(detail string) error {
		s.bus.Publish(notify.Notification{Kind: notify.KindWarning, Message: "Please set a display name first"})
		s.logger.Warn("Display name required", "caller", b.caller.Hex(), "detail", detail)
		return fmt.Errorf("%w: %s", types.ErrNameRequired, detail)
	}
	if b.writer == nil {
		return fail("read-only session")
	}
	if prompt == nil {
		return fail("no name prompt available")
	}

	name, err := prompt.PromptName(ctx)
	if err != nil {
		return fail(err.Error())
	}
	if name == "" {
		return fail("no name entered")
	}

	res, err := b.manager.Perform(ctx, snap, types.ActionSetDisplayName, types.ActionParams{Name: name})
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrNameRequired, err)
	}
	if !res.Snapshot.Identity.Named() {
		return fail("name not visible after registration")
	}
	return nil
}

// Subscribe registers a notification subscriber.
func (s *Session) Subscribe() (string, <-chan notify.Notification, func()) {
	return s.bus.Subscribe()
}

// Views over the published snapshot. A zero caller means the bound identity.

func (s *Session) who(caller common.Address) common.Address {
	if caller == (common.Address{}) {
		return s.Caller()
	}
	return caller
}

func (s *Session) OpenForCaller(caller common.Address) []types.Task {
	return views.OpenForCaller(s.Snapshot(), s.who(caller), s.cfg.Now())
}

func (s *Session) CreatedByCaller(caller common.Address) []types.Task {
	return views.CreatedByCaller(s.Snapshot(), s.who(caller))
}

func (s *Session) SubmittedByCaller(caller common.Address) []types.Task {
	return views.SubmittedByCaller(s.Snapshot(), s.who(caller))
}

func (s *Session) JudgeQueue() []views.JudgeItem {
	return views.JudgeQueue(s.Snapshot())
}

// ActionsFor lists what caller can do on task id.
func (s *Session) ActionsFor(id types.TaskID, caller common.Address) ([]views.AvailableAction, bool) {
	snap := s.Snapshot()
	task, ok := snap.Task(id)
	if !ok {
		return nil, false
	}
	return views.ActionsFor(snap, task, s.who(caller), s.cfg.Now()), true
}

// ReviewDecision returns the quorum view of the review on task id.
func (s *Session) ReviewDecision(id types.TaskID) quorum.Decision {
	return quorum.ForTask(s.Snapshot(), id)
}

func shortAddress(a common.Address) string {
	h := a.Hex()
	return h[:6] + "..." + h[len(h)-4:]
}
