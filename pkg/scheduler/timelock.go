// Package scheduler implements the timelock protocol: queue a deposit
// for release inside the delay window, execute it inside the grace
// window, cancel it back to the depositor, and claim it afterwards.
//
// A Timelock owns its deposit ledger and its queue exclusively. One
// RWMutex serializes every mutating operation end to end, so a failed
// call can never leave a partial state behind; read-only queries share
// the lock. There is no cross-instance coordination.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Custodia-Systems/timevault/pkg/canonical"
	"github.com/Custodia-Systems/timevault/pkg/contracts"
	"github.com/Custodia-Systems/timevault/pkg/events"
	"github.com/Custodia-Systems/timevault/pkg/guard"
	"github.com/Custodia-Systems/timevault/pkg/ledger"
	"github.com/Custodia-Systems/timevault/pkg/treasury"
)

// Config holds the three windows that gate queue and execute. All three
// are measured from "now" at the moment of the operation, never from
// deposit creation time.
type Config struct {
	// MinDelay is how far in the future a release timestamp must at least
	// lie when queuing.
	MinDelay time.Duration `json:"min_delay" yaml:"min_delay"`

	// MaxDelay bounds how far ahead a release may be queued.
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`

	// GracePeriod is how long after the release timestamp an execution
	// stays valid. Past it the queued entry is permanently unexecutable.
	GracePeriod time.Duration `json:"grace_period" yaml:"grace_period"`
}

// DefaultConfig returns the reference windows: 10 seconds minimum delay,
// 48 hours maximum delay, 5 days grace.
func DefaultConfig() Config {
	return Config{
		MinDelay:    10 * time.Second,
		MaxDelay:    172800 * time.Second,
		GracePeriod: 432000 * time.Second,
	}
}

// Validate rejects window combinations that can never admit a queue.
func (c Config) Validate() error {
	if c.MinDelay < 0 || c.MaxDelay <= 0 || c.GracePeriod <= 0 {
		return fmt.Errorf("scheduler: windows must be positive (min=%s max=%s grace=%s)", c.MinDelay, c.MaxDelay, c.GracePeriod)
	}
	if c.MinDelay >= c.MaxDelay {
		return fmt.Errorf("scheduler: min delay %s must be below max delay %s", c.MinDelay, c.MaxDelay)
	}
	return nil
}

// Timelock is one isolated deferred-release instance. The owner identity
// is immutable after construction and is the only identity allowed to
// queue, cancel, execute, and claim.
type Timelock struct {
	mu sync.RWMutex

	id          string
	owner       contracts.Identity
	description string
	cfg         Config

	ledger  *ledger.Ledger
	queue   map[contracts.TxID]*contracts.QueueEntry
	journal *events.Journal
	guard   *guard.Guard

	clock  func() time.Time
	logger *slog.Logger
}

// New creates a timelock instance. Deposited value is held in custody
// under the identity "vault:<id>".
func New(id string, owner contracts.Identity, description string, cfg Config, tr treasury.Transferer) *Timelock {
	return &Timelock{
		id:          id,
		owner:       owner,
		description: description,
		cfg:         cfg,
		ledger:      ledger.New(contracts.Identity("vault:"+id), tr),
		queue:       make(map[contracts.TxID]*contracts.QueueEntry),
		journal:     events.NewJournal(),
		clock:       time.Now,
		logger:      slog.Default(),
	}
}

// WithClock overrides the clock for deterministic testing.
func (t *Timelock) WithClock(clock func() time.Time) *Timelock {
	t.clock = clock
	return t
}

// WithGuard installs release policies checked before queue and execute.
func (t *Timelock) WithGuard(g *guard.Guard) *Timelock {
	t.guard = g
	return t
}

// WithLogger overrides the logger.
func (t *Timelock) WithLogger(logger *slog.Logger) *Timelock {
	t.logger = logger
	return t
}

func (t *Timelock) ID() string                    { return t.id }
func (t *Timelock) Owner() contracts.Identity     { return t.owner }
func (t *Timelock) Description() string           { return t.description }
func (t *Timelock) Windows() Config               { return t.cfg }
func (t *Timelock) Custodian() contracts.Identity { return t.ledger.Custodian() }

// Journal exposes the instance's notification log, e.g. so callers can
// attach sinks or verify the chain.
func (t *Timelock) Journal() *events.Journal { return t.journal }

// now returns the current time in unix seconds.
func (t *Timelock) now() int64 { return t.clock().Unix() }

func (t *Timelock) emit(event contracts.Event) {
	if _, err := t.journal.Append(event); err != nil {
		t.logger.Error("journal append failed", "kind", event.Kind, "error", err)
	}
}

func (t *Timelock) newEvent(kind contracts.EventKind) contracts.Event {
	return contracts.Event{
		ID:         uuid.NewString(),
		InstanceID: t.id,
		Kind:       kind,
		Timestamp:  t.clock().UTC(),
	}
}

// Deposit records a new deposit by caller in favor of to, pulling amount
// into custody. Anyone may deposit; only the owner releases.
func (t *Timelock) Deposit(ctx context.Context, caller contracts.Identity, description string, to contracts.Identity, amount int64, releaseTimestamp int64) (contracts.Deposit, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	dep, err := t.ledger.Create(ctx, t.now(), description, caller, to, amount, releaseTimestamp)
	if err != nil {
		return contracts.Deposit{}, err
	}

	event := t.newEvent(contracts.EventDeposited)
	event.DepositID = dep.ID
	event.From = dep.From
	event.Recipient = dep.To
	event.Amount = dep.Amount
	event.ReleaseTimestamp = dep.ReleaseTimestamp
	t.emit(event)
	return dep, nil
}

// Update replaces caller's deposit oldID in place, settling the amount
// delta through the treasury. The deposit receives a fresh id.
func (t *Timelock) Update(ctx context.Context, caller contracts.Identity, oldID contracts.DepositID, newDescription string, newTo contracts.Identity, newAmount, newTimestamp int64) (contracts.Deposit, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	dep, err := t.ledger.Update(ctx, t.now(), caller, oldID, newDescription, newTo, newAmount, newTimestamp)
	if err != nil {
		return contracts.Deposit{}, err
	}

	event := t.newEvent(contracts.EventUpdated)
	event.DepositID = dep.ID
	event.PrevDepositID = oldID
	event.From = dep.From
	event.Recipient = dep.To
	event.Amount = dep.Amount
	event.ReleaseTimestamp = dep.ReleaseTimestamp
	t.emit(event)
	return dep, nil
}

// Deposits lists caller's deposits in insertion order.
func (t *Timelock) Deposits(caller contracts.Identity) []contracts.Deposit {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ledger.ByOwner(caller)
}

// FindDeposit looks up one of caller's deposits by id.
func (t *Timelock) FindDeposit(caller contracts.Identity, id contracts.DepositID) (contracts.Deposit, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	dep, _, ok := t.ledger.Find(caller, id)
	return dep, ok
}

// Queue authorizes a future release of depositID against target. The
// release timestamp must fall strictly inside (now+MinDelay, now+MaxDelay)
// at this moment. On success the deposit is snapshotted under the
// returned tx id; the live deposit is not consumed.
func (t *Timelock) Queue(ctx context.Context, caller, target contracts.Identity, depositID contracts.DepositID, functionSignature string) (contracts.TxID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if caller != t.owner {
		return contracts.TxID{}, contracts.ErrNotOwner
	}

	txID, err := canonical.ComputeTxID(target, depositID, functionSignature)
	if err != nil {
		return contracts.TxID{}, err
	}

	dep, ok := t.ledger.Lookup(depositID)
	if !ok {
		return contracts.TxID{}, contracts.ErrDepositNotFound
	}
	if _, live := t.queue[txID]; live {
		return contracts.TxID{}, contracts.ErrAlreadyQueued
	}

	now := t.now()
	minBound := now + int64(t.cfg.MinDelay/time.Second)
	maxBound := now + int64(t.cfg.MaxDelay/time.Second)
	if dep.ReleaseTimestamp <= minBound || dep.ReleaseTimestamp >= maxBound {
		return contracts.TxID{}, fmt.Errorf("%w: release %d not in (%d, %d)", contracts.ErrTimestampOutOfRange, dep.ReleaseTimestamp, minBound, maxBound)
	}

	if err := t.guard.Check(ctx, guard.OpQueue, dep, now); err != nil {
		return contracts.TxID{}, err
	}

	t.queue[txID] = &contracts.QueueEntry{
		TxID:              txID,
		Target:            target,
		FunctionSignature: functionSignature,
		Snapshot:          dep,
		QueuedAt:          now,
	}

	event := t.newEvent(contracts.EventQueued)
	event.TxID = txID
	event.DepositID = dep.ID
	event.Target = target
	event.Recipient = dep.To
	event.Amount = dep.Amount
	event.FunctionSignature = functionSignature
	event.ReleaseTimestamp = dep.ReleaseTimestamp
	t.emit(event)
	return txID, nil
}

// IsQueued reports whether a live queue entry exists for txID.
func (t *Timelock) IsQueued(txID contracts.TxID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.queue[txID]
	return ok
}

// Queued returns the live queue entry for txID, if any.
func (t *Timelock) Queued(txID contracts.TxID) (contracts.QueueEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.queue[txID]
	if !ok {
		return contracts.QueueEntry{}, false
	}
	return *entry, true
}

// Pending lists all live queue entries, oldest first.
func (t *Timelock) Pending() []contracts.QueueEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]contracts.QueueEntry, 0, len(t.queue))
	for _, entry := range t.queue {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].QueuedAt != out[j].QueuedAt {
			return out[i].QueuedAt < out[j].QueuedAt
		}
		return out[i].TxID.String() < out[j].TxID.String()
	})
	return out
}

// Cancel withdraws a queued release: the deposit leaves the ledger, the
// full amount returns to the depositor, and the queue entry dies. A
// failed reimbursement fails the whole call with nothing changed.
func (t *Timelock) Cancel(ctx context.Context, caller contracts.Identity, txID contracts.TxID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if caller != t.owner {
		return contracts.ErrNotOwner
	}
	entry, ok := t.queue[txID]
	if !ok {
		return contracts.ErrNotQueued
	}

	// Re-derive the index now; it may have moved since queuing.
	snap := entry.Snapshot
	_, index, ok := t.ledger.Find(snap.From, snap.ID)
	if !ok {
		// The deposit was replaced or removed after queuing. Reimbursing
		// from the snapshot would pay out value the ledger no longer
		// earmarks, so the call fails and the entry stays.
		return fmt.Errorf("%w: deposit %s no longer live", contracts.ErrDepositNotFound, snap.ID)
	}

	if _, err := t.ledger.Reimburse(ctx, snap.From, snap.Amount); err != nil {
		return fmt.Errorf("%w: reimbursement: %v", contracts.ErrTransferFailed, err)
	}

	if err := t.ledger.RemoveByIndex(snap.From, index); err != nil {
		return err
	}
	delete(t.queue, txID)

	event := t.newEvent(contracts.EventCanceled)
	event.TxID = txID
	event.DepositID = snap.ID
	event.From = snap.From
	event.Amount = snap.Amount
	t.emit(event)
	return nil
}

// Execute releases a queued deposit to its recipient. Valid strictly
// after the snapshot's release timestamp and strictly before release
// plus grace; outside that the call fails with the entry intact. The
// transfer carries selector||txid so the target can dispatch on it.
// Returns the substrate's response payload.
func (t *Timelock) Execute(ctx context.Context, caller, target contracts.Identity, depositID contracts.DepositID, functionSignature string) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if caller != t.owner {
		return nil, contracts.ErrNotOwner
	}
	txID, err := canonical.ComputeTxID(target, depositID, functionSignature)
	if err != nil {
		return nil, err
	}
	return t.executeLocked(ctx, txID)
}

// ExecuteQueued releases by transaction id directly, resolving the
// target and function from the stored entry. This is the path the
// directory's routing operation uses.
func (t *Timelock) ExecuteQueued(ctx context.Context, caller contracts.Identity, txID contracts.TxID) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if caller != t.owner {
		return nil, contracts.ErrNotOwner
	}
	return t.executeLocked(ctx, txID)
}

func (t *Timelock) executeLocked(ctx context.Context, txID contracts.TxID) ([]byte, error) {
	entry, ok := t.queue[txID]
	if !ok || entry.Snapshot.Amount == 0 {
		return nil, contracts.ErrNotQueued
	}

	now := t.now()
	releaseAt := entry.Snapshot.ReleaseTimestamp
	if now <= releaseAt {
		return nil, fmt.Errorf("%w: release at %d, now %d", contracts.ErrTimestampNotReached, releaseAt, now)
	}
	graceEnd := releaseAt + int64(t.cfg.GracePeriod/time.Second)
	if now >= graceEnd {
		return nil, fmt.Errorf("%w: grace ended at %d, now %d", contracts.ErrGracePeriodExpired, graceEnd, now)
	}

	if _, live := t.ledger.Lookup(entry.Snapshot.ID); !live {
		// Snapshot of a replaced deposit; releasing it would move value
		// the ledger no longer earmarks.
		return nil, fmt.Errorf("%w: deposit %s no longer live", contracts.ErrDepositNotFound, entry.Snapshot.ID)
	}

	if err := t.guard.Check(ctx, guard.OpExecute, entry.Snapshot, now); err != nil {
		return nil, err
	}

	payload := canonical.ExecutionPayload(entry.FunctionSignature, txID)
	resp, err := t.ledger.Release(ctx, entry.Snapshot.To, entry.Snapshot.Amount, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrTransferFailed, err)
	}

	delete(t.queue, txID)

	event := t.newEvent(contracts.EventExecuted)
	event.TxID = txID
	event.DepositID = entry.Snapshot.ID
	event.Target = entry.Target
	event.Recipient = entry.Snapshot.To
	event.Amount = entry.Snapshot.Amount
	event.ReleaseTimestamp = releaseAt
	t.emit(event)
	return resp, nil
}

// Claim marks an executed deposit as claimed. A second claim on the same
// deposit is rejected.
func (t *Timelock) Claim(ctx context.Context, caller contracts.Identity, depositID contracts.DepositID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = ctx

	if caller != t.owner {
		return contracts.ErrNotOwner
	}
	dep, err := t.ledger.MarkClaimed(depositID)
	if err != nil {
		return err
	}

	event := t.newEvent(contracts.EventClaimed)
	event.DepositID = dep.ID
	event.From = dep.From
	event.Recipient = dep.To
	t.emit(event)
	return nil
}
