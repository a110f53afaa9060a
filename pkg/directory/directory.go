// Package directory is the instance factory and registry: it creates
// isolated timelock instances tagged with an owner and description,
// records them per creator, and routes instance-initiated executions.
package directory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Custodia-Systems/timevault/pkg/contracts"
	"github.com/Custodia-Systems/timevault/pkg/scheduler"
)

var ErrInstanceNotFound = errors.New("instance not found")

// Factory builds a fully wired timelock instance. The command layer
// supplies it so the directory stays ignorant of treasuries, guards,
// and clocks.
type Factory func(id string, owner contracts.Identity, description string) *scheduler.Timelock

// Info is the listing handle of one instance.
type Info struct {
	ID          string             `json:"id"`
	Owner       contracts.Identity `json:"owner"`
	Creator     contracts.Identity `json:"creator"`
	Description string             `json:"description"`
	Custodian   contracts.Identity `json:"custodian"`
	CreatedAt   time.Time          `json:"created_at"`
}

type record struct {
	info Info
	tl   *scheduler.Timelock
}

// Directory is a thread-safe in-memory registry of timelock instances.
type Directory struct {
	mu          sync.RWMutex
	factory     Factory
	byCreator   map[contracts.Identity][]string
	byCustodian map[contracts.Identity]string
	instances   map[string]*record
	clock       func() time.Time
}

func New(factory Factory) *Directory {
	return &Directory{
		factory:     factory,
		byCreator:   make(map[contracts.Identity][]string),
		byCustodian: make(map[contracts.Identity]string),
		instances:   make(map[string]*record),
		clock:       time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (d *Directory) WithClock(clock func() time.Time) *Directory {
	d.clock = clock
	return d
}

// Create builds a new instance owned by owner and records it under
// creator. An empty owner defaults to the creator.
func (d *Directory) Create(creator, owner contracts.Identity, description string) (Info, error) {
	if creator.Zero() {
		return Info{}, errors.New("directory: creator required")
	}
	if owner.Zero() {
		owner = creator
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	id := uuid.NewString()
	tl := d.factory(id, owner, description)
	info := Info{
		ID:          id,
		Owner:       owner,
		Creator:     creator,
		Description: description,
		Custodian:   tl.Custodian(),
		CreatedAt:   d.clock().UTC(),
	}
	d.instances[id] = &record{info: info, tl: tl}
	d.byCreator[creator] = append(d.byCreator[creator], id)
	d.byCustodian[tl.Custodian()] = id
	return info, nil
}

// List returns the instances recorded under creator, in creation order.
func (d *Directory) List(creator contracts.Identity) []Info {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := d.byCreator[creator]
	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		out = append(out, d.instances[id].info)
	}
	return out
}

// Get returns the live instance for id.
func (d *Directory) Get(id string) (*scheduler.Timelock, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return rec.tl, nil
}

// Describe returns the listing handle for id.
func (d *Directory) Describe(id string) (Info, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.instances[id]
	if !ok {
		return Info{}, ErrInstanceNotFound
	}
	return rec.info, nil
}

// Size returns the number of registered instances.
func (d *Directory) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.instances)
}

// Route executes a queued release on behalf of a timelock instance.
// The caller must be the custodian identity of a registered instance;
// the execution runs on that instance with its owner's authority. No
// other identity may route.
func (d *Directory) Route(ctx context.Context, caller contracts.Identity, txID contracts.TxID) ([]byte, error) {
	d.mu.RLock()
	id, ok := d.byCustodian[caller]
	var rec *record
	if ok {
		rec = d.instances[id]
	}
	d.mu.RUnlock()

	if rec == nil {
		return nil, contracts.ErrNotOwner
	}
	return rec.tl.ExecuteQueued(ctx, rec.tl.Owner(), txID)
}
