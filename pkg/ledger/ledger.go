// Package ledger holds the authoritative record of deposits for one
// timelock instance, indexed two ways: an insertion-ordered list per
// depositor, and a global map keyed by content-derived deposit id. Both
// indexes share the same backing records, so they cannot disagree about
// an amount or a claimed flag.
//
// A Ledger is a plain state machine with no lock of its own. The owning
// scheduler serializes all access; nothing else may touch a Ledger
// directly. Every mutating operation is all-or-nothing: the external
// transfer runs first, and ledger state changes only after it succeeds.
package ledger

import (
	"context"
	"fmt"

	"github.com/Custodia-Systems/timevault/pkg/canonical"
	"github.com/Custodia-Systems/timevault/pkg/contracts"
	"github.com/Custodia-Systems/timevault/pkg/treasury"
)

// Ledger owns the deposit records of a single timelock instance.
type Ledger struct {
	custodian contracts.Identity
	treasury  treasury.Transferer

	byOwner map[contracts.Identity][]*contracts.Deposit
	byID    map[contracts.DepositID]*contracts.Deposit

	// seq increments on every id derivation so textually identical
	// deposits never collide onto one id. Never reset, never reused.
	seq uint64
}

// New creates an empty ledger whose custody account is custodian.
func New(custodian contracts.Identity, tr treasury.Transferer) *Ledger {
	return &Ledger{
		custodian: custodian,
		treasury:  tr,
		byOwner:   make(map[contracts.Identity][]*contracts.Deposit),
		byID:      make(map[contracts.DepositID]*contracts.Deposit),
	}
}

// Custodian returns the identity holding deposited value in custody.
func (l *Ledger) Custodian() contracts.Identity { return l.custodian }

// Create records a new deposit and pulls amount from the depositor into
// custody. The release timestamp must be strictly in the future.
func (l *Ledger) Create(ctx context.Context, now int64, description string, from, to contracts.Identity, amount int64, releaseTimestamp int64) (contracts.Deposit, error) {
	if amount < 0 {
		return contracts.Deposit{}, fmt.Errorf("ledger: negative amount %d", amount)
	}
	if releaseTimestamp <= now {
		return contracts.Deposit{}, contracts.ErrInvalidTimestamp
	}

	balance, err := l.treasury.Balance(ctx, from)
	if err != nil {
		return contracts.Deposit{}, fmt.Errorf("%w: balance check: %v", contracts.ErrTransferFailed, err)
	}
	if balance < amount {
		return contracts.Deposit{}, contracts.ErrInsufficientFunds
	}

	seq := l.seq + 1
	id, err := canonical.ComputeDepositID(description, from, to, amount, releaseTimestamp, seq)
	if err != nil {
		return contracts.Deposit{}, err
	}

	if _, err := l.treasury.Transfer(ctx, from, l.custodian, amount, nil); err != nil {
		return contracts.Deposit{}, fmt.Errorf("%w: %v", contracts.ErrTransferFailed, err)
	}

	// Commit point: the transfer succeeded, in-memory writes cannot fail.
	dep := &contracts.Deposit{
		ID:               id,
		Seq:              seq,
		Description:      description,
		From:             from,
		To:               to,
		Amount:           amount,
		ReleaseTimestamp: releaseTimestamp,
	}
	l.seq = seq
	l.byOwner[from] = append(l.byOwner[from], dep)
	l.byID[id] = dep
	return *dep, nil
}

// Update replaces a deposit's content in place: same list slot, fresh id.
// The amount delta settles through the treasury before anything commits,
// inbound when the deposit grows, outbound when it shrinks. Claimed resets
// to false on update.
func (l *Ledger) Update(ctx context.Context, now int64, from contracts.Identity, oldID contracts.DepositID, newDescription string, newTo contracts.Identity, newAmount, newTimestamp int64) (contracts.Deposit, error) {
	if newAmount <= 0 {
		return contracts.Deposit{}, contracts.ErrDepositNotFound
	}
	old, index, ok := l.Find(from, oldID)
	if !ok || old.Amount <= 0 {
		return contracts.Deposit{}, contracts.ErrDepositNotFound
	}
	if newTimestamp <= now {
		return contracts.Deposit{}, contracts.ErrInvalidTimestamp
	}

	seq := l.seq + 1
	newID, err := canonical.ComputeDepositID(newDescription, from, newTo, newAmount, newTimestamp, seq)
	if err != nil {
		return contracts.Deposit{}, err
	}

	switch {
	case newAmount > old.Amount:
		delta := newAmount - old.Amount
		balance, err := l.treasury.Balance(ctx, from)
		if err != nil {
			return contracts.Deposit{}, fmt.Errorf("%w: balance check: %v", contracts.ErrTransferFailed, err)
		}
		if balance < delta {
			return contracts.Deposit{}, contracts.ErrInsufficientFunds
		}
		if _, err := l.treasury.Transfer(ctx, from, l.custodian, delta, nil); err != nil {
			return contracts.Deposit{}, fmt.Errorf("%w: %v", contracts.ErrTransferFailed, err)
		}
	case newAmount < old.Amount:
		delta := old.Amount - newAmount
		if _, err := l.treasury.Transfer(ctx, l.custodian, from, delta, nil); err != nil {
			return contracts.Deposit{}, fmt.Errorf("%w: %v", contracts.ErrTransferFailed, err)
		}
	}

	dep := &contracts.Deposit{
		ID:               newID,
		Seq:              seq,
		Description:      newDescription,
		From:             from,
		To:               newTo,
		Amount:           newAmount,
		ReleaseTimestamp: newTimestamp,
	}
	l.seq = seq
	l.byOwner[from][index] = dep
	delete(l.byID, oldID)
	l.byID[newID] = dep
	return *dep, nil
}

// ByOwner returns the depositor's deposits in insertion order. The result
// is a snapshot; mutating it does not touch the ledger.
func (l *Ledger) ByOwner(depositor contracts.Identity) []contracts.Deposit {
	list := l.byOwner[depositor]
	out := make([]contracts.Deposit, len(list))
	for i, dep := range list {
		out[i] = *dep
	}
	return out
}

// Find scans the depositor's list for id and returns the deposit, its
// current index, and whether it was found. Indices are invalidated by any
// removal; re-derive them, never cache them.
func (l *Ledger) Find(depositor contracts.Identity, id contracts.DepositID) (contracts.Deposit, int, bool) {
	for i, dep := range l.byOwner[depositor] {
		if dep.ID == id {
			return *dep, i, true
		}
	}
	return contracts.Deposit{}, 0, false
}

// Lookup fetches a deposit through the global id index.
func (l *Ledger) Lookup(id contracts.DepositID) (contracts.Deposit, bool) {
	dep, ok := l.byID[id]
	if !ok {
		return contracts.Deposit{}, false
	}
	return *dep, true
}

// RemoveByIndex drops the deposit at index from the depositor's list by
// swap-remove: the last element moves into the hole. Removal reorders the
// list, so indices held across a removal are stale.
func (l *Ledger) RemoveByIndex(depositor contracts.Identity, index int) error {
	list := l.byOwner[depositor]
	if index < 0 || index >= len(list) {
		return fmt.Errorf("ledger: index %d out of range for %s (%d deposits)", index, depositor, len(list))
	}
	removed := list[index]
	last := len(list) - 1
	list[index] = list[last]
	list[last] = nil
	l.byOwner[depositor] = list[:last]
	if last == 0 {
		delete(l.byOwner, depositor)
	}
	delete(l.byID, removed.ID)
	return nil
}

// MarkClaimed flips the deposit's claimed flag, rejecting a second claim.
// Both indexes observe the flip because they share the record.
func (l *Ledger) MarkClaimed(id contracts.DepositID) (contracts.Deposit, error) {
	dep, ok := l.byID[id]
	if !ok {
		return contracts.Deposit{}, contracts.ErrDepositNotFound
	}
	if dep.Claimed {
		return contracts.Deposit{}, contracts.ErrAlreadyClaimed
	}
	dep.Claimed = true
	return *dep, nil
}

// Reimburse moves amount from custody back to a depositor. Value
// movement only; the caller is responsible for the matching record
// removal once the transfer has succeeded.
func (l *Ledger) Reimburse(ctx context.Context, to contracts.Identity, amount int64) ([]byte, error) {
	return l.treasury.Transfer(ctx, l.custodian, to, amount, nil)
}

// Release moves amount from custody to a recipient, carrying the
// execution payload for the target to interpret.
func (l *Ledger) Release(ctx context.Context, to contracts.Identity, amount int64, payload []byte) ([]byte, error) {
	return l.treasury.Transfer(ctx, l.custodian, to, amount, payload)
}

// Size returns the number of live deposits across all depositors.
func (l *Ledger) Size() int { return len(l.byID) }
