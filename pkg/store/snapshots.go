package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Custodia-Systems/timevault/pkg/contracts"
)

// DepositSnapshot is the persisted image of one live deposit, folded
// from the committed event stream. Rows exist for crash-recovery
// inspection only; while the process runs the in-memory ledger is
// authoritative.
type DepositSnapshot struct {
	InstanceID       string
	DepositID        contracts.DepositID
	From             contracts.Identity
	Recipient        contracts.Identity
	Amount           int64
	ReleaseTimestamp int64
	Claimed          bool
	UpdatedAt        time.Time
}

// applySnapshot folds one committed event into the snapshot table.
// DEPOSITED inserts, UPDATED replaces the superseded row, CANCELED
// removes, CLAIMED flips the claimed flag. QUEUED and EXECUTED leave
// the row untouched; the deposit stays live until claimed.
func (s *JournalStore) applySnapshot(ctx context.Context, instanceID string, e contracts.Event) error {
	switch e.Kind {
	case contracts.EventDeposited:
		return s.upsertSnapshot(ctx, instanceID, e)
	case contracts.EventUpdated:
		if !e.PrevDepositID.IsZero() && e.PrevDepositID != e.DepositID {
			if err := s.deleteSnapshot(ctx, instanceID, e.PrevDepositID); err != nil {
				return err
			}
		}
		return s.upsertSnapshot(ctx, instanceID, e)
	case contracts.EventCanceled:
		return s.deleteSnapshot(ctx, instanceID, e.DepositID)
	case contracts.EventClaimed:
		_, err := s.db.ExecContext(ctx, `
			UPDATE deposit_snapshots SET claimed = $3, updated_at = $4
			WHERE instance_id = $1 AND deposit_id = $2`,
			instanceID, e.DepositID.String(), true,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("journal store: mark claimed: %w", err)
		}
		return nil
	default:
		return nil
	}
}

func (s *JournalStore) upsertSnapshot(ctx context.Context, instanceID string, e contracts.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deposit_snapshots (instance_id, deposit_id, origin, recipient, amount, release_at, claimed, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (instance_id, deposit_id) DO UPDATE SET
			origin = excluded.origin,
			recipient = excluded.recipient,
			amount = excluded.amount,
			release_at = excluded.release_at,
			claimed = excluded.claimed,
			updated_at = excluded.updated_at`,
		instanceID, e.DepositID.String(), string(e.From), string(e.Recipient),
		e.Amount, e.ReleaseTimestamp, false,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("journal store: upsert snapshot: %w", err)
	}
	return nil
}

func (s *JournalStore) deleteSnapshot(ctx context.Context, instanceID string, id contracts.DepositID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM deposit_snapshots WHERE instance_id = $1 AND deposit_id = $2`,
		instanceID, id.String(),
	)
	if err != nil {
		return fmt.Errorf("journal store: delete snapshot: %w", err)
	}
	return nil
}

// Snapshot fetches one persisted deposit image. The second return
// reports whether a row exists.
func (s *JournalStore) Snapshot(ctx context.Context, instanceID string, id contracts.DepositID) (DepositSnapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT instance_id, deposit_id, origin, recipient, amount, release_at, claimed, updated_at
		FROM deposit_snapshots WHERE instance_id = $1 AND deposit_id = $2`,
		instanceID, id.String(),
	)
	snap, err := scanSnapshot(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return DepositSnapshot{}, false, nil
	}
	if err != nil {
		return DepositSnapshot{}, false, fmt.Errorf("journal store: snapshot: %w", err)
	}
	return snap, true, nil
}

// Snapshots lists an instance's persisted deposit images, oldest write
// first.
func (s *JournalStore) Snapshots(ctx context.Context, instanceID string) ([]DepositSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id, deposit_id, origin, recipient, amount, release_at, claimed, updated_at
		FROM deposit_snapshots WHERE instance_id = $1
		ORDER BY updated_at ASC, deposit_id ASC`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("journal store: snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []DepositSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("journal store: snapshots: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func scanSnapshot(scan func(...interface{}) error) (DepositSnapshot, error) {
	var (
		snap      DepositSnapshot
		depositID string
		origin    string
		recipient string
		updatedAt string
	)
	if err := scan(&snap.InstanceID, &depositID, &origin, &recipient,
		&snap.Amount, &snap.ReleaseTimestamp, &snap.Claimed, &updatedAt); err != nil {
		return DepositSnapshot{}, err
	}
	id, err := contracts.ParseDepositID(depositID)
	if err != nil {
		return DepositSnapshot{}, fmt.Errorf("bad deposit_id %q: %w", depositID, err)
	}
	snap.DepositID = id
	snap.From = contracts.Identity(origin)
	snap.Recipient = contracts.Identity(recipient)
	ts, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return DepositSnapshot{}, fmt.Errorf("bad updated_at %q: %w", updatedAt, err)
	}
	snap.UpdatedAt = ts
	return snap, nil
}
