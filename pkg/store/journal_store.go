// Package store persists what must survive the process: the notification
// journals of every instance, the directory's instance records, and a
// per-deposit snapshot folded from the event stream. The SQL works
// against both Postgres (lib/pq) and SQLite (modernc.org/sqlite), so the
// lite runtime mode needs no external database.
//
// The in-memory ledger stays authoritative while the process runs; the
// journal is the durable audit surface, and the snapshots are a read-only
// aid for inspecting what was live when a process died.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Custodia-Systems/timevault/pkg/contracts"
	"github.com/Custodia-Systems/timevault/pkg/directory"
	"github.com/Custodia-Systems/timevault/pkg/events"
)

// JournalStore writes journal entries and instance records to SQL.
type JournalStore struct {
	db *sql.DB
}

func NewJournalStore(db *sql.DB) (*JournalStore, error) {
	s := &JournalStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JournalStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS journal_entries (
			instance_id TEXT NOT NULL,
			sequence BIGINT NOT NULL,
			content_hash TEXT NOT NULL,
			prev_hash TEXT NOT NULL,
			event_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			occurred_at TEXT NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (instance_id, sequence)
		)`,
		`CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			creator TEXT NOT NULL,
			description TEXT,
			custodian TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS deposit_snapshots (
			instance_id TEXT NOT NULL,
			deposit_id TEXT NOT NULL,
			origin TEXT NOT NULL,
			recipient TEXT NOT NULL,
			amount BIGINT NOT NULL,
			release_at BIGINT NOT NULL,
			claimed BOOLEAN NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (instance_id, deposit_id)
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(context.Background(), q); err != nil {
			return fmt.Errorf("journal store migrate: %w", err)
		}
	}
	return nil
}

// Ping reports whether the backing database is reachable.
func (s *JournalStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Append persists one committed journal entry.
func (s *JournalStore) Append(ctx context.Context, instanceID string, entry events.Entry) error {
	payload, err := json.Marshal(entry.Event)
	if err != nil {
		return fmt.Errorf("journal store: marshal event: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO journal_entries (instance_id, sequence, content_hash, prev_hash, event_id, kind, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		instanceID, int64(entry.Sequence), entry.ContentHash, entry.PrevHash,
		entry.Event.ID, string(entry.Event.Kind),
		entry.Event.Timestamp.UTC().Format(time.RFC3339Nano), string(payload),
	)
	if err != nil {
		return fmt.Errorf("journal store: insert entry: %w", err)
	}
	return nil
}

// List returns an instance's entries in sequence order. An empty kind
// matches all kinds; limit <= 0 means no limit.
func (s *JournalStore) List(ctx context.Context, instanceID string, kind contracts.EventKind, limit int) ([]events.Entry, error) {
	query := `
		SELECT sequence, content_hash, prev_hash, payload
		FROM journal_entries
		WHERE instance_id = $1 AND ($2 = '' OR kind = $2)
		ORDER BY sequence ASC`
	args := []interface{}{instanceID, string(kind)}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal store: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []events.Entry
	for rows.Next() {
		var (
			seq     int64
			entry   events.Entry
			payload string
		)
		if err := rows.Scan(&seq, &entry.ContentHash, &entry.PrevHash, &payload); err != nil {
			return nil, err
		}
		entry.Sequence = uint64(seq)
		if err := json.Unmarshal([]byte(payload), &entry.Event); err != nil {
			return nil, fmt.Errorf("journal store: decode event %d: %w", seq, err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Head returns the highest persisted sequence and its content hash for
// an instance. A journal with no entries reports sequence zero.
func (s *JournalStore) Head(ctx context.Context, instanceID string) (uint64, string, error) {
	var (
		seq  int64
		hash string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT sequence, content_hash FROM journal_entries
		WHERE instance_id = $1 ORDER BY sequence DESC LIMIT 1`, instanceID,
	).Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("journal store: head: %w", err)
	}
	return uint64(seq), hash, nil
}

// Verify walks an instance's persisted chain exactly as the in-memory
// journal does, recomputing nothing but checking every link.
func (s *JournalStore) Verify(ctx context.Context, instanceID string) (bool, string) {
	entries, err := s.List(ctx, instanceID, "", 0)
	if err != nil {
		return false, err.Error()
	}
	prev := "genesis"
	for i, entry := range entries {
		if entry.Sequence != uint64(i)+1 {
			return false, fmt.Sprintf("sequence gap at entry %d", i+1)
		}
		if entry.PrevHash != prev {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prev, entry.PrevHash)
		}
		prev = entry.ContentHash
	}
	return true, "chain verified"
}

// Observer returns a journal observer that persists every committed
// entry for instanceID and folds it into the deposit snapshot table.
// Persistence failures are logged, not raised: the in-memory journal
// already committed and the operation must not report failure after
// the fact.
func (s *JournalStore) Observer(instanceID string, logger *slog.Logger) events.EntryObserver {
	return func(entry events.Entry) {
		ctx := context.Background()
		if err := s.Append(ctx, instanceID, entry); err != nil {
			logger.Error("journal persistence failed",
				"instance_id", instanceID,
				"sequence", entry.Sequence,
				"error", err,
			)
		}
		if err := s.applySnapshot(ctx, instanceID, entry.Event); err != nil {
			logger.Error("snapshot persistence failed",
				"instance_id", instanceID,
				"kind", entry.Event.Kind,
				"deposit_id", entry.Event.DepositID.String(),
				"error", err,
			)
		}
	}
}

// SaveInstance records a directory entry.
func (s *JournalStore) SaveInstance(ctx context.Context, info directory.Info) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (id, owner, creator, description, custodian, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		info.ID, string(info.Owner), string(info.Creator), info.Description,
		string(info.Custodian), info.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("journal store: save instance: %w", err)
	}
	return nil
}

// Instances lists the persisted records for one creator, oldest first.
func (s *JournalStore) Instances(ctx context.Context, creator contracts.Identity) ([]directory.Info, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, creator, description, custodian, created_at
		FROM instances WHERE creator = $1 ORDER BY created_at ASC`, string(creator))
	if err != nil {
		return nil, fmt.Errorf("journal store: instances: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanInstances(rows)
}

// AllInstances lists every persisted instance record.
func (s *JournalStore) AllInstances(ctx context.Context) ([]directory.Info, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, creator, description, custodian, created_at
		FROM instances ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("journal store: instances: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanInstances(rows)
}

func scanInstances(rows *sql.Rows) ([]directory.Info, error) {
	var out []directory.Info
	for rows.Next() {
		var (
			info      directory.Info
			owner     string
			creator   string
			custodian string
			createdAt string
		)
		if err := rows.Scan(&info.ID, &owner, &creator, &info.Description, &custodian, &createdAt); err != nil {
			return nil, err
		}
		info.Owner = contracts.Identity(owner)
		info.Creator = contracts.Identity(creator)
		info.Custodian = contracts.Identity(custodian)
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("journal store: bad created_at %q: %w", createdAt, err)
		}
		info.CreatedAt = ts
		out = append(out, info)
	}
	return out, rows.Err()
}
