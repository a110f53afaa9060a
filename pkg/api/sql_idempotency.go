package api

import (
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// SQLIdempotencyStore provides durable idempotency enforcement backed by
// SQL. It survives process restarts and is shared by all replicas pointed
// at the same database. The statements run unchanged on Postgres (lib/pq)
// and SQLite (modernc), so lite mode gets durability too.
type SQLIdempotencyStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewSQLIdempotencyStore creates the store and its table.
func NewSQLIdempotencyStore(db *sql.DB, ttl time.Duration) (*SQLIdempotencyStore, error) {
	s := &SQLIdempotencyStore{db: db, ttl: ttl}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLIdempotencyStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS idempotency_keys (
			key         TEXT PRIMARY KEY,
			status_code INTEGER NOT NULL,
			headers     TEXT NOT NULL,
			body        TEXT NOT NULL,
			cached_at   TEXT NOT NULL
		)
	`)
	return err
}

// Check returns a cached response if the key was seen before and is within TTL.
func (s *SQLIdempotencyStore) Check(key string) (*cachedResponse, bool) {
	var statusCode int
	var headersJSON string
	var bodyB64 string
	var cachedAt string

	err := s.db.QueryRow(
		`SELECT status_code, headers, body, cached_at FROM idempotency_keys WHERE key = $1`,
		key,
	).Scan(&statusCode, &headersJSON, &bodyB64, &cachedAt)
	if err != nil {
		return nil, false
	}

	ts, err := time.Parse(time.RFC3339Nano, cachedAt)
	if err != nil || time.Since(ts) > s.ttl {
		// Expired or unreadable: delete and report a miss.
		_, _ = s.db.Exec(`DELETE FROM idempotency_keys WHERE key = $1`, key)
		return nil, false
	}

	body, err := base64.StdEncoding.DecodeString(bodyB64)
	if err != nil {
		return nil, false
	}

	hdr := make(http.Header)
	if err := json.Unmarshal([]byte(headersJSON), &hdr); err != nil {
		hdr = http.Header{"Content-Type": {"application/json"}}
	}

	return &cachedResponse{
		StatusCode: statusCode,
		Headers:    hdr,
		Body:       body,
		CachedAt:   ts,
	}, true
}

// Set stores an idempotency key and its response. Failures are logged
// only; idempotency is best-effort enrichment, not a commit barrier.
func (s *SQLIdempotencyStore) Set(key string, statusCode int, headers http.Header, body []byte) {
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		headersJSON = []byte("{}")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err = s.db.Exec(
		`INSERT INTO idempotency_keys (key, status_code, headers, body, cached_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (key) DO UPDATE SET status_code = $2, headers = $3, body = $4, cached_at = $5`,
		key, statusCode, string(headersJSON), base64.StdEncoding.EncodeToString(body), now,
	)
	if err != nil {
		slog.Warn("idempotency: failed to set key", "key", key, "error", err)
	}
}

// Cleanup removes expired idempotency keys older than the TTL.
func (s *SQLIdempotencyStore) Cleanup() {
	cutoff := time.Now().Add(-s.ttl).UTC().Format(time.RFC3339Nano)
	_, _ = s.db.Exec(`DELETE FROM idempotency_keys WHERE cached_at < $1`, cutoff)
}
