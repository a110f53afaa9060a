package treasury

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Custodia-Systems/timevault/pkg/contracts"
)

// PostgresVault implements Transferer backed by PostgreSQL.
// Uses SELECT FOR UPDATE row locking so concurrent transfers against the
// same account cannot double-spend.
type PostgresVault struct {
	db *sql.DB
}

func NewPostgresVault(db *sql.DB) *PostgresVault {
	return &PostgresVault{db: db}
}

const vaultSchema = `
CREATE TABLE IF NOT EXISTS treasury_accounts (
	id TEXT PRIMARY KEY,
	balance BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL DEFAULT NOW()
);
`

func (v *PostgresVault) Init(ctx context.Context) error {
	_, err := v.db.ExecContext(ctx, vaultSchema)
	return err
}

// Mint credits id with amount, creating the account row if absent.
func (v *PostgresVault) Mint(ctx context.Context, id contracts.Identity, amount int64) error {
	query := `
		INSERT INTO treasury_accounts (id, balance, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET balance = treasury_accounts.balance + $2, updated_at = NOW()
	`
	_, err := v.db.ExecContext(ctx, query, string(id), amount)
	return err
}

// Balance implements Transferer. An absent account reads as zero.
func (v *PostgresVault) Balance(ctx context.Context, id contracts.Identity) (int64, error) {
	var balance int64
	err := v.db.QueryRowContext(ctx,
		`SELECT balance FROM treasury_accounts WHERE id = $1`, string(id),
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balance query failed: %w", err)
	}
	return balance, nil
}

// Transfer implements Transferer. The debit row is locked until COMMIT,
// preventing concurrent withdrawal of the same funds.
func (v *PostgresVault) Transfer(ctx context.Context, from, to contracts.Identity, amount int64, payload []byte) ([]byte, error) {
	if amount < 0 {
		return nil, fmt.Errorf("postgres vault: negative amount %d", amount)
	}
	if from.Zero() || to.Zero() {
		return nil, errors.New("postgres vault: transfer requires both identities")
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var balance int64
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM treasury_accounts WHERE id = $1 FOR UPDATE`, string(from),
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("postgres vault: %s holds 0, needs %d", from, amount)
	}
	if err != nil {
		return nil, fmt.Errorf("debit lock failed: %w", err)
	}
	if balance < amount {
		return nil, fmt.Errorf("postgres vault: %s holds %d, needs %d", from, balance, amount)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE treasury_accounts SET balance = balance - $1, updated_at = NOW() WHERE id = $2`,
		amount, string(from),
	); err != nil {
		return nil, fmt.Errorf("debit failed: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO treasury_accounts (id, balance, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (id) DO UPDATE SET balance = treasury_accounts.balance + $2, updated_at = NOW()`,
		string(to), amount,
	); err != nil {
		return nil, fmt.Errorf("credit failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit failed: %w", err)
	}

	receipt, err := buildReceipt(from, to, amount, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(receipt)
}
