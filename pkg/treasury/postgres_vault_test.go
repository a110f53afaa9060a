package treasury

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPostgresVaultBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer func() { _ = db.Close() }()

	vault := NewPostgresVault(db)

	mock.ExpectQuery("SELECT balance FROM treasury_accounts").
		WithArgs("acct:alice").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(1200))

	got, err := vault.Balance(context.Background(), "acct:alice")
	if err != nil {
		t.Fatalf("balance query failed: %v", err)
	}
	if got != 1200 {
		t.Errorf("balance = %d, want 1200", got)
	}
}

func TestPostgresVaultBalanceAbsentIsZero(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	vault := NewPostgresVault(db)

	mock.ExpectQuery("SELECT balance FROM treasury_accounts").
		WithArgs("acct:ghost").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}))

	got, err := vault.Balance(context.Background(), "acct:ghost")
	if err != nil {
		t.Fatalf("absent account should read zero, got error: %v", err)
	}
	if got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}
}

func TestPostgresVaultTransfer(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	vault := NewPostgresVault(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT balance FROM treasury_accounts WHERE id = (.+) FOR UPDATE").
		WithArgs("acct:alice").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(500))
	mock.ExpectExec("UPDATE treasury_accounts SET balance = balance -").
		WithArgs(int64(200), "acct:alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO treasury_accounts").
		WithArgs("acct:bob", int64(200)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if _, err := vault.Transfer(context.Background(), "acct:alice", "acct:bob", 200, nil); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresVaultTransferOverdraftRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	vault := NewPostgresVault(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT balance FROM treasury_accounts WHERE id = (.+) FOR UPDATE").
		WithArgs("acct:alice").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(100))
	mock.ExpectRollback()

	if _, err := vault.Transfer(context.Background(), "acct:alice", "acct:bob", 200, nil); err == nil {
		t.Fatal("expected overdraft failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
