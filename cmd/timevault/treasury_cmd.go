package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Custodia-Systems/timevault/pkg/auth"
	"github.com/Custodia-Systems/timevault/pkg/contracts"
	"github.com/Custodia-Systems/timevault/pkg/treasury"
)

// runMintCmd credits a treasury account directly in the shared Postgres
// book. Lite mode has no shared book; seed it via TIMEVAULT_SEED instead.
func runMintCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("mint", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		account string
		amount  int64
	)
	cmd.StringVar(&account, "account", "", "Treasury account to credit (REQUIRED)")
	cmd.Int64Var(&amount, "amount", 0, "Amount in native minor units (REQUIRED, positive)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if account == "" || amount <= 0 {
		fmt.Fprintln(stderr, "Error: --account and a positive --amount are required")
		cmd.Usage()
		return 2
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		fmt.Fprintln(stderr, "Error: mint requires DATABASE_URL (lite mode seeds via TIMEVAULT_SEED)")
		return 2
	}

	ctx := context.Background()
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		fmt.Fprintf(stderr, "Error: open postgres: %v\n", err)
		return 2
	}
	defer func() { _ = db.Close() }()

	vault := treasury.NewPostgresVault(db)
	if err := vault.Init(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: init treasury: %v\n", err)
		return 2
	}

	id := contracts.Identity(account)
	if err := vault.Mint(ctx, id, amount); err != nil {
		fmt.Fprintf(stderr, "Error: mint failed: %v\n", err)
		return 1
	}
	balance, err := vault.Balance(ctx, id)
	if err != nil {
		fmt.Fprintf(stderr, "Error: balance read failed: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Credited %d to %s (balance now %d)\n", amount, account, balance)
	return 0
}

// runTokenCmd signs an API token against the server's persistent root
// key, so operators can mint credentials without restarting the server.
func runTokenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("token", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		subject string
		roles   string
		ttl     time.Duration
		keyPath string
	)
	cmd.StringVar(&subject, "subject", "", "Identity the token acts as (REQUIRED)")
	cmd.StringVar(&roles, "roles", "", "Comma-separated role names")
	cmd.DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	cmd.StringVar(&keyPath, "key", "data/root.key", "Path to the server's root key file")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if subject == "" {
		fmt.Fprintln(stderr, "Error: --subject is required")
		cmd.Usage()
		return 2
	}

	keySet, err := keySetFromFile(keyPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	var roleNames []string
	for _, role := range strings.Split(roles, ",") {
		if role = strings.TrimSpace(role); role != "" {
			roleNames = append(roleNames, role)
		}
	}

	token, err := keySet.Sign(context.Background(), auth.VaultClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		Roles: roleNames,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: sign token: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, token)
	return 0
}

func keySetFromFile(keyPath string) (*auth.InMemoryKeySet, error) {
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("invalid key file %s: %w", keyPath, err)
	}
	return auth.NewKeySetFromSeed(seed)
}
