package treasury

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Custodia-Systems/timevault/pkg/contracts"
)

// Vault is a thread-safe in-memory Transferer. It backs the lite runtime
// mode and every test that needs a funded account.
type Vault struct {
	mu       sync.RWMutex
	balances map[contracts.Identity]int64

	// Intercept, when non-nil, runs before a transfer commits. Returning an
	// error aborts the transfer with both balances untouched. Tests use it
	// to exercise substrate-failure paths.
	Intercept func(from, to contracts.Identity, amount int64) error
}

func NewVault() *Vault {
	return &Vault{balances: make(map[contracts.Identity]int64)}
}

// Mint credits id with amount out of thin air. Bootstrap and test funding
// only; normal value movement goes through Transfer.
func (v *Vault) Mint(id contracts.Identity, amount int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[id] += amount
}

// Balance implements Transferer.
func (v *Vault) Balance(_ context.Context, id contracts.Identity) (int64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.balances[id], nil
}

// Transfer implements Transferer.
func (v *Vault) Transfer(_ context.Context, from, to contracts.Identity, amount int64, payload []byte) ([]byte, error) {
	if amount < 0 {
		return nil, fmt.Errorf("vault: negative amount %d", amount)
	}
	if from.Zero() || to.Zero() {
		return nil, fmt.Errorf("vault: transfer requires both identities")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.Intercept != nil {
		if err := v.Intercept(from, to, amount); err != nil {
			return nil, err
		}
	}
	if v.balances[from] < amount {
		return nil, fmt.Errorf("vault: %s holds %d, needs %d", from, v.balances[from], amount)
	}

	v.balances[from] -= amount
	v.balances[to] += amount

	receipt, err := buildReceipt(from, to, amount, payload)
	if err != nil {
		// Roll the movement back; the receipt is part of the contract.
		v.balances[from] += amount
		v.balances[to] -= amount
		return nil, err
	}
	return json.Marshal(receipt)
}
