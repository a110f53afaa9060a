// Package treasury is the value-transfer substrate behind the timelock.
// The core never moves funds itself; it asks a Transferer to do it and
// treats any failure as fatal to the enclosing operation.
package treasury

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/Custodia-Systems/timevault/pkg/canonical"
	"github.com/Custodia-Systems/timevault/pkg/contracts"
)

// Transferer moves value between identities. Used inbound on deposit
// funding, outbound on reimbursement and release.
type Transferer interface {
	// Balance returns the available balance of id.
	Balance(ctx context.Context, id contracts.Identity) (int64, error)

	// Transfer moves amount from one identity to another and returns the
	// substrate's response payload. The optional payload is carried opaquely
	// to the receiving target; the substrate does not interpret it.
	// Failures must leave both balances untouched.
	Transfer(ctx context.Context, from, to contracts.Identity, amount int64, payload []byte) ([]byte, error)
}

// Receipt is the response payload produced by the built-in substrates.
type Receipt struct {
	From    contracts.Identity `json:"from"`
	To      contracts.Identity `json:"to"`
	Amount  int64              `json:"amount"`
	Payload string             `json:"payload,omitempty"` // hex of the carried payload
	Digest  string             `json:"digest"`            // sha256:<hex> over the fields above
}

func buildReceipt(from, to contracts.Identity, amount int64, payload []byte) (Receipt, error) {
	r := Receipt{
		From:    from,
		To:      to,
		Amount:  amount,
		Payload: hex.EncodeToString(payload),
	}
	digest, err := canonical.DigestHex(r)
	if err != nil {
		return Receipt{}, fmt.Errorf("treasury: receipt digest: %w", err)
	}
	r.Digest = "sha256:" + digest
	return r, nil
}
