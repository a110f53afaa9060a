// Package contracts defines the Timevault domain contracts — deposits,
// queue entries, lifecycle events, and the error taxonomy shared by the
// ledger, the scheduler, and every surface that fronts them.
//
// A Deposit is a commitment to release value to a recipient no earlier
// than its release timestamp. A QueueEntry is a pending authorization to
// execute one specific deposit against one target/function pair.
package contracts

import (
	"encoding/hex"
	"fmt"
)

// Identity is an opaque caller/recipient identity. The core never resolves
// identities itself; the surrounding environment (API auth, directory)
// supplies them.
type Identity string

// Zero reports whether the identity is unset.
func (id Identity) Zero() bool { return id == "" }

// DigestLen is the byte length of content-derived identifiers.
const DigestLen = 32

// DepositID is the content-derived identifier of a deposit: a 32-byte
// digest over the canonical encoding of the deposit's fields plus its
// ledger sequence number.
type DepositID [DigestLen]byte

// TxID identifies a queued release: a 32-byte digest over
// (target, deposit id, function signature).
type TxID [DigestLen]byte

// IsZero reports whether the id is the all-zero digest.
func (d DepositID) IsZero() bool { return d == DepositID{} }

// String renders the id as lowercase hex.
func (d DepositID) String() string { return hex.EncodeToString(d[:]) }

// MarshalText implements encoding.TextMarshaler (hex form).
func (d DepositID) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DepositID) UnmarshalText(text []byte) error {
	parsed, err := parseDigest(string(text))
	if err != nil {
		return fmt.Errorf("deposit id: %w", err)
	}
	*d = DepositID(parsed)
	return nil
}

// ParseDepositID parses a lowercase/uppercase hex deposit id.
func ParseDepositID(s string) (DepositID, error) {
	parsed, err := parseDigest(s)
	if err != nil {
		return DepositID{}, fmt.Errorf("deposit id: %w", err)
	}
	return DepositID(parsed), nil
}

// IsZero reports whether the id is the all-zero digest.
func (t TxID) IsZero() bool { return t == TxID{} }

// String renders the id as lowercase hex.
func (t TxID) String() string { return hex.EncodeToString(t[:]) }

// MarshalText implements encoding.TextMarshaler (hex form).
func (t TxID) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TxID) UnmarshalText(text []byte) error {
	parsed, err := parseDigest(string(text))
	if err != nil {
		return fmt.Errorf("tx id: %w", err)
	}
	*t = TxID(parsed)
	return nil
}

// ParseTxID parses a hex transaction id.
func ParseTxID(s string) (TxID, error) {
	parsed, err := parseDigest(s)
	if err != nil {
		return TxID{}, fmt.Errorf("tx id: %w", err)
	}
	return TxID(parsed), nil
}

func parseDigest(s string) ([DigestLen]byte, error) {
	var out [DigestLen]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid hex: %w", err)
	}
	if len(raw) != DigestLen {
		return out, fmt.Errorf("expected %d bytes, got %d", DigestLen, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// Deposit is a recorded commitment to release Amount to To no earlier
// than ReleaseTimestamp. The id is a pure function of the other fields
// plus Seq, so an update always produces a new identity.
type Deposit struct {
	ID          DepositID `json:"id"`
	Seq         uint64    `json:"seq"`
	Description string    `json:"description"`
	From        Identity  `json:"from"`
	To          Identity  `json:"to"`
	Amount      int64     `json:"amount"` // native minor units, non-negative

	// ReleaseTimestamp is the absolute unix time (seconds) after which
	// release becomes eligible.
	ReleaseTimestamp int64 `json:"release_timestamp"`

	// Claimed flips false->true exactly once, after execution.
	Claimed bool `json:"claimed"`
}

// QueueEntry is a pending authorization to execute one deposit against a
// target/function pair. Snapshot holds the deposit as it was at queue
// time; it is not a live reference into the ledger.
type QueueEntry struct {
	TxID              TxID     `json:"tx_id"`
	Target            Identity `json:"target"`
	FunctionSignature string   `json:"function_signature"`
	Snapshot          Deposit  `json:"snapshot"`
	QueuedAt          int64    `json:"queued_at"`
}
