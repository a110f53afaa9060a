// Package canonical derives the content-addressed identifiers used by the
// timelock: deposit ids, transaction ids, and the execution payload handed
// to the transfer substrate.
//
// All digests are SHA-256 over the RFC 8785 (JCS) canonical JSON form of a
// fixed preimage struct. String fields are NFC-normalized before encoding
// so that visually identical labels hash identically regardless of the
// Unicode composition the caller happened to send.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/sha3"
	"golang.org/x/text/unicode/norm"

	"github.com/Custodia-Systems/timevault/pkg/contracts"
)

// SelectorLen is the byte length of a function selector.
const SelectorLen = 4

// depositPreimage is the hashed form of a deposit. Field order matches the
// JCS key order so the struct reads the same as the canonical output.
type depositPreimage struct {
	Amount           int64  `json:"amount"`
	Description      string `json:"description"`
	From             string `json:"from"`
	ReleaseTimestamp int64  `json:"release_timestamp"`
	Seq              uint64 `json:"seq"`
	To               string `json:"to"`
}

type txPreimage struct {
	DepositID         string `json:"deposit_id"`
	FunctionSignature string `json:"function_signature"`
	Target            string `json:"target"`
}

// Canonical returns the RFC 8785 canonical JSON encoding of v.
func Canonical(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform: %w", err)
	}
	return out, nil
}

// Digest returns the SHA-256 digest of the canonical encoding of v.
func Digest(v interface{}) ([contracts.DigestLen]byte, error) {
	var zero [contracts.DigestLen]byte
	b, err := Canonical(v)
	if err != nil {
		return zero, err
	}
	return sha256.Sum256(b), nil
}

// DigestHex returns Digest as a lowercase hex string.
func DigestHex(v interface{}) (string, error) {
	d, err := Digest(v)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(d[:]), nil
}

// ComputeDepositID derives the identifier of a deposit from its content
// plus the ledger-assigned sequence number. Two textually identical
// deposits receive distinct ids because their seq differs.
func ComputeDepositID(description string, from, to contracts.Identity, amount int64, releaseTimestamp int64, seq uint64) (contracts.DepositID, error) {
	pre := depositPreimage{
		Amount:           amount,
		Description:      norm.NFC.String(description),
		From:             norm.NFC.String(string(from)),
		ReleaseTimestamp: releaseTimestamp,
		Seq:              seq,
		To:               norm.NFC.String(string(to)),
	}
	d, err := Digest(pre)
	if err != nil {
		return contracts.DepositID{}, fmt.Errorf("deposit id: %w", err)
	}
	return contracts.DepositID(d), nil
}

// ComputeTxID derives the identifier of a queued release from the target,
// the deposit id, and the function signature.
func ComputeTxID(target contracts.Identity, depositID contracts.DepositID, functionSignature string) (contracts.TxID, error) {
	pre := txPreimage{
		DepositID:         depositID.String(),
		FunctionSignature: norm.NFC.String(functionSignature),
		Target:            norm.NFC.String(string(target)),
	}
	d, err := Digest(pre)
	if err != nil {
		return contracts.TxID{}, fmt.Errorf("tx id: %w", err)
	}
	return contracts.TxID(d), nil
}

// Selector returns the first four bytes of the legacy Keccak-256 digest of
// the function signature, the conventional dispatch tag understood by
// transfer targets.
func Selector(functionSignature string) [SelectorLen]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(norm.NFC.String(functionSignature)))
	var sel [SelectorLen]byte
	copy(sel[:], h.Sum(nil))
	return sel
}

// ExecutionPayload builds the opaque payload attached to an outbound
// release: the function selector followed by the transaction id. The
// target interprets it; the timelock only carries it.
func ExecutionPayload(functionSignature string, txID contracts.TxID) []byte {
	sel := Selector(functionSignature)
	payload := make([]byte, 0, SelectorLen+contracts.DigestLen)
	payload = append(payload, sel[:]...)
	payload = append(payload, txID[:]...)
	return payload
}
