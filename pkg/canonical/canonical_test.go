package canonical

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/Custodia-Systems/timevault/pkg/contracts"
)

// Known-answer vectors computed from the canonical preimage encodings:
//
//	{"amount":50000,"description":"ops budget","from":"acct:alice","release_timestamp":1700000000,"seq":1,"to":"acct:bob"}
//	{"deposit_id":"<deposit hex>","function_signature":"transferFunds(bytes32)","target":"acct:treasury"}
const (
	depositVectorHex = "8913267e15613d2f023599a75b709dc5ebed3d2cd87ad25982bb36099e97e0ec"
	txVectorHex      = "ca7883f740fe913ed7e9dd64733b419cfd7a2e9cbe2594791cac4b83d1fd0b13"
)

func TestComputeDepositIDVector(t *testing.T) {
	id, err := ComputeDepositID("ops budget", "acct:alice", "acct:bob", 50000, 1700000000, 1)
	if err != nil {
		t.Fatalf("ComputeDepositID failed: %v", err)
	}
	if id.String() != depositVectorHex {
		t.Errorf("expected %s, got %s", depositVectorHex, id.String())
	}
}

func TestComputeTxIDVector(t *testing.T) {
	depositID, err := contracts.ParseDepositID(depositVectorHex)
	if err != nil {
		t.Fatal(err)
	}
	txID, err := ComputeTxID("acct:treasury", depositID, "transferFunds(bytes32)")
	if err != nil {
		t.Fatalf("ComputeTxID failed: %v", err)
	}
	if txID.String() != txVectorHex {
		t.Errorf("expected %s, got %s", txVectorHex, txID.String())
	}
}

func TestComputeDepositIDDeterministic(t *testing.T) {
	a, err := ComputeDepositID("payroll", "acct:a", "acct:b", 100, 1800000000, 7)
	if err != nil {
		t.Fatal(err)
	}
	b, err := ComputeDepositID("payroll", "acct:a", "acct:b", 100, 1800000000, 7)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("same inputs produced different ids: %s vs %s", a, b)
	}
}

func TestComputeDepositIDSeqBreaksCollision(t *testing.T) {
	// Textually identical deposits must still get distinct ids.
	a, _ := ComputeDepositID("rent", "acct:a", "acct:b", 100, 1800000000, 1)
	b, _ := ComputeDepositID("rent", "acct:a", "acct:b", 100, 1800000000, 2)
	if a == b {
		t.Error("distinct seq values collided onto one id")
	}
}

func TestComputeDepositIDFieldSensitivity(t *testing.T) {
	base, _ := ComputeDepositID("rent", "acct:a", "acct:b", 100, 1800000000, 1)
	variants := []contracts.DepositID{}
	for _, v := range []struct {
		desc   string
		from   contracts.Identity
		to     contracts.Identity
		amount int64
		ts     int64
	}{
		{"rent!", "acct:a", "acct:b", 100, 1800000000},
		{"rent", "acct:x", "acct:b", 100, 1800000000},
		{"rent", "acct:a", "acct:y", 100, 1800000000},
		{"rent", "acct:a", "acct:b", 101, 1800000000},
		{"rent", "acct:a", "acct:b", 100, 1800000001},
	} {
		id, err := ComputeDepositID(v.desc, v.from, v.to, v.amount, v.ts, 1)
		if err != nil {
			t.Fatal(err)
		}
		variants = append(variants, id)
	}
	seen := map[contracts.DepositID]bool{base: true}
	for i, id := range variants {
		if seen[id] {
			t.Errorf("variant %d collided with an earlier id", i)
		}
		seen[id] = true
	}
}

func TestComputeDepositIDNFCEquivalence(t *testing.T) {
	// U+00E9 (precomposed) vs U+0065 U+0301 (decomposed) must hash the same.
	composed, err := ComputeDepositID("café", "acct:a", "acct:b", 100, 1800000000, 1)
	if err != nil {
		t.Fatal(err)
	}
	decomposed, err := ComputeDepositID("café", "acct:a", "acct:b", 100, 1800000000, 1)
	if err != nil {
		t.Fatal(err)
	}
	if composed != decomposed {
		t.Errorf("NFC-equivalent descriptions hashed differently: %s vs %s", composed, decomposed)
	}
}

func TestComputeTxIDDistinctPerTargetAndFunction(t *testing.T) {
	depositID, _ := contracts.ParseDepositID(depositVectorHex)
	a, _ := ComputeTxID("acct:t1", depositID, "transferFunds(bytes32)")
	b, _ := ComputeTxID("acct:t2", depositID, "transferFunds(bytes32)")
	c, _ := ComputeTxID("acct:t1", depositID, "release(bytes32)")
	if a == b || a == c || b == c {
		t.Error("tx ids must differ when target or function differs")
	}
}

func TestSelectorVectors(t *testing.T) {
	cases := []struct {
		sig  string
		want string
	}{
		{"transfer(address,uint256)", "a9059cbb"},
		{"transferFunds(bytes32)", "00ab9cf7"},
	}
	for _, c := range cases {
		sel := Selector(c.sig)
		if got := hex.EncodeToString(sel[:]); got != c.want {
			t.Errorf("Selector(%q) = %s, want %s", c.sig, got, c.want)
		}
	}
}

func TestExecutionPayloadLayout(t *testing.T) {
	txID, err := contracts.ParseTxID(txVectorHex)
	if err != nil {
		t.Fatal(err)
	}
	payload := ExecutionPayload("transferFunds(bytes32)", txID)
	if len(payload) != SelectorLen+contracts.DigestLen {
		t.Fatalf("payload length %d, want %d", len(payload), SelectorLen+contracts.DigestLen)
	}
	if got := hex.EncodeToString(payload[:SelectorLen]); got != "00ab9cf7" {
		t.Errorf("selector prefix %s, want 00ab9cf7", got)
	}
	if !bytes.Equal(payload[SelectorLen:], txID[:]) {
		t.Error("payload suffix is not the tx id")
	}
}

func TestCanonicalSortsKeys(t *testing.T) {
	out, err := Canonical(map[string]interface{}{"c": 3, "a": 1, "b": 2})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"a":1,"b":2,"c":3}` {
		t.Errorf("expected sorted keys, got %s", out)
	}
}
