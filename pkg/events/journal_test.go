package events

import (
	"strings"
	"testing"
	"time"

	"github.com/Custodia-Systems/timevault/pkg/contracts"
)

func sampleEvent(kind contracts.EventKind, id string) contracts.Event {
	return contracts.Event{
		ID:        id,
		Kind:      kind,
		Timestamp: time.Unix(1700000000, 0).UTC(),
		Amount:    100,
	}
}

func TestJournalAppend(t *testing.T) {
	j := NewJournal()
	entry, err := j.Append(sampleEvent(contracts.EventDeposited, "ev-1"))
	if err != nil {
		t.Fatal(err)
	}
	if entry.Sequence != 1 {
		t.Fatalf("expected seq 1, got %d", entry.Sequence)
	}
	if entry.PrevHash != "genesis" {
		t.Errorf("first entry prev = %q, want genesis", entry.PrevHash)
	}
	if !strings.HasPrefix(entry.ContentHash, "sha256:") {
		t.Errorf("content hash %q missing prefix", entry.ContentHash)
	}
	if j.Length() != 1 {
		t.Fatalf("expected length 1, got %d", j.Length())
	}
	if j.Head() != entry.ContentHash {
		t.Error("head does not track the last entry")
	}
}

func TestJournalChainIntegrity(t *testing.T) {
	j := NewJournal()
	j.Append(sampleEvent(contracts.EventDeposited, "ev-1"))
	j.Append(sampleEvent(contracts.EventQueued, "ev-2"))
	j.Append(sampleEvent(contracts.EventExecuted, "ev-3"))

	ok, reason := j.Verify()
	if !ok {
		t.Fatalf("expected valid chain, got: %s", reason)
	}

	second, err := j.Get(2)
	if err != nil {
		t.Fatal(err)
	}
	first, _ := j.Get(1)
	if second.PrevHash != first.ContentHash {
		t.Error("entry 2 is not chained to entry 1")
	}
}

func TestJournalGetNotFound(t *testing.T) {
	j := NewJournal()
	if _, err := j.Get(1); err == nil {
		t.Fatal("expected error for missing entry")
	}
	if _, err := j.Get(0); err == nil {
		t.Fatal("expected error for sequence zero")
	}
}

func TestJournalSinkFanout(t *testing.T) {
	collected := &CollectSink{}
	j := NewJournal(collected)
	j.Append(sampleEvent(contracts.EventDeposited, "ev-1"))

	late := &CollectSink{}
	j.Attach(late)
	j.Append(sampleEvent(contracts.EventCanceled, "ev-2"))

	if len(collected.Events) != 2 {
		t.Errorf("initial sink saw %d events, want 2", len(collected.Events))
	}
	if len(late.Events) != 1 || late.Events[0].Kind != contracts.EventCanceled {
		t.Errorf("late sink saw %+v, want just the canceled event", late.Kinds())
	}
}

func TestJournalByKind(t *testing.T) {
	j := NewJournal()
	j.Append(sampleEvent(contracts.EventDeposited, "ev-1"))
	j.Append(sampleEvent(contracts.EventQueued, "ev-2"))
	j.Append(sampleEvent(contracts.EventDeposited, "ev-3"))

	got := j.ByKind(contracts.EventDeposited)
	if len(got) != 2 {
		t.Fatalf("ByKind returned %d entries, want 2", len(got))
	}
	if got[0].Event.ID != "ev-1" || got[1].Event.ID != "ev-3" {
		t.Error("ByKind lost append order")
	}
}
