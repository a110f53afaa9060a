// Package events records lifecycle notifications. Every committed
// operation appends exactly one event to the instance journal; failed
// operations append nothing. Entries are hash-chained to their
// predecessor and never mutated after emission, so an auditor can verify
// the whole history offline.
package events

import (
	"fmt"
	"sync"

	"github.com/Custodia-Systems/timevault/pkg/canonical"
	"github.com/Custodia-Systems/timevault/pkg/contracts"
)

const genesisHash = "genesis"

// Entry is an immutable, hash-chained journal record.
type Entry struct {
	Sequence    uint64          `json:"sequence"`
	ContentHash string          `json:"content_hash"`
	PrevHash    string          `json:"prev_hash"`
	Event       contracts.Event `json:"event"`
}

// EntryObserver receives committed entries with their chain hashes, e.g.
// for persistence. Observers run synchronously after commit.
type EntryObserver func(Entry)

// Journal is an append-only, hash-chained notification log for one
// timelock instance. Attached sinks observe each entry synchronously
// after it commits; a sink must not append back into the journal.
type Journal struct {
	mu        sync.RWMutex
	entries   []Entry
	headHash  string
	sinks     []contracts.EventSink
	observers []EntryObserver
}

func NewJournal(sinks ...contracts.EventSink) *Journal {
	return &Journal{
		entries:  make([]Entry, 0),
		headHash: genesisHash,
		sinks:    sinks,
	}
}

// Attach adds a sink that observes every entry appended from now on.
func (j *Journal) Attach(sink contracts.EventSink) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sinks = append(j.sinks, sink)
}

// Observe adds an entry observer.
func (j *Journal) Observe(fn EntryObserver) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.observers = append(j.observers, fn)
}

type entryPreimage struct {
	Seq      uint64          `json:"seq"`
	Event    contracts.Event `json:"event"`
	PrevHash string          `json:"prev"`
}

// Append chains event onto the journal and returns the stored entry.
func (j *Journal) Append(event contracts.Event) (Entry, error) {
	j.mu.Lock()

	seq := uint64(len(j.entries)) + 1
	digest, err := canonical.DigestHex(entryPreimage{Seq: seq, Event: event, PrevHash: j.headHash})
	if err != nil {
		j.mu.Unlock()
		return Entry{}, fmt.Errorf("journal: hash entry: %w", err)
	}

	entry := Entry{
		Sequence:    seq,
		ContentHash: "sha256:" + digest,
		PrevHash:    j.headHash,
		Event:       event,
	}
	j.entries = append(j.entries, entry)
	j.headHash = entry.ContentHash
	sinks := j.sinks
	observers := j.observers
	j.mu.Unlock()

	for _, observer := range observers {
		observer(entry)
	}
	for _, sink := range sinks {
		sink.Emit(event)
	}
	return entry, nil
}

// Get retrieves an entry by sequence number.
func (j *Journal) Get(seq uint64) (Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if seq == 0 || seq > uint64(len(j.entries)) {
		return Entry{}, fmt.Errorf("journal: entry %d not found", seq)
	}
	return j.entries[seq-1], nil
}

// Head returns the current head hash.
func (j *Journal) Head() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.headHash
}

// Length returns the number of entries.
func (j *Journal) Length() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

// Entries returns a snapshot of the whole journal in append order.
func (j *Journal) Entries() []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}

// ByKind returns a snapshot of entries whose event matches kind.
func (j *Journal) ByKind(kind contracts.EventKind) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []Entry
	for _, e := range j.entries {
		if e.Event.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Verify walks the full chain and recomputes every hash.
func (j *Journal) Verify() (bool, string) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	prevHash := genesisHash
	for i, entry := range j.entries {
		if entry.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prevHash, entry.PrevHash)
		}
		digest, err := canonical.DigestHex(entryPreimage{Seq: entry.Sequence, Event: entry.Event, PrevHash: entry.PrevHash})
		if err != nil {
			return false, fmt.Sprintf("failed to hash entry %d", i+1)
		}
		if computed := "sha256:" + digest; computed != entry.ContentHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prevHash = entry.ContentHash
	}
	return true, "chain verified"
}
