package archive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Custodia-Systems/timevault/pkg/canonical"
	"github.com/Custodia-Systems/timevault/pkg/events"
)

// Manifest is a self-contained journal snapshot. The entries carry their
// chain hashes, so a holder of the manifest can verify the history
// without access to the running service.
type Manifest struct {
	InstanceID string         `json:"instance_id"`
	Head       string         `json:"head"`
	Length     int            `json:"length"`
	Entries    []events.Entry `json:"entries"`
}

// ExportJournal archives a snapshot of an instance's journal and returns
// the manifest's content hash. The manifest is serialized canonically,
// so exporting an unchanged journal is a no-op that returns the same
// address.
func ExportJournal(ctx context.Context, blobs Store, instanceID string, journal *events.Journal) (string, error) {
	manifest := Manifest{
		InstanceID: instanceID,
		Head:       journal.Head(),
		Length:     journal.Length(),
		Entries:    journal.Entries(),
	}

	data, err := canonical.Canonical(manifest)
	if err != nil {
		return "", fmt.Errorf("archive: encode manifest: %w", err)
	}
	hash, err := blobs.Put(ctx, data)
	if err != nil {
		return "", fmt.Errorf("archive: store manifest: %w", err)
	}
	return hash, nil
}

// LoadManifest retrieves and decodes a previously exported manifest.
func LoadManifest(ctx context.Context, blobs Store, hash string) (Manifest, error) {
	data, err := blobs.Get(ctx, hash)
	if err != nil {
		return Manifest{}, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("archive: decode manifest: %w", err)
	}
	return manifest, nil
}

// VerifyManifest walks a manifest's chain links the same way the live
// journal does.
func VerifyManifest(m Manifest) (bool, string) {
	prev := "genesis"
	for i, entry := range m.Entries {
		if entry.Sequence != uint64(i)+1 {
			return false, fmt.Sprintf("sequence gap at entry %d", i+1)
		}
		if entry.PrevHash != prev {
			return false, fmt.Sprintf("chain broken at entry %d", i+1)
		}
		prev = entry.ContentHash
	}
	if len(m.Entries) > 0 && m.Head != prev {
		return false, "manifest head does not match final entry"
	}
	return true, "chain verified"
}
