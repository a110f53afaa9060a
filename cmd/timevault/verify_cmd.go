package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Custodia-Systems/timevault/pkg/archive"
)

// runVerifyCmd checks an exported journal manifest offline: sequence
// continuity, chain links, and the head hash. The manifest comes from a
// local file (--manifest) or from the configured archive backend by
// content address (--address).
//
// Exit codes:
//
//	0 = chain verified
//	1 = verification failed
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		manifestPath string
		address      string
		jsonOutput   bool
	)

	cmd.StringVar(&manifestPath, "manifest", "", "Path to an exported manifest JSON file")
	cmd.StringVar(&address, "address", "", "Content address (sha256:...) in the archive store")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if (manifestPath == "") == (address == "") {
		fmt.Fprintln(stderr, "Error: exactly one of --manifest or --address is required")
		cmd.Usage()
		return 2
	}

	manifest, err := resolveManifest(manifestPath, address)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	valid, reason := archive.VerifyManifest(manifest)

	if jsonOutput {
		result := map[string]any{
			"instance_id": manifest.InstanceID,
			"head":        manifest.Head,
			"length":      manifest.Length,
			"valid":       valid,
		}
		if !valid {
			result["reason"] = reason
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else if valid {
		fmt.Fprintf(stdout, "✅ Journal chain verified\n")
		fmt.Fprintf(stdout, "   Instance: %s\n", manifest.InstanceID)
		fmt.Fprintf(stdout, "   Entries:  %d\n", manifest.Length)
		fmt.Fprintf(stdout, "   Head:     %s\n", manifest.Head)
	} else {
		fmt.Fprintf(stdout, "❌ Journal chain verification FAILED\n")
		fmt.Fprintf(stdout, "   Instance: %s\n", manifest.InstanceID)
		fmt.Fprintf(stdout, "   Reason:   %s\n", reason)
	}

	if !valid {
		return 1
	}
	return 0
}

func resolveManifest(manifestPath, address string) (archive.Manifest, error) {
	if manifestPath != "" {
		data, err := os.ReadFile(manifestPath)
		if err != nil {
			return archive.Manifest{}, fmt.Errorf("read manifest: %w", err)
		}
		var manifest archive.Manifest
		if err := json.Unmarshal(data, &manifest); err != nil {
			return archive.Manifest{}, fmt.Errorf("decode manifest: %w", err)
		}
		return manifest, nil
	}

	ctx := context.Background()
	blobs, err := archive.NewStoreFromEnv(ctx)
	if err != nil {
		return archive.Manifest{}, fmt.Errorf("open archive store: %w", err)
	}
	return archive.LoadManifest(ctx, blobs, address)
}
