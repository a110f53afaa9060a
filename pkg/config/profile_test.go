package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validProfileYAML = `name: Test
code: test
schema_version: "1.0.0"
windows:
  min_delay_seconds: 60
  max_delay_seconds: 86400
  grace_period_seconds: 172800
guard_rules:
  - "deposit.amount <= 5000"
`

func writeProfile(t *testing.T, dir, code, content string) {
	t.Helper()
	path := filepath.Join(dir, "profile_"+code+".yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}
}

func TestParseProfile(t *testing.T) {
	p, err := ParseProfile([]byte(validProfileYAML))
	if err != nil {
		t.Fatalf("ParseProfile failed: %v", err)
	}
	if p.Code != "test" || p.Name != "Test" {
		t.Errorf("identity mangled: %+v", p)
	}
	if p.Windows.MinDelaySeconds != 60 {
		t.Errorf("MinDelaySeconds = %d", p.Windows.MinDelaySeconds)
	}
	if len(p.GuardRules) != 1 {
		t.Errorf("GuardRules = %v", p.GuardRules)
	}

	cfg := p.SchedulerConfig()
	if cfg.MinDelay != time.Minute || cfg.MaxDelay != 24*time.Hour {
		t.Errorf("SchedulerConfig = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("derived config invalid: %v", err)
	}
}

func TestParseProfileRejectsMissingFields(t *testing.T) {
	cases := map[string]string{
		"no windows": `name: X
code: x
schema_version: "1.0.0"
`,
		"no code": `name: X
schema_version: "1.0.0"
windows: {min_delay_seconds: 1, max_delay_seconds: 2, grace_period_seconds: 3}
`,
		"uppercase code": `name: X
code: BAD
schema_version: "1.0.0"
windows: {min_delay_seconds: 1, max_delay_seconds: 2, grace_period_seconds: 3}
`,
		"zero delay": `name: X
code: x
schema_version: "1.0.0"
windows: {min_delay_seconds: 0, max_delay_seconds: 2, grace_period_seconds: 3}
`,
	}
	for name, yml := range cases {
		if _, err := ParseProfile([]byte(yml)); err == nil {
			t.Errorf("%s: expected schema validation error", name)
		}
	}
}

func TestParseProfileGatesSchemaVersion(t *testing.T) {
	future := strings.Replace(validProfileYAML, `"1.0.0"`, `"2.0.0"`, 1)
	_, err := ParseProfile([]byte(future))
	if err == nil {
		t.Fatal("expected rejection of future schema version")
	}
	if !strings.Contains(err.Error(), "requires schema") {
		t.Errorf("unexpected error: %v", err)
	}

	patch := strings.Replace(validProfileYAML, `"1.0.0"`, `"1.2.3"`, 1)
	if _, err := ParseProfile([]byte(patch)); err != nil {
		t.Errorf("1.2.3 should satisfy ^1.0.0: %v", err)
	}
}

func TestParseProfileRejectsInvertedWindows(t *testing.T) {
	inverted := strings.Replace(validProfileYAML, "max_delay_seconds: 86400", "max_delay_seconds: 30", 1)
	if _, err := ParseProfile([]byte(inverted)); err == nil {
		t.Fatal("expected rejection when max delay is below min delay")
	}
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "test", validProfileYAML)

	p, err := LoadProfile(dir, "TEST")
	if err != nil {
		t.Fatalf("LoadProfile failed: %v", err)
	}
	if p.Code != "test" {
		t.Errorf("Code = %q", p.Code)
	}

	if _, err := LoadProfile(dir, "absent"); err == nil {
		t.Error("expected error for missing profile")
	}
}

func TestLoadProfileRejectsCodeMismatch(t *testing.T) {
	dir := t.TempDir()
	// File named profile_other.yaml but declares code "test".
	writeProfile(t, dir, "other", validProfileYAML)

	if _, err := LoadProfile(dir, "other"); err == nil {
		t.Fatal("expected error for declared-code mismatch")
	}
}

func TestLoadAllProfiles(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "test", validProfileYAML)
	writeProfile(t, dir, "slow", strings.NewReplacer(
		"code: test", "code: slow",
		"min_delay_seconds: 60", "min_delay_seconds: 3600",
	).Replace(validProfileYAML))

	profiles, err := LoadAllProfiles(dir)
	if err != nil {
		t.Fatalf("LoadAllProfiles failed: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	if profiles["slow"].Windows.MinDelaySeconds != 3600 {
		t.Errorf("slow profile windows: %+v", profiles["slow"].Windows)
	}
}

func TestLoadAllProfilesFailsOnOneBadFile(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "test", validProfileYAML)
	writeProfile(t, dir, "broken", "name: Broken\ncode: broken\n")

	if _, err := LoadAllProfiles(dir); err == nil {
		t.Fatal("expected failure when one profile is invalid")
	}
}

func TestShippedProfiles(t *testing.T) {
	profiles, err := LoadAllProfiles("profiles")
	if err != nil {
		t.Fatalf("shipped profiles failed validation: %v", err)
	}
	for _, code := range []string{"standard", "cautious", "rapid"} {
		if _, ok := profiles[code]; !ok {
			t.Errorf("shipped profile %q missing", code)
		}
	}
	std := profiles["standard"]
	def := DefaultProfile()
	if std.Windows != def.Windows {
		t.Errorf("shipped standard windows %+v differ from built-in %+v", std.Windows, def.Windows)
	}
}

func TestDefaultProfile(t *testing.T) {
	p := DefaultProfile()
	if err := p.SchedulerConfig().Validate(); err != nil {
		t.Fatalf("default profile invalid: %v", err)
	}
	if p.Windows.MinDelaySeconds != 10 {
		t.Errorf("MinDelaySeconds = %d, want 10", p.Windows.MinDelaySeconds)
	}
	if p.Windows.MaxDelaySeconds != 172800 {
		t.Errorf("MaxDelaySeconds = %d, want 172800", p.Windows.MaxDelaySeconds)
	}
	if p.Windows.GracePeriodSeconds != 432000 {
		t.Errorf("GracePeriodSeconds = %d, want 432000", p.Windows.GracePeriodSeconds)
	}
}
