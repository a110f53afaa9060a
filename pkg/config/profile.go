package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/Custodia-Systems/timevault/pkg/scheduler"
)

// profileSchemaConstraint gates which profile schema versions this build
// accepts. Profiles written for a future major revision are rejected
// rather than silently misread.
const profileSchemaConstraint = "^1.0.0"

const profileSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["name", "code", "schema_version", "windows"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"code": {"type": "string", "pattern": "^[a-z][a-z0-9_-]*$"},
		"schema_version": {"type": "string", "minLength": 1},
		"description": {"type": "string"},
		"windows": {
			"type": "object",
			"required": ["min_delay_seconds", "max_delay_seconds", "grace_period_seconds"],
			"properties": {
				"min_delay_seconds": {"type": "integer", "minimum": 1},
				"max_delay_seconds": {"type": "integer", "minimum": 1},
				"grace_period_seconds": {"type": "integer", "minimum": 1}
			}
		},
		"guard_rules": {
			"type": "array",
			"items": {"type": "string", "minLength": 1}
		}
	}
}`

// Profile is a named operating preset for timelock instances: scheduling
// windows plus the guard rules instances created under it start with.
type Profile struct {
	Name          string        `yaml:"name" json:"name"`
	Code          string        `yaml:"code" json:"code"`
	SchemaVersion string        `yaml:"schema_version" json:"schema_version"`
	Description   string        `yaml:"description,omitempty" json:"description,omitempty"`
	Windows       WindowsConfig `yaml:"windows" json:"windows"`
	GuardRules    []string      `yaml:"guard_rules,omitempty" json:"guard_rules,omitempty"`
}

// WindowsConfig holds the scheduling windows in whole seconds.
type WindowsConfig struct {
	MinDelaySeconds    int64 `yaml:"min_delay_seconds" json:"min_delay_seconds"`
	MaxDelaySeconds    int64 `yaml:"max_delay_seconds" json:"max_delay_seconds"`
	GracePeriodSeconds int64 `yaml:"grace_period_seconds" json:"grace_period_seconds"`
}

// SchedulerConfig converts the profile windows into a scheduler config.
func (p *Profile) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		MinDelay:    time.Duration(p.Windows.MinDelaySeconds) * time.Second,
		MaxDelay:    time.Duration(p.Windows.MaxDelaySeconds) * time.Second,
		GracePeriod: time.Duration(p.Windows.GracePeriodSeconds) * time.Second,
	}
}

var compiledProfileSchema = mustCompileProfileSchema()

func mustCompileProfileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://timevault.schemas.local/profile.schema.json"
	if err := c.AddResource(url, strings.NewReader(profileSchema)); err != nil {
		panic(fmt.Sprintf("profile schema load failed: %v", err))
	}
	schema, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("profile schema compile failed: %v", err))
	}
	return schema
}

// ParseProfile validates raw profile YAML against the embedded schema,
// gates its schema version, and checks the windows are usable.
func ParseProfile(data []byte) (*Profile, error) {
	// The validator expects JSON-decoded values, so route the YAML
	// document through encoding/json before validating.
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("normalize profile: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(jsonBytes, &normalized); err != nil {
		return nil, fmt.Errorf("normalize profile: %w", err)
	}
	if err := compiledProfileSchema.Validate(normalized); err != nil {
		return nil, fmt.Errorf("profile schema validation failed: %w", err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}

	constraint, err := semver.NewConstraint(profileSchemaConstraint)
	if err != nil {
		return nil, fmt.Errorf("invalid schema constraint: %w", err)
	}
	version, err := semver.NewVersion(profile.SchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("invalid profile schema_version %q: %w", profile.SchemaVersion, err)
	}
	if !constraint.Check(version) {
		return nil, fmt.Errorf("profile %q requires schema %s, this build supports %s",
			profile.Code, profile.SchemaVersion, profileSchemaConstraint)
	}

	if err := profile.SchedulerConfig().Validate(); err != nil {
		return nil, fmt.Errorf("profile %q windows: %w", profile.Code, err)
	}
	return &profile, nil
}

// LoadProfile loads a profile YAML by code. It looks for
// profile_<code>.yaml in profilesDir.
func LoadProfile(profilesDir, code string) (*Profile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	profile, err := ParseProfile(data)
	if err != nil {
		return nil, err
	}
	if profile.Code != code {
		return nil, fmt.Errorf("profile file %s declares code %q", path, profile.Code)
	}
	return profile, nil
}

// LoadAllProfiles loads every profile_*.yaml from profilesDir, keyed by
// code. A single invalid profile fails the whole load; operators should
// not run with a partially applied policy directory.
func LoadAllProfiles(profilesDir string) (map[string]*Profile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*Profile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		profile, err := ParseProfile(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		profiles[profile.Code] = profile
	}
	return profiles, nil
}

// DefaultProfile is the built-in preset used when no profile directory
// is configured: the standard protocol windows and no guard rules.
func DefaultProfile() *Profile {
	cfg := scheduler.DefaultConfig()
	return &Profile{
		Name:          "Standard",
		Code:          "standard",
		SchemaVersion: "1.0.0",
		Description:   "Built-in default windows",
		Windows: WindowsConfig{
			MinDelaySeconds:    int64(cfg.MinDelay / time.Second),
			MaxDelaySeconds:    int64(cfg.MaxDelay / time.Second),
			GracePeriodSeconds: int64(cfg.GracePeriod / time.Second),
		},
	}
}
