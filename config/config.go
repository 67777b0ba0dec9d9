// ABOUTME: Runtime flags and simulator topology
// ABOUTME: Parsed from JSON with gjson, defaults applied for missing keys

// Package config holds the runtime flags consulted by the marking barrier
// and the topology the simulator builds isolates from.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrInvalidJSON is returned when the configuration is not valid JSON
	ErrInvalidJSON = errors.New("invalid json")
	// ErrInvalidConfig is returned when a value is out of range
	ErrInvalidConfig = errors.New("invalid config")
)

// Flags are the runtime switches that change barrier behavior
type Flags struct {
	// SharedSpace enables a heap region shared by every isolate.
	SharedSpace bool
	// ConcurrentCodePublishing means background threads may publish code
	// into a region while typed slots for it are merged.
	ConcurrentCodePublishing bool
	// TrackRetainingPath records objects greyed by the barrier as roots.
	TrackRetainingPath bool
	// DebugChecks enables contract assertions.
	DebugChecks bool
	LogLevel    slog.Level
}

// DefaultFlags returns the flags used when nothing is configured
func DefaultFlags() Flags {
	return Flags{
		SharedSpace: true,
		DebugChecks: true,
		LogLevel:    slog.LevelInfo,
	}
}

// IsolateSpec describes one isolate of the simulated runtime
type IsolateSpec struct {
	Name string
	// Owner marks the shared-space isolate; at most one isolate is owner.
	Owner   bool
	Threads int
	// Fixture is the path of a heap layout file, relative to the config.
	Fixture string
}

// CycleSpec describes one collection cycle
type CycleSpec struct {
	Isolate      string
	Scope        string
	Compacting   bool
	MutatorSteps int
}

// Config is the full simulator configuration
type Config struct {
	Flags    Flags
	Seed     int64
	Isolates []IsolateSpec
	Cycles   []CycleSpec
}

// Parse reads a JSON configuration
func Parse(data []byte) (*Config, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidJSON, truncate(string(data)))
	}
	root := gjson.ParseBytes(data)

	cfg := &Config{Flags: DefaultFlags()}
	flags := root.Get("flags")
	if v := flags.Get("shared_space"); v.Exists() {
		cfg.Flags.SharedSpace = v.Bool()
	}
	if v := flags.Get("concurrent_code_publishing"); v.Exists() {
		cfg.Flags.ConcurrentCodePublishing = v.Bool()
	}
	if v := flags.Get("track_retaining_path"); v.Exists() {
		cfg.Flags.TrackRetainingPath = v.Bool()
	}
	if v := flags.Get("debug_checks"); v.Exists() {
		cfg.Flags.DebugChecks = v.Bool()
	}
	if v := flags.Get("log_level"); v.Exists() {
		if err := cfg.Flags.LogLevel.UnmarshalText([]byte(v.String())); err != nil {
			return nil, fmt.Errorf("%w: log_level: %v", ErrInvalidConfig, err)
		}
	}
	cfg.Seed = root.Get("seed").Int()

	owners := 0
	for i, iso := range root.Get("isolates").Array() {
		spec := IsolateSpec{
			Name:    iso.Get("name").String(),
			Owner:   iso.Get("owner").Bool(),
			Threads: int(iso.Get("threads").Int()),
			Fixture: iso.Get("fixture").String(),
		}
		if spec.Name == "" {
			return nil, fmt.Errorf("%w: isolate at index %d missing name", ErrInvalidConfig, i)
		}
		if spec.Threads <= 0 {
			spec.Threads = 1
		}
		if spec.Owner {
			owners++
		}
		cfg.Isolates = append(cfg.Isolates, spec)
	}
	if owners > 1 {
		return nil, fmt.Errorf("%w: %d shared-space owners", ErrInvalidConfig, owners)
	}

	for i, c := range root.Get("cycles").Array() {
		spec := CycleSpec{
			Isolate:      c.Get("isolate").String(),
			Scope:        strings.ToLower(c.Get("scope").String()),
			Compacting:   c.Get("compacting").Bool(),
			MutatorSteps: int(c.Get("mutator_steps").Int()),
		}
		if spec.Scope == "" {
			spec.Scope = "major"
		}
		if spec.Compacting && spec.Scope != "major" {
			return nil, fmt.Errorf("%w: cycle %d: only major cycles compact", ErrInvalidConfig, i)
		}
		cfg.Cycles = append(cfg.Cycles, spec)
	}

	return cfg, nil
}

// Load reads and parses the configuration file at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

func truncate(s string) string {
	if len(s) > 32 {
		return s[:32] + "..."
	}
	return s
}
