// ABOUTME: Tests for flag defaults and simulator configuration loading
// ABOUTME: Covers parsing, validation errors and missing files

package config

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name      string
		config    string
		expectErr error
		check     func(t *testing.T, cfg *Config)
	}{
		{
			name:   "empty json",
			config: "{}",
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, DefaultFlags(), cfg.Flags)
				assert.Empty(t, cfg.Isolates)
			},
		},
		{
			name:      "bad config",
			config:    "abc",
			expectErr: ErrInvalidJSON,
		},
		{
			name: "flags",
			config: `{
				"flags": {
					"shared_space": false,
					"concurrent_code_publishing": true,
					"track_retaining_path": true,
					"debug_checks": false,
					"log_level": "debug"
				}
			}`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, Flags{
					ConcurrentCodePublishing: true,
					TrackRetainingPath:       true,
					LogLevel:                 slog.LevelDebug,
				}, cfg.Flags)
			},
		},
		{
			name:      "bad log level",
			config:    `{"flags": {"log_level": "chatty"}}`,
			expectErr: ErrInvalidConfig,
		},
		{
			name: "topology",
			config: `{
				"seed": 7,
				"isolates": [
					{"name": "main", "owner": true, "threads": 2, "fixture": "main.json"},
					{"name": "worker"}
				],
				"cycles": [
					{"isolate": "main", "scope": "Major", "compacting": true, "mutator_steps": 100},
					{"isolate": "worker", "scope": "minor"}
				]
			}`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, int64(7), cfg.Seed)
				assert.Equal(t, []IsolateSpec{
					{Name: "main", Owner: true, Threads: 2, Fixture: "main.json"},
					{Name: "worker", Threads: 1},
				}, cfg.Isolates)
				assert.Equal(t, []CycleSpec{
					{Isolate: "main", Scope: "major", Compacting: true, MutatorSteps: 100},
					{Isolate: "worker", Scope: "minor"},
				}, cfg.Cycles)
			},
		},
		{
			name:      "isolate without name",
			config:    `{"isolates": [{"threads": 1}]}`,
			expectErr: ErrInvalidConfig,
		},
		{
			name:      "two owners",
			config:    `{"isolates": [{"name": "a", "owner": true}, {"name": "b", "owner": true}]}`,
			expectErr: ErrInvalidConfig,
		},
		{
			name:      "compacting minor cycle",
			config:    `{"cycles": [{"scope": "minor", "compacting": true}]}`,
			expectErr: ErrInvalidConfig,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tc.config))
			if tc.expectErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tc.expectErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			tc.check(t, cfg)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("testdata/does-not-exist.json")
	assert.Error(t, err)
}
