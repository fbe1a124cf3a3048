package feeders

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAffixedEnvFeeder(t *testing.T) {
	type Config struct {
		Wait    time.Duration `env:"WAIT"`
		Mode    string        `env:"MODE"`
		Retries int           `env:"RETRIES"`
		Verbose bool          `env:"VERBOSE"`
		Nested  struct {
			Interval time.Duration `env:"INTERVAL"`
		}
		Untagged string
	}

	t.Run("with_prefix_and_suffix", func(t *testing.T) {
		t.Setenv("APP_WAIT_TEST", "2m")
		t.Setenv("APP_MODE_TEST", "poll")
		t.Setenv("APP_RETRIES_TEST", "3")
		t.Setenv("APP_VERBOSE_TEST", "true")
		t.Setenv("APP_INTERVAL_TEST", "250ms")

		var cfg Config
		require.NoError(t, NewAffixedEnvFeeder("APP", "TEST").Feed(&cfg))
		assert.Equal(t, 2*time.Minute, cfg.Wait)
		assert.Equal(t, "poll", cfg.Mode)
		assert.Equal(t, 3, cfg.Retries)
		assert.True(t, cfg.Verbose)
		assert.Equal(t, 250*time.Millisecond, cfg.Nested.Interval)
	})

	t.Run("prefix_only_is_upper_cased", func(t *testing.T) {
		t.Setenv("BOOTREADY_MODE", "snapshot")

		var cfg Config
		require.NoError(t, NewAffixedEnvFeeder("bootready", "").Feed(&cfg))
		assert.Equal(t, "snapshot", cfg.Mode)
		assert.Zero(t, cfg.Wait)
	})

	t.Run("unset_variables_keep_values", func(t *testing.T) {
		cfg := Config{Mode: "poll"}
		require.NoError(t, NewAffixedEnvFeeder("UNSET", "").Feed(&cfg))
		assert.Equal(t, "poll", cfg.Mode)
	})

	t.Run("invalid_duration", func(t *testing.T) {
		t.Setenv("BAD_WAIT", "soon")
		var cfg Config
		err := NewAffixedEnvFeeder("BAD", "").Feed(&cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Wait")
	})

	t.Run("invalid_int", func(t *testing.T) {
		t.Setenv("BAD_RETRIES", "many")
		var cfg Config
		require.Error(t, NewAffixedEnvFeeder("BAD", "").Feed(&cfg))
	})

	t.Run("empty_affixes", func(t *testing.T) {
		var cfg Config
		err := NewAffixedEnvFeeder("", "").Feed(&cfg)
		assert.True(t, errors.Is(err, ErrEnvEmptyPrefixAndSuffix))
	})

	t.Run("non_pointer", func(t *testing.T) {
		err := NewAffixedEnvFeeder("APP", "").Feed(Config{})
		require.ErrorIs(t, err, ErrEnvInvalidStructure)
		require.ErrorIs(t, NewAffixedEnvFeeder("APP", "").Feed(nil), ErrEnvInvalidStructure)
	})
}
