package infra

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"predict_go/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
app:
  name: predict_go
vault:
  principal: "1000.00"
  hard_floor: "800.00"
  daily_goal: "50.00"
  profit_lock: "20.00"
  max_stake: "25.50"
  confidence_threshold: 0.7
  max_variance: 0.2
kill_switch:
  enabled: true
  grace_period_ms: 100
engine:
  iterations: 5000
  seed: 42
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Engine.Iterations)
	assert.Equal(t, uint64(42), cfg.Engine.Seed)
	assert.True(t, cfg.KillSwitch.Enabled)
	assert.Equal(t, 0.7, cfg.Vault.ConfidenceThreshold)
	assert.True(t, cfg.Vault.MaxStake.Equal(decimal.RequireFromString("25.5")))

	// Defaults fill the rest.
	assert.Equal(t, 250, cfg.Bus.HandlerBudgetMS)
	assert.Equal(t, "data/synapse.db", cfg.Storage.Path)
	assert.Equal(t, 0.25, cfg.Vault.KellyFraction)
}

func TestParseConfig_ExplicitZerosAreKept(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
vault:
  principal: "1000.00"
  hard_floor: "0"
  daily_goal: "0"
  profit_lock: "0"
  confidence_threshold: 0
  min_ev: 0
engine:
  seed: 0
`))
	require.NoError(t, err)

	v := cfg.VaultState()
	assert.Zero(t, v.HardFloor)
	assert.Zero(t, v.DailyGoal)
	assert.Zero(t, v.ProfitLock)
	assert.Zero(t, cfg.Vault.ConfidenceThreshold)
	assert.Equal(t, 0.25, cfg.Vault.MaxVariance, "omitted keys keep their default")
}

func TestParseConfig_KillSwitchArmedByDefault(t *testing.T) {
	cfg, err := ParseConfig([]byte("app:\n  name: predict_go\n"))
	require.NoError(t, err)
	assert.True(t, cfg.KillSwitch.Enabled)
	assert.True(t, DefaultConfig().KillSwitch.Enabled)

	cfg, err = ParseConfig([]byte("kill_switch:\n  enabled: false\n"))
	require.NoError(t, err)
	assert.False(t, cfg.KillSwitch.Enabled)
	assert.Equal(t, int(DefaultGracePeriod/time.Millisecond), cfg.KillSwitch.GracePeriodMS)
}

func TestParseConfig_ExplicitZeroStillValidated(t *testing.T) {
	_, err := ParseConfig([]byte("engine:\n  iterations: 0\nvault:\n  kelly_fraction: 0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.iterations")
	assert.Contains(t, err.Error(), "vault.kelly_fraction")
}

func TestConfig_VaultStateInCents(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleYAML))
	require.NoError(t, err)

	v := cfg.VaultState()
	assert.Equal(t, domain.Cents(100000), v.Principal)
	assert.Equal(t, domain.Cents(80000), v.HardFloor)
	assert.Equal(t, domain.Cents(5000), v.DailyGoal)
	assert.Equal(t, domain.Cents(2000), v.ProfitLock)
	assert.Equal(t, v.Principal, v.Balance)
	assert.Equal(t, domain.Cents(0), v.Reserved)
}

func TestConfig_ValidateCollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Vault.HardFloor = decimal.NewFromInt(5000)
	cfg.Vault.ConfidenceThreshold = 1.5
	cfg.Senses.FeedURL = "http://not-a-socket"

	err := cfg.Validate()
	require.Error(t, err)

	var cfgErr *domain.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, err.Error(), "vault.hard_floor")
	assert.Contains(t, err.Error(), "vault.confidence_threshold")
	assert.Contains(t, err.Error(), "senses.feed_url")
}

func TestConfig_EnvOverride(t *testing.T) {
	t.Setenv("PREDICT_KILL_SWITCH", "false")
	t.Setenv("PREDICT_ITERATIONS", "777")
	t.Setenv("PREDICT_DB_PATH", "/tmp/override.db")

	cfg, err := ParseConfig([]byte(sampleYAML))
	require.NoError(t, err)

	assert.False(t, cfg.KillSwitch.Enabled)
	assert.Equal(t, 777, cfg.Engine.Iterations)
	assert.Equal(t, "/tmp/override.db", cfg.Storage.Path)
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, domain.ErrConfigNotFound)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "predict_go", cfg.App.Name)
	assert.Equal(t, DefaultGracePeriod/20, cfg.GracePeriod())
}
