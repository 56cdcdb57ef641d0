package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"predict_go/internal/domain"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultIterations is the Monte-Carlo trial count when none is configured.
	DefaultIterations = 10000

	// DefaultGracePeriod bounds how long the kill switch waits for in-flight handlers.
	DefaultGracePeriod = 2 * time.Second
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후 환경 변수로 덮어쓰며, 실행 중에는 변경되지 않습니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
		File  string `yaml:"file"`
	} `yaml:"logging"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Bus struct {
		HandlerBudgetMS int `yaml:"handler_budget_ms"`
		InboxSize       int `yaml:"inbox_size"`
	} `yaml:"bus"`

	Engine struct {
		Iterations int    `yaml:"iterations"`
		Seed       uint64 `yaml:"seed"` // 0 = unseeded
	} `yaml:"engine"`

	Vault struct {
		Principal           decimal.Decimal `yaml:"principal"`
		HardFloor           decimal.Decimal `yaml:"hard_floor"`
		DailyGoal           decimal.Decimal `yaml:"daily_goal"`
		ProfitLock          decimal.Decimal `yaml:"profit_lock"`
		MaxStake            decimal.Decimal `yaml:"max_stake"`
		ConfidenceThreshold float64         `yaml:"confidence_threshold"`
		MaxVariance         float64         `yaml:"max_variance"`
		KellyFraction       float64         `yaml:"kelly_fraction"`
		MinEV               float64         `yaml:"min_ev"`
	} `yaml:"vault"`

	KillSwitch struct {
		Enabled       bool `yaml:"enabled"`
		GracePeriodMS int  `yaml:"grace_period_ms"`
	} `yaml:"kill_switch"`

	Senses struct {
		FeedURL       string  `yaml:"feed_url"`
		RatePerSec    float64 `yaml:"rate_per_sec"`
		Burst         int     `yaml:"burst"`
		HighWatermark int64   `yaml:"high_watermark"`
	} `yaml:"senses"`

	Brain struct {
		PollIntervalMS int `yaml:"poll_interval_ms"`
	} `yaml:"brain"`

	Executor struct {
		PollIntervalMS int    `yaml:"poll_interval_ms"`
		Seed           uint64 `yaml:"seed"`
		MaxFailures    int    `yaml:"max_failures"`
	} `yaml:"executor"`

	Historian struct {
		LogPath   string `yaml:"log_path"`
		MaxSizeMB int    `yaml:"max_size_mb"`
	} `yaml:"historian"`

	Health struct {
		Addr string `yaml:"addr"`
	} `yaml:"health"`

	Oracle struct {
		URL       string `yaml:"url"`
		TimeoutMS int    `yaml:"timeout_ms"`
	} `yaml:"oracle"`

	Archive struct {
		Bucket      string `yaml:"s3_bucket"`
		Key         string `yaml:"s3_key"`
		Region      string `yaml:"s3_region"`
		Endpoint    string `yaml:"s3_endpoint"`
		IntervalSec int    `yaml:"interval_sec"`
		BatchSize   int    `yaml:"batch_size"`
	} `yaml:"archive"`
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over the defaults, applies environment overrides,
// then validates. Keys absent from data keep their default; keys present keep
// their value even when it is zero.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// 보안 우선 - 환경 변수 오버라이드 지원
	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns the configuration used for every key a file omits.
// The kill switch is armed unless explicitly disabled.
func DefaultConfig() *Config {
	var c Config
	c.App.Name = "predict_go"
	c.Logging.Level = "info"
	c.Logging.Dir = "logs"
	c.Logging.File = "app.log"
	c.Storage.Path = "data/synapse.db"
	c.Bus.HandlerBudgetMS = 250
	c.Bus.InboxSize = 256
	c.Engine.Iterations = DefaultIterations

	c.Vault.Principal = decimal.NewFromInt(1000)
	c.Vault.HardFloor = decimal.NewFromInt(800)
	c.Vault.DailyGoal = decimal.NewFromInt(50)
	c.Vault.ProfitLock = decimal.NewFromInt(25)
	c.Vault.MaxStake = decimal.NewFromInt(50)
	c.Vault.ConfidenceThreshold = 0.6
	c.Vault.MaxVariance = 0.25
	c.Vault.KellyFraction = 0.25

	c.KillSwitch.Enabled = true
	c.KillSwitch.GracePeriodMS = int(DefaultGracePeriod / time.Millisecond)

	c.Senses.RatePerSec = 20
	c.Senses.Burst = 10
	c.Senses.HighWatermark = 1000
	c.Brain.PollIntervalMS = 500
	c.Executor.PollIntervalMS = 500
	c.Executor.MaxFailures = 5
	c.Historian.LogPath = "logs/process.log"
	c.Historian.MaxSizeMB = 10
	c.Health.Addr = "127.0.0.1:8089"
	c.Oracle.TimeoutMS = 3000
	c.Archive.Key = "ledger/signals.jsonl"
	c.Archive.IntervalSec = 300
	c.Archive.BatchSize = 500
	return &c
}

// Validate checks configuration validity and reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, &domain.ConfigError{Field: field, Err: fmt.Errorf(format, args...)})
	}

	if c.Engine.Iterations <= 0 {
		bad("engine.iterations", "must be positive, got %d", c.Engine.Iterations)
	}
	if c.Bus.HandlerBudgetMS <= 0 {
		bad("bus.handler_budget_ms", "must be positive, got %d", c.Bus.HandlerBudgetMS)
	}
	if c.Bus.InboxSize <= 0 {
		bad("bus.inbox_size", "must be positive, got %d", c.Bus.InboxSize)
	}

	v := c.Vault
	if v.Principal.Sign() <= 0 {
		bad("vault.principal", "must be positive, got %s", v.Principal)
	}
	if v.HardFloor.Sign() < 0 {
		bad("vault.hard_floor", "must not be negative, got %s", v.HardFloor)
	}
	if v.HardFloor.GreaterThan(v.Principal) {
		bad("vault.hard_floor", "must not exceed principal (%s > %s)", v.HardFloor, v.Principal)
	}
	if v.DailyGoal.Sign() < 0 {
		bad("vault.daily_goal", "must not be negative, got %s", v.DailyGoal)
	}
	if v.ProfitLock.Sign() < 0 || v.ProfitLock.GreaterThan(v.DailyGoal) {
		bad("vault.profit_lock", "must be within [0, daily_goal], got %s", v.ProfitLock)
	}
	if v.MaxStake.Sign() <= 0 {
		bad("vault.max_stake", "must be positive, got %s", v.MaxStake)
	}
	if v.ConfidenceThreshold < 0 || v.ConfidenceThreshold > 1 {
		bad("vault.confidence_threshold", "must be within [0,1], got %v", v.ConfidenceThreshold)
	}
	if v.MaxVariance <= 0 {
		bad("vault.max_variance", "must be positive, got %v", v.MaxVariance)
	}
	if v.KellyFraction <= 0 || v.KellyFraction > 1 {
		bad("vault.kelly_fraction", "must be within (0,1], got %v", v.KellyFraction)
	}

	if c.KillSwitch.GracePeriodMS < 0 {
		bad("kill_switch.grace_period_ms", "must not be negative, got %d", c.KillSwitch.GracePeriodMS)
	}

	if c.Senses.FeedURL != "" && !strings.HasPrefix(c.Senses.FeedURL, "ws://") && !strings.HasPrefix(c.Senses.FeedURL, "wss://") {
		bad("senses.feed_url", "invalid WS URL: %s", c.Senses.FeedURL)
	}
	if c.Senses.RatePerSec <= 0 || c.Senses.Burst <= 0 {
		bad("senses.rate_per_sec", "rate and burst must be positive")
	}
	if c.Executor.MaxFailures <= 0 {
		bad("executor.max_failures", "must be positive, got %d", c.Executor.MaxFailures)
	}
	if c.Oracle.URL != "" && !strings.HasPrefix(c.Oracle.URL, "http://") && !strings.HasPrefix(c.Oracle.URL, "https://") {
		bad("oracle.url", "invalid HTTP URL: %s", c.Oracle.URL)
	}

	return errors.Join(errs...)
}

// HandlerBudget returns the per-handler dispatch wait.
func (c *Config) HandlerBudget() time.Duration {
	return time.Duration(c.Bus.HandlerBudgetMS) * time.Millisecond
}

// GracePeriod returns the kill switch grace period.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.KillSwitch.GracePeriodMS) * time.Millisecond
}

// VaultState returns the initial vault bookkeeping in cents.
func (c *Config) VaultState() domain.VaultState {
	principal := domain.CentsFromDecimal(c.Vault.Principal)
	return domain.VaultState{
		Principal:  principal,
		HardFloor:  domain.CentsFromDecimal(c.Vault.HardFloor),
		DailyGoal:  domain.CentsFromDecimal(c.Vault.DailyGoal),
		ProfitLock: domain.CentsFromDecimal(c.Vault.ProfitLock),
		Balance:    principal,
	}
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("PREDICT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PREDICT_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("PREDICT_FEED_URL"); v != "" {
		cfg.Senses.FeedURL = v
	}
	if v := os.Getenv("PREDICT_ORACLE_URL"); v != "" {
		cfg.Oracle.URL = v
	}
	if v := os.Getenv("PREDICT_HEALTH_ADDR"); v != "" {
		cfg.Health.Addr = v
	}
	if v := os.Getenv("PREDICT_S3_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
	if v := os.Getenv("PREDICT_KILL_SWITCH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.KillSwitch.Enabled = b
		}
	}
	if v := os.Getenv("PREDICT_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.Iterations = n
		}
	}
}
