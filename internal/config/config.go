package config

import (
	"arbitrage-bot-go/internal/models"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// LoadConfig reads the YAML file at path, applies defaults and environment
// overrides and validates the result.
func LoadConfig(path string) (*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML document into a validated Config.
func Parse(data []byte) (*models.Config, error) {
	cfg := &models.Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(cfg)
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *models.Config) {
	if cfg.AlgoName == "" {
		cfg.AlgoName = "ARB-GENERAL"
	}
	if cfg.Mode == "" {
		cfg.Mode = "paper"
	}
	t := &cfg.Trading
	if t.Depth <= 0 {
		t.Depth = 50
	}
	if t.FundUpdateLockPeriod <= 0 {
		t.FundUpdateLockPeriod = 2 * time.Minute
	}
	if t.OrderTimeout <= 0 {
		t.OrderTimeout = 60 * time.Second
	}
	iv := &cfg.Intervals
	if iv.Detection <= 0 {
		iv.Detection = 2 * time.Second
	}
	if iv.FundRefresh <= 0 {
		iv.FundRefresh = 2 * time.Minute
	}
	if iv.Reconcile <= 0 {
		iv.Reconcile = 10 * time.Second
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.LogConfig.Output == "" {
		cfg.LogConfig.Output = "console"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Storage.CacheTTL <= 0 {
		cfg.Storage.CacheTTL = 5 * time.Minute
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8001"
	}
	if cfg.Recorder.Interval <= 0 {
		cfg.Recorder.Interval = 5 * time.Second
	}
	if cfg.Recorder.Depth <= 0 {
		cfg.Recorder.Depth = cfg.Trading.Depth
	}
	if cfg.Recorder.BatchSize <= 0 {
		cfg.Recorder.BatchSize = 1000
	}
	if cfg.Recorder.Dir == "" {
		cfg.Recorder.Dir = "data"
	}
	for name, ex := range cfg.Exchanges {
		if ex.Driver == "" {
			ex.Driver = name
		}
		if ex.RequestsPerSecond <= 0 {
			ex.RequestsPerSecond = 5
		}
		cfg.Exchanges[name] = ex
	}
}

// applyEnv lets deployment secrets and switches override the file.
func applyEnv(cfg *models.Config) {
	if v := os.Getenv("ARB_LOG_LEVEL"); v != "" {
		cfg.LogConfig.Level = v
	}
	if v := os.Getenv("ARB_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("ARB_POSTGRES_URL"); v != "" {
		cfg.Storage.PostgresURL = v
	}
	if v := os.Getenv("ARB_REDIS_URL"); v != "" {
		cfg.Storage.RedisURL = v
	}
}

// Validate checks the invariants every component relies on.
func Validate(cfg *models.Config) error {
	var problems []string
	if len(cfg.Pairs) == 0 {
		problems = append(problems, "at least one pair is required")
	}
	for i, p := range cfg.Pairs {
		if p.Base == "" || p.Quote == "" {
			problems = append(problems, fmt.Sprintf("pairs[%d]: base and quote are required", i))
		}
		if p.LotSize <= 0 {
			problems = append(problems, fmt.Sprintf("pairs[%d]: lot_size must be positive", i))
		}
		if p.MinLotSize < 0 || p.MinLotSize > p.LotSize {
			problems = append(problems, fmt.Sprintf("pairs[%d]: min_lot_size must be within [0, lot_size]", i))
		}
		if p.Precision < 0 {
			problems = append(problems, fmt.Sprintf("pairs[%d]: precision must not be negative", i))
		}
	}
	if len(cfg.Exchanges) < 2 {
		problems = append(problems, "at least two exchanges are required")
	}
	for name, ex := range cfg.Exchanges {
		switch ex.Driver {
		case "binance", "bybit", "gateway", "simulated":
		default:
			problems = append(problems, fmt.Sprintf("exchanges.%s: unknown driver %q", name, ex.Driver))
		}
		for buy := range ex.Thresholds {
			if _, ok := cfg.Exchanges[buy]; !ok {
				problems = append(problems, fmt.Sprintf("exchanges.%s.thresholds: unknown exchange %q", name, buy))
			}
		}
	}
	if cfg.Trading.FundBuffer < 0 || cfg.Trading.FundBuffer >= 1 {
		problems = append(problems, "trading.fund_buffer must be within [0, 1)")
	}
	if cfg.Trading.SlippageBufferBps < 0 {
		problems = append(problems, "trading.slippage_buffer_bps must not be negative")
	}
	switch cfg.Mode {
	case "live", "paper", "record":
	default:
		problems = append(problems, fmt.Sprintf("unknown mode %q", cfg.Mode))
	}
	switch cfg.Storage.Driver {
	case "memory", "badger", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("storage: unknown driver %q", cfg.Storage.Driver))
	}
	if cfg.Storage.Driver == "postgres" && cfg.Storage.PostgresURL == "" {
		problems = append(problems, "storage.postgres_url is required for the postgres driver")
	}
	if cfg.Storage.Driver == "badger" && cfg.Storage.BadgerPath == "" {
		problems = append(problems, "storage.badger_path is required for the badger driver")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Pair returns the configured pair with the given BASE/QUOTE symbol.
func Pair(cfg *models.Config, symbol string) (models.PairConfig, bool) {
	for _, p := range cfg.Pairs {
		if strings.EqualFold(p.Symbol(), symbol) {
			return p, true
		}
	}
	return models.PairConfig{}, false
}

// ExchangeNames returns the configured exchange names in a stable order.
func ExchangeNames(cfg *models.Config) []string {
	names := make([]string, 0, len(cfg.Exchanges))
	for name := range cfg.Exchanges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
