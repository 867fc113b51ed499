package models

import (
	"fmt"
	"time"
)

// Config holds every parameter of one engine run. It is loaded once at
// startup and never mutated afterwards.
type Config struct {
	AlgoName    string                    `yaml:"algo_name"`
	Mode        string                    `yaml:"mode"` // live, paper or record
	Pairs       []PairConfig              `yaml:"pairs"`
	Exchanges   map[string]ExchangeConfig `yaml:"exchanges"`
	Thresholds  ThresholdConfig           `yaml:"thresholds"`
	Trading     TradingConfig             `yaml:"trading"`
	Intervals   IntervalConfig            `yaml:"intervals"`
	LogConfig   LogConfig                 `yaml:"log"`
	Storage     StorageConfig             `yaml:"storage"`
	Server      ServerConfig              `yaml:"server"`
	Recorder    RecorderConfig            `yaml:"recorder"`
	Performance []PerformanceConfig       `yaml:"performance"`
}

// PairConfig describes one traded currency pair.
type PairConfig struct {
	Base       string  `yaml:"base"`
	Quote      string  `yaml:"quote"`
	Precision  int32   `yaml:"precision"`    // decimal places of the base quantity
	LotSize    float64 `yaml:"lot_size"`     // maximum base volume per trade
	MinLotSize float64 `yaml:"min_lot_size"` // below this a trade is not worth placing
}

// Symbol returns the canonical BASE/QUOTE name of the pair.
func (p PairConfig) Symbol() string {
	return fmt.Sprintf("%s/%s", p.Base, p.Quote)
}

// ExchangeConfig holds the connector settings and trading costs of one venue.
type ExchangeConfig struct {
	Driver            string             `yaml:"driver"` // binance, bybit, gateway or simulated
	BaseURL           string             `yaml:"base_url"`
	APIKeyEnv         string             `yaml:"api_key_env"`
	SecretKeyEnv      string             `yaml:"secret_key_env"`
	RequestsPerSecond float64            `yaml:"requests_per_second"`
	Fees              FeeConfig          `yaml:"fees"`
	Thresholds        map[string]float64 `yaml:"thresholds"` // keyed by buy exchange, in bps
	Symbols           map[string]string  `yaml:"symbols"`    // BASE/QUOTE -> venue symbol
	Simulated         SimulatedConfig    `yaml:"simulated"`
}

// FeeConfig holds fees in basis points.
type FeeConfig struct {
	Buy       float64 `yaml:"buy"`
	Sell      float64 `yaml:"sell"`
	LimitBuy  float64 `yaml:"limit_buy"`
	LimitSell float64 `yaml:"limit_sell"`
}

// SimulatedConfig configures a paper-trading venue.
type SimulatedConfig struct {
	Balances    map[string]float64 `yaml:"balances"`
	SlippageBps float64            `yaml:"slippage_bps"`
	FillAfter   int                `yaml:"fill_after"` // status polls before an order reports CLOSED
}

// ThresholdConfig holds the fallback minimum spread for pairs without an override.
type ThresholdConfig struct {
	Default float64 `yaml:"default"`
}

// TradingConfig holds sizing and risk parameters shared by all pairs.
type TradingConfig struct {
	Depth                int           `yaml:"depth"`
	FundUpdateLockPeriod time.Duration `yaml:"fund_update_lock_period"`
	SlippageBufferBps    float64       `yaml:"slippage_buffer_bps"`
	FundBuffer           float64       `yaml:"fund_buffer"`
	OrderTimeout         time.Duration `yaml:"order_timeout"`
	NWayEnabled          bool          `yaml:"nway_enabled"`
}

// IntervalConfig holds the cadence of the periodic loops.
type IntervalConfig struct {
	Detection   time.Duration `yaml:"detection"`
	FundRefresh time.Duration `yaml:"fund_refresh"`
	Reconcile   time.Duration `yaml:"reconcile"`
}

// LogConfig defines logging output.
type LogConfig struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Output     string `yaml:"output"`      // console, file or both
	File       string `yaml:"file"`        // log file path
	MaxSize    int    `yaml:"max_size"`    // MB per file
	MaxBackups int    `yaml:"max_backups"` // rotated files kept
	MaxAge     int    `yaml:"max_age"`     // days
	Compress   bool   `yaml:"compress"`
}

// StorageConfig selects the order-log backend.
type StorageConfig struct {
	Driver      string        `yaml:"driver"` // memory, badger or postgres
	BadgerPath  string        `yaml:"badger_path"`
	PostgresURL string        `yaml:"postgres_url"`
	RedisURL    string        `yaml:"redis_url"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// RecorderConfig configures the order-book recorder.
type RecorderConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	Depth     int           `yaml:"depth"`
	BatchSize int           `yaml:"batch_size"`
	Dir       string        `yaml:"dir"`
	S3        S3Config      `yaml:"s3"`
}

// S3Config holds the optional upload target of the recorder.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
	// Static credentials are read from these variables when both are set,
	// otherwise the default AWS chain applies.
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
}

// PerformanceConfig registers one performance metric.
type PerformanceConfig struct {
	Kind     string `yaml:"kind"`     // pnl, order_volume_base, order_volume_quote
	Interval string `yaml:"interval"` // 10s, 5m, 4h, 1d, 1w, 1M
	Pair     string `yaml:"pair"`     // BASE/QUOTE, empty means the first configured pair
}
