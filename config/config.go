package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/battlewager/internal/application/wagering"
	"github.com/alejandrodnm/battlewager/internal/domain"
	"github.com/alejandrodnm/battlewager/internal/ledger"
)

// Config es la configuración completa del servicio de batallas.
type Config struct {
	Wagering  WageringConfig  `yaml:"wagering"`
	Wallet    WalletConfig    `yaml:"wallet"`
	ScoreFeed ScoreFeedConfig `yaml:"score_feed"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	HTTP      HTTPConfig      `yaml:"http"`
	Clock     ClockConfig     `yaml:"clock"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
}

// WageringConfig controla stakes, cuotas y tiempos de cada batalla.
type WageringConfig struct {
	MinStake              int64   `yaml:"min_stake"`
	MaxStake              int64   `yaml:"max_stake"`
	PayoutFraction        float64 `yaml:"payout_fraction"` // 1 - fee de la casa
	OddsFloor             float64 `yaml:"odds_floor"`
	OddsCeiling           float64 `yaml:"odds_ceiling"`
	NeutralOdds           float64 `yaml:"neutral_odds"`    // pool vacío
	NoBackersOdds         float64 `yaml:"no_backers_odds"` // lado sin apuestas
	OddsPrecision         int32   `yaml:"odds_precision"`
	PayoutScale           int32   `yaml:"payout_scale"`            // decimales de la unidad mínima de SP
	LockThresholdSeconds  *int    `yaml:"lock_threshold_seconds"`  // nil = 30; 0 es válido
	EndingDurationSeconds *int    `yaml:"ending_duration_seconds"` // nil = 3; 0 = reveal instantáneo
	WalletTimeoutMS       int     `yaml:"wallet_timeout_ms"`
	FeedTimeoutMS         int     `yaml:"feed_timeout_ms"`
}

// WalletConfig apunta al servicio de wallet de SP.
type WalletConfig struct {
	BaseURL    string  `yaml:"base_url"` // vacío = wallet en memoria
	TimeoutMS  int     `yaml:"timeout_ms"`
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
}

// ScoreFeedConfig apunta al Redis con los puntajes de los creadores.
type ScoreFeedConfig struct {
	Addr     string `yaml:"addr"` // vacío = feed en memoria
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	PoolSize int    `yaml:"pool_size"`
}

// KafkaConfig controla la publicación de eventos de batalla.
type KafkaConfig struct {
	Brokers        []string `yaml:"brokers"` // vacío = solo consola
	Topic          string   `yaml:"topic"`
	WriteTimeoutMS int      `yaml:"write_timeout_ms"`
}

// HTTPConfig controla la API REST.
type HTTPConfig struct {
	Addr              string `yaml:"addr"`
	Mode              string `yaml:"mode"` // debug | release | test
	ShutdownTimeoutMS int    `yaml:"shutdown_timeout_ms"`
}

// ClockConfig controla la fuente de ticks.
type ClockConfig struct {
	IntervalMS int `yaml:"interval_ms"`
	Workers    int `yaml:"workers"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse interpreta un documento YAML, aplica el entorno y completa defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// Default devuelve la configuración sin archivo: todo en memoria.
func Default() *Config {
	var cfg Config
	setDefaults(&cfg)
	return &cfg
}

// Engine traduce la sección wagering a la configuración del engine.
func (c *Config) Engine() wagering.Config {
	w := c.Wagering
	return wagering.Config{
		Session: domain.SessionConfig{
			LockThresholdSeconds:  *w.LockThresholdSeconds,
			EndingDurationSeconds: *w.EndingDurationSeconds,
		},
		Ledger: ledger.Config{
			MinStake: w.MinStake,
			MaxStake: w.MaxStake,
			Odds: domain.OddsConfig{
				PayoutFraction: decimal.NewFromFloat(w.PayoutFraction),
				Floor:          decimal.NewFromFloat(w.OddsFloor),
				Ceiling:        decimal.NewFromFloat(w.OddsCeiling),
				NeutralOdds:    decimal.NewFromFloat(w.NeutralOdds),
				NoBackersOdds:  decimal.NewFromFloat(w.NoBackersOdds),
				Precision:      w.OddsPrecision,
			},
			PayoutScale: w.PayoutScale,
		},
		WalletTimeout: ms(w.WalletTimeoutMS),
		FeedTimeout:   ms(w.FeedTimeoutMS),
	}
}

// TickInterval devuelve el intervalo del clock como time.Duration.
func (c *Config) TickInterval() time.Duration {
	return ms(c.Clock.IntervalMS)
}

func intPtr(n int) *int {
	return &n
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("WALLET_BASE_URL"); v != "" {
		cfg.Wallet.BaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.ScoreFeed.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.ScoreFeed.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	w := &cfg.Wagering
	if w.MinStake <= 0 {
		w.MinStake = 10
	}
	if w.MaxStake <= 0 {
		w.MaxStake = 10_000
	}
	if w.PayoutFraction <= 0 {
		w.PayoutFraction = 0.90 // fee de la casa 10%
	}
	if w.OddsFloor <= 0 {
		w.OddsFloor = 1.1
	}
	if w.OddsCeiling <= 0 {
		w.OddsCeiling = 5.0
	}
	if w.NeutralOdds <= 0 {
		w.NeutralOdds = 2.0
	}
	if w.NoBackersOdds <= 0 {
		w.NoBackersOdds = 3.0
	}
	if w.OddsPrecision <= 0 {
		w.OddsPrecision = 2
	}
	if w.LockThresholdSeconds == nil {
		w.LockThresholdSeconds = intPtr(30)
	}
	if w.EndingDurationSeconds == nil {
		w.EndingDurationSeconds = intPtr(3)
	}
	if w.WalletTimeoutMS <= 0 {
		w.WalletTimeoutMS = 3_000
	}
	if w.FeedTimeoutMS <= 0 {
		w.FeedTimeoutMS = 500
	}
	if cfg.Wallet.TimeoutMS <= 0 {
		cfg.Wallet.TimeoutMS = 2_000
	}
	if cfg.Wallet.RatePerSec <= 0 {
		cfg.Wallet.RatePerSec = 50
	}
	if cfg.Wallet.Burst <= 0 {
		cfg.Wallet.Burst = 10
	}
	if cfg.ScoreFeed.Prefix == "" {
		cfg.ScoreFeed.Prefix = "battle:scores"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "battle-events"
	}
	if cfg.Kafka.WriteTimeoutMS <= 0 {
		cfg.Kafka.WriteTimeoutMS = 5_000
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.Mode == "" {
		cfg.HTTP.Mode = "release"
	}
	if cfg.HTTP.ShutdownTimeoutMS <= 0 {
		cfg.HTTP.ShutdownTimeoutMS = 5_000
	}
	if cfg.Clock.IntervalMS <= 0 {
		cfg.Clock.IntervalMS = 1_000
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "battlewager.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	w := c.Wagering
	if w.MinStake > w.MaxStake {
		return fmt.Errorf("wagering: min_stake %d > max_stake %d", w.MinStake, w.MaxStake)
	}
	if w.OddsFloor > w.OddsCeiling {
		return fmt.Errorf("wagering: odds_floor %.2f > odds_ceiling %.2f", w.OddsFloor, w.OddsCeiling)
	}
	if *w.LockThresholdSeconds < 0 || *w.EndingDurationSeconds < 0 {
		return fmt.Errorf("wagering: lock_threshold_seconds and ending_duration_seconds must be >= 0")
	}
	if w.PayoutFraction > 1 {
		return fmt.Errorf("wagering: payout_fraction %.2f > 1", w.PayoutFraction)
	}
	return nil
}
