package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that points at the YAML file.
const EnvConfigPath = "QMT_BRIDGE_CONFIG"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the gateway.
type Config struct {
	QMT     QMT           `yaml:"qmt"`
	Server  Server        `yaml:"server"`
	Logging Logging       `yaml:"logging"`
	Polling Polling       `yaml:"polling"`
	Catalog CatalogConfig `yaml:"catalog"`
	Trading TradingConfig `yaml:"trading"`
}

// QMT identifies the trading account and where the terminal keeps its files.
type QMT struct {
	Account   string `yaml:"account"`
	Path      string `yaml:"path"`       // mini terminal userdata directory
	SessionID string `yaml:"session_id"` // prefix for file-order notes; random when empty
	ExportDir string `yaml:"export_dir"` // directory of the file-exchange DBF tables
	Gateway   string `yaml:"gateway"`
	Strategy  string `yaml:"strategy"`
}

// Server holds network listener configuration.
type Server struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	GRPCPort       int      `yaml:"grpc_port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Polling controls the periodic backend re-queries.
type Polling struct {
	Interval        time.Duration `yaml:"interval"`
	FullEvery       int           `yaml:"full_every"`
	MarketHoursOnly bool          `yaml:"market_hours_only"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
}

// CatalogConfig locates the contract and basket catalog.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// TradingConfig defines risk and execution parameters.
type TradingConfig struct {
	PaperMode        bool    `yaml:"paper_mode"`
	MaxOrderVolume   int64   `yaml:"max_order_volume"`
	MaxOrderNotional float64 `yaml:"max_order_notional"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		QMT: QMT{Gateway: "QMT"},
		Server: Server{
			Host:           "127.0.0.1",
			Port:           8080,
			GRPCPort:       9090,
			AllowedOrigins: []string{"*"},
		},
		Logging: Logging{Level: "info", Format: "json"},
		Polling: Polling{
			Interval:        time.Second,
			FullEvery:       21,
			RateLimitPerMin: 600,
		},
		Trading: TradingConfig{PaperMode: true},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load starts from Default, overlays the YAML file at path (skipped when path
// is empty) and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from a .env file into the process environment
// without replacing ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Validate reports settings the gateway cannot run with.
func (c *Config) Validate() error {
	if !c.Trading.PaperMode && c.QMT.Account == "" {
		return errors.New("qmt.account is required outside paper mode")
	}
	if c.Polling.FullEvery < 1 {
		return fmt.Errorf("polling.full_every must be at least 1, got %d", c.Polling.FullEvery)
	}
	if c.Polling.Interval <= 0 {
		return fmt.Errorf("polling.interval must be positive, got %s", c.Polling.Interval)
	}
	return nil
}

// FileDir returns the directory used for file-exchange tables: ExportDir
// when set, otherwise the "export" directory under Path, otherwise
// "export" relative to the working directory.
func (q QMT) FileDir() string {
	switch {
	case q.ExportDir != "":
		return q.ExportDir
	case q.Path != "":
		return filepath.Join(q.Path, "export")
	default:
		return "export"
	}
}

// Addr returns the HTTP listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GRPCAddr returns the gRPC listen address.
func (s Server) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort)
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("QMT_ACCOUNT"); v != "" {
		cfg.QMT.Account = v
	}
	if v := os.Getenv("QMT_PATH"); v != "" {
		cfg.QMT.Path = v
	}
	if v := os.Getenv("QMT_EXPORT_DIR"); v != "" {
		cfg.QMT.ExportDir = v
	}
	if v := os.Getenv("QMT_SESSION_ID"); v != "" {
		cfg.QMT.SessionID = v
	}
	if v := os.Getenv("QMT_PAPER_MODE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("QMT_PAPER_MODE: %w", err)
		}
		cfg.Trading.PaperMode = b
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}
