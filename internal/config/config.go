// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/suman-kim/auto-trade-server-sub000/internal/strategy"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json or console
}

// KIS describes the broker endpoints.
type KIS struct {
	RestURL     string        `yaml:"rest_url"`
	WSURL       string        `yaml:"ws_url"`
	ApprovalTTL time.Duration `yaml:"approval_ttl"`
}

// Instrument declares one tradable symbol and its feed codes. Missing codes are derived from exchange and symbol.
type Instrument struct {
	Symbol    string `yaml:"symbol"`
	Exchange  string `yaml:"exchange"`
	DayCode   string `yaml:"day_code"`
	NightCode string `yaml:"night_code"`
}

// Feed modes.
const (
	FeedStream = "stream"
	FeedPoll   = "poll"
)

// Feed configures market data ingestion.
type Feed struct {
	Mode                  string        `yaml:"mode"` // stream or poll
	Instruments           []Instrument  `yaml:"instruments"`
	TrIDs                 []string      `yaml:"tr_ids"`
	BaseReconnectInterval time.Duration `yaml:"base_reconnect_interval"`
	MaxReconnectAttempts  int           `yaml:"max_reconnect_attempts"`
	HeartbeatInterval     time.Duration `yaml:"heartbeat_interval"`
	ReadTimeout           time.Duration `yaml:"read_timeout"`
	PollInterval          time.Duration `yaml:"poll_interval"`
	HistorySize           int           `yaml:"history_size"`
}

// Engine tunes the dispatcher.
type Engine struct {
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`
	EventBuffer      int           `yaml:"event_buffer"`
}

// Store selects the repository backend.
type Store struct {
	Driver      string `yaml:"driver"` // memory or postgres
	JournalPath string `yaml:"journal_path"`
}

// Notify selects where generated signals are forwarded.
type Notify struct {
	Driver         string        `yaml:"driver"` // none, nats, kafka or a comma separated list such as nats,kafka
	Subject        string        `yaml:"subject"`
	Topic          string        `yaml:"topic"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// Drivers splits Driver into its targets; "none" and empty yield nothing.
func (n Notify) Drivers() []string {
	var out []string
	for _, d := range strings.Split(n.Driver, ",") {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" || d == "none" {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Risk encodes guard-rails for how much size the executor may take on.
type Risk struct {
	MaxNotionalPerTrade float64 `yaml:"max_notional_per_trade"`
	MaxPositionSize     float64 `yaml:"max_position_size"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App        App                 `yaml:"app"`
	KIS        KIS                 `yaml:"kis"`
	Feed       Feed                `yaml:"feed"`
	Engine     Engine              `yaml:"engine"`
	Store      Store               `yaml:"store"`
	Notify     Notify              `yaml:"notify"`
	Risk       Risk                `yaml:"risk"`
	Strategies []strategy.Strategy `yaml:"strategies"`
}

// Load reads a YAML file from disk, hydrates a Config struct and fills defaults.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.ApplyDefaults()
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "autotrade"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.LogFormat == "" {
		c.App.LogFormat = "json"
	}
	if c.KIS.ApprovalTTL == 0 {
		c.KIS.ApprovalTTL = 12 * time.Hour
	}
	if c.Feed.Mode == "" {
		c.Feed.Mode = FeedStream
	}
	if len(c.Feed.TrIDs) == 0 {
		c.Feed.TrIDs = []string{"HDFSCNT0"}
	}
	if c.Feed.BaseReconnectInterval == 0 {
		c.Feed.BaseReconnectInterval = 5 * time.Second
	}
	if c.Feed.MaxReconnectAttempts == 0 {
		c.Feed.MaxReconnectAttempts = 5
	}
	if c.Feed.HeartbeatInterval == 0 {
		c.Feed.HeartbeatInterval = 30 * time.Second
	}
	if c.Feed.PollInterval == 0 {
		c.Feed.PollInterval = 10 * time.Second
	}
	if c.Feed.HistorySize == 0 {
		c.Feed.HistorySize = 200
	}
	if c.Engine.ExecutionTimeout == 0 {
		c.Engine.ExecutionTimeout = 10 * time.Second
	}
	if c.Engine.EventBuffer == 0 {
		c.Engine.EventBuffer = 256
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Notify.Driver == "" {
		c.Notify.Driver = "none"
	}
	if c.Notify.PublishTimeout == 0 {
		c.Notify.PublishTimeout = 5 * time.Second
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Feed.Mode {
	case FeedStream, FeedPoll:
	default:
		errs = append(errs, fmt.Errorf("feed.mode %q: want stream or poll", c.Feed.Mode))
	}
	if len(c.Feed.Instruments) == 0 {
		errs = append(errs, errors.New("feed.instruments: at least one instrument is required"))
	}
	for i, inst := range c.Feed.Instruments {
		if strings.TrimSpace(inst.Symbol) == "" {
			errs = append(errs, fmt.Errorf("feed.instruments[%d]: symbol is required", i))
		}
	}
	if c.Feed.MaxReconnectAttempts <= 0 {
		errs = append(errs, errors.New("feed.max_reconnect_attempts must be positive"))
	}
	if c.Feed.BaseReconnectInterval <= 0 || c.Feed.HeartbeatInterval <= 0 || c.Feed.PollInterval <= 0 {
		errs = append(errs, errors.New("feed intervals must be positive"))
	}
	if c.Engine.ExecutionTimeout <= 0 {
		errs = append(errs, errors.New("engine.execution_timeout must be positive"))
	}
	switch c.Store.Driver {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Errorf("store.driver %q: want memory or postgres", c.Store.Driver))
	}
	for _, d := range c.Notify.Drivers() {
		switch d {
		case "nats":
		case "kafka":
			if c.Notify.Topic == "" {
				errs = append(errs, errors.New("notify.topic is required for kafka"))
			}
		default:
			errs = append(errs, fmt.Errorf("notify.driver %q: want none, nats or kafka", d))
		}
	}
	return errors.Join(errs...)
}

// Secrets are read from the environment, never from the YAML file.
type Secrets struct {
	AppKey       string   `env:"KIS_APP_KEY"`
	AppSecret    string   `env:"KIS_APP_SECRET"`
	DatabaseURL  string   `env:"DATABASE_URL"`
	NATSURL      string   `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
}

// LoadSecrets loads .env files best-effort and parses the environment.
func LoadSecrets(files ...string) (Secrets, error) {
	_ = godotenv.Load(files...) // best-effort
	var s Secrets
	if err := env.Parse(&s); err != nil {
		return Secrets{}, fmt.Errorf("parse env: %w", err)
	}
	return s, nil
}
