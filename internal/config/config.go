package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Alert       AlertConfig       `yaml:"alert"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Snapshot    SnapshotConfig    `yaml:"snapshot"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Store       StoreConfig       `yaml:"store"`
	Webex       WebexConfig       `yaml:"webex"`
	Guard       GuardConfig       `yaml:"guard"`
	Events      EventsConfig      `yaml:"events"`
	Log         LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// CardActionLimit throttles /card_action per client IP. Needs Redis.
	CardActionLimit RateLimitConfig `yaml:"card_action_limit"`
}

type RateLimitConfig struct {
	Rate   int           `yaml:"rate"`
	Window time.Duration `yaml:"window"`
}

type AlertConfig struct {
	SharedSecret string `yaml:"shared_secret"`
	AlertType    string `yaml:"alert_type"`
}

type PipelineConfig struct {
	SettleDelay time.Duration `yaml:"settle_delay"`
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
	Labels      []string      `yaml:"labels"`
	DedupWindow time.Duration `yaml:"dedup_window"`
}

type SnapshotConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Polls     int           `yaml:"polls"`
	PollDelay time.Duration `yaml:"poll_delay"`
	Timeout   time.Duration `yaml:"timeout"`
	// StaticURL bypasses the camera entirely.
	StaticURL string `yaml:"static_url"`
}

type RecognitionConfig struct {
	Provider        string `yaml:"provider"` // vision | gemini
	CredentialsFile string `yaml:"credentials_file"`
	GeminiAPIKey    string `yaml:"gemini_api_key"`
	GeminiModel     string `yaml:"gemini_model"`
}

type StoreConfig struct {
	Driver         string        `yaml:"driver"` // postgres | rest
	DatabaseURL    string        `yaml:"database_url"`
	BaseURL        string        `yaml:"base_url"`
	QueryStyle     string        `yaml:"query_style"`
	OrdersPath     string        `yaml:"orders_path"`
	DetectionsPath string        `yaml:"detections_path"`
	Timeout        time.Duration `yaml:"timeout"`
	ManualURL      string        `yaml:"manual_url"`
}

type WebexConfig struct {
	BaseURL        string `yaml:"base_url"`
	Token          string `yaml:"token"`
	RoomID         string `yaml:"room_id"`
	Format         string `yaml:"format"` // card | markdown
	CardSigningKey string `yaml:"card_signing_key"`
	WebhookSecret  string `yaml:"webhook_secret"`
}

type GuardConfig struct {
	Backend   string        `yaml:"backend"` // local | redis
	RedisAddr string        `yaml:"redis_addr"`
	Key       string        `yaml:"key"`
	TTLMargin time.Duration `yaml:"ttl_margin"`
}

type EventsConfig struct {
	NATSURL    string `yaml:"nats_url"`
	Subject    string `yaml:"subject"`
	MaxRetries int    `yaml:"max_retries"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default mirrors config/default.yaml so the service starts without a file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            5000,
			ReadTimeout:     10 * time.Second,
			RequestTimeout:  3 * time.Minute,
			CardActionLimit: RateLimitConfig{Rate: 30, Window: time.Minute},
		},
		Alert:  AlertConfig{AlertType: "motion_alert"},
		Pipeline: PipelineConfig{
			SettleDelay: 10 * time.Second,
			Interval:    4 * time.Second,
			MaxAttempts: 3,
			Labels:      []string{"Vehicle", "Vehicle registration plate", "Car"},
			DedupWindow: 10 * time.Minute,
		},
		Snapshot: SnapshotConfig{
			BaseURL:   "https://api.meraki.com/api/v1",
			Polls:     5,
			PollDelay: 3 * time.Second,
			Timeout:   15 * time.Second,
		},
		Recognition: RecognitionConfig{Provider: "vision", GeminiModel: "gemini-2.5-flash"},
		Store: StoreConfig{
			Driver:         "postgres",
			QueryStyle:     "standard",
			OrdersPath:     "orders",
			DetectionsPath: "detections",
			Timeout:        10 * time.Second,
		},
		Webex:  WebexConfig{BaseURL: "https://webexapis.com/v1", Format: "card"},
		Guard:  GuardConfig{Backend: "local", Key: "curbside:pipeline:lease", TTLMargin: 30 * time.Second},
		Events: EventsConfig{Subject: "curbside.runs", MaxRetries: 3},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads .env (if present), the YAML file (if present) and env overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Alert.SharedSecret, "MV_SHARED_KEY")
	setString(&cfg.Snapshot.APIKey, "MV_API_KEY")
	setString(&cfg.Webex.Token, "WEBEX_TOKEN")
	setString(&cfg.Webex.RoomID, "WEBEX_ROOM_ID")
	setString(&cfg.Webex.CardSigningKey, "CARD_SIGNING_KEY")
	setString(&cfg.Webex.WebhookSecret, "WEBEX_WEBHOOK_SECRET")
	setString(&cfg.Store.DatabaseURL, "DATABASE_URL")
	setString(&cfg.Guard.RedisAddr, "REDIS_ADDR")
	setString(&cfg.Events.NATSURL, "NATS_URL")
	setString(&cfg.Recognition.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&cfg.Recognition.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")

	// The original deployment pointed DB_HOST at a JSON server
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Store.BaseURL = host
		if cfg.Store.DatabaseURL == "" {
			cfg.Store.Driver = "rest"
		}
	}
	if p, err := strconv.Atoi(os.Getenv("PORT")); err == nil && p > 0 {
		cfg.Server.Port = p
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Pipeline.MaxAttempts <= 0 {
		errs = append(errs, errors.New("pipeline.max_attempts must be positive"))
	}
	if c.Pipeline.SettleDelay < 0 || c.Pipeline.Interval < 0 {
		errs = append(errs, errors.New("pipeline delays must not be negative"))
	}
	if len(c.Pipeline.Labels) == 0 {
		errs = append(errs, errors.New("pipeline.labels must not be empty"))
	}
	if c.Snapshot.Polls <= 0 {
		errs = append(errs, errors.New("snapshot.polls must be positive"))
	}
	if c.Server.CardActionLimit.Rate < 0 || c.Server.CardActionLimit.Window < 0 {
		errs = append(errs, errors.New("server.card_action_limit must not be negative"))
	}
	switch c.Store.Driver {
	case "postgres", "rest":
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not supported", c.Store.Driver))
	}
	switch c.Webex.Format {
	case "card", "markdown":
	default:
		errs = append(errs, fmt.Errorf("webex.format %q is not supported", c.Webex.Format))
	}
	switch c.Guard.Backend {
	case "local", "redis":
	default:
		errs = append(errs, fmt.Errorf("guard.backend %q is not supported", c.Guard.Backend))
	}
	return errors.Join(errs...)
}

// WorstCaseRun is settle + attempts × (polls × pollDelay + interval).
func (c *Config) WorstCaseRun() time.Duration {
	perAttempt := time.Duration(c.Snapshot.Polls)*c.Snapshot.PollDelay + c.Pipeline.Interval
	return c.Pipeline.SettleDelay + time.Duration(c.Pipeline.MaxAttempts)*perAttempt
}

// LeaseTTL adds provider call timeouts to WorstCaseRun: per attempt one generate,
// every probe, classify and recognize, plus the notification.
func (c *Config) LeaseTTL() time.Duration {
	call := max(c.Snapshot.Timeout, c.Store.Timeout)
	perAttempt := time.Duration(c.Snapshot.Polls+3) * call
	return c.WorstCaseRun() + time.Duration(c.Pipeline.MaxAttempts)*perAttempt + call + c.Guard.TTLMargin
}

// Holder publishes the current config to readers that snapshot it per run.
type Holder struct {
	cur atomic.Pointer[Config]
}

func NewHolder(cfg *Config) *Holder {
	h := &Holder{}
	h.cur.Store(cfg)
	return h
}

func (h *Holder) Load() *Config { return h.cur.Load() }

func (h *Holder) Store(cfg *Config) { h.cur.Store(cfg) }
