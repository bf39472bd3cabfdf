package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const DefaultBaseURL = "http://lacrossealertsmobile.com/v1.2/"

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	LacrosseCfg LacrosseConfig `envPrefix:"LACROSSE_"`
	MqttCfg     MqttConfig     `envPrefix:"MQTT_"`
	DatabaseCfg DatabaseConfig
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8000"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"INFO"`
}

type LacrosseConfig struct {
	BaseURL            string        `env:"BASE_URL" envDefault:"http://lacrossealertsmobile.com/v1.2/"`
	Username           string        `env:"USERNAME,required"`
	Password           string        `env:"PASSWORD,required"`
	InsecureSkipVerify bool          `env:"INSECURE_SKIP_VERIFY" envDefault:"false"`
	CacheTTL           time.Duration `env:"CACHE_TTL" envDefault:"30s"`
	NoResponse         time.Duration `env:"NO_RESPONSE" envDefault:"30m"`
	MaxLoginAttempts   int           `env:"MAX_LOGIN_ATTEMPTS" envDefault:"3"`
	HTTPTimeout        time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	PollInterval       time.Duration `env:"POLL_INTERVAL" envDefault:"60s"`
}

type MqttConfig struct {
	Host     string `env:"HOST"`
	Username string `env:"USER"`
	Password string `env:"PASS"`
	ClientID string `env:"CLIENT_ID" envDefault:"lacrosse-integration"`
}

func (m MqttConfig) Enabled() bool {
	return m.Host != ""
}

type DatabaseConfig struct {
	URL       string        `env:"DATABASE_URL"`
	Retention time.Duration `env:"HISTORY_RETENTION" envDefault:"192h"`
}

func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// Load reads the optional env file, then the environment.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, err
		}
	}
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates the config and fills in derived values.
func (c *Config) Normalize() error {
	lc := &c.LacrosseCfg
	if lc.BaseURL == "" {
		lc.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(lc.BaseURL, "/") {
		lc.BaseURL += "/"
	}
	u, err := url.Parse(lc.BaseURL)
	if err != nil {
		return fmt.Errorf("%w: base url: %w", ErrInvalidConfig, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: base url %q must be absolute", ErrInvalidConfig, lc.BaseURL)
	}
	if lc.CacheTTL < 0 || lc.NoResponse < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	if lc.MaxLoginAttempts < 1 {
		lc.MaxLoginAttempts = 1
	}
	if lc.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	}
	return nil
}
