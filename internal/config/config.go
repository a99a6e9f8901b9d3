package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Reconnect policies for the realtime channel.
const (
	ReconnectConstant    = "constant"
	ReconnectExponential = "exponential"
)

// Config holds client settings. Values come from defaults, then an optional
// YAML file, then environment variables, in that order.
type Config struct {
	BaseURL         string        `yaml:"base_url"`
	WSURL           string        `yaml:"ws_url"`
	StateDir        string        `yaml:"state_dir"`
	ReconnectPolicy string        `yaml:"reconnect_policy"`
	ReconnectDelay  time.Duration `yaml:"reconnect_delay"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	TypingTimeout   time.Duration `yaml:"typing_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
}

// Env abstracts environment lookup so tests can inject values.
type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func Default() Config {
	return Config{
		BaseURL:         "http://localhost:8000",
		ReconnectPolicy: ReconnectConstant,
		ReconnectDelay:  3 * time.Second,
		PollInterval:    30 * time.Second,
		TypingTimeout:   3 * time.Second,
		PingInterval:    30 * time.Second,
	}
}

// Load reads the optional YAML file at path, applies environment overrides
// and validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	return LoadFromEnv(path, osEnv{})
}

func LoadFromEnv(path string, env Env) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if raw := env.Getenv("TASKFLOW_BASE_URL"); raw != "" {
		cfg.BaseURL = raw
	}
	if raw := env.Getenv("TASKFLOW_WS_URL"); raw != "" {
		cfg.WSURL = raw
	}
	if raw := env.Getenv("TASKFLOW_STATE_DIR"); raw != "" {
		cfg.StateDir = raw
	}
	if raw := env.Getenv("TASKFLOW_RECONNECT_POLICY"); raw != "" {
		cfg.ReconnectPolicy = raw
	}
	if raw := env.Getenv("TASKFLOW_RECONNECT_DELAY"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("invalid TASKFLOW_RECONNECT_DELAY")
		}
		cfg.ReconnectDelay = d
	}
	if raw := env.Getenv("TASKFLOW_POLL_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("invalid TASKFLOW_POLL_INTERVAL")
		}
		cfg.PollInterval = d
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if cfg.WSURL == "" {
		cfg.WSURL = deriveWSURL(cfg.BaseURL)
	}
	return cfg, nil
}

func (c Config) validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base_url %q", c.BaseURL)
	}
	switch c.ReconnectPolicy {
	case ReconnectConstant, ReconnectExponential:
	default:
		return fmt.Errorf("invalid reconnect_policy %q", c.ReconnectPolicy)
	}
	if c.ReconnectDelay <= 0 || c.PollInterval <= 0 || c.TypingTimeout <= 0 || c.PingInterval <= 0 {
		return fmt.Errorf("intervals must be positive")
	}
	return nil
}

// deriveWSURL maps the REST base to the websocket endpoint: the scheme flips
// to ws/wss and the path is /api/ws.
func deriveWSURL(baseURL string) string {
	ws := baseURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return strings.TrimSuffix(ws, "/") + "/api/ws"
}
