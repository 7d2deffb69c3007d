package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type HTTP struct {
	Addr            string `yaml:"addr"`
	RequestTimeout  string `yaml:"requestTimeout"`  // 60s
	ShutdownTimeout string `yaml:"shutdownTimeout"` // 15s

	RequestTimeoutDur  time.Duration `yaml:"-"`
	ShutdownTimeoutDur time.Duration `yaml:"-"`
}

type WS struct {
	PingEvery string `yaml:"pingEvery"` // 15s
	WriteWait string `yaml:"writeWait"` // 5s
	SendQueue int    `yaml:"sendQueue"`
	ReadLimit int64  `yaml:"readLimit"`

	PingEveryDur time.Duration `yaml:"-"`
	WriteWaitDur time.Duration `yaml:"-"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod
	Service   string `yaml:"service"`   // coderoom
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	Level     string `yaml:"level"`     // debug|info|warn|error
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

type Postgres struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
	MinConns int32  `yaml:"minConns"`
	Migrate  bool   `yaml:"migrate"`
}

// Redis is optional; an empty addr disables the cache and the limiter.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	RoomTTL  string `yaml:"roomTTL"` // 5m

	RoomTTLDur time.Duration `yaml:"-"`
}

type Judge struct {
	Transport string `yaml:"transport"` // http|grpc
	Target    string `yaml:"target"`    // http://judge:8000 or judge:9090
	Timeout   string `yaml:"timeout"`   // 30s

	TimeoutDur time.Duration `yaml:"-"`
}

type RateLimit struct {
	Limit  int    `yaml:"limit"`  // judge calls per window, 0 disables
	Window string `yaml:"window"` // 1m

	WindowDur time.Duration `yaml:"-"`
}

type Rooms struct {
	Languages       []string  `yaml:"languages"`
	DefaultLanguage string    `yaml:"defaultLanguage"`
	IdleTTL         string    `yaml:"idleTTL"`    // 10m
	SweepEvery      string    `yaml:"sweepEvery"` // 1m
	InboxSize       int       `yaml:"inboxSize"`
	RateLimit       RateLimit `yaml:"rateLimit"`

	IdleTTLDur    time.Duration `yaml:"-"`
	SweepEveryDur time.Duration `yaml:"-"`
}

type CORS struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	WS       WS       `yaml:"ws"`
	Logging  Logging  `yaml:"logging"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Judge    Judge    `yaml:"judge"`
	Rooms    Rooms    `yaml:"rooms"`
	CORS     CORS     `yaml:"cors"`
}

func LoadConfig() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if c.Judge.Target == "" {
		return errors.New("judge.target is required")
	}

	c.Judge.Transport = strings.ToLower(strings.TrimSpace(c.Judge.Transport))
	switch c.Judge.Transport {
	case "":
		c.Judge.Transport = "http"
	case "http", "grpc":
	default:
		return fmt.Errorf("judge.transport %q: want http or grpc", c.Judge.Transport)
	}

	if c.Logging.Service == "" {
		c.Logging.Service = "coderoom"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}

	if len(c.Rooms.Languages) == 0 {
		c.Rooms.Languages = []string{"javascript", "python", "java", "cpp"}
	}
	if c.Rooms.DefaultLanguage == "" {
		c.Rooms.DefaultLanguage = c.Rooms.Languages[0]
	}
	if !contains(c.Rooms.Languages, c.Rooms.DefaultLanguage) {
		return fmt.Errorf("rooms.defaultLanguage %q is not in rooms.languages", c.Rooms.DefaultLanguage)
	}

	c.HTTP.RequestTimeoutDur = parseDurationOr(60*time.Second, c.HTTP.RequestTimeout)
	c.HTTP.ShutdownTimeoutDur = parseDurationOr(15*time.Second, c.HTTP.ShutdownTimeout)
	c.WS.PingEveryDur = parseDurationOr(15*time.Second, c.WS.PingEvery)
	c.WS.WriteWaitDur = parseDurationOr(5*time.Second, c.WS.WriteWait)
	c.Redis.RoomTTLDur = parseDurationOr(5*time.Minute, c.Redis.RoomTTL)
	c.Judge.TimeoutDur = parseDurationOr(30*time.Second, c.Judge.Timeout)
	c.Rooms.IdleTTLDur = parseDurationOr(10*time.Minute, c.Rooms.IdleTTL)
	c.Rooms.SweepEveryDur = parseDurationOr(time.Minute, c.Rooms.SweepEvery)
	c.Rooms.RateLimit.WindowDur = parseDurationOr(time.Minute, c.Rooms.RateLimit.Window)
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// parseDurationOr returns def for empty, malformed or non-positive values.
func parseDurationOr(def time.Duration, s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}
