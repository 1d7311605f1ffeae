// Package config loads the client configuration from a TOML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

var (
	ErrConfParamMissing = fmt.Errorf("configuration parameter missing")
	ErrConfParamInvalid = fmt.Errorf("configuration parameter invalid")
)

const (
	PushMemory = "memory"
	PushKafka  = "kafka"

	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

type Config struct {
	APIURL      string   `toml:"apiURL"`
	Timeout     Duration `toml:"timeout"`
	LogLevel    string   `toml:"logLevel"`
	ServiceName string   `toml:"serviceName"`

	Push    Push    `toml:"push"`
	Session Session `toml:"session"`
	Cache   Cache   `toml:"cache"`
	Logs    Logs    `toml:"logs"`
	Render  Render  `toml:"render"`
}

type Push struct {
	Transport    string   `toml:"transport"`
	KafkaBrokers []string `toml:"kafkaBrokers"`
	KafkaTopic   string   `toml:"kafkaTopic"`

	// PollInterval refetches a watched discussion while push is in memory, which never carries
	// events between processes. Zero disables polling.
	PollInterval Duration `toml:"pollInterval"`
}

type Session struct {
	Store    string   `toml:"store"`
	Path     string   `toml:"path"`
	RedisURL string   `toml:"redisURL"`
	TTL      Duration `toml:"ttl"`
}

type Cache struct {
	MemcacheServers []string `toml:"memcacheServers"`
	TTL             Duration `toml:"ttl"`
}

// Logs configures shipping of request logs to Kafka; an empty broker list disables it.
type Logs struct {
	KafkaBrokers []string `toml:"kafkaBrokers"`
	KafkaTopic   string   `toml:"kafkaTopic"`
}

type Render struct {
	MaxDepth int `toml:"maxDepth"`
}

// Duration decodes TOML strings such as "10s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Default() Config {
	return Config{
		APIURL:      "http://localhost:5050",
		Timeout:     Duration{10 * time.Second},
		LogLevel:    "info",
		ServiceName: "seertix",
		Push:        Push{Transport: PushMemory, KafkaTopic: "seertix-comments", PollInterval: Duration{5 * time.Second}},
		Session:     Session{Store: StoreFile, Path: defaultSessionPath(), TTL: Duration{7 * 24 * time.Hour}},
		Cache:       Cache{TTL: Duration{10 * time.Minute}},
		Logs:        Logs{KafkaTopic: "logs"},
		Render:      Render{MaxDepth: 8},
	}
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "seertix-session.toml"
	}
	return filepath.Join(dir, "seertix", "session.toml")
}

// Load reads path over the defaults. A missing file is not an error when optional is true.
func Load(path string, optional bool) (Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			log.Debugf("[config] %s not found, using defaults", path)
			return cfg, nil
		}
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if keys := md.Undecoded(); len(keys) > 0 {
		log.Warnf("[config] unknown keys in %s: %v", path, keys)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("%w: apiURL", ErrConfParamMissing)
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: apiURL %q", ErrConfParamInvalid, c.APIURL)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}

	switch c.Push.Transport {
	case PushMemory:
	case PushKafka:
		if len(c.Push.KafkaBrokers) == 0 {
			return fmt.Errorf("%w: push.kafkaBrokers", ErrConfParamMissing)
		}
		if c.Push.KafkaTopic == "" {
			return fmt.Errorf("%w: push.kafkaTopic", ErrConfParamMissing)
		}
	default:
		return fmt.Errorf("%w: push.transport %q", ErrConfParamInvalid, c.Push.Transport)
	}
	if c.Push.PollInterval.Duration < 0 {
		return fmt.Errorf("%w: push.pollInterval %s", ErrConfParamInvalid, c.Push.PollInterval)
	}

	switch c.Session.Store {
	case StoreMemory:
	case StoreFile:
		if c.Session.Path == "" {
			return fmt.Errorf("%w: session.path", ErrConfParamMissing)
		}
	case StoreRedis:
		if c.Session.RedisURL == "" {
			return fmt.Errorf("%w: session.redisURL", ErrConfParamMissing)
		}
	default:
		return fmt.Errorf("%w: session.store %q", ErrConfParamInvalid, c.Session.Store)
	}

	if len(c.Logs.KafkaBrokers) > 0 && c.Logs.KafkaTopic == "" {
		return fmt.Errorf("%w: logs.kafkaTopic", ErrConfParamMissing)
	}
	if c.Render.MaxDepth < 0 {
		return fmt.Errorf("%w: render.maxDepth %d", ErrConfParamInvalid, c.Render.MaxDepth)
	}
	return nil
}

// String masks the credentials of the Redis URL.
func (c Config) String() string {
	if c.Session.RedisURL != "" {
		if u, err := url.Parse(c.Session.RedisURL); err == nil {
			c.Session.RedisURL = u.Redacted()
		} else {
			c.Session.RedisURL = strings.Repeat("*", len([]rune(c.Session.RedisURL)))
		}
	}
	return fmt.Sprintf("%+v", struct {
		APIURL   string
		LogLevel string
		Push     Push
		Session  Session
		Cache    Cache
		Logs     Logs
		Render   Render
	}{c.APIURL, c.LogLevel, c.Push, c.Session, c.Cache, c.Logs, c.Render})
}

// ParseLevel accepts the levels offered by the -log flag.
func ParseLevel(level string) (log.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return log.DebugLevel, nil
	case "info":
		return log.InfoLevel, nil
	case "warn":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	}
	return 0, fmt.Errorf("%w: log level %q", ErrConfParamInvalid, level)
}
