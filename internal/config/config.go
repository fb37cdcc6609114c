package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for passdeck.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Listen  ListenConfig  `yaml:"listen"`
	Session SessionConfig `yaml:"session"`
	Storage StorageConfig `yaml:"storage"`
	Views   ViewsConfig   `yaml:"views"`
	Log     LogConfig     `yaml:"log"`
}

// APIConfig points at the fleet control plane.
type APIConfig struct {
	BaseURL            string        `yaml:"base_url"`
	APIKey             string        `yaml:"api_key"`
	Timeout            time.Duration `yaml:"timeout"`
	RateLimit          float64       `yaml:"rate_limit"`
	Burst              int           `yaml:"burst"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// ListenConfig defines where the console gateway listens.
type ListenConfig struct {
	Bind   string `yaml:"bind"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

// Addr returns the host:port the gateway binds to.
func (lc ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", lc.Bind, lc.Port)
}

// SessionConfig tunes session revalidation.
type SessionConfig struct {
	RevalidateInterval time.Duration `yaml:"revalidate_interval"`
	LoginPath          string        `yaml:"login_path"`
}

// StorageConfig selects where session and preference state is kept.
type StorageConfig struct {
	Driver    string `yaml:"driver"`
	Path      string `yaml:"path"`
	RedisURL  string `yaml:"redis_url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// ViewsConfig holds list view defaults and background refresh settings.
type ViewsConfig struct {
	DefaultPageSize  int           `yaml:"default_page_size"`
	RefreshInterval  time.Duration `yaml:"refresh_interval"`
	FailureThreshold int           `yaml:"failure_threshold"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// SlogLevel maps the configured level to a slog.Level.
func (lc LogConfig) SlogLevel() slog.Level {
	switch lc.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Redacted returns a copy of the Config with secrets masked.
func (c Config) Redacted() Config {
	out := c
	if out.API.APIKey != "" {
		out.API.APIKey = "***REDACTED***"
	}
	if out.Listen.APIKey != "" {
		out.Listen.APIKey = "***REDACTED***"
	}
	if out.Storage.RedisURL != "" {
		if u, err := url.Parse(out.Storage.RedisURL); err == nil && u.User != nil {
			u.User = url.User("***REDACTED***")
			out.Storage.RedisURL = u.String()
		}
	}
	return out
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "http://127.0.0.1:3000"
	}
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = 30 * time.Second
	}
	if cfg.API.Burst == 0 {
		cfg.API.Burst = 5
	}
	if cfg.Listen.Bind == "" {
		cfg.Listen.Bind = "127.0.0.1"
	}
	if cfg.Listen.Port == 0 {
		cfg.Listen.Port = 8080
	}
	if cfg.Session.RevalidateInterval == 0 {
		cfg.Session.RevalidateInterval = 30 * time.Second
	}
	if cfg.Session.LoginPath == "" {
		cfg.Session.LoginPath = "/login"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Storage.KeyPrefix == "" {
		cfg.Storage.KeyPrefix = "passdeck:"
	}
	if cfg.Views.DefaultPageSize == 0 {
		cfg.Views.DefaultPageSize = 10
	}
	if cfg.Views.RefreshInterval == 0 {
		cfg.Views.RefreshInterval = 15 * time.Second
	}
	if cfg.Views.FailureThreshold == 0 {
		cfg.Views.FailureThreshold = 3
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func validate(cfg *Config) error {
	u, err := url.Parse(cfg.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api: base_url %q must be an http(s) URL", cfg.API.BaseURL)
	}
	if cfg.API.RateLimit < 0 {
		return fmt.Errorf("api: rate_limit must not be negative")
	}
	if cfg.Listen.Port < 1 || cfg.Listen.Port > 65535 {
		return fmt.Errorf("listen: port %d out of range", cfg.Listen.Port)
	}
	switch cfg.Storage.Driver {
	case "memory":
	case "file":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage: path is required for the file driver")
		}
	case "redis":
		if cfg.Storage.RedisURL == "" {
			return fmt.Errorf("storage: redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("storage: unsupported driver %q (must be memory, file or redis)", cfg.Storage.Driver)
	}
	if cfg.Views.DefaultPageSize < 1 {
		return fmt.Errorf("views: default_page_size must be positive")
	}
	if cfg.Views.RefreshInterval < time.Second {
		return fmt.Errorf("views: refresh_interval must be at least 1s")
	}
	if cfg.Views.FailureThreshold < 1 {
		return fmt.Errorf("views: failure_threshold must be positive")
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unsupported level %q", cfg.Log.Level)
	}
	return nil
}

// Watcher watches a config file for changes and calls the callback with the new config.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	// Debounce timer to avoid rapid reloads
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					cw.reload()
				})
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "err", err)
		case <-cw.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		slog.Error("config hot-reload failed", "path", cw.path, "err", err)
		return
	}

	slog.Info("configuration reloaded", "path", cw.path)
	cw.callback(cfg)
}

// Stop stops the config watcher. Safe to call multiple times.
func (cw *Watcher) Stop() error {
	var err error
	cw.stopOnce.Do(func() {
		close(cw.stopCh)
		err = cw.watcher.Close()
	})
	return err
}
