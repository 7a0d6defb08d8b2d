// Package config loads todosync settings from defaults, TOML files,
// .env, the environment and flags, in that order.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	// AppName is the config directory name.
	AppName = "todosync"

	// FileName is the TOML file looked up in the user and project dirs.
	FileName = "todosync.toml"

	DefaultBaseURL           = "http://localhost:5000"
	DefaultCSRFCookie        = "csrftoken"
	DefaultCSRFHeader        = "X-CSRFToken"
	DefaultTimeoutSeconds    = 10
	DefaultRequestsPerSecond = 10.0
	DefaultBurst             = 5
	DefaultLogLevel          = "warn"
	DefaultTheme             = "classic"
)

// Config holds every setting the CLI and TUI read.
type Config struct {
	BaseURL string `toml:"base_url"`
	UserID  string `toml:"user_id"`
	ListID  string `toml:"list_id"`

	CSRFCookie string `toml:"csrf_cookie"`
	CSRFHeader string `toml:"csrf_header"`

	TimeoutSeconds    int     `toml:"timeout_seconds"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`

	// GuardStaleWrites sends If-Match with the fetched ETag so a concurrent
	// edit fails the write instead of being overwritten.
	GuardStaleWrites bool `toml:"guard_stale_writes"`

	LogLevel    string `toml:"log_level"`
	LogFile     string `toml:"log_file"`
	Theme       string `toml:"theme"`
	SessionFile string `toml:"session_file"`

	// Group splits `ls` output into pending and done. Flag only.
	Group bool `toml:"-"`
}

// Timeout returns the per-request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Base returns the parsed base URL. Load has already validated it.
func (c *Config) Base() *url.URL {
	u, _ := url.Parse(c.BaseURL)
	return u
}

// Defaults returns a Config with every default applied.
func Defaults() *Config {
	return &Config{
		BaseURL:           DefaultBaseURL,
		CSRFCookie:        DefaultCSRFCookie,
		CSRFHeader:        DefaultCSRFHeader,
		TimeoutSeconds:    DefaultTimeoutSeconds,
		RequestsPerSecond: DefaultRequestsPerSecond,
		Burst:             DefaultBurst,
		LogLevel:          DefaultLogLevel,
		Theme:             DefaultTheme,
		SessionFile:       filepath.Join(homeDir(), "."+AppName, "cookies.json"),
	}
}

// Load resolves the configuration and returns the positional args left
// after flag parsing.
//  1. Defaults
//  2. User config file ($XDG_CONFIG_HOME/todosync/todosync.toml)
//  3. Project config file (./todosync.toml), or -config
//  4. .env in the working directory (never overrides the environment)
//  5. Environment variables (TODOSYNC_*)
//  6. Flags
func Load(fs *flag.FlagSet, args []string) (*Config, []string, error) {
	cfg := Defaults()
	f := registerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	if p := userConfigFile(); p != "" {
		if err := loadFile(cfg, p); err != nil {
			return nil, nil, fmt.Errorf("loading user config file %s: %w", p, err)
		}
	}
	project := *f.configPath
	if project == "" {
		project = existing(FileName)
	}
	if project != "" {
		if err := loadFile(cfg, project); err != nil {
			return nil, nil, fmt.Errorf("loading project config file %s: %w", project, err)
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := loadFromEnv(cfg); err != nil {
		return nil, nil, err
	}

	applyFlags(cfg, fs, f)

	if err := finalize(cfg); err != nil {
		return nil, nil, err
	}
	return cfg, fs.Args(), nil
}

type flagValues struct {
	configPath *string
	baseURL    *string
	userID     *string
	listID     *string
	timeout    *int
	guard      *bool
	logLevel   *string
	logFile    *string
	theme      *string
	group      *bool
}

func registerFlags(fs *flag.FlagSet) flagValues {
	return flagValues{
		configPath: fs.String("config", "", "path to a todosync.toml"),
		baseURL:    fs.String("base-url", "", "todo service base URL"),
		userID:     fs.String("user", "", "user id for the todolist endpoint"),
		listID:     fs.String("list", "", "todolist id"),
		timeout:    fs.Int("timeout", 0, "per-request timeout in seconds"),
		guard:      fs.Bool("guard", false, "refuse to overwrite concurrent edits (If-Match)"),
		logLevel:   fs.String("log-level", "", "debug, info, warn or error"),
		logFile:    fs.String("log-file", "", "write logs to this file"),
		theme:      fs.String("theme", "", "classic, neon or mono"),
		group:      fs.Bool("group", false, "group ls output by pending/done"),
	}
}

// applyFlags copies only the flags the user actually set.
func applyFlags(cfg *Config, fs *flag.FlagSet, f flagValues) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "base-url":
			cfg.BaseURL = *f.baseURL
		case "user":
			cfg.UserID = *f.userID
		case "list":
			cfg.ListID = *f.listID
		case "timeout":
			cfg.TimeoutSeconds = *f.timeout
		case "guard":
			cfg.GuardStaleWrites = *f.guard
		case "log-level":
			cfg.LogLevel = *f.logLevel
		case "log-file":
			cfg.LogFile = *f.logFile
		case "theme":
			cfg.Theme = *f.theme
		case "group":
			cfg.Group = *f.group
		}
	})
}

func loadFile(cfg *Config, path string) error {
	_, err := toml.DecodeFile(path, cfg)
	return err
}

// loadDotEnv loads KEY=VALUE pairs without clobbering the real environment.
func loadDotEnv(path string) error {
	if existing(path) == "" {
		return nil
	}
	return godotenv.Load(path)
}

func loadFromEnv(cfg *Config) error {
	str := map[string]*string{
		"TODOSYNC_BASE_URL":     &cfg.BaseURL,
		"TODOSYNC_USER_ID":      &cfg.UserID,
		"TODOSYNC_LIST_ID":      &cfg.ListID,
		"TODOSYNC_CSRF_COOKIE":  &cfg.CSRFCookie,
		"TODOSYNC_CSRF_HEADER":  &cfg.CSRFHeader,
		"TODOSYNC_LOG_LEVEL":    &cfg.LogLevel,
		"TODOSYNC_LOG_FILE":     &cfg.LogFile,
		"TODOSYNC_THEME":        &cfg.Theme,
		"TODOSYNC_SESSION_FILE": &cfg.SessionFile,
	}
	for key, dst := range str {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	if v := strings.TrimSpace(os.Getenv("TODOSYNC_TIMEOUT")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TODOSYNC_TIMEOUT: %w", err)
		}
		cfg.TimeoutSeconds = n
	}
	if v := strings.TrimSpace(os.Getenv("TODOSYNC_RPS")); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("TODOSYNC_RPS: %w", err)
		}
		cfg.RequestsPerSecond = n
	}
	if v := strings.TrimSpace(os.Getenv("TODOSYNC_GUARD")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TODOSYNC_GUARD: %w", err)
		}
		cfg.GuardStaleWrites = b
	}
	return nil
}

func finalize(cfg *Config) error {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute http(s) URL, got %q", cfg.BaseURL)
	}
	if strings.TrimSpace(cfg.CSRFCookie) == "" {
		return errors.New("csrf_cookie must not be empty")
	}
	if strings.TrimSpace(cfg.CSRFHeader) == "" {
		return errors.New("csrf_header must not be empty")
	}
	if cfg.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds must be >= 0, got %d", cfg.TimeoutSeconds)
	}
	if cfg.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must be >= 0, got %g", cfg.RequestsPerSecond)
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	cfg.SessionFile = expandHome(cfg.SessionFile)
	cfg.LogFile = expandHome(cfg.LogFile)
	return nil
}

func userConfigFile() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return existing(filepath.Join(xdg, AppName, FileName))
	}
	return existing(filepath.Join(homeDir(), ".config", AppName, FileName))
}

func existing(path string) string {
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

func expandHome(p string) string {
	if p == "~" {
		return homeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(homeDir(), p[2:])
	}
	return p
}
