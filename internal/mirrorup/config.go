package mirrorup

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	defaultSourceURL = "https://www.archlinux.org/mirrors/status/json/"
	defaultMirrors   = 10
	defaultMaxCheck  = 100
	defaultThreads   = 5
	defaultTimeout   = 10 // seconds per probe
)

type tomlURL struct {
	*url.URL
}

func (u *tomlURL) UnmarshalText(text []byte) error {
	parsedURL, err := url.Parse(string(text))
	if err != nil {
		return err
	}
	switch parsedURL.Scheme {
	case "http":
	case "https":
	default:
		return errors.New("unsupported scheme: " + parsedURL.Scheme)
	}

	u.URL = parsedURL
	return nil
}

// TargetDB selects which repository database file is downloaded during
// speed testing.
type TargetDB string

// Repository databases that can serve as the speed test target.
const (
	TargetCore      TargetDB = "core"
	TargetExtra     TargetDB = "extra"
	TargetCommunity TargetDB = "community"
	TargetMultilib  TargetDB = "multilib"
)

func (t *TargetDB) UnmarshalText(text []byte) error {
	parsed := TargetDB(strings.ToLower(string(text)))
	switch parsed {
	case TargetCore, TargetExtra, TargetCommunity, TargetMultilib:
		*t = parsed
		return nil
	}
	return errors.New("unknown target database: " + string(text))
}

// Path returns the relative path of the database file on a mirror,
// e.g. "core/os/x86_64/core.db".
func (t TargetDB) Path() string {
	return fmt.Sprintf("%s/os/x86_64/%s.db", string(t), string(t))
}

// LogConfig represents slog configuration options.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Apply configures the global slog logger based on the configuration.
func (logConfig *LogConfig) Apply() error {
	var level slog.Level
	switch strings.ToLower(logConfig.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return errors.New("invalid log level: " + logConfig.Level)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(logConfig.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "plain", "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return errors.New("invalid log format: " + logConfig.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// Config is a struct to read TOML configurations.
//
// Use https://github.com/BurntSushi/toml as follows:
//
//	config := mirrorup.NewConfig()
//	md, err := toml.DecodeFile("/path/to/config.toml", config)
//	if err != nil {
//	    ...
//	}
//
// Command-line flags are applied on top of decoded values, so flags win
// over the file and the file wins over defaults.
type Config struct {
	SourceURL   tomlURL   `toml:"source_url"`
	TargetDB    TargetDB  `toml:"target_db"`
	Mirrors     int       `toml:"mirrors"`
	MaxCheck    int       `toml:"max_check"`
	Threads     int       `toml:"threads"`
	Timeout     int       `toml:"timeout"`
	RateLimitMB float64   `toml:"probe_rate_limit_mb"`
	OutputFile  string    `toml:"output_file"`
	StatsFile   string    `toml:"stats_file"`
	Exclude     []string  `toml:"exclude"`
	ExcludeFrom string    `toml:"exclude_from"`
	NoProgress  bool      `toml:"no_progress"`
	Log         LogConfig `toml:"log"`
}

// NewConfig creates Config with default values.
func NewConfig() *Config {
	config := &Config{
		TargetDB: TargetCommunity,
		Mirrors:  defaultMirrors,
		MaxCheck: defaultMaxCheck,
		Threads:  defaultThreads,
		Timeout:  defaultTimeout,
	}
	// The default URL is a compile-time constant; parsing cannot fail.
	_ = config.SourceURL.UnmarshalText([]byte(defaultSourceURL))
	return config
}

// Check validates the configuration.
func (c *Config) Check() error {
	if c.SourceURL.URL == nil {
		return errors.New("source_url is not set")
	}
	switch c.TargetDB {
	case TargetCore, TargetExtra, TargetCommunity, TargetMultilib:
	default:
		return errors.New("unknown target database: " + string(c.TargetDB))
	}
	if c.Mirrors <= 0 {
		return errors.New("mirrors must be positive")
	}
	if c.MaxCheck <= 0 {
		return errors.New("max_check must be positive")
	}
	if c.Threads <= 0 {
		return errors.New("threads must be positive")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.RateLimitMB < 0 {
		return errors.New("probe_rate_limit_mb must not be negative")
	}
	return nil
}
