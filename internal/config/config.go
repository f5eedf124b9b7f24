package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for the voxflow server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir   string
	FlowPath  string // path to the flow description JSON
	HTTPPort  int    // admin/ops API listen port
	LogLevel  string
	LogFormat string // log output format: "text" or "json"

	ARIURL      string // base URL of the Asterisk ARI endpoint, e.g. "http://localhost:8088/ari"
	ARIUsername string
	ARIPassword string
	ARIApp      string // Stasis application name to subscribe to

	TTSURL     string        // speech synthesis provider endpoint
	TTSTimeout time.Duration // bound on one synthesis + transcode attempt
	TTSRate    float64       // outbound synthesis requests per second
	TTSBurst   int

	FFmpegPath string // transcoder binary; looked up on PATH if bare name

	Prewarm    bool   // materialize all flow prompts at startup
	AdminToken string // bearer token for the admin API; empty disables auth
}

// defaults
const (
	defaultDataDir    = "./data"
	defaultFlowPath   = "./flow.json"
	defaultHTTPPort   = 8080
	defaultLogLevel   = "info"
	defaultLogFormat  = "text"
	defaultARIURL     = "http://localhost:8088/ari"
	defaultARIApp     = "voxflow"
	defaultTTSTimeout = 30 * time.Second
	defaultTTSRate    = 5.0
	defaultTTSBurst   = 10
	defaultFFmpeg     = "ffmpeg"
)

// envPrefix is the prefix for all voxflow environment variables.
const envPrefix = "VOXFLOW_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("voxflow", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the asset store and transcoded audio")
	fs.StringVar(&cfg.FlowPath, "flow", defaultFlowPath, "path to the call flow description JSON")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "admin API listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.ARIURL, "ari-url", defaultARIURL, "base URL of the Asterisk ARI endpoint")
	fs.StringVar(&cfg.ARIUsername, "ari-username", "", "ARI username")
	fs.StringVar(&cfg.ARIPassword, "ari-password", "", "ARI password")
	fs.StringVar(&cfg.ARIApp, "ari-app", defaultARIApp, "Stasis application name to receive events for")
	fs.StringVar(&cfg.TTSURL, "tts-url", "", "speech synthesis provider endpoint")
	fs.DurationVar(&cfg.TTSTimeout, "tts-timeout", defaultTTSTimeout, "bound on one synthesis+transcode attempt")
	fs.Float64Var(&cfg.TTSRate, "tts-rate", defaultTTSRate, "outbound synthesis requests per second")
	fs.IntVar(&cfg.TTSBurst, "tts-burst", defaultTTSBurst, "outbound synthesis request burst")
	fs.StringVar(&cfg.FFmpegPath, "ffmpeg", defaultFFmpeg, "path to the ffmpeg binary used for transcoding")
	fs.BoolVar(&cfg.Prewarm, "prewarm", false, "materialize all flow prompts at startup")
	fs.StringVar(&cfg.AdminToken, "admin-token", "", "bearer token protecting the admin API (empty disables auth)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name.
	envMap := map[string]string{
		"data-dir":     envPrefix + "DATA_DIR",
		"flow":         envPrefix + "FLOW",
		"http-port":    envPrefix + "HTTP_PORT",
		"log-level":    envPrefix + "LOG_LEVEL",
		"log-format":   envPrefix + "LOG_FORMAT",
		"ari-url":      envPrefix + "ARI_URL",
		"ari-username": envPrefix + "ARI_USERNAME",
		"ari-password": envPrefix + "ARI_PASSWORD",
		"ari-app":      envPrefix + "ARI_APP",
		"tts-url":      envPrefix + "TTS_URL",
		"tts-timeout":  envPrefix + "TTS_TIMEOUT",
		"tts-rate":     envPrefix + "TTS_RATE",
		"tts-burst":    envPrefix + "TTS_BURST",
		"ffmpeg":       envPrefix + "FFMPEG",
		"prewarm":      envPrefix + "PREWARM",
		"admin-token":  envPrefix + "ADMIN_TOKEN",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "flow":
			cfg.FlowPath = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "ari-url":
			cfg.ARIURL = val
		case "ari-username":
			cfg.ARIUsername = val
		case "ari-password":
			cfg.ARIPassword = val
		case "ari-app":
			cfg.ARIApp = val
		case "tts-url":
			cfg.TTSURL = val
		case "tts-timeout":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.TTSTimeout = v
			}
		case "tts-rate":
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				cfg.TTSRate = v
			}
		case "tts-burst":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.TTSBurst = v
			}
		case "ffmpeg":
			cfg.FFmpegPath = val
		case "prewarm":
			if v, err := strconv.ParseBool(val); err == nil {
				cfg.Prewarm = v
			}
		case "admin-token":
			cfg.AdminToken = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.FlowPath == "" {
		return fmt.Errorf("flow path must not be empty")
	}
	if _, err := url.Parse(c.ARIURL); err != nil {
		return fmt.Errorf("ari-url is not a valid URL: %w", err)
	}
	if c.ARIApp == "" {
		return fmt.Errorf("ari-app must not be empty")
	}
	if c.TTSTimeout <= 0 {
		return fmt.Errorf("tts-timeout must be positive, got %s", c.TTSTimeout)
	}
	if c.TTSRate <= 0 {
		return fmt.Errorf("tts-rate must be positive, got %g", c.TTSRate)
	}
	if c.TTSBurst < 1 {
		return fmt.Errorf("tts-burst must be at least 1, got %d", c.TTSBurst)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log-format must be \"text\" or \"json\", got %q", c.LogFormat)
	}
	return nil
}

// SlogLevel maps the configured log level string to a slog.Level.
// Unknown values fall back to info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
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
