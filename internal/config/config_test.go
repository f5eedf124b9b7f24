package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"VOXFLOW_DATA_DIR", "VOXFLOW_FLOW", "VOXFLOW_HTTP_PORT",
		"VOXFLOW_LOG_LEVEL", "VOXFLOW_LOG_FORMAT", "VOXFLOW_ARI_URL",
		"VOXFLOW_ARI_USERNAME", "VOXFLOW_ARI_PASSWORD", "VOXFLOW_ARI_APP",
		"VOXFLOW_TTS_URL", "VOXFLOW_TTS_TIMEOUT", "VOXFLOW_TTS_RATE",
		"VOXFLOW_TTS_BURST", "VOXFLOW_FFMPEG", "VOXFLOW_PREWARM",
		"VOXFLOW_ADMIN_TOKEN",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	os.Args = []string{"voxflow"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DataDir != defaultDataDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, defaultDataDir)
	}
	if cfg.FlowPath != defaultFlowPath {
		t.Errorf("FlowPath = %q, want %q", cfg.FlowPath, defaultFlowPath)
	}
	if cfg.HTTPPort != defaultHTTPPort {
		t.Errorf("HTTPPort = %d, want %d", cfg.HTTPPort, defaultHTTPPort)
	}
	if cfg.ARIURL != defaultARIURL {
		t.Errorf("ARIURL = %q, want %q", cfg.ARIURL, defaultARIURL)
	}
	if cfg.ARIApp != defaultARIApp {
		t.Errorf("ARIApp = %q, want %q", cfg.ARIApp, defaultARIApp)
	}
	if cfg.TTSTimeout != defaultTTSTimeout {
		t.Errorf("TTSTimeout = %s, want %s", cfg.TTSTimeout, defaultTTSTimeout)
	}
	if cfg.FFmpegPath != defaultFFmpeg {
		t.Errorf("FFmpegPath = %q, want %q", cfg.FFmpegPath, defaultFFmpeg)
	}
	if cfg.Prewarm {
		t.Error("Prewarm = true, want false")
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
}

func TestEnvVarOverride(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"voxflow"}
	t.Setenv("VOXFLOW_HTTP_PORT", "9090")
	t.Setenv("VOXFLOW_FLOW", "/etc/voxflow/menu.json")
	t.Setenv("VOXFLOW_TTS_TIMEOUT", "10s")
	t.Setenv("VOXFLOW_PREWARM", "true")
	t.Setenv("VOXFLOW_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090", cfg.HTTPPort)
	}
	if cfg.FlowPath != "/etc/voxflow/menu.json" {
		t.Errorf("FlowPath = %q, want /etc/voxflow/menu.json", cfg.FlowPath)
	}
	if cfg.TTSTimeout != 10*time.Second {
		t.Errorf("TTSTimeout = %s, want 10s", cfg.TTSTimeout)
	}
	if !cfg.Prewarm {
		t.Error("Prewarm = false, want true")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"zero http port", func(c *Config) { c.HTTPPort = 0 }},
		{"empty flow path", func(c *Config) { c.FlowPath = "" }},
		{"empty ari app", func(c *Config) { c.ARIApp = "" }},
		{"zero tts timeout", func(c *Config) { c.TTSTimeout = 0 }},
		{"negative tts rate", func(c *Config) { c.TTSRate = -1 }},
		{"zero tts burst", func(c *Config) { c.TTSBurst = 0 }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				FlowPath:   defaultFlowPath,
				HTTPPort:   defaultHTTPPort,
				ARIURL:     defaultARIURL,
				ARIApp:     defaultARIApp,
				TTSTimeout: defaultTTSTimeout,
				TTSRate:    defaultTTSRate,
				TTSBurst:   defaultTTSBurst,
				LogFormat:  defaultLogFormat,
			}
			tt.mod(cfg)
			if err := cfg.validate(); err == nil {
				t.Error("validate() = nil, want error")
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"error", "ERROR"},
		{"bogus", "INFO"},
	}
	for _, tt := range tests {
		cfg := &Config{LogLevel: tt.level}
		if got := cfg.SlogLevel().String(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %s, want %s", tt.level, got, tt.want)
		}
	}
}
