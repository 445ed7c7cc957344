// Package config loads the kiosk's ambient configuration: server,
// database, Redis and metrics settings that exist outside the Settings
// Source the engine itself watches (internal/settings). Shift policy
// numbers still flow exclusively through the Settings Source per spec;
// Config only seeds its default values and the Redis connection the
// Settings Source reads from.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/attendo/kiosk-engine/internal/settings"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Shift    ShiftConfig    `yaml:"shift"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type ServerConfig struct {
	Port            string `yaml:"port"`
	Env             string `yaml:"env"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	IdleTimeoutSec  int    `yaml:"idle_timeout_sec"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_sec"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

// ShiftConfig holds the YAML/env shift settings. With Redis disabled,
// ToShift turns them into the static settings source; otherwise the
// live Settings Source (Redis-backed) is the authority.
type ShiftConfig struct {
	EarlyShiftMinClockout    string  `yaml:"early_shift_min_clockout"`
	RegularShiftMinClockout  string  `yaml:"regular_shift_min_clockout"`
	WarmupEnabled            bool    `yaml:"warmup_enabled"`
	WarmupFrames             int     `yaml:"warmup_frames"`
	WarmupStabilityThreshold float64 `yaml:"warmup_stability_threshold"`
	RecognitionCooldownSec   float64 `yaml:"recognition_cooldown"`
	ScanCooldownFaceSec      float64 `yaml:"scan_cooldown_face"`
	ScanCooldownCodeSec      float64 `yaml:"scan_cooldown_code"`
	GroupCommitMode          string  `yaml:"group_commit_mode"`
	RefreshIntervalSec       int     `yaml:"refresh_interval_sec"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance, loading config.yaml (or
// CONFIG_PATH) once and applying environment overrides and defaults.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{Shift: ShiftConfig{WarmupEnabled: true}}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from a YAML file at path.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Config{Shift: ShiftConfig{WarmupEnabled: true}}
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("KIOSK_PORT", c.Server.Port)
	c.Server.Env = getEnv("KIOSK_ENV", c.Server.Env)
	if v := getEnvInt("KIOSK_READ_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ReadTimeoutSec = v
	}
	if v := getEnvInt("KIOSK_WRITE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.WriteTimeoutSec = v
	}
	if v := getEnvInt("KIOSK_IDLE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.IdleTimeoutSec = v
	}
	if origins := getEnv("KIOSK_ALLOWED_ORIGINS", ""); origins != "" {
		c.Server.AllowedOrigins = splitCSV(origins)
	}

	c.Database.DSN = getEnv("KIOSK_DATABASE_DSN", c.Database.DSN)

	c.Redis.Addr = getEnv("KIOSK_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("KIOSK_REDIS_PASSWORD", c.Redis.Password)
	if v := getEnvInt("KIOSK_REDIS_DB", -1); v >= 0 {
		c.Redis.DB = v
	}
	c.Redis.Enabled = getEnvBool("KIOSK_REDIS_ENABLED", c.Redis.Enabled)

	c.Shift.EarlyShiftMinClockout = getEnv("KIOSK_EARLY_SHIFT_MIN_CLOCKOUT", c.Shift.EarlyShiftMinClockout)
	c.Shift.RegularShiftMinClockout = getEnv("KIOSK_REGULAR_SHIFT_MIN_CLOCKOUT", c.Shift.RegularShiftMinClockout)
	c.Shift.WarmupEnabled = getEnvBool("KIOSK_WARMUP_ENABLED", c.Shift.WarmupEnabled)
	if v := getEnvInt("KIOSK_WARMUP_FRAMES", 0); v > 0 {
		c.Shift.WarmupFrames = v
	}
	if v := getEnvFloat("KIOSK_WARMUP_STABILITY_THRESHOLD", 0); v > 0 {
		c.Shift.WarmupStabilityThreshold = v
	}
	if v := getEnvFloat("KIOSK_RECOGNITION_COOLDOWN", 0); v > 0 {
		c.Shift.RecognitionCooldownSec = v
	}
	if v := getEnvFloat("KIOSK_SCAN_COOLDOWN_FACE", 0); v > 0 {
		c.Shift.ScanCooldownFaceSec = v
	}
	if v := getEnvFloat("KIOSK_SCAN_COOLDOWN_CODE", 0); v > 0 {
		c.Shift.ScanCooldownCodeSec = v
	}
	c.Shift.GroupCommitMode = getEnv("KIOSK_GROUP_COMMIT_MODE", c.Shift.GroupCommitMode)
	if v := getEnvInt("KIOSK_SETTINGS_REFRESH_INTERVAL_SEC", 0); v > 0 {
		c.Shift.RefreshIntervalSec = v
	}

	c.Metrics.Enabled = getEnvBool("KIOSK_METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Path = getEnv("KIOSK_METRICS_PATH", c.Metrics.Path)

	c.applyDefaults()
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 15
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = 60
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Shift.EarlyShiftMinClockout == "" {
		c.Shift.EarlyShiftMinClockout = "17:00"
	}
	if c.Shift.RegularShiftMinClockout == "" {
		c.Shift.RegularShiftMinClockout = "17:15"
	}
	if c.Shift.WarmupFrames == 0 {
		c.Shift.WarmupFrames = 15
	}
	if c.Shift.WarmupStabilityThreshold == 0 {
		c.Shift.WarmupStabilityThreshold = 0.08
	}
	if c.Shift.RecognitionCooldownSec == 0 {
		c.Shift.RecognitionCooldownSec = 3.0
	}
	if c.Shift.ScanCooldownFaceSec == 0 {
		c.Shift.ScanCooldownFaceSec = 5.0
	}
	if c.Shift.ScanCooldownCodeSec == 0 {
		c.Shift.ScanCooldownCodeSec = 5.0
	}
	if c.Shift.GroupCommitMode == "" {
		c.Shift.GroupCommitMode = "reject_admissions"
	}
	if c.Shift.RefreshIntervalSec == 0 {
		c.Shift.RefreshIntervalSec = 20
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func (c *Config) IsProduction() bool { return c.Server.Env == "production" }

// ToShift converts the YAML/env-seeded shift configuration into a
// settings.Shift, which serves as the static settings source when Redis
// is disabled. A settings.Watcher starts from settings.Defaults(), not
// from this value.
func (s ShiftConfig) ToShift() settings.Shift {
	return settings.Shift{
		EarlyShiftMinClockout:    s.EarlyShiftMinClockout,
		RegularShiftMinClockout:  s.RegularShiftMinClockout,
		WarmupEnabled:            s.WarmupEnabled,
		WarmupFrames:             s.WarmupFrames,
		WarmupStabilityThreshold: s.WarmupStabilityThreshold,
		RecognitionCooldown:      time.Duration(s.RecognitionCooldownSec * float64(time.Second)),
		ScanCooldownFace:         time.Duration(s.ScanCooldownFaceSec * float64(time.Second)),
		ScanCooldownCode:         time.Duration(s.ScanCooldownCodeSec * float64(time.Second)),
		GroupCommitMode:          settings.GroupCommitMode(s.GroupCommitMode),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
