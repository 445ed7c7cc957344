package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaults_FillsZeroValues(t *testing.T) {
	var c Config
	c.applyDefaults()

	assert.Equal(t, "8080", c.Server.Port)
	assert.Equal(t, []string{"*"}, c.Server.AllowedOrigins)
	assert.Equal(t, "localhost:6379", c.Redis.Addr)
	assert.Equal(t, "17:00", c.Shift.EarlyShiftMinClockout)
	assert.Equal(t, "17:15", c.Shift.RegularShiftMinClockout)
	assert.Equal(t, 15, c.Shift.WarmupFrames)
	assert.Equal(t, 0.08, c.Shift.WarmupStabilityThreshold)
	assert.Equal(t, "reject_admissions", c.Shift.GroupCommitMode)
	assert.Equal(t, "/metrics", c.Metrics.Path)
}

func TestApplyDefaults_NeverOverwritesExplicitValues(t *testing.T) {
	c := Config{Server: ServerConfig{Port: "9090"}}
	c.applyDefaults()

	assert.Equal(t, "9090", c.Server.Port)
}

func TestApplyEnvOverrides_PortFromEnv(t *testing.T) {
	t.Setenv("KIOSK_PORT", "9999")
	var c Config
	c.applyEnvOverrides()

	assert.Equal(t, "9999", c.Server.Port)
}

func TestApplyEnvOverrides_AllowedOriginsSplitsCSV(t *testing.T) {
	t.Setenv("KIOSK_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	var c Config
	c.applyEnvOverrides()

	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.Server.AllowedOrigins)
}

func TestShiftConfig_ToShift_ConvertsSecondsToDuration(t *testing.T) {
	sc := ShiftConfig{
		EarlyShiftMinClockout:   "17:00",
		RegularShiftMinClockout: "17:15",
		WarmupFrames:            15,
		ScanCooldownFaceSec:     5,
		ScanCooldownCodeSec:     5,
		GroupCommitMode:         "reject_admissions",
	}

	shift := sc.ToShift()
	assert.Equal(t, "17:00", shift.EarlyShiftMinClockout)
	assert.Equal(t, float64(5), shift.ScanCooldownFace.Seconds())
	assert.Equal(t, float64(5), shift.ScanCooldownCode.Seconds())
}

func TestLoadConfig_MissingFileReturnsError(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	assert.Error(t, err)
}
