package settings

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// RedisHashClient is a minimal interface over the Redis operations
// RedisSource needs, narrowed the same way the outcome bus narrows its
// Redis dependency — callers pass a *redis.Client, tests pass a fake.
type RedisHashClient interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// RedisSource reads the live Shift settings from a single Redis hash,
// keyed by the recognized setting names. Missing fields fall back to
// Defaults(), so a partially-populated hash is safe.
type RedisSource struct {
	Client RedisHashClient
	Key    string
}

// NewRedisSource returns a RedisSource reading hash key (default
// "kiosk:settings" if empty).
func NewRedisSource(client RedisHashClient, key string) *RedisSource {
	if key == "" {
		key = "kiosk:settings"
	}
	return &RedisSource{Client: client, Key: key}
}

// Read implements Source.
func (s *RedisSource) Read(ctx context.Context) (Shift, error) {
	fields, err := s.Client.HGetAll(ctx, s.Key)
	if err != nil {
		return Shift{}, fmt.Errorf("settings: redis source read: %w", err)
	}

	shift := Defaults()
	if v, ok := fields["early_shift_min_clockout"]; ok && v != "" {
		shift.EarlyShiftMinClockout = v
	}
	if v, ok := fields["regular_shift_min_clockout"]; ok && v != "" {
		shift.RegularShiftMinClockout = v
	}
	if v, ok := fields["warmup_enabled"]; ok && v != "" {
		shift.WarmupEnabled = v == "true" || v == "1"
	}
	if v, ok := fields["warmup_frames"]; ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			shift.WarmupFrames = n
		}
	}
	if v, ok := fields["warmup_stability_threshold"]; ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			shift.WarmupStabilityThreshold = f
		}
	}
	if v, ok := fields["recognition_cooldown"]; ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			shift.RecognitionCooldown = time.Duration(f * float64(time.Second))
		}
	}
	if v, ok := fields["scan_cooldown_face"]; ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			shift.ScanCooldownFace = time.Duration(f * float64(time.Second))
		}
	}
	if v, ok := fields["scan_cooldown_code"]; ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			shift.ScanCooldownCode = time.Duration(f * float64(time.Second))
		}
	}
	if v, ok := fields["group_commit_mode"]; ok && v != "" {
		shift.GroupCommitMode = GroupCommitMode(v)
	}
	return shift, nil
}
