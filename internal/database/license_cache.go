package database

import (
	"context"
	"encoding/json"
	"time"
)

// CachedLicense carries what the remote check-in path needs without a
// database round trip. Any state transition invalidates the entry, so a
// hit is at most licenseCacheTTL behind an admin action.
type CachedLicense struct {
	ID             uint       `json:"id"`
	Key            string     `json:"key"`
	Status         string     `json:"status"`
	Scope          string     `json:"scope"`
	MaxActivations int        `json:"max_activations"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

// EffectiveStatus re-evaluates expiry against the given time, so a warm
// entry never reports active past its stored expires_at. The cached
// status is a snapshot from fill time; expiry is the one transition that
// happens without a write to invalidate on.
func (l *CachedLicense) EffectiveStatus(now time.Time) string {
	if l.Status == "active" && l.ExpiresAt != nil && !l.ExpiresAt.After(now) {
		return "expired"
	}
	return l.Status
}

const licenseCacheTTL = CacheTTLLicense

// GetCachedLicense retrieves a license from cache, nil on miss
func GetCachedLicense(key string) *CachedLicense {
	if Redis == nil {
		return nil
	}

	ctx := context.Background()
	data, err := Redis.Get(ctx, CacheKeyLicense+key).Bytes()
	if err != nil {
		return nil // cache miss
	}

	var lic CachedLicense
	if err := json.Unmarshal(data, &lic); err != nil {
		return nil
	}
	return &lic
}

// SetCachedLicense stores a license in cache
func SetCachedLicense(lic *CachedLicense) {
	if Redis == nil || lic == nil {
		return
	}

	data, err := json.Marshal(lic)
	if err != nil {
		return
	}

	ctx := context.Background()
	Redis.Set(ctx, CacheKeyLicense+lic.Key, data, licenseCacheTTL)
}

// InvalidateLicenseCache drops the cached entry for a key. Called after
// every lifecycle transition so remote calls never act on a stale status
// longer than one TTL.
func InvalidateLicenseCache(key string) {
	if Redis == nil || key == "" {
		return
	}
	ctx := context.Background()
	Redis.Del(ctx, CacheKeyLicense+key)
}
