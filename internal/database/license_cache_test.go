package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCachedLicenseEffectiveStatus(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.AddDate(1, 0, 0)

	tests := []struct {
		name      string
		status    string
		expiresAt *time.Time
		want      string
	}{
		{"active before expiry", "active", &future, "active"},
		{"active past expiry reads expired", "active", &past, "expired"},
		{"expiry at the boundary reads expired", "active", &now, "expired"},
		{"lifetime never expires", "active", nil, "active"},
		{"suspended stays suspended past expiry", "suspended", &past, "suspended"},
		{"revoked stays revoked", "revoked", &past, "revoked"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lic := &CachedLicense{Status: tt.status, ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, lic.EffectiveStatus(now))
		})
	}
}
