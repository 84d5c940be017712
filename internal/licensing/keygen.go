package licensing

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
)

// Key format: ADH-XXXX-XXXX-XXXX-XXXX. The grouping is cosmetic; the whole
// key is the secret. The alphabet drops 0/O/1/I to keep keys dictatable
// over the phone.
const (
	keyPrefix   = "ADH"
	keyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	keyGroups   = 4
	keyGroupLen = 4
)

var keyPattern = regexp.MustCompile(`^ADH(-[A-HJ-NP-Z2-9]{4}){4}$`)

// GenerateKey produces a new random license key. Uniqueness is not
// guaranteed here; the issuer checks at insert time and retries.
func GenerateKey() (string, error) {
	buf := make([]byte, keyGroups*keyGroupLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	var b strings.Builder
	b.WriteString(keyPrefix)
	for i, c := range buf {
		if i%keyGroupLen == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(keyAlphabet[int(c)%len(keyAlphabet)])
	}
	return b.String(), nil
}

// NormalizeKey uppercases a key and strips surrounding whitespace so user
// input compares against the stored form.
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// ValidKeyFormat reports whether a normalized key matches the expected shape
func ValidKeyFormat(key string) bool {
	return keyPattern.MatchString(key)
}
