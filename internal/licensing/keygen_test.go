package licensing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyFormat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		key, err := GenerateKey()
		require.NoError(t, err)

		assert.True(t, ValidKeyFormat(key), "generated key %q should be valid", key)
		assert.True(t, strings.HasPrefix(key, "ADH-"))
		assert.Len(t, key, 23) // ADH + 4 groups of 4 with dashes

		// Ambiguous characters are excluded from the alphabet
		for _, c := range "0O1I" {
			assert.NotContains(t, key[4:], string(c))
		}

		assert.False(t, seen[key], "key %q generated twice", key)
		seen[key] = true
	}
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "ADH-ABCD-EFGH-JKLM-NPQR", NormalizeKey("  adh-abcd-efgh-jklm-npqr "))
}

func TestValidKeyFormatRejects(t *testing.T) {
	bad := []string{
		"",
		"ADH-ABCD-EFGH-JKLM",           // too few groups
		"XYZ-ABCD-EFGH-JKLM-NPQR",      // wrong prefix
		"ADH-AB0D-EFGH-JKLM-NPQR",      // ambiguous character
		"ADH-ABCD-EFGH-JKLM-NPQR-XXXX", // too many groups
		"ADH-abcd-efgh-jklm-npqr",      // not normalized
	}
	for _, key := range bad {
		assert.False(t, ValidKeyFormat(key), "key %q should be invalid", key)
	}
}
