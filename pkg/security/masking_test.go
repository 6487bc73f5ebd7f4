package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "ow***@e******.com", MaskEmail("owner@example.com"))
	assert.Equal(t, "***@***.***", MaskEmail("not-an-email"))
}

func TestMaskAddress(t *testing.T) {
	assert.Equal(t, "0xA0b8...eB48", MaskAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"))
	assert.Equal(t, "****", MaskAddress("short"))
}

func TestMaskString(t *testing.T) {
	masked := MaskString("/api?module=account&apikey=ABCDEF1234567890&address=0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	assert.NotContains(t, masked, "ABCDEF1234567890")
	assert.Contains(t, masked, "apikey=***REDACTED***")
	assert.Contains(t, masked, "0xA0b8...eB48")

	assert.Equal(t, "mail ow***@e******.com", MaskString("mail owner@example.com"))
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "SG.k****", MaskAPIKey("SG.key12"))
	assert.Equal(t, "****", MaskAPIKey("abc"))
}
