package license

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTier(t *testing.T) {
	for _, s := range []string{"trial", "standard", "professional", "enterprise"} {
		tier, err := ParseTier(s)
		require.NoError(t, err)
		assert.Equal(t, Tier(s), tier)
	}
	_, err := ParseTier("platinum")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*License)
		wantErr string
	}{
		{"valid", func(*License) {}, ""},
		{"empty key", func(l *License) { l.Key = "" }, "key is empty"},
		{"unknown tier", func(l *License) { l.Tier = "gold" }, "unknown tier"},
		{"expiry before issue", func(l *License) { l.ExpiresAt = l.IssuedAt }, "expiresAt must be after issuedAt"},
		{"negative limit", func(l *License) { l.ActivationLimit = -1 }, "negative activation limit"},
		{"over limit", func(l *License) {
			l.ActivationLimit = 1
			l.Activations = []Activation{{MachineID: "A"}, {MachineID: "B"}}
		}, "exceed limit"},
		{"duplicate machine", func(l *License) {
			l.Activations = []Activation{{MachineID: "A"}, {MachineID: "A"}}
		}, "duplicate machine id"},
		{"blank machine", func(l *License) {
			l.Activations = []Activation{{MachineID: " "}}
		}, "invalid machine id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := sample()
			tt.mutate(&l)
			err := l.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIndexOfAndFreeSlots(t *testing.T) {
	l := sample()
	l.Activations = []Activation{{MachineID: "A"}, {MachineID: "B"}}
	assert.Equal(t, 1, l.IndexOf("B"))
	assert.Equal(t, -1, l.IndexOf("C"))
	assert.Equal(t, 0, l.FreeSlots())

	l.ActivationLimit = 5
	assert.Equal(t, 3, l.FreeSlots())
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "OPT-PRO-001", NormalizeKey("  opt-pro-001 "))

	id, ok := NormalizeMachineID("  RIG-01 ")
	assert.True(t, ok)
	assert.Equal(t, "RIG-01", id)

	_, ok = NormalizeMachineID("   ")
	assert.False(t, ok)

	_, ok = NormalizeMachineID(strings.Repeat("x", MaxMachineIDLen+1))
	assert.False(t, ok)
}
