package seed

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"licensed/internal/license"
	"licensed/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

func TestBuiltin(t *testing.T) {
	lics := Builtin(now)
	require.Len(t, lics, 3)

	want := map[string]license.Status{
		"OPT-PRO-001":   license.StatusActive,
		"OPT-TRIAL-041": license.StatusPending,
		"OPT-STD-887":   license.StatusExpired,
	}
	for _, l := range lics {
		require.NoError(t, l.Validate())
		assert.Equal(t, want[l.Key], license.StatusAt(&l, now), l.Key)
	}
	assert.Equal(t, 10, license.RemainingDays(&lics[1], now))
	assert.NotNil(t, lics[2].Activations[0].LastHeartbeat)
}

func TestParse(t *testing.T) {
	data := []byte(`
licenses:
  - key: opt-ent-100
    productName: OptimumKinematics
    ownerName: Rally Works
    tier: enterprise
    issuedAt: 2026-01-01T00:00:00Z
    expiresAt: 2027-01-01T00:00:00Z
    activationLimit: 5
    activations:
      - machineId: RW-01
        activatedBy: ops
        activatedAt: 2026-02-01T10:00:00Z
        lastHeartbeat: 2026-03-01T10:00:00Z
      - machineId: RW-02
  - key: OPT-TRIAL-900
    tier: trial
    validDays: 14
    activationLimit: 1
    notes: short trial
`)
	lics, err := Parse(data, now)
	require.NoError(t, err)
	require.Len(t, lics, 2)

	ent := lics[0]
	assert.Equal(t, "OPT-ENT-100", ent.Key)
	assert.Equal(t, license.TierEnterprise, ent.Tier)
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), ent.ExpiresAt)
	require.Len(t, ent.Activations, 2)
	assert.Equal(t, "ops", ent.Activations[0].ActivatedBy)
	require.NotNil(t, ent.Activations[0].LastHeartbeat)
	assert.Equal(t, license.DefaultActivatedBy, ent.Activations[1].ActivatedBy)
	assert.Equal(t, ent.IssuedAt, ent.Activations[1].ActivatedAt)
	assert.Nil(t, ent.Activations[1].LastHeartbeat)
	assert.True(t, ent.EverActivated)

	trial := lics[1]
	assert.Equal(t, now, trial.IssuedAt)
	assert.Equal(t, now.Add(14*day), trial.ExpiresAt)
	assert.False(t, trial.EverActivated)
	assert.Equal(t, "short trial", trial.Notes)
}

func TestParseRejects(t *testing.T) {
	tests := map[string]string{
		"unknown tier": `
licenses:
  - key: A
    tier: gold
    validDays: 3`,
		"missing key": `
licenses:
  - tier: trial
    validDays: 3`,
		"no expiry": `
licenses:
  - key: A
    tier: trial`,
		"bad time": `
licenses:
  - key: A
    tier: trial
    expiresAt: tomorrow`,
		"over limit": `
licenses:
  - key: A
    tier: trial
    validDays: 3
    activationLimit: 1
    activations:
      - machineId: M1
      - machineId: M2`,
		"duplicate machine": `
licenses:
  - key: A
    tier: trial
    validDays: 3
    activationLimit: 2
    activations:
      - machineId: M1
      - machineId: M1`,
		"unknown field": `
licenses:
  - key: A
    tier: trial
    validDays: 3
    colour: red`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc), now)
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("licenses:\n  - key: X-1\n    tier: standard\n    validDays: 30\n    activationLimit: 2\n"), 0o600))

	lics, err := LoadFile(path, now)
	require.NoError(t, err)
	require.Len(t, lics, 1)
	assert.Equal(t, "X-1", lics[0].Key)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), now)
	assert.Error(t, err)
}

func TestApplyKeepsExisting(t *testing.T) {
	st := store.NewMemory()
	lics := Builtin(now)

	added, err := Apply(st, lics)
	require.NoError(t, err)
	assert.Equal(t, 3, added)

	_, err = st.WithLicense("OPT-TRIAL-041", func(l *license.License) error {
		l.Notes = "edited"
		return nil
	})
	require.NoError(t, err)

	added, err = Apply(st, Builtin(now.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, 0, added)

	got, err := st.Get("OPT-TRIAL-041")
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Notes)
}

func TestApplyRejectsInvalid(t *testing.T) {
	bad := license.License{Key: "BAD", Tier: license.TierTrial, IssuedAt: now, ExpiresAt: now}
	_, err := Apply(store.NewMemory(), []license.License{bad})
	assert.Error(t, err)
}

func TestExampleSeedFile(t *testing.T) {
	lics, err := LoadFile(filepath.Join("..", "..", "configs", "seed.example.yaml"), now)
	require.NoError(t, err)
	require.Len(t, lics, 2)

	assert.Equal(t, now.Add(365*day), lics[0].ExpiresAt)
	assert.Equal(t, license.TierEnterprise, lics[0].Tier)
	assert.True(t, lics[1].EverActivated)
	assert.Equal(t, "APEX-RIG-07", lics[1].Activations[0].MachineID)
}
