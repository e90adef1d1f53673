package acquire

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testFresh is the cache freshness window used across package tests.
const testFresh = 180 * 24 * time.Hour

func TestLoadPolicy(t *testing.T) {
	content := `
acquire:
  defaults:
    coverage_threshold: 0.8
    overfetch_multiplier: 2
  regions:
    texas:
      coverage_threshold: 0.5
    montana:
      overfetch_multiplier: 3
`
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	p, err := LoadPolicy(path)
	require.NoError(t, err)

	assert.InDelta(t, 0.8, p.Defaults.CoverageThreshold, 1e-9)

	// Unset region keys inherit from defaults.
	tx := p.ForRegion("texas")
	assert.InDelta(t, 0.5, tx.CoverageThreshold, 1e-9)
	assert.Equal(t, 2, tx.OverfetchMultiplier)

	mt := p.ForRegion("montana")
	assert.InDelta(t, 0.8, mt.CoverageThreshold, 1e-9)
	assert.Equal(t, 3, mt.OverfetchMultiplier)

	// Unknown regions get the defaults wholesale.
	other := p.ForRegion("oregon")
	assert.InDelta(t, 0.8, other.CoverageThreshold, 1e-9)
}

func TestLoadPolicyMissingFile(t *testing.T) {
	_, err := LoadPolicy(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read policy")
}

func TestLoadPolicyBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("acquire: [not a map"), 0o600))
	_, err := LoadPolicy(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse policy")
}
