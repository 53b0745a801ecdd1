package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadOrCreate_Defaults(t *testing.T) {
	dir := t.TempDir()

	c, err := ReadOrCreate(dir)
	require.NoError(t, err)

	assert.Equal(t, 4*time.Hour, c.Store.VisibilityLag)
	assert.Equal(t, 1000, c.Store.CleanupAlertMax)
	assert.Equal(t, []float64{10, 20, 30}, c.Grading.TierBounds)
	assert.Equal(t, 0.524, c.Governance.Breakeven)
	assert.Equal(t, 100, c.Governance.MinGradedSamples)
	assert.Equal(t, 30, c.Signals.MinObservations)
	assert.Equal(t, 10, c.Curation.MaxPicks)

	_, err = os.Stat(filepath.Join(dir, configFileName))
	assert.NoError(t, err)
}

func TestReadOrCreate_Roundtrip(t *testing.T) {
	dir := t.TempDir()

	c, err := ReadOrCreate(dir)
	require.NoError(t, err)

	c.Store.VisibilityLag = 90 * time.Minute
	c.Governance.DecayMargin = 0.1
	c.Signals.EdgeThreshold = 2.5
	require.NoError(t, Save(dir, c))

	got, err := ReadOrCreate(dir)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, got.Store.VisibilityLag)
	assert.Equal(t, 0.1, got.Governance.DecayMargin)
	assert.Equal(t, 2.5, got.Signals.EdgeThreshold)
}

func TestReadOrCreate_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "home")
	_, err := ReadOrCreate(dir)
	assert.NoError(t, err)
}

func TestReadOrCreate_EmptyPath(t *testing.T) {
	_, err := ReadOrCreate("")
	assert.Error(t, err)
	assert.Error(t, Save("", nil))
}
