package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/keiba-odds/internal/logger"
	"github.com/yourusername/keiba-odds/internal/models"
	"github.com/yourusername/keiba-odds/internal/service"
)

func TestBuildFromDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadConfig(context.Background(), filepath.Join(dir, ".env"), filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	cfg.Cache.RootDir = filepath.Join(dir, "cache")

	a, err := Build(cfg, logger.Discard())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Fetcher)
	assert.NotNil(t, a.Mock)
	assert.False(t, a.Service.LiveAvailable())

	st := a.Service.Status()
	assert.Equal(t, service.SourceAuto, st.DefaultSource)
	assert.True(t, st.Sources.Mock)
	assert.Equal(t, 0, st.Historical.Cache.TotalEntries)

	env, err := a.Service.GetOdds(context.Background(), models.MustParseRaceKey("2025110205041101"), service.SourceAuto, nil)
	require.NoError(t, err)
	assert.Equal(t, service.DataSourceMock, env.DataSource)
}

func TestBuildWithoutMockFallback(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadConfig(context.Background(), "", filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	cfg.Cache.RootDir = filepath.Join(dir, "cache")
	cfg.Sources.AllowMockFallback = false

	a, err := Build(cfg, logger.Discard())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Mock)
	_, err = a.Service.GetOdds(context.Background(), models.MustParseRaceKey("2025110205041101"), service.SourceAuto, nil)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
