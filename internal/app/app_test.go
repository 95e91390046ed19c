package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/avvvet/lgdl-runtime/internal/config"
	"github.com/avvvet/lgdl-runtime/internal/memory"
	"github.com/avvvet/lgdl-runtime/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.GamePath = "../game/testdata/medical.json"
	cfg.StateDBPath = filepath.Join(t.TempDir(), "state.db")
	return cfg
}

func TestBuildServesTurns(t *testing.T) {
	reg := prometheus.NewRegistry()
	rt, err := Build(testConfig(t), Hooks{Registry: reg})
	require.NoError(t, err)
	defer rt.Close()

	resp, err := rt.Engine.ProcessTurn(context.Background(), "c1", "u1", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "greeting", resp.MoveID)

	assert.IsType(t, &memory.SQLiteStore{}, rt.Storage)
	assert.IsType(t, &memory.TTLCache{}, rt.Cache)
	assert.Equal(t, 1.0, testutil.ToFloat64(rt.Metrics.TurnsTotal.WithLabelValues(models.OutcomeSuccess)))
}

func TestBuildStateDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.StateDisabled = true
	rt, err := Build(cfg, Hooks{})
	require.NoError(t, err)
	defer rt.Close()

	assert.IsType(t, &memory.MemoryStore{}, rt.Storage)
}

func TestBuildRequiresCredentialsForLLM(t *testing.T) {
	cfg := testConfig(t)
	cfg.EnableLLMMatching = true
	_, err := Build(cfg, Hooks{})
	assert.ErrorIs(t, err, config.ErrMissingCredentials)
}

func TestBuildMissingGame(t *testing.T) {
	cfg := testConfig(t)
	cfg.GamePath = "does-not-exist.json"
	_, err := Build(cfg, Hooks{})
	assert.Error(t, err)
}
