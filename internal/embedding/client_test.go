package embedding

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	calls atomic.Int32
	err   error
}

func (p *countingProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return []float64{float64(len(text)), 1, 0}, nil
}

func offlineClient(t *testing.T, dir string) *Client {
	t.Helper()
	c, err := New(nil, Options{Version: "2025-01", CacheEnabled: dir != "", CacheDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestOfflineDeterministicAcrossInstances(t *testing.T) {
	a := offlineClient(t, "")
	b := offlineClient(t, "")

	va, err := a.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	vb, err := b.Embed(context.Background(), "hello world")
	require.NoError(t, err)

	assert.Equal(t, va, vb)
	assert.Len(t, va, Dimensions)
	assert.False(t, a.Remote())
	assert.Equal(t, OfflineModel, a.Model())
}

func TestOfflineVectorsAreNormalized(t *testing.T) {
	for _, text := range []string{"", "a", "normalization test"} {
		vec := Offline(text)
		var norm float64
		for _, v := range vec {
			norm += v * v
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9, "text %q", text)
	}
}

func TestOfflineBigramSimilarity(t *testing.T) {
	related := Cosine(Offline("testing"), Offline("test"))
	unrelated := Cosine(Offline("testing"), Offline("xyzabc"))
	assert.Greater(t, related, unrelated)

	assert.InDelta(t, 1.0, Cosine(Offline("hello world"), Offline("hello world")), 1e-9)
	assert.Less(t, Cosine(Offline("hello world"), Offline("goodbye world")), 1.0)
}

func TestCosineEdgeCases(t *testing.T) {
	assert.Equal(t, 0.0, Cosine(nil, nil))
	assert.Equal(t, 0.0, Cosine([]float64{1, 0}, []float64{1, 0, 0}))
	assert.Equal(t, 0.0, Cosine([]float64{0, 0}, []float64{1, 0}))
}

func TestCacheSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	provider := &countingProvider{}

	first, err := New(provider, Options{Model: "text-embedding-3-small", Version: "2025-01", CacheEnabled: true, CacheDir: dir})
	require.NoError(t, err)
	v1, err := first.Embed(context.Background(), "persistence test")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New(provider, Options{Model: "text-embedding-3-small", Version: "2025-01", CacheEnabled: true, CacheDir: dir})
	require.NoError(t, err)
	defer second.Close()
	v2, err := second.Embed(context.Background(), "persistence test")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestCacheRecordsModelAndVersion(t *testing.T) {
	dir := t.TempDir()
	c := offlineClient(t, dir)
	_, err := c.Embed(context.Background(), "test")
	require.NoError(t, err)

	assert.Contains(t, c.store.Path(), OfflineModel+"_2025-01.db")

	db, err := sql.Open("sqlite", c.store.Path())
	require.NoError(t, err)
	defer db.Close()

	var model, version string
	require.NoError(t, db.QueryRow(`SELECT model, version FROM embeddings WHERE text = ?`, "test").Scan(&model, &version))
	assert.Equal(t, OfflineModel, model)
	assert.Equal(t, "2025-01", version)
}

func TestConcurrentMissesCallProviderOnce(t *testing.T) {
	provider := &countingProvider{}
	c, err := New(provider, Options{Model: "m"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Embed(context.Background(), "same text")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestProviderErrorIsReturned(t *testing.T) {
	c, err := New(&countingProvider{err: errors.New("timeout")}, Options{Model: "m"})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "x")
	assert.Error(t, err)
}

func TestKeyIsSHA256(t *testing.T) {
	assert.Equal(t, "7509e5bda0c762d2bac7f90d758b5b2263fa01ccbc542ab5e3df163be08e6ca9", Key("hello world!"))
}
