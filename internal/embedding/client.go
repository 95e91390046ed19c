package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/singleflight"
)

// Dimensions of the offline fallback vectors.
const Dimensions = 256

// OfflineModel names vectors produced without a remote provider.
const OfflineModel = "offline-bigram-256"

// Provider computes embeddings remotely.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// OpenAIProvider implements Provider with the OpenAI embeddings API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI embeddings call failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("OpenAI returned no embeddings")
	}
	raw := resp.Data[0].Embedding
	vec := make([]float64, len(raw))
	for i, v := range raw {
		vec[i] = float64(v)
	}
	return vec, nil
}

type Options struct {
	Model        string
	Version      string
	CacheEnabled bool
	CacheDir     string
	Timeout      time.Duration
}

// Client returns similarity vectors, cached in memory and optionally in
// SQLite. With no provider it produces deterministic offline vectors.
//
// The text→vector mapping is pure, so concurrent writers racing on the same
// key store the same value and need no coordination beyond the map lock.
type Client struct {
	provider Provider
	model    string
	version  string
	timeout  time.Duration

	mu    sync.RWMutex
	mem   map[string][]float64
	store *Cache
	group singleflight.Group
}

// New creates a client. provider may be nil for offline operation.
func New(provider Provider, opts Options) (*Client, error) {
	c := &Client{
		provider: provider,
		model:    opts.Model,
		version:  opts.Version,
		timeout:  opts.Timeout,
		mem:      make(map[string][]float64),
	}
	if provider == nil {
		c.model = OfflineModel
	}

	if opts.CacheEnabled {
		store, err := OpenCache(opts.CacheDir, c.model, c.version)
		if err != nil {
			return nil, err
		}
		c.store = store
	}
	return c, nil
}

// Remote reports whether vectors come from an external provider.
func (c *Client) Remote() bool { return c.provider != nil }

// Model returns the model name recorded with cached vectors.
func (c *Client) Model() string { return c.model }

// Version returns the cache version lock.
func (c *Client) Version() string { return c.version }

// Key is the cache key for text.
func Key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Embed returns the vector for text. Offline vectors never fail; remote
// failures are returned so callers can degrade.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	key := Key(text)

	c.mu.RLock()
	vec, ok := c.mem[key]
	c.mu.RUnlock()
	if ok {
		return vec, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		vec, ok := c.mem[key]
		c.mu.RUnlock()
		if ok {
			return vec, nil
		}
		if c.store != nil {
			if vec, found, err := c.store.Get(ctx, key); err != nil {
				log.Printf("[Embedding] cache read failed: %v", err)
			} else if found {
				c.remember(key, vec)
				return vec, nil
			}
		}

		vec, err := c.compute(ctx, text)
		if err != nil {
			return nil, err
		}
		c.remember(key, vec)
		if c.store != nil {
			if err := c.store.Put(ctx, key, text, vec); err != nil {
				log.Printf("[Embedding] cache write failed: %v", err)
			}
		}
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float64), nil
}

func (c *Client) compute(ctx context.Context, text string) ([]float64, error) {
	if c.provider == nil {
		return Offline(text), nil
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.provider.Embed(ctx, text)
}

func (c *Client) remember(key string, vec []float64) {
	c.mu.Lock()
	c.mem[key] = vec
	c.mu.Unlock()
}

// Close releases the durable cache.
func (c *Client) Close() error {
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// Offline builds a deterministic L2-normalized vector from hashed
// character bigrams of the lowercased, space-padded text.
func Offline(text string) []float64 {
	vec := make([]float64, Dimensions)
	padded := []rune(" " + strings.ToLower(text) + " ")
	for i := 0; i+1 < len(padded); i++ {
		h := fnv.New32a()
		h.Write([]byte(string(padded[i : i+2])))
		vec[h.Sum32()%Dimensions]++
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		norm = 1
	}
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// Cosine returns the cosine similarity of a and b, 0 when they are
// empty or of different lengths.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
