package embedding

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS embeddings (
	key        TEXT NOT NULL,
	text       TEXT NOT NULL,
	model      TEXT NOT NULL,
	version    TEXT NOT NULL,
	vector     TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (key, model, version)
);
`

// Cache is the durable embedding cache. One database file per
// model/version pair.
type Cache struct {
	db      *sql.DB
	path    string
	model   string
	version string
}

// OpenCache opens (or creates) <dir>/<model>_<version>.db.
func OpenCache(dir, model, version string) (*Cache, error) {
	if dir == "" {
		dir = ".embeddings_cache"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.db", model, version))

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache: %w", err)
	}
	return &Cache{db: db, path: path, model: model, version: version}, nil
}

// Path returns the database file location.
func (c *Cache) Path() string { return c.path }

func (c *Cache) Get(ctx context.Context, key string) ([]float64, bool, error) {
	var raw string
	err := c.db.QueryRowContext(ctx,
		`SELECT vector FROM embeddings WHERE key = ? AND model = ? AND version = ?`,
		key, c.model, c.version,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query embedding: %w", err)
	}

	var vec []float64
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil, false, fmt.Errorf("decode embedding: %w", err)
	}
	return vec, true, nil
}

// Put upserts the vector; last writer wins.
func (c *Cache) Put(ctx context.Context, key, text string, vec []float64) error {
	raw, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO embeddings (key, text, model, version, vector, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key, model, version) DO UPDATE SET vector = excluded.vector`,
		key, text, c.model, c.version, string(raw), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}
