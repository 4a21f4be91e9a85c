// Package embedcache persists skill embedding vectors keyed by (path,
// content_hash) so a restart with no skill changes skips re-embedding.
// Adapted from the sqlite-backed vector store idiom used elsewhere in the
// codebase's memory subsystem, backed here by modernc.org/sqlite to keep
// the daemon free of cgo.
package embedcache

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Cache is a sqlite-backed embedding vector cache.
type Cache struct {
	db *sql.DB
}

// Open opens (creating if necessary) the cache database at path.
func Open(path string) (*Cache, error) {
	if path == "" {
		return nil, fmt.Errorf("embedcache: path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("embedcache: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("embedcache: open: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS skill_embeddings (
	path TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	vector BLOB NOT NULL,
	PRIMARY KEY (path, content_hash)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("embedcache: migrate: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Get returns the cached vector for (path, contentHash), or ok=false on a
// cache miss.
func (c *Cache) Get(path, contentHash string) (vector []float32, ok bool, err error) {
	var blob []byte
	row := c.db.QueryRow(`SELECT vector FROM skill_embeddings WHERE path = ? AND content_hash = ?`, path, contentHash)
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("embedcache: get: %w", err)
	}
	return decodeVector(blob), true, nil
}

// Put stores the vector for (path, contentHash), replacing any prior
// entry for that path (a content change invalidates the old hash's row
// implicitly by never being looked up again; Put still evicts stale rows
// for the same path so the table doesn't grow unbounded across rescans).
func (c *Cache) Put(path, contentHash string, vector []float32) error {
	if _, err := c.db.Exec(`DELETE FROM skill_embeddings WHERE path = ? AND content_hash != ?`, path, contentHash); err != nil {
		return fmt.Errorf("embedcache: evict stale: %w", err)
	}
	_, err := c.db.Exec(
		`INSERT INTO skill_embeddings (path, content_hash, vector) VALUES (?, ?, ?)
		 ON CONFLICT(path, content_hash) DO UPDATE SET vector = excluded.vector`,
		path, contentHash, encodeVector(vector),
	)
	if err != nil {
		return fmt.Errorf("embedcache: put: %w", err)
	}
	return nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
