// Package meshcache persists generated chunk meshes in SQLite so regions
// revisited across runs skip generation.
package meshcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	_ "modernc.org/sqlite"

	"github.com/aukilabs/terrain/config"
	"github.com/aukilabs/terrain/heightmap"
	"github.com/aukilabs/terrain/mesh"
	"github.com/aukilabs/terrain/models"
)

const (
	// ErrTypeCorrupted is the error type returned when a cached mesh cannot
	// be decoded.
	ErrTypeCorrupted = "mesh-cache-corrupted"
)

// Store is a SQLite backed mesh cache. It is safe for concurrent use.
type Store struct {
	db      *sql.DB
	timeout time.Duration
}

// Open opens or creates the cache database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("empty mesh cache path")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.New("creating mesh cache directory failed").
				WithTag("path", path).
				Wrap(err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New("opening mesh cache failed").
			WithTag("path", path).
			Wrap(err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS meshes (
			key TEXT PRIMARY KEY,
			region_id INTEGER NOT NULL,
			subdivisions INTEGER NOT NULL,
			data BLOB NOT NULL,
			created_at INTEGER NOT NULL
		);`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.New("initializing mesh cache failed").
				WithTag("path", path).
				Wrap(err)
		}
	}

	return &Store{
		db:      db,
		timeout: 5 * time.Second,
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Key returns the cache key of a request over a fingerprinted height field.
func Key(req models.MeshRequest, fingerprint string, skirtDepth float32) string {
	h := sha256.New()
	h.Write([]byte(fingerprint))

	var buf [4]byte
	for _, v := range []float32{
		req.Bounds.Center[0],
		req.Bounds.Center[1],
		req.Bounds.HalfSize,
		skirtDepth,
	} {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		h.Write(buf[:])
	}
	binary.LittleEndian.PutUint32(buf[:], req.Subdivisions)
	h.Write(buf[:])

	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached mesh for key, if any.
func (s *Store) Get(ctx context.Context, key string) (models.MeshData, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM meshes WHERE key = ?", key).Scan(&data)
	if err == sql.ErrNoRows {
		return models.MeshData{}, false, nil
	}
	if err != nil {
		return models.MeshData{}, false, errors.New("reading cached mesh failed").
			WithTag("key", key).
			Wrap(err)
	}

	m, err := mesh.Decode(data)
	if err != nil {
		return models.MeshData{}, false, errors.New("decoding cached mesh failed").
			WithType(ErrTypeCorrupted).
			WithTag("key", key).
			Wrap(err)
	}
	return m, true, nil
}

// Put stores a mesh under key, replacing any previous entry.
func (s *Store) Put(ctx context.Context, key string, req models.MeshRequest, m models.MeshData) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meshes (key, region_id, subdivisions, data, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, created_at = excluded.created_at`,
		key,
		int64(req.RegionID),
		int64(req.Subdivisions),
		mesh.Encode(m),
		time.Now().Unix(),
	)
	if err != nil {
		return errors.New("writing cached mesh failed").
			WithTag("key", key).
			Wrap(err)
	}
	return nil
}

// Len returns the number of cached meshes.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM meshes").Scan(&n); err != nil {
		return 0, errors.New("counting cached meshes failed").Wrap(err)
	}
	return n, nil
}

// Wrap returns a build function that serves meshes from the cache and
// stores the ones it has to build. Sources without a fingerprint bypass
// the cache. Cache failures are logged and fall back to building.
func (s *Store) Wrap(build mesh.BuildFunc) mesh.BuildFunc {
	return func(req models.MeshRequest, src heightmap.Source, c config.TerrainConfig) models.MeshData {
		fingerprint := src.Fingerprint()
		if fingerprint == "" {
			instrumentLookup(lookupBypass)
			return build(req, src, c)
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		key := Key(req, fingerprint, c.SkirtDepth)

		m, ok, err := s.Get(ctx, key)
		if err != nil {
			logs.WithTag("region_id", req.RegionID).Warn(err)
		}
		if ok {
			instrumentLookup(lookupHit)
			return m
		}
		instrumentLookup(lookupMiss)

		m = build(req, src, c)
		if err := s.Put(ctx, key, req, m); err != nil {
			logs.WithTag("region_id", req.RegionID).Warn(err)
		}
		return m
	}
}
