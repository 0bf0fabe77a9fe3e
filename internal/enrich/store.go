package enrich

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists lookups across runs in SQLite so a restart does not hit the
// remote services again for recently seen songs.
type Store struct {
	db     *sql.DB
	maxAge time.Duration
	now    func() time.Time
}

// OpenStore opens (or creates) the artwork cache at dbPath. Entries older than
// cacheDays are treated as missing.
func OpenStore(dbPath string, cacheDays int) (*Store, error) {
	if cacheDays <= 0 {
		cacheDays = 30
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open artwork db: %w", err)
	}
	s := &Store{db: db, maxAge: time.Duration(cacheDays) * 24 * time.Hour, now: time.Now}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS artwork (
			key TEXT PRIMARY KEY,
			cover_url TEXT NOT NULL DEFAULT '',
			artist_url TEXT NOT NULL DEFAULT '',
			link TEXT NOT NULL DEFAULT '',
			album TEXT NOT NULL DEFAULT '',
			fetched_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS artwork_fetched_at ON artwork(fetched_at);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate artwork schema: %w", err)
		}
	}
	return nil
}

// Get returns a fresh entry for key.
func (s *Store) Get(ctx context.Context, key string) (Artwork, bool, error) {
	var art Artwork
	var fetched int64
	err := s.db.QueryRowContext(ctx,
		`SELECT cover_url, artist_url, link, album, fetched_at FROM artwork WHERE key = ?`, key).
		Scan(&art.CoverURL, &art.ArtistImageURL, &art.Link, &art.Album, &fetched)
	if errors.Is(err, sql.ErrNoRows) {
		return Artwork{}, false, nil
	}
	if err != nil {
		return Artwork{}, false, fmt.Errorf("load artwork: %w", err)
	}
	if s.now().Sub(time.Unix(fetched, 0)) > s.maxAge {
		return Artwork{}, false, nil
	}
	return art, true, nil
}

// Put stores or replaces the entry for key.
func (s *Store) Put(ctx context.Context, key string, art Artwork) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO artwork (key, cover_url, artist_url, link, album, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		key, art.CoverURL, art.ArtistImageURL, art.Link, art.Album, s.now().Unix())
	if err != nil {
		return fmt.Errorf("save artwork: %w", err)
	}
	return nil
}

// Prune deletes expired entries and returns how many were removed.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.maxAge).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM artwork WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune artwork: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
