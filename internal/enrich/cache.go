package enrich

import (
	"context"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/musicrpc/musicrpc/internal/song"
)

const defaultCacheSize = 256

type cacheEntry struct {
	art  Artwork
	miss bool
}

// Cached fronts an Enricher with an in-memory LRU and an optional SQLite
// store. Misses are remembered in memory for the session only. Transient
// failures and partial results are not remembered at all.
type Cached struct {
	next   Enricher
	mem    *lru.Cache[string, cacheEntry]
	store  *Store
	group  singleflight.Group
	logger *slog.Logger
}

// CacheOptions configures NewCached.
type CacheOptions struct {
	Size   int
	Store  *Store // may be nil
	Logger *slog.Logger
}

func NewCached(next Enricher, opts CacheOptions) (*Cached, error) {
	if opts.Size <= 0 {
		opts.Size = defaultCacheSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	mem, err := lru.New[string, cacheEntry](opts.Size)
	if err != nil {
		return nil, err
	}
	return &Cached{next: next, mem: mem, store: opts.Store, logger: opts.Logger}, nil
}

// CacheKey identifies a song for caching, independent of player and case.
func CacheKey(info song.Info) string {
	return strings.ToLower(info.Artist) + "\x00" + strings.ToLower(info.Title)
}

func (c *Cached) Enrich(ctx context.Context, info song.Info) (Artwork, error) {
	key := CacheKey(info)
	if e, ok := c.mem.Get(key); ok {
		if e.miss {
			return Artwork{}, ErrNoMatch
		}
		return e.art, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if c.store != nil {
			art, ok, err := c.store.Get(ctx, key)
			if err != nil {
				c.logger.Debug("artwork cache read failed", slog.Any("err", err))
			} else if ok {
				c.mem.Add(key, cacheEntry{art: art})
				return art, nil
			}
		}
		art, err := c.next.Enrich(ctx, info)
		if IsNoMatch(err) {
			c.mem.Add(key, cacheEntry{miss: true})
			return Artwork{}, err
		}
		if IsPartial(err) {
			c.logger.Debug("partial artwork not cached", slog.Any("err", err))
			return art, err
		}
		if err != nil {
			return Artwork{}, err
		}
		c.mem.Add(key, cacheEntry{art: art})
		if c.store != nil {
			if err := c.store.Put(ctx, key, art); err != nil {
				c.logger.Debug("artwork cache write failed", slog.Any("err", err))
			}
		}
		return art, nil
	})
	art, _ := v.(Artwork)
	return art, err
}

// Len is the number of in-memory entries, hits and misses.
func (c *Cached) Len() int { return c.mem.Len() }
