package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Options selects and configures the enrichment pipeline.
type Options struct {
	Provider  string // deezer or itunes
	Timeout   time.Duration
	LocalTags bool
	// StorePath enables the persistent cache when set.
	StorePath string
	CacheDays int
	Logger    *slog.Logger
}

// Pipeline is the assembled enricher plus the resources it owns.
type Pipeline struct {
	*Cached
	store *Store
}

// Build assembles local tags, the remote provider, and caching. Expired
// entries are pruned from the store on open.
func Build(opts Options) (*Pipeline, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	var remote Enricher
	switch strings.ToLower(opts.Provider) {
	case "", "deezer":
		remote = NewDeezer(opts.Timeout)
	case "itunes":
		remote = NewITunes(opts.Timeout)
	default:
		return nil, fmt.Errorf("unknown enrich provider %q", opts.Provider)
	}

	var chain Chain
	if opts.LocalTags {
		chain = append(chain, LocalTags{})
	}
	chain = append(chain, remote)

	var store *Store
	if opts.StorePath != "" {
		s, err := OpenStore(opts.StorePath, opts.CacheDays)
		if err != nil {
			return nil, err
		}
		store = s
		n, err := store.Prune(context.Background())
		if err != nil {
			opts.Logger.Warn("artwork cache prune failed", slog.Any("err", err))
		} else if n > 0 {
			opts.Logger.Debug("pruned artwork cache", slog.Int64("removed", n))
		}
	}
	cached, err := NewCached(chain, CacheOptions{Store: store, Logger: opts.Logger})
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}
	return &Pipeline{Cached: cached, store: store}, nil
}

func (p *Pipeline) Close() error {
	if p.store == nil {
		return nil
	}
	return p.store.Close()
}
