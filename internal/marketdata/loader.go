package marketdata

import (
	"context"
	"time"

	"github.com/mExOms/quantree/pkg/types"
	"github.com/sirupsen/logrus"
)

// TableCache stores aligned tables by CacheKey
type TableCache interface {
	GetTable(ctx context.Context, key string) (*types.PriceTable, bool)
	SetTable(ctx context.Context, key string, table *types.PriceTable, ttl time.Duration) error
}

// Loader aligns tables through an optional cache
type Loader struct {
	aligner *Aligner
	cache   TableCache
	ttl     time.Duration
	logger  *logrus.Entry

	onLookup func(hit bool)
}

// NewLoader creates a loader; cache may be nil
func NewLoader(source Source, cache TableCache, ttl time.Duration) *Loader {
	return &Loader{
		aligner: NewAligner(source),
		cache:   cache,
		ttl:     ttl,
		logger:  logrus.WithField("component", "price-loader"),
	}
}

// OnCacheLookup registers fn to observe every cache hit or miss
func (l *Loader) OnCacheLookup(fn func(hit bool)) {
	l.onLookup = fn
}

// Load returns the aligned table for tickers over r
func (l *Loader) Load(ctx context.Context, tickers []string, r Range) (*types.PriceTable, error) {
	key := CacheKey(tickers, r)
	if l.cache != nil {
		table, ok := l.cache.GetTable(ctx, key)
		if l.onLookup != nil {
			l.onLookup(ok)
		}
		if ok {
			l.logger.Debugf("Cache hit for %s", key)
			return table, nil
		}
	}

	table, err := l.aligner.Align(tickers, r)
	if err != nil {
		return nil, err
	}

	if l.cache != nil {
		if err := l.cache.SetTable(ctx, key, table, l.ttl); err != nil {
			l.logger.Warnf("Failed to cache %s: %v", key, err)
		}
	}
	return table, nil
}
