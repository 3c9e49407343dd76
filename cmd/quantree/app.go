package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mExOms/quantree/internal/jobs"
	"github.com/mExOms/quantree/internal/marketdata"
	"github.com/mExOms/quantree/internal/monitor"
	"github.com/mExOms/quantree/pkg/cache"
)

func bind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %s: %v", flag.Name, err))
	}
}

// priceStore is the loader plus whatever cache backs it
type priceStore struct {
	loader *marketdata.Loader
	redis  *cache.RedisCache
	memory *cache.MemoryCache
}

// openPrices reads CSVs from the data dir through Redis when enabled, or an
// in-process cache otherwise. A failing Redis falls back to memory.
func openPrices(ctx context.Context, metrics *monitor.Metrics) *priceStore {
	logger := logrus.WithField("component", "prices")
	store := &priceStore{}

	var tables marketdata.TableCache
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.Warnf("Redis unavailable, caching in memory: %v", err)
		} else {
			store.redis = rc
			tables = rc
		}
	}
	if tables == nil {
		store.memory = cache.NewMemoryCache()
		tables = store.memory
	}

	store.loader = marketdata.NewLoader(marketdata.NewCSVSource(cfg.Data.Dir), tables, cfg.Data.CacheTTL)
	if metrics != nil {
		store.loader.OnCacheLookup(metrics.TableCacheLookup)
	}
	return store
}

func (p *priceStore) Close() {
	if p.redis != nil {
		p.redis.Close()
	}
	if p.memory != nil {
		p.memory.Close()
	}
}

func defaults() jobs.Defaults {
	return jobs.Defaults{
		Workers:     cfg.Optimizer.Workers,
		MaxBranches: cfg.Optimizer.MaxBranches,
		TopK:        cfg.Optimizer.TopK,
		Mode:        cfg.FillMode(),
		CostBps:     cfg.Optimizer.CostBps,
	}
}

// readRequest decodes a JSON file, or stdin for "-"
func readRequest(path string, v interface{}) error {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open request: %w", err)
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("failed to decode request %s: %w", path, err)
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
