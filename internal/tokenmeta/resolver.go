package tokenmeta

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"weightedVault/internal/model"
)

const (
	defaultCacheSize   = 1024
	defaultConcurrency = 8
)

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	CacheSize   int
	Concurrency int
	Retry       RetryPolicy
	Logger      *zap.Logger
}

// Resolver fetches token metadata with a bounded LRU cache in front of the
// RPC endpoint. It is safe for concurrent use.
type Resolver struct {
	caller      Caller
	cache       *lru.Cache[common.Address, model.TokenMeta]
	concurrency int
	retry       RetryPolicy
	logger      *zap.Logger

	mu     sync.Mutex
	hits   uint64
	misses uint64
}

func NewResolver(caller Caller, cfg ResolverConfig) (*Resolver, error) {
	if caller == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cache, err := lru.New[common.Address, model.TokenMeta](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Resolver{
		caller:      caller,
		cache:       cache,
		concurrency: cfg.Concurrency,
		retry:       cfg.Retry,
		logger:      cfg.Logger,
	}, nil
}

// Token returns the metadata of one token.
func (r *Resolver) Token(ctx context.Context, token common.Address) (model.TokenMeta, error) {
	if meta, ok := r.cache.Get(token); ok {
		r.count(true)
		return meta, nil
	}
	r.count(false)

	var meta model.TokenMeta
	err := r.retry.do(ctx, r.logger, "token meta "+token.Hex(), func(ctx context.Context) error {
		var err error
		meta, err = FetchTokenMeta(ctx, r.caller, token, r.logger)
		return err
	})
	if err != nil {
		return model.TokenMeta{}, fmt.Errorf("token %s: %w", token.Hex(), err)
	}
	r.cache.Add(token, meta)
	return meta, nil
}

// Tokens resolves every token concurrently and returns them in input order.
// The first failure cancels the rest.
func (r *Resolver) Tokens(ctx context.Context, tokens []common.Address) ([]model.TokenMeta, error) {
	out := make([]model.TokenMeta, len(tokens))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, token := range tokens {
		i, token := i, token
		g.Go(func() error {
			meta, err := r.Token(gctx, token)
			if err != nil {
				return err
			}
			out[i] = meta
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats reports cache hits and misses.
func (r *Resolver) Stats() (hits, misses uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hits, r.misses
}

func (r *Resolver) count(hit bool) {
	r.mu.Lock()
	if hit {
		r.hits++
	} else {
		r.misses++
	}
	r.mu.Unlock()
}
