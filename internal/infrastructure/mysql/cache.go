package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"openscan/internal/application"
	"openscan/internal/domain"

	"github.com/redis/go-redis/v9"
)

const (
	cacheVersionKey = "openscan:read:version"
	cacheKeyPrefix  = "openscan:read:v"
	defaultCacheTTL = time.Hour
)

type CacheConfig struct {
	Addr string
	TTL  time.Duration
}

// CachedRepository layers a Redis read cache over the MySQL gateway. Every
// committed write unit bumps a version counter, which retires all cached
// query results at once. Cache failures degrade to direct reads.
type CachedRepository struct {
	*Repository
	cache *redis.Client
	ttl   time.Duration
}

func NewCachedRepository(base *Repository, cfg CacheConfig) (*CachedRepository, error) {
	if base == nil {
		return nil, errors.New("base repository is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return &CachedRepository{Repository: base}, nil
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &CachedRepository{Repository: base, cache: client, ttl: cfg.TTL}, nil
}

func (r *CachedRepository) UpsertBlock(ctx context.Context, block domain.Block, txs []domain.Transaction, receipts []domain.Receipt, logs []domain.Log) error {
	if err := r.Repository.UpsertBlock(ctx, block, txs, receipts, logs); err != nil {
		return err
	}
	r.invalidate(ctx)
	return nil
}

func (r *CachedRepository) QueryBlocks(ctx context.Context, filter application.BlockQueryFilter) ([]domain.Block, error) {
	var blocks []domain.Block
	key := r.keyFor(ctx, blockCacheKey(filter))
	if r.cachedRead(ctx, key, &blocks) {
		return blocks, nil
	}
	blocks, err := r.Repository.QueryBlocks(ctx, filter)
	if err != nil {
		return nil, err
	}
	r.cacheWrite(ctx, key, blocks)
	return blocks, nil
}

func (r *CachedRepository) QueryLogs(ctx context.Context, filter application.LogQueryFilter) ([]domain.Log, error) {
	var logs []domain.Log
	key := r.keyFor(ctx, logCacheKey(filter))
	if r.cachedRead(ctx, key, &logs) {
		return logs, nil
	}
	logs, err := r.Repository.QueryLogs(ctx, filter)
	if err != nil {
		return nil, err
	}
	r.cacheWrite(ctx, key, logs)
	return logs, nil
}

// cachedRead reports whether key resolved to a usable cached value.
func (r *CachedRepository) cachedRead(ctx context.Context, key string, out any) bool {
	if r.cache == nil || key == "" {
		return false
	}
	cached, err := r.cache.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(cached), out) == nil
}

func (r *CachedRepository) cacheWrite(ctx context.Context, key string, value any) {
	if r.cache == nil || key == "" {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = r.cache.Set(ctx, key, payload, r.ttl).Err()
}

func (r *CachedRepository) invalidate(ctx context.Context) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Incr(ctx, cacheVersionKey).Err()
}

func (r *CachedRepository) Close() error {
	if r.cache != nil {
		_ = r.cache.Close()
	}
	return r.Repository.Close()
}

func (r *CachedRepository) version(ctx context.Context) (string, bool) {
	version, err := r.cache.Get(ctx, cacheVersionKey).Result()
	if err == nil {
		return version, true
	}
	if errors.Is(err, redis.Nil) {
		return "0", true
	}
	return "", false
}

// keyFor prefixes a query key with the current cache version. An empty
// result means the cache cannot serve this read.
func (r *CachedRepository) keyFor(ctx context.Context, suffix string) string {
	if r.cache == nil {
		return ""
	}
	version, ok := r.version(ctx)
	if !ok {
		return ""
	}
	return cacheKeyPrefix + version + ":" + suffix
}

func blockCacheKey(filter application.BlockQueryFilter) string {
	return strings.Join([]string{
		"blocks",
		optUint(filter.ChainID),
		optUint(filter.Number),
		strings.ToLower(filter.Hash),
		optUint(filter.FromBlock),
		optUint(filter.ToBlock),
		strconv.Itoa(normalizeLimit(filter.Limit)),
	}, ":")
}

func logCacheKey(filter application.LogQueryFilter) string {
	return strings.Join([]string{
		"logs",
		optUint(filter.ChainID),
		strings.ToLower(filter.Address),
		strings.ToLower(filter.TxHash),
		strings.ToLower(filter.Topic0),
		optUint(filter.FromBlock),
		optUint(filter.ToBlock),
		strconv.Itoa(normalizeLimit(filter.Limit)),
	}, ":")
}

func optUint(value *uint64) string {
	if value == nil {
		return "any"
	}
	return strconv.FormatUint(*value, 10)
}
