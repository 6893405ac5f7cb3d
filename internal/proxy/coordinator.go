package proxy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/catcache/internal/cache"
	"github.com/any-hub/catcache/internal/logging"
	"github.com/any-hub/catcache/internal/metrics"
	"github.com/any-hub/catcache/internal/origin"
)

// Outcome 描述一次读取的缓存结果，写入日志字段与 X-Cache-Outcome 响应头。
type Outcome string

const (
	OutcomeHit        Outcome = "hit"
	OutcomeMiss       Outcome = "miss"
	OutcomeBackfilled Outcome = "backfilled"
	OutcomeNotFound   Outcome = "not_found"
)

// outcomeBackfillWriteFailed 只计数，不作为 Get 的返回值。
const outcomeBackfillWriteFailed = "backfill_write_failed"

// CoordinatorOptions 汇总 Coordinator 的依赖，Fetcher 为 nil 时 Get 退化为只读。
type CoordinatorOptions struct {
	Store   cache.Store
	Fetcher origin.Fetcher
	Logger  *logrus.Logger
	Metrics *metrics.Recorder

	// CollapseFetches 为 true 时同一 key 的并发回源只执行一次（回源 + 回填在同一 flight 内完成）。
	CollapseFetches bool
}

// Coordinator 编排 “读缓存 → 回源 → 回填” 以及写入/删除，本身不持有任何跨请求的正文。
// 不对 key 加锁：并发 PUT 以最后完成者为准，并发未命中会各自回源（除非开启 CollapseFetches）。
type Coordinator struct {
	store   cache.Store
	fetcher origin.Fetcher
	logger  *logrus.Logger
	metrics *metrics.Recorder
	flights *singleflight.Group
}

// NewCoordinator constructs a coordinator; Store is required.
func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	c := &Coordinator{
		store:   opts.Store,
		fetcher: opts.Fetcher,
		logger:  logger,
		metrics: opts.Metrics,
	}
	if opts.CollapseFetches && opts.Fetcher != nil {
		c.flights = &singleflight.Group{}
	}
	return c, nil
}

// FetchEnabled 表示是否配置了回源。
func (c *Coordinator) FetchEnabled() bool {
	return c.fetcher != nil
}

// Get 返回 key 的正文。命中返回 OutcomeHit；未命中且回源成功返回 OutcomeBackfilled，
// 回填写入失败只记录日志，正文照常返回。未命中且无回源、或回源失败时返回包裹
// cache.ErrNotFound 的错误；存储读取故障返回包裹 cache.ErrStorage 的错误且不回源。
func (c *Coordinator) Get(ctx context.Context, key cache.Key) ([]byte, Outcome, error) {
	started := time.Now()
	defer func() { c.metrics.ObserveLatency("get", time.Since(started)) }()

	data, err := c.store.Read(ctx, key)
	switch {
	case err == nil:
		c.observe(key, OutcomeHit)
		return data, OutcomeHit, nil
	case errors.Is(err, cache.ErrNotFound):
	default:
		c.logger.WithError(err).WithFields(logging.CacheFields("cache_read", key.String())).Error("cache_read_failed")
		return nil, "", err
	}

	c.observe(key, OutcomeMiss)
	if c.fetcher == nil {
		return nil, OutcomeMiss, fmt.Errorf("%w: %s", cache.ErrNotFound, key)
	}

	data, err = c.fetchAndBackfill(ctx, key)
	if err != nil {
		c.logger.WithError(err).WithFields(logging.CacheFields("origin_fetch", key.String())).Warn("origin_fetch_failed")
		c.observe(key, OutcomeNotFound)
		return nil, OutcomeNotFound, fmt.Errorf("%w: %s: %w", cache.ErrNotFound, key, err)
	}

	c.observe(key, OutcomeBackfilled)
	return data, OutcomeBackfilled, nil
}

func (c *Coordinator) fetchAndBackfill(ctx context.Context, key cache.Key) ([]byte, error) {
	if c.flights == nil {
		return c.fetchOnce(ctx, key)
	}
	// flight 由多个请求共享，不能随首个调用方的请求取消而失败。
	flightCtx := context.WithoutCancel(ctx)
	v, err, shared := c.flights.Do(key.String(), func() (interface{}, error) {
		return c.fetchOnce(flightCtx, key)
	})
	if shared {
		c.logger.WithFields(logging.CacheFields("origin_fetch", key.String())).Debug("origin_fetch_shared")
	}
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Coordinator) fetchOnce(ctx context.Context, key cache.Key) ([]byte, error) {
	started := time.Now()
	data, err := c.fetcher.Fetch(ctx, key)
	c.metrics.ObserveLatency("origin_fetch", time.Since(started))
	if err != nil {
		return nil, err
	}

	if werr := c.store.Write(ctx, key, data); werr != nil {
		c.metrics.ObserveOutcome(outcomeBackfillWriteFailed)
		c.logger.WithError(werr).WithFields(logging.CacheFields("cache_backfill", key.String())).Error("cache_backfill_failed")
	}
	return data, nil
}

// Put 以 data 整体覆盖 key 的条目。
func (c *Coordinator) Put(ctx context.Context, key cache.Key, data []byte) error {
	started := time.Now()
	defer func() { c.metrics.ObserveLatency("put", time.Since(started)) }()

	fields := logging.CacheFields("cache_put", key.String())
	fields["size_bytes"] = len(data)
	if err := c.store.Write(ctx, key, data); err != nil {
		c.logger.WithError(err).WithFields(fields).Error("cache_put_failed")
		return err
	}
	c.metrics.ObserveOutcome("stored")
	c.logger.WithFields(fields).Info("cache_stored")
	return nil
}

// Delete 删除 key 的条目，不存在时返回包裹 cache.ErrNotFound 的错误。
func (c *Coordinator) Delete(ctx context.Context, key cache.Key) error {
	started := time.Now()
	defer func() { c.metrics.ObserveLatency("delete", time.Since(started)) }()

	fields := logging.CacheFields("cache_delete", key.String())
	if err := c.store.Delete(ctx, key); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			c.logger.WithFields(fields).Info("cache_delete_missing")
		} else {
			c.logger.WithError(err).WithFields(fields).Error("cache_delete_failed")
		}
		return err
	}
	c.metrics.ObserveOutcome("deleted")
	c.logger.WithFields(fields).Info("cache_deleted")
	return nil
}

func (c *Coordinator) observe(key cache.Key, outcome Outcome) {
	c.metrics.ObserveOutcome(string(outcome))
	c.logger.WithFields(logging.CacheFields("cache_lookup", key.String())).
		WithField("outcome", string(outcome)).
		Info("cache_" + string(outcome))
}
