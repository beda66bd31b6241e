package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

// BoardFetcher loads a board snapshot from the source of truth.
type BoardFetcher interface {
	GetBoard(ctx context.Context, boardID string) (domain.Board, error)
}

type transient interface {
	Transient() bool
}

// Cache keeps the last fetched snapshot of every board in Redis and serves
// it when the backing fetch fails with a transient error.
type Cache struct {
	base  BoardFetcher
	redis *redis.Client
	ttl   time.Duration
	log   *log.Logger
}

// NewCache wraps base with a Redis-backed snapshot cache using the given TTL.
func NewCache(base BoardFetcher, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base fetcher is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl, log: log.StandardLogger()}
}

func (c *Cache) GetBoard(ctx context.Context, boardID string) (domain.Board, error) {
	b, err := c.base.GetBoard(ctx, boardID)
	if err == nil {
		c.storeBoard(ctx, b)
		return b, nil
	}
	var t transient
	if !errors.As(err, &t) || !t.Transient() {
		return domain.Board{}, err
	}
	cached, ok := c.loadBoard(ctx, boardID)
	if !ok {
		return domain.Board{}, err
	}
	c.log.WithError(err).WithField("boardId", boardID).Warn("serving cached board snapshot")
	return cached, nil
}

// Evict drops the cached snapshot of the board.
func (c *Cache) Evict(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
}

func (c *Cache) loadBoard(ctx context.Context, boardID string) (domain.Board, bool) {
	if c.redis == nil {
		return domain.Board{}, false
	}
	data, err := c.redis.Get(ctx, boardCacheKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		}
		return domain.Board{}, false
	}
	var b domain.Board
	if err := sonic.Unmarshal(data, &b); err != nil {
		_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		return domain.Board{}, false
	}
	if err := b.Normalize(); err != nil {
		_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		return domain.Board{}, false
	}
	return b, true
}

func (c *Cache) storeBoard(ctx context.Context, b domain.Board) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(b)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, boardCacheKey(b.ID), data, c.ttl).Err()
}

func boardCacheKey(boardID string) string {
	return "board-snapshot:" + boardID
}
