package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"board-sync/api"
	"board-sync/mutation"
	"board-sync/realtime"
	"board-sync/remote"
	"board-sync/session"
	"board-sync/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand(func(cmd *cobra.Command, cfg Config) error {
		logger := newLogger(cfg, cmd.ErrOrStderr())
		return run(cmd.Context(), cfg, logger)
	})
	if err := cmd.ExecuteContext(ctx); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg Config, logger *log.Logger) error {
	reg := prometheus.NewRegistry()
	tokens := remote.NewRefreshingTokenSource(cfg.AuthToken, nil)
	client := remote.New(cfg.APIBaseURL, tokens)

	var rc *redis.Client
	if cfg.RedisConnectionString != "" {
		opts, err := redisOptions(cfg.RedisConnectionString)
		if err != nil {
			return err
		}
		rc = redis.NewClient(opts)
		defer rc.Close()
	}
	var fetcher session.Fetcher = client
	if rc != nil && cfg.BoardCacheTTL > 0 {
		fetcher = storage.NewCache(client, rc, cfg.BoardCacheTTL)
	}

	store := storage.New()
	mutations := mutation.New(store, client, mutation.NotifierFunc(func(f mutation.Failure) {
		logger.WithError(f.Err).WithFields(log.Fields{"op": f.Op, "id": f.EntityID}).Warn("change rolled back")
	}))
	mutations.Log = logger
	mutations.Metrics = mutation.NewMetrics(reg)

	rtMetrics := realtime.NewMetrics(reg)
	router := realtime.NewRouter(store, realtime.DefaultDedupeSize)
	router.Log = logger
	router.Metrics = rtMetrics

	var transport realtime.Transport
	switch cfg.SocketTransport {
	case transportRedis:
		tr := realtime.NewRedisTransport(rc)
		tr.Log = logger
		tr.Metrics = rtMetrics
		transport = tr
	default:
		ws := realtime.NewWebSocket(cfg.SocketURL, tokens)
		ws.Log = logger
		ws.Metrics = rtMetrics
		transport = ws
	}

	sess := session.New(store, fetcher, mutations, router, transport)
	sess.Log = logger
	sess.Members = client

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	api.Register(e, store, sess, mutations, logger, api.Options{Token: cfg.LocalAPIToken, Registry: reg})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := transport.Run(ctx, sess); err != nil {
			return fmt.Errorf("push channel: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", cfg.ListenAddr).Info("local api listening")
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("local api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if v := sess.View(); v != nil {
			v.Close()
		}
		return e.Shutdown(sctx)
	})
	if cfg.BoardID != "" {
		g.Go(func() error {
			if _, err := sess.Open(ctx, cfg.WorkspaceID, cfg.BoardID); err != nil {
				logger.WithError(err).WithField("boardId", cfg.BoardID).Error("open board failed")
			}
			return nil
		})
	}
	return g.Wait()
}
