package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fuelrats/rescue-api-go/apiclient"
	"github.com/fuelrats/rescue-api-go/board"
	"github.com/fuelrats/rescue-api-go/board/snapshot"
	"github.com/fuelrats/rescue-api-go/config"
	"github.com/fuelrats/rescue-api-go/relay"
	amqprelay "github.com/fuelrats/rescue-api-go/relay/amqp"
	"github.com/fuelrats/rescue-api-go/relay/feed"
	"github.com/fuelrats/rescue-api-go/storage"
	"github.com/fuelrats/rescue-api-go/storage/memory"
	pebblestore "github.com/fuelrats/rescue-api-go/storage/pebble"
	redisstore "github.com/fuelrats/rescue-api-go/storage/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 10 * time.Second

type app struct {
	cfg config.Config
	log *slog.Logger
	reg *prometheus.Registry
}

func newApp(cfg config.Config, log *slog.Logger) *app {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &app{cfg: cfg, log: log, reg: reg}
}

func openStorage(cfg config.Storage) (storage.Storage, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		return redisstore.New(redisstore.Config{Client: client, KeyPrefix: cfg.RedisPrefix})
	case config.BackendPebble:
		return pebblestore.Open(cfg.PebblePath)
	default:
		return memory.New(cfg.MemorySize)
	}
}

func endpoint(cfg config.API) apiclient.Endpoint {
	return apiclient.Endpoint{Host: cfg.Host, Token: cfg.Token, Secure: cfg.Secure}
}

func (a *app) run(ctx context.Context, configPath string) error {
	store, err := openStorage(a.cfg.Storage)
	if err != nil {
		return fmt.Errorf("open %s storage: %w", a.cfg.Storage.Backend, err)
	}
	defer store.Close()

	b := board.New(board.WithLogger(a.log))
	snap := snapshot.New(store, a.cfg.API.Host, snapshot.WithTTL(a.cfg.Storage.TTL), snapshot.WithLogger(a.log))
	if n, err := snap.Restore(ctx, b); err != nil {
		a.log.WarnContext(ctx, "rescue_sync.restore_failed", slog.String("err", err.Error()))
	} else if n > 0 {
		a.log.InfoContext(ctx, "rescue_sync.restored", slog.Int("rescues", n))
	}
	snap.Attach(b)

	changes := feed.New(a.cfg.Relay.FeedHistory)
	defer changes.Close()
	relayOpts := []relay.Option{
		relay.WithPublisher(changes),
		relay.WithProducer(a.cfg.Relay.Producer),
		relay.WithLogger(a.log),
	}
	if a.cfg.Relay.AMQPURL != "" {
		pub, err := amqprelay.Dial(ctx, amqprelay.DialOptions{
			URL:      a.cfg.Relay.AMQPURL,
			Exchange: a.cfg.Relay.Exchange,
			Attempts: 5,
			Delay:    time.Second,
		}, amqprelay.WithLogger(a.log), amqprelay.WithAppID(a.cfg.Relay.Producer))
		if err != nil {
			return err
		}
		defer pub.Close()
		relayOpts = append(relayOpts, relay.WithPublisher(pub))
	}
	relay.New(relayOpts...).Attach(b)

	sess, err := a.connect(ctx, b)
	if err != nil {
		return err
	}

	if a.cfg.HTTP.Addr != "" {
		srv := &http.Server{
			Addr:              a.cfg.HTTP.Addr,
			Handler:           newStatusHandler(a.reg, b, changes, sess, a.log),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.ErrorContext(ctx, "rescue_sync.http_failed", slog.String("err", err.Error()))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, a.log, func(c config.Config) {
				if err := sess.Reconfigure(ctx, endpoint(c.API)); err != nil {
					a.log.WarnContext(ctx, "rescue_sync.reconfigure_failed", slog.String("err", err.Error()))
				}
			})
			if err != nil {
				a.log.WarnContext(ctx, "rescue_sync.watch_failed", slog.String("err", err.Error()))
			}
		}()
	}

	a.keepConnected(ctx, sess, b)

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sess.Disconnect(sctx); err != nil && !errors.Is(err, apiclient.ErrNotConnected) {
		return err
	}
	return nil
}

func (a *app) sessionOptions(b *board.Board) []apiclient.Option {
	opts := []apiclient.Option{
		apiclient.WithLogger(a.log),
		apiclient.WithTimeout(a.cfg.API.Timeout),
		apiclient.WithMetrics(apiclient.NewMetrics(a.reg)),
		apiclient.WithLegacyHandshake(a.cfg.API.LegacyHandshake),
		apiclient.WithBoard(b),
	}
	if a.cfg.API.RateLimit > 0 {
		opts = append(opts, apiclient.WithRateLimit(rate.Limit(a.cfg.API.RateLimit), a.cfg.API.RateBurst))
	}
	return opts
}

// connect opens the first session, negotiating the version unless one is
// pinned, and retries until ctx is done.
func (a *app) connect(ctx context.Context, b *board.Board) (*apiclient.Session, error) {
	opts := a.sessionOptions(b)
	var versions []apiclient.Version
	if a.cfg.API.Version != "" {
		v, err := apiclient.ParseVersion(a.cfg.API.Version)
		if err != nil {
			return nil, err
		}
		versions = []apiclient.Version{v}
	}
	for {
		sess, err := apiclient.ConnectAny(ctx, endpoint(a.cfg.API), versions, opts...)
		if err == nil {
			a.sync(ctx, sess, b)
			return sess, nil
		}
		var vm *apiclient.VersionMismatchError
		if errors.As(err, &vm) {
			return nil, err
		}
		a.log.WarnContext(ctx, "rescue_sync.connect_failed", slog.String("err", err.Error()))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.cfg.API.ReconnectDelay):
		}
	}
}

// keepConnected reconnects sess after it drops until ctx is done.
func (a *app) keepConnected(ctx context.Context, sess *apiclient.Session, b *board.Board) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Closed():
		}
		changed := sess.Changed()
		switch sess.State() {
		case apiclient.StateOpen:
			// Reconfigure already replaced the connection.
			continue
		case apiclient.StateConnecting, apiclient.StateHandshaking:
			select {
			case <-ctx.Done():
				return
			case <-changed:
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.cfg.API.ReconnectDelay):
		}
		err := sess.Connect(ctx)
		switch {
		case err == nil:
			a.sync(ctx, sess, b)
		case errors.Is(err, apiclient.ErrAlreadyConnected):
		default:
			a.log.WarnContext(ctx, "rescue_sync.reconnect_failed", slog.String("err", err.Error()))
		}
	}
}

func (a *app) sync(ctx context.Context, sess *apiclient.Session, b *board.Board) {
	if err := sess.SyncBoard(ctx, b); err != nil {
		a.log.WarnContext(ctx, "rescue_sync.sync_failed", slog.String("err", err.Error()))
		return
	}
	a.log.InfoContext(ctx, "rescue_sync.synced", slog.Int("rescues", b.Len()))
}
