package main

import (
	"context"
	"flag"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/kmelchor/floodgate/internal/admission"
	"github.com/kmelchor/floodgate/internal/admission/memory"
	"github.com/kmelchor/floodgate/internal/admission/redisstore"
	"github.com/kmelchor/floodgate/internal/config"
	"github.com/kmelchor/floodgate/internal/gateway"
	"github.com/kmelchor/floodgate/internal/obs"
	"github.com/kmelchor/floodgate/internal/proxy"
)

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *cfgPath).Msg("load config")
	}

	logger := obs.SetupLogger(cfg.Observability.LogLevel)

	target, err := url.Parse(cfg.Upstream.URL)
	if err != nil || target.Host == "" {
		logger.Fatal().Err(err).Str("url", cfg.Upstream.URL).Msg("invalid upstream url")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg)

	// admission backend: shared Redis buckets when configured, else local memory
	var ctrl admission.Controller
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancelPing := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancelPing()
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis ping")
		}

		ctrl = redisstore.New(rdb, redisstore.WithIdleTTL(cfg.Limits.IdleTTL()))
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("using shared redis buckets")
	} else {
		store := memory.New(
			memory.WithMaxClients(cfg.Limits.MaxClients),
			memory.WithIdleTTL(cfg.Limits.IdleTTL()),
		)
		store.StartJanitor(ctx)
		obs.TrackedClients(reg, store.Len)
		ctrl = store
	}
	defer func() { _ = ctrl.Close() }()

	policies := config.NewPolicyHolder(cfg.Limits.Policy())
	if err := config.WatchLimits(ctx, *cfgPath, policies, logger); err != nil {
		logger.Warn().Err(err).Msg("config watch unavailable, policy is fixed until restart")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("v0.1.0"))
	})
	mux.Handle(cfg.Observability.PrometheusPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", proxy.Handler(target, cfg.Upstream.Timeout(), proxy.NewHTTPTransport()))

	skip := map[string]struct{}{
		"/health":  {},
		"/version": {},
	}
	skip[cfg.Observability.PrometheusPath] = struct{}{}

	keyFn := gateway.DefaultKeyFunc(cfg.Identity.KeyHeader, cfg.Identity.TrustXFF)

	handler := gateway.Chain(
		mux,
		obs.Logger(logger),
		metrics.Middleware(skip),
		gateway.BodyLimit(int(cfg.Server.MaxBody())),
		gateway.Concurrency(gateway.ConcurrencyOptions{
			Max:            cfg.Concurrency.MaxInFlight,
			AcquireTimeout: cfg.Concurrency.AcquireTimeout(),
			OnRejected:     metrics.Overloaded.Inc,
		}),
		gateway.RateLimit(
			ctrl,
			policies.Current,
			keyFn,
			skip,
			func(d time.Duration) {
				metrics.Delayed.Inc()
				metrics.DelaySeconds.Observe(d.Seconds())
			},
			metrics.RateLimited.Inc,
			metrics.LimiterErrors.Inc,
		),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout(),
		IdleTimeout:       cfg.Server.IdleTimeout(),
		ReadTimeout:       cfg.Server.ReadTimeout(),
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("upstream", target.String()).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("bye")
}
