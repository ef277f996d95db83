package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chartdesk/config"
	"chartdesk/internal/cache"
	"chartdesk/internal/gateway"
	"chartdesk/internal/logger"
	"chartdesk/internal/marketdata/fetcher"
	"chartdesk/internal/marketdata/provider"
	"chartdesk/internal/metrics"
	"chartdesk/internal/model"
	"chartdesk/internal/store/sqlite"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

var processStart = time.Now()

func main() {
	lg := logger.Init("chartdesk", slog.LevelInfo)
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cache backend
	var c cache.Cache
	var rdb *goredis.Client
	switch cfg.CacheBackend {
	case "redis":
		r, err := cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Fatalf("[chartdesk] redis cache: %v", err)
		}
		c = r
		rdb = r.Client()
		lg.Info("cache backend: redis", "addr", cfg.RedisAddr)
	default:
		c = cache.NewMemory()
		lg.Info("cache backend: memory")
	}

	// Local candle store
	writer, err := sqlite.New(sqlite.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[chartdesk] sqlite: %v", err)
	}
	defer writer.Close()
	reader, err := sqlite.NewReader(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[chartdesk] sqlite reader: %v", err)
	}
	defer reader.Close()

	batchCh := make(chan sqlite.Batch, 64)

	// Providers, ranked by config order
	providers := buildProviders(cfg.ParseProviders(), lg)
	if len(providers) == 0 {
		log.Fatal("[chartdesk] no valid providers configured")
	}

	// Metrics
	m := metrics.NewMetrics()
	writer.OnCommit = func(d time.Duration) { m.SQLiteWriteDur.Observe(d.Seconds()) }
	go writer.Run(ctx, batchCh)
	health := metrics.NewHealthStatus(cfg.CacheBackend == "redis")
	health.StartLivenessChecker(ctx, rdb, writer.DB(), 15*time.Second)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()
	defer metricsSrv.Stop(context.Background())

	// Fetch pipeline
	f := fetcher.New(providers, c, fetcher.Config{
		MinCallSpacing: cfg.MinCallSpacing,
		CandleTTL:      cfg.CandleTTL,
		LookupTTL:      cfg.LookupTTL,
	}, lg)
	f.OnCacheHit = func() { m.CacheHitsTotal.Inc() }
	f.OnCacheMiss = func() { m.CacheMissesTotal.Inc() }
	f.OnProviderFailure = func(name string) { m.FetchFailures.WithLabelValues(name).Inc() }
	f.OnRetry = func(name string) { m.FetchRetries.WithLabelValues(name).Inc() }
	f.OnServed = func(prov, symbol string, tf model.Timeframe, candles model.Series) {
		m.FetchesTotal.WithLabelValues(prov).Inc()
		m.CandlesFetched.Add(float64(len(candles)))
		health.SetLastFetch(time.Now())
		select {
		case batchCh <- sqlite.Batch{Source: prov, Symbol: symbol, Timeframe: tf, Candles: candles}:
		default:
			lg.Warn("store queue full, dropping batch", "symbol", symbol, "bars", len(candles))
		}
	}

	// Gateway
	hub := gateway.NewHub()
	hub.OnClientCount = func(n int) { m.WSClients.Set(float64(n)) }
	hub.OnMessage = func() { m.WSMessagesTotal.Inc() }

	registry := gateway.NewRegistry(timedSource{f, m}, reader, hub, lg)
	registry.OnPaneCount = func(n int) { m.ActivePanes.Set(float64(n)) }

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, gateway.Deps{
		Registry: registry,
		Hub:      hub,
		Metrics:  m,
		Start:    processStart,
	})

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		lg.Info("serving", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[chartdesk] server error: %v", err)
		}
	}()

	<-sigCh
	lg.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}

func buildProviders(names []string, lg *slog.Logger) []provider.Provider {
	var out []provider.Provider
	for _, name := range names {
		switch name {
		case "binance":
			out = append(out, provider.NewBinance(""))
		case "bybit":
			out = append(out, provider.NewBybit(""))
		case "coinbase":
			out = append(out, provider.NewCoinbase(""))
		case "yahoo":
			out = append(out, provider.NewYahoo(""))
		default:
			lg.Warn("unknown provider in config, skipping", "provider", name)
		}
	}
	return out
}

// timedSource wraps the fetcher with the fetch-duration histogram.
type timedSource struct {
	*fetcher.Fetcher
	m *metrics.Metrics
}

func (t timedSource) Fetch(ctx context.Context, key, symbol string, tf model.Timeframe) (model.Series, error) {
	timer := prometheus.NewTimer(t.m.FetchDur)
	defer timer.ObserveDuration()
	return t.Fetcher.Fetch(ctx, key, symbol, tf)
}
