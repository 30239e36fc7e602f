// Command authbridge serves the authbridge HTTP API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/authbridge"
	"github.com/MrEthical07/authbridge/auditqueue"
	"github.com/MrEthical07/authbridge/directory/postgres"
	"github.com/MrEthical07/authbridge/httpapi"
	"github.com/MrEthical07/authbridge/idp"
	promexport "github.com/MrEthical07/authbridge/metrics/export/prometheus"
	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := loadConfig()
	log := newLogger(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			AttachStacktrace: true,
		}); err != nil {
			log.Fatal().Err(err).Msg("init sentry")
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx := context.Background()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to database")
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := postgres.Migrate(db); err != nil {
			log.Fatal().Err(err).Msg("apply migrations")
		}
	}

	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("parse REDIS_URL")
	}
	rdb := redis.NewClient(redisOpt)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("ping redis")
	}

	provider, err := idp.New(idp.Config{BaseURL: cfg.IdPBaseURL, APIKey: cfg.IdPAPIKey, Timeout: cfg.IdPTimeout})
	if err != nil {
		log.Fatal().Err(err).Msg("identity provider client")
	}

	asynqOpt := asynq.RedisClientOpt{Addr: redisOpt.Addr, Username: redisOpt.Username, Password: redisOpt.Password, DB: redisOpt.DB}
	var sink authbridge.AuditSink = authbridge.NewLogSink(log.With().Str("component", "audit").Logger())
	if cfg.AuditQueue {
		client := asynq.NewClient(asynqOpt)
		defer client.Close()
		sink = auditqueue.NewSink(client, auditqueue.Config{}, log)
	}

	var worker *asynq.Server
	if cfg.AuditWorker {
		worker = asynq.NewServer(asynqOpt, asynq.Config{
			Concurrency: 2,
			Queues:      map[string]int{"audit": 1},
		})
		mux := auditqueue.NewServeMux(authbridge.NewLogSink(log.With().Str("component", "audit-worker").Logger()), log)
		if err := worker.Start(mux); err != nil {
			log.Fatal().Err(err).Msg("start audit worker")
		}
	}

	engine, err := authbridge.New().
		WithConfig(cfg.Engine).
		WithRedis(rdb).
		WithUserDirectory(postgres.New(db)).
		WithIdentityProvider(provider).
		WithAuditSink(sink).
		WithLogger(log).
		Build()
	if err != nil {
		log.Fatal().Err(err).Msg("build engine")
	}
	defer engine.Close()

	metrics, err := promexport.NewCollector(engine).Handler(nil)
	if err != nil {
		log.Fatal().Err(err).Msg("metrics handler")
	}

	router := httpapi.NewRouter(httpapi.Config{
		Service: engine,
		Logger:  log,
		Cookie: httpapi.CookieConfig{
			Name:     cfg.CookieName,
			Domain:   cfg.CookieDomain,
			Path:     cfg.CookiePath,
			Secure:   cfg.CookieSecure,
			SameSite: httpapi.ParseSameSite(cfg.CookieSameSite),
		},
		RateLimit:      httpapi.RateLimitConfig{RequestsPerWindow: cfg.RateLimitPerMinute, Window: time.Minute},
		Metrics:        metrics,
		IsDevelopment:  cfg.isDevelopment(),
		TrustedProxies: cfg.TrustedProxies,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	if worker != nil {
		worker.Shutdown()
	}
	log.Info().Msg("server stopped")
}

func newLogger(cfg serverConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	var log zerolog.Logger
	if cfg.LogFormat == "console" || cfg.isDevelopment() {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Str("service", "authbridge").Logger()
}
