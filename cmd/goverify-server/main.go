// Command goverify-server runs the verification HTTP API.
//
//	goverify-server -config config/config.yaml
//
// Without a config file it listens on :8080, stores users and tokens in a
// local sqlite file and logs codes instead of mailing them. JWT_SECRET must
// be set.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/internal/config"
	"github.com/MrEthical07/goVerify/internal/httpapi"
	"github.com/MrEthical07/goVerify/internal/janitor"
	"github.com/MrEthical07/goVerify/internal/logging"
	"github.com/MrEthical07/goVerify/metrics/export/prometheus"
	"github.com/MrEthical07/goVerify/notify"
	"github.com/MrEthical07/goVerify/repository"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("GOVERIFY_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(logging.Config{Level: cfg.Log.Level, Dev: cfg.Log.Dev, File: cfg.Log.File})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := repository.Close(db); err != nil {
			log.Warn("error closing database", zap.Error(err))
		}
	}()

	notifier, err := buildNotifier(cfg, log)
	if err != nil {
		return err
	}

	sink, closeSink, err := buildAuditSink(cfg, log)
	if err != nil {
		return err
	}
	defer closeSink()

	builder := goVerify.New().
		WithConfig(cfg.Engine()).
		WithUserStore(repository.NewUserStore(db)).
		WithNotifier(notifier).
		WithLogger(log).
		WithAuditSink(sink)

	// With Redis, tokens and rate limits live there and expire by TTL.
	// Otherwise tokens go to the database and the janitor sweeps them.
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		builder = builder.WithRedis(client)
	} else {
		tokens := repository.NewTokenStore(db)
		builder = builder.WithTokenStore(tokens)

		if cfg.Janitor.Interval > 0 {
			j, err := janitor.New(tokens, janitor.Config{
				Interval:  cfg.Janitor.Interval,
				Retention: cfg.Janitor.Retention,
			}, log)
			if err != nil {
				return err
			}
			go j.Run(ctx)
		}
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	if !cfg.Log.Dev {
		gin.SetMode(gin.ReleaseMode)
	}
	router, err := httpapi.NewRouter(httpapi.Options{
		Engine:         engine,
		Logger:         log,
		Metrics:        prometheus.NewPrometheusExporter(engine).Handler(),
		TrustedProxies: cfg.Server.TrustedProxies,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr), zap.Bool("redis", cfg.Redis.Addr != ""))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	level := logger.Warn
	if cfg.Log.Dev {
		level = logger.Info
	}
	db, err := repository.Open(repository.DBConfig{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		LogLevel:        level,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	switch cfg.Database.Schema {
	case "migrate":
		err = repository.Migrate(db)
	case "auto":
		err = repository.AutoMigrate(db)
	}
	if err != nil {
		_ = repository.Close(db)
		return nil, fmt.Errorf("prepare schema: %w", err)
	}
	return db, nil
}

func buildNotifier(cfg *config.Config, log *zap.Logger) (goVerify.Notifier, error) {
	if !cfg.Email.Enabled() {
		log.Warn("SMTP not configured, verification codes are logged")
		return notify.NewLogNotifier(log), nil
	}
	return notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUser,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.FromEmail,
		AppName:  cfg.Email.AppName,
	})
}

// buildAuditSink logs audit events through zap and, when configured, appends
// them to a JSON-lines file as well.
func buildAuditSink(cfg *config.Config, log *zap.Logger) (goVerify.AuditSink, func(), error) {
	zapSink := goVerify.NewZapSink(log)
	if cfg.Log.AuditFile == "" {
		return zapSink, func() {}, nil
	}
	f, err := os.OpenFile(cfg.Log.AuditFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit file: %w", err)
	}
	closeFn := func() {
		if err := f.Close(); err != nil {
			log.Warn("error closing audit file", zap.Error(err))
		}
	}
	return goVerify.NewFanoutSink(zapSink, goVerify.NewJSONWriterSink(f)), closeFn, nil
}
