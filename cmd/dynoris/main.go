package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/caarlos0/env/v11"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mutabot/dynoris"
	"github.com/mutabot/dynoris/httpapi"
	"github.com/mutabot/dynoris/lease"
	zaplog "github.com/mutabot/dynoris/logger/zap"
	"github.com/mutabot/dynoris/stamp"
	"github.com/mutabot/dynoris/store"
)

type config struct {
	Listen      string        `env:"DYNORIS_LISTEN" envDefault:":5100"`
	RedisAddr   string        `env:"DYNORIS_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB     int           `env:"DYNORIS_REDIS_DB" envDefault:"0"`
	LeaseWindow time.Duration `env:"DYNORIS_LEASE_WINDOW" envDefault:"1m"`
	// LeaseMode picks the checkout design: "window" or "refcount".
	LeaseMode   string `env:"DYNORIS_LEASE_MODE" envDefault:"window"`
	TablePrefix string `env:"DYNORIS_TABLE_PREFIX"`
	Debug       bool   `env:"DYNORIS_DEBUG"`
}

func main() {
	zl, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer zl.Sync()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		zl.Fatal("parse environment", zap.Error(err))
	}
	if cfg.Debug {
		if dl, err := zap.NewDevelopment(); err == nil {
			zl = dl
		}
	}
	log := zaplog.Logger{L: zl}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		zl.Fatal("load aws config", zap.Error(err))
	}
	ddb := dynamodb.NewFromConfig(awsCfg)

	fast, err := store.NewRedis(store.RedisConfig{
		Client: goredis.NewClient(&goredis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		}),
		CloseClient: true,
	})
	if err != nil {
		zl.Fatal("redis store", zap.Error(err))
	}
	defer fast.Close(context.Background())

	leaseCfg := lease.Config{
		Store:  fast,
		Window: cfg.LeaseWindow,
		Logger: log,
	}
	var leases lease.Store
	switch cfg.LeaseMode {
	case "refcount":
		leases, err = lease.NewRefCounted(leaseCfg)
	default:
		leases, err = lease.NewTimeWindow(leaseCfg)
	}
	if err != nil {
		zl.Fatal("lease store", zap.Error(err))
	}

	engine, err := dynoris.New(dynoris.Options{
		Dynamo: ddb,
		Fast:   fast,
		Leases: leases,
		Logger: log,
	})
	if err != nil {
		zl.Fatal("engine", zap.Error(err))
	}

	stamps, err := stamp.New(ddb)
	if err != nil {
		zl.Fatal("stamp provider", zap.Error(err))
	}
	stamps.TablePrefix = cfg.TablePrefix

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: httpapi.NewServer(engine, stamps, log).Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zl.Info("listening", zap.String("addr", cfg.Listen), zap.String("leaseMode", cfg.LeaseMode))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		zl.Fatal("server", zap.Error(err))
	}
}
