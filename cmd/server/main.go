package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/marketplace-api/internal/account"
	"github.com/iliyamo/marketplace-api/internal/authz"
	"github.com/iliyamo/marketplace-api/internal/clock"
	"github.com/iliyamo/marketplace-api/internal/config"
	"github.com/iliyamo/marketplace-api/internal/database"
	"github.com/iliyamo/marketplace-api/internal/handler"
	"github.com/iliyamo/marketplace-api/internal/logger"
	"github.com/iliyamo/marketplace-api/internal/queue"
	"github.com/iliyamo/marketplace-api/internal/rating"
	"github.com/iliyamo/marketplace-api/internal/repository"
	"github.com/iliyamo/marketplace-api/internal/review"
	"github.com/iliyamo/marketplace-api/internal/router"
	"github.com/iliyamo/marketplace-api/internal/security"
	"github.com/iliyamo/marketplace-api/internal/session"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.Any("err", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.Into(ctx, log)

	db, err := database.Open(ctx, cfg.Database())
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, db, cfg.DBDriver); err != nil {
			return err
		}
		log.Info("schema migrated", slog.String("driver", cfg.DBDriver))
	}

	clk := clock.Real()
	ic, err := cfg.Issuer()
	if err != nil {
		return err
	}
	issuer, err := security.NewTokenIssuer(ic, clk)
	if err != nil {
		return err
	}
	vault := security.NewPasswordVault(cfg.BcryptCost)

	var events queue.Publisher = queue.Nop{}
	if cfg.RabbitMQURL != "" {
		events = queue.NewAMQPPublisher(cfg.RabbitMQURL)
	} else {
		log.Info("RABBITMQ_URL not set; domain events disabled")
	}

	ledger, err := session.NewLedger(db, issuer,
		session.Config{AccessTTL: cfg.AccessTTL, RefreshTTL: cfg.RefreshTTL},
		session.WithClock(clk), session.WithPublisher(events))
	if err != nil {
		return err
	}
	accounts := account.NewService(db, vault, ledger, account.Options{Clock: clk, RevokeOnDeactivate: cfg.RevokeOnDeactivate})
	reviews := review.NewService(db, rating.NewAggregator(db), events, clk)
	gate := authz.NewGate(issuer, repository.NewUserRepo(db))

	rdb, err := config.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable; rate limiting and caching disabled", slog.Any("err", err))
		rdb = nil
	} else {
		defer rdb.Close()
	}

	e := router.New(router.Deps{
		Log:       log,
		DB:        db,
		Redis:     rdb,
		RateLimit: cfg.RateLimit,
		Cache:     cfg.Cache,
		Gate:      gate,
		Auth:      handler.NewAuthHandler(accounts, ledger),
		Reviews:   handler.NewReviewHandler(reviews),
		Products:  handler.NewProductHandler(repository.NewProductRepo(db), clk),
		Admin:     handler.NewAdminHandler(accounts),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		log.Info("listening", slog.String("addr", addr), slog.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return ledger.Sweep(gctx, cfg.SweepInterval) })
	if cfg.RabbitMQURL != "" {
		consumer := queue.NewConsumer(cfg.RabbitMQURL, cfg.EventLogDir, log.With(slog.String("component", "event-consumer")))
		g.Go(func() error { return consumer.Run(gctx) })
	}
	return g.Wait()
}
