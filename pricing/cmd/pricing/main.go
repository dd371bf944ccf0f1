package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/SWLivingstone/margin-calculator/pricing/internal/auth"
	"github.com/SWLivingstone/margin-calculator/pricing/internal/config"
	"github.com/SWLivingstone/margin-calculator/pricing/internal/handler"
	"github.com/SWLivingstone/margin-calculator/pricing/internal/logging"
	"github.com/SWLivingstone/margin-calculator/pricing/internal/logic"
	"github.com/SWLivingstone/margin-calculator/pricing/internal/mq"
	"github.com/SWLivingstone/margin-calculator/pricing/internal/store"
	"github.com/SWLivingstone/margin-calculator/pricing/internal/worker"
)

func main() {
	// 1. Configuration
	cfg, err := config.Load("pricing/.env")
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Database
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database driver")
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ping database")
	}
	if err := store.Migrate(ctx, db, 5); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}
	catalogStore := store.NewCatalogStore(db)
	logger.Info().Msg("connected to pricing database")

	// 3. Floor price cache
	priceCache := store.NewPriceCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
	defer priceCache.Close()
	if err := priceCache.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("failed to connect to redis")
	}

	// 4. Floor price publisher
	var publisher worker.FloorPricePublisher
	if cfg.Publisher.Enabled {
		pub, err := mq.NewPublisher(cfg.Publisher.Addr)
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.Publisher.Addr).Msg("failed to start zmq publisher")
		}
		defer pub.Close()
		publisher = pub
		logger.Info().Str("addr", cfg.Publisher.Addr).Msg("zmq publisher active")
	}

	solver := logic.Solver{
		MaxExpansions: cfg.Solver.MaxExpansions,
		MaxBisections: cfg.Solver.MaxBisections,
	}
	pricing := handler.NewPricing(catalogStore, priceCache, solver, logger)
	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.ClientID, cfg.Auth.SecretHash, cfg.Auth.AccessTokenTTL)

	var limiter *handler.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = handler.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.NewRouter(pricing, issuer, limiter),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	grpcServer := grpc.NewServer()
	handler.RegisterMarginServiceServer(grpcServer, handler.NewGRPCHandler(pricing))

	g, gctx := errgroup.WithContext(ctx)

	// 5. HTTP API
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("pricing HTTP API running")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// 6. gRPC API
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return err
		}
		logger.Info().Str("addr", cfg.GRPC.Addr).Msg("pricing gRPC service running")
		return grpcServer.Serve(lis)
	})

	// 7. Background re-pricer
	if cfg.Repricer.Enabled {
		repricer := worker.NewRepricer(catalogStore, priceCache, publisher, solver, cfg.Repricer.Interval, cfg.Repricer.Timeout, logger)
		g.Go(func() error {
			return repricer.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("pricing service stopped")
	}
}
