package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/banshee-data/articulate/internal/api"
	"github.com/banshee-data/articulate/internal/config"
	"github.com/banshee-data/articulate/internal/db"
	"github.com/banshee-data/articulate/internal/monitoring"
	"github.com/banshee-data/articulate/internal/session"
	"github.com/banshee-data/articulate/internal/transport/grpcstream"
	"github.com/banshee-data/articulate/internal/transport/ws"
	"github.com/banshee-data/articulate/internal/version"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		fs := flag.NewFlagSet("migrate", flag.ExitOnError)
		dbPath := fs.String("db", "articulate.db", "Path to the sqlite database")
		fs.Parse(os.Args[2:])
		if err := db.RunMigrateCommand(fs.Args(), *dbPath, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	if opts.showVersion {
		fmt.Println("articulate-server", version.String())
		return
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := monitoring.Configure(monitoring.LogConfig{Level: cfg.GetLogLevel(), JSON: cfg.GetLogJSON()}); err != nil {
		log.Fatalf("logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts.dev); err != nil {
		monitoring.Base().Fatal().Err(err).Msg("server failed")
	}
}

// run serves HTTP and gRPC until ctx is cancelled, then drains sessions.
func run(ctx context.Context, cfg *config.ServerConfig, dev bool) error {
	logger := monitoring.Component("main")

	ref, err := openReference(ctx, cfg)
	if err != nil {
		return err
	}
	if ref.store != nil {
		defer ref.store.Close()
	}

	det, err := newDetector(cfg, ref.anim, dev)
	if err != nil {
		return err
	}

	opts := session.Options{
		Detector: det,
		Metrics:  monitoring.NewMetrics(prometheus.DefaultRegisterer),
	}
	var runs api.RunLister
	if ref.store != nil {
		opts.Runs = ref.store
		runs = ref.store
	}
	mgr, err := session.NewManager(ref.anim, sessionConfig(cfg), opts)
	if err != nil {
		return err
	}

	router := api.NewServer(mgr, ws.NewHandler(mgr, cfg.GetAllowedOrigins()), runs, prometheus.DefaultGatherer).Router()
	httpServer := &http.Server{
		Addr:              cfg.GetListenAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var grpcServer *grpc.Server
	if addr := cfg.GetGRPCAddr(); addr != "" {
		grpcServer = grpcstream.NewGRPCServer()
		grpcstream.NewServer(mgr).Register(grpcServer)
	}

	logger.Info().
		Str("animation", ref.anim.Name()).
		Int("frames", ref.anim.Len()).
		Int("cardinality", ref.anim.Cardinality()).
		Msg("reference animation loaded")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if grpcServer != nil {
		g.Go(func() error {
			lis, err := net.Listen("tcp", cfg.GetGRPCAddr())
			if err != nil {
				return fmt.Errorf("failed to listen: %w", err)
			}
			logger.Info().Str("addr", cfg.GetGRPCAddr()).Msg("gRPC server listening")
			return grpcServer.Serve(lis)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := mgr.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("sessions did not drain")
		}
		if grpcServer != nil {
			stopGRPC(shutdownCtx, grpcServer)
		}
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// stopGRPC drains in-flight streams, forcing them closed if ctx expires.
func stopGRPC(ctx context.Context, s *grpc.Server) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.Stop()
	}
}
