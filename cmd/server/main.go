package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/orvull/sparkcards/internal/config"
	"github.com/orvull/sparkcards/internal/credentials"
	"github.com/orvull/sparkcards/internal/google"
	"github.com/orvull/sparkcards/internal/log"
	"github.com/orvull/sparkcards/internal/server"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Logger().WithError(err).Fatal("Unable to load configuration")
	}
	log.Configure(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.Logger().WithError(err).Fatal("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Logger().WithError(err).Fatal("Server stopped")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger := log.Logger()

	creds, err := credentials.New(ctx, cfg)
	if err != nil {
		return err
	}
	backend, err := server.NewBackend(ctx, cfg, creds)
	if err != nil {
		return err
	}
	signer, err := server.NewSigner(ctx, cfg, creds)
	if err != nil {
		return err
	}

	metrics := server.NewMetrics()
	svc := server.New(cfg, backend, signer, server.WithMetrics(metrics))
	handler := server.NewRouter(svc, server.RouterOptions{
		Metrics:      metrics,
		Limiter:      server.NewRateLimiter(cfg.IssueRatePerMinute, cfg.IssueBurst),
		StaffKeyHash: cfg.StaffKeyHash,
		Verifier:     google.NewVerifier(cfg.StaffAudience, cfg.StaffEmailList()),
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	grpcServer, healthServer := newHealthServer()

	errs := make(chan error, 2)
	go func() {
		logger.WithField("addr", cfg.GRPCAddr).Info("gRPC health listening")
		errs <- grpcServer.Serve(lis)
	}()
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":     cfg.HTTPAddr,
			"issuer":   cfg.IssuerID,
			"class":    cfg.ClassID,
			"strategy": creds.Strategy(),
			"backend":  cfg.WalletBackend,
		}).Info("SparkCards HTTP listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errs <- err
			return
		}
		errs <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err = <-errs:
	}

	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	grpcServer.GracefulStop()
	return err
}

// newHealthServer serves grpc.health.v1 with the overall status SERVING.
func newHealthServer() (*grpc.Server, *health.Server) {
	s := grpc.NewServer()
	h := health.NewServer()
	h.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.SetServingStatus("sparkcards", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, h)
	return s, h
}
