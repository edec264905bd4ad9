package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/faceverify/internal/auth"
	"github.com/example/faceverify/internal/azureface"
	"github.com/example/faceverify/internal/config"
	"github.com/example/faceverify/internal/grpcclient"
	"github.com/example/faceverify/internal/handlers"
	"github.com/example/faceverify/internal/healthcheck"
	"github.com/example/faceverify/internal/logging"
	"github.com/example/faceverify/internal/metrics"
	"github.com/example/faceverify/internal/repository"
	"github.com/example/faceverify/internal/usecase"
)

// identityStore is the store surface main needs beyond the use case.
type identityStore interface {
	usecase.Store
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(runHealthcheck())
	}

	cfg, err := config.Load(".env")
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	store := openStore(ctx, cfg.Store, logger)
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn("store close failed", zap.Error(err))
		}
	}()

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.Redis.Addr, logger)
	defer redisClient.Close()

	recognizer := azureface.NewClient(azureface.Options{
		Endpoint:         cfg.Azure.Endpoint,
		Key:              cfg.Azure.Key,
		RecognitionModel: cfg.Azure.RecognitionModel,
		DetectionModel:   cfg.Azure.DetectionModel,
		Timeout:          cfg.Azure.Timeout,
	}, logger)

	m := metrics.NewDefault()
	uc := usecase.NewVerificationUseCase(store, recognizer, logger, usecase.Options{
		FaceIDValidity:          cfg.Face.FaceIDValidity,
		EnforceRegistrationGate: cfg.Face.EnforceRegistrationGate,
		Cache:                   usecase.NewRedisCache(redisClient, "faceverify:"),
		SettingsTTL:             cfg.Redis.SettingsTTL,
		Recorder:                m,
	})

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.MaxMultipartMemory = cfg.HTTP.MaxUploadBytes
	r.Use(gin.Recovery(), handlers.RequestID(), m.Instrument())

	handlers.RegisterRoutes(r, uc, auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience), handlers.Options{
		Health:         store,
		Metrics:        m.Handler(),
		MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
		Logger:         logger,
	})

	healthServer := health.NewServer()
	grpcServer, err := startHealthServer(cfg.HTTP.HealthAddr, healthServer, logger)
	if err != nil {
		logger.Fatal("failed to start gRPC health server", zap.Error(err))
	}
	defer grpcServer.GracefulStop()

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	go healthcheck.NewMonitor(store, healthServer, cfg.HTTP.HealthInterval, logger).Run(monitorCtx)

	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: r,
	}

	logger.Info("face verification API listening", zap.String("addr", cfg.HTTP.Addr), zap.String("health_addr", cfg.HTTP.HealthAddr))
	if err := serveHTTPServer(server, cfg.HTTP.ShutdownTimeout, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
	}
}

// openStore connects the configured store. A store that cannot be opened is
// replaced by repository.Unavailable so the process keeps serving health and metrics.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) identityStore {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var (
		store identityStore
		err   error
	)
	switch cfg.Driver {
	case config.StorePostgres:
		store, err = repository.OpenPostgres(connectCtx, cfg.PostgresDSN, logger)
	default:
		store, err = repository.ConnectMongo(connectCtx, cfg.MongoURI, cfg.MongoDB, logger)
	}
	if err != nil {
		logger.Error("failed to open store, serving degraded", zap.String("driver", cfg.Driver), zap.Error(err))
		return repository.Unavailable{Err: err}
	}
	return store
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Warn("redis unavailable, settings will be read from the store", zap.String("addr", addr), zap.Error(err))
	}
	return client
}

func startHealthServer(addr string, hs *health.Server, logger *zap.Logger) (*grpc.Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server := grpc.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("gRPC health server stopped", zap.Error(err))
		}
	}()
	return server, nil
}

// runHealthcheck probes the local gRPC health service and returns the process exit code.
func runHealthcheck() int {
	cfg, _ := config.Load(".env")
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	probe, conn, err := grpcclient.DialHealth(ctx, dialAddr(cfg.HTTP.HealthAddr), logger)
	if err != nil {
		return 1
	}
	defer conn.Close()

	ok, err := probe.Check(ctx, healthcheck.ServiceName)
	if err != nil || !ok {
		return 1
	}
	return 0
}

// dialAddr turns a listen address such as ":9090" into one a client can dial.
func dialAddr(listenAddr string) string {
	if strings.HasPrefix(listenAddr, ":") {
		return "localhost" + listenAddr
	}
	return listenAddr
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
