// Command waitgate-server starts the waitgate gRPC server.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/waitgate/internal/config"
	"github.com/and161185/waitgate/internal/identity"
	"github.com/and161185/waitgate/internal/limiter"
	"github.com/and161185/waitgate/internal/migrate"
	"github.com/and161185/waitgate/internal/repository"
	"github.com/and161185/waitgate/internal/repository/memory"
	"github.com/and161185/waitgate/internal/repository/postgres"
	"github.com/and161185/waitgate/internal/secret"
	grpcserver "github.com/and161185/waitgate/internal/server/grpc"
	"github.com/and161185/waitgate/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// backend is the storage selected by configuration.
type backend struct {
	stores   service.Stores
	accounts repository.AccountStore
	lim      limiter.Limiter
	close    func()
}

// main loads configuration, prepares storage and serves gRPC until signalled.
func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		// logger is not configured yet
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}

	logger, _ := zap.NewProduction()
	if cfg.Dev {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("storage", zap.Error(err))
	}
	defer be.close()

	signKey := []byte(cfg.JWTKey)
	idp := identity.NewLocal(be.accounts, identity.LogMailer{Log: logger}, signKey,
		identity.WithResetURL(cfg.ResetURL))
	probe, err := identity.NewProbe(cfg.ProbePolicy, idp)
	if err != nil {
		logger.Fatal("probe policy", zap.Error(err))
	}
	verifier, err := identity.NewVerifier(cfg.VerifyPolicy, idp)
	if err != nil {
		logger.Fatal("verify policy", zap.Error(err))
	}

	// Services
	admin := service.BootstrapAdmin{ID: cfg.BootstrapAdminID, Email: cfg.BootstrapAdminEmail}
	waitSvc := service.NewWaitlistService(be.stores.Records, logger)
	provSvc := service.NewProvisioningService(be.stores, idp, probe, verifier, secret.New(), logger)
	reconSvc := service.NewReconciliationService(be.stores, admin, cfg.Permissions(), logger, service.WithAccountLookup(idp))
	authSvc := service.NewAuthService(idp, idp, signKey, cfg.AccessTTL, be.lim, logger)

	// gRPC server with interceptors
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger),
		),
		grpc.ChainStreamInterceptor(
			grpcserver.RecoverStream(logger),
			grpcserver.LoggingStream(logger),
		),
	}
	if cfg.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("TLS disabled; set -tls-cert and -tls-key in production")
	}
	s := grpc.NewServer(opts...)

	// App service
	app := grpcserver.New(waitSvc, provSvc, reconSvc, authSvc, signKey, logger)
	app.Register(s)

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if cfg.Dev {
		reflection.Register(s)
	}

	// Repair collections once before serving.
	if res, err := reconSvc.Run(ctx); err != nil {
		logger.Warn("startup reconciliation", zap.Error(err))
	} else {
		logger.Info("startup reconciliation",
			zap.Int("users", len(res.Users)),
			zap.Int("writes", res.Writes),
			zap.Int("failedWrites", len(res.FailedWrites)),
		)
	}

	// Listen
	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.Bool("tls", cfg.TLSCert != ""))
		errCh <- s.Serve(lis)
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		hs.Shutdown()
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.Stop()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// openBackend runs migrations and connects to Postgres, or falls back to the
// in-memory stores when no DSN is configured.
func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	if cfg.DSN == "" {
		logger.Warn("no DSN configured; using in-memory storage")
		return &backend{
			stores:   service.Stores{Records: memory.NewRecordStore(), Journal: memory.NewJournal()},
			accounts: memory.NewAccountStore(),
			lim:      limiter.NewMemory(cfg.LimiterWindow, cfg.LimiterMaxFails, cfg.LimiterBlockFor),
			close:    func() {},
		}, nil
	}

	if err := migrate.Up(ctx, cfg.DSN); err != nil {
		return nil, err
	}
	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &backend{
		stores: service.Stores{
			Records: postgres.NewRecordStore(db),
			Journal: postgres.NewJournalRepo(db),
		},
		accounts: postgres.NewAccountRepo(db),
		lim:      limiter.NewPG(db.Pool, cfg.LimiterWindow, cfg.LimiterMaxFails, cfg.LimiterBlockFor),
		close:    db.Close,
	}, nil
}
