package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/kv"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, sugar); err != nil {
		sugar.Fatalw("service stopped", "err", err)
	}
	sugar.Info("goodbye")
}

func run(ctx context.Context, sugar *zap.SugaredLogger) error {
	sugar.Info("starting service-auth-go")

	shutdownTracing, err := utilities.SetupTracing(ctx, utilities.TracingConfigFromEnv())
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	// runs on every return path, flushing spans of a failed startup too
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			sugar.Warnf("tracer shutdown failed: %v", err)
		}
	}()

	db, err := database.Open(ctx, database.ConfigFromEnv())
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer db.Close()

	kvCfg := kv.ConfigFromEnv()
	stores, err := kv.Open(ctx, kvCfg)
	if err != nil {
		return fmt.Errorf("kv: %w", err)
	}
	defer stores.Close()
	if kvCfg.RedisURL == "" {
		sugar.Warn("REDIS_URL not set, revocations and cached users are local to this instance")
	}

	authCfg := auth.ConfigFromEnv()
	codec, err := authCfg.Codec()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	repo := userrepo.NewUserRepo(db)
	cache := user.NewCache(stores.Cache, repo, user.CacheOpts{TTL: authCfg.UserCacheTTL, Timeout: kvCfg.Timeout, Logger: sugar, Metrics: m})
	users := user.NewUserService(repo, cache, nil, sugar)
	revocations := auth.NewRevocationStore(stores.Durable, auth.RevocationOpts{Timeout: kvCfg.Timeout, Logger: sugar, Metrics: m})
	tokens := auth.NewTokenService(codec, revocations, authCfg.RefreshRotation, sugar)

	handler := router.RegisterRoutes(router.Deps{
		Logger:        sugar,
		Authenticator: auth.NewAuthenticator(codec, revocations, cache, sugar, m),
		Auth: auth.NewHandler(users, tokens, auth.HandlerOpts{
			Cookie:   auth.CookieOptions{Secure: authCfg.CookieSecure, Domain: authCfg.CookieDomain},
			Throttle: auth.NewLoginThrottle(stores.Durable, authCfg.LoginMaxTries, authCfg.LoginWindow, kvCfg.Timeout, sugar),
			Logger:   sugar,
		}),
		Users:         user.NewHandler(users, sugar),
		Metrics:       m,
		Health: map[string]router.HealthCheck{
			"db": db.PingContext,
			"kv": stores.Ping,
		},
	})

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = "0.0.0.0:8431"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		sugar.Infow("http server listening", "addr", addr, "refresh_rotation", authCfg.RefreshRotation)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	sugar.Info("shutting down")
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	return nil
}
