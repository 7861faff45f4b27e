package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"vendapos/backend/internal/cache"
	"vendapos/backend/internal/config"
	"vendapos/backend/internal/httpapi"
	"vendapos/backend/internal/service"
	"vendapos/backend/internal/store/memory"
	"vendapos/backend/internal/tenantdb"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var tenants tenantdb.Resolver
	closers := make([]func() error, 0, 2)

	var authStore httpapi.UserStore
	if cfg.DatabaseURLTemplate != "" {
		manager, err := tenantdb.NewManager(cfg.DatabaseURLTemplate, logger)
		if err != nil {
			logger.Fatal("invalid DATABASE_URL_TEMPLATE", zap.Error(err))
		}
		defaultRepo, err := manager.Resolve(ctx, cfg.DefaultTenant)
		if err != nil {
			logger.Fatal("default tenant unavailable; refusing to start with in-memory fallback", zap.Error(err))
		}
		tenants = manager
		authStore = defaultRepo
		closers = append(closers, manager.Close)
		logger.Info("repository: postgres per tenant", zap.String("default_tenant", cfg.DefaultTenant))
	} else {
		seeded := memory.NewSeeded()
		tenants = tenantdb.NewStatic(seeded)
		authStore = seeded
		logger.Info("repository: in-memory")
	}

	menuCache := cache.MenuCache(cache.NoopMenuCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisMenuCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using noop cache", zap.Error(err))
		} else {
			menuCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis")
		}
	} else {
		logger.Info("cache: noop")
	}

	svc := service.New(tenants, menuCache, logger, cfg.DefaultCompanyID, time.Duration(cfg.MenuCacheTTLSeconds)*time.Second)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, authStore)
	api := httpapi.New(svc, auth, logger, cfg.AllowedOrigin, cfg.DefaultTenant)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("order backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
