// ==============================================================================
// SETTLEMENT SERVICE MAIN - cmd/settlement/main.go
// ==============================================================================
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reseller/internal/app"
	"reseller/internal/handler"
	"reseller/internal/middleware"
	"reseller/internal/scheduler"
	"reseller/pkg/config"
	"reseller/pkg/logger"
	"reseller/pkg/validator"
)

func main() {
	cfg := config.Load()
	log := logger.New("settlement-service")

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Starting Settlement Service", map[string]interface{}{
		"port": cfg.Server.Port,
	})

	a, err := app.Build(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize settlement core", map[string]interface{}{
			"error": err.Error(),
		})
	}
	defer a.Close()
	rdb := a.Redis

	// HTTP
	val := validator.New()
	router := handler.NewRouter(handler.Handlers{
		Withdrawals:  handler.NewWithdrawalHandler(a.Payouts, val, log),
		Wallets:      handler.NewWalletHandler(a.Wallets, val, log),
		Contributors: handler.NewContributorHandler(a.Contributors, val, log),
		RevenueShare: handler.NewRevenueShareHandler(a.Engine, log),
		System: handler.NewSystemHandler("settlement", map[string]handler.DependencyCheck{
			"postgres": a.DB.PingContext,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}, log),
	}, handler.RouterOptions{
		Auth:            middleware.NewAuthMiddleware(cfg.JWT.Secret, middleware.NewRedisTokenBlacklist(rdb)),
		Idempotency:     middleware.NewIdempotencyMiddleware(rdb, cfg.Server.IdempotencyTTL, log),
		CallbackLimiter: middleware.NewRateLimiter(rdb, "callback", cfg.Server.CallbackRateLimit, time.Minute),
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		Logger:          log,
	})

	// Jobs
	ctx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()

	var jobs *scheduler.Scheduler
	if cfg.Server.EnableScheduler {
		jobs = scheduler.NewScheduler(time.Second, log)
		jobs.Schedule(scheduler.RevenueShareJob(a.Engine, cfg.RevenueShare.TickInterval, log))
		jobs.Schedule(scheduler.SweepJob(a.Payouts, cfg.Settlement.SweepInterval, log))
		jobs.Schedule(scheduler.SyncJob(a.Engine, cfg.Settlement.SweepInterval))
		jobs.Start(ctx)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Settlement service started", map[string]interface{}{
			"address":   srv.Addr,
			"scheduler": cfg.Server.EnableScheduler,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down settlement service...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Settlement service forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if jobs != nil {
		jobs.Stop()
	}

	log.Info("Settlement service stopped gracefully", nil)
}
