package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/GoPolymarket/liquigate/internal/approval"
	"github.com/GoPolymarket/liquigate/internal/chain"
	"github.com/GoPolymarket/liquigate/internal/config"
	"github.com/GoPolymarket/liquigate/internal/engine"
	"github.com/GoPolymarket/liquigate/internal/handler"
	"github.com/GoPolymarket/liquigate/internal/ledger"
	"github.com/GoPolymarket/liquigate/internal/middleware"
	"github.com/GoPolymarket/liquigate/internal/monitor"
	"github.com/GoPolymarket/liquigate/internal/pkg/logger"
	"github.com/GoPolymarket/liquigate/internal/stream"
)

func main() {
	// 1. Load Configuration
	provider, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := provider.Config()

	// 2. Initialize Logger
	logger.Init(cfg.Log.Level)

	// 3. Initialize Persistence (Postgres > Memory)
	var store ledger.Store
	if cfg.Database.DSN != "" {
		db, err := ledger.NewDB(cfg.Database.DSN)
		if err != nil {
			log.Fatalf("Failed to connect to PostgreSQL: %v", err)
		}
		defer db.Close()
		pg, err := ledger.NewPostgresStore(db)
		if err != nil {
			log.Fatalf("Failed to prepare ledger schema: %v", err)
		}
		logger.Info("✅ Connected to PostgreSQL")
		store = pg
	} else {
		logger.Warn("⚠️ No database configured, ledger is in-memory and lost on restart")
		store = ledger.NewMemoryStore()
	}

	// Multisig approval source (Redis > static allow)
	var approvals approval.Source = approval.Static(true)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		logger.Info("✅ Connected to Redis")
		approvals = approval.NewRedisSource(rdb, cfg.Redis.ApprovalPrefix)
	} else if provider.Safety().RequireMultisig {
		// 要求多签但没有 Redis，批次会永远等待
		log.Fatalf("safety.require_multisig is on but redis.addr is empty")
	}

	// 4. Chain Gateway
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	gw, err := chain.NewEthGateway(bootCtx, cfg.Chain, cfg.Pair)
	bootCancel()
	if err != nil {
		log.Fatalf("Failed to initialize chain gateway: %v", err)
	}

	// 5. Core Engine
	engineLog := logger.Component("engine")
	mon := monitor.New(gw, store, cfg.Pair.TokenA, cfg.Pair.TokenB, cfg.Pair.CollectionAccount, logger.Component("monitor"))
	gov := engine.NewGovernor(approvals, logger.Component("governor"))
	prov := engine.NewProvisioner(gw, cfg.Pair.TokenA, cfg.Pair.TokenB, logger.Component("provisioner"))
	attr := engine.NewAttribution(store, logger.Component("attribution"))
	hub := stream.NewHub()
	orch := engine.NewOrchestrator(store, gw, mon, gov, prov, attr, provider, hub, engineLog)

	// 6. Handlers + Router
	statusHandler := handler.NewStatusHandler(store)
	contribHandler := handler.NewContributionHandler(store)

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": "liquigate"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg.Auth))
	v1.Use(middleware.IdempotencyMiddleware(middleware.NewInMemIdempotencyStore()))
	{
		v1.GET("/status", statusHandler.Status)
		v1.GET("/batches", statusHandler.ListBatches)
		v1.GET("/batches/:id", statusHandler.GetBatch)
		v1.GET("/allocations", statusHandler.ListAllocations)
		v1.GET("/contributions", contribHandler.List)
		v1.POST("/contributions", contribHandler.Ingest)
		v1.GET("/stream", func(c *gin.Context) {
			hub.ServeWS(c.Writer, c.Request)
		})
	}

	// 7. Run the engine loop alongside the HTTP server
	engineCtx, engineCancel := context.WithCancel(context.Background())
	engineDone := make(chan error, 1)
	go func() {
		engineDone <- orch.Run(engineCtx)
	}()

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}
	go func() {
		logger.Info("🚀 LiquiGate started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	halted := false
	select {
	case <-quit:
		logger.Info("🛑 Shutting down...")
	case err := <-engineDone:
		// Run only returns on its own for fatal ledger corruption.
		halted = true
		logger.Error("engine halted", "error", err)
	}

	engineCancel()
	if !halted {
		select {
		case <-engineDone:
		case <-time.After(10 * time.Second):
			logger.Warn("engine did not stop in time")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}
	logger.Info("Server exiting")
}
