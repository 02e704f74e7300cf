package main

import (
	"log"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	delivery "forkpilot/internal/adapter/delivery/http"
	handler "forkpilot/internal/adapter/handler/http"
	"forkpilot/internal/config"
	"forkpilot/internal/decode"
	"forkpilot/internal/entity"
	"forkpilot/internal/fork"
	"forkpilot/internal/ledger"
	"forkpilot/internal/logger"
	"forkpilot/internal/provider"
	"forkpilot/internal/usecase"
)

func main() {
	// --- Configuration ---
	cfgPath := "configs"
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load configuration from %s: %v", cfgPath, err)
	}

	// --- Logger ---
	zlog, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to setup logger: %v", err)
	}
	defer zlog.Sync() // Ensure logs are flushed before exiting
	zlog.Info("Logger initialized", zap.Any("config", cfg.Logger))

	// --- Connection ---
	conn, err := entity.DecodeConnection(map[string]any{
		"avatar":   cfg.Connection.Avatar,
		"pilot":    cfg.Connection.Pilot,
		"module":   cfg.Connection.Module,
		"provider": cfg.Connection.Provider,
		"chainId":  cfg.Chain.ID,
	})
	if err != nil {
		zlog.Fatal("Invalid connection configuration", zap.Error(err))
	}

	// --- Dependency Injection (Manual) ---
	zlog.Info("Initializing dependencies...")

	live := provider.NewHTTP(cfg.Chain.RPCURL, cfg.ForkService.RequestTimeout, zlog)
	wrapping := provider.NewWrapping(live, conn.Avatar, zlog)

	backend := fork.NewRemoteService(cfg.ForkService, conn.ChainID, live, zlog)
	ldgr := ledger.New(zlog)
	decoder := decode.NewDecoder(decode.NewHTTPFetcher(cfg.ABI, zlog), cfg.ABI, zlog)

	hooks := provider.Hooks{
		OnRecord: func(entry entity.LedgerEntry) {
			zlog.Info("Transaction recorded", zap.Uint64("entryId", entry.ID), zap.String("to", entry.Call.To))
		},
		OnConfirm: func(entry entity.LedgerEntry) {
			zlog.Info("Transaction confirmed", zap.Uint64("entryId", entry.ID), zap.String("hash", entry.Hash))
		},
	}
	forking := provider.NewForking(backend, ldgr, decoder, conn.ChainID, hooks, zlog)

	session := usecase.NewPilotSession(conn, wrapping, forking, backend, ldgr, zlog)

	// Handlers
	pilotHandler := handler.NewPilotHandler(session, zlog)

	// --- HTTP Router & Server ---
	zlog.Info("Setting up HTTP router...")
	r := router.New()
	delivery.RegisterRoutes(r, pilotHandler, zlog)

	// Middleware (example: logging)
	loggingMiddleware := func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			zlog.Debug("Request received",
				zap.ByteString("method", ctx.Method()),
				zap.ByteString("uri", ctx.RequestURI()))
			next(ctx)
		}
	}

	serverAddr := ":" + cfg.Server.Port
	zlog.Info("Starting HTTP server", zap.String("address", serverAddr))

	if err := fasthttp.ListenAndServe(serverAddr, loggingMiddleware(r.Handler)); err != nil {
		zlog.Fatal("Failed to start server", zap.Error(err))
	}
}
