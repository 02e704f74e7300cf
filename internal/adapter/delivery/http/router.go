package http

import (
	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	handler "forkpilot/internal/adapter/handler/http"
)

// RegisterRoutes sets up the JSON-RPC endpoint, the operator control
// routes, and the health check.
func RegisterRoutes(r *router.Router, h *handler.PilotHandler, logger *zap.Logger) {
	logger.Info("Setting up application-specific routes...")

	r.POST("/", h.Rpc)
	r.POST("/simulation/start", h.StartSimulation)
	r.POST("/simulation/stop", h.StopSimulation)
	r.POST("/refork", h.Refork)
	r.POST("/submit", h.Submit)
	r.GET("/ledger", h.GetLedger)

	logger.Info("Setting up health check route...")
	r.GET("/health", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("OK")
	})

	logger.Info("All routes registered.")
}
