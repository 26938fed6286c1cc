package server

import (
	"time"

	"famtool-server/internal/app"
	"famtool-server/internal/auth"
	"famtool-server/internal/handler"
	"famtool-server/internal/metrics"
	"famtool-server/internal/middleware"

	"github.com/gin-gonic/gin"
)

type Deps struct {
	App         *app.App
	TokenConfig auth.TokenConfig
}

func NewRouter(deps Deps) *gin.Engine {
	a := deps.App
	cfg := a.Config

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(a.Logger))

	health := &handler.HealthHandler{Region: cfg.Region}
	r.GET("/health", health.Check)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	signinLimiter := middleware.NewRateLimiter(orDefault(cfg.SigninRateLimit, 10), time.Minute)
	identityHandler := &handler.IdentityHandler{Identity: a.Identity, TokenConfig: deps.TokenConfig, Logger: a.Logger}
	signin := r.Group("/v1/identity", middleware.RateLimitMiddleware(signinLimiter))
	signin.POST("/signup", identityHandler.Signup)
	signin.POST("/signin", identityHandler.Signin)

	pairRequestLimiter := middleware.NewRateLimiter(orDefault(cfg.SigninRateLimit, 10), time.Minute)
	pairing := &handler.PairingHandler{
		Store:              a.Store,
		Audit:              a.Audit,
		TokenConfig:        deps.TokenConfig,
		PairRequestLimiter: pairRequestLimiter,
		Logger:             a.Logger,
	}
	r.POST("/v1/pairing/request", pairing.Request)
	r.POST("/v1/device/auth", middleware.RateLimitMiddleware(signinLimiter), pairing.Auth)

	protected := r.Group("/v1")
	protected.Use(middleware.RequireAuth(deps.TokenConfig))
	protected.POST("/pairing/approve", pairing.Approve)
	rpcHandler := handler.NewRPCHandler(a.Commands, a.Accounts, a.Logger)
	protected.POST("/rpc/:name", rpcHandler.Call)

	telemetryLimiter := middleware.NewRateLimiter(orDefault(cfg.TelemetryRateLimit, 600), time.Minute)
	deviceHandler := &handler.DeviceHandler{Store: a.Store, History: a.History, Logger: a.Logger}
	device := r.Group("/v1/device")
	device.Use(
		middleware.RequireDevice(deps.TokenConfig),
		deviceHandler.RequirePaired,
		middleware.RateLimitBy(telemetryLimiter, middleware.DeviceKey),
	)
	device.POST("/telemetry/:category", deviceHandler.Upload)
	device.PUT("/status", deviceHandler.Status)
	device.GET("/commands", deviceHandler.Commands)
	device.POST("/commands/:id/status", deviceHandler.CommandStatus)

	wsHandler := &handler.WebSocketHandler{Hub: a.Hub, Notify: a.Notify, TokenConfig: deps.TokenConfig, Logger: a.Logger}
	r.GET("/ws", wsHandler.Serve)

	return r
}

func orDefault(n, fallback int) int {
	if n <= 0 {
		return fallback
	}
	return n
}
