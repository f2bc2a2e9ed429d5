// Package server 组装 Gin 引擎：中间件链、路由挂载与健康/指标端点。
package server

import (
	"net/http"

	"github.com/Lintsukishima/Gateway-github-2/internal/config"
	"github.com/Lintsukishima/Gateway-github-2/internal/handlers/gatewayctx"
	"github.com/Lintsukishima/Gateway-github-2/internal/handlers/proxy"
	"github.com/Lintsukishima/Gateway-github-2/internal/handlers/sessions"
	mw "github.com/Lintsukishima/Gateway-github-2/internal/middleware"
	"github.com/Lintsukishima/Gateway-github-2/internal/retrieval"
	"github.com/Lintsukishima/Gateway-github-2/internal/store"
	"github.com/Lintsukishima/Gateway-github-2/internal/summarizer"
	"github.com/Lintsukishima/Gateway-github-2/internal/version"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies 是构建引擎所需的运行时服务。
// Store 与 Engine 可为 nil：未配 POSTGRES_DSN 时网关以无持久化模式运行。
type Dependencies struct {
	Cache  *retrieval.ContextCache
	Anchor gatewayctx.AnchorInvoker
	Store  *store.Store
	Engine *summarizer.Engine
}

// Build 构建完整的 HTTP 引擎。
func Build(cfg *config.Config, deps Dependencies) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	_ = engine.SetTrustedProxies([]string{})

	engine.Use(mw.RequestID(), mw.RequestLogger(), mw.Recovery(), mw.CORS(), mw.Metrics())
	if cfg.RateLimitEnabled {
		engine.Use(mw.RateLimiterAutoKey(cfg.RateLimitRPS, cfg.RateLimitBurst))
	}

	root := engine.Group(cfg.BasePath)

	gatewayctx.NewHandler(cfg, deps.Cache, deps.Anchor).Register(root)

	var summaries proxy.SummarySource
	var turns proxy.TurnSink
	if deps.Store != nil {
		summaries = deps.Store
	}
	if deps.Engine != nil {
		turns = deps.Engine
	}
	proxy.NewHandler(cfg, proxy.NewGatewayClient(cfg), summaries, turns).Register(root)

	var storage sessions.Storage
	var appender sessions.TurnAppender
	var ring *summarizer.DebugRing
	if deps.Store != nil {
		storage = deps.Store
	}
	if deps.Engine != nil {
		appender = deps.Engine
		ring = deps.Engine.Ring()
	}
	sessions.NewHandler(storage, appender, ring).Register(root)

	root.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Version})
	})
	root.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return engine
}
