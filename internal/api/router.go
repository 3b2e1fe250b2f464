package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tradesense/challenge/internal/api/handler"
	"github.com/tradesense/challenge/internal/api/middleware"
	"github.com/tradesense/challenge/internal/config"
	"github.com/tradesense/challenge/internal/service"
	"github.com/tradesense/challenge/internal/ws"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	AuthSvc      *service.AuthService
	ChallengeSvc *service.ChallengeService
	PositionSvc  *service.PositionService
	Prices       service.PriceOracle
	Charts       service.ChartSource // optional
	Hub          *ws.Hub // optional
	Cfg          *config.Config
}

// SetupRouter creates and configures the trader-facing Gin engine with all
// routes, middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── Handlers ─────────────────────────────────────────────────────────────
	challengeH := handler.NewChallengeHandler(deps.ChallengeSvc)
	tradeH := handler.NewTradeHandler(deps.PositionSvc, deps.ChallengeSvc, deps.Prices)

	jwtMW := middleware.JWTMiddleware(deps.AuthSvc)
	rl := middleware.RateLimitMiddleware(deps.Cfg.Server.RateLimitRPS)

	api := r.Group("/api")
	{
		// ── Public ───────────────────────────────────────────────────────────
		public := api.Group("")
		public.Use(rl)
		{
			public.GET("/plans", challengeH.ListPlans)
			public.GET("/leaderboard", challengeH.Leaderboard)
			public.GET("/prices/:market/:symbol", tradeH.Quote)
			if deps.Charts != nil {
				chartH := handler.NewChartHandler(deps.Charts)
				public.GET("/prices/:market/:symbol/history", chartH.History)
				public.GET("/signals/:symbol", chartH.Signal)
			}
		}

		// ── Authenticated routes ──────────────────────────────────────────────
		authed := api.Group("")
		authed.Use(jwtMW, rl)
		{
			authed.POST("/checkout", challengeH.Checkout)

			challenges := authed.Group("/challenges")
			{
				challenges.GET("", challengeH.List)
				challenges.GET("/:id", challengeH.Get)
				challenges.POST("/:id/upgrade", challengeH.Upgrade)
			}

			trades := authed.Group("/trades")
			{
				trades.GET("", tradeH.List)
				trades.POST("/open", tradeH.Open)
				trades.POST("/:id/close", tradeH.Close)
			}
		}
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// HubAuthenticator adapts the access-token parser to ws.Authenticator.
func HubAuthenticator(authSvc *service.AuthService) ws.Authenticator {
	return func(token string) (uuid.UUID, error) {
		claims, err := authSvc.ParseAccessToken(token)
		if err != nil {
			return uuid.Nil, err
		}
		return claims.UserID()
	}
}

// SplitOrigins turns CORS_ORIGINS into a list; "" yields nil (allow all).
func SplitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware sets CORS headers.  With no configured origins (or outside
// production) every origin is allowed; otherwise only the listed ones.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	origins := SplitOrigins(cfg.Server.CORSOrigins)
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	allowAll := !cfg.IsProd() || len(origins) == 0 || allowed["*"]

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if allowAll {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
