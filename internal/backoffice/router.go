package backoffice

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tradesense/challenge/internal/api/middleware"
	"github.com/tradesense/challenge/internal/backoffice/handler"
	"github.com/tradesense/challenge/internal/config"
	"github.com/tradesense/challenge/internal/domain"
	"github.com/tradesense/challenge/internal/service"
	"github.com/tradesense/challenge/internal/ws"
)

// BackofficeDeps bundles every dependency needed for the admin router.
type BackofficeDeps struct {
	AuthSvc      *service.AuthService
	ChallengeSvc *service.ChallengeService
	PriceSvc     *service.PriceService // optional
	Hub          *ws.Hub               // optional
	Cfg          *config.Config
	Logger       *slog.Logger
}

// SetupBackofficeRouter creates the admin Gin engine.
func SetupBackofficeRouter(deps BackofficeDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(ipWhitelistMiddleware(deps.Cfg.Server.BackofficeAllowedIPs))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Typed-nil pointers must not reach the handler's interfaces.
	var (
		prices handler.SourceStatuser
		conns  handler.ConnCounter
		board  handler.LeaderboardBroadcaster
	)
	if deps.PriceSvc != nil {
		prices = deps.PriceSvc
	}
	if deps.Hub != nil {
		conns, board = deps.Hub, deps.Hub
	}

	challengeH := handler.NewChallengeAdminHandler(deps.ChallengeSvc, deps.Logger)
	planH := handler.NewPlanAdminHandler(deps.ChallengeSvc)
	dashH := handler.NewDashboardHandler(deps.ChallengeSvc, prices, conns, board)

	admin := r.Group("/admin")
	admin.Use(middleware.JWTMiddleware(deps.AuthSvc), middleware.AdminMiddleware())
	{
		admin.GET("/stats", dashH.Stats)
		admin.GET("/health", dashH.Health)
		admin.POST("/sweep", dashH.Sweep)

		// Challenges
		ch := admin.Group("/challenges")
		{
			ch.GET("", challengeH.List)
			ch.GET("/:id", challengeH.Detail)
			ch.POST("/:id/status", challengeH.SetStatus)
			ch.POST("/:id/reset", challengeH.Reset)
			ch.POST("/:id/equity", challengeH.AdjustEquity)
			ch.POST("/:id/evaluate", challengeH.Evaluate)
			ch.DELETE("/:id", challengeH.Delete)
		}

		// Plans
		plans := admin.Group("/plans")
		{
			plans.GET("", planH.List)
			plans.POST("", middleware.RoleMiddleware(domain.RoleSuperAdmin), planH.Create)
		}
	}

	return r
}

// ── IP whitelist middleware ───────────────────────────────────────────────────

// ipWhitelistMiddleware blocks requests from IPs not in the allowlist.
// allowedIPs is a comma-separated string; empty means allow all.
func ipWhitelistMiddleware(allowedIPs string) gin.HandlerFunc {
	if allowedIPs == "" {
		return func(c *gin.Context) { c.Next() } // dev mode: no restriction
	}

	allowed := make(map[string]bool)
	for _, ip := range strings.Split(allowedIPs, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			allowed[ip] = true
		}
	}

	return func(c *gin.Context) {
		if !allowed[c.ClientIP()] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "access denied: your IP is not whitelisted",
				"code":    "ERR_IP_DENIED",
			})
			return
		}
		c.Next()
	}
}
