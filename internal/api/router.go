package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facegate/internal/api/handlers"
	"github.com/your-org/facegate/internal/api/ws"
	"github.com/your-org/facegate/internal/audit"
	"github.com/your-org/facegate/internal/auth"
	"github.com/your-org/facegate/internal/biometric"
	"github.com/your-org/facegate/internal/imaging"
	"github.com/your-org/facegate/internal/session"
)

type RouterConfig struct {
	APIKey         string
	MaxUploadBytes int64

	Service    *biometric.Service
	Identities handlers.IdentityReader
	Events     handlers.EventLister
	Normalizer *imaging.Normalizer
	Sessions   *session.Manager
	Hub        *ws.Hub
	Checks     []handlers.Check

	// Optional.
	Publisher audit.Publisher
	Archive   handlers.CaptureArchiver
	Captures  handlers.CaptureReader
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks...)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Face login
	authH := handlers.NewAuthHandler(cfg.Service, cfg.Identities, cfg.Normalizer, cfg.Sessions)
	authH.Events = cfg.Publisher
	authH.Archive = cfg.Archive

	limit := BodyLimitMiddleware(cfg.MaxUploadBytes)
	r.GET("/", authH.Index)
	r.POST("/register", limit, authH.Register)
	r.POST("/login", limit, authH.Login)
	r.GET("/logout", authH.Logout)
	r.POST("/logout", authH.Logout)
	r.GET("/profile", auth.RequireSession(cfg.Sessions), authH.Profile)

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	identityH := handlers.NewIdentityHandler(cfg.Identities, cfg.Captures)
	v1.GET("/identities/:id", identityH.Get)
	v1.GET("/identities/:id/capture", identityH.Capture)

	eventH := handlers.NewEventHandler(cfg.Events)
	v1.GET("/events", eventH.List)

	return r
}
