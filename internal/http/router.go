package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/okeeper/vpn-access-service/internal/config"
)

type Server struct {
	router  *gin.Engine
	handler *Handler
	cfg     *config.Config

	// 资源创建速率限制器: 密钥生成是昂贵操作，限制重试频率
	createLimiter *RateLimiter
}

func NewServer(cfg *config.Config, handler *Handler) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:        router,
		handler:       handler,
		cfg:           cfg,
		createLimiter: NewRateLimiter(10, time.Hour),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "vpn-access-service",
		})
	})

	// Internal API - called by the bot frontend
	internal := s.router.Group("/api/internal")
	internal.Use(InternalAuthMiddleware(s.cfg.InternalSecret))
	{
		// Grant lifecycle
		internal.POST("/grants", RateLimitMiddleware(s.createLimiter), s.handler.CreateGrant)
		internal.POST("/grants/:telegram_id/renew", RateLimitMiddleware(s.createLimiter), s.handler.RenewGrant)
		internal.DELETE("/grants/:telegram_id", s.handler.RevokeGrant)
		internal.GET("/grants/:telegram_id", s.handler.GetGrant)
		internal.GET("/grants/:telegram_id/usage", s.handler.GetUsage)

		// Data limits
		internal.PUT("/grants/:telegram_id/data-limit", s.handler.SetDataLimit)
		internal.DELETE("/grants/:telegram_id/data-limit", s.handler.RemoveDataLimit)

		// Server registry
		internal.GET("/servers", s.handler.ListServers)
		internal.POST("/servers", s.handler.AddServer)
		internal.DELETE("/servers/:id", s.handler.RemoveServer)
		internal.GET("/servers/status", s.handler.GetServerStatus)

		// Reconciliation
		internal.POST("/reconcile", s.handler.RunReconciliation)
	}

	// Admin API - operator tooling with JWT auth
	admin := s.router.Group("/api/admin")
	admin.Use(AdminJWTMiddleware(s.cfg.JWT.SecretKey))
	{
		admin.GET("/servers", s.handler.ListServers)
		admin.POST("/servers", s.handler.AddServer)
		admin.DELETE("/servers/:id", s.handler.RemoveServer)
		admin.GET("/servers/status", s.handler.GetServerStatus)
		admin.POST("/reconcile", s.handler.RunReconciliation)
	}
}

func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
