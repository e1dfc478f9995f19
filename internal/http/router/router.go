package router

import (
	"github.com/gin-gonic/gin"

	"github.com/serviapp/escrow-backend/internal/config"
	"github.com/serviapp/escrow-backend/internal/http/handlers"
	"github.com/serviapp/escrow-backend/internal/http/middleware"
	"github.com/serviapp/escrow-backend/internal/models"
	"github.com/serviapp/escrow-backend/internal/service"
)

func SetupRouter(
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	offerHandler *handlers.OfferHandler,
	jobHandler *handlers.JobHandler,
	webhookHandler *handlers.WebhookHandler,
	disputeHandler *handlers.DisputeHandler,
	adminHandler *handlers.AdminHandler,
	wsHandler *handlers.WSHandler,
	healthHandler *handlers.HealthHandler,
	tokenManager *service.TokenManager,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware(5, cfg.RateLimitPeriod))
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/refresh", authHandler.Refresh)
	}

	// Вебхук шлюза аутентифицируется общим секретом, не JWT.
	api.POST("/webhooks/payment",
		middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod),
		webhookHandler.HandlePayment)

	api.GET("/ws", wsHandler.Handle)

	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokenManager))
	{
		protected.POST("/auth/logout", authHandler.Logout)
		protected.GET("/auth/me", authHandler.Me)

		protected.POST("/offers", offerHandler.Create)
		protected.GET("/offers", offerHandler.ListMy)
		protected.GET("/offers/:id", middleware.UUIDValidator("id"), offerHandler.Get)
		protected.POST("/offers/:id/accept", middleware.UUIDValidator("id"), offerHandler.Accept)
		protected.POST("/offers/:id/reject", middleware.UUIDValidator("id"), offerHandler.Reject)

		protected.GET("/jobs", jobHandler.List)
		protected.GET("/jobs/:id", middleware.UUIDValidator("id"), jobHandler.Get)
		protected.GET("/jobs/:id/events", middleware.UUIDValidator("id"), jobHandler.Events)
		protected.GET("/jobs/:id/ledger", middleware.UUIDValidator("id"), jobHandler.Ledger)
		protected.POST("/jobs/:id/capture", middleware.UUIDValidator("id"), jobHandler.Capture)
		protected.POST("/jobs/:id/release", middleware.UUIDValidator("id"), jobHandler.Release)
		protected.POST("/jobs/:id/refund", middleware.UUIDValidator("id"), jobHandler.Refund)
		protected.POST("/jobs/:id/disputes", middleware.UUIDValidator("id"), disputeHandler.Open)

		protected.GET("/disputes", disputeHandler.ListMy)
		protected.GET("/disputes/:id", middleware.UUIDValidator("id"), disputeHandler.Get)
		protected.GET("/disputes/:id/entries", middleware.UUIDValidator("id"), disputeHandler.ListEntries)
		protected.POST("/disputes/:id/messages", middleware.UUIDValidator("id"), disputeHandler.PostMessage)
		protected.POST("/disputes/:id/evidence", middleware.UUIDValidator("id"), disputeHandler.AddEvidence)
		protected.GET("/disputes/:id/evidence/:entryId",
			middleware.UUIDValidator("id"), middleware.UUIDValidator("entryId"), disputeHandler.DownloadEvidence)
		protected.POST("/disputes/:id/withdraw", middleware.UUIDValidator("id"), disputeHandler.Withdraw)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.AuthMiddleware(tokenManager), middleware.RequireRole(models.RoleAdmin))
	{
		admin.GET("/jobs", adminHandler.ListJobs)
		admin.POST("/jobs/:id/cancel", middleware.UUIDValidator("id"), adminHandler.CancelJob)
		admin.GET("/disputes", adminHandler.DisputeQueue)
		admin.POST("/disputes/:id/review", middleware.UUIDValidator("id"), adminHandler.ReviewDispute)
		admin.POST("/disputes/:id/resolve", middleware.UUIDValidator("id"), adminHandler.ResolveDispute)
	}

	return r
}
