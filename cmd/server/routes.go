package main

import (
	"github.com/gin-gonic/gin"
	"github.com/rotapool/backend/internal/middleware"
	"github.com/rotapool/backend/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	r.GET("/health", svc.healthHandler.Check)

	// Rate limiter for unauthenticated auth endpoints
	authLimiter := middleware.NewRateLimiter(5, 10)

	api := r.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth", authLimiter.Middleware())
		{
			auth.POST("/login", svc.authHandler.Login)
			auth.POST("/register", svc.authHandler.Register)
		}

		// Protected routes
		protected := api.Group("")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/auth/me", svc.authHandler.Me)

			// Groups
			protected.POST("/groups", svc.groupHandler.Create)
			protected.GET("/groups", svc.groupHandler.List)
			protected.GET("/groups/:id", svc.groupHandler.Get)
			protected.PUT("/groups/:id", svc.groupHandler.Update)

			// Members
			protected.POST("/groups/:id/members", svc.memberHandler.Add)
			protected.DELETE("/groups/:id/members/:member_id", svc.memberHandler.Remove)
			protected.POST("/groups/:id/members/:member_id/transfer-admin", svc.memberHandler.TransferAdmin)
			protected.GET("/groups/:id/members/:member_id/history", svc.memberHandler.History)

			// Turn order and cycles
			protected.GET("/groups/:id/turn-order", svc.cycleHandler.TurnOrder)
			protected.POST("/groups/:id/cycles/process", svc.cycleHandler.Process)
			protected.GET("/groups/:id/payouts", svc.cycleHandler.Payouts)

			// Contributions
			protected.GET("/groups/:id/contributions/status", svc.contributionHandler.Status)
			protected.POST("/contributions/:id/confirm", svc.contributionHandler.Confirm)
			protected.POST("/contributions/:id/late-action", svc.contributionHandler.LateAction)

			// Rotation jobs
			protected.POST("/groups/:id/rotations", svc.rotationHandler.Schedule)
			protected.GET("/groups/:id/rotations", svc.rotationHandler.List)
			protected.DELETE("/groups/:id/rotations/:cycle", svc.rotationHandler.Cancel)
			protected.GET("/rotations/:id", svc.rotationHandler.GetJob)

			// Lifecycle
			protected.GET("/groups/:id/completion", svc.lifecycleHandler.Completion)
			protected.POST("/groups/:id/completion", svc.lifecycleHandler.Decide)
			protected.POST("/groups/:id/resume", svc.lifecycleHandler.Resume)

			// Notifications
			protected.GET("/notifications", svc.notificationHandler.List)
			protected.POST("/notifications/:id/read", svc.notificationHandler.MarkRead)
		}

		// Platform admin routes
		admin := api.Group("/admin")
		admin.Use(middleware.AuthRequired(), middleware.PlatformAdminRequired())
		{
			admin.GET("/audit-logs", svc.auditHandler.List)
			admin.POST("/channels", svc.notificationHandler.CreateChannel)
			admin.GET("/channels", svc.notificationHandler.ListChannels)
			admin.DELETE("/channels/:id", svc.notificationHandler.DeleteChannel)
		}
	}
}
