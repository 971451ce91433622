package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/boliseva-loan-ledger/internal/api/handler"
	"github.com/boliseva-loan-ledger/internal/api/middleware"
)

// Health reports whether the remote ledger is currently reachable
type Health interface {
	Online() bool
}

// setupRouter configures API routes and middleware
func setupRouter(
	logger *slog.Logger,
	r *gin.Engine,
	loans *handler.LoanHandler,
	auth *handler.AuthHandler,
	sync *handler.SyncHandler,
	health Health,
) {
	r.Use(middleware.CorrelationID())
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))

	v1 := r.Group("/api/v1")
	{
		loanRoutes := v1.Group("/loans")
		{
			loanRoutes.POST("", loans.Submit)
			loanRoutes.GET("", loans.ListByStatus)
			loanRoutes.GET("/:id", loans.GetByID)
			loanRoutes.PATCH("/:id/status", loans.SetStatus)
			loanRoutes.GET("/:id/emis", loans.EMIsOfLoan)
		}

		users := v1.Group("/users/:user_id")
		{
			users.GET("/loans", loans.LoansOfUser)
			users.GET("/emis", loans.EMIsOfUser)
			users.GET("/dashboard", loans.Dashboard)
			users.POST("/backfill", loans.Backfill)
		}

		v1.POST("/emis/:id/payment", loans.PayEMI)
		v1.GET("/quote", loans.Quote)

		otp := v1.Group("/otp")
		{
			otp.POST("/request", auth.RequestOTP)
			otp.POST("/verify", auth.VerifyOTP)
			otp.GET("/limit", auth.Limit)
			otp.POST("/attempts", auth.RecordAttempt)
		}

		maintenance := v1.Group("/maintenance")
		{
			maintenance.POST("/sweep", loans.SweepOverdue)
			maintenance.POST("/sync", sync.Drain)
			maintenance.GET("/sync", sync.Status)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		remote := "offline"
		if health.Online() {
			remote = "online"
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "remote": remote, "timestamp": time.Now().UTC()})
	})
}
