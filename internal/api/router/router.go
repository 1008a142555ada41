package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/htquang/jobcore/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		health := gin.H{
			"status":  "healthy",
			"service": "jobcore-api",
		}

		if deps.DB != nil {
			if err := deps.DB.HealthCheck(ctx); err != nil {
				status = http.StatusServiceUnavailable
				health["status"] = "unhealthy"
				health["database"] = err.Error()
			}
		}
		if deps.Broker != nil && !deps.Broker.IsConnected() {
			status = http.StatusServiceUnavailable
			health["status"] = "unhealthy"
			health["broker"] = "disconnected"
		}

		c.JSON(status, health)
	})

	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Submit a job for asynchronous processing
			jobs.POST("", jobHandler.SubmitJob)

			// GET /api/v1/jobs/dead-letters - Inspect terminal failures
			jobs.GET("/dead-letters", jobHandler.ListDeadLetters)

			// GET /api/v1/jobs/stats - Queue depths and outcome counters
			jobs.GET("/stats", jobHandler.GetStats)
		}
	}

	return r
}
