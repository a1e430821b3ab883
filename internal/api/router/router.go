package router

import (
	"github.com/cuongbtq/ai-recruiter/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", handler.HealthHandler(deps))

	// Initialize job handler
	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Upload documents and submit an evaluation
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/user/:user_id - List one user's jobs
			jobs.GET("/user/:user_id", jobHandler.ListUserJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// POST /api/v1/jobs/:job_id/cancel - Cancel a queued job
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)

			// GET /api/v1/jobs/:job_id/report - Download the evaluation report
			jobs.GET("/:job_id/report", jobHandler.GetReport)

			// GET /api/v1/jobs/:job_id/stream - Follow progress over SSE
			jobs.GET("/:job_id/stream", jobHandler.StreamJob)
		}
	}

	// Progress stream under the path older clients connect to
	r.GET("/ws/jobs/:job_id", jobHandler.StreamJob)

	return r
}
