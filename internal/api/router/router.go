package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/transcriptomics-atlas/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	runHandler := handler.NewRunHandler(deps)

	r.GET("/health", runHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		runs := v1.Group("/runs")
		{
			// GET /api/v1/runs - List sample runs page by page
			runs.GET("", runHandler.ListRuns)

			// GET /api/v1/runs/:srr_id - Get one sample run
			runs.GET("/:srr_id", runHandler.GetRun)
		}
	}

	return r
}
