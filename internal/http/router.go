package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/researchpilot/researchpilot-backend/internal/http/handlers"
	httpMW "github.com/researchpilot/researchpilot-backend/internal/http/middleware"
)

type RouterConfig struct {
	ResearchHandler *httpH.ResearchHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(httpMW.CORS())

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.ResearchHandler != nil {
			// Research pipelines
			api.POST("/research", cfg.ResearchHandler.StartResearch)
			api.POST("/research/extended", cfg.ResearchHandler.StartExtendedResearch)
			api.POST("/research/extended/selection", cfg.ResearchHandler.SubmitSelection)
			api.POST("/research/cancel", cfg.ResearchHandler.Cancel)
			api.GET("/research/status/:id", cfg.ResearchHandler.JobStatus)

			// Agent plans
			api.POST("/agent/execute", cfg.ResearchHandler.ExecutePlan)
			api.POST("/planner", cfg.ResearchHandler.GeneratePlan)

			// Templates
			api.GET("/templates", cfg.ResearchHandler.Templates)
		}
	}

	return r
}
