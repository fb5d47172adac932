package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/notebook-ops/nbrunner/api/rest/server"
	"github.com/notebook-ops/nbrunner/api/rest/v1/handlers"
	"github.com/notebook-ops/nbrunner/api/rest/v1/middleware"
	"github.com/notebook-ops/nbrunner/internal/services"
)

func RegisterRoutes(srv *server.Server, orchestrator handlers.ExecutionService, templates services.TemplateService) {
	srv.Engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	apiv1 := srv.Engine.Group("/api/v1", middleware.OptionalIdentity())
	executionRoutes(orchestrator, apiv1)
	templateRoutes(templates, apiv1)
}
