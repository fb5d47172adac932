package routes

import (
	"github.com/gin-gonic/gin"

	v1 "github.com/notebook-ops/nbrunner/api/rest/v1"
	"github.com/notebook-ops/nbrunner/api/rest/v1/handlers"
	"github.com/notebook-ops/nbrunner/api/rest/v1/middleware"
)

func executionRoutes(service handlers.ExecutionService, router gin.IRoutes) {
	h := handlers.NewExecutionHandler(service)
	router.POST("/executions", middleware.RequireIdentity(), v1.ErrorHandler(h.HandleSubmit))
	router.GET("/executions/:id", v1.ErrorHandler(h.HandleStatus))
	router.GET("/executions", v1.ErrorHandler(h.HandleHistory))
}
