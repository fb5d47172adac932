package routes

import (
	"github.com/gin-gonic/gin"

	v1 "github.com/notebook-ops/nbrunner/api/rest/v1"
	"github.com/notebook-ops/nbrunner/api/rest/v1/handlers"
	"github.com/notebook-ops/nbrunner/api/rest/v1/middleware"
	"github.com/notebook-ops/nbrunner/internal/services"
)

func templateRoutes(service services.TemplateService, router gin.IRoutes) {
	h := handlers.NewTemplateHandler(service)
	router.POST("/templates", middleware.RequireIdentity(), v1.ErrorHandler(h.HandleUpload))
	router.GET("/templates", v1.ErrorHandler(h.HandleList))
	router.GET("/templates/meta/*key", v1.ErrorHandler(h.HandleDescribe))
	router.GET("/templates/content/*key", v1.ErrorHandler(h.HandleFetchContent))
	router.DELETE("/templates/*key", middleware.RequireIdentity(), v1.ErrorHandler(h.HandleDelete))
}
