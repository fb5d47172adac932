package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	v1 "github.com/notebook-ops/nbrunner/api/rest/v1"
	"github.com/notebook-ops/nbrunner/api/rest/v1/middleware"
	"github.com/notebook-ops/nbrunner/api/rest/v1/schemas"
	"github.com/notebook-ops/nbrunner/internal/models"
	"github.com/notebook-ops/nbrunner/internal/repository"
	"github.com/notebook-ops/nbrunner/internal/services"
)

// ExecutionService is the orchestrator surface the handlers consume.
type ExecutionService interface {
	Submit(ctx context.Context, req services.Request) (*services.Receipt, error)
	Status(ctx context.Context, id uint) (*services.StatusView, error)
	History(ctx context.Context, filter repository.ExecutionFilter) ([]*models.Execution, error)
}

type ExecutionHandler struct {
	service ExecutionService
}

func NewExecutionHandler(service ExecutionService) *ExecutionHandler {
	return &ExecutionHandler{service: service}
}

func (h *ExecutionHandler) HandleSubmit(c *gin.Context) error {
	var req schemas.ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return v1.APIError{Code: http.StatusBadRequest, Err: "invalid request body: " + err.Error()}
	}
	if req.TemplateKey == "" && req.InputPath == "" {
		return v1.APIError{Code: http.StatusBadRequest, Err: "template_key or input_path is required"}
	}
	if req.TemplateKey != "" && req.InputPath != "" {
		return v1.APIError{Code: http.StatusBadRequest, Err: "template_key and input_path are mutually exclusive"}
	}

	receipt, err := h.service.Submit(c.Request.Context(), services.Request{
		Requester:   middleware.Requester(c),
		TemplateKey: req.TemplateKey,
		Parameters:  req.Parameters,
		TargetName:  req.TargetName,
		InputPath:   req.InputPath,
		OutputPath:  req.OutputPath,
		Kernel:      req.Kernel,
	})
	if err != nil {
		return err
	}

	c.Header("Location", receipt.StatusPath)
	return v1.APIResponse{
		Code: http.StatusAccepted,
		Msg:  "execution accepted",
		Data: schemas.ExecuteResponse{
			ExecutionID: receipt.ExecutionID,
			StatusPath:  receipt.StatusPath,
		},
	}
}

func (h *ExecutionHandler) HandleStatus(c *gin.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return v1.APIError{Code: http.StatusBadRequest, Err: "invalid execution id"}
	}
	view, err := h.service.Status(c.Request.Context(), uint(id))
	if err != nil {
		return err
	}
	return v1.APIResponse{Code: http.StatusOK, Data: view}
}

func (h *ExecutionHandler) HandleHistory(c *gin.Context) error {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	execs, err := h.service.History(c.Request.Context(), repository.ExecutionFilter{
		Requester:   c.Query("requester"),
		TemplateKey: c.Query("template_key"),
		Status:      models.ExecutionStatus(c.Query("status")),
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		return err
	}
	return v1.APIResponse{Code: http.StatusOK, Data: execs}
}
