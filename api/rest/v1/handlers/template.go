package handlers

import (
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	v1 "github.com/notebook-ops/nbrunner/api/rest/v1"
	"github.com/notebook-ops/nbrunner/api/rest/v1/middleware"
	"github.com/notebook-ops/nbrunner/api/rest/v1/schemas"
	"github.com/notebook-ops/nbrunner/internal/services"
)

type TemplateHandler struct {
	service services.TemplateService
}

func NewTemplateHandler(service services.TemplateService) *TemplateHandler {
	return &TemplateHandler{service: service}
}

func (h *TemplateHandler) HandleUpload(c *gin.Context) error {
	var req schemas.TemplateUploadRequest
	if err := c.ShouldBind(&req); err != nil {
		return v1.APIError{Code: http.StatusBadRequest, Err: "invalid upload: " + err.Error()}
	}

	file, err := req.File.Open()
	if err != nil {
		return v1.APIError{Code: http.StatusBadRequest, Err: "unreadable file"}
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		return v1.APIError{Code: http.StatusBadRequest, Err: "unreadable file"}
	}

	name := req.Name
	if name == "" {
		name = filepath.Base(req.File.Filename)
	}

	result, err := h.service.Upload(c.Request.Context(), req.Category, name, content, req.Description, middleware.Requester(c))
	if err != nil {
		return err
	}

	msg := "template uploaded"
	if result.Unchanged {
		msg = "template unchanged, identical content already stored"
	}
	tpl := result.Template
	return v1.APIResponse{
		Code: http.StatusOK,
		Msg:  msg,
		Data: schemas.TemplateResponse{
			Key:         tpl.Key,
			Category:    tpl.Category,
			Description: tpl.Description,
			Hash:        tpl.Hash,
			Size:        tpl.Size,
			UploadedBy:  tpl.UploadedBy,
			UpdatedAt:   tpl.UpdatedAt,
		},
	}
}

func (h *TemplateHandler) HandleList(c *gin.Context) error {
	objects, err := h.service.List(c.Request.Context(), c.Query("prefix"))
	if err != nil {
		return err
	}
	return v1.APIResponse{Code: http.StatusOK, Data: objects}
}

func (h *TemplateHandler) HandleDescribe(c *gin.Context) error {
	key := wildcardKey(c)
	tpl, err := h.service.Describe(c.Request.Context(), key)
	if err != nil {
		return err
	}
	resp := schemas.TemplateResponse{
		Key:         tpl.Key,
		Category:    tpl.Category,
		Description: tpl.Description,
		Hash:        tpl.Hash,
		Size:        tpl.Size,
		UploadedBy:  tpl.UploadedBy,
		UpdatedAt:   tpl.UpdatedAt,
	}
	if ttlSec, err := strconv.Atoi(c.Query("link_ttl")); err == nil && ttlSec > 0 {
		url, err := h.service.DownloadURL(c.Request.Context(), key, time.Duration(ttlSec)*time.Second)
		if err != nil {
			return err
		}
		resp.DownloadURL = url
	}
	return v1.APIResponse{Code: http.StatusOK, Data: resp}
}

func (h *TemplateHandler) HandleFetchContent(c *gin.Context) error {
	content, err := h.service.Fetch(c.Request.Context(), wildcardKey(c))
	if err != nil {
		return err
	}
	c.Data(http.StatusOK, "application/x-ipynb+json", content)
	return nil
}

func (h *TemplateHandler) HandleDelete(c *gin.Context) error {
	if err := h.service.Delete(c.Request.Context(), wildcardKey(c)); err != nil {
		return err
	}
	return v1.APIResponse{Code: http.StatusOK, Msg: "template deleted"}
}

// wildcardKey strips the leading slash gin leaves on *key params.
func wildcardKey(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("key"), "/")
}
