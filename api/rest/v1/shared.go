package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/notebook-ops/nbrunner/internal/notebook"
	"github.com/notebook-ops/nbrunner/internal/repository"
	"github.com/notebook-ops/nbrunner/internal/services"
	"github.com/notebook-ops/nbrunner/internal/storage"
)

// APIError represents an error response from the API.
type APIError struct {
	Code int    `json:"code"`
	Err  string `json:"err"`
	Data any    `json:"data,omitempty"`
}

func (e APIError) Error() string {
	return e.Err
}

// APIResponse represents a success response from the API.
type APIResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
	Data any    `json:"data,omitempty"`
}

func (r APIResponse) Error() string {
	return r.Msg
}

// ErrorHandler adapts error-returning handlers to gin.
func ErrorHandler(fn func(c *gin.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := fn(c)
		if err == nil {
			return
		}
		var apiErr APIError
		var apiResp APIResponse
		switch {
		case errors.As(err, &apiErr):
			c.AbortWithStatusJSON(apiErr.Code, apiErr)
		case errors.As(err, &apiResp):
			c.JSON(apiResp.Code, apiResp)
		default:
			code := statusForError(err)
			c.AbortWithStatusJSON(code, APIError{Code: code, Err: err.Error()})
		}
	}
}

// statusForError maps domain sentinel errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, repository.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidKey),
		errors.Is(err, notebook.ErrMalformedNotebook),
		errors.Is(err, notebook.ErrAmbiguousParameterCell),
		errors.Is(err, services.ErrTemplateResolution):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, services.ErrShuttingDown),
		errors.Is(err, storage.ErrUnavailable),
		errors.Is(err, repository.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
