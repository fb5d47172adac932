package schemas

import (
	"mime/multipart"
	"time"
)

// TemplateUploadRequest registers a notebook template.
type TemplateUploadRequest struct {
	File        *multipart.FileHeader `form:"file" binding:"required"`
	Category    string                `form:"category"`
	Name        string                `form:"name"`
	Description string                `form:"description"`
}

// TemplateResponse describes a stored template.
type TemplateResponse struct {
	Key         string    `json:"key"`
	Category    string    `json:"category,omitempty"`
	Description string    `json:"description,omitempty"`
	Hash        string    `json:"hash,omitempty"`
	Size        int64     `json:"size"`
	UploadedBy  string    `json:"uploaded_by,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
	DownloadURL string    `json:"download_url,omitempty"`
}
