package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/notebook-ops/nbrunner/internal/models"
	"github.com/notebook-ops/nbrunner/internal/notebook"
	"github.com/notebook-ops/nbrunner/internal/repository"
	"github.com/notebook-ops/nbrunner/internal/storage"
	"github.com/notebook-ops/nbrunner/internal/utils"
)

// UploadResult reports a stored template and whether the upload replaced
// byte-identical content already present under the key.
type UploadResult struct {
	Template  *models.Template
	Unchanged bool
}

// TemplateService manages template lifecycle: object-store content plus the
// metadata row, kept in step.
type TemplateService interface {
	Upload(ctx context.Context, category, name string, content []byte, description, uploadedBy string) (*UploadResult, error)
	Fetch(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	Describe(ctx context.Context, key string) (*models.Template, error)
	Delete(ctx context.Context, key string) error
	DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type templateService struct {
	store  storage.TemplateStore
	meta   repository.TemplateRepository
	logger *slog.Logger
}

func NewTemplateService(store storage.TemplateStore, meta repository.TemplateRepository, logger *slog.Logger) TemplateService {
	if logger == nil {
		logger = slog.Default()
	}
	return &templateService{
		store:  store,
		meta:   meta,
		logger: logger.With("component", "templates"),
	}
}

// Upload validates the notebook, writes it under category/name and upserts
// the metadata row. Identical content under the same key is a no-op on the
// object store.
func (s *templateService) Upload(ctx context.Context, category, name string, content []byte, description, uploadedBy string) (*UploadResult, error) {
	key := name
	if category != "" {
		key = category + "/" + name
	}
	if !strings.HasSuffix(key, ".ipynb") {
		key += ".ipynb"
	}
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}
	if err := notebook.Validate(content); err != nil {
		return nil, err
	}

	hash := utils.ContentHash(content)
	existing, err := s.meta.FindByKey(ctx, key)
	if err == nil && existing.Hash == hash {
		s.logger.Info("template unchanged", "key", key, "hash", hash)
		return &UploadResult{Template: existing, Unchanged: true}, nil
	}

	if err := s.store.Upload(ctx, key, content); err != nil {
		return nil, err
	}

	tpl := &models.Template{
		Key:         key,
		Category:    category,
		Description: description,
		Hash:        hash,
		Size:        int64(len(content)),
		UploadedBy:  uploadedBy,
	}
	if err := s.meta.Upsert(ctx, tpl); err != nil {
		// Keep store and metadata in step: drop the orphaned object.
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			s.logger.Error("orphaned template object", "key", key, "error", delErr)
		}
		return nil, fmt.Errorf("failed to save template metadata: %w", err)
	}

	s.logger.Info("template uploaded", "key", key, "size", tpl.Size, "uploaded_by", uploadedBy)
	return &UploadResult{Template: tpl}, nil
}

func (s *templateService) Fetch(ctx context.Context, key string) ([]byte, error) {
	return s.store.Fetch(ctx, key)
}

func (s *templateService) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	return s.store.List(ctx, prefix)
}

func (s *templateService) Describe(ctx context.Context, key string) (*models.Template, error) {
	return s.meta.FindByKey(ctx, key)
}

func (s *templateService) Delete(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, key); err != nil {
		return err
	}
	if err := s.meta.Delete(ctx, key); err != nil && !errors.Is(err, repository.ErrRecordNotFound) {
		return err
	}
	s.logger.Info("template deleted", "key", key)
	return nil
}

func (s *templateService) DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return s.store.PresignDownload(ctx, key, ttl)
}
