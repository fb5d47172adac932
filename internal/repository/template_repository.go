package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/notebook-ops/nbrunner/internal/models"
)

// TemplateRepository persists template metadata rows. Content lives in the
// object store; only descriptive fields are kept here.
type TemplateRepository interface {
	Upsert(ctx context.Context, tpl *models.Template) error
	FindByKey(ctx context.Context, key string) (*models.Template, error)
	ListByCategory(ctx context.Context, category string) ([]*models.Template, error)
	Delete(ctx context.Context, key string) error
}

type templateRepository struct {
	db *gorm.DB
}

func NewTemplateRepository(db *gorm.DB) TemplateRepository {
	return &templateRepository{db: db}
}

// Upsert creates the metadata row, or refreshes it when the key was uploaded
// before. Re-upload with the same key replaces the template.
func (r *templateRepository) Upsert(ctx context.Context, tpl *models.Template) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"category", "description", "hash", "size", "uploaded_by", "updated_at"}),
	}).Create(tpl).Error
	if err != nil {
		return fmt.Errorf("%w: upsert template %s: %v", ErrUnavailable, tpl.Key, err)
	}
	return nil
}

func (r *templateRepository) FindByKey(ctx context.Context, key string) (*models.Template, error) {
	var tpl models.Template
	err := r.db.WithContext(ctx).First(&tpl, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: template %s", ErrRecordNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find template %s: %v", ErrUnavailable, key, err)
	}
	return &tpl, nil
}

func (r *templateRepository) ListByCategory(ctx context.Context, category string) ([]*models.Template, error) {
	q := r.db.WithContext(ctx).Model(&models.Template{})
	if category != "" {
		q = q.Where("category = ?", category)
	}
	var tpls []*models.Template
	if err := q.Order("key").Find(&tpls).Error; err != nil {
		return nil, fmt.Errorf("%w: list templates: %v", ErrUnavailable, err)
	}
	return tpls, nil
}

func (r *templateRepository) Delete(ctx context.Context, key string) error {
	res := r.db.WithContext(ctx).Delete(&models.Template{}, "key = ?", key)
	if res.Error != nil {
		return fmt.Errorf("%w: delete template %s: %v", ErrUnavailable, key, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: template %s", ErrRecordNotFound, key)
	}
	return nil
}
