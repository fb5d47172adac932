package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/notebook-ops/nbrunner/internal/models"
)

// ExecutionFilter narrows history listings.
type ExecutionFilter struct {
	Requester   string
	TemplateKey string
	Status      models.ExecutionStatus
	Limit       int
	Offset      int
}

// ExecutionRepository persists execution records. It is a passive gateway:
// all writes are single-row and it carries no lifecycle logic.
type ExecutionRepository interface {
	Create(ctx context.Context, exec *models.Execution) (*models.Execution, error)
	Update(ctx context.Context, id uint, patch models.ExecutionPatch) error
	FindByID(ctx context.Context, id uint) (*models.Execution, error)
	List(ctx context.Context, filter ExecutionFilter) ([]*models.Execution, error)
}

type executionRepository struct {
	db *gorm.DB
}

func NewExecutionRepository(db *gorm.DB) ExecutionRepository {
	return &executionRepository{db: db}
}

// Create persists a new execution and returns it with the assigned id.
func (r *executionRepository) Create(ctx context.Context, exec *models.Execution) (*models.Execution, error) {
	if err := r.db.WithContext(ctx).Create(exec).Error; err != nil {
		return nil, fmt.Errorf("%w: create execution: %v", ErrUnavailable, err)
	}
	return exec, nil
}

// Update applies a partial update limited to the patchable columns.
func (r *executionRepository) Update(ctx context.Context, id uint, patch models.ExecutionPatch) error {
	cols := patch.Columns()
	if len(cols) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&models.Execution{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("%w: update execution %d: %v", ErrUnavailable, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: execution %d", ErrRecordNotFound, id)
	}
	return nil
}

func (r *executionRepository) FindByID(ctx context.Context, id uint) (*models.Execution, error) {
	var exec models.Execution
	err := r.db.WithContext(ctx).First(&exec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: execution %d", ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find execution %d: %v", ErrUnavailable, id, err)
	}
	return &exec, nil
}

func (r *executionRepository) List(ctx context.Context, filter ExecutionFilter) ([]*models.Execution, error) {
	q := r.db.WithContext(ctx).Model(&models.Execution{})
	if filter.Requester != "" {
		q = q.Where("requester = ?", filter.Requester)
	}
	if filter.TemplateKey != "" {
		q = q.Where("template_key = ?", filter.TemplateKey)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var execs []*models.Execution
	err := q.Order("started_at DESC").Limit(limit).Offset(filter.Offset).Find(&execs).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list executions: %v", ErrUnavailable, err)
	}
	return execs, nil
}
