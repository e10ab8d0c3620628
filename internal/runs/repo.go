package runs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/psdigitalweb/wb-automation-sub001/pkg/db/models"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/enums"
)

// Repository manages persistence for ingest runs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, run *models.IngestRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.IngestRun, error)
	GetActive(ctx context.Context, tenantID uuid.UUID, marketplace enums.Marketplace, jobCode string) (*models.IngestRun, error)
	ListRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.IngestRun, error)
	// TransitionFrom applies updates only when the run is still in the
	// expected status and reports how many rows changed.
	TransitionFrom(ctx context.Context, id uuid.UUID, expected enums.RunStatus, updates map[string]any) (int64, error)
	SetTaskHandle(ctx context.Context, id uuid.UUID, handle string) error
	Touch(ctx context.Context, id uuid.UUID, at time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a run repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, run *models.IngestRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.IngestRun, error) {
	var run models.IngestRun
	if err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *repository) GetActive(ctx context.Context, tenantID uuid.UUID, marketplace enums.Marketplace, jobCode string) (*models.IngestRun, error) {
	var run models.IngestRun
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND marketplace = ? AND job_code = ? AND status = ?",
			tenantID, marketplace, jobCode, enums.RunStatusRunning).
		First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *repository) ListRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.IngestRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []models.IngestRun
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *repository) TransitionFrom(ctx context.Context, id uuid.UUID, expected enums.RunStatus, updates map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.IngestRun{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) SetTaskHandle(ctx context.Context, id uuid.UUID, handle string) error {
	return r.db.WithContext(ctx).
		Model(&models.IngestRun{}).
		Where("id = ?", id).
		Update("task_handle", handle).Error
}

func (r *repository) Touch(ctx context.Context, id uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.IngestRun{}).
		Where("id = ? AND status = ?", id, enums.RunStatusRunning).
		Update("heartbeat_at", at)
	return res.RowsAffected, res.Error
}
