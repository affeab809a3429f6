package repository

import (
	"context"
	"errors"
	"time"

	"github.com/zapcast/zapcast/models"
	"github.com/zapcast/zapcast/utils"
	"gorm.io/gorm"
)

// FollowUpRepositoryImpl implements FollowUpRepository
type FollowUpRepositoryImpl struct {
	db *gorm.DB
}

func NewFollowUpRepository(db *gorm.DB) FollowUpRepository {
	return &FollowUpRepositoryImpl{db: db}
}

func (r *FollowUpRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(TxContextKey).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db
}

func (r *FollowUpRepositoryImpl) FlowByCampaign(ctx context.Context, campaignID uint) (*models.FollowUpFlow, error) {
	db := r.getDB(ctx)
	var row models.FollowUpFlow
	if err := db.Where("campaign_id = ?", campaignID).Last(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *FollowUpRepositoryImpl) FlowByID(ctx context.Context, flowID uint) (*models.FollowUpFlow, error) {
	db := r.getDB(ctx)
	var row models.FollowUpFlow
	if err := db.Last(&row, flowID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *FollowUpRepositoryImpl) StepsByFlow(ctx context.Context, flowID uint) ([]*models.FollowUpStep, error) {
	db := r.getDB(ctx)
	var rows []*models.FollowUpStep
	if err := db.Where("flow_id = ?", flowID).
		Order("step_order ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *FollowUpRepositoryImpl) SaveFlow(ctx context.Context, flow *models.FollowUpFlow) error {
	db := r.getDB(ctx)
	return db.Create(flow).Error
}

func (r *FollowUpRepositoryImpl) ActiveStatus(ctx context.Context, flowID, contactID uint) (*models.FollowUpContactStatus, error) {
	db := r.getDB(ctx)
	var row models.FollowUpContactStatus
	if err := db.Where("flow_id = ? AND contact_id = ? AND is_active = ?", flowID, contactID, true).
		Last(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *FollowUpRepositoryImpl) ListDueStatuses(ctx context.Context, now time.Time, limit int) ([]*models.FollowUpContactStatus, error) {
	if limit <= 0 {
		limit = 100
	}
	db := r.getDB(ctx)
	var rows []*models.FollowUpContactStatus
	if err := db.Where("is_active = ? AND next_fire_at <= ?", true, now).
		Order("next_fire_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *FollowUpRepositoryImpl) SaveStatusBatch(ctx context.Context, statuses []*models.FollowUpContactStatus) error {
	if len(statuses) == 0 {
		return nil
	}
	db := r.getDB(ctx)
	return db.CreateInBatches(statuses, 100).Error
}

func (r *FollowUpRepositoryImpl) UpdateStatus(ctx context.Context, status *models.FollowUpContactStatus) error {
	db := r.getDB(ctx)
	return db.Save(status).Error
}

func (r *FollowUpRepositoryImpl) DeactivateByContact(ctx context.Context, contactID uint, flowID *uint, reason models.FollowUpStopReason, at time.Time) (int64, error) {
	db := r.getDB(ctx)
	query := db.Model(&models.FollowUpContactStatus{}).
		Where("contact_id = ? AND is_active = ?", contactID, true)
	if flowID != nil {
		query = query.Where("flow_id = ?", *flowID)
	}
	res := query.Updates(map[string]any{
		"is_active":   false,
		"stop_reason": string(reason),
		"stopped_at":  at,
		"updated_at":  utils.UTCNow(),
	})
	return res.RowsAffected, res.Error
}
