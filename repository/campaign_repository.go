package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/zapcast/zapcast/models"
	"github.com/zapcast/zapcast/utils"
	"gorm.io/gorm"
)

// CampaignRepositoryImpl implements CampaignRepository
type CampaignRepositoryImpl struct {
	*BaseRepository[models.Campaign, models.CampaignFilter]
}

func NewCampaignRepository(db *gorm.DB) CampaignRepository {
	return &CampaignRepositoryImpl{BaseRepository: NewBaseRepository[models.Campaign, models.CampaignFilter](db)}
}

func (r *CampaignRepositoryImpl) ByUUID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	db := r.getDB(ctx)
	var row models.Campaign
	if err := db.Where("uuid = ?", id).Last(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *CampaignRepositoryImpl) ListByStatus(ctx context.Context, status models.CampaignStatus, limit int) ([]*models.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}
	db := r.getDB(ctx)
	var rows []*models.Campaign
	if err := db.Where("status = ?", status).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListCycleResumable returns campaigns paused by the message cycle whose
// pause window has elapsed
func (r *CampaignRepositoryImpl) ListCycleResumable(ctx context.Context, now time.Time) ([]*models.Campaign, error) {
	db := r.getDB(ctx)
	var rows []*models.Campaign
	if err := db.Where("status = ? AND pause_reason = ? AND paused_until IS NOT NULL AND paused_until <= ?",
		models.CampaignStatusPaused, models.PauseReasonMessageCycle, now).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *CampaignRepositoryImpl) IncrementSent(ctx context.Context, campaignID uint, sentAt time.Time) error {
	db := r.getDB(ctx)
	return db.Model(&models.Campaign{}).
		Where("id = ?", campaignID).
		Updates(map[string]any{
			"total_sent":       gorm.Expr("total_sent + 1"),
			"sent_since_cycle": gorm.Expr("sent_since_cycle + 1"),
			"updated_at":       utils.UTCNow(),
		}).Error
}

func (r *CampaignRepositoryImpl) IncrementFailed(ctx context.Context, campaignID uint) error {
	db := r.getDB(ctx)
	return db.Model(&models.Campaign{}).
		Where("id = ?", campaignID).
		Updates(map[string]any{
			"total_failed": gorm.Expr("total_failed + 1"),
			"updated_at":   utils.UTCNow(),
		}).Error
}

func (r *CampaignRepositoryImpl) ScheduleNextDispatch(ctx context.Context, campaignID uint, next time.Time) error {
	db := r.getDB(ctx)
	return db.Model(&models.Campaign{}).
		Where("id = ?", campaignID).
		Updates(map[string]any{
			"next_dispatch_at": next,
			"updated_at":       utils.UTCNow(),
		}).Error
}

func (r *CampaignRepositoryImpl) SetPause(ctx context.Context, campaignID uint, reason models.PauseReason, until *time.Time) error {
	db := r.getDB(ctx)
	return db.Model(&models.Campaign{}).
		Where("id = ? AND status = ?", campaignID, models.CampaignStatusRunning).
		Updates(map[string]any{
			"status":       models.CampaignStatusPaused,
			"pause_reason": reason,
			"paused_until": until,
			"updated_at":   utils.UTCNow(),
		}).Error
}

func (r *CampaignRepositoryImpl) ClearPause(ctx context.Context, campaignID uint) error {
	db := r.getDB(ctx)
	return db.Model(&models.Campaign{}).
		Where("id = ? AND status = ?", campaignID, models.CampaignStatusPaused).
		Updates(map[string]any{
			"status":           models.CampaignStatusRunning,
			"pause_reason":     nil,
			"paused_until":     nil,
			"sent_since_cycle": 0,
			"updated_at":       utils.UTCNow(),
		}).Error
}

func (r *CampaignRepositoryImpl) MarkCompleted(ctx context.Context, campaignID uint, at time.Time) error {
	db := r.getDB(ctx)
	return db.Model(&models.Campaign{}).
		Where("id = ? AND status = ?", campaignID, models.CampaignStatusRunning).
		Updates(map[string]any{
			"status":       models.CampaignStatusCompleted,
			"completed_at": at,
			"updated_at":   utils.UTCNow(),
		}).Error
}

func (r *CampaignRepositoryImpl) applyFilter(db *gorm.DB, f models.CampaignFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		db = db.Where("uuid = ?", *f.UUID)
	}
	if f.TenantID != nil {
		db = db.Where("tenant_id = ?", *f.TenantID)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.Mode != nil {
		db = db.Where("mode = ?", *f.Mode)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *CampaignRepositoryImpl) ByFilter(ctx context.Context, filter models.CampaignFilter, orderBy string, limit, offset int) ([]*models.Campaign, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Campaign{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.Campaign
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *CampaignRepositoryImpl) Count(ctx context.Context, filter models.CampaignFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Campaign{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
