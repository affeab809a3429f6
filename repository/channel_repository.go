package repository

import (
	"context"
	"time"

	"github.com/zapcast/zapcast/models"
	"github.com/zapcast/zapcast/utils"
	"gorm.io/gorm"
)

// ChannelRepositoryImpl implements ChannelRepository
type ChannelRepositoryImpl struct {
	*BaseRepository[models.Channel, models.ChannelFilter]
}

func NewChannelRepository(db *gorm.DB) ChannelRepository {
	return &ChannelRepositoryImpl{BaseRepository: NewBaseRepository[models.Channel, models.ChannelFilter](db)}
}

func (r *ChannelRepositoryImpl) ListActive(ctx context.Context) ([]*models.Channel, error) {
	db := r.getDB(ctx)
	var rows []*models.Channel
	if err := db.Where("decommissioned = ?", false).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ChannelRepositoryImpl) UpdateStatus(ctx context.Context, channelID uint, status models.ChannelStatus, checkedAt time.Time) error {
	db := r.getDB(ctx)
	return db.Model(&models.Channel{}).
		Where("id = ?", channelID).
		Updates(map[string]any{
			"status":          status,
			"last_checked_at": checkedAt,
			"updated_at":      utils.UTCNow(),
		}).Error
}

func (r *ChannelRepositoryImpl) applyFilter(db *gorm.DB, f models.ChannelFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.TenantID != nil {
		db = db.Where("tenant_id = ?", *f.TenantID)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.Decommissioned != nil {
		db = db.Where("decommissioned = ?", *f.Decommissioned)
	}
	return db
}

func (r *ChannelRepositoryImpl) ByFilter(ctx context.Context, filter models.ChannelFilter, orderBy string, limit, offset int) ([]*models.Channel, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Channel{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.Channel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ChannelRepositoryImpl) Count(ctx context.Context, filter models.ChannelFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Channel{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
