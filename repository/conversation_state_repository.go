package repository

import (
	"context"
	"errors"

	"github.com/zapcast/zapcast/models"
	"gorm.io/gorm"
)

// ConversationStateRepositoryImpl implements ConversationStateRepository
type ConversationStateRepositoryImpl struct {
	*BaseRepository[models.ConversationState, models.ConversationStateFilter]
}

func NewConversationStateRepository(db *gorm.DB) ConversationStateRepository {
	return &ConversationStateRepositoryImpl{BaseRepository: NewBaseRepository[models.ConversationState, models.ConversationStateFilter](db)}
}

func (r *ConversationStateRepositoryImpl) ByCampaignAndContact(ctx context.Context, campaignID, contactID uint) (*models.ConversationState, error) {
	db := r.getDB(ctx)
	var row models.ConversationState
	if err := db.Where("campaign_id = ? AND contact_id = ?", campaignID, contactID).Last(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *ConversationStateRepositoryImpl) CountByStage(ctx context.Context, campaignID uint, stage models.ConversationStage) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := db.Model(&models.ConversationState{}).
		Where("campaign_id = ? AND stage = ?", campaignID, stage).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ConversationStateRepositoryImpl) applyFilter(db *gorm.DB, f models.ConversationStateFilter) *gorm.DB {
	if f.CampaignID != nil {
		db = db.Where("campaign_id = ?", *f.CampaignID)
	}
	if f.ContactID != nil {
		db = db.Where("contact_id = ?", *f.ContactID)
	}
	if f.Stage != nil {
		db = db.Where("stage = ?", *f.Stage)
	}
	return db
}

func (r *ConversationStateRepositoryImpl) ByFilter(ctx context.Context, filter models.ConversationStateFilter, orderBy string, limit, offset int) ([]*models.ConversationState, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ConversationState{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.ConversationState
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ConversationStateRepositoryImpl) Count(ctx context.Context, filter models.ConversationStateFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ConversationState{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
