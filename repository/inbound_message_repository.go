package repository

import (
	"context"
	"time"

	"github.com/zapcast/zapcast/models"
	"gorm.io/gorm"
)

// InboundMessageRepositoryImpl implements InboundMessageRepository
type InboundMessageRepositoryImpl struct {
	db *gorm.DB
}

func NewInboundMessageRepository(db *gorm.DB) InboundMessageRepository {
	return &InboundMessageRepositoryImpl{db: db}
}

func (r *InboundMessageRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(TxContextKey).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db
}

func (r *InboundMessageRepositoryImpl) Save(ctx context.Context, msg *models.InboundMessage) error {
	db := r.getDB(ctx)
	return db.Create(msg).Error
}

// ExistsReplyAfter deliberately ignores the correlated flag: a reply that
// arrived before the drip flow existed is recorded uncorrelated (nothing to
// stop or advance yet) but still proves the recipient responded.
func (r *InboundMessageRepositoryImpl) ExistsReplyAfter(ctx context.Context, campaignID, contactID uint, after time.Time) (bool, error) {
	db := r.getDB(ctx)
	var count int64
	if err := db.Model(&models.InboundMessage{}).
		Where("campaign_id = ? AND contact_id = ? AND received_at > ?",
			campaignID, contactID, after).
		Limit(1).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
