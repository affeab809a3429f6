package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/zapcast/zapcast/models"
	"github.com/zapcast/zapcast/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChannelAssignmentRepositoryImpl implements ChannelAssignmentRepository
type ChannelAssignmentRepositoryImpl struct {
	db *gorm.DB
}

func NewChannelAssignmentRepository(db *gorm.DB) ChannelAssignmentRepository {
	return &ChannelAssignmentRepositoryImpl{db: db}
}

func (r *ChannelAssignmentRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(TxContextKey).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db
}

func (r *ChannelAssignmentRepositoryImpl) ByContact(ctx context.Context, contactID uint) (*models.ChannelAssignment, error) {
	db := r.getDB(ctx)
	var row models.ChannelAssignment
	if err := db.Where("contact_id = ?", contactID).Last(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// BindIfAbsent inserts the binding only when the contact has none yet.
// ON CONFLICT DO NOTHING on the contact unique index makes the first write
// win under concurrency; the winning row is read back afterwards either way.
func (r *ChannelAssignmentRepositoryImpl) BindIfAbsent(ctx context.Context, contactID, channelID uint) (*models.ChannelAssignment, error) {
	db := r.getDB(ctx)

	row := models.ChannelAssignment{
		ContactID:  contactID,
		ChannelID:  &channelID,
		AssignedAt: utils.UTCNow(),
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "contact_id"}},
		DoNothing: true,
	}).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to bind channel for contact %d: %w", contactID, err)
	}

	return r.ByContact(ctx, contactID)
}

func (r *ChannelAssignmentRepositoryImpl) Rebind(ctx context.Context, contactID uint, channelID *uint) (*models.ChannelAssignment, error) {
	db := r.getDB(ctx)

	existing, err := r.ByContact(ctx, contactID)
	if err != nil {
		return nil, err
	}
	now := utils.UTCNow()
	if existing == nil {
		row := models.ChannelAssignment{
			ContactID:  contactID,
			ChannelID:  channelID,
			AssignedAt: now,
		}
		if err := db.Create(&row).Error; err != nil {
			return nil, err
		}
		return &row, nil
	}

	existing.ChannelID = channelID
	existing.AssignedAt = now
	existing.RebindCount++
	if err := db.Save(existing).Error; err != nil {
		return nil, err
	}
	return existing, nil
}

func (r *ChannelAssignmentRepositoryImpl) RebindChannel(ctx context.Context, fromChannelID uint, toChannelID *uint) (int64, error) {
	db := r.getDB(ctx)
	res := db.Model(&models.ChannelAssignment{}).
		Where("channel_id = ?", fromChannelID).
		Updates(map[string]any{
			"channel_id":   toChannelID,
			"assigned_at":  utils.UTCNow(),
			"rebind_count": gorm.Expr("rebind_count + 1"),
			"updated_at":   utils.UTCNow(),
		})
	return res.RowsAffected, res.Error
}
