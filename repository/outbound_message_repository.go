package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zapcast/zapcast/models"
	"github.com/zapcast/zapcast/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutboundMessageRepositoryImpl implements OutboundMessageRepository
type OutboundMessageRepositoryImpl struct {
	*BaseRepository[models.OutboundMessage, models.OutboundMessageFilter]
}

func NewOutboundMessageRepository(db *gorm.DB) OutboundMessageRepository {
	return &OutboundMessageRepositoryImpl{BaseRepository: NewBaseRepository[models.OutboundMessage, models.OutboundMessageFilter](db)}
}

// ClaimNextPending picks the oldest pending plan message (stage > 0) of a
// campaign and flips it pending->sending in one transaction. Drip rows carry
// stage 0 and belong to the follow-up scheduler, never to this claim.
// SELECT ... FOR UPDATE SKIP LOCKED plus the guarded UPDATE make the claim a
// single atomic step, so two concurrent scheduler invocations can never
// double-send one row.
func (r *OutboundMessageRepositoryImpl) ClaimNextPending(ctx context.Context, campaignID uint) (*models.OutboundMessage, error) {
	var claimed *models.OutboundMessage

	err := WithTransaction(ctx, r.DB, func(txCtx context.Context) error {
		db := r.getDB(txCtx)

		var row models.OutboundMessage
		err := db.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("campaign_id = ? AND status = ? AND stage > 0", campaignID, models.MessageStatusPending).
			Order("stage ASC, id ASC").
			First(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		res := db.Model(&models.OutboundMessage{}).
			Where("id = ? AND status = ?", row.ID, models.MessageStatusPending).
			Updates(map[string]any{
				"status":     models.MessageStatusSending,
				"updated_at": utils.UTCNow(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the compare-and-set to a concurrent claimer.
			return nil
		}

		row.Status = models.MessageStatusSending
		claimed = &row
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending message for campaign %d: %w", campaignID, err)
	}
	return claimed, nil
}

func (r *OutboundMessageRepositoryImpl) Release(ctx context.Context, messageID uint) error {
	db := r.getDB(ctx)
	return db.Model(&models.OutboundMessage{}).
		Where("id = ? AND status = ?", messageID, models.MessageStatusSending).
		Updates(map[string]any{
			"status":     models.MessageStatusPending,
			"updated_at": utils.UTCNow(),
		}).Error
}

func (r *OutboundMessageRepositoryImpl) MarkSent(ctx context.Context, messageID uint, channelID uint, sentAt time.Time) error {
	db := r.getDB(ctx)
	return db.Model(&models.OutboundMessage{}).
		Where("id = ?", messageID).
		Updates(map[string]any{
			"status":       models.MessageStatusSent,
			"channel_id":   channelID,
			"sent_at":      sentAt,
			"error_kind":   nil,
			"error_detail": nil,
			"updated_at":   utils.UTCNow(),
		}).Error
}

func (r *OutboundMessageRepositoryImpl) MarkFailed(ctx context.Context, messageID uint, channelID *uint, kind models.SendErrorKind, detail string) error {
	db := r.getDB(ctx)
	updates := map[string]any{
		"status":       models.MessageStatusFailed,
		"error_kind":   string(kind),
		"error_detail": detail,
		"updated_at":   utils.UTCNow(),
	}
	if channelID != nil {
		updates["channel_id"] = *channelID
	}
	return db.Model(&models.OutboundMessage{}).
		Where("id = ?", messageID).
		Updates(updates).Error
}

// ResetFailed is the resume-after-reconnection recovery path: every failed
// plan message goes back to pending with error detail cleared, and the
// scheduler naturally re-paces the retried sends. Failed drip rows stay
// failed; their follow-up status re-fires the step on its own clock.
func (r *OutboundMessageRepositoryImpl) ResetFailed(ctx context.Context, campaignID uint) (int64, error) {
	db := r.getDB(ctx)
	res := db.Model(&models.OutboundMessage{}).
		Where("campaign_id = ? AND status = ? AND stage > 0", campaignID, models.MessageStatusFailed).
		Updates(map[string]any{
			"status":       models.MessageStatusPending,
			"error_kind":   nil,
			"error_detail": nil,
			"updated_at":   utils.UTCNow(),
		})
	return res.RowsAffected, res.Error
}

func (r *OutboundMessageRepositoryImpl) ExistsForCampaign(ctx context.Context, campaignID uint) (bool, error) {
	db := r.getDB(ctx)
	var count int64
	if err := db.Model(&models.OutboundMessage{}).
		Where("campaign_id = ?", campaignID).
		Limit(1).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountByStatus counts plan messages only; drip rows are excluded so an
// in-flight follow-up can never hold a finished campaign open.
func (r *OutboundMessageRepositoryImpl) CountByStatus(ctx context.Context, campaignID uint, status models.MessageStatus) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := db.Model(&models.OutboundMessage{}).
		Where("campaign_id = ? AND status = ? AND stage > 0", campaignID, status).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *OutboundMessageRepositoryImpl) ByCampaignContactStage(ctx context.Context, campaignID, contactID uint, stage int) (*models.OutboundMessage, error) {
	db := r.getDB(ctx)
	var row models.OutboundMessage
	err := db.Where("campaign_id = ? AND contact_id = ? AND stage = ?", campaignID, contactID, stage).
		Last(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *OutboundMessageRepositoryImpl) ListSentByContact(ctx context.Context, contactID uint, campaignID *uint) ([]*models.OutboundMessage, error) {
	db := r.getDB(ctx)
	query := db.Where("contact_id = ? AND status = ?", contactID, models.MessageStatusSent)
	if campaignID != nil {
		query = query.Where("campaign_id = ?", *campaignID)
	}
	var rows []*models.OutboundMessage
	if err := query.Order("sent_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *OutboundMessageRepositoryImpl) applyFilter(db *gorm.DB, f models.OutboundMessageFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.CampaignID != nil {
		db = db.Where("campaign_id = ?", *f.CampaignID)
	}
	if f.ContactID != nil {
		db = db.Where("contact_id = ?", *f.ContactID)
	}
	if f.Stage != nil {
		db = db.Where("stage = ?", *f.Stage)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.ChannelID != nil {
		db = db.Where("channel_id = ?", *f.ChannelID)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *OutboundMessageRepositoryImpl) ByFilter(ctx context.Context, filter models.OutboundMessageFilter, orderBy string, limit, offset int) ([]*models.OutboundMessage, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.OutboundMessage{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.OutboundMessage
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *OutboundMessageRepositoryImpl) Count(ctx context.Context, filter models.OutboundMessageFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.OutboundMessage{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
