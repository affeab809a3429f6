// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zapcast/zapcast/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Update(ctx context.Context, entity *T) error
	Count(ctx context.Context, filter F) (int64, error)
}

// CampaignRepository defines operations for campaigns
type CampaignRepository interface {
	Repository[models.Campaign, models.CampaignFilter]
	ByUUID(ctx context.Context, uuid uuid.UUID) (*models.Campaign, error)
	ListByStatus(ctx context.Context, status models.CampaignStatus, limit int) ([]*models.Campaign, error)
	// ListCycleResumable returns campaigns paused for the message cycle whose
	// pause window has elapsed; other pause reasons are never auto-resumed.
	ListCycleResumable(ctx context.Context, now time.Time) ([]*models.Campaign, error)
	IncrementSent(ctx context.Context, campaignID uint, sentAt time.Time) error
	IncrementFailed(ctx context.Context, campaignID uint) error
	// Targeted column updates used by the dispatch scheduler; counters are
	// bumped server-side so a full-row save cannot clobber them.
	ScheduleNextDispatch(ctx context.Context, campaignID uint, next time.Time) error
	SetPause(ctx context.Context, campaignID uint, reason models.PauseReason, until *time.Time) error
	// ClearPause resumes the campaign and resets the cycle counter.
	ClearPause(ctx context.Context, campaignID uint) error
	MarkCompleted(ctx context.Context, campaignID uint, at time.Time) error
}

// OutboundMessageRepository defines operations for outbound messages
type OutboundMessageRepository interface {
	Repository[models.OutboundMessage, models.OutboundMessageFilter]
	// ClaimNextPending atomically selects the oldest pending plan message
	// (stage > 0) of the campaign and flips it pending->sending. Drip rows
	// (stage 0) are never claimable here. Returns nil when none remain.
	ClaimNextPending(ctx context.Context, campaignID uint) (*models.OutboundMessage, error)
	// Release flips a claimed message back sending->pending (window closed or
	// campaign paused between claim and send).
	Release(ctx context.Context, messageID uint) error
	MarkSent(ctx context.Context, messageID uint, channelID uint, sentAt time.Time) error
	MarkFailed(ctx context.Context, messageID uint, channelID *uint, kind models.SendErrorKind, detail string) error
	// ResetFailed flips every failed plan message of the campaign back to
	// pending and clears error detail; the recovery path after a chip
	// reconnects. Drip rows are left alone, their status re-fires the step.
	ResetFailed(ctx context.Context, campaignID uint) (int64, error)
	ExistsForCampaign(ctx context.Context, campaignID uint) (bool, error)
	// CountByStatus counts plan messages (stage > 0) only.
	CountByStatus(ctx context.Context, campaignID uint, status models.MessageStatus) (int64, error)
	ByCampaignContactStage(ctx context.Context, campaignID, contactID uint, stage int) (*models.OutboundMessage, error)
	// ListSentByContact returns sent messages of a recipient, optionally
	// limited to one campaign, for the channel-consistency diagnostic.
	ListSentByContact(ctx context.Context, contactID uint, campaignID *uint) ([]*models.OutboundMessage, error)
}

// ChannelRepository defines operations for channels (chips)
type ChannelRepository interface {
	Repository[models.Channel, models.ChannelFilter]
	ListActive(ctx context.Context) ([]*models.Channel, error)
	UpdateStatus(ctx context.Context, channelID uint, status models.ChannelStatus, checkedAt time.Time) error
}

// ChannelAssignmentRepository defines operations for the official-channel ledger
type ChannelAssignmentRepository interface {
	ByContact(ctx context.Context, contactID uint) (*models.ChannelAssignment, error)
	// BindIfAbsent is first-write-wins: it returns the winning assignment,
	// which may be a pre-existing one bound to a different channel.
	BindIfAbsent(ctx context.Context, contactID, channelID uint) (*models.ChannelAssignment, error)
	// Rebind is the explicit administrative override.
	Rebind(ctx context.Context, contactID uint, channelID *uint) (*models.ChannelAssignment, error)
	// RebindChannel rebinds every assignment of fromChannel to toChannel
	// (nil = unassigned) and returns the number of rows touched.
	RebindChannel(ctx context.Context, fromChannelID uint, toChannelID *uint) (int64, error)
}

// ConversationStateRepository defines operations for conversation states
type ConversationStateRepository interface {
	Repository[models.ConversationState, models.ConversationStateFilter]
	ByCampaignAndContact(ctx context.Context, campaignID, contactID uint) (*models.ConversationState, error)
	CountByStage(ctx context.Context, campaignID uint, stage models.ConversationStage) (int64, error)
}

// FollowUpRepository defines operations for follow-up flows, steps and
// per-contact statuses
type FollowUpRepository interface {
	FlowByCampaign(ctx context.Context, campaignID uint) (*models.FollowUpFlow, error)
	FlowByID(ctx context.Context, flowID uint) (*models.FollowUpFlow, error)
	StepsByFlow(ctx context.Context, flowID uint) ([]*models.FollowUpStep, error)
	SaveFlow(ctx context.Context, flow *models.FollowUpFlow) error

	ActiveStatus(ctx context.Context, flowID, contactID uint) (*models.FollowUpContactStatus, error)
	ListDueStatuses(ctx context.Context, now time.Time, limit int) ([]*models.FollowUpContactStatus, error)
	SaveStatusBatch(ctx context.Context, statuses []*models.FollowUpContactStatus) error
	UpdateStatus(ctx context.Context, status *models.FollowUpContactStatus) error
	// DeactivateByContact stops every active status of the contact, optionally
	// scoped to the flow of one campaign. Returns rows touched.
	DeactivateByContact(ctx context.Context, contactID uint, flowID *uint, reason models.FollowUpStopReason, at time.Time) (int64, error)
}

// ContactRepository defines operations for contacts
type ContactRepository interface {
	Repository[models.Contact, models.ContactFilter]
	ByPhone(ctx context.Context, phone string) (*models.Contact, error)
	ListByList(ctx context.Context, listID uint) ([]*models.Contact, error)
}

// InboundMessageRepository defines operations for inbound message records
type InboundMessageRepository interface {
	Save(ctx context.Context, msg *models.InboundMessage) error
	// ExistsReplyAfter reports whether the contact has any inbound for the
	// campaign received strictly after the given instant, correlated or not;
	// an uncorrelated reply still disqualifies the recipient from the drip.
	ExistsReplyAfter(ctx context.Context, campaignID, contactID uint, after time.Time) (bool, error)
}
