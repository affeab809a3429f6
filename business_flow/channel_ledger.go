package businessflow

import (
	"context"
	"fmt"

	"github.com/zapcast/zapcast/app/dto"
	"github.com/zapcast/zapcast/models"
	"github.com/zapcast/zapcast/repository"
	"gorm.io/gorm"
)

// ChannelLedger is the official-channel ledger: once a recipient has been
// contacted through a chip, later sends prefer that chip across all
// campaigns. A mismatch is a surfaced diagnostic, never a hard failure.
type ChannelLedger interface {
	// Resolve returns the recipient's binding, or nil when none exists.
	Resolve(ctx context.Context, contactID uint) (*models.ChannelAssignment, error)
	// ChannelForSend picks the channel for one send: the existing binding
	// when present (offCampaign flags a binding outside the campaign's
	// configured set), otherwise a connected channel from the campaign set,
	// recorded as the recipient's new binding first-write-wins.
	ChannelForSend(ctx context.Context, contactID uint, campaignChannelIDs []uint) (channelID uint, offCampaign bool, err error)
	Rebind(ctx context.Context, req *dto.RebindChannelRequest) (*dto.RebindChannelResponse, error)
	Decommission(ctx context.Context, req *dto.DecommissionChannelRequest) (*dto.DecommissionChannelResponse, error)
	ConsistencyReport(ctx context.Context, req *dto.ConsistencyReportRequest) (*dto.ConsistencyReportResponse, error)
}

// ChannelLedgerImpl implements the channel assignment ledger
type ChannelLedgerImpl struct {
	assignmentRepo repository.ChannelAssignmentRepository
	channelRepo    repository.ChannelRepository
	messageRepo    repository.OutboundMessageRepository
	db             *gorm.DB
}

// NewChannelLedger creates a new channel ledger instance
func NewChannelLedger(
	assignmentRepo repository.ChannelAssignmentRepository,
	channelRepo repository.ChannelRepository,
	messageRepo repository.OutboundMessageRepository,
	db *gorm.DB,
) ChannelLedger {
	return &ChannelLedgerImpl{
		assignmentRepo: assignmentRepo,
		channelRepo:    channelRepo,
		messageRepo:    messageRepo,
		db:             db,
	}
}

func (s *ChannelLedgerImpl) Resolve(ctx context.Context, contactID uint) (*models.ChannelAssignment, error) {
	return s.assignmentRepo.ByContact(ctx, contactID)
}

func (s *ChannelLedgerImpl) ChannelForSend(ctx context.Context, contactID uint, campaignChannelIDs []uint) (uint, bool, error) {
	assignment, err := s.assignmentRepo.ByContact(ctx, contactID)
	if err != nil {
		return 0, false, fmt.Errorf("resolve assignment: %w", err)
	}
	if assignment != nil && assignment.ChannelID != nil {
		return *assignment.ChannelID, !containsChannel(campaignChannelIDs, *assignment.ChannelID), nil
	}

	channelID, err := s.pickConnected(ctx, campaignChannelIDs)
	if err != nil {
		return 0, false, err
	}

	// First-write-wins: a concurrent dispatch may have bound the recipient
	// between the read above and this insert; the winning row is honored.
	winner, err := s.assignmentRepo.BindIfAbsent(ctx, contactID, channelID)
	if err != nil {
		return 0, false, fmt.Errorf("bind assignment: %w", err)
	}
	if winner != nil && winner.ChannelID != nil {
		return *winner.ChannelID, !containsChannel(campaignChannelIDs, *winner.ChannelID), nil
	}
	return channelID, false, nil
}

// pickConnected chooses the first connected, non-decommissioned channel from
// the campaign's configured set.
func (s *ChannelLedgerImpl) pickConnected(ctx context.Context, campaignChannelIDs []uint) (uint, error) {
	active, err := s.channelRepo.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active channels: %w", err)
	}
	activeSet := make(map[uint]bool, len(active))
	for _, ch := range active {
		activeSet[ch.ID] = true
	}
	for _, id := range campaignChannelIDs {
		if activeSet[id] {
			return id, nil
		}
	}
	return 0, ErrNoChannelAvailable
}

// Rebind is the explicit administrative override of a recipient's binding
func (s *ChannelLedgerImpl) Rebind(ctx context.Context, req *dto.RebindChannelRequest) (*dto.RebindChannelResponse, error) {
	if req.ChannelID != nil {
		channel, err := s.channelRepo.ByID(ctx, *req.ChannelID)
		if err != nil {
			return nil, NewBusinessError("CHANNEL_LOOKUP_FAILED", "Failed to lookup channel", err)
		}
		if channel == nil {
			return nil, NewBusinessError("CHANNEL_NOT_FOUND", "Channel not found", ErrChannelNotFound)
		}
		if channel.Decommissioned {
			return nil, NewBusinessError("VALIDATION_ERROR", "Cannot bind to a decommissioned channel", ErrChannelDecommissioned)
		}
	}

	assignment, err := s.assignmentRepo.Rebind(ctx, req.ContactID, req.ChannelID)
	if err != nil {
		return nil, NewBusinessError("REBIND_FAILED", "Failed to rebind recipient", err)
	}
	return &dto.RebindChannelResponse{
		Message:     "Recipient rebound",
		ContactID:   assignment.ContactID,
		ChannelID:   assignment.ChannelID,
		RebindCount: assignment.RebindCount,
		AssignedAt:  assignment.AssignedAt,
	}, nil
}

// Decommission retires a chip and rebinds its ledger entries in bulk to the
// replacement channel, or to unassigned when none is given.
func (s *ChannelLedgerImpl) Decommission(ctx context.Context, req *dto.DecommissionChannelRequest) (*dto.DecommissionChannelResponse, error) {
	channel, err := s.channelRepo.ByID(ctx, req.ChannelID)
	if err != nil {
		return nil, NewBusinessError("CHANNEL_LOOKUP_FAILED", "Failed to lookup channel", err)
	}
	if channel == nil {
		return nil, NewBusinessError("CHANNEL_NOT_FOUND", "Channel not found", ErrChannelNotFound)
	}
	if req.ReplacementID != nil {
		if *req.ReplacementID == req.ChannelID {
			return nil, NewBusinessError("VALIDATION_ERROR", "Replacement must differ from the decommissioned channel", ErrChannelDecommissioned)
		}
		replacement, err := s.channelRepo.ByID(ctx, *req.ReplacementID)
		if err != nil {
			return nil, NewBusinessError("CHANNEL_LOOKUP_FAILED", "Failed to lookup replacement channel", err)
		}
		if replacement == nil {
			return nil, NewBusinessError("CHANNEL_NOT_FOUND", "Replacement channel not found", ErrChannelNotFound)
		}
		if replacement.Decommissioned {
			return nil, NewBusinessError("VALIDATION_ERROR", "Replacement channel is decommissioned", ErrChannelDecommissioned)
		}
	}

	var rebound int64
	err = repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		channel.Decommissioned = true
		if err := s.channelRepo.Update(txCtx, channel); err != nil {
			return fmt.Errorf("decommission channel: %w", err)
		}
		var err error
		rebound, err = s.assignmentRepo.RebindChannel(txCtx, req.ChannelID, req.ReplacementID)
		if err != nil {
			return fmt.Errorf("bulk rebind: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, NewBusinessError("DECOMMISSION_FAILED", "Channel decommission failed", err)
	}

	return &dto.DecommissionChannelResponse{
		Message:         "Channel decommissioned",
		ChannelID:       req.ChannelID,
		ContactsRebound: rebound,
	}, nil
}

// ConsistencyReport reports whether a recipient's sent messages used a single
// channel. Operator diagnostic only; it never blocks sending.
func (s *ChannelLedgerImpl) ConsistencyReport(ctx context.Context, req *dto.ConsistencyReportRequest) (*dto.ConsistencyReportResponse, error) {
	sent, err := s.messageRepo.ListSentByContact(ctx, req.ContactID, req.CampaignID)
	if err != nil {
		return nil, NewBusinessError("CONSISTENCY_REPORT_FAILED", "Failed to load sent messages", err)
	}

	used := make([]uint, 0, 1)
	seen := make(map[uint]bool)
	for _, m := range sent {
		if m.ChannelID == nil {
			continue
		}
		if !seen[*m.ChannelID] {
			seen[*m.ChannelID] = true
			used = append(used, *m.ChannelID)
		}
	}

	consistency := models.ChannelConsistencyConsistent
	if len(used) > 1 {
		consistency = models.ChannelConsistencyInconsistent
	}

	resp := &dto.ConsistencyReportResponse{
		ContactID:    req.ContactID,
		CampaignID:   req.CampaignID,
		Consistency:  string(consistency),
		ChannelsUsed: used,
		MessagesSent: len(sent),
	}
	if assignment, err := s.assignmentRepo.ByContact(ctx, req.ContactID); err == nil && assignment != nil {
		resp.BoundChannel = assignment.ChannelID
	}
	return resp, nil
}

func containsChannel(ids []uint, id uint) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
