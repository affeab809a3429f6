package businessflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zapcast/zapcast/app/dto"
	"github.com/zapcast/zapcast/models"
	"github.com/zapcast/zapcast/repository"
	"github.com/zapcast/zapcast/utils"
)

// InboundFlow correlates inbound events with recipients and campaigns. Every
// event is persisted, matched or not; only a valid match mutates conversation
// or follow-up state.
type InboundFlow interface {
	HandleInbound(ctx context.Context, req *dto.InboundEventRequest) (*dto.InboundEventResponse, error)
}

// InboundFlowImpl implements the inbound reply correlator
type InboundFlowImpl struct {
	contactRepo      repository.ContactRepository
	campaignRepo     repository.CampaignRepository
	conversationRepo repository.ConversationStateRepository
	messageRepo      repository.OutboundMessageRepository
	inboundRepo      repository.InboundMessageRepository
	conversationFlow ConversationFlow
	followUpFlow     FollowUpFlow
}

// NewInboundFlow creates a new inbound flow instance
func NewInboundFlow(
	contactRepo repository.ContactRepository,
	campaignRepo repository.CampaignRepository,
	conversationRepo repository.ConversationStateRepository,
	messageRepo repository.OutboundMessageRepository,
	inboundRepo repository.InboundMessageRepository,
	conversationFlow ConversationFlow,
	followUpFlow FollowUpFlow,
) InboundFlow {
	return &InboundFlowImpl{
		contactRepo:      contactRepo,
		campaignRepo:     campaignRepo,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		inboundRepo:      inboundRepo,
		conversationFlow: conversationFlow,
		followUpFlow:     followUpFlow,
	}
}

func (s *InboundFlowImpl) HandleInbound(ctx context.Context, req *dto.InboundEventRequest) (*dto.InboundEventResponse, error) {
	if req.RecipientAddress == "" {
		return nil, NewBusinessError("VALIDATION_ERROR", "Inbound event validation failed", ErrInboundSenderRequired)
	}
	receivedAt := req.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = utils.UTCNow()
	}

	record := &models.InboundMessage{
		CampaignID: req.CampaignID,
		ChannelID:  req.ChannelID,
		RawAddress: req.RecipientAddress,
		Text:       req.Text,
		ReceivedAt: receivedAt,
	}
	resp := &dto.InboundEventResponse{}

	contact, err := s.matchContact(ctx, req.RecipientAddress)
	if err != nil {
		return nil, NewBusinessError("INBOUND_MATCH_FAILED", "Failed to match inbound event", err)
	}
	if contact == nil {
		note := "no matching contact"
		record.Note = &note
		if err := s.inboundRepo.Save(ctx, record); err != nil {
			return nil, NewBusinessError("INBOUND_SAVE_FAILED", "Failed to persist inbound event", err)
		}
		resp.Message = "Inbound recorded; no matching contact"
		return resp, nil
	}
	record.ContactID = &contact.ID
	resp.Matched = true
	resp.ContactID = &contact.ID

	campaign, err := s.resolveCampaign(ctx, req.CampaignID, contact.ID)
	if err != nil {
		return nil, NewBusinessError("INBOUND_MATCH_FAILED", "Failed to resolve campaign", err)
	}
	if campaign == nil {
		note := "no campaign context"
		record.Note = &note
		if err := s.inboundRepo.Save(ctx, record); err != nil {
			return nil, NewBusinessError("INBOUND_SAVE_FAILED", "Failed to persist inbound event", err)
		}
		resp.Message = "Inbound recorded; no campaign context"
		return resp, nil
	}
	record.CampaignID = &campaign.ID
	resp.CampaignID = &campaign.ID

	// A reply is attributable only when it postdates the conversation start:
	// the stage-1 send instant for this recipient and campaign.
	started, err := s.conversationStart(ctx, campaign, contact.ID)
	if err != nil {
		return nil, NewBusinessError("INBOUND_MATCH_FAILED", "Failed to resolve conversation start", err)
	}
	if started == nil || !receivedAt.After(*started) {
		resp.Stale = true
		note := "stale reply, predates conversation start"
		record.Note = &note
		if err := s.inboundRepo.Save(ctx, record); err != nil {
			return nil, NewBusinessError("INBOUND_SAVE_FAILED", "Failed to persist inbound event", err)
		}
		resp.Message = "Inbound recorded; stale reply ignored"
		return resp, nil
	}

	stopped, err := s.followUpFlow.StopOnReply(ctx, contact.ID, &campaign.ID, receivedAt)
	if err != nil {
		return nil, NewBusinessError("INBOUND_CORRELATION_FAILED", "Failed to stop follow-ups", err)
	}
	resp.FollowUpsStopped = stopped

	advanced := false
	stage, err := s.conversationFlow.OnReply(ctx, campaign, contact.ID, receivedAt)
	switch {
	case err == nil:
		advanced = true
		stageStr := string(stage)
		resp.ConversationStage = &stageStr
	case errors.Is(err, ErrConversationNotFound):
		// Simple-mode campaigns carry no conversation rows.
	case errors.Is(err, ErrUnexpectedReply):
		stageStr := string(stage)
		resp.ConversationStage = &stageStr
		note := fmt.Sprintf("unexpected reply: %v", err)
		record.Note = &note
	default:
		return nil, NewBusinessError("INBOUND_CORRELATION_FAILED", "Failed to advance conversation", err)
	}

	record.Correlated = advanced || stopped > 0
	resp.Correlated = record.Correlated
	if err := s.inboundRepo.Save(ctx, record); err != nil {
		return nil, NewBusinessError("INBOUND_SAVE_FAILED", "Failed to persist inbound event", err)
	}

	if resp.Correlated {
		resp.Message = "Inbound correlated"
	} else {
		resp.Message = "Inbound recorded"
	}
	return resp, nil
}

// matchContact resolves a recipient by identity first (exact phone match) and
// by normalized raw address second.
func (s *InboundFlowImpl) matchContact(ctx context.Context, address string) (*models.Contact, error) {
	contact, err := s.contactRepo.ByPhone(ctx, address)
	if err != nil {
		return nil, err
	}
	if contact != nil {
		return contact, nil
	}

	normalized := normalizeAddress(address)
	if normalized == address {
		return nil, nil
	}
	return s.contactRepo.ByPhone(ctx, normalized)
}

// resolveCampaign prefers the campaign named by the event; otherwise it looks
// for the contact's most recent open conversation.
func (s *InboundFlowImpl) resolveCampaign(ctx context.Context, campaignID *uint, contactID uint) (*models.Campaign, error) {
	if campaignID != nil {
		campaign, err := s.campaignRepo.ByID(ctx, *campaignID)
		if err != nil {
			return nil, err
		}
		if campaign == nil {
			return nil, ErrCampaignNotFound
		}
		return campaign, nil
	}

	states, err := s.conversationRepo.ByFilter(ctx, models.ConversationStateFilter{ContactID: &contactID}, "created_at DESC", 10, 0)
	if err != nil {
		return nil, err
	}
	for _, state := range states {
		if state.Stage.IsTerminal() {
			continue
		}
		return s.campaignRepo.ByID(ctx, state.CampaignID)
	}
	return nil, nil
}

// conversationStart returns the stage-1 send instant for the recipient, from
// the conversation row when one exists and from the sent message otherwise.
func (s *InboundFlowImpl) conversationStart(ctx context.Context, campaign *models.Campaign, contactID uint) (*time.Time, error) {
	started, err := s.conversationFlow.StartedAt(ctx, campaign.ID, contactID)
	if err != nil {
		return nil, err
	}
	if started != nil {
		return started, nil
	}

	msg, err := s.messageRepo.ByCampaignContactStage(ctx, campaign.ID, contactID, 1)
	if err != nil {
		return nil, err
	}
	if msg == nil || msg.SentAt == nil {
		return nil, nil
	}
	return msg.SentAt, nil
}

func normalizeAddress(address string) string {
	var b strings.Builder
	for _, r := range address {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
