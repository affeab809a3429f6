package businessflow

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/zapcast/zapcast/models"
	"github.com/zapcast/zapcast/repository"
	"gorm.io/gorm"
)

// ConversationFlow advances per-recipient conversation state for interactive
// campaigns. Sends advance it through the dispatch scheduler; replies through
// the inbound correlator. Any event that does not match an allowed transition
// is an UnexpectedReply: recorded, logged by the caller, state untouched.
type ConversationFlow interface {
	// OnStageSent moves waiting_stage1 -> waiting_stage1_reply or
	// waiting_stage2 -> waiting_stage2_reply after a successful send.
	OnStageSent(ctx context.Context, campaignID, contactID uint, stage int, sentAt time.Time) error
	// OnReply advances the conversation on a correlated inbound reply and
	// lazily creates the stage-2 message on a stage-1 reply. Returns the
	// stage after the event.
	OnReply(ctx context.Context, campaign *models.Campaign, contactID uint, receivedAt time.Time) (models.ConversationStage, error)
	// HandToFollowUp marks the recipient as exited to the follow-up drip.
	HandToFollowUp(ctx context.Context, campaignID, contactID uint) error
	// StartedAt returns the conversation-start instant a reply must postdate.
	StartedAt(ctx context.Context, campaignID, contactID uint) (*time.Time, error)
}

// ConversationFlowImpl implements the conversation state machine
type ConversationFlowImpl struct {
	conversationRepo repository.ConversationStateRepository
	messageRepo      repository.OutboundMessageRepository
	contactRepo      repository.ContactRepository
	db               *gorm.DB

	randIntN func(n int) int
}

// NewConversationFlow creates a new conversation flow instance
func NewConversationFlow(
	conversationRepo repository.ConversationStateRepository,
	messageRepo repository.OutboundMessageRepository,
	contactRepo repository.ContactRepository,
	db *gorm.DB,
) ConversationFlow {
	return &ConversationFlowImpl{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		contactRepo:      contactRepo,
		db:               db,
		randIntN:         rand.Intn,
	}
}

func (s *ConversationFlowImpl) OnStageSent(ctx context.Context, campaignID, contactID uint, stage int, sentAt time.Time) error {
	state, err := s.conversationRepo.ByCampaignAndContact(ctx, campaignID, contactID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if state == nil {
		return ErrConversationNotFound
	}

	var next models.ConversationStage
	switch stage {
	case 1:
		next = models.ConversationWaitingStage1Reply
	case 2:
		next = models.ConversationWaitingStage2Reply
	default:
		return fmt.Errorf("%w: stage %d send", ErrUnexpectedReply, stage)
	}
	if !state.Stage.CanTransitionTo(next) {
		return fmt.Errorf("%w: stage %d sent while %s", ErrUnexpectedReply, stage, state.Stage)
	}

	state.Stage = next
	if stage == 1 {
		state.Stage1SentAt = &sentAt
	} else {
		state.Stage2SentAt = &sentAt
	}
	if err := s.conversationRepo.Update(ctx, state); err != nil {
		return fmt.Errorf("advance conversation: %w", err)
	}
	return nil
}

func (s *ConversationFlowImpl) OnReply(ctx context.Context, campaign *models.Campaign, contactID uint, receivedAt time.Time) (models.ConversationStage, error) {
	state, err := s.conversationRepo.ByCampaignAndContact(ctx, campaign.ID, contactID)
	if err != nil {
		return "", fmt.Errorf("load conversation: %w", err)
	}
	if state == nil {
		return "", ErrConversationNotFound
	}

	// Replies timestamped at or before the stage-1 send belong to unrelated
	// history and must never be attributed to this conversation.
	started := state.ConversationStartedAt()
	if started == nil || !receivedAt.After(*started) {
		return state.Stage, ErrStaleReply
	}

	switch state.Stage {
	case models.ConversationWaitingStage1Reply:
		return s.onStage1Reply(ctx, campaign, state, receivedAt)
	case models.ConversationWaitingStage2Reply:
		state.Stage = models.ConversationCompleted
		state.Stage2RepliedAt = &receivedAt
		if err := s.conversationRepo.Update(ctx, state); err != nil {
			return "", fmt.Errorf("complete conversation: %w", err)
		}
		return state.Stage, nil
	default:
		return state.Stage, fmt.Errorf("%w: reply while %s", ErrUnexpectedReply, state.Stage)
	}
}

// onStage1Reply advances to waiting_stage2 and creates the deferred stage-2
// message record in the same transaction.
func (s *ConversationFlowImpl) onStage1Reply(ctx context.Context, campaign *models.Campaign, state *models.ConversationState, receivedAt time.Time) (models.ConversationStage, error) {
	contact, err := s.contactRepo.ByID(ctx, state.ContactID)
	if err != nil {
		return "", fmt.Errorf("load contact: %w", err)
	}
	if contact == nil {
		return "", ErrContactNotFound
	}

	err = repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		existing, err := s.messageRepo.ByCampaignContactStage(txCtx, campaign.ID, state.ContactID, 2)
		if err != nil {
			return fmt.Errorf("check stage-2 message: %w", err)
		}
		if existing == nil && campaign.Spec.HasSecondStage() {
			msg := buildStageMessage(campaign, contact, 2, campaign.Spec.Stage2Variants, s.randIntN)
			if err := s.messageRepo.Save(txCtx, msg); err != nil {
				return fmt.Errorf("create stage-2 message: %w", err)
			}
		}

		state.Stage = models.ConversationWaitingStage2
		state.Stage1RepliedAt = &receivedAt
		if err := s.conversationRepo.Update(txCtx, state); err != nil {
			return fmt.Errorf("advance conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return state.Stage, nil
}

func (s *ConversationFlowImpl) HandToFollowUp(ctx context.Context, campaignID, contactID uint) error {
	state, err := s.conversationRepo.ByCampaignAndContact(ctx, campaignID, contactID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if state == nil {
		// Simple-mode campaigns have no conversation rows; nothing to hand off.
		return nil
	}
	if state.Stage.IsTerminal() {
		return nil
	}
	if !state.Stage.CanTransitionTo(models.ConversationHandedToFollowUp) {
		return fmt.Errorf("%w: handoff while %s", ErrUnexpectedReply, state.Stage)
	}

	state.Stage = models.ConversationHandedToFollowUp
	if err := s.conversationRepo.Update(ctx, state); err != nil {
		return fmt.Errorf("hand conversation to follow-up: %w", err)
	}
	return nil
}

func (s *ConversationFlowImpl) StartedAt(ctx context.Context, campaignID, contactID uint) (*time.Time, error) {
	state, err := s.conversationRepo.ByCampaignAndContact(ctx, campaignID, contactID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, nil
	}
	return state.ConversationStartedAt(), nil
}
