package businessflow

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/redis/go-redis/v9"
	"github.com/zapcast/zapcast/app/dto"
	"github.com/zapcast/zapcast/config"
	"github.com/zapcast/zapcast/models"
	"github.com/zapcast/zapcast/repository"
	"github.com/zapcast/zapcast/utils"
	"gorm.io/gorm"
)

// CompileFlow expands a campaign definition into one outbound-message record
// per recipient per stage and activates the campaign.
type CompileFlow interface {
	Compile(ctx context.Context, req *dto.CompileCampaignRequest, metadata *ClientMetadata) (*dto.CompileCampaignResponse, error)
}

// CompileFlowImpl implements the message plan compiler
type CompileFlowImpl struct {
	campaignRepo     repository.CampaignRepository
	contactRepo      repository.ContactRepository
	messageRepo      repository.OutboundMessageRepository
	conversationRepo repository.ConversationStateRepository
	db               *gorm.DB
	rc               *redis.Client
	cacheConfig      *config.CacheConfig

	// randIntN is swapped in tests for deterministic variant choice
	randIntN func(n int) int
}

// NewCompileFlow creates a new compile flow instance
func NewCompileFlow(
	campaignRepo repository.CampaignRepository,
	contactRepo repository.ContactRepository,
	messageRepo repository.OutboundMessageRepository,
	conversationRepo repository.ConversationStateRepository,
	db *gorm.DB,
	rc *redis.Client,
	cacheConfig *config.CacheConfig,
) CompileFlow {
	return &CompileFlowImpl{
		campaignRepo:     campaignRepo,
		contactRepo:      contactRepo,
		messageRepo:      messageRepo,
		conversationRepo: conversationRepo,
		db:               db,
		rc:               rc,
		cacheConfig:      cacheConfig,
		randIntN:         rand.Intn,
	}
}

// Compile expands the campaign into its message plan. Refused with
// AlreadyCompiled when any message record exists for the campaign; the
// per-campaign lock closes the race between concurrent triggers.
func (s *CompileFlowImpl) Compile(ctx context.Context, req *dto.CompileCampaignRequest, metadata *ClientMetadata) (*dto.CompileCampaignResponse, error) {
	campaign, err := getCampaignByUUID(ctx, s.campaignRepo, req.UUID, req.TenantID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}

	if err := s.validateSpec(campaign); err != nil {
		return nil, NewBusinessError("VALIDATION_ERROR", "Campaign validation failed", err)
	}

	release, err := acquireCampaignLock(ctx, s.rc, s.lockPrefix(), campaign.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	exists, err := s.messageRepo.ExistsForCampaign(ctx, campaign.ID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_COMPILE_FAILED", "Failed to check existing plan", err)
	}
	if exists {
		return nil, NewBusinessError("ALREADY_COMPILED", "Campaign already compiled", ErrCampaignAlreadyCompiled)
	}

	if !campaign.CanTransitionTo(models.CampaignStatusRunning) {
		return nil, NewBusinessError("VALIDATION_ERROR", "Campaign cannot be activated from its current status", ErrInvalidStatusTransition)
	}

	contacts, err := s.contactRepo.ListByList(ctx, campaign.ListID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_COMPILE_FAILED", "Failed to load recipient list", err)
	}
	if len(contacts) == 0 {
		return nil, NewBusinessError("VALIDATION_ERROR", "Recipient list is empty", ErrListEmpty)
	}

	messages, states := s.buildPlan(campaign, contacts)

	err = repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		if err := s.messageRepo.SaveBatch(txCtx, messages); err != nil {
			return fmt.Errorf("save message plan: %w", err)
		}
		if len(states) > 0 {
			if err := s.conversationRepo.SaveBatch(txCtx, states); err != nil {
				return fmt.Errorf("save conversation states: %w", err)
			}
		}

		now := utils.UTCNow()
		campaign.Status = models.CampaignStatusRunning
		campaign.StartedAt = &now
		// Planned total counts message records, not recipients, so progress
		// is accurate for interactive mode where stage-2 rows come later.
		campaign.TotalPlanned = len(messages)
		if err := s.campaignRepo.Update(txCtx, campaign); err != nil {
			return fmt.Errorf("activate campaign: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_COMPILE_FAILED", "Campaign compilation failed", err)
	}

	return &dto.CompileCampaignResponse{
		Message:          "Campaign compiled successfully",
		UUID:             campaign.UUID.String(),
		Status:           campaign.Status.String(),
		MessagesPlanned:  len(messages),
		Recipients:       len(contacts),
		ConversationRows: len(states),
	}, nil
}

func (s *CompileFlowImpl) validateSpec(campaign *models.Campaign) error {
	if campaign.IsTerminal() {
		return ErrCampaignTerminal
	}
	if campaign.Title == "" {
		return ErrCampaignTitleRequired
	}
	spec := campaign.Spec
	if spec.MinIntervalSeconds < 0 || spec.MaxIntervalSeconds < spec.MinIntervalSeconds {
		return ErrIntervalRangeInvalid
	}
	if len(spec.ChannelIDs) == 0 {
		return ErrCampaignChannelsRequired
	}
	if len(spec.Stage1Variants) == 0 {
		return ErrCampaignVariantsRequired
	}
	if campaign.Mode == models.CampaignModeInteractive && len(spec.Stage2Variants) == 0 {
		return fmt.Errorf("%w: interactive mode needs stage-2 variants", ErrCampaignVariantsRequired)
	}
	return nil
}

// buildPlan renders one stage-1 message per recipient, plus stage-2 in simple
// mode when second-stage variants exist. Interactive mode defers stage-2 to
// the conversation state machine and gets one conversation row per recipient.
func (s *CompileFlowImpl) buildPlan(campaign *models.Campaign, contacts []*models.Contact) ([]*models.OutboundMessage, []*models.ConversationState) {
	interactive := campaign.Mode == models.CampaignModeInteractive
	emitStage2 := !interactive && campaign.Spec.HasSecondStage()

	perContact := 1
	if emitStage2 {
		perContact = 2
	}
	messages := make([]*models.OutboundMessage, 0, len(contacts)*perContact)
	var states []*models.ConversationState
	if interactive {
		states = make([]*models.ConversationState, 0, len(contacts))
	}

	for _, contact := range contacts {
		messages = append(messages, buildStageMessage(campaign, contact, 1, campaign.Spec.Stage1Variants, s.randIntN))
		if emitStage2 {
			messages = append(messages, buildStageMessage(campaign, contact, 2, campaign.Spec.Stage2Variants, s.randIntN))
		}
		if interactive {
			states = append(states, &models.ConversationState{
				CampaignID: campaign.ID,
				ContactID:  contact.ID,
				Stage:      models.ConversationWaitingStage1,
			})
		}
	}
	return messages, states
}

func (s *CompileFlowImpl) lockPrefix() string {
	if s.cacheConfig != nil {
		return s.cacheConfig.RedisPrefix
	}
	return ""
}
