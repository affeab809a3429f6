package businessflow

import (
	"context"
	"fmt"
	"time"

	"github.com/zapcast/zapcast/app/dto"
	"github.com/zapcast/zapcast/models"
	"github.com/zapcast/zapcast/repository"
	"github.com/zapcast/zapcast/utils"
	"gorm.io/gorm"
)

// FollowUpFlow manages the drip sequences for recipients who did not respond
// to the main campaign.
type FollowUpFlow interface {
	CreateFlow(ctx context.Context, req *dto.CreateFollowUpFlowRequest) (*dto.CreateFollowUpFlowResponse, error)
	// ScheduleForContact creates the drip record for one recipient after
	// their stage-1 send, applying the idempotency and already-replied
	// exclusions. The first fire is offset from the actual send instant.
	ScheduleForContact(ctx context.Context, campaignID, contactID uint, stage1SentAt time.Time) (created bool, err error)
	// InitializeForCampaign is the bulk form, safe to re-run.
	InitializeForCampaign(ctx context.Context, req *dto.InitFollowUpsRequest) (*dto.InitFollowUpsResponse, error)
	// FlowWithSteps loads a flow and its ordered steps.
	FlowWithSteps(ctx context.Context, flowID uint) (*models.FollowUpFlow, []*models.FollowUpStep, error)
	// AdvanceAfterSend moves the recipient to the next step after a
	// successful drip send, or deactivates the record when none remain.
	AdvanceAfterSend(ctx context.Context, status *models.FollowUpContactStatus, steps []*models.FollowUpStep, sentAt time.Time) error
	// StopOnReply deactivates the recipient's active drip records with
	// reason replied, scoped to one campaign's flow when known.
	StopOnReply(ctx context.Context, contactID uint, campaignID *uint, at time.Time) (int64, error)
}

// FollowUpFlowImpl implements the follow-up drip business logic
type FollowUpFlowImpl struct {
	followUpRepo repository.FollowUpRepository
	campaignRepo repository.CampaignRepository
	messageRepo  repository.OutboundMessageRepository
	inboundRepo  repository.InboundMessageRepository
	db           *gorm.DB
}

// NewFollowUpFlow creates a new follow-up flow instance
func NewFollowUpFlow(
	followUpRepo repository.FollowUpRepository,
	campaignRepo repository.CampaignRepository,
	messageRepo repository.OutboundMessageRepository,
	inboundRepo repository.InboundMessageRepository,
	db *gorm.DB,
) FollowUpFlow {
	return &FollowUpFlowImpl{
		followUpRepo: followUpRepo,
		campaignRepo: campaignRepo,
		messageRepo:  messageRepo,
		inboundRepo:  inboundRepo,
		db:           db,
	}
}

func (s *FollowUpFlowImpl) CreateFlow(ctx context.Context, req *dto.CreateFollowUpFlowRequest) (*dto.CreateFollowUpFlowResponse, error) {
	campaign, err := getCampaignByUUID(ctx, s.campaignRepo, req.CampaignUUID, req.TenantID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if len(req.Steps) == 0 {
		return nil, NewBusinessError("VALIDATION_ERROR", "Flow needs at least one step", ErrFollowUpStepsEmpty)
	}
	existing, err := s.followUpRepo.FlowByCampaign(ctx, campaign.ID)
	if err != nil {
		return nil, NewBusinessError("FOLLOWUP_FLOW_FAILED", "Failed to check existing flow", err)
	}
	if existing != nil {
		return nil, NewBusinessError("VALIDATION_ERROR", "Campaign already has a follow-up flow", fmt.Errorf("flow %d exists", existing.ID))
	}

	flow := &models.FollowUpFlow{
		CampaignID: campaign.ID,
		Name:       req.Name,
		Active:     true,
		Steps:      make([]models.FollowUpStep, 0, len(req.Steps)),
	}
	for i, step := range req.Steps {
		flow.Steps = append(flow.Steps, models.FollowUpStep{
			StepOrder:         i + 1,
			DaysAfterPrevious: step.DaysAfterPrevious,
			Text:              step.Text,
		})
	}
	if err := s.followUpRepo.SaveFlow(ctx, flow); err != nil {
		return nil, NewBusinessError("FOLLOWUP_FLOW_FAILED", "Failed to save flow", err)
	}

	return &dto.CreateFollowUpFlowResponse{
		Message: "Follow-up flow created",
		FlowID:  flow.ID,
		Steps:   len(flow.Steps),
	}, nil
}

func (s *FollowUpFlowImpl) ScheduleForContact(ctx context.Context, campaignID, contactID uint, stage1SentAt time.Time) (bool, error) {
	flow, err := s.followUpRepo.FlowByCampaign(ctx, campaignID)
	if err != nil {
		return false, fmt.Errorf("load flow: %w", err)
	}
	if flow == nil || !flow.Active {
		return false, nil
	}
	steps, err := s.followUpRepo.StepsByFlow(ctx, flow.ID)
	if err != nil {
		return false, fmt.Errorf("load steps: %w", err)
	}
	if len(steps) == 0 {
		return false, nil
	}

	status, err := s.buildStatus(ctx, flow, steps[0], campaignID, contactID, stage1SentAt)
	if err != nil || status == nil {
		return false, err
	}
	if err := s.followUpRepo.SaveStatusBatch(ctx, []*models.FollowUpContactStatus{status}); err != nil {
		return false, fmt.Errorf("save drip status: %w", err)
	}
	return true, nil
}

func (s *FollowUpFlowImpl) InitializeForCampaign(ctx context.Context, req *dto.InitFollowUpsRequest) (*dto.InitFollowUpsResponse, error) {
	campaign, err := getCampaignByUUID(ctx, s.campaignRepo, req.UUID, req.TenantID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	flow, err := s.followUpRepo.FlowByCampaign(ctx, campaign.ID)
	if err != nil {
		return nil, NewBusinessError("FOLLOWUP_INIT_FAILED", "Failed to load flow", err)
	}
	if flow == nil {
		return nil, NewBusinessError("FOLLOWUP_FLOW_NOT_FOUND", "Campaign has no follow-up flow", ErrFollowUpFlowNotFound)
	}
	if !flow.Active {
		return nil, NewBusinessError("VALIDATION_ERROR", "Follow-up flow is inactive", ErrFollowUpFlowInactive)
	}
	steps, err := s.followUpRepo.StepsByFlow(ctx, flow.ID)
	if err != nil {
		return nil, NewBusinessError("FOLLOWUP_INIT_FAILED", "Failed to load steps", err)
	}
	if len(steps) == 0 {
		return nil, NewBusinessError("VALIDATION_ERROR", "Follow-up flow has no steps", ErrFollowUpStepsEmpty)
	}

	stage := 1
	sentStatus := models.MessageStatusSent
	sent, err := s.messageRepo.ByFilter(ctx, models.OutboundMessageFilter{
		CampaignID: &campaign.ID,
		Stage:      &stage,
		Status:     &sentStatus,
	}, "id ASC", 0, 0)
	if err != nil {
		return nil, NewBusinessError("FOLLOWUP_INIT_FAILED", "Failed to load sent stage-1 messages", err)
	}

	var statuses []*models.FollowUpContactStatus
	skipped := 0
	for _, msg := range sent {
		if msg.SentAt == nil {
			skipped++
			continue
		}
		status, err := s.buildStatus(ctx, flow, steps[0], campaign.ID, msg.ContactID, *msg.SentAt)
		if err != nil {
			return nil, NewBusinessError("FOLLOWUP_INIT_FAILED", "Failed to evaluate recipient", err)
		}
		if status == nil {
			skipped++
			continue
		}
		statuses = append(statuses, status)
	}

	if len(statuses) > 0 {
		if err := s.followUpRepo.SaveStatusBatch(ctx, statuses); err != nil {
			return nil, NewBusinessError("FOLLOWUP_INIT_FAILED", "Failed to save drip statuses", err)
		}
	}

	return &dto.InitFollowUpsResponse{
		Message:         "Follow-up initialization complete",
		UUID:            campaign.UUID.String(),
		StatusesCreated: len(statuses),
		Skipped:         skipped,
	}, nil
}

// buildStatus applies the exclusion rules and returns nil (no error) when the
// recipient must be skipped: an active record already exists, or the
// recipient already replied to the originating campaign. The first fire is
// always computed from the recipient's actual stage-1 send time, so late or
// retried initialization keeps correct day-offset semantics.
func (s *FollowUpFlowImpl) buildStatus(ctx context.Context, flow *models.FollowUpFlow, firstStep *models.FollowUpStep, campaignID, contactID uint, stage1SentAt time.Time) (*models.FollowUpContactStatus, error) {
	active, err := s.followUpRepo.ActiveStatus(ctx, flow.ID, contactID)
	if err != nil {
		return nil, fmt.Errorf("check active status: %w", err)
	}
	if active != nil {
		return nil, nil
	}

	replied, err := s.inboundRepo.ExistsReplyAfter(ctx, campaignID, contactID, stage1SentAt)
	if err != nil {
		return nil, fmt.Errorf("check replies: %w", err)
	}
	if replied {
		return nil, nil
	}

	return &models.FollowUpContactStatus{
		FlowID:      flow.ID,
		ContactID:   contactID,
		CurrentStep: 0,
		IsActive:    true,
		NextFireAt:  stage1SentAt.Add(firstStep.Offset()),
	}, nil
}

func (s *FollowUpFlowImpl) FlowWithSteps(ctx context.Context, flowID uint) (*models.FollowUpFlow, []*models.FollowUpStep, error) {
	flow, err := s.followUpRepo.FlowByID(ctx, flowID)
	if err != nil {
		return nil, nil, fmt.Errorf("load flow: %w", err)
	}
	if flow == nil {
		return nil, nil, ErrFollowUpFlowNotFound
	}
	steps, err := s.followUpRepo.StepsByFlow(ctx, flowID)
	if err != nil {
		return nil, nil, fmt.Errorf("load steps: %w", err)
	}
	return flow, steps, nil
}

func (s *FollowUpFlowImpl) AdvanceAfterSend(ctx context.Context, status *models.FollowUpContactStatus, steps []*models.FollowUpStep, sentAt time.Time) error {
	status.CurrentStep++
	status.LastSentAt = &sentAt

	if status.CurrentStep < len(steps) {
		status.NextFireAt = sentAt.Add(steps[status.CurrentStep].Offset())
	} else {
		status.Deactivate(models.FollowUpStopFlowCompleted, utils.UTCNow())
	}
	if err := s.followUpRepo.UpdateStatus(ctx, status); err != nil {
		return fmt.Errorf("advance drip status: %w", err)
	}
	return nil
}

func (s *FollowUpFlowImpl) StopOnReply(ctx context.Context, contactID uint, campaignID *uint, at time.Time) (int64, error) {
	var flowID *uint
	if campaignID != nil {
		flow, err := s.followUpRepo.FlowByCampaign(ctx, *campaignID)
		if err != nil {
			return 0, fmt.Errorf("load flow: %w", err)
		}
		if flow == nil {
			return 0, nil
		}
		flowID = &flow.ID
	}
	return s.followUpRepo.DeactivateByContact(ctx, contactID, flowID, models.FollowUpStopReplied, at)
}
