package businessflow

import (
	"context"
	"fmt"

	"github.com/zapcast/zapcast/app/dto"
	"github.com/zapcast/zapcast/models"
	"github.com/zapcast/zapcast/repository"
	"github.com/zapcast/zapcast/utils"
	"gorm.io/gorm"
)

// CampaignControlFlow handles campaign lifecycle commands and read endpoints
type CampaignControlFlow interface {
	Create(ctx context.Context, req *dto.CreateCampaignRequest, metadata *ClientMetadata) (*dto.CreateCampaignResponse, error)
	Start(ctx context.Context, req *dto.CampaignActionRequest, metadata *ClientMetadata) (*dto.CampaignActionResponse, error)
	Pause(ctx context.Context, req *dto.CampaignActionRequest, metadata *ClientMetadata) (*dto.CampaignActionResponse, error)
	Resume(ctx context.Context, req *dto.CampaignActionRequest, metadata *ClientMetadata) (*dto.CampaignActionResponse, error)
	Cancel(ctx context.Context, req *dto.CampaignActionRequest, metadata *ClientMetadata) (*dto.CampaignActionResponse, error)
	ResumeAfterReconnection(ctx context.Context, req *dto.CampaignActionRequest, metadata *ClientMetadata) (*dto.ResumeAfterReconnectionResponse, error)
	Progress(ctx context.Context, req *dto.CampaignProgressRequest) (*dto.CampaignProgressResponse, error)
	List(ctx context.Context, req *dto.ListCampaignsRequest) (*dto.ListCampaignsResponse, error)
}

// CampaignControlFlowImpl implements the campaign control flow
type CampaignControlFlowImpl struct {
	campaignRepo     repository.CampaignRepository
	messageRepo      repository.OutboundMessageRepository
	conversationRepo repository.ConversationStateRepository
	compileFlow      CompileFlow
	db               *gorm.DB
}

// NewCampaignControlFlow creates a new campaign control flow instance
func NewCampaignControlFlow(
	campaignRepo repository.CampaignRepository,
	messageRepo repository.OutboundMessageRepository,
	conversationRepo repository.ConversationStateRepository,
	compileFlow CompileFlow,
	db *gorm.DB,
) CampaignControlFlow {
	return &CampaignControlFlowImpl{
		campaignRepo:     campaignRepo,
		messageRepo:      messageRepo,
		conversationRepo: conversationRepo,
		compileFlow:      compileFlow,
		db:               db,
	}
}

// Create persists a new draft campaign
func (s *CampaignControlFlowImpl) Create(ctx context.Context, req *dto.CreateCampaignRequest, metadata *ClientMetadata) (*dto.CreateCampaignResponse, error) {
	if req.Title == "" {
		return nil, NewBusinessError("VALIDATION_ERROR", "Campaign validation failed", ErrCampaignTitleRequired)
	}
	mode := models.CampaignMode(req.Mode)
	if !mode.Valid() {
		return nil, NewBusinessError("VALIDATION_ERROR", "Campaign validation failed", fmt.Errorf("invalid mode %q", req.Mode))
	}
	if req.Spec.MinIntervalSeconds < 0 || req.Spec.MaxIntervalSeconds < req.Spec.MinIntervalSeconds {
		return nil, NewBusinessError("VALIDATION_ERROR", "Campaign validation failed", ErrIntervalRangeInvalid)
	}
	if len(req.Spec.ChannelIDs) == 0 {
		return nil, NewBusinessError("VALIDATION_ERROR", "Campaign validation failed", ErrCampaignChannelsRequired)
	}
	if len(req.Spec.Stage1Variants) == 0 {
		return nil, NewBusinessError("VALIDATION_ERROR", "Campaign validation failed", ErrCampaignVariantsRequired)
	}

	campaign := &models.Campaign{
		TenantID: req.TenantID,
		ListID:   req.ListID,
		Title:    req.Title,
		Status:   models.CampaignStatusDraft,
		Mode:     mode,
		Spec:     req.Spec,
	}
	if err := s.campaignRepo.Save(ctx, campaign); err != nil {
		return nil, NewBusinessError("CAMPAIGN_CREATION_FAILED", "Campaign creation failed", err)
	}

	return &dto.CreateCampaignResponse{
		Message:   "Campaign created successfully",
		UUID:      campaign.UUID.String(),
		Status:    campaign.Status.String(),
		CreatedAt: campaign.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}, nil
}

// Start activates a campaign. An uncompiled draft is compiled first, which
// itself flips the campaign to running; a compiled scheduled campaign only
// needs the status transition.
func (s *CampaignControlFlowImpl) Start(ctx context.Context, req *dto.CampaignActionRequest, metadata *ClientMetadata) (*dto.CampaignActionResponse, error) {
	campaign, err := getCampaignByUUID(ctx, s.campaignRepo, req.UUID, req.TenantID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if campaign.Status == models.CampaignStatusRunning {
		return &dto.CampaignActionResponse{Message: "Campaign is already running", UUID: campaign.UUID.String(), Status: campaign.Status.String()}, nil
	}
	if campaign.IsTerminal() || campaign.Status == models.CampaignStatusPaused {
		return nil, NewBusinessError("INVALID_STATUS_TRANSITION", "Campaign cannot be started from its current status", ErrInvalidStatusTransition)
	}

	compiled, err := s.messageRepo.ExistsForCampaign(ctx, campaign.ID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_START_FAILED", "Failed to start campaign", err)
	}
	if !compiled {
		out, err := s.compileFlow.Compile(ctx, &dto.CompileCampaignRequest{UUID: req.UUID, TenantID: req.TenantID}, metadata)
		if err != nil {
			return nil, err
		}
		return &dto.CampaignActionResponse{Message: "Campaign compiled and started", UUID: out.UUID, Status: out.Status}, nil
	}

	if !campaign.CanTransitionTo(models.CampaignStatusRunning) {
		return nil, NewBusinessError("INVALID_STATUS_TRANSITION", "Campaign cannot be started from its current status", ErrInvalidStatusTransition)
	}
	now := utils.UTCNow()
	campaign.Status = models.CampaignStatusRunning
	if campaign.StartedAt == nil {
		campaign.StartedAt = &now
	}
	if err := s.campaignRepo.Update(ctx, campaign); err != nil {
		return nil, NewBusinessError("CAMPAIGN_START_FAILED", "Failed to start campaign", err)
	}
	return &dto.CampaignActionResponse{Message: "Campaign started", UUID: campaign.UUID.String(), Status: campaign.Status.String()}, nil
}

// Pause puts a running campaign into a manual pause. The scheduler observes
// the new status before its next selection cycle; an in-flight send completes.
func (s *CampaignControlFlowImpl) Pause(ctx context.Context, req *dto.CampaignActionRequest, metadata *ClientMetadata) (*dto.CampaignActionResponse, error) {
	campaign, err := getCampaignByUUID(ctx, s.campaignRepo, req.UUID, req.TenantID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if campaign.Status != models.CampaignStatusRunning {
		return nil, NewBusinessError("INVALID_STATUS_TRANSITION", "Only running campaigns can be paused", ErrCampaignNotRunning)
	}

	reason := models.PauseReasonManual
	campaign.Status = models.CampaignStatusPaused
	campaign.PauseReason = &reason
	campaign.PausedUntil = nil
	if err := s.campaignRepo.Update(ctx, campaign); err != nil {
		return nil, NewBusinessError("CAMPAIGN_PAUSE_FAILED", "Failed to pause campaign", err)
	}
	return &dto.CampaignActionResponse{Message: "Campaign paused", UUID: campaign.UUID.String(), Status: campaign.Status.String()}, nil
}

// Resume restarts a paused campaign. A disconnection pause is not resumable
// here: failed messages must first be reset through ResumeAfterReconnection.
func (s *CampaignControlFlowImpl) Resume(ctx context.Context, req *dto.CampaignActionRequest, metadata *ClientMetadata) (*dto.CampaignActionResponse, error) {
	campaign, err := getCampaignByUUID(ctx, s.campaignRepo, req.UUID, req.TenantID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if campaign.Status != models.CampaignStatusPaused {
		return nil, NewBusinessError("INVALID_STATUS_TRANSITION", "Only paused campaigns can be resumed", ErrCampaignNotPaused)
	}
	if campaign.PauseReason != nil && *campaign.PauseReason == models.PauseReasonChipDisconnected {
		return nil, NewBusinessError("CHANNEL_UNAVAILABLE", "Campaign was paused by a chip disconnection; use resume-after-reconnection", ErrResumeRequiresRecovery)
	}

	s.clearPause(campaign)
	if err := s.campaignRepo.Update(ctx, campaign); err != nil {
		return nil, NewBusinessError("CAMPAIGN_RESUME_FAILED", "Failed to resume campaign", err)
	}
	return &dto.CampaignActionResponse{Message: "Campaign resumed", UUID: campaign.UUID.String(), Status: campaign.Status.String()}, nil
}

// Cancel terminates a campaign from any non-terminal status
func (s *CampaignControlFlowImpl) Cancel(ctx context.Context, req *dto.CampaignActionRequest, metadata *ClientMetadata) (*dto.CampaignActionResponse, error) {
	campaign, err := getCampaignByUUID(ctx, s.campaignRepo, req.UUID, req.TenantID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if !campaign.CanTransitionTo(models.CampaignStatusCancelled) {
		return nil, NewBusinessError("INVALID_STATUS_TRANSITION", "Campaign cannot be cancelled from its current status", ErrCampaignTerminal)
	}

	now := utils.UTCNow()
	campaign.Status = models.CampaignStatusCancelled
	campaign.CompletedAt = &now
	campaign.PauseReason = nil
	campaign.PausedUntil = nil
	if err := s.campaignRepo.Update(ctx, campaign); err != nil {
		return nil, NewBusinessError("CAMPAIGN_CANCEL_FAILED", "Failed to cancel campaign", err)
	}
	return &dto.CampaignActionResponse{Message: "Campaign cancelled", UUID: campaign.UUID.String(), Status: campaign.Status.String()}, nil
}

// ResumeAfterReconnection resets every failed message back to pending,
// clearing error detail, and resumes the campaign. The scheduler re-paces the
// retried sends naturally.
func (s *CampaignControlFlowImpl) ResumeAfterReconnection(ctx context.Context, req *dto.CampaignActionRequest, metadata *ClientMetadata) (*dto.ResumeAfterReconnectionResponse, error) {
	campaign, err := getCampaignByUUID(ctx, s.campaignRepo, req.UUID, req.TenantID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if campaign.IsTerminal() {
		return nil, NewBusinessError("INVALID_STATUS_TRANSITION", "Campaign is in a terminal state", ErrCampaignTerminal)
	}

	var reset int64
	err = repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		var err error
		reset, err = s.messageRepo.ResetFailed(txCtx, campaign.ID)
		if err != nil {
			return fmt.Errorf("reset failed messages: %w", err)
		}
		if campaign.Status == models.CampaignStatusPaused {
			s.clearPause(campaign)
			if err := s.campaignRepo.Update(txCtx, campaign); err != nil {
				return fmt.Errorf("resume campaign: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_RECOVERY_FAILED", "Resume after reconnection failed", err)
	}

	return &dto.ResumeAfterReconnectionResponse{
		Message:       "Campaign recovered",
		UUID:          campaign.UUID.String(),
		Status:        campaign.Status.String(),
		MessagesReset: reset,
	}, nil
}

// Progress returns aggregate counters plus the per-stage conversation
// breakdown for interactive campaigns
func (s *CampaignControlFlowImpl) Progress(ctx context.Context, req *dto.CampaignProgressRequest) (*dto.CampaignProgressResponse, error) {
	campaign, err := getCampaignByUUID(ctx, s.campaignRepo, req.UUID, req.TenantID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}

	pending, err := s.messageRepo.CountByStatus(ctx, campaign.ID, models.MessageStatusPending)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_PROGRESS_FAILED", "Failed to count pending messages", err)
	}

	resp := &dto.CampaignProgressResponse{
		UUID:         campaign.UUID.String(),
		Title:        campaign.Title,
		Status:       campaign.Status.String(),
		Mode:         string(campaign.Mode),
		PausedUntil:  campaign.PausedUntil,
		TotalPlanned: campaign.TotalPlanned,
		TotalSent:    campaign.TotalSent,
		TotalFailed:  campaign.TotalFailed,
		Pending:      pending,
		StartedAt:    campaign.StartedAt,
		CompletedAt:  campaign.CompletedAt,
	}
	if campaign.PauseReason != nil {
		reason := string(*campaign.PauseReason)
		resp.PauseReason = &reason
	}

	if campaign.Mode == models.CampaignModeInteractive {
		breakdown := &dto.ConversationBreakdown{}
		for stage, target := range map[models.ConversationStage]*int64{
			models.ConversationWaitingStage1:      &breakdown.WaitingStage1,
			models.ConversationWaitingStage1Reply: &breakdown.WaitingStage1Reply,
			models.ConversationWaitingStage2:      &breakdown.WaitingStage2,
			models.ConversationWaitingStage2Reply: &breakdown.WaitingStage2Reply,
			models.ConversationHandedToFollowUp:   &breakdown.HandedToFollowUp,
			models.ConversationCompleted:          &breakdown.Completed,
		} {
			count, err := s.conversationRepo.CountByStage(ctx, campaign.ID, stage)
			if err != nil {
				return nil, NewBusinessError("CAMPAIGN_PROGRESS_FAILED", "Failed to count conversation stages", err)
			}
			*target = count
		}
		resp.Conversations = breakdown
	}

	return resp, nil
}

// List returns a paginated campaign listing
func (s *CampaignControlFlowImpl) List(ctx context.Context, req *dto.ListCampaignsRequest) (*dto.ListCampaignsResponse, error) {
	page := req.Page
	if page == 0 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize == 0 {
		pageSize = 20
	}
	if page < 1 {
		return nil, NewBusinessError("VALIDATION_ERROR", "Invalid pagination", ErrInvalidPage)
	}
	if pageSize < 1 || pageSize > 100 {
		return nil, NewBusinessError("VALIDATION_ERROR", "Invalid pagination", ErrInvalidPageSize)
	}

	filter := models.CampaignFilter{}
	if req.TenantID != 0 {
		filter.TenantID = &req.TenantID
	}
	if req.Status != nil {
		status := models.CampaignStatus(*req.Status)
		if !status.Valid() {
			return nil, NewBusinessError("VALIDATION_ERROR", "Invalid status filter", fmt.Errorf("unknown status %q", *req.Status))
		}
		filter.Status = &status
	}

	total, err := s.campaignRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LIST_FAILED", "Failed to count campaigns", err)
	}
	campaigns, err := s.campaignRepo.ByFilter(ctx, filter, "created_at DESC", pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LIST_FAILED", "Failed to list campaigns", err)
	}

	items := make([]dto.CampaignSummaryDTO, 0, len(campaigns))
	for _, c := range campaigns {
		items = append(items, dto.CampaignSummaryDTO{
			UUID:         c.UUID.String(),
			Title:        c.Title,
			Status:       c.Status.String(),
			Mode:         string(c.Mode),
			TotalPlanned: c.TotalPlanned,
			TotalSent:    c.TotalSent,
			TotalFailed:  c.TotalFailed,
			CreatedAt:    c.CreatedAt,
			StartedAt:    c.StartedAt,
		})
	}
	return &dto.ListCampaignsResponse{Items: items, Total: total, Page: page}, nil
}

func (s *CampaignControlFlowImpl) clearPause(campaign *models.Campaign) {
	campaign.Status = models.CampaignStatusRunning
	campaign.PauseReason = nil
	campaign.PausedUntil = nil
	campaign.SentSinceCycle = 0
}
