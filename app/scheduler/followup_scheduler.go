package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	businessflow "github.com/zapcast/zapcast/business_flow"

	"github.com/zapcast/zapcast/app/services"
	"github.com/zapcast/zapcast/config"
	"github.com/zapcast/zapcast/models"
	"github.com/zapcast/zapcast/repository"
	"gorm.io/gorm"
)

// followUpRetryDelay defers a drip record after a failed send so one dead
// chip does not hot-loop the due query.
const followUpRetryDelay = 5 * time.Minute

// FollowUpScheduler fires due drip steps. It runs independently of the
// dispatch scheduler because drips keep firing after the campaign completes.
type FollowUpScheduler struct {
	followUpRepo     repository.FollowUpRepository
	campaignRepo     repository.CampaignRepository
	contactRepo      repository.ContactRepository
	messageRepo      repository.OutboundMessageRepository
	followUpFlow     businessflow.FollowUpFlow
	conversationFlow businessflow.ConversationFlow
	ledger           businessflow.ChannelLedger
	sender           services.ChannelSender
	db               *gorm.DB
	logger           *log.Logger
	interval         time.Duration
	batchSize        int

	now func() time.Time
}

func NewFollowUpScheduler(
	followUpRepo repository.FollowUpRepository,
	campaignRepo repository.CampaignRepository,
	contactRepo repository.ContactRepository,
	messageRepo repository.OutboundMessageRepository,
	followUpFlow businessflow.FollowUpFlow,
	conversationFlow businessflow.ConversationFlow,
	ledger businessflow.ChannelLedger,
	sender services.ChannelSender,
	db *gorm.DB,
	cfg config.SchedulerConfig,
) *FollowUpScheduler {
	interval := cfg.FollowUpInterval
	if interval <= 0 {
		interval = time.Minute
	}
	batch := cfg.FollowUpBatch
	if batch <= 0 {
		batch = 100
	}
	return &FollowUpScheduler{
		followUpRepo:     followUpRepo,
		campaignRepo:     campaignRepo,
		contactRepo:      contactRepo,
		messageRepo:      messageRepo,
		followUpFlow:     followUpFlow,
		conversationFlow: conversationFlow,
		ledger:           ledger,
		sender:           sender,
		db:               db,
		logger:           newSchedulerLogger("followup", cfg.LogDir),
		interval:         interval,
		batchSize:        batch,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the scheduler loop in a background goroutine and returns a stop function
func (s *FollowUpScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()

	return cancel
}

// flowContext caches the per-flow lookups shared by every due record of the
// same flow within one run.
type flowContext struct {
	flow     *models.FollowUpFlow
	steps    []*models.FollowUpStep
	campaign *models.Campaign
}

func (s *FollowUpScheduler) runOnce(ctx context.Context) {
	now := s.now()

	due, err := s.followUpRepo.ListDueStatuses(ctx, now, s.batchSize)
	if err != nil {
		s.logger.Printf("followup: list due statuses failed: %v", err)
		return
	}
	if len(due) == 0 {
		return
	}

	flows := make(map[uint]*flowContext)
	for _, status := range due {
		fc, err := s.loadFlowContext(ctx, flows, status.FlowID)
		if err != nil {
			s.logger.Printf("followup: load flow id=%d failed: %v", status.FlowID, err)
			continue
		}
		s.fireStep(ctx, fc, status)
	}
}

func (s *FollowUpScheduler) loadFlowContext(ctx context.Context, cache map[uint]*flowContext, flowID uint) (*flowContext, error) {
	if fc, ok := cache[flowID]; ok {
		return fc, nil
	}
	flow, steps, err := s.followUpFlow.FlowWithSteps(ctx, flowID)
	if err != nil {
		return nil, err
	}
	campaign, err := s.campaignRepo.ByID(ctx, flow.CampaignID)
	if err != nil {
		return nil, err
	}
	fc := &flowContext{flow: flow, steps: steps, campaign: campaign}
	cache[flowID] = fc
	return fc, nil
}

func (s *FollowUpScheduler) fireStep(ctx context.Context, fc *flowContext, status *models.FollowUpContactStatus) {
	now := s.now()

	if !fc.flow.Active || fc.campaign == nil || fc.campaign.Status == models.CampaignStatusCancelled {
		s.deactivate(ctx, status, models.FollowUpStopManual, now)
		return
	}
	if status.CurrentStep >= len(fc.steps) {
		s.deactivate(ctx, status, models.FollowUpStopFlowCompleted, now)
		return
	}
	step := fc.steps[status.CurrentStep]

	contact, err := s.contactRepo.ByID(ctx, status.ContactID)
	if err != nil || contact == nil {
		s.logger.Printf("followup: contact id=%d unavailable for status id=%d: %v", status.ContactID, status.ID, err)
		s.deactivate(ctx, status, models.FollowUpStopManual, now)
		return
	}

	channelID, offCampaign, err := s.ledger.ChannelForSend(ctx, contact.ID, fc.campaign.Spec.ChannelIDs)
	if err != nil {
		if errors.Is(err, businessflow.ErrNoChannelAvailable) {
			s.reschedule(ctx, status, now)
			return
		}
		s.logger.Printf("followup: channel selection for contact id=%d failed: %v", contact.ID, err)
		return
	}
	if offCampaign {
		channelInconsistencyTotal.Inc()
		s.logger.Printf("followup: warning: contact id=%d is bound to a channel outside campaign id=%d configured set", contact.ID, fc.campaign.ID)
	}

	msg := businessflow.BuildFollowUpMessage(fc.campaign.ID, contact, step)
	if err := s.messageRepo.Save(ctx, msg); err != nil {
		s.logger.Printf("followup: save drip message for contact id=%d failed: %v", contact.ID, err)
		return
	}

	if err := s.sender.Send(ctx, channelID, contact.PhoneNumber, msg.Text, msg.Attachments); err != nil {
		kind := services.ClassifySendError(err)
		if mfErr := s.messageRepo.MarkFailed(ctx, msg.ID, &channelID, kind, err.Error()); mfErr != nil {
			s.logger.Printf("followup: mark drip message id=%d failed errored: %v", msg.ID, mfErr)
		}
		messagesFailedTotal.WithLabelValues(string(kind)).Inc()
		s.logger.Printf("followup: send step %d to contact id=%d failed (%s): %v", step.StepOrder, contact.ID, kind, err)
		s.reschedule(ctx, status, now)
		return
	}

	sentAt := s.now()
	if err := s.messageRepo.MarkSent(ctx, msg.ID, channelID, sentAt); err != nil {
		s.logger.Printf("followup: mark drip message id=%d sent failed: %v", msg.ID, err)
	}

	firstStep := status.CurrentStep == 0
	if err := s.followUpFlow.AdvanceAfterSend(ctx, status, fc.steps, sentAt); err != nil {
		s.logger.Printf("followup: advance status id=%d failed: %v", status.ID, err)
		return
	}
	if firstStep {
		if err := s.conversationFlow.HandToFollowUp(ctx, fc.campaign.ID, contact.ID); err != nil {
			s.logger.Printf("followup: hand-off for contact id=%d failed: %v", contact.ID, err)
		}
	}

	followUpsFiredTotal.Inc()
	messagesSentTotal.WithLabelValues("followup").Inc()
	s.logger.Printf("followup: step %d sent to contact id=%d (campaign id=%d)", step.StepOrder, contact.ID, fc.campaign.ID)
}

func (s *FollowUpScheduler) deactivate(ctx context.Context, status *models.FollowUpContactStatus, reason models.FollowUpStopReason, at time.Time) {
	status.Deactivate(reason, at)
	if err := s.followUpRepo.UpdateStatus(ctx, status); err != nil {
		s.logger.Printf("followup: deactivate status id=%d failed: %v", status.ID, err)
	}
}

// reschedule pushes the record's next fire forward without advancing the step.
func (s *FollowUpScheduler) reschedule(ctx context.Context, status *models.FollowUpContactStatus, now time.Time) {
	status.NextFireAt = now.Add(followUpRetryDelay)
	if err := s.followUpRepo.UpdateStatus(ctx, status); err != nil {
		s.logger.Printf("followup: defer status id=%d failed: %v", status.ID, err)
	}
}
