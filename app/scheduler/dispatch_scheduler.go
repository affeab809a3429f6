package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	businessflow "github.com/zapcast/zapcast/business_flow"

	"github.com/zapcast/zapcast/app/services"
	"github.com/zapcast/zapcast/config"
	"github.com/zapcast/zapcast/models"
	"github.com/zapcast/zapcast/repository"
	"gorm.io/gorm"
)

// DispatchScheduler is the pacing engine: it repeatedly selects eligible
// pending messages and hands them to the channel sender. Work for a single
// campaign is serialized by an in-flight guard so the interval jitter stays
// meaningful; campaigns run unbounded-parallel against each other.
type DispatchScheduler struct {
	campaignRepo     repository.CampaignRepository
	messageRepo      repository.OutboundMessageRepository
	contactRepo      repository.ContactRepository
	ledger           businessflow.ChannelLedger
	conversationFlow businessflow.ConversationFlow
	followUpFlow     businessflow.FollowUpFlow
	sender           services.ChannelSender
	db               *gorm.DB
	logger           *log.Logger
	interval         time.Duration

	mu       sync.Mutex
	inFlight map[uint]bool

	// swapped in tests
	now      func() time.Time
	randIntN func(n int) int
}

func NewDispatchScheduler(
	campaignRepo repository.CampaignRepository,
	messageRepo repository.OutboundMessageRepository,
	contactRepo repository.ContactRepository,
	ledger businessflow.ChannelLedger,
	conversationFlow businessflow.ConversationFlow,
	followUpFlow businessflow.FollowUpFlow,
	sender services.ChannelSender,
	db *gorm.DB,
	cfg config.SchedulerConfig,
) *DispatchScheduler {
	interval := cfg.DispatchInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &DispatchScheduler{
		campaignRepo:     campaignRepo,
		messageRepo:      messageRepo,
		contactRepo:      contactRepo,
		ledger:           ledger,
		conversationFlow: conversationFlow,
		followUpFlow:     followUpFlow,
		sender:           sender,
		db:               db,
		logger:           newSchedulerLogger("dispatch", cfg.LogDir),
		interval:         interval,
		inFlight:         make(map[uint]bool),
		now:              func() time.Time { return time.Now().UTC() },
		randIntN:         rand.Intn,
	}
}

// Start launches the scheduler loop in a background goroutine and returns a stop function
func (s *DispatchScheduler) Start(parent context.Context) func() {
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

func (s *DispatchScheduler) runOnce(ctx context.Context) {
	now := s.now()

	s.resumeCyclePaused(ctx, now)

	campaigns, err := s.campaignRepo.ListByStatus(ctx, models.CampaignStatusRunning, 100)
	if err != nil {
		s.logger.Printf("dispatch: list running campaigns failed: %v", err)
		return
	}

	for _, campaign := range campaigns {
		c := campaign
		if !s.tryAcquire(c.ID) {
			continue
		}
		go func() {
			defer s.release(c.ID)
			s.processCampaign(ctx, c)
		}()
	}
}

// resumeCyclePaused auto-resumes campaigns whose message-cycle pause window
// elapsed. Disconnection and manual pauses are never touched here.
func (s *DispatchScheduler) resumeCyclePaused(ctx context.Context, now time.Time) {
	resumable, err := s.campaignRepo.ListCycleResumable(ctx, now)
	if err != nil {
		s.logger.Printf("dispatch: list cycle-resumable campaigns failed: %v", err)
		return
	}
	for _, campaign := range resumable {
		if err := s.campaignRepo.ClearPause(ctx, campaign.ID); err != nil {
			s.logger.Printf("dispatch: auto-resume campaign id=%d failed: %v", campaign.ID, err)
			continue
		}
		s.logger.Printf("dispatch: campaign id=%d auto-resumed after message cycle", campaign.ID)
	}
}

func (s *DispatchScheduler) processCampaign(ctx context.Context, campaign *models.Campaign) {
	now := s.now()

	if !campaign.Spec.AllowsTime(now) {
		return
	}
	if campaign.NextDispatchAt != nil && now.Before(*campaign.NextDispatchAt) {
		return
	}
	if n := campaign.Spec.PauseAfterMessages; n > 0 && campaign.SentSinceCycle >= n {
		until := now.Add(time.Duration(campaign.Spec.PauseDurationSeconds) * time.Second)
		if err := s.campaignRepo.SetPause(ctx, campaign.ID, models.PauseReasonMessageCycle, &until); err != nil {
			s.logger.Printf("dispatch: cycle pause campaign id=%d failed: %v", campaign.ID, err)
			return
		}
		campaignsPausedTotal.WithLabelValues(string(models.PauseReasonMessageCycle)).Inc()
		s.logger.Printf("dispatch: campaign id=%d paused for message cycle until %s", campaign.ID, until.Format(time.RFC3339))
		return
	}

	msg, err := s.messageRepo.ClaimNextPending(ctx, campaign.ID)
	if err != nil {
		s.logger.Printf("dispatch: claim next pending for campaign id=%d failed: %v", campaign.ID, err)
		return
	}
	if msg == nil {
		s.maybeComplete(ctx, campaign, now)
		return
	}

	s.dispatchMessage(ctx, campaign, msg)
}

func (s *DispatchScheduler) dispatchMessage(ctx context.Context, campaign *models.Campaign, msg *models.OutboundMessage) {
	contact, err := s.contactRepo.ByID(ctx, msg.ContactID)
	if err != nil || contact == nil {
		detail := "recipient not found"
		if err != nil {
			detail = fmt.Sprintf("load recipient: %v", err)
		}
		s.markFailed(ctx, campaign, msg, nil, models.SendErrorTransient, detail)
		return
	}

	channelID, offCampaign, err := s.ledger.ChannelForSend(ctx, msg.ContactID, campaign.Spec.ChannelIDs)
	if errors.Is(err, businessflow.ErrNoChannelAvailable) {
		// Every configured chip is down; burn one message, pause the rest.
		s.markFailed(ctx, campaign, msg, nil, models.SendErrorChannelUnavailable, "no connected channel in campaign set")
		s.pauseForDisconnect(ctx, campaign)
		return
	}
	if err != nil {
		s.logger.Printf("dispatch: channel selection for message id=%d failed: %v", msg.ID, err)
		if relErr := s.messageRepo.Release(ctx, msg.ID); relErr != nil {
			s.logger.Printf("dispatch: release message id=%d failed: %v", msg.ID, relErr)
		}
		return
	}
	if offCampaign {
		channelInconsistencyTotal.Inc()
		s.logger.Printf("dispatch: warning: contact id=%d is bound to channel id=%d outside campaign id=%d configured set", msg.ContactID, channelID, campaign.ID)
	}

	err = s.sender.Send(ctx, channelID, contact.PhoneNumber, msg.Text, msg.Attachments)
	if err != nil {
		kind := services.ClassifySendError(err)
		s.markFailed(ctx, campaign, msg, &channelID, kind, err.Error())
		if kind == models.SendErrorChannelUnavailable {
			s.pauseForDisconnect(ctx, campaign)
		}
		return
	}

	sentAt := s.now()
	err = repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		if err := s.messageRepo.MarkSent(txCtx, msg.ID, channelID, sentAt); err != nil {
			return fmt.Errorf("mark sent: %w", err)
		}
		if err := s.campaignRepo.IncrementSent(txCtx, campaign.ID, sentAt); err != nil {
			return fmt.Errorf("increment sent: %w", err)
		}
		if err := s.campaignRepo.ScheduleNextDispatch(txCtx, campaign.ID, sentAt.Add(s.drawJitter(campaign.Spec))); err != nil {
			return fmt.Errorf("schedule next dispatch: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Printf("dispatch: bookkeeping for sent message id=%d failed: %v", msg.ID, err)
		return
	}
	campaign.SentSinceCycle++
	kind := "campaign"
	if msg.IsFollowUp() {
		kind = "followup"
	}
	messagesSentTotal.WithLabelValues(kind).Inc()

	s.afterSend(ctx, campaign, msg, sentAt)
}

// afterSend advances conversation state and schedules the follow-up drip for
// stage-1 sends. Failures here are logged, never fatal to the scheduler.
func (s *DispatchScheduler) afterSend(ctx context.Context, campaign *models.Campaign, msg *models.OutboundMessage, sentAt time.Time) {
	if msg.Stage != 1 && msg.Stage != 2 {
		return
	}

	if campaign.Mode == models.CampaignModeInteractive {
		err := s.conversationFlow.OnStageSent(ctx, campaign.ID, msg.ContactID, msg.Stage, sentAt)
		if err != nil && !errors.Is(err, businessflow.ErrConversationNotFound) {
			s.logger.Printf("dispatch: conversation advance for message id=%d failed: %v", msg.ID, err)
		}
	}

	if msg.Stage == 1 {
		created, err := s.followUpFlow.ScheduleForContact(ctx, campaign.ID, msg.ContactID, sentAt)
		if err != nil {
			s.logger.Printf("dispatch: follow-up scheduling for contact id=%d failed: %v", msg.ContactID, err)
		} else if created {
			s.logger.Printf("dispatch: follow-up scheduled for contact id=%d campaign id=%d", msg.ContactID, campaign.ID)
		}
	}
}

func (s *DispatchScheduler) markFailed(ctx context.Context, campaign *models.Campaign, msg *models.OutboundMessage, channelID *uint, kind models.SendErrorKind, detail string) {
	err := repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		if err := s.messageRepo.MarkFailed(txCtx, msg.ID, channelID, kind, detail); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		if err := s.campaignRepo.IncrementFailed(txCtx, campaign.ID); err != nil {
			return fmt.Errorf("increment failed: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Printf("dispatch: bookkeeping for failed message id=%d failed: %v", msg.ID, err)
		return
	}
	messagesFailedTotal.WithLabelValues(string(kind)).Inc()
	s.logger.Printf("dispatch: message id=%d failed (%s): %s", msg.ID, kind, detail)
}

// pauseForDisconnect halts the whole campaign rather than burning through
// the recipient list against a dead chip. No auto-resume; recovery goes
// through resume-after-reconnection.
func (s *DispatchScheduler) pauseForDisconnect(ctx context.Context, campaign *models.Campaign) {
	if err := s.campaignRepo.SetPause(ctx, campaign.ID, models.PauseReasonChipDisconnected, nil); err != nil {
		s.logger.Printf("dispatch: disconnect pause campaign id=%d failed: %v", campaign.ID, err)
		return
	}
	campaignsPausedTotal.WithLabelValues(string(models.PauseReasonChipDisconnected)).Inc()
	s.logger.Printf("dispatch: campaign id=%d paused, chip disconnected", campaign.ID)
}

// maybeComplete marks the campaign completed once neither pending nor
// claimed messages remain.
func (s *DispatchScheduler) maybeComplete(ctx context.Context, campaign *models.Campaign, now time.Time) {
	if campaign.TotalPlanned == 0 {
		return
	}
	pending, err := s.messageRepo.CountByStatus(ctx, campaign.ID, models.MessageStatusPending)
	if err != nil || pending > 0 {
		return
	}
	sending, err := s.messageRepo.CountByStatus(ctx, campaign.ID, models.MessageStatusSending)
	if err != nil || sending > 0 {
		return
	}

	if err := s.campaignRepo.MarkCompleted(ctx, campaign.ID, now); err != nil {
		s.logger.Printf("dispatch: complete campaign id=%d failed: %v", campaign.ID, err)
		return
	}
	campaignsCompletedTotal.Inc()
	s.logger.Printf("dispatch: campaign id=%d completed", campaign.ID)
}

// drawJitter picks the next inter-message delay uniformly from the
// campaign's configured interval range.
func (s *DispatchScheduler) drawJitter(spec models.CampaignSpec) time.Duration {
	min := spec.MinIntervalSeconds
	max := spec.MaxIntervalSeconds
	if max < min {
		max = min
	}
	delta := 0
	if max > min {
		delta = s.randIntN(max - min + 1)
	}
	return time.Duration(min+delta) * time.Second
}

func (s *DispatchScheduler) tryAcquire(campaignID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[campaignID] {
		return false
	}
	s.inFlight[campaignID] = true
	return true
}

func (s *DispatchScheduler) release(campaignID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, campaignID)
}
