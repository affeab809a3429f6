package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	businessflow "github.com/zapcast/zapcast/business_flow"

	"github.com/zapcast/zapcast/app/dto"
	"github.com/zapcast/zapcast/models"
)

// Call-recording stubs. The schedulers only exercise a slice of each
// repository interface; the remaining methods return zero values.

type pauseCall struct {
	campaignID uint
	reason     models.PauseReason
	until      *time.Time
}

type stubCampaignRepo struct {
	campaigns      map[uint]*models.Campaign
	cycleResumable []*models.Campaign

	clearPauseCalls []uint
	pauseCalls      []pauseCall
	nextDispatch    map[uint]time.Time
	incSent         map[uint]int
	incFailed       map[uint]int
	completed       []uint
}

func newStubCampaignRepo() *stubCampaignRepo {
	return &stubCampaignRepo{
		campaigns:    make(map[uint]*models.Campaign),
		nextDispatch: make(map[uint]time.Time),
		incSent:      make(map[uint]int),
		incFailed:    make(map[uint]int),
	}
}

func (r *stubCampaignRepo) ByID(ctx context.Context, id uint) (*models.Campaign, error) {
	return r.campaigns[id], nil
}

func (r *stubCampaignRepo) ByUUID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	return nil, nil
}

func (r *stubCampaignRepo) ByFilter(ctx context.Context, filter models.CampaignFilter, orderBy string, limit, offset int) ([]*models.Campaign, error) {
	return nil, nil
}

func (r *stubCampaignRepo) Save(ctx context.Context, c *models.Campaign) error      { return nil }
func (r *stubCampaignRepo) SaveBatch(ctx context.Context, c []*models.Campaign) error { return nil }
func (r *stubCampaignRepo) Update(ctx context.Context, c *models.Campaign) error    { return nil }

func (r *stubCampaignRepo) Count(ctx context.Context, filter models.CampaignFilter) (int64, error) {
	return 0, nil
}

func (r *stubCampaignRepo) ListByStatus(ctx context.Context, status models.CampaignStatus, limit int) ([]*models.Campaign, error) {
	var out []*models.Campaign
	for _, c := range r.campaigns {
		if c.Status == status {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *stubCampaignRepo) ListCycleResumable(ctx context.Context, now time.Time) ([]*models.Campaign, error) {
	return r.cycleResumable, nil
}

func (r *stubCampaignRepo) IncrementSent(ctx context.Context, campaignID uint, sentAt time.Time) error {
	r.incSent[campaignID]++
	return nil
}

func (r *stubCampaignRepo) IncrementFailed(ctx context.Context, campaignID uint) error {
	r.incFailed[campaignID]++
	return nil
}

func (r *stubCampaignRepo) ScheduleNextDispatch(ctx context.Context, campaignID uint, next time.Time) error {
	r.nextDispatch[campaignID] = next
	return nil
}

func (r *stubCampaignRepo) SetPause(ctx context.Context, campaignID uint, reason models.PauseReason, until *time.Time) error {
	r.pauseCalls = append(r.pauseCalls, pauseCall{campaignID: campaignID, reason: reason, until: until})
	return nil
}

func (r *stubCampaignRepo) ClearPause(ctx context.Context, campaignID uint) error {
	r.clearPauseCalls = append(r.clearPauseCalls, campaignID)
	return nil
}

func (r *stubCampaignRepo) MarkCompleted(ctx context.Context, campaignID uint, at time.Time) error {
	r.completed = append(r.completed, campaignID)
	return nil
}

type sentCall struct {
	messageID uint
	channelID uint
	sentAt    time.Time
}

type failCall struct {
	messageID uint
	channelID *uint
	kind      models.SendErrorKind
	detail    string
}

type stubMessageRepo struct {
	claimQueue []*models.OutboundMessage
	claims     int
	nextID     uint

	saved    []*models.OutboundMessage
	released []uint
	sent     []sentCall
	failed   []failCall
	counts   map[models.MessageStatus]int64
}

func newStubMessageRepo() *stubMessageRepo {
	return &stubMessageRepo{counts: make(map[models.MessageStatus]int64), nextID: 1000}
}

func (r *stubMessageRepo) ByID(ctx context.Context, id uint) (*models.OutboundMessage, error) {
	return nil, nil
}

func (r *stubMessageRepo) ByFilter(ctx context.Context, filter models.OutboundMessageFilter, orderBy string, limit, offset int) ([]*models.OutboundMessage, error) {
	return nil, nil
}

func (r *stubMessageRepo) Save(ctx context.Context, m *models.OutboundMessage) error {
	if m.ID == 0 {
		r.nextID++
		m.ID = r.nextID
	}
	r.saved = append(r.saved, m)
	return nil
}

func (r *stubMessageRepo) SaveBatch(ctx context.Context, ms []*models.OutboundMessage) error {
	for _, m := range ms {
		if err := r.Save(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (r *stubMessageRepo) Update(ctx context.Context, m *models.OutboundMessage) error { return nil }

func (r *stubMessageRepo) Count(ctx context.Context, filter models.OutboundMessageFilter) (int64, error) {
	return 0, nil
}

func (r *stubMessageRepo) ClaimNextPending(ctx context.Context, campaignID uint) (*models.OutboundMessage, error) {
	r.claims++
	for i, msg := range r.claimQueue {
		if msg.Stage <= 0 {
			// Drip rows belong to the follow-up scheduler.
			continue
		}
		r.claimQueue = append(r.claimQueue[:i], r.claimQueue[i+1:]...)
		msg.Status = models.MessageStatusSending
		return msg, nil
	}
	return nil, nil
}

func (r *stubMessageRepo) Release(ctx context.Context, messageID uint) error {
	r.released = append(r.released, messageID)
	return nil
}

func (r *stubMessageRepo) MarkSent(ctx context.Context, messageID uint, channelID uint, sentAt time.Time) error {
	r.sent = append(r.sent, sentCall{messageID: messageID, channelID: channelID, sentAt: sentAt})
	return nil
}

func (r *stubMessageRepo) MarkFailed(ctx context.Context, messageID uint, channelID *uint, kind models.SendErrorKind, detail string) error {
	r.failed = append(r.failed, failCall{messageID: messageID, channelID: channelID, kind: kind, detail: detail})
	return nil
}

func (r *stubMessageRepo) ResetFailed(ctx context.Context, campaignID uint) (int64, error) {
	return 0, nil
}

func (r *stubMessageRepo) ExistsForCampaign(ctx context.Context, campaignID uint) (bool, error) {
	return false, nil
}

func (r *stubMessageRepo) CountByStatus(ctx context.Context, campaignID uint, status models.MessageStatus) (int64, error) {
	return r.counts[status], nil
}

func (r *stubMessageRepo) ByCampaignContactStage(ctx context.Context, campaignID, contactID uint, stage int) (*models.OutboundMessage, error) {
	return nil, nil
}

func (r *stubMessageRepo) ListSentByContact(ctx context.Context, contactID uint, campaignID *uint) ([]*models.OutboundMessage, error) {
	return nil, nil
}

type stubContactRepo struct {
	contacts map[uint]*models.Contact
}

func newStubContactRepo() *stubContactRepo {
	return &stubContactRepo{contacts: make(map[uint]*models.Contact)}
}

func (r *stubContactRepo) ByID(ctx context.Context, id uint) (*models.Contact, error) {
	return r.contacts[id], nil
}

func (r *stubContactRepo) ByFilter(ctx context.Context, filter models.ContactFilter, orderBy string, limit, offset int) ([]*models.Contact, error) {
	return nil, nil
}

func (r *stubContactRepo) Save(ctx context.Context, c *models.Contact) error       { return nil }
func (r *stubContactRepo) SaveBatch(ctx context.Context, c []*models.Contact) error { return nil }
func (r *stubContactRepo) Update(ctx context.Context, c *models.Contact) error     { return nil }

func (r *stubContactRepo) Count(ctx context.Context, filter models.ContactFilter) (int64, error) {
	return 0, nil
}

func (r *stubContactRepo) ByPhone(ctx context.Context, phone string) (*models.Contact, error) {
	return nil, nil
}

func (r *stubContactRepo) ListByList(ctx context.Context, listID uint) ([]*models.Contact, error) {
	return nil, nil
}

type statusUpdate struct {
	channelID uint
	status    models.ChannelStatus
	checkedAt time.Time
}

type stubChannelRepo struct {
	channels map[uint]*models.Channel
	updates  []statusUpdate
}

func newStubChannelRepo() *stubChannelRepo {
	return &stubChannelRepo{channels: make(map[uint]*models.Channel)}
}

func (r *stubChannelRepo) ByID(ctx context.Context, id uint) (*models.Channel, error) {
	return r.channels[id], nil
}

func (r *stubChannelRepo) ByFilter(ctx context.Context, filter models.ChannelFilter, orderBy string, limit, offset int) ([]*models.Channel, error) {
	return nil, nil
}

func (r *stubChannelRepo) Save(ctx context.Context, c *models.Channel) error       { return nil }
func (r *stubChannelRepo) SaveBatch(ctx context.Context, c []*models.Channel) error { return nil }
func (r *stubChannelRepo) Update(ctx context.Context, c *models.Channel) error     { return nil }

func (r *stubChannelRepo) Count(ctx context.Context, filter models.ChannelFilter) (int64, error) {
	return 0, nil
}

func (r *stubChannelRepo) ListActive(ctx context.Context) ([]*models.Channel, error) {
	var out []*models.Channel
	for _, c := range r.channels {
		if !c.Decommissioned {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *stubChannelRepo) UpdateStatus(ctx context.Context, channelID uint, status models.ChannelStatus, checkedAt time.Time) error {
	r.updates = append(r.updates, statusUpdate{channelID: channelID, status: status, checkedAt: checkedAt})
	if c := r.channels[channelID]; c != nil {
		c.Status = status
		c.LastCheckedAt = &checkedAt
	}
	return nil
}

type stubFollowUpRepo struct {
	due     []*models.FollowUpContactStatus
	updated []*models.FollowUpContactStatus
}

func (r *stubFollowUpRepo) FlowByCampaign(ctx context.Context, campaignID uint) (*models.FollowUpFlow, error) {
	return nil, nil
}

func (r *stubFollowUpRepo) FlowByID(ctx context.Context, flowID uint) (*models.FollowUpFlow, error) {
	return nil, nil
}

func (r *stubFollowUpRepo) StepsByFlow(ctx context.Context, flowID uint) ([]*models.FollowUpStep, error) {
	return nil, nil
}

func (r *stubFollowUpRepo) SaveFlow(ctx context.Context, flow *models.FollowUpFlow) error { return nil }

func (r *stubFollowUpRepo) ActiveStatus(ctx context.Context, flowID, contactID uint) (*models.FollowUpContactStatus, error) {
	return nil, nil
}

func (r *stubFollowUpRepo) ListDueStatuses(ctx context.Context, now time.Time, limit int) ([]*models.FollowUpContactStatus, error) {
	return r.due, nil
}

func (r *stubFollowUpRepo) SaveStatusBatch(ctx context.Context, statuses []*models.FollowUpContactStatus) error {
	return nil
}

func (r *stubFollowUpRepo) UpdateStatus(ctx context.Context, status *models.FollowUpContactStatus) error {
	r.updated = append(r.updated, status)
	return nil
}

func (r *stubFollowUpRepo) DeactivateByContact(ctx context.Context, contactID uint, flowID *uint, reason models.FollowUpStopReason, at time.Time) (int64, error) {
	return 0, nil
}

type fakeLedger struct {
	channelID   uint
	offCampaign bool
	err         error
	calls       int
}

func (l *fakeLedger) Resolve(ctx context.Context, contactID uint) (*models.ChannelAssignment, error) {
	return nil, nil
}

func (l *fakeLedger) ChannelForSend(ctx context.Context, contactID uint, campaignChannelIDs []uint) (uint, bool, error) {
	l.calls++
	if l.err != nil {
		return 0, false, l.err
	}
	return l.channelID, l.offCampaign, nil
}

func (l *fakeLedger) Rebind(ctx context.Context, req *dto.RebindChannelRequest) (*dto.RebindChannelResponse, error) {
	return nil, nil
}

func (l *fakeLedger) Decommission(ctx context.Context, req *dto.DecommissionChannelRequest) (*dto.DecommissionChannelResponse, error) {
	return nil, nil
}

func (l *fakeLedger) ConsistencyReport(ctx context.Context, req *dto.ConsistencyReportRequest) (*dto.ConsistencyReportResponse, error) {
	return nil, nil
}

type stageSentCall struct {
	campaignID uint
	contactID  uint
	stage      int
}

type fakeConversationFlow struct {
	stageSent    []stageSentCall
	handoffs     []uint
	stageSentErr error
}

func (f *fakeConversationFlow) OnStageSent(ctx context.Context, campaignID, contactID uint, stage int, sentAt time.Time) error {
	f.stageSent = append(f.stageSent, stageSentCall{campaignID: campaignID, contactID: contactID, stage: stage})
	return f.stageSentErr
}

func (f *fakeConversationFlow) OnReply(ctx context.Context, campaign *models.Campaign, contactID uint, receivedAt time.Time) (models.ConversationStage, error) {
	return "", nil
}

func (f *fakeConversationFlow) HandToFollowUp(ctx context.Context, campaignID, contactID uint) error {
	f.handoffs = append(f.handoffs, contactID)
	return nil
}

func (f *fakeConversationFlow) StartedAt(ctx context.Context, campaignID, contactID uint) (*time.Time, error) {
	return nil, nil
}

type scheduleCall struct {
	campaignID uint
	contactID  uint
	sentAt     time.Time
}

type advanceCall struct {
	status *models.FollowUpContactStatus
	sentAt time.Time
}

type fakeFollowUpFlow struct {
	scheduled   []scheduleCall
	scheduleErr error

	flow  *models.FollowUpFlow
	steps []*models.FollowUpStep

	advanced []advanceCall
}

func (f *fakeFollowUpFlow) CreateFlow(ctx context.Context, req *dto.CreateFollowUpFlowRequest) (*dto.CreateFollowUpFlowResponse, error) {
	return nil, nil
}

func (f *fakeFollowUpFlow) ScheduleForContact(ctx context.Context, campaignID, contactID uint, stage1SentAt time.Time) (bool, error) {
	f.scheduled = append(f.scheduled, scheduleCall{campaignID: campaignID, contactID: contactID, sentAt: stage1SentAt})
	return f.scheduleErr == nil, f.scheduleErr
}

func (f *fakeFollowUpFlow) InitializeForCampaign(ctx context.Context, req *dto.InitFollowUpsRequest) (*dto.InitFollowUpsResponse, error) {
	return nil, nil
}

func (f *fakeFollowUpFlow) FlowWithSteps(ctx context.Context, flowID uint) (*models.FollowUpFlow, []*models.FollowUpStep, error) {
	if f.flow == nil {
		return nil, nil, businessflow.ErrFollowUpFlowNotFound
	}
	return f.flow, f.steps, nil
}

func (f *fakeFollowUpFlow) AdvanceAfterSend(ctx context.Context, status *models.FollowUpContactStatus, steps []*models.FollowUpStep, sentAt time.Time) error {
	f.advanced = append(f.advanced, advanceCall{status: status, sentAt: sentAt})
	return nil
}

func (f *fakeFollowUpFlow) StopOnReply(ctx context.Context, contactID uint, campaignID *uint, at time.Time) (int64, error) {
	return 0, nil
}

type sendCall struct {
	channelID uint
	recipient string
	text      string
}

type fakeSender struct {
	sendErr   error
	sendCalls []sendCall

	statuses  map[uint]models.ChannelStatus
	statusErr error
}

func (s *fakeSender) Send(ctx context.Context, channelID uint, recipientAddress, text string, attachments models.AttachmentList) error {
	s.sendCalls = append(s.sendCalls, sendCall{channelID: channelID, recipient: recipientAddress, text: text})
	return s.sendErr
}

func (s *fakeSender) ChannelStatus(ctx context.Context, channelID uint) (models.ChannelStatus, error) {
	if s.statusErr != nil {
		return "", s.statusErr
	}
	return s.statuses[channelID], nil
}
