package businessflow

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/zapcast/zapcast/models"
	"github.com/zapcast/zapcast/utils"
)

// In-memory repository fakes. The flows run them without a database because
// repository.WithTransaction executes the callback directly when db is nil.

type fakeCampaignRepo struct {
	campaigns map[uint]*models.Campaign
	nextID    uint
}

func newFakeCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{campaigns: make(map[uint]*models.Campaign), nextID: 1}
}

func (r *fakeCampaignRepo) add(c *models.Campaign) *models.Campaign {
	if c.ID == 0 {
		c.ID = r.nextID
		r.nextID++
	}
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	r.campaigns[c.ID] = c
	return c
}

func (r *fakeCampaignRepo) ByID(ctx context.Context, id uint) (*models.Campaign, error) {
	return r.campaigns[id], nil
}

func (r *fakeCampaignRepo) ByUUID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	for _, c := range r.campaigns {
		if c.UUID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (r *fakeCampaignRepo) ByFilter(ctx context.Context, filter models.CampaignFilter, orderBy string, limit, offset int) ([]*models.Campaign, error) {
	var out []*models.Campaign
	for _, c := range r.campaigns {
		if filter.TenantID != nil && c.TenantID != *filter.TenantID {
			continue
		}
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeCampaignRepo) Save(ctx context.Context, c *models.Campaign) error {
	r.add(c)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.UTCNow()
	}
	return nil
}

func (r *fakeCampaignRepo) SaveBatch(ctx context.Context, cs []*models.Campaign) error {
	for _, c := range cs {
		r.add(c)
	}
	return nil
}

func (r *fakeCampaignRepo) Update(ctx context.Context, c *models.Campaign) error {
	r.campaigns[c.ID] = c
	return nil
}

func (r *fakeCampaignRepo) Count(ctx context.Context, filter models.CampaignFilter) (int64, error) {
	all, _ := r.ByFilter(ctx, filter, "", 0, 0)
	return int64(len(all)), nil
}

func (r *fakeCampaignRepo) ListByStatus(ctx context.Context, status models.CampaignStatus, limit int) ([]*models.Campaign, error) {
	return r.ByFilter(ctx, models.CampaignFilter{Status: &status}, "", limit, 0)
}

func (r *fakeCampaignRepo) ListCycleResumable(ctx context.Context, now time.Time) ([]*models.Campaign, error) {
	var out []*models.Campaign
	for _, c := range r.campaigns {
		if c.Status != models.CampaignStatusPaused || c.PauseReason == nil || *c.PauseReason != models.PauseReasonMessageCycle {
			continue
		}
		if c.PausedUntil != nil && !c.PausedUntil.After(now) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeCampaignRepo) IncrementSent(ctx context.Context, campaignID uint, sentAt time.Time) error {
	c := r.campaigns[campaignID]
	c.TotalSent++
	return nil
}

func (r *fakeCampaignRepo) IncrementFailed(ctx context.Context, campaignID uint) error {
	r.campaigns[campaignID].TotalFailed++
	return nil
}

func (r *fakeCampaignRepo) ScheduleNextDispatch(ctx context.Context, campaignID uint, next time.Time) error {
	r.campaigns[campaignID].NextDispatchAt = &next
	return nil
}

func (r *fakeCampaignRepo) SetPause(ctx context.Context, campaignID uint, reason models.PauseReason, until *time.Time) error {
	c := r.campaigns[campaignID]
	c.Status = models.CampaignStatusPaused
	c.PauseReason = &reason
	c.PausedUntil = until
	return nil
}

func (r *fakeCampaignRepo) ClearPause(ctx context.Context, campaignID uint) error {
	c := r.campaigns[campaignID]
	c.Status = models.CampaignStatusRunning
	c.PauseReason = nil
	c.PausedUntil = nil
	c.SentSinceCycle = 0
	return nil
}

func (r *fakeCampaignRepo) MarkCompleted(ctx context.Context, campaignID uint, at time.Time) error {
	c := r.campaigns[campaignID]
	c.Status = models.CampaignStatusCompleted
	c.CompletedAt = &at
	return nil
}

type fakeContactRepo struct {
	contacts map[uint]*models.Contact
	nextID   uint
}

func newFakeContactRepo() *fakeContactRepo {
	return &fakeContactRepo{contacts: make(map[uint]*models.Contact), nextID: 1}
}

func (r *fakeContactRepo) add(c *models.Contact) *models.Contact {
	if c.ID == 0 {
		c.ID = r.nextID
		r.nextID++
	}
	r.contacts[c.ID] = c
	return c
}

func (r *fakeContactRepo) ByID(ctx context.Context, id uint) (*models.Contact, error) {
	return r.contacts[id], nil
}

func (r *fakeContactRepo) ByFilter(ctx context.Context, filter models.ContactFilter, orderBy string, limit, offset int) ([]*models.Contact, error) {
	var out []*models.Contact
	for _, c := range r.contacts {
		if filter.ListID != nil && c.ListID != *filter.ListID {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeContactRepo) Save(ctx context.Context, c *models.Contact) error {
	r.add(c)
	return nil
}

func (r *fakeContactRepo) SaveBatch(ctx context.Context, cs []*models.Contact) error {
	for _, c := range cs {
		r.add(c)
	}
	return nil
}

func (r *fakeContactRepo) Update(ctx context.Context, c *models.Contact) error {
	r.contacts[c.ID] = c
	return nil
}

func (r *fakeContactRepo) Count(ctx context.Context, filter models.ContactFilter) (int64, error) {
	all, _ := r.ByFilter(ctx, filter, "", 0, 0)
	return int64(len(all)), nil
}

func (r *fakeContactRepo) ByPhone(ctx context.Context, phone string) (*models.Contact, error) {
	for _, c := range r.contacts {
		if c.PhoneNumber == phone {
			return c, nil
		}
	}
	return nil, nil
}

func (r *fakeContactRepo) ListByList(ctx context.Context, listID uint) ([]*models.Contact, error) {
	return r.ByFilter(ctx, models.ContactFilter{ListID: &listID}, "", 0, 0)
}

type fakeMessageRepo struct {
	messages map[uint]*models.OutboundMessage
	nextID   uint
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: make(map[uint]*models.OutboundMessage), nextID: 1}
}

func (r *fakeMessageRepo) add(m *models.OutboundMessage) *models.OutboundMessage {
	if m.ID == 0 {
		m.ID = r.nextID
		r.nextID++
	}
	if m.Status == "" {
		m.Status = models.MessageStatusPending
	}
	r.messages[m.ID] = m
	return m
}

func (r *fakeMessageRepo) ByID(ctx context.Context, id uint) (*models.OutboundMessage, error) {
	return r.messages[id], nil
}

func (r *fakeMessageRepo) ByFilter(ctx context.Context, filter models.OutboundMessageFilter, orderBy string, limit, offset int) ([]*models.OutboundMessage, error) {
	var out []*models.OutboundMessage
	for _, m := range r.messages {
		if filter.CampaignID != nil && m.CampaignID != *filter.CampaignID {
			continue
		}
		if filter.ContactID != nil && m.ContactID != *filter.ContactID {
			continue
		}
		if filter.Stage != nil && m.Stage != *filter.Stage {
			continue
		}
		if filter.Status != nil && m.Status != *filter.Status {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeMessageRepo) Save(ctx context.Context, m *models.OutboundMessage) error {
	r.add(m)
	return nil
}

func (r *fakeMessageRepo) SaveBatch(ctx context.Context, ms []*models.OutboundMessage) error {
	for _, m := range ms {
		r.add(m)
	}
	return nil
}

func (r *fakeMessageRepo) Update(ctx context.Context, m *models.OutboundMessage) error {
	r.messages[m.ID] = m
	return nil
}

func (r *fakeMessageRepo) Count(ctx context.Context, filter models.OutboundMessageFilter) (int64, error) {
	all, _ := r.ByFilter(ctx, filter, "", 0, 0)
	return int64(len(all)), nil
}

func (r *fakeMessageRepo) ClaimNextPending(ctx context.Context, campaignID uint) (*models.OutboundMessage, error) {
	pending := models.MessageStatusPending
	msgs, _ := r.ByFilter(ctx, models.OutboundMessageFilter{CampaignID: &campaignID, Status: &pending}, "", 0, 0)
	for _, m := range msgs {
		if m.Stage <= 0 {
			continue
		}
		m.Status = models.MessageStatusSending
		return m, nil
	}
	return nil, nil
}

func (r *fakeMessageRepo) Release(ctx context.Context, messageID uint) error {
	if m := r.messages[messageID]; m != nil && m.Status == models.MessageStatusSending {
		m.Status = models.MessageStatusPending
	}
	return nil
}

func (r *fakeMessageRepo) MarkSent(ctx context.Context, messageID uint, channelID uint, sentAt time.Time) error {
	m := r.messages[messageID]
	m.Status = models.MessageStatusSent
	m.ChannelID = &channelID
	m.SentAt = &sentAt
	return nil
}

func (r *fakeMessageRepo) MarkFailed(ctx context.Context, messageID uint, channelID *uint, kind models.SendErrorKind, detail string) error {
	m := r.messages[messageID]
	m.Status = models.MessageStatusFailed
	m.ChannelID = channelID
	m.ErrorKind = &kind
	m.ErrorDetail = &detail
	return nil
}

func (r *fakeMessageRepo) ResetFailed(ctx context.Context, campaignID uint) (int64, error) {
	var n int64
	for _, m := range r.messages {
		if m.CampaignID == campaignID && m.Status == models.MessageStatusFailed && m.Stage > 0 {
			m.Status = models.MessageStatusPending
			m.ErrorKind = nil
			m.ErrorDetail = nil
			n++
		}
	}
	return n, nil
}

func (r *fakeMessageRepo) ExistsForCampaign(ctx context.Context, campaignID uint) (bool, error) {
	for _, m := range r.messages {
		if m.CampaignID == campaignID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeMessageRepo) CountByStatus(ctx context.Context, campaignID uint, status models.MessageStatus) (int64, error) {
	var n int64
	for _, m := range r.messages {
		if m.CampaignID == campaignID && m.Status == status && m.Stage > 0 {
			n++
		}
	}
	return n, nil
}

func (r *fakeMessageRepo) ByCampaignContactStage(ctx context.Context, campaignID, contactID uint, stage int) (*models.OutboundMessage, error) {
	msgs, _ := r.ByFilter(ctx, models.OutboundMessageFilter{CampaignID: &campaignID, ContactID: &contactID, Stage: &stage}, "", 0, 0)
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs[0], nil
}

func (r *fakeMessageRepo) ListSentByContact(ctx context.Context, contactID uint, campaignID *uint) ([]*models.OutboundMessage, error) {
	sent := models.MessageStatusSent
	return r.ByFilter(ctx, models.OutboundMessageFilter{ContactID: &contactID, CampaignID: campaignID, Status: &sent}, "", 0, 0)
}

type fakeConversationRepo struct {
	states map[uint]*models.ConversationState
	nextID uint
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{states: make(map[uint]*models.ConversationState), nextID: 1}
}

func (r *fakeConversationRepo) add(s *models.ConversationState) *models.ConversationState {
	if s.ID == 0 {
		s.ID = r.nextID
		r.nextID++
	}
	if s.Stage == "" {
		s.Stage = models.ConversationWaitingStage1
	}
	r.states[s.ID] = s
	return s
}

func (r *fakeConversationRepo) ByID(ctx context.Context, id uint) (*models.ConversationState, error) {
	return r.states[id], nil
}

func (r *fakeConversationRepo) ByFilter(ctx context.Context, filter models.ConversationStateFilter, orderBy string, limit, offset int) ([]*models.ConversationState, error) {
	var out []*models.ConversationState
	for _, s := range r.states {
		if filter.CampaignID != nil && s.CampaignID != *filter.CampaignID {
			continue
		}
		if filter.ContactID != nil && s.ContactID != *filter.ContactID {
			continue
		}
		if filter.Stage != nil && s.Stage != *filter.Stage {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeConversationRepo) Save(ctx context.Context, s *models.ConversationState) error {
	r.add(s)
	return nil
}

func (r *fakeConversationRepo) SaveBatch(ctx context.Context, ss []*models.ConversationState) error {
	for _, s := range ss {
		r.add(s)
	}
	return nil
}

func (r *fakeConversationRepo) Update(ctx context.Context, s *models.ConversationState) error {
	r.states[s.ID] = s
	return nil
}

func (r *fakeConversationRepo) Count(ctx context.Context, filter models.ConversationStateFilter) (int64, error) {
	all, _ := r.ByFilter(ctx, filter, "", 0, 0)
	return int64(len(all)), nil
}

func (r *fakeConversationRepo) ByCampaignAndContact(ctx context.Context, campaignID, contactID uint) (*models.ConversationState, error) {
	states, _ := r.ByFilter(ctx, models.ConversationStateFilter{CampaignID: &campaignID, ContactID: &contactID}, "", 0, 0)
	if len(states) == 0 {
		return nil, nil
	}
	return states[0], nil
}

func (r *fakeConversationRepo) CountByStage(ctx context.Context, campaignID uint, stage models.ConversationStage) (int64, error) {
	return r.Count(ctx, models.ConversationStateFilter{CampaignID: &campaignID, Stage: &stage})
}

type fakeChannelRepo struct {
	channels map[uint]*models.Channel
	nextID   uint
}

func newFakeChannelRepo() *fakeChannelRepo {
	return &fakeChannelRepo{channels: make(map[uint]*models.Channel), nextID: 1}
}

func (r *fakeChannelRepo) add(c *models.Channel) *models.Channel {
	if c.ID == 0 {
		c.ID = r.nextID
		r.nextID++
	}
	r.channels[c.ID] = c
	return c
}

func (r *fakeChannelRepo) ByID(ctx context.Context, id uint) (*models.Channel, error) {
	return r.channels[id], nil
}

func (r *fakeChannelRepo) ByFilter(ctx context.Context, filter models.ChannelFilter, orderBy string, limit, offset int) ([]*models.Channel, error) {
	var out []*models.Channel
	for _, c := range r.channels {
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		if filter.Decommissioned != nil && c.Decommissioned != *filter.Decommissioned {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeChannelRepo) Save(ctx context.Context, c *models.Channel) error {
	r.add(c)
	return nil
}

func (r *fakeChannelRepo) SaveBatch(ctx context.Context, cs []*models.Channel) error {
	for _, c := range cs {
		r.add(c)
	}
	return nil
}

func (r *fakeChannelRepo) Update(ctx context.Context, c *models.Channel) error {
	r.channels[c.ID] = c
	return nil
}

func (r *fakeChannelRepo) Count(ctx context.Context, filter models.ChannelFilter) (int64, error) {
	all, _ := r.ByFilter(ctx, filter, "", 0, 0)
	return int64(len(all)), nil
}

func (r *fakeChannelRepo) ListActive(ctx context.Context) ([]*models.Channel, error) {
	connected := models.ChannelStatusConnected
	no := false
	return r.ByFilter(ctx, models.ChannelFilter{Status: &connected, Decommissioned: &no}, "", 0, 0)
}

func (r *fakeChannelRepo) UpdateStatus(ctx context.Context, channelID uint, status models.ChannelStatus, checkedAt time.Time) error {
	c := r.channels[channelID]
	c.Status = status
	c.LastCheckedAt = &checkedAt
	return nil
}

type fakeAssignmentRepo struct {
	byContact map[uint]*models.ChannelAssignment
	nextID    uint
}

func newFakeAssignmentRepo() *fakeAssignmentRepo {
	return &fakeAssignmentRepo{byContact: make(map[uint]*models.ChannelAssignment), nextID: 1}
}

func (r *fakeAssignmentRepo) ByContact(ctx context.Context, contactID uint) (*models.ChannelAssignment, error) {
	return r.byContact[contactID], nil
}

func (r *fakeAssignmentRepo) BindIfAbsent(ctx context.Context, contactID, channelID uint) (*models.ChannelAssignment, error) {
	if existing, ok := r.byContact[contactID]; ok {
		return existing, nil
	}
	a := &models.ChannelAssignment{
		ID:         r.nextID,
		ContactID:  contactID,
		ChannelID:  &channelID,
		AssignedAt: utils.UTCNow(),
	}
	r.nextID++
	r.byContact[contactID] = a
	return a, nil
}

func (r *fakeAssignmentRepo) Rebind(ctx context.Context, contactID uint, channelID *uint) (*models.ChannelAssignment, error) {
	a, ok := r.byContact[contactID]
	if !ok {
		a = &models.ChannelAssignment{ID: r.nextID, ContactID: contactID}
		r.nextID++
		r.byContact[contactID] = a
	} else {
		a.RebindCount++
	}
	a.ChannelID = channelID
	a.AssignedAt = utils.UTCNow()
	return a, nil
}

func (r *fakeAssignmentRepo) RebindChannel(ctx context.Context, fromChannelID uint, toChannelID *uint) (int64, error) {
	var n int64
	for _, a := range r.byContact {
		if a.ChannelID != nil && *a.ChannelID == fromChannelID {
			a.ChannelID = toChannelID
			a.RebindCount++
			n++
		}
	}
	return n, nil
}

type fakeFollowUpRepo struct {
	flows    map[uint]*models.FollowUpFlow
	steps    map[uint][]*models.FollowUpStep
	statuses map[uint]*models.FollowUpContactStatus
	nextID   uint
}

func newFakeFollowUpRepo() *fakeFollowUpRepo {
	return &fakeFollowUpRepo{
		flows:    make(map[uint]*models.FollowUpFlow),
		steps:    make(map[uint][]*models.FollowUpStep),
		statuses: make(map[uint]*models.FollowUpContactStatus),
		nextID:   1,
	}
}

func (r *fakeFollowUpRepo) id() uint {
	id := r.nextID
	r.nextID++
	return id
}

func (r *fakeFollowUpRepo) addFlow(campaignID uint, active bool, dayOffsets ...int) *models.FollowUpFlow {
	flow := &models.FollowUpFlow{ID: r.id(), CampaignID: campaignID, Name: "drip", Active: active}
	r.flows[flow.ID] = flow
	for i, days := range dayOffsets {
		r.steps[flow.ID] = append(r.steps[flow.ID], &models.FollowUpStep{
			ID:                r.id(),
			FlowID:            flow.ID,
			StepOrder:         i + 1,
			DaysAfterPrevious: days,
			Text:              "are you still interested, {{name}}?",
		})
	}
	return flow
}

func (r *fakeFollowUpRepo) FlowByCampaign(ctx context.Context, campaignID uint) (*models.FollowUpFlow, error) {
	for _, f := range r.flows {
		if f.CampaignID == campaignID {
			return f, nil
		}
	}
	return nil, nil
}

func (r *fakeFollowUpRepo) FlowByID(ctx context.Context, flowID uint) (*models.FollowUpFlow, error) {
	return r.flows[flowID], nil
}

func (r *fakeFollowUpRepo) StepsByFlow(ctx context.Context, flowID uint) ([]*models.FollowUpStep, error) {
	steps := append([]*models.FollowUpStep(nil), r.steps[flowID]...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
	return steps, nil
}

func (r *fakeFollowUpRepo) SaveFlow(ctx context.Context, flow *models.FollowUpFlow) error {
	if flow.ID == 0 {
		flow.ID = r.id()
	}
	r.flows[flow.ID] = flow
	for i := range flow.Steps {
		step := flow.Steps[i]
		if step.ID == 0 {
			step.ID = r.id()
		}
		step.FlowID = flow.ID
		r.steps[flow.ID] = append(r.steps[flow.ID], &step)
	}
	return nil
}

func (r *fakeFollowUpRepo) ActiveStatus(ctx context.Context, flowID, contactID uint) (*models.FollowUpContactStatus, error) {
	for _, s := range r.statuses {
		if s.FlowID == flowID && s.ContactID == contactID && s.IsActive {
			return s, nil
		}
	}
	return nil, nil
}

func (r *fakeFollowUpRepo) ListDueStatuses(ctx context.Context, now time.Time, limit int) ([]*models.FollowUpContactStatus, error) {
	var out []*models.FollowUpContactStatus
	for _, s := range r.statuses {
		if s.IsActive && !s.NextFireAt.After(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeFollowUpRepo) SaveStatusBatch(ctx context.Context, statuses []*models.FollowUpContactStatus) error {
	for _, s := range statuses {
		if s.ID == 0 {
			s.ID = r.id()
		}
		r.statuses[s.ID] = s
	}
	return nil
}

func (r *fakeFollowUpRepo) UpdateStatus(ctx context.Context, status *models.FollowUpContactStatus) error {
	r.statuses[status.ID] = status
	return nil
}

func (r *fakeFollowUpRepo) DeactivateByContact(ctx context.Context, contactID uint, flowID *uint, reason models.FollowUpStopReason, at time.Time) (int64, error) {
	var n int64
	for _, s := range r.statuses {
		if s.ContactID != contactID || !s.IsActive {
			continue
		}
		if flowID != nil && s.FlowID != *flowID {
			continue
		}
		s.Deactivate(reason, at)
		n++
	}
	return n, nil
}

type fakeInboundRepo struct {
	saved []*models.InboundMessage
}

func (r *fakeInboundRepo) Save(ctx context.Context, msg *models.InboundMessage) error {
	r.saved = append(r.saved, msg)
	return nil
}

func (r *fakeInboundRepo) ExistsReplyAfter(ctx context.Context, campaignID, contactID uint, after time.Time) (bool, error) {
	for _, m := range r.saved {
		if m.ContactID == nil || *m.ContactID != contactID {
			continue
		}
		if m.CampaignID == nil || *m.CampaignID != campaignID {
			continue
		}
		if m.ReceivedAt.After(after) {
			return true, nil
		}
	}
	return false, nil
}
