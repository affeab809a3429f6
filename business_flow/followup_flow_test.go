package businessflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zapcast/zapcast/app/dto"
	"github.com/zapcast/zapcast/models"
)

type followUpEnv struct {
	followUpRepo *fakeFollowUpRepo
	campaignRepo *fakeCampaignRepo
	messageRepo  *fakeMessageRepo
	inboundRepo  *fakeInboundRepo
	flow         FollowUpFlow
	campaign     *models.Campaign
}

func newFollowUpEnv() *followUpEnv {
	env := &followUpEnv{
		followUpRepo: newFakeFollowUpRepo(),
		campaignRepo: newFakeCampaignRepo(),
		messageRepo:  newFakeMessageRepo(),
		inboundRepo:  &fakeInboundRepo{},
	}
	env.flow = NewFollowUpFlow(env.followUpRepo, env.campaignRepo, env.messageRepo, env.inboundRepo, nil)
	env.campaign = env.campaignRepo.add(&models.Campaign{
		TenantID: 1,
		ListID:   10,
		Title:    "March outreach",
		Status:   models.CampaignStatusRunning,
		Mode:     models.CampaignModeSimple,
		Spec:     validSpec(),
	})
	return env
}

func TestCreateFollowUpFlow(t *testing.T) {
	env := newFollowUpEnv()

	resp, err := env.flow.CreateFlow(context.Background(), &dto.CreateFollowUpFlowRequest{
		CampaignUUID: env.campaign.UUID.String(),
		TenantID:     1,
		Name:         "no-reply drip",
		Steps: []dto.FollowUpStepInput{
			{DaysAfterPrevious: 2, Text: "Still interested?"},
			{DaysAfterPrevious: 5, Text: "Last chance"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, resp.Steps)
	steps, _ := env.followUpRepo.StepsByFlow(context.Background(), resp.FlowID)
	require.Len(t, steps, 2)
	assert.Equal(t, 1, steps[0].StepOrder)
	assert.Equal(t, 2, steps[1].StepOrder)
	assert.Equal(t, 5, steps[1].DaysAfterPrevious)
}

func TestCreateFollowUpFlowDuplicateRefused(t *testing.T) {
	env := newFollowUpEnv()
	env.followUpRepo.addFlow(env.campaign.ID, true, 2)

	_, err := env.flow.CreateFlow(context.Background(), &dto.CreateFollowUpFlowRequest{
		CampaignUUID: env.campaign.UUID.String(),
		TenantID:     1,
		Name:         "another",
		Steps:        []dto.FollowUpStepInput{{DaysAfterPrevious: 1, Text: "hi"}},
	})
	require.Error(t, err)
	var be *BusinessError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "VALIDATION_ERROR", be.Code)
}

func TestCreateFollowUpFlowWithoutSteps(t *testing.T) {
	env := newFollowUpEnv()

	_, err := env.flow.CreateFlow(context.Background(), &dto.CreateFollowUpFlowRequest{
		CampaignUUID: env.campaign.UUID.String(),
		TenantID:     1,
		Name:         "empty",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFollowUpStepsEmpty))
}

func TestScheduleForContact(t *testing.T) {
	env := newFollowUpEnv()
	env.followUpRepo.addFlow(env.campaign.ID, true, 2, 5)
	stage1SentAt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	created, err := env.flow.ScheduleForContact(context.Background(), env.campaign.ID, 7, stage1SentAt)
	require.NoError(t, err)
	require.True(t, created)

	require.Len(t, env.followUpRepo.statuses, 1)
	for _, status := range env.followUpRepo.statuses {
		assert.Equal(t, uint(7), status.ContactID)
		assert.Zero(t, status.CurrentStep)
		assert.True(t, status.IsActive)
		// first fire offsets from the actual stage-1 send instant
		assert.True(t, status.NextFireAt.Equal(stage1SentAt.Add(2*24*time.Hour)))
	}
}

func TestScheduleForContactIdempotent(t *testing.T) {
	env := newFollowUpEnv()
	env.followUpRepo.addFlow(env.campaign.ID, true, 2)
	stage1SentAt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	created, err := env.flow.ScheduleForContact(context.Background(), env.campaign.ID, 7, stage1SentAt)
	require.NoError(t, err)
	require.True(t, created)

	created, err = env.flow.ScheduleForContact(context.Background(), env.campaign.ID, 7, stage1SentAt)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, env.followUpRepo.statuses, 1)
}

func TestScheduleForContactSkipsRepliedRecipient(t *testing.T) {
	env := newFollowUpEnv()
	env.followUpRepo.addFlow(env.campaign.ID, true, 2)
	stage1SentAt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	contactID := uint(7)
	repliedAt := stage1SentAt.Add(time.Hour)
	env.inboundRepo.saved = append(env.inboundRepo.saved, &models.InboundMessage{
		ContactID:  &contactID,
		CampaignID: &env.campaign.ID,
		RawAddress: "+5511999990000",
		ReceivedAt: repliedAt,
		Correlated: true,
	})

	created, err := env.flow.ScheduleForContact(context.Background(), env.campaign.ID, contactID, stage1SentAt)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Empty(t, env.followUpRepo.statuses)
}

func TestScheduleForContactInactiveFlow(t *testing.T) {
	env := newFollowUpEnv()
	env.followUpRepo.addFlow(env.campaign.ID, false, 2)

	created, err := env.flow.ScheduleForContact(context.Background(), env.campaign.ID, 7, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, created)
}

func TestScheduleForContactWithoutFlow(t *testing.T) {
	env := newFollowUpEnv()

	created, err := env.flow.ScheduleForContact(context.Background(), env.campaign.ID, 7, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, created)
}

func TestInitializeForCampaign(t *testing.T) {
	env := newFollowUpEnv()
	env.followUpRepo.addFlow(env.campaign.ID, true, 3)
	stage1SentAt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	// two sent, one of them already replied, one still pending
	for contactID := uint(1); contactID <= 2; contactID++ {
		at := stage1SentAt
		env.messageRepo.add(&models.OutboundMessage{CampaignID: env.campaign.ID, ContactID: contactID, Stage: 1, Status: models.MessageStatusSent, SentAt: &at})
	}
	env.messageRepo.add(&models.OutboundMessage{CampaignID: env.campaign.ID, ContactID: 3, Stage: 1, Status: models.MessageStatusPending})

	replied := uint(2)
	env.inboundRepo.saved = append(env.inboundRepo.saved, &models.InboundMessage{
		ContactID:  &replied,
		CampaignID: &env.campaign.ID,
		RawAddress: "+5511999990000",
		ReceivedAt: stage1SentAt.Add(time.Hour),
		Correlated: true,
	})

	resp, err := env.flow.InitializeForCampaign(context.Background(), &dto.InitFollowUpsRequest{UUID: env.campaign.UUID.String(), TenantID: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, resp.StatusesCreated)
	assert.Equal(t, 1, resp.Skipped)
	require.Len(t, env.followUpRepo.statuses, 1)
	for _, status := range env.followUpRepo.statuses {
		assert.Equal(t, uint(1), status.ContactID)
		assert.True(t, status.NextFireAt.Equal(stage1SentAt.Add(3*24*time.Hour)))
	}
}

func TestInitializeForCampaignSkipsUncorrelatedReply(t *testing.T) {
	env := newFollowUpEnv()
	stage1SentAt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	at := stage1SentAt
	env.messageRepo.add(&models.OutboundMessage{CampaignID: env.campaign.ID, ContactID: 1, Stage: 1, Status: models.MessageStatusSent, SentAt: &at})

	// The reply landed before the flow existed, so nothing correlated it.
	replied := uint(1)
	env.inboundRepo.saved = append(env.inboundRepo.saved, &models.InboundMessage{
		ContactID:  &replied,
		CampaignID: &env.campaign.ID,
		RawAddress: "+5511999990000",
		ReceivedAt: stage1SentAt.Add(time.Hour),
		Correlated: false,
	})

	env.followUpRepo.addFlow(env.campaign.ID, true, 3)

	resp, err := env.flow.InitializeForCampaign(context.Background(), &dto.InitFollowUpsRequest{UUID: env.campaign.UUID.String(), TenantID: 1})
	require.NoError(t, err)

	assert.Zero(t, resp.StatusesCreated)
	assert.Equal(t, 1, resp.Skipped)
	assert.Empty(t, env.followUpRepo.statuses)
}

func TestInitializeForCampaignIsRerunSafe(t *testing.T) {
	env := newFollowUpEnv()
	env.followUpRepo.addFlow(env.campaign.ID, true, 3)
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	env.messageRepo.add(&models.OutboundMessage{CampaignID: env.campaign.ID, ContactID: 1, Stage: 1, Status: models.MessageStatusSent, SentAt: &at})

	req := &dto.InitFollowUpsRequest{UUID: env.campaign.UUID.String(), TenantID: 1}
	first, err := env.flow.InitializeForCampaign(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, first.StatusesCreated)

	second, err := env.flow.InitializeForCampaign(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, second.StatusesCreated)
	assert.Equal(t, 1, second.Skipped)
	assert.Len(t, env.followUpRepo.statuses, 1)
}

func TestInitializeForCampaignWithoutFlow(t *testing.T) {
	env := newFollowUpEnv()

	_, err := env.flow.InitializeForCampaign(context.Background(), &dto.InitFollowUpsRequest{UUID: env.campaign.UUID.String(), TenantID: 1})
	require.Error(t, err)
	assert.True(t, IsFollowUpFlowNotFound(err))
}

func TestInitializeForCampaignInactiveFlow(t *testing.T) {
	env := newFollowUpEnv()
	env.followUpRepo.addFlow(env.campaign.ID, false, 3)

	_, err := env.flow.InitializeForCampaign(context.Background(), &dto.InitFollowUpsRequest{UUID: env.campaign.UUID.String(), TenantID: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFollowUpFlowInactive))
}

func TestAdvanceAfterSend(t *testing.T) {
	env := newFollowUpEnv()
	flow := env.followUpRepo.addFlow(env.campaign.ID, true, 2, 5)
	steps, _ := env.followUpRepo.StepsByFlow(context.Background(), flow.ID)

	status := &models.FollowUpContactStatus{ID: 100, FlowID: flow.ID, ContactID: 7, CurrentStep: 0, IsActive: true}
	env.followUpRepo.statuses[status.ID] = status
	sentAt := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	t.Run("mid flow advances to next step", func(t *testing.T) {
		err := env.flow.AdvanceAfterSend(context.Background(), status, steps, sentAt)
		require.NoError(t, err)

		assert.Equal(t, 1, status.CurrentStep)
		assert.True(t, status.IsActive)
		// next fire offsets from this send, not from the original schedule
		assert.True(t, status.NextFireAt.Equal(sentAt.Add(5*24*time.Hour)))
		require.NotNil(t, status.LastSentAt)
	})

	t.Run("last step deactivates as completed", func(t *testing.T) {
		lastSentAt := sentAt.Add(5 * 24 * time.Hour)
		err := env.flow.AdvanceAfterSend(context.Background(), status, steps, lastSentAt)
		require.NoError(t, err)

		assert.Equal(t, 2, status.CurrentStep)
		assert.False(t, status.IsActive)
		require.NotNil(t, status.StopReason)
		assert.Equal(t, models.FollowUpStopFlowCompleted, *status.StopReason)
	})
}

func TestStopOnReply(t *testing.T) {
	env := newFollowUpEnv()
	flow := env.followUpRepo.addFlow(env.campaign.ID, true, 2)

	otherCampaign := env.campaignRepo.add(&models.Campaign{TenantID: 1, ListID: 11, Title: "other", Status: models.CampaignStatusRunning, Spec: validSpec()})
	otherFlow := env.followUpRepo.addFlow(otherCampaign.ID, true, 4)

	contactID := uint(7)
	env.followUpRepo.statuses[200] = &models.FollowUpContactStatus{ID: 200, FlowID: flow.ID, ContactID: contactID, IsActive: true}
	env.followUpRepo.statuses[201] = &models.FollowUpContactStatus{ID: 201, FlowID: otherFlow.ID, ContactID: contactID, IsActive: true}

	at := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)

	t.Run("scoped to one campaign", func(t *testing.T) {
		stopped, err := env.flow.StopOnReply(context.Background(), contactID, &env.campaign.ID, at)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stopped)

		assert.False(t, env.followUpRepo.statuses[200].IsActive)
		assert.Equal(t, models.FollowUpStopReplied, *env.followUpRepo.statuses[200].StopReason)
		assert.True(t, env.followUpRepo.statuses[201].IsActive)
	})

	t.Run("unscoped stops everything", func(t *testing.T) {
		stopped, err := env.flow.StopOnReply(context.Background(), contactID, nil, at)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stopped)
		assert.False(t, env.followUpRepo.statuses[201].IsActive)
	})

	t.Run("campaign without flow stops nothing", func(t *testing.T) {
		noFlow := env.campaignRepo.add(&models.Campaign{TenantID: 1, ListID: 12, Title: "bare", Status: models.CampaignStatusRunning, Spec: validSpec()})
		stopped, err := env.flow.StopOnReply(context.Background(), contactID, &noFlow.ID, at)
		require.NoError(t, err)
		assert.Zero(t, stopped)
	})
}

func TestFlowWithSteps(t *testing.T) {
	env := newFollowUpEnv()
	flow := env.followUpRepo.addFlow(env.campaign.ID, true, 2, 5)

	got, steps, err := env.flow.FlowWithSteps(context.Background(), flow.ID)
	require.NoError(t, err)
	assert.Equal(t, flow.ID, got.ID)
	assert.Len(t, steps, 2)

	_, _, err = env.flow.FlowWithSteps(context.Background(), 999)
	require.Error(t, err)
	assert.True(t, IsFollowUpFlowNotFound(err))
}
