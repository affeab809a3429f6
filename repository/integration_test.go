package repository_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapcast/zapcast/models"
	"github.com/zapcast/zapcast/repository"
	zaptesting "github.com/zapcast/zapcast/testing"
	"github.com/zapcast/zapcast/utils"
)

// These tests need a reachable postgres instance; set TEST_DB_HOST to run them.

func setupIntegrationDB(t *testing.T) (*zaptesting.TestDB, *zaptesting.TestFixtures) {
	t.Helper()
	if os.Getenv("TEST_DB_HOST") == "" {
		t.Skip("TEST_DB_HOST not set, skipping database integration tests")
	}

	tdb, err := zaptesting.SetupTestDB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = tdb.TeardownTestDB()
	})
	return tdb, zaptesting.NewTestFixtures(tdb)
}

func TestCampaignRepositoryPauseLifecycle(t *testing.T) {
	tdb, fixtures := setupIntegrationDB(t)
	ctx := context.Background()
	repo := repository.NewCampaignRepository(tdb.DB)

	channel, err := fixtures.CreateTestChannel(1)
	require.NoError(t, err)
	campaign, err := fixtures.CreateTestCampaign(1, 10, models.CampaignModeSimple, []uint{channel.ID})
	require.NoError(t, err)

	loaded, err := repo.ByUUID(ctx, campaign.UUID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, campaign.ID, loaded.ID)

	campaign.Status = models.CampaignStatusRunning
	require.NoError(t, repo.Update(ctx, campaign))

	until := utils.UTCNow().Add(-time.Minute)
	require.NoError(t, repo.SetPause(ctx, campaign.ID, models.PauseReasonMessageCycle, &until))

	resumable, err := repo.ListCycleResumable(ctx, utils.UTCNow())
	require.NoError(t, err)
	require.Len(t, resumable, 1)
	assert.Equal(t, campaign.ID, resumable[0].ID)

	require.NoError(t, repo.ClearPause(ctx, campaign.ID))
	loaded, err = repo.ByID(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusRunning, loaded.Status)
	assert.Nil(t, loaded.PauseReason)
	assert.Zero(t, loaded.SentSinceCycle)

	// A disconnection pause must never show up as cycle-resumable.
	require.NoError(t, repo.SetPause(ctx, campaign.ID, models.PauseReasonChipDisconnected, nil))
	resumable, err = repo.ListCycleResumable(ctx, utils.UTCNow())
	require.NoError(t, err)
	assert.Empty(t, resumable)
}

func TestOutboundMessageClaimLifecycle(t *testing.T) {
	tdb, fixtures := setupIntegrationDB(t)
	ctx := context.Background()
	repo := repository.NewOutboundMessageRepository(tdb.DB)

	channel, err := fixtures.CreateTestChannel(1)
	require.NoError(t, err)
	campaign, err := fixtures.CreateTestCampaign(1, 10, models.CampaignModeSimple, []uint{channel.ID})
	require.NoError(t, err)
	first, err := fixtures.CreateTestContact(10)
	require.NoError(t, err)
	second, err := fixtures.CreateTestContact(10)
	require.NoError(t, err)

	// The drip row sorts first (stage 0, lowest id) but must never be claimed.
	stepOrder := 1
	drip := &models.OutboundMessage{
		CampaignID:   campaign.ID,
		ContactID:    first.ID,
		Stage:        0,
		FollowUpStep: &stepOrder,
		Text:         "still there?",
	}
	require.NoError(t, repo.Save(ctx, drip))

	msgs := []*models.OutboundMessage{
		{CampaignID: campaign.ID, ContactID: first.ID, Stage: 1, Text: "Hello"},
		{CampaignID: campaign.ID, ContactID: second.ID, Stage: 1, Text: "Hello"},
	}
	require.NoError(t, repo.SaveBatch(ctx, msgs))

	claimed, err := repo.ClaimNextPending(ctx, campaign.ID)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, models.MessageStatusSending, claimed.Status)
	assert.Equal(t, 1, claimed.Stage)

	pending, err := repo.CountByStatus(ctx, campaign.ID, models.MessageStatusPending)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)

	require.NoError(t, repo.Release(ctx, claimed.ID))
	pending, err = repo.CountByStatus(ctx, campaign.ID, models.MessageStatusPending)
	require.NoError(t, err)
	assert.EqualValues(t, 2, pending)

	claimed, err = repo.ClaimNextPending(ctx, campaign.ID)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, repo.MarkFailed(ctx, claimed.ID, &channel.ID, models.SendErrorChannelUnavailable, "chip offline"))
	require.NoError(t, repo.MarkFailed(ctx, drip.ID, &channel.ID, models.SendErrorTransient, "provider timeout"))

	// Recovery resets the failed plan message only; the drip row stays failed
	// because its follow-up status re-fires the step on its own schedule.
	reset, err := repo.ResetFailed(ctx, campaign.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, reset)

	loaded, err := repo.ByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusPending, loaded.Status)
	assert.Nil(t, loaded.ErrorKind)
	assert.Nil(t, loaded.ErrorDetail)

	loadedDrip, err := repo.ByID(ctx, drip.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusFailed, loadedDrip.Status)
}

func TestChannelAssignmentFirstWriteWins(t *testing.T) {
	tdb, fixtures := setupIntegrationDB(t)
	ctx := context.Background()
	repo := repository.NewChannelAssignmentRepository(tdb.DB)

	chipA, err := fixtures.CreateTestChannel(1)
	require.NoError(t, err)
	chipB, err := fixtures.CreateTestChannel(1)
	require.NoError(t, err)
	contact, err := fixtures.CreateTestContact(10)
	require.NoError(t, err)

	bound, err := repo.BindIfAbsent(ctx, contact.ID, chipA.ID)
	require.NoError(t, err)
	require.NotNil(t, bound.ChannelID)
	assert.Equal(t, chipA.ID, *bound.ChannelID)

	// Losing bind returns the existing winner untouched.
	bound, err = repo.BindIfAbsent(ctx, contact.ID, chipB.ID)
	require.NoError(t, err)
	require.NotNil(t, bound.ChannelID)
	assert.Equal(t, chipA.ID, *bound.ChannelID)

	moved, err := repo.RebindChannel(ctx, chipA.ID, &chipB.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, moved)

	resolved, err := repo.ByContact(ctx, contact.ID)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	require.NotNil(t, resolved.ChannelID)
	assert.Equal(t, chipB.ID, *resolved.ChannelID)
}
