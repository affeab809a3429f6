// Package testing provides test utilities and database setup for testing the campaign engine
package testing

import (
	"fmt"
	"math/rand"

	"github.com/zapcast/zapcast/models"
	"github.com/zapcast/zapcast/utils"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestContact creates a contact on the given list with a random phone number
func (tf *TestFixtures) CreateTestContact(listID uint) (*models.Contact, error) {
	randomDigits := fmt.Sprintf("%09d", rand.Intn(900000000)+100000000)
	contact := &models.Contact{
		ListID:      listID,
		Name:        "John Doe",
		PhoneNumber: fmt.Sprintf("+559%s", randomDigits),
	}
	if err := tf.DB.DB.Create(contact).Error; err != nil {
		return nil, fmt.Errorf("failed to create test contact: %w", err)
	}
	return contact, nil
}

// CreateTestChannel creates a connected chip
func (tf *TestFixtures) CreateTestChannel(tenantID uint) (*models.Channel, error) {
	randomDigits := fmt.Sprintf("%09d", rand.Intn(900000000)+100000000)
	channel := &models.Channel{
		TenantID: tenantID,
		Name:     fmt.Sprintf("chip-%s", randomDigits[:4]),
		Address:  fmt.Sprintf("+558%s", randomDigits),
		Status:   models.ChannelStatusConnected,
	}
	if err := tf.DB.DB.Create(channel).Error; err != nil {
		return nil, fmt.Errorf("failed to create test channel: %w", err)
	}
	return channel, nil
}

// CreateTestCampaign creates a draft campaign with a minimal valid spec
func (tf *TestFixtures) CreateTestCampaign(tenantID, listID uint, mode models.CampaignMode, channelIDs []uint) (*models.Campaign, error) {
	spec := models.CampaignSpec{
		MinIntervalSeconds: 5,
		MaxIntervalSeconds: 15,
		AllowedHourStart:   0,
		AllowedHourEnd:     24,
		ChannelIDs:         channelIDs,
		Stage1Variants: []models.MessageTemplate{
			{Text: "Hello {{name}}"},
		},
	}
	if mode == models.CampaignModeInteractive {
		spec.Stage2Variants = []models.MessageTemplate{
			{Text: "Thanks for replying, {{name}}"},
		}
	}

	campaign := &models.Campaign{
		TenantID: tenantID,
		ListID:   listID,
		Title:    "Test campaign",
		Status:   models.CampaignStatusDraft,
		Mode:     mode,
		Spec:     spec,
	}
	if err := tf.DB.DB.Create(campaign).Error; err != nil {
		return nil, fmt.Errorf("failed to create test campaign: %w", err)
	}
	return campaign, nil
}

// CreateTestFollowUpFlow creates an active drip flow with the given day offsets
func (tf *TestFixtures) CreateTestFollowUpFlow(campaignID uint, dayOffsets []int) (*models.FollowUpFlow, error) {
	flow := &models.FollowUpFlow{
		CampaignID: campaignID,
		Name:       "Test drip",
		Active:     true,
	}
	for i, days := range dayOffsets {
		flow.Steps = append(flow.Steps, models.FollowUpStep{
			StepOrder:         i + 1,
			DaysAfterPrevious: days,
			Text:              fmt.Sprintf("Follow-up %d for {{name}}", i+1),
		})
	}
	if err := tf.DB.DB.Create(flow).Error; err != nil {
		return nil, fmt.Errorf("failed to create test follow-up flow: %w", err)
	}
	return flow, nil
}

// CreateSentStage1Message creates a sent stage-1 message for the recipient
func (tf *TestFixtures) CreateSentStage1Message(campaignID, contactID, channelID uint) (*models.OutboundMessage, error) {
	now := utils.UTCNow()
	msg := &models.OutboundMessage{
		CampaignID: campaignID,
		ContactID:  contactID,
		Stage:      1,
		Text:       "Hello",
		Status:     models.MessageStatusSent,
		ChannelID:  &channelID,
		SentAt:     &now,
	}
	if err := tf.DB.DB.Create(msg).Error; err != nil {
		return nil, fmt.Errorf("failed to create sent stage-1 message: %w", err)
	}
	return msg, nil
}
