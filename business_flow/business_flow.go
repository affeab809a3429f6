// Package businessflow contains the business logic for the application.
package businessflow

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/zapcast/zapcast/models"
	"github.com/zapcast/zapcast/repository"
)

const RequestIDKey = "X-Request-ID"

// ClientMetadata holds client-related information for request logging
type ClientMetadata struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
	RequestID string `json:"request_id,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

func getCampaignByUUID(ctx context.Context, repo repository.CampaignRepository, rawUUID string, tenantID uint) (*models.Campaign, error) {
	if rawUUID == "" {
		return nil, ErrCampaignUUIDRequired
	}
	id, err := uuid.Parse(rawUUID)
	if err != nil {
		return nil, ErrCampaignUUIDRequired
	}
	campaign, err := repo.ByUUID(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, ErrCampaignNotFound
	}
	if tenantID != 0 && campaign.TenantID != tenantID {
		return nil, ErrCampaignAccessDenied
	}
	return campaign, nil
}

// renderTemplate substitutes recipient placeholders into a message body.
func renderTemplate(text string, contact *models.Contact) string {
	r := strings.NewReplacer(
		"{{name}}", contact.Name,
		"{{phone}}", contact.PhoneNumber,
	)
	return r.Replace(text)
}

// BuildFollowUpMessage renders one drip message for one recipient. Drip rows
// carry stage 0 plus the one-based step counter so the campaign-stage unique
// index never collides with them.
func BuildFollowUpMessage(campaignID uint, contact *models.Contact, step *models.FollowUpStep) *models.OutboundMessage {
	stepOrder := step.StepOrder
	return &models.OutboundMessage{
		CampaignID:   campaignID,
		ContactID:    contact.ID,
		Stage:        0,
		FollowUpStep: &stepOrder,
		Text:         renderTemplate(step.Text, contact),
		Attachments:  step.Attachments,
		Status:       models.MessageStatusPending,
	}
}

// buildStageMessage renders one pending stage message for one recipient,
// choosing a variant uniformly at random and recording the chosen index.
func buildStageMessage(campaign *models.Campaign, contact *models.Contact, stage int, variants []models.MessageTemplate, randIntN func(n int) int) *models.OutboundMessage {
	idx := 0
	if len(variants) > 1 {
		idx = randIntN(len(variants))
	}
	variant := variants[idx]
	return &models.OutboundMessage{
		CampaignID:   campaign.ID,
		ContactID:    contact.ID,
		Stage:        stage,
		Text:         renderTemplate(variant.Text, contact),
		Attachments:  variant.NormalizedAttachments(),
		VariantIndex: idx,
		Status:       models.MessageStatusPending,
	}
}
