package dto

import "time"

// InboundEventRequest is one inbound message event as delivered by the
// channel provider, either over AMQP or through the webhook fallback.
type InboundEventRequest struct {
	RecipientAddress string    `json:"recipient_address" validate:"required"`
	CampaignID       *uint     `json:"campaign_id,omitempty"`
	ChannelID        *uint     `json:"channel_id,omitempty"`
	Text             string    `json:"text"`
	ReceivedAt       time.Time `json:"received_at" validate:"required"`
}

// InboundEventResponse reports what the correlator did with the event
type InboundEventResponse struct {
	Message           string  `json:"message"`
	Matched           bool    `json:"matched"`
	Correlated        bool    `json:"correlated"`
	Stale             bool    `json:"stale"`
	ContactID         *uint   `json:"contact_id,omitempty"`
	CampaignID        *uint   `json:"campaign_id,omitempty"`
	ConversationStage *string `json:"conversation_stage,omitempty"`
	FollowUpsStopped  int64   `json:"follow_ups_stopped"`
}

// InitFollowUpsRequest triggers bulk follow-up initialization for a campaign
type InitFollowUpsRequest struct {
	UUID     string `json:"-"`
	TenantID uint   `json:"-"`
}

// InitFollowUpsResponse reports how many drip records were created
type InitFollowUpsResponse struct {
	Message         string `json:"message"`
	UUID            string `json:"uuid"`
	StatusesCreated int    `json:"statuses_created"`
	Skipped         int    `json:"skipped"`
}
