package models

import (
	"time"

	"github.com/zapcast/zapcast/utils"
	"gorm.io/gorm"
)

// InboundMessage records one inbound event as received from the channel
// provider. Every event is persisted, matched or not, so out-of-order and
// stale replies stay auditable without advancing any state.
type InboundMessage struct {
	ID         uint  `gorm:"primaryKey" json:"id"`
	ContactID  *uint `gorm:"index:idx_inbound_messages_contact_id" json:"contact_id,omitempty"`
	CampaignID *uint `gorm:"index:idx_inbound_messages_campaign_id" json:"campaign_id,omitempty"`
	ChannelID  *uint `json:"channel_id,omitempty"`

	RawAddress string    `gorm:"size:32;not null;index:idx_inbound_messages_raw_address" json:"raw_address"`
	Text       string    `gorm:"type:text" json:"text"`
	ReceivedAt time.Time `gorm:"not null;index:idx_inbound_messages_received_at" json:"received_at"`

	// Correlated is true when the event advanced a conversation or stopped a
	// follow-up; stale and unexpected replies are stored with it false.
	Correlated bool    `gorm:"not null;default:false" json:"correlated"`
	Note       *string `gorm:"type:text" json:"note,omitempty"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
}

// TableName returns the table name for the model
func (InboundMessage) TableName() string {
	return "inbound_messages"
}

// BeforeCreate is called before creating a new record
func (m *InboundMessage) BeforeCreate(tx *gorm.DB) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = utils.UTCNow()
	}
	return nil
}

// InboundMessageFilter represents filter criteria for inbound messages
type InboundMessageFilter struct {
	ContactID     *uint      `json:"contact_id,omitempty"`
	CampaignID    *uint      `json:"campaign_id,omitempty"`
	RawAddress    *string    `json:"raw_address,omitempty"`
	Correlated    *bool      `json:"correlated,omitempty"`
	ReceivedAfter *time.Time `json:"received_after,omitempty"`
}
