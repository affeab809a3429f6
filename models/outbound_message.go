package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zapcast/zapcast/utils"
	"gorm.io/gorm"
)

// MessageStatus enumerates the delivery state of an outbound message
type MessageStatus string

const (
	MessageStatusPending MessageStatus = "pending"
	// MessageStatusSending marks a claimed message: the compare-and-set
	// pending->sending step that keeps two scheduler invocations from
	// double-sending the same row.
	MessageStatusSending MessageStatus = "sending"
	MessageStatusSent    MessageStatus = "sent"
	MessageStatusFailed  MessageStatus = "failed"
)

// Valid checks if the status is valid
func (s MessageStatus) Valid() bool {
	switch s {
	case MessageStatusPending, MessageStatusSending, MessageStatusSent, MessageStatusFailed:
		return true
	default:
		return false
	}
}

// SendErrorKind classifies a failed send for recovery decisions
type SendErrorKind string

const (
	// SendErrorChannelUnavailable means the chip was disconnected; the whole
	// campaign is paused instead of burning through the recipient list.
	SendErrorChannelUnavailable SendErrorKind = "channel_unavailable"
	// SendErrorTransient covers provider timeouts and 5xx responses; the
	// message fails without pausing the campaign.
	SendErrorTransient SendErrorKind = "transient"
)

// Attachment is one media item attached to a message
type Attachment struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	FileName string `json:"file_name,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// AttachmentList is the canonical list-of-items attachment representation,
// stored as a jsonb column
type AttachmentList []Attachment

// Value implements the driver.Valuer interface for AttachmentList
func (l AttachmentList) Value() (driver.Value, error) {
	if l == nil {
		l = AttachmentList{}
	}
	return json.Marshal(l)
}

// Scan implements the sql.Scanner interface for AttachmentList
func (l *AttachmentList) Scan(value any) error {
	if value == nil {
		*l = AttachmentList{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into AttachmentList", value)
	}
	return json.Unmarshal(bytes, l)
}

// OutboundMessage is one rendered message planned for one recipient. Campaign
// stages use Stage 1 or 2; follow-up drip sends carry Stage 0 and a
// FollowUpStep counter instead.
type OutboundMessage struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UUID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_outbound_messages_uuid" json:"uuid"`
	CampaignID uint      `gorm:"not null;index:idx_outbound_messages_campaign_id;uniqueIndex:uk_outbound_messages_campaign_contact_stage,where:stage > 0" json:"campaign_id"`
	ContactID  uint      `gorm:"not null;index:idx_outbound_messages_contact_id;uniqueIndex:uk_outbound_messages_campaign_contact_stage,where:stage > 0" json:"contact_id"`

	Stage        int  `gorm:"not null;default:1;uniqueIndex:uk_outbound_messages_campaign_contact_stage,where:stage > 0" json:"stage"`
	FollowUpStep *int `json:"follow_up_step,omitempty"`

	Text         string         `gorm:"type:text;not null" json:"text"`
	Attachments  AttachmentList `gorm:"type:jsonb;not null;default:'[]'" json:"attachments"`
	VariantIndex int            `gorm:"not null;default:0" json:"variant_index"`

	Status MessageStatus `gorm:"type:outbound_message_status;not null;default:'pending';index:idx_outbound_messages_status" json:"status"`

	// ChannelID is filled at send time, not at creation
	ChannelID   *uint          `gorm:"index:idx_outbound_messages_channel_id" json:"channel_id,omitempty"`
	SentAt      *time.Time     `json:"sent_at,omitempty"`
	ErrorKind   *SendErrorKind `gorm:"type:text" json:"error_kind,omitempty"`
	ErrorDetail *string        `gorm:"type:text" json:"error_detail,omitempty"`

	CreatedAt time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// TableName returns the table name for the model
func (OutboundMessage) TableName() string {
	return "outbound_messages"
}

// BeforeCreate is called before creating a new record
func (m *OutboundMessage) BeforeCreate(tx *gorm.DB) error {
	if m.UUID == uuid.Nil {
		m.UUID = uuid.New()
	}
	if m.Status == "" {
		m.Status = MessageStatusPending
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (m *OutboundMessage) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	m.UpdatedAt = &now
	return nil
}

// IsFollowUp reports whether this row belongs to a follow-up drip, not a
// campaign stage
func (m *OutboundMessage) IsFollowUp() bool {
	return m.FollowUpStep != nil
}

// OutboundMessageFilter represents filter criteria for outbound messages
type OutboundMessageFilter struct {
	ID            *uint          `json:"id,omitempty"`
	CampaignID    *uint          `json:"campaign_id,omitempty"`
	ContactID     *uint          `json:"contact_id,omitempty"`
	Stage         *int           `json:"stage,omitempty"`
	Status        *MessageStatus `json:"status,omitempty"`
	ChannelID     *uint          `json:"channel_id,omitempty"`
	CreatedAfter  *time.Time     `json:"created_after,omitempty"`
	CreatedBefore *time.Time     `json:"created_before,omitempty"`
}
