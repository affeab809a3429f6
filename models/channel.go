package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zapcast/zapcast/utils"
	"gorm.io/gorm"
)

// ChannelStatus mirrors the provider's connectivity state for a chip
type ChannelStatus string

const (
	ChannelStatusConnected    ChannelStatus = "connected"
	ChannelStatusDisconnected ChannelStatus = "disconnected"
	ChannelStatusPending      ChannelStatus = "pending"
)

// Valid checks if the status is valid
func (s ChannelStatus) Valid() bool {
	switch s {
	case ChannelStatusConnected, ChannelStatusDisconnected, ChannelStatusPending:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for ChannelStatus
func (s *ChannelStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*s = ChannelStatus(v)
	case string:
		*s = ChannelStatus(v)
	default:
		return fmt.Errorf("cannot scan %T into ChannelStatus", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for ChannelStatus
func (s ChannelStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// Channel is a named outbound sending identity (a connected chip) through
// which messages are transmitted
type Channel struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	UUID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_channels_uuid" json:"uuid"`
	TenantID uint      `gorm:"not null;index:idx_channels_tenant_id" json:"tenant_id"`
	Name     string    `gorm:"size:128;not null" json:"name"`
	// Address is the provider-side identity (the chip's phone number)
	Address string `gorm:"size:32;not null;index:idx_channels_address" json:"address"`

	Status ChannelStatus `gorm:"type:channel_status;not null;default:'pending';index:idx_channels_status" json:"status"`
	// Decommissioned channels are excluded from selection; their ledger
	// bindings get rebound in bulk (see ChannelAssignment).
	Decommissioned bool       `gorm:"not null;default:false" json:"decommissioned"`
	LastCheckedAt  *time.Time `json:"last_checked_at,omitempty"`

	CreatedAt time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// TableName returns the table name for the model
func (Channel) TableName() string {
	return "channels"
}

// BeforeCreate is called before creating a new record
func (c *Channel) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	if c.Status == "" {
		c.Status = ChannelStatusPending
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (c *Channel) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	c.UpdatedAt = &now
	return nil
}

// ChannelFilter represents filter criteria for channels
type ChannelFilter struct {
	ID             *uint          `json:"id,omitempty"`
	TenantID       *uint          `json:"tenant_id,omitempty"`
	Status         *ChannelStatus `json:"status,omitempty"`
	Decommissioned *bool          `json:"decommissioned,omitempty"`
}
