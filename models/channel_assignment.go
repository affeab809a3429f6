package models

import (
	"time"

	"github.com/zapcast/zapcast/utils"
	"gorm.io/gorm"
)

// ChannelConsistency is the result of the per-recipient single-channel check
type ChannelConsistency string

const (
	ChannelConsistencyConsistent   ChannelConsistency = "consistent"
	ChannelConsistencyInconsistent ChannelConsistency = "inconsistent"
)

// ChannelAssignment is the official-channel ledger: once a recipient has been
// contacted through a chip, every later send prefers that same chip across
// all campaigns. A nil ChannelID means the recipient was explicitly unbound
// (for example after a chip decommission with no replacement).
type ChannelAssignment struct {
	ID        uint  `gorm:"primaryKey" json:"id"`
	ContactID uint  `gorm:"not null;uniqueIndex:uk_channel_assignments_contact_id" json:"contact_id"`
	ChannelID *uint `gorm:"index:idx_channel_assignments_channel_id" json:"channel_id,omitempty"`

	AssignedAt time.Time `gorm:"not null" json:"assigned_at"`
	// RebindCount tracks administrative rebinds for auditability
	RebindCount int `gorm:"not null;default:0" json:"rebind_count"`

	CreatedAt time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// TableName returns the table name for the model
func (ChannelAssignment) TableName() string {
	return "channel_assignments"
}

// BeforeCreate is called before creating a new record
func (a *ChannelAssignment) BeforeCreate(tx *gorm.DB) error {
	if a.AssignedAt.IsZero() {
		a.AssignedAt = utils.UTCNow()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (a *ChannelAssignment) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	a.UpdatedAt = &now
	return nil
}

// ChannelAssignmentFilter represents filter criteria for the ledger
type ChannelAssignmentFilter struct {
	ContactID *uint `json:"contact_id,omitempty"`
	ChannelID *uint `json:"channel_id,omitempty"`
}
