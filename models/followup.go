package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/zapcast/zapcast/utils"
	"gorm.io/gorm"
)

// FollowUpStopReason records why a drip was deactivated
type FollowUpStopReason string

const (
	FollowUpStopReplied       FollowUpStopReason = "replied"
	FollowUpStopFlowCompleted FollowUpStopReason = "flow_completed"
	FollowUpStopManual        FollowUpStopReason = "manual"
)

// Scan implements the sql.Scanner interface for FollowUpStopReason
func (r *FollowUpStopReason) Scan(value any) error {
	if value == nil {
		*r = ""
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*r = FollowUpStopReason(v)
	case string:
		*r = FollowUpStopReason(v)
	default:
		return fmt.Errorf("cannot scan %T into FollowUpStopReason", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for FollowUpStopReason
func (r FollowUpStopReason) Value() (driver.Value, error) {
	return string(r), nil
}

// FollowUpFlow is a secondary multi-step drip sequence for recipients who did
// not respond to the main campaign. Immutable once active and in use.
type FollowUpFlow struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	CampaignID uint   `gorm:"not null;uniqueIndex:uk_follow_up_flows_campaign_id" json:"campaign_id"`
	Name       string `gorm:"size:255;not null" json:"name"`
	Active     bool   `gorm:"not null;default:true" json:"active"`

	CreatedAt time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`

	// Relations
	Steps []FollowUpStep `gorm:"foreignKey:FlowID" json:"steps,omitempty"`
}

// TableName returns the table name for the model
func (FollowUpFlow) TableName() string {
	return "follow_up_flows"
}

// BeforeCreate is called before creating a new record
func (f *FollowUpFlow) BeforeCreate(tx *gorm.DB) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = utils.UTCNow()
	}
	return nil
}

// FollowUpStep is one ordered step of a flow. DaysAfterPrevious is the offset
// from the previous send (or from the stage-1 send for the first step).
type FollowUpStep struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	FlowID            uint           `gorm:"not null;index:idx_follow_up_steps_flow_id;uniqueIndex:uk_follow_up_steps_flow_order" json:"flow_id"`
	StepOrder         int            `gorm:"not null;uniqueIndex:uk_follow_up_steps_flow_order" json:"step_order"`
	DaysAfterPrevious int            `gorm:"not null" json:"days_after_previous"`
	Text              string         `gorm:"type:text;not null" json:"text"`
	Attachments       AttachmentList `gorm:"type:jsonb;not null;default:'[]'" json:"attachments"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
}

// TableName returns the table name for the model
func (FollowUpStep) TableName() string {
	return "follow_up_steps"
}

// Offset returns the step offset as a duration
func (s FollowUpStep) Offset() time.Duration {
	return time.Duration(s.DaysAfterPrevious) * 24 * time.Hour
}

// FollowUpContactStatus tracks one recipient's progress through a flow
type FollowUpContactStatus struct {
	ID        uint `gorm:"primaryKey" json:"id"`
	FlowID    uint `gorm:"not null;index:idx_fu_contact_statuses_flow_id" json:"flow_id"`
	ContactID uint `gorm:"not null;index:idx_fu_contact_statuses_contact_id" json:"contact_id"`

	// CurrentStep is the zero-based index of the next step to send
	CurrentStep int        `gorm:"not null;default:0" json:"current_step"`
	IsActive    bool       `gorm:"not null;default:true;index:idx_fu_contact_statuses_active_next_fire" json:"is_active"`
	NextFireAt  time.Time  `gorm:"not null;index:idx_fu_contact_statuses_active_next_fire" json:"next_fire_at"`
	LastSentAt  *time.Time `json:"last_sent_at,omitempty"`

	StopReason *FollowUpStopReason `gorm:"type:text" json:"stop_reason,omitempty"`
	StoppedAt  *time.Time          `json:"stopped_at,omitempty"`

	CreatedAt time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// TableName returns the table name for the model
func (FollowUpContactStatus) TableName() string {
	return "follow_up_contact_statuses"
}

// BeforeCreate is called before creating a new record
func (s *FollowUpContactStatus) BeforeCreate(tx *gorm.DB) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (s *FollowUpContactStatus) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	s.UpdatedAt = &now
	return nil
}

// Deactivate stops the drip with the given reason
func (s *FollowUpContactStatus) Deactivate(reason FollowUpStopReason, at time.Time) {
	s.IsActive = false
	s.StopReason = &reason
	s.StoppedAt = &at
}

// FollowUpContactStatusFilter represents filter criteria for contact statuses
type FollowUpContactStatusFilter struct {
	FlowID    *uint `json:"flow_id,omitempty"`
	ContactID *uint `json:"contact_id,omitempty"`
	IsActive  *bool `json:"is_active,omitempty"`
}
