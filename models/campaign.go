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

// CampaignStatus represents the lifecycle status of a campaign
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// String returns the string representation of the status
func (s CampaignStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusScheduled, CampaignStatusRunning,
		CampaignStatusPaused, CampaignStatusCompleted, CampaignStatusCancelled:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for CampaignStatus
func (s *CampaignStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*s = CampaignStatus(v)
	case string:
		*s = CampaignStatus(v)
	default:
		return fmt.Errorf("cannot scan %T into CampaignStatus", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for CampaignStatus
func (s CampaignStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// CampaignMode distinguishes direct two-stage sequences from reply-gated ones
type CampaignMode string

const (
	// CampaignModeSimple sends every planned stage without waiting for replies
	CampaignModeSimple CampaignMode = "simple"
	// CampaignModeInteractive gates stage-2 on a reply to stage-1
	CampaignModeInteractive CampaignMode = "interactive"
)

// Valid checks if the mode is valid
func (m CampaignMode) Valid() bool {
	return m == CampaignModeSimple || m == CampaignModeInteractive
}

// PauseReason distinguishes the causes that can put a campaign into
// CampaignStatusPaused. The cycle auto-resume timer only ever resumes
// PauseReasonMessageCycle; a disconnection or manual pause stays paused
// until an operator intervenes.
type PauseReason string

const (
	PauseReasonMessageCycle     PauseReason = "message_cycle"
	PauseReasonChipDisconnected PauseReason = "chip_disconnected"
	PauseReasonManual           PauseReason = "manual"
)

// MessageTemplate is one variant of a stage message as authored by the
// operator. Attachment (legacy, single) and Attachments (modern, list) are
// both accepted on input; the compiler normalizes them into one canonical
// Attachment list and nothing downstream ever branches on the shape again.
type MessageTemplate struct {
	Text        string       `json:"text"`
	Attachment  *Attachment  `json:"attachment,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// NormalizedAttachments collapses the legacy single-attachment field and the
// modern list into one canonical list. The legacy field comes first.
func (t MessageTemplate) NormalizedAttachments() AttachmentList {
	out := make(AttachmentList, 0, len(t.Attachments)+1)
	if t.Attachment != nil {
		out = append(out, *t.Attachment)
	}
	out = append(out, t.Attachments...)
	return out
}

// CampaignSpec holds the pacing and content configuration of a campaign,
// stored as a jsonb column
type CampaignSpec struct {
	// Pacing: a randomized delay in [MinIntervalSeconds, MaxIntervalSeconds]
	// elapses between consecutive sends of one campaign.
	MinIntervalSeconds int `json:"min_interval_seconds"`
	MaxIntervalSeconds int `json:"max_interval_seconds"`

	// After PauseAfterMessages successful sends the campaign rests for
	// PauseDurationSeconds and then auto-resumes. Zero disables the cycle.
	PauseAfterMessages   int `json:"pause_after_messages,omitempty"`
	PauseDurationSeconds int `json:"pause_duration_seconds,omitempty"`

	// Delivery window. Hours are half-open [start, end) in the campaign's
	// local day; an empty weekday list means every day is allowed.
	AllowedHourStart int   `json:"allowed_hour_start"`
	AllowedHourEnd   int   `json:"allowed_hour_end"`
	AllowedWeekdays  []int `json:"allowed_weekdays,omitempty"`

	// Channels (chips) configured for this campaign.
	ChannelIDs []uint `json:"channel_ids"`

	// Message content per stage; one variant is chosen uniformly at random
	// per recipient per stage.
	Stage1Variants []MessageTemplate `json:"stage1_variants"`
	Stage2Variants []MessageTemplate `json:"stage2_variants,omitempty"`
}

// Value implements the driver.Valuer interface for CampaignSpec
func (s CampaignSpec) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements the sql.Scanner interface for CampaignSpec
func (s *CampaignSpec) Scan(value any) error {
	if value == nil {
		*s = CampaignSpec{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into CampaignSpec", value)
	}
	return json.Unmarshal(bytes, s)
}

// HasSecondStage reports whether the campaign plans a stage-2 message
func (s CampaignSpec) HasSecondStage() bool {
	return len(s.Stage2Variants) > 0
}

// AllowsTime reports whether the given instant falls inside the campaign's
// allowed hour range and weekday set.
func (s CampaignSpec) AllowsTime(t time.Time) bool {
	if s.AllowedHourEnd > s.AllowedHourStart {
		h := t.Hour()
		if h < s.AllowedHourStart || h >= s.AllowedHourEnd {
			return false
		}
	}
	if len(s.AllowedWeekdays) == 0 {
		return true
	}
	wd := int(t.Weekday())
	for _, d := range s.AllowedWeekdays {
		if d == wd {
			return true
		}
	}
	return false
}

// Campaign represents one bulk-messaging job targeting a recipient list
type Campaign struct {
	ID       uint           `gorm:"primaryKey" json:"id"`
	UUID     uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uk_campaigns_uuid" json:"uuid"`
	TenantID uint           `gorm:"not null;index:idx_campaigns_tenant_id" json:"tenant_id"`
	ListID   uint           `gorm:"not null" json:"list_id"`
	Title    string         `gorm:"size:255;not null" json:"title"`
	Status   CampaignStatus `gorm:"type:campaign_status;not null;default:'draft';index:idx_campaigns_status" json:"status"`
	Mode     CampaignMode   `gorm:"type:campaign_mode;not null;default:'simple'" json:"mode"`
	Spec     CampaignSpec   `gorm:"type:jsonb;not null" json:"spec"`

	// Pause bookkeeping. PausedUntil is only set for message-cycle pauses.
	PauseReason    *PauseReason `gorm:"type:text" json:"pause_reason,omitempty"`
	PausedUntil    *time.Time   `json:"paused_until,omitempty"`
	SentSinceCycle int          `gorm:"not null;default:0" json:"sent_since_cycle"`

	// NextDispatchAt gates the pacing jitter: the scheduler never selects a
	// message for this campaign before it.
	NextDispatchAt *time.Time `json:"next_dispatch_at,omitempty"`

	// Counters
	TotalPlanned int `gorm:"not null;default:0" json:"total_planned"`
	TotalSent    int `gorm:"not null;default:0" json:"total_sent"`
	TotalFailed  int `gorm:"not null;default:0" json:"total_failed"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_campaigns_created_at" json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`

	// Relations
	FollowUpFlow *FollowUpFlow `gorm:"foreignKey:CampaignID" json:"follow_up_flow,omitempty"`
}

// TableName returns the table name for the model
func (Campaign) TableName() string {
	return "campaigns"
}

// BeforeCreate is called before creating a new record
func (c *Campaign) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	if c.Status == "" {
		c.Status = CampaignStatusDraft
	}
	if c.Mode == "" {
		c.Mode = CampaignModeSimple
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (c *Campaign) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	c.UpdatedAt = &now
	return nil
}

// CanTransitionTo checks if the campaign can transition to the given status
func (c *Campaign) CanTransitionTo(newStatus CampaignStatus) bool {
	switch c.Status {
	case CampaignStatusDraft:
		return newStatus == CampaignStatusScheduled ||
			newStatus == CampaignStatusRunning ||
			newStatus == CampaignStatusCancelled
	case CampaignStatusScheduled:
		return newStatus == CampaignStatusRunning ||
			newStatus == CampaignStatusCancelled
	case CampaignStatusRunning:
		return newStatus == CampaignStatusPaused ||
			newStatus == CampaignStatusCompleted ||
			newStatus == CampaignStatusCancelled
	case CampaignStatusPaused:
		return newStatus == CampaignStatusRunning ||
			newStatus == CampaignStatusCancelled
	default:
		return false
	}
}

// IsTerminal reports whether no further sends can ever happen
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignStatusCompleted || c.Status == CampaignStatusCancelled
}

// CampaignFilter represents filter criteria for campaigns
type CampaignFilter struct {
	ID            *uint           `json:"id,omitempty"`
	UUID          *uuid.UUID      `json:"uuid,omitempty"`
	TenantID      *uint           `json:"tenant_id,omitempty"`
	Status        *CampaignStatus `json:"status,omitempty"`
	Mode          *CampaignMode   `json:"mode,omitempty"`
	CreatedAfter  *time.Time      `json:"created_after,omitempty"`
	CreatedBefore *time.Time      `json:"created_before,omitempty"`
}
