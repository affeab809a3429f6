package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/zapcast/zapcast/utils"
	"gorm.io/gorm"
)

// ConversationStage tracks per-recipient progress through the interactive
// two-message exchange
type ConversationStage string

const (
	ConversationWaitingStage1      ConversationStage = "waiting_stage1"
	ConversationWaitingStage1Reply ConversationStage = "waiting_stage1_reply"
	ConversationWaitingStage2      ConversationStage = "waiting_stage2"
	ConversationWaitingStage2Reply ConversationStage = "waiting_stage2_reply"
	ConversationHandedToFollowUp   ConversationStage = "handed_to_followup"
	ConversationCompleted          ConversationStage = "completed"
)

// Valid checks if the stage is valid
func (s ConversationStage) Valid() bool {
	switch s {
	case ConversationWaitingStage1, ConversationWaitingStage1Reply,
		ConversationWaitingStage2, ConversationWaitingStage2Reply,
		ConversationHandedToFollowUp, ConversationCompleted:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the conversation can no longer advance
func (s ConversationStage) IsTerminal() bool {
	return s == ConversationHandedToFollowUp || s == ConversationCompleted
}

// CanTransitionTo enforces the conversation transition table. Any event that
// does not match an allowed edge is an out-of-order event: it is recorded but
// never advances state.
func (s ConversationStage) CanTransitionTo(next ConversationStage) bool {
	switch s {
	case ConversationWaitingStage1:
		return next == ConversationWaitingStage1Reply
	case ConversationWaitingStage1Reply:
		return next == ConversationWaitingStage2 || next == ConversationHandedToFollowUp
	case ConversationWaitingStage2:
		return next == ConversationWaitingStage2Reply
	case ConversationWaitingStage2Reply:
		return next == ConversationCompleted || next == ConversationHandedToFollowUp
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for ConversationStage
func (s *ConversationStage) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*s = ConversationStage(v)
	case string:
		*s = ConversationStage(v)
	default:
		return fmt.Errorf("cannot scan %T into ConversationStage", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for ConversationStage
func (s ConversationStage) Value() (driver.Value, error) {
	return string(s), nil
}

// ConversationState exists only for interactive-mode campaigns, one row per
// (campaign, recipient)
type ConversationState struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	CampaignID uint              `gorm:"not null;uniqueIndex:uk_conversation_states_campaign_contact;index:idx_conversation_states_campaign_id" json:"campaign_id"`
	ContactID  uint              `gorm:"not null;uniqueIndex:uk_conversation_states_campaign_contact;index:idx_conversation_states_contact_id" json:"contact_id"`
	Stage      ConversationStage `gorm:"type:conversation_stage;not null;default:'waiting_stage1'" json:"stage"`

	Stage1SentAt    *time.Time `json:"stage1_sent_at,omitempty"`
	Stage1RepliedAt *time.Time `json:"stage1_replied_at,omitempty"`
	Stage2SentAt    *time.Time `json:"stage2_sent_at,omitempty"`
	Stage2RepliedAt *time.Time `json:"stage2_replied_at,omitempty"`

	CreatedAt time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// TableName returns the table name for the model
func (ConversationState) TableName() string {
	return "conversation_states"
}

// BeforeCreate is called before creating a new record
func (cs *ConversationState) BeforeCreate(tx *gorm.DB) error {
	if cs.Stage == "" {
		cs.Stage = ConversationWaitingStage1
	}
	if cs.CreatedAt.IsZero() {
		cs.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (cs *ConversationState) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	cs.UpdatedAt = &now
	return nil
}

// ConversationStartedAt is the reference instant a reply must postdate to be
// attributed to this conversation
func (cs *ConversationState) ConversationStartedAt() *time.Time {
	return cs.Stage1SentAt
}

// ConversationStateFilter represents filter criteria for conversation states
type ConversationStateFilter struct {
	CampaignID *uint              `json:"campaign_id,omitempty"`
	ContactID  *uint              `json:"contact_id,omitempty"`
	Stage      *ConversationStage `json:"stage,omitempty"`
}
