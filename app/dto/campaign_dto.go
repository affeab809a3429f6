package dto

import (
	"time"

	"github.com/zapcast/zapcast/models"
)

// CreateCampaignRequest represents the request to create a new campaign
type CreateCampaignRequest struct {
	TenantID uint                `json:"-"`
	Title    string              `json:"title" validate:"required,max=255"`
	ListID   uint                `json:"list_id" validate:"required"`
	Mode     string              `json:"mode" validate:"required,oneof=simple interactive"`
	Spec     models.CampaignSpec `json:"spec" validate:"required"`
}

// CreateCampaignResponse represents the response to create a new campaign
type CreateCampaignResponse struct {
	Message   string `json:"message"`
	UUID      string `json:"uuid"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// CompileCampaignRequest represents the request to compile a campaign's
// message plan
type CompileCampaignRequest struct {
	UUID     string `json:"-"`
	TenantID uint   `json:"-"`
}

// CompileCampaignResponse represents the outcome of compilation
type CompileCampaignResponse struct {
	Message          string `json:"message"`
	UUID             string `json:"uuid"`
	Status           string `json:"status"`
	MessagesPlanned  int    `json:"messages_planned"`
	Recipients       int    `json:"recipients"`
	ConversationRows int    `json:"conversation_rows"`
}

// CampaignActionRequest covers start/pause/resume/cancel commands
type CampaignActionRequest struct {
	UUID     string `json:"-"`
	TenantID uint   `json:"-"`
}

// CampaignActionResponse represents the outcome of a lifecycle command
type CampaignActionResponse struct {
	Message string `json:"message"`
	UUID    string `json:"uuid"`
	Status  string `json:"status"`
}

// ResumeAfterReconnectionResponse reports the recovery outcome
type ResumeAfterReconnectionResponse struct {
	Message       string `json:"message"`
	UUID          string `json:"uuid"`
	Status        string `json:"status"`
	MessagesReset int64  `json:"messages_reset"`
}

// CampaignProgressRequest represents the request for campaign progress
type CampaignProgressRequest struct {
	UUID     string `json:"-"`
	TenantID uint   `json:"-"`
}

// ConversationBreakdown is the per-stage recipient count for interactive
// campaigns
type ConversationBreakdown struct {
	WaitingStage1      int64 `json:"waiting_stage1"`
	WaitingStage1Reply int64 `json:"waiting_stage1_reply"`
	WaitingStage2      int64 `json:"waiting_stage2"`
	WaitingStage2Reply int64 `json:"waiting_stage2_reply"`
	HandedToFollowUp   int64 `json:"handed_to_followup"`
	Completed          int64 `json:"completed"`
}

// CampaignProgressResponse represents aggregate campaign counters
type CampaignProgressResponse struct {
	UUID          string                 `json:"uuid"`
	Title         string                 `json:"title"`
	Status        string                 `json:"status"`
	Mode          string                 `json:"mode"`
	PauseReason   *string                `json:"pause_reason,omitempty"`
	PausedUntil   *time.Time             `json:"paused_until,omitempty"`
	TotalPlanned  int                    `json:"total_planned"`
	TotalSent     int                    `json:"total_sent"`
	TotalFailed   int                    `json:"total_failed"`
	Pending       int64                  `json:"pending"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
	Conversations *ConversationBreakdown `json:"conversations,omitempty"`
}

// ListCampaignsRequest represents the request to list campaigns
type ListCampaignsRequest struct {
	TenantID uint    `json:"-"`
	Status   *string `json:"status,omitempty" validate:"omitempty,oneof=draft scheduled running paused completed cancelled"`
	Page     int     `json:"page" validate:"omitempty,min=1"`
	PageSize int     `json:"page_size" validate:"omitempty,min=1,max=100"`
}

// CampaignSummaryDTO is one row of a campaign listing
type CampaignSummaryDTO struct {
	UUID         string     `json:"uuid"`
	Title        string     `json:"title"`
	Status       string     `json:"status"`
	Mode         string     `json:"mode"`
	TotalPlanned int        `json:"total_planned"`
	TotalSent    int        `json:"total_sent"`
	TotalFailed  int        `json:"total_failed"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
}

// ListCampaignsResponse represents the campaign listing
type ListCampaignsResponse struct {
	Items []CampaignSummaryDTO `json:"items"`
	Total int64                `json:"total"`
	Page  int                  `json:"page"`
}
