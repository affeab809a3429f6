package dto

// FollowUpStepInput is one ordered step of a new follow-up flow
type FollowUpStepInput struct {
	DaysAfterPrevious int    `json:"days_after_previous" validate:"min=0"`
	Text              string `json:"text" validate:"required"`
}

// CreateFollowUpFlowRequest attaches a drip flow to a campaign
type CreateFollowUpFlowRequest struct {
	CampaignUUID string              `json:"-"`
	TenantID     uint                `json:"-"`
	Name         string              `json:"name" validate:"required,max=255"`
	Steps        []FollowUpStepInput `json:"steps" validate:"required,min=1,dive"`
}

// CreateFollowUpFlowResponse reports the created flow
type CreateFollowUpFlowResponse struct {
	Message string `json:"message"`
	FlowID  uint   `json:"flow_id"`
	Steps   int    `json:"steps"`
}
