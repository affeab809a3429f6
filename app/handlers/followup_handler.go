package handlers

import (
	"errors"
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/zapcast/zapcast/app/dto"
	"github.com/zapcast/zapcast/app/middleware"
	businessflow "github.com/zapcast/zapcast/business_flow"
)

// FollowUpHandlerInterface defines the contract for follow-up handlers
type FollowUpHandlerInterface interface {
	CreateFollowUpFlow(c fiber.Ctx) error
	InitializeFollowUps(c fiber.Ctx) error
}

// FollowUpHandler handles follow-up flow HTTP requests
type FollowUpHandler struct {
	followUpFlow businessflow.FollowUpFlow
	validator    *validator.Validate
}

// NewFollowUpHandler creates a new follow-up handler
func NewFollowUpHandler(followUpFlow businessflow.FollowUpFlow) *FollowUpHandler {
	return &FollowUpHandler{
		followUpFlow: followUpFlow,
		validator:    validator.New(),
	}
}

func (h *FollowUpHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *FollowUpHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// CreateFollowUpFlow attaches a drip flow to a campaign
func (h *FollowUpHandler) CreateFollowUpFlow(c fiber.Ctx) error {
	campaignUUID := c.Params("uuid")
	if campaignUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign UUID is required", "MISSING_CAMPAIGN_UUID", nil)
	}

	var req dto.CreateFollowUpFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}
	req.CampaignUUID = campaignUUID
	req.TenantID = middleware.TenantID(c)

	result, err := h.followUpFlow.CreateFlow(requestContext(c, "/api/v1/campaigns/"+campaignUUID+"/follow-up-flow"), &req)
	if err != nil {
		return h.followUpErrorResponse(c, err, "Follow-up flow creation failed", "FOLLOWUP_FLOW_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Follow-up flow created", result)
}

// InitializeFollowUps bulk-creates drip records for a campaign's sent recipients
func (h *FollowUpHandler) InitializeFollowUps(c fiber.Ctx) error {
	campaignUUID := c.Params("uuid")
	if campaignUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign UUID is required", "MISSING_CAMPAIGN_UUID", nil)
	}

	req := dto.InitFollowUpsRequest{
		UUID:     campaignUUID,
		TenantID: middleware.TenantID(c),
	}

	result, err := h.followUpFlow.InitializeForCampaign(requestContext(c, "/api/v1/campaigns/"+campaignUUID+"/follow-ups/initialize"), &req)
	if err != nil {
		return h.followUpErrorResponse(c, err, "Follow-up initialization failed", "FOLLOWUP_INIT_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Follow-up initialization complete", result)
}

func (h *FollowUpHandler) followUpErrorResponse(c fiber.Ctx, err error, fallbackMessage, fallbackCode string) error {
	switch {
	case businessflow.IsCampaignNotFound(err):
		return h.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", "CAMPAIGN_NOT_FOUND", nil)
	case errors.Is(err, businessflow.ErrCampaignAccessDenied):
		return h.ErrorResponse(c, fiber.StatusForbidden, "Campaign access denied", "CAMPAIGN_ACCESS_DENIED", nil)
	case businessflow.IsFollowUpFlowNotFound(err):
		return h.ErrorResponse(c, fiber.StatusNotFound, "Follow-up flow not found", "FOLLOWUP_FLOW_NOT_FOUND", nil)
	case errors.Is(err, businessflow.ErrFollowUpFlowInactive):
		return h.ErrorResponse(c, fiber.StatusConflict, "Follow-up flow is inactive", "FOLLOWUP_FLOW_INACTIVE", nil)
	}

	var bizErr *businessflow.BusinessError
	if errors.As(err, &bizErr) && bizErr.Code == "VALIDATION_ERROR" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, bizErr.Message, bizErr.Code, nil)
	}

	log.Println(fallbackMessage, err)
	return h.ErrorResponse(c, fiber.StatusInternalServerError, fallbackMessage, fallbackCode, nil)
}
