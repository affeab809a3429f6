package handlers

import (
	"context"
	"errors"
	"log"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/zapcast/zapcast/app/dto"
	"github.com/zapcast/zapcast/app/middleware"
	businessflow "github.com/zapcast/zapcast/business_flow"
)

// CampaignHandlerInterface defines the contract for campaign handlers
type CampaignHandlerInterface interface {
	CreateCampaign(c fiber.Ctx) error
	CompileCampaign(c fiber.Ctx) error
	StartCampaign(c fiber.Ctx) error
	PauseCampaign(c fiber.Ctx) error
	ResumeCampaign(c fiber.Ctx) error
	CancelCampaign(c fiber.Ctx) error
	ResumeAfterReconnection(c fiber.Ctx) error
	CampaignProgress(c fiber.Ctx) error
	ListCampaigns(c fiber.Ctx) error
}

// CampaignHandler handles campaign-related HTTP requests
type CampaignHandler struct {
	controlFlow businessflow.CampaignControlFlow
	compileFlow businessflow.CompileFlow
	validator   *validator.Validate
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(controlFlow businessflow.CampaignControlFlow, compileFlow businessflow.CompileFlow) *CampaignHandler {
	return &CampaignHandler{
		controlFlow: controlFlow,
		compileFlow: compileFlow,
		validator:   validator.New(),
	}
}

func (h *CampaignHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *CampaignHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// CreateCampaign handles the campaign creation process
func (h *CampaignHandler) CreateCampaign(c fiber.Ctx) error {
	var req dto.CreateCampaignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	req.TenantID = middleware.TenantID(c)

	result, err := h.controlFlow.Create(requestContext(c, "/api/v1/campaigns"), &req, metadata)
	if err != nil {
		return h.businessErrorResponse(c, err, "Campaign creation failed", "CAMPAIGN_CREATION_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Campaign created successfully", result)
}

// CompileCampaign expands the campaign into its message plan and activates it
func (h *CampaignHandler) CompileCampaign(c fiber.Ctx) error {
	campaignUUID := c.Params("uuid")
	if campaignUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign UUID is required", "MISSING_CAMPAIGN_UUID", nil)
	}

	req := dto.CompileCampaignRequest{
		UUID:     campaignUUID,
		TenantID: middleware.TenantID(c),
	}
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.compileFlow.Compile(requestContext(c, "/api/v1/campaigns/"+campaignUUID+"/compile"), &req, metadata)
	if err != nil {
		return h.businessErrorResponse(c, err, "Campaign compilation failed", "CAMPAIGN_COMPILE_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign compiled successfully", result)
}

// StartCampaign compiles the campaign when needed and moves it to running
func (h *CampaignHandler) StartCampaign(c fiber.Ctx) error {
	return h.lifecycleAction(c, "start", h.controlFlow.Start)
}

// PauseCampaign pauses a running campaign manually
func (h *CampaignHandler) PauseCampaign(c fiber.Ctx) error {
	return h.lifecycleAction(c, "pause", h.controlFlow.Pause)
}

// ResumeCampaign resumes a manually or cycle-paused campaign
func (h *CampaignHandler) ResumeCampaign(c fiber.Ctx) error {
	return h.lifecycleAction(c, "resume", h.controlFlow.Resume)
}

// CancelCampaign terminally cancels a campaign
func (h *CampaignHandler) CancelCampaign(c fiber.Ctx) error {
	return h.lifecycleAction(c, "cancel", h.controlFlow.Cancel)
}

func (h *CampaignHandler) lifecycleAction(
	c fiber.Ctx,
	action string,
	fn func(ctx context.Context, req *dto.CampaignActionRequest, metadata *businessflow.ClientMetadata) (*dto.CampaignActionResponse, error),
) error {
	campaignUUID := c.Params("uuid")
	if campaignUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign UUID is required", "MISSING_CAMPAIGN_UUID", nil)
	}

	req := dto.CampaignActionRequest{
		UUID:     campaignUUID,
		TenantID: middleware.TenantID(c),
	}
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := fn(requestContext(c, "/api/v1/campaigns/"+campaignUUID+"/"+action), &req, metadata)
	if err != nil {
		return h.businessErrorResponse(c, err, "Campaign "+action+" failed", "CAMPAIGN_ACTION_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign "+action+" succeeded", result)
}

// ResumeAfterReconnection resets failed sends and resumes after a chip recovery
func (h *CampaignHandler) ResumeAfterReconnection(c fiber.Ctx) error {
	campaignUUID := c.Params("uuid")
	if campaignUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign UUID is required", "MISSING_CAMPAIGN_UUID", nil)
	}

	req := dto.CampaignActionRequest{
		UUID:     campaignUUID,
		TenantID: middleware.TenantID(c),
	}
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.controlFlow.ResumeAfterReconnection(requestContext(c, "/api/v1/campaigns/"+campaignUUID+"/resume-after-reconnection"), &req, metadata)
	if err != nil {
		return h.businessErrorResponse(c, err, "Campaign recovery failed", "CAMPAIGN_RECOVERY_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign recovery succeeded", result)
}

// CampaignProgress returns aggregate counters for one campaign
func (h *CampaignHandler) CampaignProgress(c fiber.Ctx) error {
	campaignUUID := c.Params("uuid")
	if campaignUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign UUID is required", "MISSING_CAMPAIGN_UUID", nil)
	}

	req := dto.CampaignProgressRequest{
		UUID:     campaignUUID,
		TenantID: middleware.TenantID(c),
	}

	result, err := h.controlFlow.Progress(requestContext(c, "/api/v1/campaigns/"+campaignUUID+"/progress"), &req)
	if err != nil {
		return h.businessErrorResponse(c, err, "Campaign progress lookup failed", "CAMPAIGN_PROGRESS_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaign progress retrieved", result)
}

// ListCampaigns returns a paginated campaign listing for the tenant
func (h *CampaignHandler) ListCampaigns(c fiber.Ctx) error {
	req := dto.ListCampaignsRequest{
		TenantID: middleware.TenantID(c),
	}
	if v := c.Query("page"); v != "" {
		if page, err := strconv.Atoi(v); err == nil {
			req.Page = page
		}
	}
	if v := c.Query("page_size"); v != "" {
		if pageSize, err := strconv.Atoi(v); err == nil {
			req.PageSize = pageSize
		}
	}
	if status := c.Query("status"); status != "" {
		req.Status = &status
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	result, err := h.controlFlow.List(requestContext(c, "/api/v1/campaigns"), &req)
	if err != nil {
		return h.businessErrorResponse(c, err, "Campaign listing failed", "CAMPAIGN_LIST_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Campaigns retrieved", result)
}

// businessErrorResponse maps business errors onto HTTP statuses
func (h *CampaignHandler) businessErrorResponse(c fiber.Ctx, err error, fallbackMessage, fallbackCode string) error {
	switch {
	case businessflow.IsCampaignNotFound(err):
		return h.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", "CAMPAIGN_NOT_FOUND", nil)
	case errors.Is(err, businessflow.ErrCampaignAccessDenied):
		return h.ErrorResponse(c, fiber.StatusForbidden, "Campaign access denied", "CAMPAIGN_ACCESS_DENIED", nil)
	case businessflow.IsCampaignAlreadyCompiled(err):
		return h.ErrorResponse(c, fiber.StatusConflict, "Campaign already compiled", "CAMPAIGN_ALREADY_COMPILED", nil)
	case businessflow.IsInvalidStatusTransition(err):
		return h.ErrorResponse(c, fiber.StatusConflict, "Invalid campaign status transition", "INVALID_STATUS_TRANSITION", nil)
	case errors.Is(err, businessflow.ErrResumeRequiresRecovery):
		return h.ErrorResponse(c, fiber.StatusConflict, "Campaign was paused by a chip disconnection; use resume-after-reconnection", "RESUME_REQUIRES_RECOVERY", nil)
	case errors.Is(err, businessflow.ErrListEmpty):
		return h.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Contact list is empty", "LIST_EMPTY", nil)
	}

	var bizErr *businessflow.BusinessError
	if errors.As(err, &bizErr) && bizErr.Code == "VALIDATION_ERROR" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, bizErr.Message, bizErr.Code, nil)
	}

	log.Println(fallbackMessage, err)
	return h.ErrorResponse(c, fiber.StatusInternalServerError, fallbackMessage, fallbackCode, nil)
}
