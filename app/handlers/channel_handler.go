package handlers

import (
	"errors"
	"log"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/zapcast/zapcast/app/dto"
	businessflow "github.com/zapcast/zapcast/business_flow"
	"github.com/zapcast/zapcast/repository"
)

// ChannelHandlerInterface defines the contract for channel handlers
type ChannelHandlerInterface interface {
	ListChannels(c fiber.Ctx) error
	RebindChannel(c fiber.Ctx) error
	DecommissionChannel(c fiber.Ctx) error
	ConsistencyReport(c fiber.Ctx) error
}

// ChannelHandler handles channel and ledger HTTP requests
type ChannelHandler struct {
	ledger      businessflow.ChannelLedger
	channelRepo repository.ChannelRepository
	validator   *validator.Validate
}

// NewChannelHandler creates a new channel handler
func NewChannelHandler(ledger businessflow.ChannelLedger, channelRepo repository.ChannelRepository) *ChannelHandler {
	return &ChannelHandler{
		ledger:      ledger,
		channelRepo: channelRepo,
		validator:   validator.New(),
	}
}

func (h *ChannelHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *ChannelHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ListChannels returns the non-decommissioned channels
func (h *ChannelHandler) ListChannels(c fiber.Ctx) error {
	channels, err := h.channelRepo.ListActive(requestContext(c, "/api/v1/channels"))
	if err != nil {
		log.Println("Channel listing failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Channel listing failed", "CHANNEL_LIST_FAILED", nil)
	}

	resp := dto.ListChannelsResponse{Items: make([]dto.ChannelDTO, 0, len(channels))}
	for _, channel := range channels {
		resp.Items = append(resp.Items, dto.ChannelDTO{
			ID:             channel.ID,
			UUID:           channel.UUID.String(),
			Name:           channel.Name,
			Address:        channel.Address,
			Status:         string(channel.Status),
			Decommissioned: channel.Decommissioned,
			LastCheckedAt:  channel.LastCheckedAt,
		})
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Channels retrieved", resp)
}

// RebindChannel overrides one recipient's official channel
func (h *ChannelHandler) RebindChannel(c fiber.Ctx) error {
	var req dto.RebindChannelRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	result, err := h.ledger.Rebind(requestContext(c, "/api/v1/channels/rebind"), &req)
	if err != nil {
		return h.ledgerErrorResponse(c, err, "Channel rebind failed", "CHANNEL_REBIND_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Channel rebound", result)
}

// DecommissionChannel retires a chip and rebinds its ledger entries
func (h *ChannelHandler) DecommissionChannel(c fiber.Ctx) error {
	channelID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || channelID == 0 {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Channel id is required", "MISSING_CHANNEL_ID", nil)
	}

	var req dto.DecommissionChannelRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	req.ChannelID = uint(channelID)

	result, err := h.ledger.Decommission(requestContext(c, "/api/v1/channels/"+c.Params("id")+"/decommission"), &req)
	if err != nil {
		return h.ledgerErrorResponse(c, err, "Channel decommission failed", "CHANNEL_DECOMMISSION_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Channel decommissioned", result)
}

// ConsistencyReport reports whether a recipient's sends used a single channel
func (h *ChannelHandler) ConsistencyReport(c fiber.Ctx) error {
	contactID, err := strconv.ParseUint(c.Params("contact_id"), 10, 32)
	if err != nil || contactID == 0 {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Contact id is required", "MISSING_CONTACT_ID", nil)
	}

	req := dto.ConsistencyReportRequest{ContactID: uint(contactID)}
	if v := c.Query("campaign_id"); v != "" {
		campaignID, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid campaign id", "INVALID_CAMPAIGN_ID", nil)
		}
		id := uint(campaignID)
		req.CampaignID = &id
	}

	result, err := h.ledger.ConsistencyReport(requestContext(c, "/api/v1/contacts/"+c.Params("contact_id")+"/channel-consistency"), &req)
	if err != nil {
		return h.ledgerErrorResponse(c, err, "Consistency report failed", "CONSISTENCY_REPORT_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Consistency report generated", result)
}

func (h *ChannelHandler) ledgerErrorResponse(c fiber.Ctx, err error, fallbackMessage, fallbackCode string) error {
	switch {
	case businessflow.IsChannelNotFound(err):
		return h.ErrorResponse(c, fiber.StatusNotFound, "Channel not found", "CHANNEL_NOT_FOUND", nil)
	case businessflow.IsContactNotFound(err):
		return h.ErrorResponse(c, fiber.StatusNotFound, "Contact not found", "CONTACT_NOT_FOUND", nil)
	case errors.Is(err, businessflow.ErrChannelDecommissioned):
		return h.ErrorResponse(c, fiber.StatusConflict, "Channel is decommissioned", "CHANNEL_DECOMMISSIONED", nil)
	}

	var bizErr *businessflow.BusinessError
	if errors.As(err, &bizErr) && bizErr.Code == "VALIDATION_ERROR" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, bizErr.Message, bizErr.Code, nil)
	}

	log.Println(fallbackMessage, err)
	return h.ErrorResponse(c, fiber.StatusInternalServerError, fallbackMessage, fallbackCode, nil)
}
