package handlers

import (
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/zapcast/zapcast/app/dto"
	businessflow "github.com/zapcast/zapcast/business_flow"
)

// InboundHandlerInterface defines the contract for inbound event handlers
type InboundHandlerInterface interface {
	HandleInboundEvent(c fiber.Ctx) error
}

// InboundHandler is the webhook fallback for provider inbound events when
// the AMQP bridge is not in use.
type InboundHandler struct {
	inboundFlow businessflow.InboundFlow
	validator   *validator.Validate
}

// NewInboundHandler creates a new inbound handler
func NewInboundHandler(inboundFlow businessflow.InboundFlow) *InboundHandler {
	return &InboundHandler{
		inboundFlow: inboundFlow,
		validator:   validator.New(),
	}
}

func (h *InboundHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *InboundHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// HandleInboundEvent correlates one provider inbound-message event
func (h *InboundHandler) HandleInboundEvent(c fiber.Ctx) error {
	var req dto.InboundEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	result, err := h.inboundFlow.HandleInbound(requestContext(c, "/api/v1/inbound"), &req)
	if err != nil {
		log.Println("Inbound event handling failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Inbound event handling failed", "INBOUND_HANDLING_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Inbound event processed", result)
}
