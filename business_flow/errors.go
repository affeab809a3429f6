// Package businessflow contains the core business logic for campaign compilation,
// dispatch, conversation tracking, follow-up drips, and inbound correlation.
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Campaign-related errors
	ErrCampaignNotFound         = errors.New("campaign not found")
	ErrCampaignAccessDenied     = errors.New("campaign access denied")
	ErrCampaignNotDraft         = errors.New("campaign is not in draft state")
	ErrCampaignAlreadyCompiled  = errors.New("campaign already compiled")
	ErrCampaignNotRunning       = errors.New("campaign is not running")
	ErrCampaignNotPaused        = errors.New("campaign is not paused")
	ErrResumeRequiresRecovery   = errors.New("disconnection pause requires resume-after-reconnection")
	ErrCampaignTerminal         = errors.New("campaign is in a terminal state")
	ErrInvalidStatusTransition  = errors.New("invalid campaign status transition")
	ErrCampaignTitleRequired    = errors.New("campaign title is required")
	ErrCampaignChannelsRequired = errors.New("campaign requires at least one channel")
	ErrCampaignVariantsRequired = errors.New("campaign requires at least one message variant")
	ErrIntervalRangeInvalid     = errors.New("minimum interval must not exceed maximum interval")
	ErrCampaignUUIDRequired     = errors.New("campaign UUID is required")
	ErrListEmpty                = errors.New("contact list is empty")

	// Channel-related errors
	ErrChannelNotFound       = errors.New("channel not found")
	ErrChannelDecommissioned = errors.New("channel is decommissioned")
	ErrNoChannelAvailable    = errors.New("no connected channel available")

	// Conversation-related errors
	ErrConversationNotFound = errors.New("conversation state not found")
	ErrUnexpectedReply      = errors.New("reply arrived in an unexpected conversation stage")
	ErrStaleReply           = errors.New("reply predates the conversation start")

	// Follow-up errors
	ErrFollowUpFlowNotFound = errors.New("follow-up flow not found")
	ErrFollowUpFlowInactive = errors.New("follow-up flow is inactive")
	ErrFollowUpStepsEmpty   = errors.New("follow-up flow has no steps")

	// Inbound errors
	ErrContactNotFound       = errors.New("contact not found")
	ErrInboundTextRequired   = errors.New("inbound message text is required")
	ErrInboundSenderRequired = errors.New("inbound sender address is required")

	// Filter errors
	ErrInvalidPage           = errors.New("page must be at least 1")
	ErrInvalidPageSize       = errors.New("page size must be between 1 and 100")
	ErrStartDateAfterEndDate = errors.New("start date cannot be after end date")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsCampaignNotFound(err error) bool {
	return errors.Is(err, ErrCampaignNotFound)
}

func IsCampaignAlreadyCompiled(err error) bool {
	return errors.Is(err, ErrCampaignAlreadyCompiled)
}

func IsInvalidStatusTransition(err error) bool {
	return errors.Is(err, ErrInvalidStatusTransition)
}

func IsChannelNotFound(err error) bool {
	return errors.Is(err, ErrChannelNotFound)
}

func IsUnexpectedReply(err error) bool {
	return errors.Is(err, ErrUnexpectedReply)
}

func IsStaleReply(err error) bool {
	return errors.Is(err, ErrStaleReply)
}

func IsFollowUpFlowNotFound(err error) bool {
	return errors.Is(err, ErrFollowUpFlowNotFound)
}

func IsContactNotFound(err error) bool {
	return errors.Is(err, ErrContactNotFound)
}
