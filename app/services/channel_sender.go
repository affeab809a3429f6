// Package services provides external service integrations for the application
package services

import (
	"context"
	"errors"

	"github.com/zapcast/zapcast/models"
)

// Send failure classification. The dispatch scheduler pauses the whole
// campaign on ErrChannelUnavailable and marks a single message failed on
// anything else.
var (
	ErrChannelUnavailable = errors.New("channel is not connected")
	ErrSendRejected       = errors.New("provider rejected the message")
)

// ChannelSender transmits one message through one named outbound channel
// (chip) and reports the chip's connectivity state.
type ChannelSender interface {
	Send(ctx context.Context, channelID uint, recipientAddress, text string, attachments models.AttachmentList) error
	ChannelStatus(ctx context.Context, channelID uint) (models.ChannelStatus, error)
}

// ClassifySendError maps a send failure onto the persisted error kind.
func ClassifySendError(err error) models.SendErrorKind {
	if errors.Is(err, ErrChannelUnavailable) {
		return models.SendErrorChannelUnavailable
	}
	return models.SendErrorTransient
}
