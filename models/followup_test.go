package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFollowUpStepOffset(t *testing.T) {
	assert.Equal(t, 24*time.Hour, FollowUpStep{DaysAfterPrevious: 1}.Offset())
	assert.Equal(t, 7*24*time.Hour, FollowUpStep{DaysAfterPrevious: 7}.Offset())
	assert.Equal(t, time.Duration(0), FollowUpStep{}.Offset())
}

func TestFollowUpContactStatusDeactivate(t *testing.T) {
	status := &FollowUpContactStatus{IsActive: true, CurrentStep: 2}
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	status.Deactivate(FollowUpStopReplied, at)

	assert.False(t, status.IsActive)
	assert.NotNil(t, status.StopReason)
	assert.Equal(t, FollowUpStopReplied, *status.StopReason)
	assert.NotNil(t, status.StoppedAt)
	assert.True(t, status.StoppedAt.Equal(at))
	// the step counter is preserved for auditability
	assert.Equal(t, 2, status.CurrentStep)
}

func TestOutboundMessageIsFollowUp(t *testing.T) {
	step := 2
	assert.True(t, (&OutboundMessage{Stage: 0, FollowUpStep: &step}).IsFollowUp())
	assert.False(t, (&OutboundMessage{Stage: 1}).IsFollowUp())
}

func TestMessageStatusValid(t *testing.T) {
	for _, s := range []MessageStatus{MessageStatusPending, MessageStatusSending, MessageStatusSent, MessageStatusFailed} {
		assert.True(t, s.Valid())
	}
	assert.False(t, MessageStatus("queued").Valid())
}
