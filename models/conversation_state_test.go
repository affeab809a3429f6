package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConversationStageCanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    ConversationStage
		to      ConversationStage
		allowed bool
	}{
		{"stage1 send", ConversationWaitingStage1, ConversationWaitingStage1Reply, true},
		{"stage1 cannot skip to stage2", ConversationWaitingStage1, ConversationWaitingStage2, false},
		{"stage1 reply", ConversationWaitingStage1Reply, ConversationWaitingStage2, true},
		{"stage1 reply handoff", ConversationWaitingStage1Reply, ConversationHandedToFollowUp, true},
		{"stage1 reply cannot complete", ConversationWaitingStage1Reply, ConversationCompleted, false},
		{"stage2 send", ConversationWaitingStage2, ConversationWaitingStage2Reply, true},
		{"stage2 cannot regress", ConversationWaitingStage2, ConversationWaitingStage1, false},
		{"stage2 reply completes", ConversationWaitingStage2Reply, ConversationCompleted, true},
		{"stage2 reply handoff", ConversationWaitingStage2Reply, ConversationHandedToFollowUp, true},
		{"completed is terminal", ConversationCompleted, ConversationWaitingStage1, false},
		{"handed off is terminal", ConversationHandedToFollowUp, ConversationWaitingStage2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestConversationStageIsTerminal(t *testing.T) {
	assert.True(t, ConversationCompleted.IsTerminal())
	assert.True(t, ConversationHandedToFollowUp.IsTerminal())
	assert.False(t, ConversationWaitingStage1.IsTerminal())
	assert.False(t, ConversationWaitingStage2Reply.IsTerminal())
}

func TestConversationStartedAt(t *testing.T) {
	state := &ConversationState{}
	assert.Nil(t, state.ConversationStartedAt())

	sentAt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	state.Stage1SentAt = &sentAt
	got := state.ConversationStartedAt()
	assert.NotNil(t, got)
	assert.True(t, got.Equal(sentAt))
}
