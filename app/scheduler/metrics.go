package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zapcast_messages_sent_total",
			Help: "Outbound messages sent, partitioned by kind",
		},
		[]string{"kind"},
	)

	messagesFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zapcast_messages_failed_total",
			Help: "Outbound message send failures, partitioned by error kind",
		},
		[]string{"error_kind"},
	)

	campaignsPausedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zapcast_campaigns_paused_total",
			Help: "Campaign pauses, partitioned by reason",
		},
		[]string{"reason"},
	)

	campaignsCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zapcast_campaigns_completed_total",
			Help: "Campaigns that ran out of pending messages",
		},
	)

	followUpsFiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zapcast_followups_fired_total",
			Help: "Follow-up drip messages sent",
		},
	)

	channelInconsistencyTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zapcast_channel_inconsistency_warnings_total",
			Help: "Sends whose bound channel was outside the campaign's configured set",
		},
	)

	channelStatusChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zapcast_channel_status_changes_total",
			Help: "Channel status transitions observed by the health monitor",
		},
		[]string{"to"},
	)
)
