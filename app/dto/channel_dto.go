package dto

import "time"

// RebindChannelRequest is the explicit administrative override of one
// recipient's official channel. A nil ChannelID unbinds the recipient.
type RebindChannelRequest struct {
	ContactID uint  `json:"contact_id" validate:"required"`
	ChannelID *uint `json:"channel_id,omitempty"`
}

// RebindChannelResponse reports the resulting binding
type RebindChannelResponse struct {
	Message     string    `json:"message"`
	ContactID   uint      `json:"contact_id"`
	ChannelID   *uint     `json:"channel_id,omitempty"`
	RebindCount int       `json:"rebind_count"`
	AssignedAt  time.Time `json:"assigned_at"`
}

// DecommissionChannelRequest retires a chip and rebinds its ledger entries to
// a replacement (or to unassigned when ReplacementID is nil).
type DecommissionChannelRequest struct {
	ChannelID     uint  `json:"-"`
	ReplacementID *uint `json:"replacement_id,omitempty"`
}

// DecommissionChannelResponse reports the bulk rebind outcome
type DecommissionChannelResponse struct {
	Message         string `json:"message"`
	ChannelID       uint   `json:"channel_id"`
	ContactsRebound int64  `json:"contacts_rebound"`
}

// ConsistencyReportRequest asks whether a recipient's sent messages used a
// single channel
type ConsistencyReportRequest struct {
	ContactID  uint  `json:"-"`
	CampaignID *uint `json:"-"`
}

// ConsistencyReportResponse is the per-recipient channel diagnostic
type ConsistencyReportResponse struct {
	ContactID    uint   `json:"contact_id"`
	CampaignID   *uint  `json:"campaign_id,omitempty"`
	Consistency  string `json:"consistency"`
	ChannelsUsed []uint `json:"channels_used"`
	BoundChannel *uint  `json:"bound_channel,omitempty"`
	MessagesSent int    `json:"messages_sent"`
}

// ChannelDTO is one channel row in listings
type ChannelDTO struct {
	ID             uint       `json:"id"`
	UUID           string     `json:"uuid"`
	Name           string     `json:"name"`
	Address        string     `json:"address"`
	Status         string     `json:"status"`
	Decommissioned bool       `json:"decommissioned"`
	LastCheckedAt  *time.Time `json:"last_checked_at,omitempty"`
}

// ListChannelsResponse represents the channel listing
type ListChannelsResponse struct {
	Items []ChannelDTO `json:"items"`
}
