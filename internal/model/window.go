package model

import (
	"time"
)

// EntryPoint is the customer-acquisition channel that determines the
// service window duration.
type EntryPoint string

const (
	EntryPointOrganic EntryPoint = "organic"
	EntryPointCTWAAd  EntryPoint = "ctwa_ad"
	EntryPointFBCTA   EntryPoint = "fb_cta"
)

// WindowDuration returns the legality window duration for an entry point.
// Ad-originated conversations get 72h, organic ones 24h.
func WindowDuration(ep EntryPoint) time.Duration {
	switch ep {
	case EntryPointCTWAAd, EntryPointFBCTA:
		return 72 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// ServiceWindow is the persisted per-conversation legality window.
type ServiceWindow struct {
	ConversationID string     `json:"conversation_id"`
	Start          time.Time  `json:"start"`
	Expires        time.Time  `json:"expires"`
	EntryPoint     EntryPoint `json:"entry_point"`
}

// WindowStatus is the derived, queryable view of a service window.
type WindowStatus struct {
	IsOpen           bool       `json:"is_open"`
	Start            time.Time  `json:"start"`
	Expires          time.Time  `json:"expires"`
	RemainingSeconds int64      `json:"remaining_seconds"`
	EntryPoint       EntryPoint `json:"entry_point"`
}
