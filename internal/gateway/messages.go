package gateway

import (
	"github.com/lazyclaw/lazyops/internal/cache"
	"github.com/lazyclaw/lazyops/internal/models"
)

// ChannelStatusMsg is sent when a realtime channel changes state
type ChannelStatusMsg struct {
	Instance string
	Status   models.ChannelStatus
}

// EventMsg is sent for every dispatched event
type EventMsg struct {
	Instance string
	Channel  string
	Event    models.Event
}

// ToastsMsg carries the live toasts after any change
type ToastsMsg struct {
	Toasts []models.Toast
}

// CacheChangedMsg is sent when the cache changes
type CacheChangedMsg struct {
	Instance string
	Change   cache.Change
}

// MutationResultMsg is sent when an optimistic mutation settles
type MutationResultMsg struct {
	Instance string
	Result   cache.Result
}

// RefreshedMsg is sent after the REST collections were refetched
type RefreshedMsg struct {
	Instance string
	Err      error
}
