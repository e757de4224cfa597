package models

import "time"

// HealthLevel indicates the overall health of a channel or instance
type HealthLevel string

const (
	HealthOK       HealthLevel = "OK"
	HealthDegraded HealthLevel = "DEGRADED"
	HealthDown     HealthLevel = "DOWN"
)

// InstanceProfile represents a configured automation backend
type InstanceProfile struct {
	Name    string   `yaml:"name" json:"name" koanf:"name"`
	BaseURL string   `yaml:"base_url" json:"base_url" koanf:"base_url"`            // e.g. https://ops.example.com
	Token   string   `yaml:"token,omitempty" json:"token,omitempty" koanf:"token"` // Bearer token for API and websocket
	Tags    []string `yaml:"tags,omitempty" json:"tags,omitempty" koanf:"tags"`
	// SessionID, when set, opens a session channel alongside the job and pipeline channels
	SessionID string `yaml:"session_id,omitempty" json:"session_id,omitempty" koanf:"session_id"`
}

// ChannelState is the connection state of one realtime channel
type ChannelState string

const (
	ChannelIdle       ChannelState = "idle"
	ChannelConnecting ChannelState = "connecting"
	ChannelOpen       ChannelState = "open"
	ChannelClosed     ChannelState = "closed"
)

// ChannelStatus is a point-in-time snapshot of a channel's connection
type ChannelStatus struct {
	Channel      string
	URL          string
	State        ChannelState
	Attempt      int
	Degraded     bool // Reconnect budget exhausted
	Polling      bool // Fallback poller active
	LastActivity time.Time
	NextRetry    time.Time
}

// Health summarises the status for badges
func (s ChannelStatus) Health() HealthLevel {
	switch {
	case s.State == ChannelOpen:
		return HealthOK
	case s.Degraded:
		return HealthDown
	default:
		return HealthDegraded
	}
}

// Label is the short text shown next to a channel
func (s ChannelStatus) Label() string {
	switch {
	case s.State == ChannelOpen:
		return "LIVE"
	case s.Polling:
		return "POLLING"
	case s.Degraded:
		return "OFFLINE"
	case s.State == ChannelConnecting:
		return "CONNECTING"
	case s.State == ChannelClosed:
		return "RETRYING"
	default:
		return "IDLE"
	}
}
