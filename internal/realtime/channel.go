package realtime

import (
	"fmt"
	"net/http"
	"time"

	"github.com/lazyclaw/lazyops/internal/models"
	"github.com/lazyclaw/lazyops/internal/notify"
)

// Endpoint paths on the backend
const (
	JobPath      = "/ws/events"
	PipelinePath = "/ws/pipeline"
	SessionPath  = "/ws/sessions"
)

// Options configures a Channel
type Options struct {
	Token        string
	Manager      ManagerConfig
	LogCapacity  int
	Toasts       notify.Sink
	Dialer       Dialer
	Poll         FetchFunc // nil disables fallback polling
	PollInterval time.Duration
	OnStatus     func(models.ChannelStatus)
}

// Channel is one logical realtime feed: a managed connection, its
// subscription and the dispatcher behind it
type Channel struct {
	name       string
	category   models.Category
	manager    *Manager
	registrar  *Registrar
	dispatcher *Dispatcher
	poller     *Poller
	onStatus   func(models.ChannelStatus)
}

// NewChannel wires a channel for url. Nothing is dialled until Connect.
func NewChannel(name string, category models.Category, url string, req SubscribeRequest, opts Options) *Channel {
	var header http.Header
	if opts.Token != "" {
		header = http.Header{"Authorization": []string{"Bearer " + opts.Token}}
	}

	ch := &Channel{
		name:       name,
		category:   category,
		manager:    NewManager(name, url, header, opts.Manager, opts.Dialer),
		registrar:  NewRegistrar(req),
		dispatcher: NewDispatcher(name, NewEventLog(opts.LogCapacity), opts.Toasts),
		onStatus:   opts.OnStatus,
	}
	if opts.Poll != nil {
		ch.poller = NewPoller(name, opts.PollInterval, opts.Poll, ch.dispatcher.Deliver)
	}

	ch.manager.OnOpen(func(send func([]byte) error) {
		if err := ch.registrar.Register(send); err != nil {
			ch.manager.logger.Warn().Err(err).Msg("Subscribe failed")
		}
	})
	ch.manager.OnFrame(ch.dispatcher.OnFrame)
	ch.manager.OnStatus(ch.handleStatus)
	return ch
}

// JobChannel opens the job queue feed of the backend at baseURL
func JobChannel(baseURL string, opts Options) (*Channel, error) {
	url, err := EndpointURL(baseURL, JobPath)
	if err != nil {
		return nil, err
	}
	return NewChannel("jobs", models.CategoryJob, url, SubscribeRequest{Topics: []string{"job"}}, opts), nil
}

// PipelineChannel opens the pipeline feed of the backend at baseURL
func PipelineChannel(baseURL string, opts Options) (*Channel, error) {
	url, err := EndpointURL(baseURL, PipelinePath)
	if err != nil {
		return nil, err
	}
	return NewChannel("pipeline", models.CategoryPipeline, url, SubscribeRequest{Topics: []string{"pipeline"}}, opts), nil
}

// SessionChannel opens the feed of one session
func SessionChannel(baseURL, sessionID string, opts Options) (*Channel, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session channel requires a session id")
	}
	url, err := EndpointURL(baseURL, SessionPath)
	if err != nil {
		return nil, err
	}
	return NewChannel("session", models.CategorySession, url, SubscribeRequest{SessionID: sessionID}, opts), nil
}

// Name returns the channel name
func (c *Channel) Name() string {
	return c.name
}

// Category returns the event category the channel carries
func (c *Channel) Category() models.Category {
	return c.category
}

// Dispatcher returns the dispatcher for registering callbacks
func (c *Channel) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// Registrar returns the subscription registrar
func (c *Channel) Registrar() *Registrar {
	return c.registrar
}

// Log returns the channel's event log
func (c *Channel) Log() *EventLog {
	return c.dispatcher.Log()
}

// Connect starts the connection, stopping any fallback polling first
func (c *Channel) Connect() {
	if c.poller != nil {
		c.poller.Stop()
	}
	c.manager.Connect()
}

// Disconnect tears the channel down for good
func (c *Channel) Disconnect() {
	c.manager.Disconnect()
	if c.poller != nil {
		c.poller.Stop()
	}
	c.registrar.Unbind()
}

// Status returns the connection status
func (c *Channel) Status() models.ChannelStatus {
	s := c.manager.Status()
	s.Polling = c.poller != nil && c.poller.Running()
	return s
}

func (c *Channel) handleStatus(s models.ChannelStatus) {
	if c.poller != nil {
		switch {
		case s.State == models.ChannelOpen:
			c.poller.Stop()
		case s.Degraded && s.State == models.ChannelClosed:
			since, seen := c.resumePoint(s)
			c.poller.Start(since, seen...)
		}
		s.Polling = c.poller.Running()
	}
	if s.State != models.ChannelOpen {
		c.registrar.Unbind()
	}
	if c.onStatus != nil {
		c.onStatus(s)
	}
}

// resumePoint is where polling picks up: the newest logged event, else the
// last socket activity. The ids are the logged events at that instant.
func (c *Channel) resumePoint(s models.ChannelStatus) (time.Time, []string) {
	if ev, ok := c.Log().Latest(); ok {
		var seen []string
		for _, logged := range c.Log().Events() {
			if logged.Timestamp.Equal(ev.Timestamp) && logged.ID != "" {
				seen = append(seen, logged.ID)
			}
		}
		return ev.Timestamp, seen
	}
	if !s.LastActivity.IsZero() {
		return s.LastActivity, nil
	}
	return time.Now(), nil
}
