package presentation

import (
	"time"

	"proyektor/internal/config"
)

// Options are the coordinator's tunables. Zero fields take the defaults.
type Options struct {
	// Route is the path the display window is opened at.
	Route string

	HeartbeatInterval    time.Duration
	MaxMissedHeartbeats  int
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration

	ReadyAttempts     int
	ReadyPollInterval time.Duration

	PositionPollInterval time.Duration

	AckTimeout  time.Duration
	PingTimeout time.Duration

	QueueCapacity int
	HistoryLimit  int

	// Fonts are preloaded at start in addition to the configured family.
	Fonts []string
	// FontStylesheets are CSS urls whose @font-face families are registered
	// at start.
	FontStylesheets []string
	// FontWait bounds the wait for the configured family.
	FontWait time.Duration
}

func DefaultOptions() Options {
	return Options{
		Route:                "/presentation",
		HeartbeatInterval:    2 * time.Second,
		MaxMissedHeartbeats:  3,
		MaxReconnectAttempts: 3,
		ReconnectDelay:       time.Second,
		ReadyAttempts:        50,
		ReadyPollInterval:    100 * time.Millisecond,
		PositionPollInterval: 16 * time.Millisecond,
		AckTimeout:           5 * time.Second,
		PingTimeout:          time.Second,
		QueueCapacity:        16,
		HistoryLimit:         50,
		Fonts:                []string{"Arial", "Times New Roman"},
		FontWait:             5 * time.Second,
	}
}

// OptionsFromConfig maps the presentation section of the configuration.
func OptionsFromConfig(cfg config.PresentationConfig) Options {
	o := DefaultOptions()
	o.HeartbeatInterval = cfg.HeartbeatInterval
	o.MaxMissedHeartbeats = cfg.MaxMissedHeartbeats
	o.MaxReconnectAttempts = cfg.MaxReconnectAttempts
	o.ReconnectDelay = cfg.ReconnectDelay
	o.AckTimeout = cfg.AckTimeout
	o.QueueCapacity = cfg.QueueCapacity
	o.HistoryLimit = cfg.HistoryLimit
	o.FontStylesheets = cfg.FontStylesheets
	return o.withDefaults()
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Route == "" {
		o.Route = d.Route
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = d.HeartbeatInterval
	}
	if o.MaxMissedHeartbeats <= 0 {
		o.MaxMissedHeartbeats = d.MaxMissedHeartbeats
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = d.ReconnectDelay
	}
	if o.ReadyAttempts <= 0 {
		o.ReadyAttempts = d.ReadyAttempts
	}
	if o.ReadyPollInterval <= 0 {
		o.ReadyPollInterval = d.ReadyPollInterval
	}
	if o.PositionPollInterval <= 0 {
		o.PositionPollInterval = d.PositionPollInterval
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = d.AckTimeout
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = d.PingTimeout
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = d.QueueCapacity
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = d.HistoryLimit
	}
	if o.FontWait <= 0 {
		o.FontWait = d.FontWait
	}
	return o
}
