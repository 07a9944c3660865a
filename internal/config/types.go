package config

import "time"

type Config struct {
	Server       ServerConfig
	TLS          TLSConfig
	Database     DatabaseConfig
	Bible        BibleConfig
	Lyrics       LyricsConfig
	Presentation PresentationConfig
	MQTT         MQTTConfig
	Display      DisplayConfig
}

type ServerConfig struct {
	Host string
	Port string
	// AllowedOrigins may open the display WebSocket besides the served host.
	AllowedOrigins []string
}

type TLSConfig struct {
	Enabled    bool
	CertFile   string
	KeyFile    string
	MinVersion string
}

type DatabaseConfig struct {
	// Backend is one of: sqlite|file
	Backend string
	Path    string
}

type BibleConfig struct {
	BaseURL string
	Timeout time.Duration
}

type LyricsConfig struct {
	BaseURL string
	Timeout time.Duration
}

type PresentationConfig struct {
	Channel string
	// Transport is one of: memory|mqtt
	Transport            string
	HeartbeatInterval    time.Duration
	MaxMissedHeartbeats  int
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	AckTimeout           time.Duration
	QueueCapacity        int
	HistoryLimit         int
	FontStylesheets      []string
}

type MQTTConfig struct {
	Broker   string
	ClientID string
}

type DisplayConfig struct {
	// Mode is one of: local|exec
	Mode    string
	Screens []Screen
}

// Screen describes one monitor available to the display window.
type Screen struct {
	ID          int `yaml:"id"`
	X           int `yaml:"x"`
	Y           int `yaml:"y"`
	Width       int `yaml:"width"`
	Height      int `yaml:"height"`
	AvailWidth  int `yaml:"availWidth"`
	AvailHeight int `yaml:"availHeight"`
}
