package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"proyektor/internal/logger"
)

// LoadConfig reads configuration from the environment (optionally seeded by a
// .env file) and overlays the YAML file named by PROYEKTOR_CONFIG, if any.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to read .env file", "error", err)
	}

	cfg := &Config{
		Server:       loadServerConfig(),
		TLS:          loadTLSConfig(),
		Database:     loadDatabaseConfig(),
		Bible:        loadBibleConfig(),
		Lyrics:       loadLyricsConfig(),
		Presentation: loadPresentationConfig(),
		MQTT:         loadMQTTConfig(),
		Display:      loadDisplayConfig(),
	}

	if path := os.Getenv("PROYEKTOR_CONFIG"); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enum-like settings and numeric bounds.
func (c *Config) Validate() error {
	switch c.Database.Backend {
	case "sqlite", "file":
	default:
		return fmt.Errorf("unknown database backend: %s", c.Database.Backend)
	}
	switch c.Presentation.Transport {
	case "memory", "mqtt":
	default:
		return fmt.Errorf("unknown presentation transport: %s", c.Presentation.Transport)
	}
	switch c.Display.Mode {
	case "local", "exec":
	default:
		return fmt.Errorf("unknown display mode: %s", c.Display.Mode)
	}
	if c.Presentation.Transport == "mqtt" && c.MQTT.Broker == "" {
		return errors.New("mqtt transport requires PROYEKTOR_MQTT_BROKER")
	}
	if c.Presentation.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}
	if c.Presentation.QueueCapacity <= 0 {
		return errors.New("queue capacity must be positive")
	}
	return nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:           getenv("PROYEKTOR_HOST", "0.0.0.0"),
		Port:           getenv("PROYEKTOR_PORT", "5000"),
		AllowedOrigins: getlist("PROYEKTOR_ALLOWED_ORIGINS"),
	}
}

func loadTLSConfig() TLSConfig {
	return TLSConfig{
		Enabled:    os.Getenv("TLS_ENABLED") == "true",
		CertFile:   getenv("TLS_CERT_FILE", "./certs/server.crt"),
		KeyFile:    getenv("TLS_KEY_FILE", "./certs/server.key"),
		MinVersion: getenv("TLS_MIN_VERSION", "1.2"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Backend: getenv("PROYEKTOR_STORAGE", "sqlite"),
		Path:    getenv("DB_PATH", "./data/proyektor.db"),
	}
}

func loadBibleConfig() BibleConfig {
	return BibleConfig{
		BaseURL: strings.TrimRight(getenv("BIBLE_API_BASE", "https://bible-api.deno.dev/api"), "/"),
		Timeout: getduration("BIBLE_API_TIMEOUT", 10*time.Second),
	}
}

func loadLyricsConfig() LyricsConfig {
	return LyricsConfig{
		BaseURL: strings.TrimRight(getenv("LYRICS_API_BASE", "https://lrclib.net/api"), "/"),
		Timeout: getduration("LYRICS_API_TIMEOUT", 10*time.Second),
	}
}

func loadPresentationConfig() PresentationConfig {
	return PresentationConfig{
		Channel:              getenv("PROYEKTOR_CHANNEL", "presentation"),
		Transport:            getenv("PROYEKTOR_TRANSPORT", "memory"),
		HeartbeatInterval:    getduration("PROYEKTOR_HEARTBEAT_INTERVAL", 2*time.Second),
		MaxMissedHeartbeats:  getint("PROYEKTOR_MAX_MISSED_HEARTBEATS", 3),
		MaxReconnectAttempts: getint("PROYEKTOR_MAX_RECONNECT_ATTEMPTS", 3),
		ReconnectDelay:       getduration("PROYEKTOR_RECONNECT_DELAY", time.Second),
		AckTimeout:           getduration("PROYEKTOR_ACK_TIMEOUT", 5*time.Second),
		QueueCapacity:        getint("PROYEKTOR_QUEUE_CAPACITY", 16),
		HistoryLimit:         getint("PROYEKTOR_HISTORY_LIMIT", 50),
		FontStylesheets:      getlist("PROYEKTOR_FONT_STYLESHEETS"),
	}
}

func loadMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:   os.Getenv("PROYEKTOR_MQTT_BROKER"),
		ClientID: getenv("PROYEKTOR_MQTT_CLIENT_ID", "proyektor"),
	}
}

func loadDisplayConfig() DisplayConfig {
	return DisplayConfig{
		Mode: getenv("PROYEKTOR_DISPLAY", "local"),
	}
}

// fileConfig is the YAML overlay. Only keys present in the file override
// the environment.
type fileConfig struct {
	Presentation *struct {
		Channel              *string        `yaml:"channel"`
		Transport            *string        `yaml:"transport"`
		HeartbeatInterval    *time.Duration `yaml:"heartbeatInterval"`
		MaxMissedHeartbeats  *int           `yaml:"maxMissedHeartbeats"`
		MaxReconnectAttempts *int           `yaml:"maxReconnectAttempts"`
		ReconnectDelay       *time.Duration `yaml:"reconnectDelay"`
		AckTimeout           *time.Duration `yaml:"ackTimeout"`
		QueueCapacity        *int           `yaml:"queueCapacity"`
		HistoryLimit         *int           `yaml:"historyLimit"`
		FontStylesheets      []string       `yaml:"fontStylesheets"`
	} `yaml:"presentation"`
	Server *struct {
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"server"`
	Display *struct {
		Mode    *string  `yaml:"mode"`
		Screens []Screen `yaml:"screens"`
	} `yaml:"display"`
	MQTT *struct {
		Broker   *string `yaml:"broker"`
		ClientID *string `yaml:"clientId"`
	} `yaml:"mqtt"`
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if p := fc.Presentation; p != nil {
		setIf(&cfg.Presentation.Channel, p.Channel)
		setIf(&cfg.Presentation.Transport, p.Transport)
		setIf(&cfg.Presentation.HeartbeatInterval, p.HeartbeatInterval)
		setIf(&cfg.Presentation.MaxMissedHeartbeats, p.MaxMissedHeartbeats)
		setIf(&cfg.Presentation.MaxReconnectAttempts, p.MaxReconnectAttempts)
		setIf(&cfg.Presentation.ReconnectDelay, p.ReconnectDelay)
		setIf(&cfg.Presentation.AckTimeout, p.AckTimeout)
		setIf(&cfg.Presentation.QueueCapacity, p.QueueCapacity)
		setIf(&cfg.Presentation.HistoryLimit, p.HistoryLimit)
		if len(p.FontStylesheets) > 0 {
			cfg.Presentation.FontStylesheets = p.FontStylesheets
		}
	}
	if sv := fc.Server; sv != nil && len(sv.AllowedOrigins) > 0 {
		cfg.Server.AllowedOrigins = sv.AllowedOrigins
	}
	if d := fc.Display; d != nil {
		setIf(&cfg.Display.Mode, d.Mode)
		if len(d.Screens) > 0 {
			cfg.Display.Screens = d.Screens
		}
	}
	if m := fc.MQTT; m != nil {
		setIf(&cfg.MQTT.Broker, m.Broker)
		setIf(&cfg.MQTT.ClientID, m.ClientID)
	}

	logger.Info("loaded config file", "path", path, "screens", len(cfg.Display.Screens))
	return nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getlist splits a comma-separated setting, skipping empty items.
func getlist(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getint(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn("invalid integer setting, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getduration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn("invalid duration setting, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
