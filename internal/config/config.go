package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"

	dbconfig "roomcast/pkg/database"
)

// EnvPrefix namespaces every environment variable, e.g. ROOMCAST_HTTP_PORT
const EnvPrefix = "ROOMCAST"

// FileEnvVar names the optional JSON config file
const FileEnvVar = "ROOMCAST_CONFIG_FILE"

// Message store backends
const (
	StoreSQLite = "sqlite"
	StoreBadger = "badger"
)

// Identity resolution modes
const (
	AuthJWT   = "jwt"
	AuthQuery = "query"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete server configuration
type Config struct {
	HTTP      HTTPConfig      `envconfig:"HTTP"`
	WebSocket WebSocketConfig `envconfig:"WS"`
	Database  DatabaseConfig  `envconfig:"DATABASE"`
	Storage   StorageConfig   `envconfig:"STORAGE"`
	Registry  RegistryConfig  `envconfig:"REGISTRY"`
	Broadcast BroadcastConfig `envconfig:"BROADCAST"`
	Presence  PresenceConfig  `envconfig:"PRESENCE"`
	Auth      AuthConfig      `envconfig:"AUTH"`
	LogLevel  string          `split_words:"true" validate:"oneof=DEBUG INFO WARN ERROR"`
}

type HTTPConfig struct {
	Host         string        `split_words:"true" validate:"required"`
	Port         int           `split_words:"true" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `split_words:"true" validate:"gt=0"`
	WriteTimeout time.Duration `split_words:"true" validate:"gt=0"`
}

type WebSocketConfig struct {
	PingInterval    time.Duration `split_words:"true" validate:"gt=0,ltfield=PongWait"`
	PongWait        time.Duration `split_words:"true" validate:"gt=0"`
	WriteTimeout    time.Duration `split_words:"true" validate:"gt=0"`
	SendBuffer      int           `split_words:"true" validate:"min=1"`
	MaxMessageBytes int64         `split_words:"true" validate:"min=512"`
	AllowedOrigins  []string      `split_words:"true"`
}

type DatabaseConfig struct {
	Path            string        `split_words:"true" validate:"required"`
	MaxConnections  int           `split_words:"true" validate:"min=1"`
	WriteRetryDelay time.Duration `split_words:"true" validate:"gte=0"`
}

// StorageConfig selects where chat messages are kept. Rooms and users always
// live in SQLite.
type StorageConfig struct {
	MessageStore string `split_words:"true" validate:"oneof=sqlite badger"`
	// BadgerPath empty runs badger in memory
	BadgerPath string `split_words:"true"`
}

type RegistryConfig struct {
	Shards int `split_words:"true" validate:"min=1,max=4096"`
}

type BroadcastConfig struct {
	SendTimeout time.Duration `split_words:"true" validate:"gt=0"`
	MaxParallel int           `split_words:"true" validate:"min=1"`
}

type PresenceConfig struct {
	PersistPrivateMessages bool          `split_words:"true"`
	MessagesPerMinute      int           `split_words:"true" validate:"gte=0"`
	MaxBodyBytes           int           `split_words:"true" validate:"min=1"`
	HistoryLimit           int           `split_words:"true" validate:"min=1,max=1000"`
	RoomCacheTTL           time.Duration `split_words:"true" validate:"gt=0"`
	RoomCacheSize          int64         `split_words:"true" validate:"min=1"`
}

type AuthConfig struct {
	Mode      string `split_words:"true" validate:"oneof=jwt query"`
	JWTSecret string `split_words:"true" validate:"required_if=Mode jwt"`
	JWTIssuer string `split_words:"true"`
}

// DefaultConfig returns settings that run a single node out of the box
func DefaultConfig() *Config {
	db := dbconfig.DefaultConfig()
	return &Config{
		HTTP: HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval:    30 * time.Second,
			PongWait:        60 * time.Second,
			WriteTimeout:    5 * time.Second,
			SendBuffer:      100,
			MaxMessageBytes: 128 * 1024,
		},
		Database: DatabaseConfig{
			Path:            db.DatabasePath,
			MaxConnections:  db.MaxConnections,
			WriteRetryDelay: db.WriteRetryDelay,
		},
		Storage:   StorageConfig{MessageStore: StoreSQLite},
		Registry:  RegistryConfig{Shards: 32},
		Broadcast: BroadcastConfig{SendTimeout: 5 * time.Second, MaxParallel: 64},
		Presence: PresenceConfig{
			PersistPrivateMessages: true,
			MessagesPerMinute:      100,
			MaxBodyBytes:           64 * 1024,
			HistoryLimit:           50,
			RoomCacheTTL:           30 * time.Second,
			RoomCacheSize:          10000,
		},
		Auth:     AuthConfig{Mode: AuthQuery},
		LogLevel: "INFO",
	}
}

var validate = validator.New()

// Validate checks every field against its constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// DatabaseSettings converts the database section to the connection config
func (c *Config) DatabaseSettings() *dbconfig.Config {
	db := dbconfig.DefaultConfig()
	db.DatabasePath = c.Database.Path
	db.MaxConnections = c.Database.MaxConnections
	db.WriteRetryDelay = c.Database.WriteRetryDelay
	return db
}

// Addr is the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// ApplyEnv overrides fields whose ROOMCAST_* variable is set
func (c *Config) ApplyEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	c.LogLevel = strings.ToUpper(c.LogLevel)
	return nil
}

// fileConfig mirrors Config for JSON files, with durations as strings
type fileConfig struct {
	HTTP *struct {
		Host         string `json:"host"`
		Port         int    `json:"port"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval    string   `json:"ping_interval"`
		PongWait        string   `json:"pong_wait"`
		WriteTimeout    string   `json:"write_timeout"`
		SendBuffer      int      `json:"send_buffer"`
		MaxMessageBytes int64    `json:"max_message_bytes"`
		AllowedOrigins  []string `json:"allowed_origins"`
	} `json:"websocket"`
	Database *struct {
		Path            string `json:"path"`
		MaxConnections  int    `json:"max_connections"`
		WriteRetryDelay string `json:"write_retry_delay"`
	} `json:"database"`
	Storage *struct {
		MessageStore string `json:"message_store"`
		BadgerPath   string `json:"badger_path"`
	} `json:"storage"`
	Registry *struct {
		Shards int `json:"shards"`
	} `json:"registry"`
	Broadcast *struct {
		SendTimeout string `json:"send_timeout"`
		MaxParallel int    `json:"max_parallel"`
	} `json:"broadcast"`
	Presence *struct {
		PersistPrivateMessages *bool  `json:"persist_private_messages"`
		MessagesPerMinute      *int   `json:"messages_per_minute"`
		MaxBodyBytes           int    `json:"max_body_bytes"`
		HistoryLimit           int    `json:"history_limit"`
		RoomCacheTTL           string `json:"room_cache_ttl"`
		RoomCacheSize          int64  `json:"room_cache_size"`
	} `json:"presence"`
	Auth *struct {
		Mode      string `json:"mode"`
		JWTSecret string `json:"jwt_secret"`
		JWTIssuer string `json:"jwt_issuer"`
	} `json:"auth"`
	LogLevel string `json:"log_level"`
}

// durations collects parse errors so a file reports every bad value at once
type durations struct {
	errs []error
}

func (d *durations) parse(name, raw string, into *time.Duration) {
	if raw == "" {
		return
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		d.errs = append(d.errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*into = parsed
}

func setString(into *string, value string) {
	if value != "" {
		*into = value
	}
}

func setInt[T int | int64](into *T, value T) {
	if value > 0 {
		*into = value
	}
}

// ApplyFile overlays the values present in a JSON file
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var file fileConfig
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("%w: failed to parse config file %s: %w", ErrInvalidConfig, path, err)
	}

	var d durations
	if f := file.HTTP; f != nil {
		setString(&c.HTTP.Host, f.Host)
		setInt(&c.HTTP.Port, f.Port)
		d.parse("http.read_timeout", f.ReadTimeout, &c.HTTP.ReadTimeout)
		d.parse("http.write_timeout", f.WriteTimeout, &c.HTTP.WriteTimeout)
	}
	if f := file.WebSocket; f != nil {
		d.parse("websocket.ping_interval", f.PingInterval, &c.WebSocket.PingInterval)
		d.parse("websocket.pong_wait", f.PongWait, &c.WebSocket.PongWait)
		d.parse("websocket.write_timeout", f.WriteTimeout, &c.WebSocket.WriteTimeout)
		setInt(&c.WebSocket.SendBuffer, f.SendBuffer)
		setInt(&c.WebSocket.MaxMessageBytes, f.MaxMessageBytes)
		if f.AllowedOrigins != nil {
			c.WebSocket.AllowedOrigins = f.AllowedOrigins
		}
	}
	if f := file.Database; f != nil {
		setString(&c.Database.Path, f.Path)
		setInt(&c.Database.MaxConnections, f.MaxConnections)
		d.parse("database.write_retry_delay", f.WriteRetryDelay, &c.Database.WriteRetryDelay)
	}
	if f := file.Storage; f != nil {
		setString(&c.Storage.MessageStore, f.MessageStore)
		setString(&c.Storage.BadgerPath, f.BadgerPath)
	}
	if f := file.Registry; f != nil {
		setInt(&c.Registry.Shards, f.Shards)
	}
	if f := file.Broadcast; f != nil {
		d.parse("broadcast.send_timeout", f.SendTimeout, &c.Broadcast.SendTimeout)
		setInt(&c.Broadcast.MaxParallel, f.MaxParallel)
	}
	if f := file.Presence; f != nil {
		if f.PersistPrivateMessages != nil {
			c.Presence.PersistPrivateMessages = *f.PersistPrivateMessages
		}
		if f.MessagesPerMinute != nil {
			c.Presence.MessagesPerMinute = *f.MessagesPerMinute
		}
		setInt(&c.Presence.MaxBodyBytes, f.MaxBodyBytes)
		setInt(&c.Presence.HistoryLimit, f.HistoryLimit)
		d.parse("presence.room_cache_ttl", f.RoomCacheTTL, &c.Presence.RoomCacheTTL)
		setInt(&c.Presence.RoomCacheSize, f.RoomCacheSize)
	}
	if f := file.Auth; f != nil {
		setString(&c.Auth.Mode, f.Mode)
		setString(&c.Auth.JWTSecret, f.JWTSecret)
		setString(&c.Auth.JWTIssuer, f.JWTIssuer)
	}
	setString(&c.LogLevel, strings.ToUpper(file.LogLevel))

	if len(d.errs) > 0 {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, errors.Join(d.errs...))
	}
	return nil
}

// Load builds the configuration with precedence env > file > defaults.
// The file is read from ROOMCAST_CONFIG_FILE when set.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	if path := os.Getenv(FileEnvVar); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
