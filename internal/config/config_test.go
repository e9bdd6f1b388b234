package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	req := require.New(t)
	cfg := DefaultConfig()
	req.NoError(cfg.Validate())
	req.Equal("0.0.0.0:8080", cfg.Addr())
	req.Equal(StoreSQLite, cfg.Storage.MessageStore)
	req.Equal(AuthQuery, cfg.Auth.Mode)
	req.True(cfg.Presence.PersistPrivateMessages)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.HTTP.Port = 70000 }},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }},
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"unknown store", func(c *Config) { c.Storage.MessageStore = "redis" }},
		{"ping slower than pong wait", func(c *Config) { c.WebSocket.PingInterval = 2 * c.WebSocket.PongWait }},
		{"zero send timeout", func(c *Config) { c.Broadcast.SendTimeout = 0 }},
		{"negative rate limit", func(c *Config) { c.Presence.MessagesPerMinute = -1 }},
		{"jwt without secret", func(c *Config) { c.Auth.Mode = AuthJWT }},
		{"unknown auth mode", func(c *Config) { c.Auth.Mode = "ldap" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "LOUD" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfig_JWTWithSecretIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.Mode = AuthJWT
	cfg.Auth.JWTSecret = "s3cret"
	require.NoError(t, cfg.Validate())
}

func TestConfig_DatabaseSettings(t *testing.T) {
	req := require.New(t)
	cfg := DefaultConfig()
	cfg.Database.Path = "/tmp/chat.db"
	cfg.Database.MaxConnections = 3
	cfg.Database.WriteRetryDelay = time.Second

	db := cfg.DatabaseSettings()
	req.Equal("/tmp/chat.db", db.DatabasePath)
	req.Equal(3, db.MaxConnections)
	req.Equal(time.Second, db.WriteRetryDelay)
	req.NoError(db.Validate())
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roomcast.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestConfig_ApplyFile(t *testing.T) {
	req := require.New(t)
	path := writeFile(t, `{
		"http": {"port": 9000, "read_timeout": "10s"},
		"websocket": {"allowed_origins": ["https://chat.example"]},
		"storage": {"message_store": "badger", "badger_path": "/var/lib/roomcast"},
		"presence": {"persist_private_messages": false, "messages_per_minute": 0},
		"auth": {"mode": "jwt", "jwt_secret": "abc"},
		"log_level": "debug"
	}`)

	cfg := DefaultConfig()
	req.NoError(cfg.ApplyFile(path))
	req.Equal(9000, cfg.HTTP.Port)
	req.Equal("0.0.0.0", cfg.HTTP.Host)
	req.Equal(10*time.Second, cfg.HTTP.ReadTimeout)
	req.Equal(30*time.Second, cfg.HTTP.WriteTimeout)
	req.Equal([]string{"https://chat.example"}, cfg.WebSocket.AllowedOrigins)
	req.Equal(StoreBadger, cfg.Storage.MessageStore)
	req.False(cfg.Presence.PersistPrivateMessages)
	req.Zero(cfg.Presence.MessagesPerMinute)
	req.Equal(50, cfg.Presence.HistoryLimit)
	req.Equal("DEBUG", cfg.LogLevel)
	req.NoError(cfg.Validate())
}

func TestConfig_ApplyFileErrors(t *testing.T) {
	req := require.New(t)
	cfg := DefaultConfig()

	req.Error(cfg.ApplyFile(filepath.Join(t.TempDir(), "missing.json")))
	req.ErrorIs(cfg.ApplyFile(writeFile(t, `{not json`)), ErrInvalidConfig)

	err := cfg.ApplyFile(writeFile(t, `{"http": {"read_timeout": "soon"}, "broadcast": {"send_timeout": "later"}}`))
	req.ErrorIs(err, ErrInvalidConfig)
	req.ErrorContains(err, "http.read_timeout")
	req.ErrorContains(err, "broadcast.send_timeout")
}

func TestConfig_ApplyEnv(t *testing.T) {
	req := require.New(t)
	t.Setenv("ROOMCAST_HTTP_PORT", "9100")
	t.Setenv("ROOMCAST_WS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("ROOMCAST_BROADCAST_SEND_TIMEOUT", "250ms")
	t.Setenv("ROOMCAST_PRESENCE_ROOM_CACHE_TTL", "1m")
	t.Setenv("ROOMCAST_AUTH_JWT_SECRET", "from-env")
	t.Setenv("ROOMCAST_LOG_LEVEL", "warn")

	cfg := DefaultConfig()
	req.NoError(cfg.ApplyEnv())
	req.Equal(9100, cfg.HTTP.Port)
	req.Equal([]string{"https://a.example", "https://b.example"}, cfg.WebSocket.AllowedOrigins)
	req.Equal(250*time.Millisecond, cfg.Broadcast.SendTimeout)
	req.Equal(time.Minute, cfg.Presence.RoomCacheTTL)
	req.Equal("from-env", cfg.Auth.JWTSecret)
	req.Equal("WARN", cfg.LogLevel)
	req.Equal(DefaultConfig().Database.Path, cfg.Database.Path)
}

func TestConfig_ApplyEnvRejectsBadValues(t *testing.T) {
	t.Setenv("ROOMCAST_REGISTRY_SHARDS", "many")
	require.ErrorIs(t, DefaultConfig().ApplyEnv(), ErrInvalidConfig)
}

func TestLoad_Precedence(t *testing.T) {
	req := require.New(t)
	path := writeFile(t, `{"http": {"port": 9000, "host": "127.0.0.1"}, "registry": {"shards": 8}}`)
	t.Setenv(FileEnvVar, path)
	t.Setenv("ROOMCAST_HTTP_PORT", "9200")

	cfg, err := Load()
	req.NoError(err)
	req.Equal(9200, cfg.HTTP.Port)
	req.Equal("127.0.0.1", cfg.HTTP.Host)
	req.Equal(8, cfg.Registry.Shards)
	req.Equal(64, cfg.Broadcast.MaxParallel)
}

func TestLoad_RejectsInvalidResult(t *testing.T) {
	t.Setenv(FileEnvVar, "")
	t.Setenv("ROOMCAST_STORAGE_MESSAGE_STORE", "postgres")
	_, err := Load()
	require.ErrorIs(t, err, ErrInvalidConfig)
}
