package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Channel   ChannelConfig   `mapstructure:"channel"`
	Typing    TypingConfig    `mapstructure:"typing"`
	DevServer DevServerConfig `mapstructure:"dev_server"`
}

// APIConfig holds REST API client configuration
type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ChannelConfig holds realtime channel configuration
type ChannelConfig struct {
	URL                  string        `mapstructure:"url"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout"`
	WriteWait            time.Duration `mapstructure:"write_wait"`
	PongWait             time.Duration `mapstructure:"pong_wait"`
	PingPeriod           time.Duration `mapstructure:"ping_period"`
	JoinAckTimeout       time.Duration `mapstructure:"join_ack_timeout"`
	MaxMessageSize       int64         `mapstructure:"max_message_size"`
	WriteChannelSize     int           `mapstructure:"write_channel_size"`
	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `mapstructure:"reconnect_max_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
}

// TypingConfig holds composer debounce configuration
type TypingConfig struct {
	StopAfter time.Duration `mapstructure:"stop_after"`
}

// DevServerConfig holds the in-memory development backend configuration
type DevServerConfig struct {
	Addr        string `mapstructure:"addr"`
	JWTSecret   string `mapstructure:"jwt_secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a configuration with all defaults applied
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields
func (cfg *Config) ApplyDefaults() {
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "http://localhost:8080"
	}
	if cfg.API.DialTimeout == 0 {
		cfg.API.DialTimeout = 10 * time.Second
	}
	if cfg.API.RequestTimeout == 0 {
		cfg.API.RequestTimeout = 30 * time.Second
	}
	if cfg.Channel.URL == "" {
		cfg.Channel.URL = "ws://localhost:8080/ws"
	}
	if cfg.Channel.HandshakeTimeout == 0 {
		cfg.Channel.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Channel.WriteWait == 0 {
		cfg.Channel.WriteWait = 10 * time.Second
	}
	if cfg.Channel.PongWait == 0 {
		cfg.Channel.PongWait = 30 * time.Second
	}
	if cfg.Channel.PingPeriod == 0 {
		cfg.Channel.PingPeriod = 27 * time.Second
	}
	if cfg.Channel.JoinAckTimeout == 0 {
		cfg.Channel.JoinAckTimeout = 5 * time.Second
	}
	if cfg.Channel.MaxMessageSize == 0 {
		cfg.Channel.MaxMessageSize = 51200
	}
	if cfg.Channel.WriteChannelSize == 0 {
		cfg.Channel.WriteChannelSize = 256
	}
	if cfg.Channel.ReconnectBaseDelay == 0 {
		cfg.Channel.ReconnectBaseDelay = time.Second
	}
	if cfg.Channel.ReconnectMaxDelay == 0 {
		cfg.Channel.ReconnectMaxDelay = 30 * time.Second
	}
	if cfg.Channel.MaxReconnectAttempts == 0 {
		cfg.Channel.MaxReconnectAttempts = 10
	}
	if cfg.Typing.StopAfter == 0 {
		cfg.Typing.StopAfter = 3 * time.Second
	}
	if cfg.DevServer.Addr == "" {
		cfg.DevServer.Addr = ":8080"
	}
	if cfg.DevServer.JWTSecret == "" {
		cfg.DevServer.JWTSecret = "dev-only-secret"
	}
	if cfg.DevServer.ExpireHours == 0 {
		cfg.DevServer.ExpireHours = 168 // 7 days
	}
}
