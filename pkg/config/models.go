package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Redis     RedisConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwtSecret"`
	TokenTTL  time.Duration `mapstructure:"tokenTTL"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

type RateLimitConfig struct {
	Window    time.Duration `mapstructure:"window"`
	MaxEvents int           `mapstructure:"maxEvents"`
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StorageConfig struct {
	Path string
}

type LogConfig struct {
	Level string
}
