package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

type Config struct {
	LogLevel      string  `yaml:"log-level" env:"LOG_LEVEL" env-default:"info"`
	SocketPort    string  `yaml:"socket-port" env:"SOCKET_PORT" env-default:"5000"`
	WebSocketPort string  `yaml:"websocket-port" env:"WEBSOCKET_PORT"`
	HTTPPort      string  `yaml:"http-port" env:"HTTP_PORT"`
	Storage       string  `yaml:"storage" env:"STORAGE" env-default:"memory"`
	Redis         Redis   `yaml:"redis"`
	Session       Session `yaml:"session"`
	Match         Match   `yaml:"match"`
	Names         Names   `yaml:"names"`
}

type Redis struct {
	Host string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port string `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
}

type Session struct {
	WriteTimeout time.Duration `yaml:"write-timeout" env:"SESSION_WRITE_TIMEOUT" env-default:"10s"`
	OutboxSize   int           `yaml:"outbox-size" env:"SESSION_OUTBOX_SIZE" env-default:"16"`
}

type Match struct {
	SnapshotTTL time.Duration `yaml:"snapshot-ttl" env:"MATCH_SNAPSHOT_TTL" env-default:"1h"`
}

// Names bounds how long a name reservation can outlive a crashed server.
type Names struct {
	TTL time.Duration `yaml:"ttl" env:"NAMES_TTL" env-default:"1m"`
}

// MustLoad - load all configurations in config.yml file.
func MustLoad(path string) *Config {
	config, err := Load(path)
	if err != nil {
		panic(err)
	}

	return config
}

// Load reads path and applies environment overrides on top of it.
func Load(path string) (*Config, error) {
	config := &Config{}

	if err := cleanenv.ReadConfig(path, config); err != nil {
		return nil, fmt.Errorf("unable to load config file: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (that *Config) validate() error {
	switch that.Storage {
	case StorageMemory, StorageRedis:
	default:
		return fmt.Errorf("unknown storage %q", that.Storage)
	}

	if that.Session.OutboxSize < 1 {
		return fmt.Errorf("session outbox size must be positive, got %d", that.Session.OutboxSize)
	}

	return nil
}

func (that *Redis) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", that.Host, that.Port)
}
