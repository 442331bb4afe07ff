package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"

	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"

	defaultConfigPath = "./config/config.yaml"
)

type Config struct {
	Env        string `yaml:"env" env:"ENV" env-default:"local"`
	HTTPServer `yaml:"http_server"`
	Postgres   `yaml:"postgres"`
	Redis      `yaml:"redis"`
	RabbitMQ   `yaml:"rabbitmq"`
	Tokens     `yaml:"tokens"`
	OTP        `yaml:"otp"`
	Hasher     `yaml:"hasher"`
	RateLimit  `yaml:"rate_limit"`
	Email      `yaml:"email"`
}

type HTTPServer struct {
	Address     string        `yaml:"address" env:"HTTP_ADDRESS" env-default:"localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

type Postgres struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST" env-default:"postgres"`
	Port     int    `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"POSTGRES_USER"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD"`
	DBName   string `yaml:"dbname" env:"POSTGRES_DB"`
	SSLMode  string `yaml:"sslmode" env-default:"disable"`
}

type Redis struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"redis:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env-default:"0"`
}

type RabbitMQ struct {
	URL       string `yaml:"url" env:"RABBITMQ_URL"`
	QueueName string `yaml:"queue_name" env-default:"email_queue"`
}

type SigningKey struct {
	ID     string `yaml:"id"`
	Secret string `yaml:"secret"`
}

// Tokens - только ключи подписи. Время жизни токенов фиксировано в пакете tokens.
type Tokens struct {
	ActiveKeyID string       `yaml:"active_key_id" env:"TOKENS_ACTIVE_KEY_ID"`
	SigningKeys []SigningKey `yaml:"signing_keys"`
}

type OTP struct {
	TTL            time.Duration `yaml:"ttl" env-default:"60m"`
	ResendInterval time.Duration `yaml:"resend_interval" env-default:"30s"`
	PurgeInterval  time.Duration `yaml:"purge_interval" env-default:"10m"`
	// Store выбирает хранилище кодов: memory, postgres или redis
	Store string `yaml:"store" env:"OTP_STORE" env-default:"postgres"`
}

type Hasher struct {
	Cost int `yaml:"cost" env-default:"10"`
}

// RateLimit ограничивает число запросов с одного IP на чувствительные эндпоинты.
type RateLimit struct {
	Requests int           `yaml:"requests" env-default:"5"`
	Window   time.Duration `yaml:"window" env-default:"1m"`
}

// Email - настройки SMTP для mail_sender.
type Email struct {
	Host     string `yaml:"host" env:"SMTP_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	Username string `yaml:"username" env:"SMTP_USERNAME"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
	From     string `yaml:"from" env:"SMTP_FROM" env-default:"no-reply@localhost"`
}

// * MustLoad читает конфиг по пути из CONFIG_PATH и паникует при ошибке
func MustLoad() *Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultConfigPath
	}

	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

func Load(configPath string) (*Config, error) {
	const op = "config.Load"

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: config file does not exist: %s", op, configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("%s: failed to read config: %w", op, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.OTP.Store {
	case StoreMemory, StorePostgres, StoreRedis:
	default:
		return fmt.Errorf("unknown otp.store %q", c.OTP.Store)
	}

	if c.Env != EnvLocal && c.OTP.Store == StoreMemory {
		return errors.New("otp.store=memory is allowed only for env=local")
	}

	return nil
}

// * DSN формирует строку подключения к Postgres
func (p Postgres) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host,
		p.Port,
		p.User,
		p.Password,
		p.DBName,
		p.SSLMode,
	)
}
