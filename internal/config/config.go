package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every runtime setting, read from the environment.
type Config struct {
	Addr     string `env:"ADDR" envDefault:":8000"`
	CertFile string `env:"CERT_FILE"`
	KeyFile  string `env:"CERT_KEY"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	Bucket string `env:"AWS_S3_BUCKET" envDefault:"tlhmaterials"`
	Region string `env:"REGION_NAME" envDefault:"ap-southeast-1"`

	JWTSecret string `env:"JWT_SECRET,required"`

	SessionTTL    time.Duration `env:"UPLOAD_SESSION_TTL" envDefault:"24h"`
	PresignTTL    time.Duration `env:"UPLOAD_URL_TTL" envDefault:"1h"`
	SweepInterval time.Duration `env:"UPLOAD_SWEEP_INTERVAL" envDefault:"1h"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
