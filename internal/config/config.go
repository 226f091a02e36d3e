package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Server   ServerConfig
	Auth     AuthConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	ClientURLs      []string      `env:"CLIENT_URL" envSeparator:"," envDefault:"http://localhost:3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type AuthConfig struct {
	AccessSecret  string        `env:"JWT_SECRET_AT"`
	RefreshSecret string        `env:"JWT_SECRET_RT"`
	AccessTTL     time.Duration `env:"JWT_EXPIRATION_AT" envDefault:"15m"`
	RefreshTTL    time.Duration `env:"JWT_EXPIRATION_RT" envDefault:"168h"`
	Issuer        string        `env:"JWT_ISSUER" envDefault:"authflow"`
	Leeway        time.Duration `env:"JWT_LEEWAY" envDefault:"0s"`
	// plain | sha256
	Fingerprint string `env:"REFRESH_FINGERPRINT" envDefault:"plain"`
	BcryptCost  int    `env:"BCRYPT_COST" envDefault:"10"`
	// postgres | redis | memory
	SessionStore string `env:"SESSION_STORE" envDefault:"postgres"`
}

type PostgresConfig struct {
	DatabaseURL string `env:"DATABASE_URL"`
	Host        string `env:"PGHOST" envDefault:"localhost"`
	Port        string `env:"PGPORT" envDefault:"5432"`
	User        string `env:"PGUSER"`
	Password    string `env:"PGPASSWORD"`
	Database    string `env:"PGDATABASE"`
	SSLMode     string `env:"PGSSLMODE" envDefault:"disable"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	Prefix   string `env:"REDIS_PREFIX" envDefault:"authflow"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	a := c.Auth
	if strings.TrimSpace(a.AccessSecret) == "" || strings.TrimSpace(a.RefreshSecret) == "" {
		return fmt.Errorf("%w: JWT_SECRET_AT and JWT_SECRET_RT are required", ErrInvalid)
	}
	if a.AccessSecret == a.RefreshSecret {
		return fmt.Errorf("%w: JWT_SECRET_AT and JWT_SECRET_RT must differ", ErrInvalid)
	}
	if a.AccessTTL <= 0 || a.RefreshTTL <= 0 {
		return fmt.Errorf("%w: token lifetimes must be positive", ErrInvalid)
	}
	if a.AccessTTL >= a.RefreshTTL {
		return fmt.Errorf("%w: JWT_EXPIRATION_AT must be shorter than JWT_EXPIRATION_RT", ErrInvalid)
	}
	if a.Leeway < 0 || a.Leeway > 2*time.Minute {
		return fmt.Errorf("%w: JWT_LEEWAY must be between 0 and 2m", ErrInvalid)
	}
	switch a.Fingerprint {
	case "plain", "sha256":
	default:
		return fmt.Errorf("%w: REFRESH_FINGERPRINT must be plain or sha256", ErrInvalid)
	}
	switch a.SessionStore {
	case "postgres", "redis", "memory":
	default:
		return fmt.Errorf("%w: SESSION_STORE must be postgres, redis or memory", ErrInvalid)
	}
	if a.BcryptCost < 4 || a.BcryptCost > 31 {
		return fmt.Errorf("%w: BCRYPT_COST out of range", ErrInvalid)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("%w: LOG_FORMAT must be json or text", ErrInvalid)
	}
	return nil
}
