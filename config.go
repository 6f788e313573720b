package account

import (
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds account lifecycle options. Fields carry yaml and env tags so
// LoadConfig can populate them from a file and the environment.
type Config struct {
	BaseURL            string        `yaml:"base_url" env:"ACCOUNT_BASE_URL" env-default:"http://localhost:8080"`
	EmailFrom          string        `yaml:"email_from" env:"ACCOUNT_EMAIL_FROM" env-default:"no-reply@localhost"`
	TokenBytes         int           `yaml:"token_bytes" env:"ACCOUNT_TOKEN_BYTES" env-default:"32"`
	ResetKeyTTL        time.Duration `yaml:"reset_key_ttl" env:"ACCOUNT_RESET_KEY_TTL" env-default:"24h"`
	PasswordMinLength  int           `yaml:"password_min_length" env:"ACCOUNT_PASSWORD_MIN_LENGTH" env-default:"8"`
	DefaultPhoneRegion string        `yaml:"default_phone_region" env:"ACCOUNT_PHONE_REGION" env-default:"US"`

	Routes   RoutesConfig   `yaml:"routes"`
	Subjects SubjectsConfig `yaml:"subjects"`
	Database DatabaseConfig `yaml:"database"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Redis    RedisConfig    `yaml:"redis"`
	AMQP     AMQPConfig     `yaml:"amqp"`
}

// RoutesConfig holds the paths used to build links sent by email.
type RoutesConfig struct {
	Activate      string `yaml:"activate" env-default:"/users/activate"`
	Login         string `yaml:"login" env-default:"/login"`
	ResetPassword string `yaml:"reset_password" env-default:"/users/reset_password"`
}

// SubjectsConfig holds notification subjects.
type SubjectsConfig struct {
	Activation    string `yaml:"activation" env-default:"Please Activate Your Account"`
	Welcome       string `yaml:"welcome" env-default:"Welcome"`
	PasswordReset string `yaml:"password_reset" env-default:"Request to change your password"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"ACCOUNT_DB_DRIVER" env-default:"sqlite"`
	DSN    string `yaml:"dsn" env:"ACCOUNT_DB_DSN" env-default:"file::memory:?cache=shared"`
	Debug  bool   `yaml:"debug" env:"ACCOUNT_DB_DEBUG"`
}

type SMTPConfig struct {
	Host     string `yaml:"host" env:"ACCOUNT_SMTP_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"ACCOUNT_SMTP_PORT" env-default:"25"`
	Username string `yaml:"username" env:"ACCOUNT_SMTP_USERNAME"`
	Password string `yaml:"password" env:"ACCOUNT_SMTP_PASSWORD"`
}

type RedisConfig struct {
	Addr       string        `yaml:"addr" env:"ACCOUNT_REDIS_ADDR" env-default:"localhost:6379"`
	Password   string        `yaml:"password" env:"ACCOUNT_REDIS_PASSWORD"`
	DB         int           `yaml:"db" env:"ACCOUNT_REDIS_DB" env-default:"0"`
	KeyPrefix  string        `yaml:"key_prefix" env-default:"account:session:"`
	SessionTTL time.Duration `yaml:"session_ttl" env:"ACCOUNT_SESSION_TTL" env-default:"24h"`
}

type AMQPConfig struct {
	URL              string `yaml:"url" env:"ACCOUNT_AMQP_URL"`
	Exchange         string `yaml:"exchange" env:"ACCOUNT_AMQP_EXCHANGE" env-default:"account.notifications"`
	ActivityExchange string `yaml:"activity_exchange" env:"ACCOUNT_AMQP_ACTIVITY_EXCHANGE" env-default:"account.activity"`
}

// LoadConfig reads path (yaml, json, toml or env) and overlays environment
// variables. An empty path reads the environment only.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfig returns the defaults without touching files or environment.
func DefaultConfig() Config {
	return Config{
		BaseURL:            "http://localhost:8080",
		EmailFrom:          "no-reply@localhost",
		TokenBytes:         DefaultTokenBytes,
		ResetKeyTTL:        24 * time.Hour,
		PasswordMinLength:  8,
		DefaultPhoneRegion: "US",
		Routes: RoutesConfig{
			Activate:      "/users/activate",
			Login:         "/login",
			ResetPassword: "/users/reset_password",
		},
		Subjects: SubjectsConfig{
			Activation:    "Please Activate Your Account",
			Welcome:       "Welcome",
			PasswordReset: "Request to change your password",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "file::memory:?cache=shared",
		},
		SMTP: SMTPConfig{Host: "localhost", Port: 25},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			KeyPrefix:  "account:session:",
			SessionTTL: 24 * time.Hour,
		},
		AMQP: AMQPConfig{
			Exchange:         "account.notifications",
			ActivityExchange: "account.activity",
		},
	}
}

// ActivationLink builds the absolute activation URL for code.
func (c Config) ActivationLink(code string) string {
	return c.absoluteURL(joinPath(c.Routes.Activate, code), nil)
}

// LoginLink builds the absolute login URL prefilled with email.
func (c Config) LoginLink(email string) string {
	return c.absoluteURL(c.Routes.Login, url.Values{"email": {email}})
}

// ResetPasswordLink builds the absolute password reset URL for key.
func (c Config) ResetPasswordLink(key string) string {
	return c.absoluteURL(c.Routes.ResetPassword, url.Values{"key": {key}})
}

func (c Config) absoluteURL(path string, query url.Values) string {
	link := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		link += "?" + query.Encode()
	}
	return link
}

func joinPath(base, segment string) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(segment)
}
