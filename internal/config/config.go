// Package config loads the server configuration: a YAML file, an optional
// .env file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TrustedProxies  []string      `yaml:"trusted_proxies"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	// Schema is "migrate" (versioned SQL, postgres only), "auto" (gorm
	// AutoMigrate) or "none".
	Schema string `yaml:"schema"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type EmailConfig struct {
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUser     string `yaml:"smtp_user"`
	SMTPPassword string `yaml:"smtp_password"`
	FromEmail    string `yaml:"from_email"`
	AppName      string `yaml:"app_name"`
}

// Enabled reports whether SMTP delivery is configured.
func (e EmailConfig) Enabled() bool {
	return e.SMTPHost != ""
}

type AuthConfig struct {
	JWTSecret      string        `yaml:"jwt_secret"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	Issuer         string        `yaml:"issuer"`
	VerifyEmailURL string        `yaml:"verify_email_url"`
	AllowLoginOTP  *bool         `yaml:"allow_login_otp"`
}

type JanitorConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Retention time.Duration `yaml:"retention"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Dev   bool   `yaml:"dev"`
	File  string `yaml:"file"`
	// AuditFile, when set, also receives audit events as JSON lines.
	AuditFile string `yaml:"audit_file"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Email    EmailConfig    `yaml:"email"`
	Auth     AuthConfig     `yaml:"auth"`
	Janitor  JanitorConfig  `yaml:"janitor"`
	Log      LogConfig      `yaml:"log"`
}

// Default returns a config that runs locally on sqlite with codes logged.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			URL:             "file:goverify.db?cache=shared",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			Schema:          "auto",
		},
		Email: EmailConfig{
			SMTPPort: 587,
			AppName:  "Storefront",
		},
		Auth: AuthConfig{
			SessionTTL: 24 * time.Hour,
			Issuer:     "goverify",
		},
		Janitor: JanitorConfig{
			Interval:  30 * time.Minute,
			Retention: time.Hour,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path (skipped when empty), a .env file in the working
// directory when present, then the environment.
func Load(path string) (*Config, error) {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Database.Driver, "DATABASE_DRIVER")
	setString(&cfg.Database.Schema, "DATABASE_SCHEMA")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Auth.VerifyEmailURL, "VERIFY_EMAIL_URL")
	setString(&cfg.Email.SMTPHost, "SMTP_HOST")
	setString(&cfg.Email.SMTPUser, "SMTP_USER")
	setString(&cfg.Email.SMTPPassword, "SMTP_PASSWORD")
	setString(&cfg.Email.FromEmail, "SMTP_FROM")
	setString(&cfg.Email.AppName, "APP_NAME")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.File, "LOG_FILE")
	setString(&cfg.Log.AuditFile, "AUDIT_LOG_FILE")
	if v, ok := os.LookupEnv("LOG_DEV"); ok {
		cfg.Log.Dev = v == "1"
	}

	for key, dst := range map[string]*int{
		"PORT":      &cfg.Server.Port,
		"SMTP_PORT": &cfg.Email.SMTPPort,
		"REDIS_DB":  &cfg.Redis.DB,
	} {
		if err := setInt(dst, key); err != nil {
			return err
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("env %s: %w", key, err)
	}
	*dst = n
	return nil
}

// Validate checks the server-level settings. Engine settings are validated
// by goVerify's Builder.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server port must be between 1 and 65535")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return errors.New("database url required")
	}
	switch c.Database.Schema {
	case "auto", "none":
	case "migrate":
		if c.Database.Driver != "postgres" {
			return errors.New("schema migrate requires the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported schema mode %q", c.Database.Schema)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET required")
	}
	if c.Email.Enabled() && c.Email.FromEmail == "" {
		return errors.New("email from address required when SMTP is configured")
	}
	if c.Janitor.Interval < 0 || c.Janitor.Retention < 0 {
		return errors.New("janitor interval and retention must be >= 0")
	}
	if floor := c.minJanitorRetention(); c.Janitor.Interval > 0 && c.Janitor.Retention < floor {
		return fmt.Errorf("janitor retention must be at least %s to keep verified codes for their proof window", floor)
	}
	return nil
}

// minJanitorRetention is how long past expiry a verified token can still be
// presented as a proof: the widest proof window minus its token TTL.
func (c *Config) minJanitorRetention() time.Duration {
	cfg := c.Engine()
	windows := map[goVerify.Purpose]time.Duration{
		goVerify.PurposeSecondFactor:   cfg.Proofs.SecondFactorWindow,
		goVerify.PurposeEmailOwnership: cfg.Proofs.EmailOwnershipWindow,
	}
	if cfg.Proofs.AllowLoginOTP {
		windows[goVerify.PurposeLoginOTP] = cfg.Proofs.LoginOTPWindow
	}

	var floor time.Duration
	for p, window := range windows {
		if d := window - cfg.Tokens.For(p).TTL; d > floor {
			floor = d
		}
	}
	return floor
}

// Engine returns the goVerify engine config derived from c.
func (c *Config) Engine() goVerify.Config {
	cfg := goVerify.DefaultConfig()
	cfg.JWT.PrivateKey = []byte(c.Auth.JWTSecret)
	if c.Auth.SessionTTL > 0 {
		cfg.JWT.SessionTTL = c.Auth.SessionTTL
	}
	if c.Auth.Issuer != "" {
		cfg.JWT.Issuer = c.Auth.Issuer
	}
	if c.Auth.AllowLoginOTP != nil {
		cfg.Proofs.AllowLoginOTP = *c.Auth.AllowLoginOTP
	}
	cfg.Links.VerifyEmailURL = c.Auth.VerifyEmailURL
	return cfg
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}
