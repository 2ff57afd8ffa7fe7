// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Tokens       TokenConfig        `mapstructure:"tokens"`
	Billing      BillingConfig      `mapstructure:"billing"`
	Signup       SignupConfig       `mapstructure:"signup"`
	Integrations IntegrationConfig  `mapstructure:"integrations"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ReadTimeout     int `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int `mapstructure:"shutdown_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// --- Token Configuration ---

// TokenConfig holds the signing key pair and issuer used for magic-link and
// identity tokens. The key is loaded once at construction; there is no runtime
// key rotation.
type TokenConfig struct {
	Issuer           string `mapstructure:"issuer"`
	PrivateKeyPath   string `mapstructure:"private_key_path"`
	PrivateKeyPEM    string `mapstructure:"private_key_pem"`
	KeyID            string `mapstructure:"key_id"`
	MagicLinkTTL     int    `mapstructure:"magic_link_ttl"`     // seconds
	IdentityTokenTTL int    `mapstructure:"identity_token_ttl"` // seconds
}

// BillingConfig holds the webhook shared secret for the billing processor.
type BillingConfig struct {
	WebhookSecret      string `mapstructure:"webhook_secret"`
	SignatureTolerance int    `mapstructure:"signature_tolerance"` // seconds
}

// SignupConfig controls the member self-signup surface.
type SignupConfig struct {
	AllowSelfSignup bool   `mapstructure:"allow_self_signup"`
	SigninURL       string `mapstructure:"signin_url"`
}

// IntegrationConfig holds settings for mail and geolocation collaborators.
type IntegrationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
		SES    struct {
			Enabled   bool   `mapstructure:"enabled"`
			FromEmail string `mapstructure:"from_email"`
		} `mapstructure:"ses"`
	} `mapstructure:"aws"`

	Geolocation struct {
		BaseURL string `mapstructure:"base_url"`
		Timeout int    `mapstructure:"timeout"` // milliseconds, bounded best-effort
	} `mapstructure:"geolocation"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
