// Package config loads the portal configuration from YAML with ${ENV}
// expansion and an optional .env overlay.
package config

import (
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	alumni "github.com/goliatone/go-alumni"
	"github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete portal configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Session      SessionConfig      `yaml:"session"`
	SecondFactor SecondFactorConfig `yaml:"second_factor"`
	Platform     PlatformConfig     `yaml:"platform"`
	Registration RegistrationConfig `yaml:"registration"`
	SMTP         SMTPConfig         `yaml:"smtp"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	Cloudinary   CloudinaryConfig   `yaml:"cloudinary"`
	Social       SocialConfig       `yaml:"social"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	PortalURL string `yaml:"portal_url"`
	Debug     bool   `yaml:"debug"`
	CSRF      bool   `yaml:"csrf"`
}

// SessionConfig holds browser session settings.
type SessionConfig struct {
	CookieName      string        `yaml:"cookie_name"`
	CookieSecure    bool          `yaml:"cookie_secure"`
	TokenExpiration time.Duration `yaml:"token_expiration"`
	LoginRoute      string        `yaml:"login_route"`
}

// SecondFactorConfig holds the emailed code settings.
type SecondFactorConfig struct {
	Enabled     bool          `yaml:"enabled"`
	TTL         time.Duration `yaml:"ttl"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// PlatformConfig configures the self hosted platform.
type PlatformConfig struct {
	DSN        string   `yaml:"dsn"`
	SigningKey string   `yaml:"signing_key"`
	Issuer     string   `yaml:"issuer"`
	Audience   []string `yaml:"audience"`
	JWKSURL    string   `yaml:"jwks_url"`
	BcryptCost int      `yaml:"bcrypt_cost"`
	HashIDs    bool     `yaml:"hash_ids"`
	Debug      bool     `yaml:"debug"`
}

// RegistrationConfig holds registration options.
type RegistrationConfig struct {
	PhoneRegion string `yaml:"phone_region"`
}

// SMTPConfig holds outgoing mail settings. An empty host keeps mail in
// memory.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// KafkaConfig holds the event bus settings.
type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	ActivityTopic string   `yaml:"activity_topic"`
	ChangeTopic   string   `yaml:"change_topic"`
	GroupID       string   `yaml:"group_id"`
	Username      string   `yaml:"username"`
	Password      string   `yaml:"password"`
	TLS           bool     `yaml:"tls"`
	InstanceID    string   `yaml:"instance_id"`
	// MaskedKeys are activity metadata keys masked before publishing, on top
	// of email and mobile_number.
	MaskedKeys    []string `yaml:"masked_keys"`
}

// CloudinaryConfig holds avatar storage settings. An empty URL disables
// uploads.
type CloudinaryConfig struct {
	URL    string `yaml:"url"`
	Folder string `yaml:"folder"`
}

// SocialConfig holds provider sign in settings. A provider without a client
// id is disabled.
type SocialConfig struct {
	AllowSignup bool          `yaml:"allow_signup"`
	StateTTL    time.Duration `yaml:"state_ttl"`
	Prompt      string        `yaml:"prompt"`
	Google      OAuthClient   `yaml:"google"`
}

// OAuthClient is one provider registration.
type OAuthClient struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	CallbackURL  string `yaml:"callback_url"`
	HostedDomain string `yaml:"hosted_domain"`
}

// Enabled reports whether the client is configured.
func (o OAuthClient) Enabled() bool {
	return o.ClientID != ""
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

var _ alumni.Config = (*Config)(nil)

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path after loading envFiles into the environment. Missing env
// files are ignored.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := LoadEnv(envFiles...); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "reading config file").
			WithMetadata(map[string]any{"path": path})
	}
	return Parse(data)
}

// LoadEnv loads each existing env file without overriding set variables.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return errors.Wrap(err, errors.CategoryBadInput, "reading env file").
				WithMetadata(map[string]any{"path": f})
		}
	}
	return nil
}

// Parse decodes YAML data, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "parsing config file")
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns a configuration with every optional value set.
func Defaults() *Config {
	cfg := &Config{SecondFactor: SecondFactorConfig{Enabled: true}}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "alumni_session"
	}
	if c.Session.TokenExpiration <= 0 {
		c.Session.TokenExpiration = 24 * time.Hour
	}
	if c.Session.LoginRoute == "" {
		c.Session.LoginRoute = alumni.RouteLogin
	}
	if c.SecondFactor.TTL <= 0 {
		c.SecondFactor.TTL = 10 * time.Minute
	}
	if c.SecondFactor.MaxAttempts <= 0 {
		c.SecondFactor.MaxAttempts = 5
	}
	if c.Platform.DSN == "" {
		c.Platform.DSN = "file:alumni.db?cache=shared"
	}
	if c.Platform.Issuer == "" {
		c.Platform.Issuer = "alumni-portal"
	}
	if c.Registration.PhoneRegion == "" {
		c.Registration.PhoneRegion = alumni.DefaultPhoneRegion
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.Kafka.ActivityTopic == "" {
		c.Kafka.ActivityTopic = "alumni.activity"
	}
	if c.Kafka.ChangeTopic == "" {
		c.Kafka.ChangeTopic = "alumni.changes"
	}
	if c.Cloudinary.Folder == "" {
		c.Cloudinary.Folder = "alumni"
	}
	if c.Social.StateTTL <= 0 {
		c.Social.StateTTL = 10 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case len(c.Platform.SigningKey) < 32:
		return invalid("platform.signing_key must be at least 32 characters")
	case c.SMTP.Host != "" && c.SMTP.From == "":
		return invalid("smtp.from is required when smtp.host is set")
	case c.Kafka.Enabled && len(c.Kafka.Brokers) == 0:
		return invalid("kafka.brokers is required when kafka is enabled")
	case c.Kafka.Enabled && c.Kafka.InstanceID == "":
		return invalid("kafka.instance_id is required when kafka is enabled")
	case c.Social.Google.Enabled() && (c.Social.Google.ClientSecret == "" || c.Social.Google.CallbackURL == ""):
		return invalid("social.google.client_secret and callback_url are required when client_id is set")
	case !strings.HasPrefix(c.Session.LoginRoute, "/"):
		return invalid("session.login_route must be an absolute path")
	}
	return nil
}

func invalid(msg string) error {
	return errors.New(msg, errors.CategoryValidation).
		WithTextCode("INVALID_CONFIG").
		WithCode(errors.CodeBadRequest)
}

// expandEnvVars replaces ${VAR} with the environment value, empty when unset.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) GetSessionCookieName() string {
	return c.Session.CookieName
}

func (c *Config) GetCookieSecure() bool {
	return c.Session.CookieSecure
}

func (c *Config) GetTokenExpiration() time.Duration {
	return c.Session.TokenExpiration
}

func (c *Config) GetLoginRoute() string {
	return c.Session.LoginRoute
}

func (c *Config) GetRequireSecondFactor() bool {
	return c.SecondFactor.Enabled
}

func (c *Config) GetSecondFactorTTL() time.Duration {
	return c.SecondFactor.TTL
}

func (c *Config) GetSecondFactorMaxAttempts() int {
	return c.SecondFactor.MaxAttempts
}
