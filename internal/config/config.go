package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "GARAGE"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "garage.db"
	defaultLogLevel      = "info"
	defaultTokenTTL      = 12 * time.Hour
	defaultLocalesDir    = "locales"
	defaultLocale        = "en"
	defaultMailMode      = "simulated"
	defaultLookupTimeout = 10 * time.Second
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	LogLevel       string
	SigningSecret  string
	TokenTTL       time.Duration
	RedisAddress   string
	RedisPassword  string
	RegistryURL    string
	RegistryAPIKey string
	LookupTimeout  time.Duration
	MailMode       string
	LocalesDir     string
	DefaultLocale  string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", int(defaultTokenTTL.Minutes()))
	configViper.SetDefault("redis.address", "")
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("registry.url", "")
	configViper.SetDefault("registry.api_key", "")
	configViper.SetDefault("registry.timeout_seconds", int(defaultLookupTimeout.Seconds()))
	configViper.SetDefault("mail.mode", defaultMailMode)
	configViper.SetDefault("i18n.locales_dir", defaultLocalesDir)
	configViper.SetDefault("i18n.default_locale", defaultLocale)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		TokenTTL:       time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		RedisAddress:   configViper.GetString("redis.address"),
		RedisPassword:  configViper.GetString("redis.password"),
		RegistryURL:    configViper.GetString("registry.url"),
		RegistryAPIKey: configViper.GetString("registry.api_key"),
		LookupTimeout:  time.Duration(configViper.GetInt("registry.timeout_seconds")) * time.Second,
		MailMode:       configViper.GetString("mail.mode"),
		LocalesDir:     configViper.GetString("i18n.locales_dir"),
		DefaultLocale:  configViper.GetString("i18n.default_locale"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.MailMode)) {
	case "simulated", "disabled":
	default:
		return fmt.Errorf("mail.mode must be simulated or disabled")
	}
	return nil
}
