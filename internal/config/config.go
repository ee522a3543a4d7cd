package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "KERNELBOARD"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultLogLevel          = "info"
	defaultWorkerInterval    = 5 * time.Minute
	defaultWebhookTimeout    = 10 * time.Second
	defaultMessageSpacing    = time.Second
	defaultRetryAfter        = 5 * time.Second
	defaultSessionIssuer     = "kernelboard"
	defaultSessionCookieName = "kernelboard_session"
)

// Keys shared by the worker and the API.
const (
	KeyDatabaseURL              = "database.url"
	KeyLogLevel                 = "log.level"
	KeyWebhookURL               = "webhook.url"
	KeyWorkerInterval           = "worker.interval"
	KeyWebhookTimeout           = "webhook.timeout"
	KeyWebhookMessageSpacing    = "webhook.message_spacing"
	KeyWebhookDefaultRetryAfter = "webhook.default_retry_after"
	KeyHTTPAddress              = "http.address"
	KeyRedisURL                 = "redis.url"
	KeySessionSigningSecret     = "session.signing_secret"
	KeySessionIssuer            = "session.issuer"
	KeySessionCookieName        = "session.cookie_name"
	KeyAdminIdentities          = "admin.identities"
)

// legacyEnv maps keys to the environment names used by earlier deployments.
var legacyEnv = map[string]string{
	KeyDatabaseURL: "DATABASE_URL",
	KeyWebhookURL:  "DISCORD_RANKING_WEBHOOK_URL",
	KeyRedisURL:    "REDIS_URL",
}

// WorkerConfig captures runtime configuration for the ranking worker.
type WorkerConfig struct {
	DatabaseURL       string
	WebhookURL        string
	LogLevel          string
	Interval          time.Duration
	WebhookTimeout    time.Duration
	MessageSpacing    time.Duration
	DefaultRetryAfter time.Duration
}

// APIConfig captures runtime configuration for the read API.
type APIConfig struct {
	HTTPAddress          string
	DatabaseURL          string
	RedisURL             string
	SessionSigningSecret string
	SessionIssuer        string
	SessionCookieName    string
	AdminIdentities      []string
	LogLevel             string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
// Prefixed variables such as KERNELBOARD_DATABASE_URL take precedence over the
// legacy names.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	for key, legacyName := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = configViper.BindEnv(key, prefixed, legacyName)
	}

	configViper.SetDefault(KeyHTTPAddress, defaultHTTPAddress)
	configViper.SetDefault(KeyLogLevel, defaultLogLevel)
	configViper.SetDefault(KeyWorkerInterval, defaultWorkerInterval)
	configViper.SetDefault(KeyWebhookTimeout, defaultWebhookTimeout)
	configViper.SetDefault(KeyWebhookMessageSpacing, defaultMessageSpacing)
	configViper.SetDefault(KeyWebhookDefaultRetryAfter, defaultRetryAfter)
	configViper.SetDefault(KeySessionIssuer, defaultSessionIssuer)
	configViper.SetDefault(KeySessionCookieName, defaultSessionCookieName)
}

// LoadWorker parses worker configuration. The webhook URL is optional in dry-run mode.
func LoadWorker(configViper *viper.Viper, dryRun bool) (WorkerConfig, error) {
	cfg := WorkerConfig{
		DatabaseURL:       strings.TrimSpace(configViper.GetString(KeyDatabaseURL)),
		WebhookURL:        strings.TrimSpace(configViper.GetString(KeyWebhookURL)),
		LogLevel:          configViper.GetString(KeyLogLevel),
		Interval:          configViper.GetDuration(KeyWorkerInterval),
		WebhookTimeout:    configViper.GetDuration(KeyWebhookTimeout),
		MessageSpacing:    configViper.GetDuration(KeyWebhookMessageSpacing),
		DefaultRetryAfter: configViper.GetDuration(KeyWebhookDefaultRetryAfter),
	}

	if err := cfg.validate(dryRun); err != nil {
		return WorkerConfig{}, err
	}
	return cfg, nil
}

func (c WorkerConfig) validate(dryRun bool) error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s is required", KeyDatabaseURL)
	}
	if c.WebhookURL == "" && !dryRun {
		return fmt.Errorf("%s is required", KeyWebhookURL)
	}
	for key, value := range map[string]time.Duration{
		KeyWorkerInterval:           c.Interval,
		KeyWebhookTimeout:           c.WebhookTimeout,
		KeyWebhookDefaultRetryAfter: c.DefaultRetryAfter,
	} {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	if c.MessageSpacing < 0 {
		return fmt.Errorf("%s must not be negative", KeyWebhookMessageSpacing)
	}
	return nil
}

// LoadAPI parses read API configuration.
func LoadAPI(configViper *viper.Viper) (APIConfig, error) {
	cfg := APIConfig{
		HTTPAddress:          strings.TrimSpace(configViper.GetString(KeyHTTPAddress)),
		DatabaseURL:          strings.TrimSpace(configViper.GetString(KeyDatabaseURL)),
		RedisURL:             strings.TrimSpace(configViper.GetString(KeyRedisURL)),
		SessionSigningSecret: configViper.GetString(KeySessionSigningSecret),
		SessionIssuer:        configViper.GetString(KeySessionIssuer),
		SessionCookieName:    configViper.GetString(KeySessionCookieName),
		AdminIdentities:      splitList(configViper.GetStringSlice(KeyAdminIdentities)),
		LogLevel:             configViper.GetString(KeyLogLevel),
	}

	if err := cfg.validate(); err != nil {
		return APIConfig{}, err
	}
	return cfg, nil
}

func (c APIConfig) validate() error {
	if c.HTTPAddress == "" {
		return fmt.Errorf("%s is required", KeyHTTPAddress)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s is required", KeyDatabaseURL)
	}
	if len(c.AdminIdentities) > 0 && strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("%s is required when %s is set", KeySessionSigningSecret, KeyAdminIdentities)
	}
	return nil
}

// splitList accepts both list values from a config file and comma or space
// separated strings from the environment.
func splitList(values []string) []string {
	var result []string
	for _, value := range values {
		for _, item := range strings.FieldsFunc(value, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n'
		}) {
			result = append(result, item)
		}
	}
	return result
}
