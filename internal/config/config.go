// Package config loads service configuration from defaults, an optional
// YAML file, and the environment (highest precedence).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/imrishuroy/grant-access/internal/access"
)

// FileEnv names the environment variable pointing at an optional YAML file.
const FileEnv = "GRANTACCESS_CONFIG"

// Config is the merged configuration. Keys match their environment names
// lower-cased, e.g. ACCESS_REQUESTS_TABLE / access_requests_table.
type Config struct {
	AWSRegion string `mapstructure:"aws_region"`

	AccessRequestsTable string `mapstructure:"access_requests_table"`
	AccessPairsTable    string `mapstructure:"access_pairs_table"`
	ListingsTable       string `mapstructure:"listings_table"`
	UsersTable          string `mapstructure:"users_table"`
	NotificationsTable  string `mapstructure:"notifications_table"`
	WebhookEventsTable  string `mapstructure:"webhook_events_table"`

	NotificationsQueueURL string `mapstructure:"notifications_queue_url"`

	StripeSecretKey     string `mapstructure:"stripe_secret_key"`
	StripeWebhookSecret string `mapstructure:"stripe_webhook_secret"`

	PaymentCurrency    string `mapstructure:"payment_currency"`
	MaxPaymentAttempts int    `mapstructure:"max_payment_attempts"`
	BulkDeleteLimit    int    `mapstructure:"bulk_delete_limit"`
	PaymentLinkBaseURL string `mapstructure:"payment_link_base_url"`

	AdminNotifyEmail string `mapstructure:"admin_notify_email"`
	EmailFrom        string `mapstructure:"email_from"`

	MetricsNamespace string        `mapstructure:"metrics_namespace"`
	WebhookDedupTTL  time.Duration `mapstructure:"webhook_dedup_ttl"`

	RunLocal bool   `mapstructure:"run_local"`
	HTTPAddr string `mapstructure:"http_addr"`
	LogLevel string `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("aws_region", "us-east-1")
	v.SetDefault("access_requests_table", "access-requests")
	v.SetDefault("access_pairs_table", "access-pairs")
	v.SetDefault("listings_table", "listings")
	v.SetDefault("users_table", "users")
	v.SetDefault("notifications_table", "notifications")
	v.SetDefault("webhook_events_table", "webhook-events")
	v.SetDefault("notifications_queue_url", "")
	v.SetDefault("stripe_secret_key", "")
	v.SetDefault("stripe_webhook_secret", "")
	v.SetDefault("payment_currency", access.DefaultCurrency)
	v.SetDefault("max_payment_attempts", access.DefaultMaxPaymentAttempts)
	v.SetDefault("bulk_delete_limit", access.DefaultBulkDeleteLimit)
	v.SetDefault("payment_link_base_url", "")
	v.SetDefault("admin_notify_email", "")
	v.SetDefault("email_from", "")
	v.SetDefault("metrics_namespace", "GrantAccess")
	v.SetDefault("webhook_dedup_ttl", 72*time.Hour)
	v.SetDefault("run_local", false)
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
}

// Load reads defaults, then the file named by GRANTACCESS_CONFIG if set,
// then environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv(FileEnv); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.PaymentCurrency = strings.ToLower(cfg.PaymentCurrency)
	return &cfg, nil
}

// Validate checks settings every binary needs.
func (c *Config) Validate() error {
	var errs []error
	for name, val := range map[string]string{
		"ACCESS_REQUESTS_TABLE": c.AccessRequestsTable,
		"ACCESS_PAIRS_TABLE":    c.AccessPairsTable,
		"LISTINGS_TABLE":        c.ListingsTable,
		"USERS_TABLE":           c.UsersTable,
		"NOTIFICATIONS_TABLE":   c.NotificationsTable,
		"WEBHOOK_EVENTS_TABLE":  c.WebhookEventsTable,
	} {
		if val == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	if c.MaxPaymentAttempts <= 0 {
		errs = append(errs, errors.New("MAX_PAYMENT_ATTEMPTS must be positive"))
	}
	if c.BulkDeleteLimit <= 0 {
		errs = append(errs, errors.New("BULK_DELETE_LIMIT must be positive"))
	}
	if len(c.PaymentCurrency) != 3 {
		errs = append(errs, fmt.Errorf("PAYMENT_CURRENCY %q is not an ISO code", c.PaymentCurrency))
	}
	return errors.Join(errs...)
}

// ValidatePayments checks settings the payment-facing API needs.
func (c *Config) ValidatePayments() error {
	var errs []error
	if c.StripeSecretKey == "" {
		errs = append(errs, errors.New("STRIPE_SECRET_KEY is required"))
	}
	if c.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required"))
	}
	return errors.Join(errs...)
}

// Engine returns the access engine settings.
func (c *Config) Engine() access.Config {
	return access.Config{
		Currency:           c.PaymentCurrency,
		MaxPaymentAttempts: c.MaxPaymentAttempts,
		BulkDeleteLimit:    c.BulkDeleteLimit,
		PaymentLinkBaseURL: c.PaymentLinkBaseURL,
	}
}

// Logger builds the JSON logger used by every binary.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
