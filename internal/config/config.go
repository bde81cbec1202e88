// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the relay.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"github.com/shineum/smtp-slack-relay/internal/route"
)

const (
	defaultListen          = ":25"
	defaultDomain          = "localhost"
	defaultMaxMessageSize  = 25 * units.MiB
	defaultMaxRecipients   = 50
	defaultIOTimeout       = 60 * time.Second
	defaultProvider        = "slack"
	defaultChannel         = "#emails"
	defaultSlackAPIURL     = "https://slack.com/api"
	defaultDeliveryTimeout = 10 * time.Second
)

// Providers lists the accepted values of Config.Provider.
var Providers = []string{"slack", "ses", "stdout"}

// Config holds the complete application configuration.
type Config struct {
	Provider string         `yaml:"provider"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Slack    SlackConfig    `yaml:"slack"`
	Routes   []RouteConfig  `yaml:"routes"`
	Delivery DeliveryConfig `yaml:"delivery"`
	SES      SESConfig      `yaml:"ses"`
	Health   HealthConfig   `yaml:"health"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Listen          string        `yaml:"listen"`
	Domain          string        `yaml:"domain"`
	MaxMessageSize  ByteSize      `yaml:"max_message_size"`
	MaxRecipients   int           `yaml:"max_recipients"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	AllowedNetworks []string      `yaml:"allowed_networks"`
}

// SlackConfig holds Slack Web API configuration.
type SlackConfig struct {
	Token          string `yaml:"token"`
	DefaultChannel string `yaml:"default_channel"`
	APIURL         string `yaml:"api_url"`
}

// RouteConfig sends mail for recipients matching Pattern to Channel.
type RouteConfig struct {
	Pattern string `yaml:"pattern"`
	Channel string `yaml:"channel"`
}

// DeliveryConfig bounds each provider call.
type DeliveryConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
	Recipient       string `yaml:"recipient"`
}

// HealthConfig holds the health endpoint configuration.
// An empty Listen disables the endpoints.
type HealthConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ByteSize is a size in bytes that also accepts human-readable
// values such as "25MiB" or "10m".
type ByteSize int64

// UnmarshalYAML accepts either an integer or a size string.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	size, err := units.RAMInBytes(value.Value)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", value.Value, err)
	}
	*b = ByteSize(size)
	return nil
}

func (b ByteSize) String() string {
	return units.BytesSize(float64(b))
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// SESConfigured returns true if the SES region and sender are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// RouteRules returns the configured routes as route table rules.
func (c *Config) RouteRules() []route.Rule {
	rules := make([]route.Rule, 0, len(c.Routes))
	for _, r := range c.Routes {
		rules = append(rules, route.Rule{Pattern: r.Pattern, Channel: r.Channel})
	}
	return rules
}

// Validate reports every setting that would prevent the relay from starting.
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains(Providers, c.Provider) {
		errs = append(errs, fmt.Errorf("unknown provider %q (want one of %s)", c.Provider, strings.Join(Providers, ", ")))
	}
	if c.Provider == "ses" && !c.SESConfigured() {
		errs = append(errs, errors.New("ses provider requires SES_REGION and SES_SENDER"))
	}
	if c.SMTP.Listen == "" {
		errs = append(errs, errors.New("smtp listen address is required"))
	}
	if c.SMTP.MaxMessageSize <= 0 {
		errs = append(errs, fmt.Errorf("smtp max message size must be positive, got %d", c.SMTP.MaxMessageSize))
	}
	if c.SMTP.MaxRecipients < 0 {
		errs = append(errs, fmt.Errorf("smtp max recipients must not be negative, got %d", c.SMTP.MaxRecipients))
	}
	if c.SMTP.ReadTimeout <= 0 || c.SMTP.WriteTimeout <= 0 {
		errs = append(errs, errors.New("smtp read and write timeouts must be positive"))
	}
	for _, n := range c.SMTP.AllowedNetworks {
		if !validNetwork(n) {
			errs = append(errs, fmt.Errorf("invalid allowed network %q", n))
		}
	}
	if strings.TrimSpace(c.Slack.DefaultChannel) == "" {
		errs = append(errs, errors.New("default channel is required"))
	}
	if c.Delivery.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("delivery timeout must be positive, got %s", c.Delivery.Timeout))
	}
	if c.Delivery.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("delivery max retries must not be negative, got %d", c.Delivery.MaxRetries))
	}
	if _, err := route.New(c.Slack.DefaultChannel, c.RouteRules()); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Provider = defaultProvider
	c.SMTP.Listen = defaultListen
	c.SMTP.Domain = defaultDomain
	c.SMTP.MaxMessageSize = defaultMaxMessageSize
	c.SMTP.MaxRecipients = defaultMaxRecipients
	c.SMTP.ReadTimeout = defaultIOTimeout
	c.SMTP.WriteTimeout = defaultIOTimeout
	c.Slack.DefaultChannel = defaultChannel
	c.Slack.APIURL = defaultSlackAPIURL
	c.Delivery.Timeout = defaultDeliveryTimeout
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values; values
// that fail to parse are ignored with a warning.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port < 65536 {
			c.SMTP.Listen = ":" + v
		} else {
			ignored("SMTP_PORT", v)
		}
	}
	if v := os.Getenv("SMTP_LISTEN"); v != "" {
		c.SMTP.Listen = v
	}
	if v := os.Getenv("SMTP_DOMAIN"); v != "" {
		c.SMTP.Domain = v
	}
	if v := os.Getenv("SMTP_MAX_MESSAGE_SIZE"); v != "" {
		if size, err := units.RAMInBytes(v); err == nil {
			c.SMTP.MaxMessageSize = ByteSize(size)
		} else {
			ignored("SMTP_MAX_MESSAGE_SIZE", v)
		}
	}
	envInt("SMTP_MAX_RECIPIENTS", &c.SMTP.MaxRecipients)
	envDuration("SMTP_READ_TIMEOUT", &c.SMTP.ReadTimeout)
	envDuration("SMTP_WRITE_TIMEOUT", &c.SMTP.WriteTimeout)
	if v := os.Getenv("SMTP_ALLOWED_NETWORKS"); v != "" {
		c.SMTP.AllowedNetworks = splitList(v)
	}

	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		c.Slack.Token = v
	}
	if v := os.Getenv("SLACK_DEFAULT_CHANNEL"); v != "" {
		c.Slack.DefaultChannel = v
	}
	if v := os.Getenv("SLACK_API_URL"); v != "" {
		c.Slack.APIURL = v
	}
	if v := os.Getenv("SLACK_ROUTES"); v != "" {
		if rules, err := route.ParseRules(v); err == nil {
			c.Routes = c.Routes[:0]
			for _, r := range rules {
				c.Routes = append(c.Routes, RouteConfig{Pattern: r.Pattern, Channel: r.Channel})
			}
		} else {
			ignored("SLACK_ROUTES", v)
		}
	}

	envDuration("DELIVERY_TIMEOUT", &c.Delivery.Timeout)
	envInt("DELIVERY_MAX_RETRIES", &c.Delivery.MaxRetries)

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}
	if v := os.Getenv("SES_SENDER"); v != "" {
		c.SES.Sender = v
	}
	if v := os.Getenv("SES_RECIPIENT"); v != "" {
		c.SES.Recipient = v
	}

	if v := os.Getenv("HEALTH_LISTEN"); v != "" {
		c.Health.Listen = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		ignored(key, v)
		return
	}
	*dst = n
}

func envDuration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		ignored(key, v)
		return
	}
	*dst = d
}

func ignored(key, value string) {
	slog.Warn("ignoring invalid environment value", "key", key, "value", value)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validNetwork(s string) bool {
	if strings.Contains(s, "/") {
		_, _, err := net.ParseCIDR(s)
		return err == nil
	}
	return net.ParseIP(s) != nil
}
