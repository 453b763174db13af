// Package config provides layered configuration loading for the relay
// webhook: defaults, an optional YAML file, the legacy relay conf file, and
// environment variables, which always win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultMaxBodySize is 50 MB in bytes.
const defaultMaxBodySize = 52428800

// Config holds the complete application configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Relay     RelayConfig     `yaml:"relay"`
	Transport TransportConfig `yaml:"transport"`
	SES       SESConfig       `yaml:"ses"`
	Graph     GraphConfig     `yaml:"graph"`
	Archive   ArchiveConfig   `yaml:"archive"`
	History   HistoryConfig   `yaml:"history"`
	TLS       TLSConfig       `yaml:"tls"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// HTTPConfig holds the webhook listener configuration.
type HTTPConfig struct {
	Listen      string `yaml:"listen"`
	Path        string `yaml:"path"`
	MaxBodySize int64  `yaml:"max_body_size"`
	// TokenHash is a bcrypt hash of the shared X-Webhook-Token value.
	// Token checks are disabled when empty.
	TokenHash    string   `yaml:"token_hash"`
	AllowOrigins []string `yaml:"allow_origins"`
}

// RelayConfig holds the sending identity and working directories.
type RelayConfig struct {
	// ConfigFile is the legacy key=value file with DOMAIN, SENDER_EMAIL and
	// EMAIL_LIST. A missing file leaves the defaults in place.
	ConfigFile  string `yaml:"config_file"`
	Domain      string `yaml:"domain"`
	SenderEmail string `yaml:"sender_email"`
	EmailList   string `yaml:"email_list"`
	TempDir     string `yaml:"temp_dir"`
}

// TransportConfig selects and tunes the outbound transport.
type TransportConfig struct {
	Type    string        `yaml:"type"`
	Script  string        `yaml:"script"`
	Mode    string        `yaml:"mode"`
	Timeout time.Duration `yaml:"timeout"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// GraphConfig holds Microsoft Graph client-credentials configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// ArchiveConfig holds the S3 raw-message archive configuration.
type ArchiveConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// HistoryConfig holds the relay history database configuration.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// TLSConfig holds TLS settings for the webhook listener.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	Hostname string `yaml:"hostname"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// Load loads configuration from defaults, the legacy relay conf file and
// environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg.finish()
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then applies the legacy relay conf file and environment variables.
// Returns an error if the specified file path does not exist.
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

	return cfg.finish()
}

func (c *Config) finish() (*Config, error) {
	// RELAY_CONFIG_FILE must be known before the file is read.
	if v := os.Getenv("RELAY_CONFIG_FILE"); v != "" {
		c.Relay.ConfigFile = v
	}
	if c.Relay.ConfigFile != "" {
		if err := c.applyLegacyFile(c.Relay.ConfigFile); err != nil {
			slog.Warn("could not load relay config file, using defaults",
				"path", c.Relay.ConfigFile,
				"error", err,
			)
		}
	}

	c.applyEnvVars()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// ArchiveEnabled returns true if an archive bucket is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.Archive.Bucket != ""
}

// HistoryEnabled returns true if a history database path is configured.
func (c *Config) HistoryEnabled() bool {
	return c.History.Path != ""
}

// TokenRequired returns true if webhook requests must carry a token.
func (c *Config) TokenRequired() bool {
	return c.HTTP.TokenHash != ""
}

// SESSender returns the configured SES sender, falling back to the relay
// sender address.
func (c *Config) SESSender() string {
	if c.SES.Sender != "" {
		return c.SES.Sender
	}
	return c.Relay.SenderEmail
}

// GraphSender returns the mailbox Graph sends as, falling back to the relay
// sender address.
func (c *Config) GraphSender() string {
	if c.Graph.Sender != "" {
		return c.Graph.Sender
	}
	return c.Relay.SenderEmail
}

// Validate checks that the configuration can run the webhook.
func (c *Config) Validate() error {
	if c.HTTP.Listen == "" {
		return fmt.Errorf("http listen address cannot be empty")
	}
	if !strings.HasPrefix(c.HTTP.Path, "/") {
		return fmt.Errorf("webhook path must start with /: %q", c.HTTP.Path)
	}
	if c.HTTP.MaxBodySize <= 0 {
		return fmt.Errorf("max_body_size must be positive")
	}

	if c.Relay.Domain == "" || strings.ContainsAny(c.Relay.Domain, "@ \t\r\n\"<>") {
		return fmt.Errorf("invalid relay domain: %q", c.Relay.Domain)
	}
	if c.Relay.EmailList == "" {
		return fmt.Errorf("email_list cannot be empty")
	}
	if c.Relay.TempDir == "" {
		return fmt.Errorf("temp_dir cannot be empty")
	}

	switch c.Transport.Type {
	case "script":
		if c.Transport.Script == "" {
			return fmt.Errorf("transport script cannot be empty")
		}
	case "ses":
		if c.SES.Region == "" {
			return fmt.Errorf("ses region is required for the ses transport")
		}
	case "graph":
		if c.Graph.TenantID == "" || c.Graph.ClientID == "" || c.Graph.ClientSecret == "" {
			return fmt.Errorf("graph tenant_id, client_id and client_secret are required for the graph transport")
		}
	case "stdout":
	default:
		return fmt.Errorf("unknown transport: %q", c.Transport.Type)
	}
	if c.Transport.Timeout <= 0 {
		return fmt.Errorf("transport timeout must be positive")
	}

	if c.TLS.Enabled && (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("tls cert_file and key_file must be set together")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	return nil
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.HTTP.Listen = ":8080"
	c.HTTP.Path = "/webhook/email"
	c.HTTP.MaxBodySize = defaultMaxBodySize

	c.Relay.ConfigFile = "relay.conf"
	c.Relay.Domain = "example.com"
	c.Relay.SenderEmail = "noreply@example.com"
	c.Relay.EmailList = "emaillist.txt"
	c.Relay.TempDir = "./webhook_temp"

	c.Transport.Type = "script"
	c.Transport.Script = "./send_bulk_email.sh"
	c.Transport.Mode = "relay"
	c.Transport.Timeout = 30 * time.Second

	c.TLS.Hostname = "localhost"

	c.Logging.Level = "info"
	c.Logging.Dir = "./webhook_logs"
}

// applyLegacyFile reads DOMAIN, SENDER_EMAIL and EMAIL_LIST from a key=value
// file. Values may be quoted; lines starting with # are ignored.
func (c *Config) applyLegacyFile(path string) error {
	values, err := ParseLegacyFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if v := values["DOMAIN"]; v != "" {
		c.Relay.Domain = v
	}
	if v := values["SENDER_EMAIL"]; v != "" {
		c.Relay.SenderEmail = v
	}
	if v := values["EMAIL_LIST"]; v != "" {
		c.Relay.EmailList = v
	}
	slog.Info("relay config file loaded",
		"path", path,
		"domain", c.Relay.Domain,
	)
	return nil
}

// ParseLegacyFile parses a key=value file into a map.
func ParseLegacyFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read relay config file: %w", err)
	}

	values := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" || strings.Contains(key, "#") {
			continue
		}
		values[key] = strings.TrimSpace(strings.Trim(strings.TrimSpace(value), `"'`))
	}
	return values, nil
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("PORT"); v != "" {
		c.HTTP.Listen = ":" + v
	}
	if v := os.Getenv("WEBHOOK_LISTEN"); v != "" {
		c.HTTP.Listen = v
	}
	if v := os.Getenv("WEBHOOK_PATH"); v != "" {
		c.HTTP.Path = v
	}
	if v := os.Getenv("WEBHOOK_MAX_BODY_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.HTTP.MaxBodySize = size
		}
	}
	if v := os.Getenv("WEBHOOK_TOKEN_HASH"); v != "" {
		c.HTTP.TokenHash = v
	}
	if v := os.Getenv("WEBHOOK_ALLOW_ORIGINS"); v != "" {
		c.HTTP.AllowOrigins = splitList(v)
	}

	if v := os.Getenv("DOMAIN"); v != "" {
		c.Relay.Domain = v
	}
	if v := os.Getenv("SENDER_EMAIL"); v != "" {
		c.Relay.SenderEmail = v
	}
	if v := os.Getenv("EMAIL_LIST"); v != "" {
		c.Relay.EmailList = v
	}
	if v := os.Getenv("TEMP_DIR"); v != "" {
		c.Relay.TempDir = v
	}

	if v := os.Getenv("TRANSPORT"); v != "" {
		c.Transport.Type = strings.ToLower(v)
	}
	if v := os.Getenv("RELAY_SCRIPT"); v != "" {
		c.Transport.Script = v
	}
	if v := os.Getenv("RELAY_MODE"); v != "" {
		c.Transport.Mode = v
	}
	if v := os.Getenv("RELAY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Transport.Timeout = d
		}
	}

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

	if v := os.Getenv("GRAPH_TENANT_ID"); v != "" {
		c.Graph.TenantID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_ID"); v != "" {
		c.Graph.ClientID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_SECRET"); v != "" {
		c.Graph.ClientSecret = v
	}
	if v := os.Getenv("GRAPH_SENDER"); v != "" {
		c.Graph.Sender = v
	}

	if v := os.Getenv("ARCHIVE_BUCKET"); v != "" {
		c.Archive.Bucket = v
	}
	if v := os.Getenv("ARCHIVE_PREFIX"); v != "" {
		c.Archive.Prefix = v
	}
	if v := os.Getenv("ARCHIVE_REGION"); v != "" {
		c.Archive.Region = v
	}
	if v := os.Getenv("ARCHIVE_ENDPOINT"); v != "" {
		c.Archive.Endpoint = v
	}

	if v := os.Getenv("HISTORY_PATH"); v != "" {
		c.History.Path = v
	}

	if v := os.Getenv("TLS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.TLS.Enabled = b
		}
	}
	if v := os.Getenv("TLS_CERT_FILE"); v != "" {
		c.TLS.CertFile = v
	}
	if v := os.Getenv("TLS_KEY_FILE"); v != "" {
		c.TLS.KeyFile = v
	}
	if v := os.Getenv("TLS_HOSTNAME"); v != "" {
		c.TLS.Hostname = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		c.Logging.Dir = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
