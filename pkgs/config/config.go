package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigPath is the env var that points to the config file (JSON or YAML).
	EnvConfigPath = "TINYSMTP_CONFIG"
	// EnvSMTPPassword overrides the SMTP password of the selected account.
	EnvSMTPPassword = "TINYSMTP_SMTP_PASSWORD"
)

// SMTPSettings holds the connection settings of an account.
type SMTPSettings struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	// SSL enables implicit TLS (connect directly over TLS).
	SSL bool `json:"ssl" yaml:"ssl"`
	// StartTLS enables opportunistic TLS upgrade after connecting in plaintext.
	StartTLS bool `json:"starttls" yaml:"starttls"`
	// Debug logs the SMTP conversation.
	Debug bool `json:"debug,omitempty" yaml:"debug,omitempty"`

	// Auth is the SASL mechanism: PLAIN (default) or LOGIN.
	Auth      string `json:"auth,omitempty" yaml:"auth,omitempty"`
	LocalName string `json:"local_name,omitempty" yaml:"local_name,omitempty"`
	// MaxMessageSize is a human readable size such as "25MB".
	MaxMessageSize     string `json:"max_message_size,omitempty" yaml:"max_message_size,omitempty"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty"`

	DKIM *DKIMSettings `json:"dkim,omitempty" yaml:"dkim,omitempty"`
}

// DKIMSettings enables DKIM signing with a key read from KeyFile.
type DKIMSettings struct {
	Domain   string `json:"domain" yaml:"domain"`
	Selector string `json:"selector" yaml:"selector"`
	KeyFile  string `json:"key_file" yaml:"key_file"`
}

// AccountConfig holds email account configuration
type AccountConfig struct {
	Name     string `json:"name" yaml:"name"`
	Email    string `json:"email" yaml:"email"`
	FromName string `json:"from_name,omitempty" yaml:"from_name,omitempty"`
	ReplyTo  string `json:"reply_to,omitempty" yaml:"reply_to,omitempty"`

	SMTP SMTPSettings `json:"smtp" yaml:"smtp"`
}

// From returns the From header value for the account.
func (a *AccountConfig) From() string {
	if a.FromName != "" {
		return fmt.Sprintf("%s <%s>", a.FromName, a.Email)
	}
	return a.Email
}

// MaxMessageBytes parses SMTP.MaxMessageSize; 0 means no limit.
func (a *AccountConfig) MaxMessageBytes() (int64, error) {
	if a.SMTP.MaxMessageSize == "" {
		return 0, nil
	}
	n, err := units.FromHumanSize(a.SMTP.MaxMessageSize)
	if err != nil {
		return 0, fmt.Errorf("invalid max_message_size %q: %w", a.SMTP.MaxMessageSize, err)
	}
	return n, nil
}

// Config holds the application configuration
//
// accounts is a map keyed by account name.
// default_account selects the account when none is specified.
type Config struct {
	Accounts       map[string]AccountConfig `json:"accounts" yaml:"accounts"`
	DefaultAccount string                   `json:"default_account,omitempty" yaml:"default_account,omitempty"`
}

// RootConfig nests the app config under "mail".
type RootConfig struct {
	Mail Config `json:"mail" yaml:"mail"`
}

// LoadConfig loads the file named by EnvConfigPath.
func LoadConfig() (*Config, error) {
	path, err := GetEnvConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadConfigFile(path)
}

// LoadConfigFile loads configuration from a JSON or YAML file path.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return parseRootConfig(data, isYAML(path))
}

// SaveConfig saves configuration to a JSON or YAML file path.
func SaveConfig(path string, root *RootConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(root)
	} else {
		data, err = json.MarshalIndent(root, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetEnvConfigPath returns the config file path from EnvConfigPath.
func GetEnvConfigPath() (string, error) {
	path := strings.TrimSpace(os.Getenv(EnvConfigPath))
	if path == "" {
		return "", fmt.Errorf("%s is not set", EnvConfigPath)
	}
	return path, nil
}

// GetAccount returns an account by name or email. The SMTP password is
// taken from EnvSMTPPassword when that is set.
func (c *Config) GetAccount(identifier string) (*AccountConfig, error) {
	acc, err := c.findAccount(identifier)
	if err != nil {
		return nil, err
	}
	if pw := os.Getenv(EnvSMTPPassword); pw != "" {
		acc.SMTP.Password = pw
	}
	return acc, nil
}

func (c *Config) findAccount(identifier string) (*AccountConfig, error) {
	if len(c.Accounts) == 0 {
		return nil, fmt.Errorf("no accounts configured")
	}

	if identifier == "" {
		if c.DefaultAccount != "" {
			identifier = c.DefaultAccount
		} else {
			// Deterministic fallback to the first key
			keys := make([]string, 0, len(c.Accounts))
			for k := range c.Accounts {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			identifier = keys[0]
		}
	}

	// Direct name match (map key)
	if acc, ok := c.Accounts[identifier]; ok {
		if acc.Name == "" {
			acc.Name = identifier
		}
		return &acc, nil
	}

	// Search by name or email fields
	for name, acc := range c.Accounts {
		if acc.Name == identifier || acc.Email == identifier {
			if acc.Name == "" {
				acc.Name = name
			}
			return &acc, nil
		}
	}

	return nil, fmt.Errorf("account not found: %s", identifier)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("no accounts configured")
	}

	for name, acc := range c.Accounts {
		if acc.Name == "" {
			acc.Name = name
		}
		if err := acc.validate(); err != nil {
			return fmt.Errorf("account %s: %w", acc.Name, err)
		}
	}

	if c.DefaultAccount != "" {
		if _, ok := c.Accounts[c.DefaultAccount]; !ok {
			return fmt.Errorf("default_account not found: %s", c.DefaultAccount)
		}
	}

	return nil
}

func (a *AccountConfig) validate() error {
	if a.Email == "" {
		return fmt.Errorf("email is required")
	}
	if a.SMTP.Host == "" {
		return fmt.Errorf("smtp.host is required")
	}
	if a.SMTP.Port < 0 || a.SMTP.Port > 65535 {
		return fmt.Errorf("smtp.port %d out of range", a.SMTP.Port)
	}
	switch strings.ToUpper(a.SMTP.Auth) {
	case "", "PLAIN", "LOGIN":
	default:
		return fmt.Errorf("smtp.auth %q is not supported (PLAIN or LOGIN)", a.SMTP.Auth)
	}
	if _, err := a.MaxMessageBytes(); err != nil {
		return err
	}
	if d := a.SMTP.DKIM; d != nil {
		if d.Domain == "" || d.Selector == "" || d.KeyFile == "" {
			return fmt.Errorf("smtp.dkim needs domain, selector and key_file")
		}
	}
	return nil
}

// ExampleRootConfig returns an example configuration for "init".
func ExampleRootConfig() *RootConfig {
	return &RootConfig{
		Mail: Config{
			DefaultAccount: "work",
			Accounts: map[string]AccountConfig{
				"work": {
					Name:     "Work Account",
					Email:    "user@example.com",
					FromName: "Your Name",
					SMTP: SMTPSettings{
						Host:           "smtp.example.com",
						Port:           587,
						Username:       "user@example.com",
						StartTLS:       true,
						MaxMessageSize: "25MB",
					},
				},
			},
		},
	}
}

// --- internal helpers ---

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func parseRootConfig(data []byte, yamlFormat bool) (*Config, error) {
	var root RootConfig
	var err error
	if yamlFormat {
		err = yaml.Unmarshal(data, &root)
	} else {
		err = json.Unmarshal(data, &root)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := &root.Mail
	if cfg.Accounts == nil {
		return nil, fmt.Errorf("missing required key: mail.accounts")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
