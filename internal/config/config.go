// Package config loads the engine configuration from a YAML file and maps
// it onto the options of the individual components.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"go.arvum.net/jitaccess/internal/catalog"
	"go.arvum.net/jitaccess/internal/token"
)

// Duration wraps time.Duration so YAML can carry values like "30m" or "1h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// AsDuration returns the wrapped time.Duration.
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

// Config is the engine configuration.
type Config struct {
	// Scope constrains all policy analysis: organizations/{id}, folders/{id},
	// or projects/{id}.
	Scope string `yaml:"scope"`

	// ServiceAccountEmail names the service account that signs activation
	// tokens. It doubles as token issuer and audience.
	ServiceAccountEmail string `yaml:"serviceAccountEmail"`

	// AvailableProjectsQuery, when set, switches project listing from policy
	// analysis to a resource-manager search with this query.
	AvailableProjectsQuery string `yaml:"availableProjectsQuery,omitempty"`

	MaxActivationDuration Duration `yaml:"maxActivationDuration"`
	MinActivationDuration Duration `yaml:"minActivationDuration,omitempty"`

	// TokenValidity bounds how long a peer-approval request stays approvable.
	TokenValidity Duration `yaml:"tokenValidity,omitempty"`

	MinReviewers             int `yaml:"minReviewers,omitempty"`
	MaxReviewers             int `yaml:"maxReviewers,omitempty"`
	MaxJitBindingsPerRequest int `yaml:"maxJitBindingsPerRequest,omitempty"`

	// JustificationPattern, when set, must match every justification.
	JustificationPattern string `yaml:"justificationPattern,omitempty"`
	JustificationHint    string `yaml:"justificationHint,omitempty"`

	Email EmailConfig `yaml:"email,omitempty"`
}

// EmailConfig configures mail delivery. Leaving APIKey empty disables
// delivery, which also disables peer approval.
type EmailConfig struct {
	// APIKey authenticates against the Resend API.
	APIKey string `yaml:"apiKey,omitempty"`

	From    string `yaml:"from,omitempty"`
	ReplyTo string `yaml:"replyTo,omitempty"`

	// TemplatePath overrides the notification template compiled into the
	// binary.
	TemplatePath string `yaml:"templatePath,omitempty"`
}

// Enabled reports whether mail delivery is configured.
func (e EmailConfig) Enabled() bool {
	return e.APIKey != ""
}

var scopePattern = regexp.MustCompile(`^(organizations|folders|projects)/[^/]+$`)

// Load reads, defaults, and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("configuration %s: %w", path, err)
	}
	return cfg, nil
}

// Parse unmarshals, defaults, and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MinActivationDuration == 0 {
		c.MinActivationDuration = Duration(catalog.DefaultMinActivationDuration)
	}
	if c.TokenValidity == 0 {
		c.TokenValidity = Duration(token.DefaultValidity)
	}
	if c.MinReviewers == 0 {
		c.MinReviewers = catalog.DefaultMinReviewers
	}
	if c.MaxReviewers == 0 {
		c.MaxReviewers = catalog.DefaultMaxReviewers
	}
	if c.MaxJitBindingsPerRequest == 0 {
		c.MaxJitBindingsPerRequest = catalog.DefaultMaxJitBindingsPerRequest
	}
}

// Validate reports the first configuration problem. The component
// constructors re-check their own slices; this catches mistakes before any
// client is built.
func (c *Config) Validate() error {
	if c.Scope == "" {
		return fmt.Errorf("scope is required")
	}
	if !scopePattern.MatchString(c.Scope) {
		return fmt.Errorf("scope %q must be organizations/{id}, folders/{id}, or projects/{id}", c.Scope)
	}
	if c.ServiceAccountEmail == "" {
		return fmt.Errorf("serviceAccountEmail is required")
	}
	if c.MaxActivationDuration <= 0 {
		return fmt.Errorf("maxActivationDuration is required")
	}
	if c.MinActivationDuration > c.MaxActivationDuration {
		return fmt.Errorf("minActivationDuration %s exceeds maxActivationDuration %s",
			c.MinActivationDuration.AsDuration(), c.MaxActivationDuration.AsDuration())
	}
	if _, err := c.CompileJustificationPattern(); err != nil {
		return err
	}
	if c.Email.Enabled() && c.Email.From == "" {
		return fmt.Errorf("email.from is required when email delivery is configured")
	}
	return nil
}

// CompileJustificationPattern compiles the configured pattern, nil when
// unset.
func (c *Config) CompileJustificationPattern() (*regexp.Regexp, error) {
	if c.JustificationPattern == "" {
		return nil, nil
	}
	pattern, err := regexp.Compile(c.JustificationPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid justificationPattern: %w", err)
	}
	return pattern, nil
}

// CatalogOptions maps the configuration onto catalog options.
func (c *Config) CatalogOptions() catalog.Options {
	return catalog.Options{
		Scope:                    c.Scope,
		AvailableProjectsQuery:   c.AvailableProjectsQuery,
		MaxActivationDuration:    c.MaxActivationDuration.AsDuration(),
		MinActivationDuration:    c.MinActivationDuration.AsDuration(),
		MinReviewers:             c.MinReviewers,
		MaxReviewers:             c.MaxReviewers,
		MaxJitBindingsPerRequest: c.MaxJitBindingsPerRequest,
	}
}

// TokenOptions maps the configuration onto token service options.
func (c *Config) TokenOptions() token.Options {
	return token.Options{
		ServiceAccount: c.ServiceAccountEmail,
		Validity:       c.TokenValidity.AsDuration(),
	}
}
