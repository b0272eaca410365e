package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/machconn/pkg/connector/core"
	"github.com/ajitpratap0/machconn/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ServiceConfig is the root of a service descriptor file
type ServiceConfig struct {
	// Connectors lists the connector instances of the service
	Connectors []ConnectorConfig `yaml:"connectors" json:"connectors"`
}

// ConnectorConfig describes one connector instance of a service.
// Fields tagged with default are filled by ApplyDefaults when left empty;
// fields tagged required must be present after defaults are applied.
type ConnectorConfig struct {
	// Name identifies the connector instance
	Name string `yaml:"name" json:"name" required:"true"`
	// Type selects the registered binding (e.g. "timeseries", "twin", "file")
	Type string `yaml:"type" json:"type" required:"true"`

	Host         string `yaml:"host" json:"host" default:"localhost"`
	Port         int    `yaml:"port" json:"port"`
	Schema       string `yaml:"schema" json:"schema" default:"TCP"`
	EndpointPath string `yaml:"endpointPath" json:"endpoint_path"`

	ApplicationID          string `yaml:"applicationId" json:"application_id"`
	ApplicationDescription string `yaml:"applicationDescription" json:"application_description"`
	AutoApplicationID      bool   `yaml:"autoApplicationId" json:"auto_application_id"`

	// Durations accept Go duration strings ("250ms") or integer milliseconds.
	// Unset durations keep the connector parameter defaults; 0 disables.
	RequestTimeout       *Duration `yaml:"requestTimeout" json:"request_timeout"`
	NotificationInterval *Duration `yaml:"notificationInterval" json:"notification_interval"`
	KeepAlive            *Duration `yaml:"keepAlive" json:"keep_alive"`

	// Identity maps endpoints to identity tokens; "" is the fallback token
	Identity map[string]core.IdentityToken `yaml:"identity" json:"identity"`
	// Settings are the binding specific settings
	Settings map[string]string `yaml:"settings" json:"settings"`
}

// Duration is a time.Duration that decodes from YAML duration strings or
// integer milliseconds
type Duration time.Duration

// D returns the value as time.Duration
func (d Duration) D() time.Duration { return time.Duration(d) }

// DurationOf returns a pointer to d, for building configs in code
func DurationOf(d time.Duration) *Duration {
	v := Duration(d)
	return &v
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	s := strings.TrimSpace(value.Value)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", value.Line, s)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

var validSchemas = map[core.Schema]bool{
	core.SchemaTCP:    true,
	core.SchemaSSL:    true,
	core.SchemaHTTP:   true,
	core.SchemaHTTPS:  true,
	core.SchemaWS:     true,
	core.SchemaWSS:    true,
	core.SchemaIGNORE: true,
}

// Validate validates the connector configuration. Call ApplyDefaults first.
func (c *ConnectorConfig) Validate() error {
	if err := checkRequired(c); err != nil {
		return err
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.Newf(errors.ErrorTypeConfig, "connector %s: port %d out of range", c.Name, c.Port)
	}
	if !validSchemas[core.Schema(strings.ToUpper(c.Schema))] {
		return errors.Newf(errors.ErrorTypeConfig, "connector %s: unknown schema %q", c.Name, c.Schema)
	}
	for field, d := range map[string]*Duration{
		"requestTimeout":       c.RequestTimeout,
		"notificationInterval": c.NotificationInterval,
		"keepAlive":            c.KeepAlive,
	} {
		if d != nil && *d < 0 {
			return errors.Newf(errors.ErrorTypeConfig, "connector %s: %s cannot be negative", c.Name, field)
		}
	}
	for endpoint, token := range c.Identity {
		switch token.Type {
		case "", core.TokenAnonymous, core.TokenUsername, core.TokenIssued, core.TokenX509:
		default:
			return errors.Newf(errors.ErrorTypeConfig, "connector %s: identity %q has unknown type %q", c.Name, endpoint, token.Type)
		}
	}
	return nil
}

// ToParameter builds the connection parameter described by the configuration
func (c *ConnectorConfig) ToParameter() *core.ConnectorParameter {
	b := core.NewParameterBuilder(c.Host, c.Port).
		SetSchema(core.Schema(strings.ToUpper(c.Schema))).
		SetEndpointPath(c.EndpointPath).
		SetApplicationInformation(c.ApplicationID, c.ApplicationDescription).
		SetAutoApplicationID(c.AutoApplicationID).
		SetSpecificSettings(c.Settings)

	if c.RequestTimeout != nil {
		b.SetRequestTimeout(c.RequestTimeout.D())
	}
	if c.NotificationInterval != nil {
		b.SetNotificationInterval(c.NotificationInterval.D())
	}
	if c.KeepAlive != nil {
		b.SetKeepAlive(c.KeepAlive.D())
	}
	for endpoint, token := range c.Identity {
		b.SetIdentityToken(endpoint, token)
	}
	return b.Build()
}

// Validate validates every connector and rejects duplicate names
func (s *ServiceConfig) Validate() error {
	if len(s.Connectors) == 0 {
		return errors.New(errors.ErrorTypeConfig, "no connectors configured")
	}
	seen := make(map[string]bool, len(s.Connectors))
	for i := range s.Connectors {
		c := &s.Connectors[i]
		if err := c.Validate(); err != nil {
			return err
		}
		if seen[c.Name] {
			return errors.Newf(errors.ErrorTypeConfig, "duplicate connector name %q", c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

// Connector returns the connector configuration called name
func (s *ServiceConfig) Connector(name string) (*ConnectorConfig, error) {
	for i := range s.Connectors {
		if s.Connectors[i].Name == name {
			return &s.Connectors[i], nil
		}
	}
	return nil, errors.Newf(errors.ErrorTypeNotFound, "connector %q not configured", name)
}

// Names returns the configured connector names in file order
func (s *ServiceConfig) Names() []string {
	names := make([]string, len(s.Connectors))
	for i := range s.Connectors {
		names[i] = s.Connectors[i].Name
	}
	return names
}
