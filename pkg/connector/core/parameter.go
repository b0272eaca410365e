package core

import (
	"fmt"
	"strconv"
	"time"
)

// Schema is the transport schema of a connection
type Schema string

const (
	SchemaTCP    Schema = "TCP"
	SchemaSSL    Schema = "SSL"
	SchemaHTTP   Schema = "HTTP"
	SchemaHTTPS  Schema = "HTTPS"
	SchemaWS     Schema = "WS"
	SchemaWSS    Schema = "WSS"
	SchemaIGNORE Schema = "IGNORE"
)

// AnyEndpoint keys the identity token used when no endpoint specific token exists
const AnyEndpoint = ""

const (
	DefaultRequestTimeout       = 5000 * time.Millisecond
	DefaultNotificationInterval = 1000 * time.Millisecond
	DefaultKeepAlive            = 2000 * time.Millisecond
)

// TokenType classifies an identity token
type TokenType string

const (
	TokenAnonymous TokenType = "anonymous"
	TokenUsername  TokenType = "username"
	TokenIssued    TokenType = "issued"
	TokenX509      TokenType = "x509"
)

// IdentityToken carries the credentials used to authenticate a session
type IdentityToken struct {
	Type      TokenType `yaml:"type" json:"type"`
	Username  string    `yaml:"user,omitempty" json:"user,omitempty"`
	Password  string    `yaml:"password,omitempty" json:"-"`
	Token     string    `yaml:"token,omitempty" json:"-"`
	Algorithm string    `yaml:"algorithm,omitempty" json:"algorithm,omitempty"`
	// TokenURL and Scopes configure OAuth2 client credentials for issued tokens
	TokenURL string   `yaml:"tokenUrl,omitempty" json:"token_url,omitempty"`
	Scopes   []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`
}

// IsAnonymous reports whether the token carries no credentials
func (t *IdentityToken) IsAnonymous() bool {
	return t == nil || t.Type == "" || t.Type == TokenAnonymous
}

// ConnectorParameter is the immutable connection descriptor handed to
// Connect. It is built once through a ParameterBuilder.
type ConnectorParameter struct {
	host                   string
	port                   int
	schema                 Schema
	endpointPath           string
	applicationID          string
	applicationDescription string
	autoApplicationID      bool
	requestTimeout         time.Duration
	notificationInterval   time.Duration
	keepAlive              time.Duration
	identities             map[string]IdentityToken
	settings               map[string]string
}

func (p *ConnectorParameter) Host() string { return p.host }
func (p *ConnectorParameter) Port() int { return p.port }
func (p *ConnectorParameter) Schema() Schema { return p.schema }
func (p *ConnectorParameter) EndpointPath() string { return p.endpointPath }
func (p *ConnectorParameter) ApplicationID() string { return p.applicationID }
func (p *ConnectorParameter) ApplicationDescription() string { return p.applicationDescription }
func (p *ConnectorParameter) AutoApplicationID() bool { return p.autoApplicationID }
func (p *ConnectorParameter) RequestTimeout() time.Duration { return p.requestTimeout }
func (p *ConnectorParameter) NotificationInterval() time.Duration { return p.notificationInterval }
func (p *ConnectorParameter) KeepAlive() time.Duration { return p.keepAlive }

// Address returns host:port
func (p *ConnectorParameter) Address() string {
	return fmt.Sprintf("%s:%d", p.host, p.port)
}

// IdentityToken returns the token for endpoint, falling back to the
// any-endpoint token. The result is nil for anonymous access.
func (p *ConnectorParameter) IdentityToken(endpoint string) *IdentityToken {
	if tok, ok := p.identities[endpoint]; ok {
		return &tok
	}
	if tok, ok := p.identities[AnyEndpoint]; ok {
		return &tok
	}
	return nil
}

// IsAnonymousIdentity reports whether the any-endpoint token is anonymous
func (p *ConnectorParameter) IsAnonymousIdentity() bool {
	return p.IdentityToken(AnyEndpoint).IsAnonymous()
}

// SpecificSetting returns a connector specific setting
func (p *ConnectorParameter) SpecificSetting(key string) (string, bool) {
	v, ok := p.settings[key]
	return v, ok
}

// SpecificStringSetting returns a connector specific setting or def
func (p *ConnectorParameter) SpecificStringSetting(key, def string) string {
	if v, ok := p.settings[key]; ok {
		return v
	}
	return def
}

// SpecificIntSetting returns a connector specific setting parsed as int, or
// def if absent or not a number
func (p *ConnectorParameter) SpecificIntSetting(key string, def int) int {
	v, ok := p.settings[key]
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// SpecificSettings returns a copy of all connector specific settings
func (p *ConnectorParameter) SpecificSettings() map[string]string {
	out := make(map[string]string, len(p.settings))
	for k, v := range p.settings {
		out[k] = v
	}
	return out
}

// ParameterBuilder builds ConnectorParameter instances
type ParameterBuilder struct {
	p *ConnectorParameter
}

// NewParameterBuilder creates a builder for host and port with TCP schema and defaults
func NewParameterBuilder(host string, port int) *ParameterBuilder {
	return &ParameterBuilder{p: &ConnectorParameter{
		host:                 host,
		port:                 port,
		schema:               SchemaTCP,
		requestTimeout:       DefaultRequestTimeout,
		notificationInterval: DefaultNotificationInterval,
		keepAlive:            DefaultKeepAlive,
		identities:           make(map[string]IdentityToken),
		settings:             make(map[string]string),
	}}
}

// NewParameterBuilderFrom creates a builder initialized from an existing parameter
func NewParameterBuilderFrom(src *ConnectorParameter) *ParameterBuilder {
	b := NewParameterBuilder(src.host, src.port)
	cp := *src
	cp.identities = make(map[string]IdentityToken, len(src.identities))
	for k, v := range src.identities {
		cp.identities[k] = v
	}
	cp.settings = src.SpecificSettings()
	b.p = &cp
	return b
}

func (b *ParameterBuilder) SetSchema(schema Schema) *ParameterBuilder {
	b.p.schema = schema
	return b
}

func (b *ParameterBuilder) SetEndpointPath(path string) *ParameterBuilder {
	b.p.endpointPath = path
	return b
}

func (b *ParameterBuilder) SetApplicationInformation(id, description string) *ParameterBuilder {
	b.p.applicationID = id
	b.p.applicationDescription = description
	return b
}

func (b *ParameterBuilder) SetAutoApplicationID(auto bool) *ParameterBuilder {
	b.p.autoApplicationID = auto
	return b
}

func (b *ParameterBuilder) SetRequestTimeout(d time.Duration) *ParameterBuilder {
	b.p.requestTimeout = d
	return b
}

// SetNotificationInterval sets the poll interval; 0 disables polling
func (b *ParameterBuilder) SetNotificationInterval(d time.Duration) *ParameterBuilder {
	b.p.notificationInterval = d
	return b
}

func (b *ParameterBuilder) SetKeepAlive(d time.Duration) *ParameterBuilder {
	b.p.keepAlive = d
	return b
}

// SetIdentityToken sets the token for endpoint; use AnyEndpoint for the fallback token
func (b *ParameterBuilder) SetIdentityToken(endpoint string, token IdentityToken) *ParameterBuilder {
	b.p.identities[endpoint] = token
	return b
}

func (b *ParameterBuilder) SetSpecificSetting(key, value string) *ParameterBuilder {
	b.p.settings[key] = value
	return b
}

func (b *ParameterBuilder) SetSpecificSettings(settings map[string]string) *ParameterBuilder {
	for k, v := range settings {
		b.p.settings[k] = v
	}
	return b
}

// Build returns the parameter. The builder must not be used afterwards.
func (b *ParameterBuilder) Build() *ConnectorParameter {
	p := b.p
	b.p = nil
	return p
}
