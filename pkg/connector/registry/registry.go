// Package registry manages connector factories and the live connector
// instances of a process. A Registry is created explicitly and injected
// where it is needed; there is no process-wide instance.
package registry

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ajitpratap0/machconn/pkg/connector/base"
	"github.com/ajitpratap0/machconn/pkg/connector/core"
	"github.com/ajitpratap0/machconn/pkg/errors"
	"github.com/ajitpratap0/machconn/pkg/logger"
	"github.com/ajitpratap0/machconn/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Connector is what factories create: a record typed connector that can
// also be driven by triggers
type Connector interface {
	core.DataConnector[*models.Record]
	core.EventHandlingConnector

	SetErrorHook(hook core.ErrorHook)
	SetDataTimeDifferenceProvider(provider core.DataTimeDifferenceProvider[*models.Record])
}

// FactoryConfig carries everything a factory needs to construct a connector
type FactoryConfig struct {
	// Name is the descriptive connector name
	Name string
	// Parameter holds the connection parameter; factories read
	// construction time settings from its specific settings
	Parameter *core.ConnectorParameter
	Logger    *zap.Logger
	// Registry tracks the created connector while it is connected
	Registry *Registry
}

// BaseOptions returns the base.Connector options carried by the config
func (cfg FactoryConfig) BaseOptions(connectorType string) []base.Option {
	opts := []base.Option{
		base.WithName(cfg.Name),
		base.WithType(connectorType),
		base.WithLogger(cfg.Logger),
	}
	if cfg.Registry != nil {
		opts = append(opts, base.WithRegistry(cfg.Registry))
	}
	return opts
}

// Factory creates connector instances of one binding type
type Factory func(cfg FactoryConfig) (Connector, error)

// ConnectorInfo describes a registered binding type
type ConnectorInfo struct {
	Type             string            `json:"type"`
	Description      string            `json:"description"`
	Capabilities     core.Capabilities `json:"capabilities"`
	RequiredSettings []string          `json:"required_settings,omitempty"`
	OptionalSettings []string          `json:"optional_settings,omitempty"`
}

// InstanceInfo describes a connected connector
type InstanceInfo struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	State string    `json:"state"`
	Since time.Time `json:"since"`
}

type registration struct {
	info    ConnectorInfo
	factory Factory
}

type instance struct {
	connector core.Connector
	since     time.Time
}

// Registry manages connector registration, instantiation and the live
// instances
type Registry struct {
	factories map[string]registration
	instances map[string]instance
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRegistry creates a new connector registry; a nil logger uses the
// global one
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = logger.Get()
	}
	return &Registry{
		factories: make(map[string]registration),
		instances: make(map[string]instance),
		logger:    log.With(zap.String("component", "connector_registry")),
	}
}

// Register registers the factory of a binding type
func (r *Registry) Register(info ConnectorInfo, factory Factory) error {
	if info.Type == "" || factory == nil {
		return errors.New(errors.ErrorTypeConfig, "connector type and factory are required")
	}
	if err := info.Capabilities.Validate(); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConfig, "connector %s declares inconsistent capabilities", info.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[info.Type]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("connector %s already registered", info.Type))
	}

	r.factories[info.Type] = registration{info: info, factory: factory}
	r.logger.Debug("connector registered", zap.String("type", info.Type))
	return nil
}

// Create creates a connector of connectorType. Required settings of the type
// are checked before the factory runs.
func (r *Registry) Create(connectorType string, cfg FactoryConfig) (Connector, error) {
	r.mu.RLock()
	reg, exists := r.factories[connectorType]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("connector %s not found", connectorType))
	}
	if cfg.Parameter == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "connector parameter is required")
	}
	if err := reg.info.Capabilities.ValidateParameter(cfg.Parameter, reg.info.RequiredSettings...); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "connector %s", cfg.Name)
	}
	if cfg.Name == "" {
		cfg.Name = connectorType
	}
	if cfg.Logger == nil {
		cfg.Logger = r.logger
	}
	if cfg.Registry == nil {
		cfg.Registry = r
	}

	conn, err := reg.factory(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create connector %s", cfg.Name))
	}
	return conn, nil
}

// Has reports whether connectorType is registered
func (r *Registry) Has(connectorType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[connectorType]
	return exists
}

// Info returns the description of connectorType
func (r *Registry) Info(connectorType string) (ConnectorInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, exists := r.factories[connectorType]
	if !exists {
		return ConnectorInfo{}, errors.New(errors.ErrorTypeNotFound, fmt.Sprintf("connector %s not found", connectorType))
	}
	return reg.info, nil
}

// Types returns the registered binding types sorted by name
func (r *Registry) Types() []ConnectorInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ConnectorInfo, 0, len(r.factories))
	for _, reg := range r.factories {
		infos = append(infos, reg.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Type < infos[j].Type })
	return infos
}

// Track records a connected instance and returns its id
func (r *Registry) Track(c core.Connector) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.instances[id] = instance{connector: c, since: time.Now()}
	r.mu.Unlock()
	r.logger.Debug("connector instance tracked", zap.String("name", c.Name()), zap.String("instance_id", id))
	return id
}

// Untrack forgets an instance
func (r *Registry) Untrack(id string) {
	r.mu.Lock()
	delete(r.instances, id)
	r.mu.Unlock()
}

// Lookup returns the tracked instance with id
func (r *Registry) Lookup(id string) (core.Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	return inst.connector, ok
}

// Instances returns the tracked instances, oldest first
func (r *Registry) Instances() []InstanceInfo {
	r.mu.RLock()
	out := make([]InstanceInfo, 0, len(r.instances))
	for id, inst := range r.instances {
		out = append(out, InstanceInfo{
			ID:    id,
			Name:  inst.connector.Name(),
			State: inst.connector.State().String(),
			Since: inst.since,
		})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Since.Equal(out[j].Since) {
			return out[i].ID < out[j].ID
		}
		return out[i].Since.Before(out[j].Since)
	})
	return out
}

// DisconnectAll disconnects every tracked instance
func (r *Registry) DisconnectAll(ctx context.Context) error {
	r.mu.RLock()
	conns := make([]core.Connector, 0, len(r.instances))
	for _, inst := range r.instances {
		conns = append(conns, inst.connector)
	}
	r.mu.RUnlock()

	var errs []error
	for _, c := range conns {
		if err := c.Disconnect(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
