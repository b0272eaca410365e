package core

import (
	"strings"

	"github.com/ajitpratap0/machconn/pkg/errors"
)

// QueryKind identifies a trigger query variant
type QueryKind string

const (
	QueryKindPattern    QueryKind = "pattern"
	QueryKindString     QueryKind = "string"
	QueryKindTimeseries QueryKind = "timeseries"
)

// Capabilities is the static declaration of what a connector supports. The
// flags gate which ModelAccess methods are meaningful and let tooling validate
// a connector/adapter pairing before first use.
type Capabilities struct {
	HasModel                   bool        `json:"has_model" yaml:"has_model"`
	SupportsModelStructs       bool        `json:"supports_model_structs" yaml:"supports_model_structs"`
	SupportsModelCalls         bool        `json:"supports_model_calls" yaml:"supports_model_calls"`
	SupportsModelProperties    bool        `json:"supports_model_properties" yaml:"supports_model_properties"`
	SupportsHierarchicalQNames bool        `json:"supports_hierarchical_qnames" yaml:"supports_hierarchical_qnames"`
	SupportsEvents             bool        `json:"supports_events" yaml:"supports_events"`
	SupportsDataTimeDifference bool        `json:"supports_data_time_difference" yaml:"supports_data_time_difference"`
	RequiresTypedAccess        bool        `json:"requires_typed_access" yaml:"requires_typed_access"`
	EventOnly                  bool        `json:"event_only" yaml:"event_only"`
	SpecificSettings           []string    `json:"specific_settings,omitempty" yaml:"specific_settings,omitempty"`
	TriggerQueries             []QueryKind `json:"trigger_queries,omitempty" yaml:"trigger_queries,omitempty"`
}

// SupportsQuery reports whether the connector handles trigger queries of kind
func (c Capabilities) SupportsQuery(kind QueryKind) bool {
	for _, k := range c.TriggerQueries {
		if k == kind {
			return true
		}
	}
	return false
}

// Validate checks the internal consistency of the declaration
func (c Capabilities) Validate() error {
	if !c.HasModel {
		switch {
		case c.SupportsModelStructs:
			return errors.New(errors.ErrorTypeValidation, "model structs declared without a model")
		case c.SupportsModelCalls:
			return errors.New(errors.ErrorTypeValidation, "model calls declared without a model")
		case c.RequiresTypedAccess:
			return errors.New(errors.ErrorTypeValidation, "typed access declared without a model")
		}
	}
	if c.EventOnly && !c.SupportsEvents {
		return errors.New(errors.ErrorTypeValidation, "event-only connector must support events")
	}
	return nil
}

// ValidateParameter checks that every specific setting the connector needs is present
func (c Capabilities) ValidateParameter(params *ConnectorParameter, required ...string) error {
	var missing []string
	for _, key := range required {
		if _, ok := params.SpecificSetting(key); !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return errors.New(errors.ErrorTypeConfig, "missing specific settings: "+strings.Join(missing, ", ")).
			WithDetail("settings", missing)
	}
	return nil
}

// Flags returns the names of the enabled capability flags
func (c Capabilities) Flags() []string {
	var flags []string
	add := func(on bool, name string) {
		if on {
			flags = append(flags, name)
		}
	}
	add(c.HasModel, "model")
	add(c.SupportsModelStructs, "structs")
	add(c.SupportsModelCalls, "calls")
	add(c.SupportsModelProperties, "properties")
	add(c.SupportsHierarchicalQNames, "hierarchical")
	add(c.SupportsEvents, "events")
	add(c.SupportsDataTimeDifference, "data-time-difference")
	add(c.RequiresTypedAccess, "typed")
	add(c.EventOnly, "event-only")
	return flags
}
