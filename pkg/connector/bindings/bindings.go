// Package bindings registers every connector binding of the module.
package bindings

import (
	"github.com/ajitpratap0/machconn/pkg/connector/bindings/aas"
	"github.com/ajitpratap0/machconn/pkg/connector/bindings/file"
	"github.com/ajitpratap0/machconn/pkg/connector/bindings/kafka"
	"github.com/ajitpratap0/machconn/pkg/connector/bindings/plc"
	"github.com/ajitpratap0/machconn/pkg/connector/bindings/timeseries"
	"github.com/ajitpratap0/machconn/pkg/connector/bindings/twin"
	"github.com/ajitpratap0/machconn/pkg/connector/registry"
)

// RegisterAll registers the bindings with their production clients
func RegisterAll(r *registry.Registry) error {
	registrations := []func(*registry.Registry) error{
		aas.Register,
		file.Register,
		func(r *registry.Registry) error { return kafka.Register(r, kafka.DefaultClients()) },
		func(r *registry.Registry) error { return plc.Register(r, nil) },
		func(r *registry.Registry) error { return timeseries.Register(r, nil) },
		func(r *registry.Registry) error { return twin.Register(r, nil) },
	}
	for _, register := range registrations {
		if err := register(r); err != nil {
			return err
		}
	}
	return nil
}
