// Package config loads YAML service descriptors that configure the
// connectors of a service.
//
// # Usage
//
//	cfg, err := config.LoadService("service.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	cc, _ := cfg.Connector("line1-history")
//	conn, err := reg.Create(cc.Type, registry.FactoryConfig{
//		Name:      cc.Name,
//		Parameter: cc.ToParameter(),
//	})
//
// # Descriptor format
//
//	connectors:
//	  - name: line1-history
//	    type: timeseries
//	    host: ${PG_HOST:-localhost}
//	    port: 5432
//	    notificationInterval: 0
//	    identity:
//	      "": {type: username, user: reader, password: ${PG_PASSWORD}}
//	    settings:
//	      DIALECT: postgres
//	      TABLE: machine_data
//
// ${VAR_NAME} references are replaced with environment variables before
// parsing. Durations are Go duration strings or integer milliseconds; an
// omitted duration keeps the connector default and 0 disables the feature.
package config
