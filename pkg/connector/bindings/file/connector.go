package file

import (
	"github.com/ajitpratap0/machconn/pkg/connector/base"
	"github.com/ajitpratap0/machconn/pkg/connector/core"
	"github.com/ajitpratap0/machconn/pkg/connector/registry"
	"github.com/ajitpratap0/machconn/pkg/connector/translator"
	"github.com/ajitpratap0/machconn/pkg/errors"
	"github.com/ajitpratap0/machconn/pkg/json"
	"github.com/ajitpratap0/machconn/pkg/models"
)

// LineField is the record field holding an unparsed line
const LineField = "line"

// LineTranslator keeps lines unparsed in the field "line". Records without
// that field are written as JSON objects of their fields.
func LineTranslator(source string) core.TypeTranslator[string, *models.Record] {
	return translator.NewFunc(
		func(line string) (*models.Record, error) {
			return models.NewRecord(source, map[string]interface{}{LineField: line}), nil
		},
		func(rec *models.Record) (string, error) {
			if line, ok := rec.Get(LineField); ok {
				return models.ToString(line), nil
			}
			data, err := json.Marshal(rec.Fields)
			if err != nil {
				return "", errors.NewTranslation(err, "*models.Record", "string")
			}
			return string(data), nil
		},
	)
}

// New creates a file connector. PATTERN selects a text pattern translator,
// otherwise lines are kept whole.
func New(cfg registry.FactoryConfig) (*base.Connector[string, *models.Record], error) {
	var t core.TypeTranslator[string, *models.Record] = LineTranslator(cfg.Name)
	if pattern, ok := cfg.Parameter.SpecificSetting(SettingPattern); ok {
		tp, err := translator.NewTextPattern(cfg.Name, pattern, cfg.Parameter.SpecificStringSetting(SettingTemplate, ""))
		if err != nil {
			return nil, err
		}
		t = tp
	}
	adapter := core.NewAdapter[string, *models.Record](t)
	return base.NewConnector[string, *models.Record](NewDriver(), Capabilities,
		[]core.ProtocolAdapter[string, *models.Record]{adapter},
		cfg.BaseOptions(Type)...)
}

// Info describes the binding
func Info() registry.ConnectorInfo {
	return registry.ConnectorInfo{
		Type:             Type,
		Description:      "line oriented files, tailed or replayed",
		Capabilities:     Capabilities,
		OptionalSettings: Capabilities.SpecificSettings,
	}
}

// Register registers the binding
func Register(r *registry.Registry) error {
	return r.Register(Info(), func(cfg registry.FactoryConfig) (registry.Connector, error) {
		c, err := New(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}
