package aas

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ajitpratap0/machconn/pkg/clients"
	"github.com/ajitpratap0/machconn/pkg/connector/core"
	"github.com/ajitpratap0/machconn/pkg/connector/translator"
	"github.com/ajitpratap0/machconn/pkg/errors"
	jsonpool "github.com/ajitpratap0/machconn/pkg/json"
	"go.uber.org/zap"
)

// EncodeID encodes an identifier for use in a URL path (base64url without
// padding)
func EncodeID(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

// IDShortPath joins element idShorts into an idShort path
func IDShortPath(elements []string) string {
	escaped := make([]string, len(elements))
	for i, e := range elements {
		escaped[i] = url.PathEscape(e)
	}
	return strings.Join(escaped, ".")
}

func submodelPath(id string) string {
	return "/submodels/" + EncodeID(id)
}

func elementPath(id string, elements []string) string {
	return submodelPath(id) + "/submodel-elements/" + IDShortPath(elements)
}

// BaseURL returns the repository URL of the parameter
func BaseURL(params *core.ConnectorParameter) string {
	scheme := "http"
	if s := params.Schema(); s == core.SchemaHTTPS || s == core.SchemaSSL {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: params.Address(), Path: params.EndpointPath()}
	return strings.TrimSuffix(u.String(), "/")
}

// HTTPConfig builds the client configuration from the parameter
func HTTPConfig(ctx context.Context, params *core.ConnectorParameter) (*clients.HTTPConfig, error) {
	cfg := clients.DefaultHTTPConfig()
	if t := params.RequestTimeout(); t > 0 {
		cfg.RequestTimeout = t
		cfg.DialTimeout = t
	}
	if k := params.KeepAlive(); k > 0 {
		cfg.KeepAlive = k
	}
	if v, ok := params.SpecificSetting(SettingRateLimit); ok {
		limit, err := strconv.ParseFloat(v, 64)
		if err != nil || limit < 0 {
			return nil, errors.Newf(errors.ErrorTypeConfig, "invalid %s %q", SettingRateLimit, v)
		}
		cfg.RateLimit = limit
	}
	if id := params.ApplicationID(); id != "" {
		cfg.UserAgent = id
	}
	if err := clients.ApplyIdentity(ctx, cfg, params.IdentityToken(core.AnyEndpoint), nil); err != nil {
		return nil, err
	}
	return cfg, nil
}

// repository talks to a submodel repository
type repository struct {
	http *clients.HTTPClient
}

func newRepository(params *core.ConnectorParameter, logger *zap.Logger) (*repository, error) {
	// token requests outlive the Open call
	cfg, err := HTTPConfig(context.Background(), params)
	if err != nil {
		return nil, err
	}
	return &repository{http: clients.NewHTTPClient(BaseURL(params), cfg, logger)}, nil
}

// submodelValue returns the value-only serialization of a submodel
func (r *repository) submodelValue(ctx context.Context, id string) ([]byte, error) {
	var raw jsonpool.RawMessage
	if err := r.http.DoJSON(ctx, http.MethodGet, submodelPath(id)+"/$value", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (r *repository) patchSubmodelValue(ctx context.Context, id string, value []byte) error {
	return r.http.DoJSON(ctx, http.MethodPatch, submodelPath(id)+"/$value", jsonpool.RawMessage(value), nil)
}

func (r *repository) elementValue(ctx context.Context, id string, elements []string) ([]byte, error) {
	var raw jsonpool.RawMessage
	if err := r.http.DoJSON(ctx, http.MethodGet, elementPath(id, elements)+"/$value", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (r *repository) patchElementValue(ctx context.Context, id string, elements []string, value interface{}) error {
	return r.http.DoJSON(ctx, http.MethodPatch, elementPath(id, elements)+"/$value", value, nil)
}

// operationVariable is an input or output argument of an operation
type operationVariable struct {
	Value property `json:"value"`
}

type property struct {
	ModelType string      `json:"modelType"`
	IDShort   string      `json:"idShort"`
	Value     interface{} `json:"value"`
}

type operationRequest struct {
	InputArguments []operationVariable `json:"inputArguments"`
}

type operationResult struct {
	ExecutionState  string              `json:"executionState"`
	Success         *bool               `json:"success"`
	Messages        []resultMessage     `json:"messages"`
	OutputArguments []outputVariable    `json:"outputArguments"`
}

type outputVariable struct {
	Value struct {
		Value jsonpool.RawMessage `json:"value"`
	} `json:"value"`
}

type resultMessage struct {
	MessageType string `json:"messageType"`
	Text        string `json:"text"`
}

// invoke calls an operation synchronously. A single output argument is
// returned as its value, several as a slice.
func (r *repository) invoke(ctx context.Context, id string, elements []string, args []interface{}) (interface{}, error) {
	req := operationRequest{InputArguments: make([]operationVariable, len(args))}
	for i, a := range args {
		req.InputArguments[i] = operationVariable{Value: property{
			ModelType: "Property",
			IDShort:   "arg" + strconv.Itoa(i),
			Value:     a,
		}}
	}
	var res operationResult
	if err := r.http.DoJSON(ctx, http.MethodPost, elementPath(id, elements)+"/invoke", req, &res); err != nil {
		return nil, err
	}
	if (res.Success != nil && !*res.Success) || strings.EqualFold(res.ExecutionState, "Failed") {
		msg := "operation failed"
		for _, m := range res.Messages {
			if m.Text != "" {
				msg = m.Text
				break
			}
		}
		return nil, errors.New(errors.ErrorTypeIO, msg)
	}
	out := make([]interface{}, len(res.OutputArguments))
	for i, o := range res.OutputArguments {
		if len(o.Value.Value) == 0 {
			continue
		}
		v, err := translator.DecodeJSONValue(o.Value.Value)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0], nil
	}
	return out, nil
}

func (r *repository) ping(ctx context.Context) error {
	return r.http.DoJSON(ctx, http.MethodGet, "/description", nil, nil)
}

func (r *repository) close() error {
	return r.http.Close()
}
