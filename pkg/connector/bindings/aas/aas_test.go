package aas

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/ajitpratap0/machconn/pkg/connector/core"
	"github.com/ajitpratap0/machconn/pkg/connector/registry"
	"github.com/ajitpratap0/machconn/pkg/errors"
	jsonpool "github.com/ajitpratap0/machconn/pkg/json"
	"github.com/ajitpratap0/machconn/pkg/models"
	"github.com/ajitpratap0/machconn/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const pressID = "https://example.com/ids/sm/press"

// repoServer is a minimal submodel repository holding one submodel
type repoServer struct {
	mu      sync.Mutex
	values  map[string]interface{}
	patches []string
	invokes []operationRequest
}

func (s *repoServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if user, pass, ok := r.BasicAuth(); !ok || user != "op" || pass != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sm := "/submodels/" + EncodeID(pressID)
	switch {
	case r.URL.Path == "/description":
		_, _ = io.WriteString(w, `{"profiles":[]}`)
	case r.Method == http.MethodGet && r.URL.Path == sm+"/$value":
		writeJSON(w, s.values)
	case r.Method == http.MethodPatch && r.URL.Path == sm+"/$value":
		body, _ := io.ReadAll(r.Body)
		s.patches = append(s.patches, string(body))
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodGet && r.URL.Path == sm+"/submodel-elements/Speed/$value":
		writeJSON(w, map[string]interface{}{"Speed": s.values["Speed"]})
	case r.Method == http.MethodGet && r.URL.Path == sm+"/submodel-elements/Axis.Position/$value":
		writeJSON(w, 12)
	case r.Method == http.MethodPatch && r.URL.Path == sm+"/submodel-elements/Speed/$value":
		var v interface{}
		body, _ := io.ReadAll(r.Body)
		_ = jsonpool.Unmarshal(body, &v)
		s.values["Speed"] = v
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodPost && r.URL.Path == sm+"/submodel-elements/Restart/invoke":
		var req operationRequest
		body, _ := io.ReadAll(r.Body)
		_ = jsonpool.Unmarshal(body, &req)
		s.invokes = append(s.invokes, req)
		_, _ = io.WriteString(w, `{"executionState":"Completed","success":true,"outputArguments":[{"value":{"modelType":"Property","idShort":"count","value":`+strconv.Itoa(len(req.InputArguments))+`}}]}`)
	case r.Method == http.MethodPost && r.URL.Path == sm+"/submodel-elements/Fail/invoke":
		_, _ = io.WriteString(w, `{"executionState":"Failed","success":false,"messages":[{"messageType":"Error","text":"drive not ready"}]}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *repoServer) set(key string, v interface{}) {
	s.mu.Lock()
	s.values[key] = v
	s.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	data, _ := jsonpool.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func connect(t *testing.T, srv *repoServer, settings map[string]string) (registry.Connector, *testutil.CallbackRecorder[*models.Record]) {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	port, _ := strconv.Atoi(u.Port())

	r := registry.NewRegistry(zaptest.NewLogger(t))
	require.NoError(t, Register(r))
	params := core.NewParameterBuilder(u.Hostname(), port).
		SetSchema(core.SchemaHTTP).
		SetNotificationInterval(0).
		SetIdentityToken(core.AnyEndpoint, core.IdentityToken{Type: core.TokenUsername, Username: "op", Password: "secret"}).
		SetSpecificSettings(settings).
		Build()
	conn, err := r.Create(Type, registry.FactoryConfig{Name: "shells", Parameter: params, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	rec := &testutil.CallbackRecorder[*models.Record]{}
	conn.SetReceptionCallback(rec)
	require.NoError(t, conn.Connect(context.Background(), params))
	t.Cleanup(func() { _ = conn.Disconnect(context.Background()) })
	return conn, rec
}

func newRepoServer() *repoServer {
	return &repoServer{values: map[string]interface{}{"Speed": 3.5, "Mode": "auto"}}
}

func TestParseSubmodels(t *testing.T) {
	refs, err := parseSubmodels("press=" + pressID + ", urn:sm:2,")
	require.NoError(t, err)
	assert.Equal(t, []submodelRef{{"press", pressID}, {"urn:sm:2", "urn:sm:2"}}, refs)

	_, err = parseSubmodels("a=x,a=y")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	_, err = parseSubmodels("=x")
	assert.Error(t, err)
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "aHR0cHM6Ly9leGFtcGxlLmNvbS9pZHMvc20vcHJlc3M", EncodeID(pressID))
	assert.Equal(t, "Axis.Position", IDShortPath([]string{"Axis", "Position"}))
	assert.Equal(t, "/submodels/dXJuOnNtOjE/submodel-elements/A.B", elementPath("urn:sm:1", []string{"A", "B"}))

	params := core.NewParameterBuilder("repo.plant", 8443).
		SetSchema(core.SchemaHTTPS).
		SetEndpointPath("/api/v3.0/").
		Build()
	assert.Equal(t, "https://repo.plant:8443/api/v3.0", BaseURL(params))
}

func TestHTTPConfig(t *testing.T) {
	params := core.NewParameterBuilder("repo", 80).
		SetSpecificSetting(SettingRateLimit, "5").
		SetIdentityToken(core.AnyEndpoint, core.IdentityToken{Type: core.TokenIssued, Token: "abc"}).
		Build()
	cfg, err := HTTPConfig(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.RateLimit)
	require.NotNil(t, cfg.TokenSource)
	tok, err := cfg.TokenSource.Token()
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.AccessToken)

	params = core.NewParameterBuilder("repo", 80).SetSpecificSetting(SettingRateLimit, "fast").Build()
	_, err = HTTPConfig(context.Background(), params)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestReadDeliversChangedSubmodels(t *testing.T) {
	ctx := context.Background()
	srv := newRepoServer()
	conn, rec := connect(t, srv, map[string]string{SettingSubmodels: "press=" + pressID})

	require.NoError(t, conn.Read(ctx))
	require.Equal(t, 1, rec.Len())
	first := rec.Values()[0]
	assert.Equal(t, "press", first.Channel)
	assert.Equal(t, 3.5, first.Fields["Speed"])
	assert.Equal(t, "auto", first.Fields["Mode"])

	require.NoError(t, conn.Read(ctx))
	assert.Equal(t, 1, rec.Len(), "unchanged submodels are not delivered")

	srv.set("Speed", 4)
	require.NoError(t, conn.Read(ctx))
	require.Equal(t, 2, rec.Len())
	assert.Equal(t, int64(4), rec.Values()[1].Fields["Speed"])
}

func TestWritePatchesSubmodel(t *testing.T) {
	ctx := context.Background()
	srv := newRepoServer()
	conn, _ := connect(t, srv, map[string]string{SettingSubmodels: "press=" + pressID})

	rec := models.NewRecord("ui", map[string]interface{}{"Mode": "manual"})
	rec.Channel = "press"
	require.NoError(t, conn.Write(ctx, rec))
	require.Len(t, srv.patches, 1)
	assert.JSONEq(t, `{"Mode":"manual"}`, srv.patches[0])

	rec = models.NewRecord("ui", map[string]interface{}{"Mode": "manual"})
	rec.Channel = "unknown"
	assert.Error(t, conn.Write(ctx, rec))
}

func TestModelAccess(t *testing.T) {
	ctx := context.Background()
	srv := newRepoServer()
	conn, _ := connect(t, srv, map[string]string{SettingSubmodels: "press=" + pressID})
	root, err := conn.ModelAccess()
	require.NoError(t, err)
	assert.Equal(t, "/", root.QSeparator())

	speed, err := root.GetDouble(ctx, "press/Speed")
	require.NoError(t, err)
	assert.Equal(t, 3.5, speed)

	pos, err := root.Get(ctx, "press/Axis/Position")
	require.NoError(t, err)
	assert.Equal(t, int64(12), pos)

	require.NoError(t, root.Set(ctx, "press/Speed", 5.25))
	speed, err = root.GetDouble(ctx, "press/Speed")
	require.NoError(t, err)
	assert.Equal(t, 5.25, speed)

	_, err = root.Get(ctx, "press/Missing")
	require.Error(t, err)
	q, ok := errors.QNameOf(err)
	require.True(t, ok)
	assert.Equal(t, "press/Missing", q)
}

func TestCallInvokesOperation(t *testing.T) {
	ctx := context.Background()
	srv := newRepoServer()
	conn, _ := connect(t, srv, map[string]string{SettingSubmodels: "press=" + pressID})
	root, err := conn.ModelAccess()
	require.NoError(t, err)

	res, err := root.Call(ctx, "press/Restart", "soft", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res)
	require.Len(t, srv.invokes, 1)
	args := srv.invokes[0].InputArguments
	require.Len(t, args, 2)
	assert.Equal(t, "arg0", args[0].Value.IDShort)
	assert.Equal(t, "soft", args[0].Value.Value)

	_, err = root.Call(ctx, "press/Fail")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drive not ready")
}

func TestAuthenticationFailure(t *testing.T) {
	srv := newRepoServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()
	u, _ := url.Parse(ts.URL)
	port, _ := strconv.Atoi(u.Port())
	params := core.NewParameterBuilder(u.Hostname(), port).Build()

	repo, err := newRepository(params, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer repo.close()
	_, err = repo.submodelValue(context.Background(), pressID)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
}
