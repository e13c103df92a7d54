package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kinbiko/jsonassert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyhniupi1/flexgate/internal/backend"
	"github.com/lyhniupi1/flexgate/internal/dispatcher"
	"github.com/lyhniupi1/flexgate/internal/service"
	"github.com/lyhniupi1/flexgate/internal/store"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig([]string{"-config", writeFile(t, "empty.yaml", "{}\n")})
	require.NoError(t, err)

	assert.Equal(t, defaultBaseURL, cfg.baseURL)
	assert.Equal(t, defaultTimeout, cfg.timeout)
	assert.False(t, cfg.tranID)
	assert.Equal(t, sourceDefault, cfg.baseURLSource)
	assert.Equal(t, sourceDefault, cfg.timeoutSource)
	assert.True(t, cfg.configLoaded)
}

func TestLoadConfig_Precedence(t *testing.T) {
	path := writeFile(t, "flexctl.yaml", `
client:
  base_url: http://file.example/
  tran_id: true
timeouts:
  request: 5s
`)

	cfg, err := loadConfig([]string{"-config", path})
	require.NoError(t, err)
	assert.Equal(t, "http://file.example/", cfg.baseURL)
	assert.Equal(t, 5*time.Second, cfg.timeout)
	assert.True(t, cfg.tranID)
	assert.Equal(t, sourceFile, cfg.baseURLSource)
	assert.Equal(t, sourceFile, cfg.tranIDSource)

	t.Setenv("FLEXGATE_BASE_URL", "http://env.example/")
	t.Setenv("FLEXGATE_TIMEOUT", "7s")
	cfg, err = loadConfig([]string{"-config", path})
	require.NoError(t, err)
	assert.Equal(t, "http://env.example/", cfg.baseURL)
	assert.Equal(t, 7*time.Second, cfg.timeout)
	assert.Equal(t, sourceEnv, cfg.baseURLSource)
	assert.Equal(t, sourceEnv, cfg.timeoutSource)

	cfg, err = loadConfig([]string{"-config", path, "-base-url", "http://flag.example/", "-tran-id=false"})
	require.NoError(t, err)
	assert.Equal(t, "http://flag.example/", cfg.baseURL)
	assert.False(t, cfg.tranID)
	assert.Equal(t, sourceFlag, cfg.baseURLSource)
	assert.Equal(t, sourceFlag, cfg.tranIDSource)
	assert.Equal(t, sourceEnv, cfg.timeoutSource)
}

func TestLoadConfig_LegacyKeys(t *testing.T) {
	path := writeFile(t, "legacy.yaml", "base_url: http://legacy.example/\ntimeout: 2s\n")
	cfg, err := loadConfig([]string{"-config", path})
	require.NoError(t, err)
	assert.Equal(t, "http://legacy.example/", cfg.baseURL)
	assert.Equal(t, 2*time.Second, cfg.timeout)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := loadConfig([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err, "explicit config must exist")

	_, err = loadConfig([]string{"-config", writeFile(t, "bad.yaml", "timeouts:\n  request: soon\n")})
	assert.Error(t, err)

	t.Setenv("FLEXGATE_TIMEOUT", "")
	_, err = loadConfig([]string{"-config", writeFile(t, "ok.yaml", "{}\n")})
	assert.Error(t, err, "empty env value is rejected")
}

func TestLoadConfig_InvocationFlags(t *testing.T) {
	cfg, err := loadConfig([]string{
		"-config", writeFile(t, "c.yaml", "{}\n"),
		"-process", "addTodoProcess",
		"-params", `{"title":"x"}`,
		"-method", "get",
		"-H", "X-Trace: 1",
		"-H", "X-Other:2",
		"-unwrap",
	})
	require.NoError(t, err)
	assert.Equal(t, "addTodoProcess", cfg.process)
	assert.Equal(t, `{"title":"x"}`, cfg.params)
	assert.Equal(t, "get", cfg.method)
	assert.Equal(t, headerFlags{"X-Trace: 1", "X-Other:2"}, cfg.headers)
	assert.True(t, cfg.unwrap)

	_, err = loadConfig([]string{"-H", "no-colon"})
	assert.Error(t, err)
}

func TestParseParams(t *testing.T) {
	v, err := parseParams("")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = parseParams(`{"a":[1,"b"]}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": []any{float64(1), "b"}}, v)

	_, err = parseParams("{nope")
	assert.Error(t, err)
}

func TestParseBatch(t *testing.T) {
	b, err := parseBatch(strings.NewReader(`
calls:
  - name: list
    process: queryTodoListProcess
  - process: addTodoProcess
    params:
      title: ship
    headers:
      X-Trace: abc
`))
	require.NoError(t, err)
	require.Len(t, b.Calls, 2)
	assert.Equal(t, "list", b.Calls[0].label())
	assert.Equal(t, "addTodoProcess", b.Calls[1].label())
	assert.Equal(t, map[string]any{"title": "ship"}, b.Calls[1].Params)
	assert.Equal(t, map[string]string{"X-Trace": "abc"}, b.Calls[1].Headers)

	_, err = parseBatch(strings.NewReader(""))
	assert.Error(t, err)
	_, err = parseBatch(strings.NewReader("calls: []\n"))
	assert.Error(t, err)
	_, err = parseBatch(strings.NewReader("calls:\n  - name: x\n"))
	assert.Error(t, err)
}

func newBackendServer(t *testing.T) *httptest.Server {
	t.Helper()
	reg := dispatcher.NewRegistry()
	service.New(store.NewInMemoryStore()).RegisterHandlers(reg)
	srv := httptest.NewServer(backend.NewHandler(reg, nil))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_SingleCallUnwrap(t *testing.T) {
	srv := newBackendServer(t)
	cfgPath := writeFile(t, "c.yaml", "{}\n")

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"-config", cfgPath,
		"-base-url", srv.URL,
		"-process", "addTodoProcess",
		"-params", `{"title":"ship"}`,
		"-unwrap",
	}, &out)
	require.NoError(t, err)
	jsonassert.New(t).Assertf(out.String(), `{"id":"<<PRESENCE>>","title":"ship","completed":false,"createdAt":"<<PRESENCE>>"}`)
}

func TestRun_BusinessErrorFailsWithUnwrap(t *testing.T) {
	srv := newBackendServer(t)
	var out bytes.Buffer
	err := run(context.Background(), []string{
		"-config", writeFile(t, "c.yaml", "{}\n"),
		"-base-url", srv.URL,
		"-process", "toggleTodoProcess",
		"-params", `{"id":"missing"}`,
		"-unwrap",
	}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), service.CodeTodoNotFound)
}

func TestRun_RequiresProcess(t *testing.T) {
	err := run(context.Background(), []string{"-config", writeFile(t, "c.yaml", "{}\n")}, &bytes.Buffer{})
	assert.ErrorIs(t, err, errMissingProcess)
}

func TestRun_BatchKeepsResultsIndependent(t *testing.T) {
	srv := newBackendServer(t)
	batch := writeFile(t, "batch.yaml", `
calls:
  - name: add
    process: addTodoProcess
    params: {title: one}
  - name: unknown
    process: queryEmailListProcess
  - name: list
    process: queryTodoListProcess
    method: GET
`)

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"-config", writeFile(t, "c.yaml", "{}\n"),
		"-base-url", srv.URL,
		"-batch", batch,
		"-unwrap",
	}, &out)
	assert.ErrorIs(t, err, errBatchFailed)

	jsonassert.New(t).Assertf(out.String(), `[
		{"name":"add","process":"addTodoProcess","result":"<<PRESENCE>>"},
		{"name":"unknown","process":"queryEmailListProcess","error":"<<PRESENCE>>"},
		{"name":"list","process":"queryTodoListProcess","result":"<<PRESENCE>>"}
	]`)
}

func TestCallOptions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "abc", r.Header.Get("X-Trace"))
		assert.Equal(t, "max-age=0", r.Header.Get("Cache-Control"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, err := newClient(clientConfig{baseURL: srv.URL})
	require.NoError(t, err)
	opts, err := callOptions("put", []string{"X-Trace: abc", "Cache-Control: max-age=0"})
	require.NoError(t, err)

	out, err := dispatch(context.Background(), c, "anyProcess", nil, false, opts...)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, out)
}
