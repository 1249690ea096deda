package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// execute runs the CLI with args and returns stdout and the command error.
//
// Every test passes its own --env-file so a developer's .env never leaks in,
// and sets the variables it depends on with t.Setenv (so these tests are not
// parallel).
func execute(t *testing.T, envFile string, args ...string) (string, error) {
	t.Helper()
	a := newApp()
	a.newLogger = func(bool) (*zap.Logger, error) { return zap.NewNop(), nil }
	defer a.close()

	var out bytes.Buffer
	root := newRootCmd(a)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--env-file", envFile}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func envFile(t *testing.T, lines ...string) string {
	t.Helper()
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l + "\n")
	}
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func baseEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DB_KIND", "DB_HOST", "DB_PORT", "DB_NAME", "DB_USER", "DB_PASSWORD", "DB_PATH",
		"DB_DSN", "DB_PARAMS", "BRONZE_SCHEMA", "API_BASE_URL", "API_TIMEOUT", "API_RETRIES",
		"TRANSFORM_ENABLED", "TRANSFORM_COMMAND", "TRANSFORM_DIR", "TRANSFORM_RETRIES",
		"TRANSFORM_RETRY_DELAY", "METRICS_BACKEND", "PUSHGATEWAY_URL",
	} {
		t.Setenv(k, "")
	}
}

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	bodies := map[string]string{
		"/users":    `[{"id":1,"email":"a@x","name":{"firstname":"a"}},{"id":2,"email":"b@x"}]`,
		"/products": `[{"id":1,"title":"t","price":1.5}]`,
		"/carts":    `[{"id":1,"userId":2,"date":"2020-03-02T00:00:00.000Z","products":[{"productId":1,"quantity":1}]}]`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := bodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func sqliteEnv(t *testing.T, apiURL string, extra ...string) string {
	t.Helper()
	lines := append([]string{
		"DB_KIND=sqlite",
		"DB_PATH=" + filepath.Join(t.TempDir(), "elt.db"),
		"API_BASE_URL=" + apiURL,
		"TRANSFORM_ENABLED=false",
		"METRICS_BACKEND=none",
	}, extra...)
	return envFile(t, lines...)
}

func TestValidate_OK(t *testing.T) {
	baseEnv(t)

	out, err := execute(t, envFile(t, "DB_KIND=sqlite"), "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration is valid")
}

func TestValidate_ReportsIssues(t *testing.T) {
	baseEnv(t)
	t.Setenv("METRICS_BACKEND", "statsd")

	out, err := execute(t, envFile(t, "DB_KIND=sqlite", "API_BASE_URL=not a url"), "validate")
	require.Error(t, err)
	assert.Contains(t, out, "error: METRICS_BACKEND")
	assert.Contains(t, out, "error: API_BASE_URL")
}

func TestMissingEnvFileFails(t *testing.T) {
	baseEnv(t)

	_, err := execute(t, filepath.Join(t.TempDir(), "missing.env"), "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read env file")
}

func TestRun_SQLite(t *testing.T) {
	baseEnv(t)
	srv := fakeAPI(t)
	env := sqliteEnv(t, srv.URL)

	out, err := execute(t, env, "run")
	require.NoError(t, err)
	assert.Contains(t, out, "users      loaded   fetched=2 affected=2")
	assert.Contains(t, out, "products   loaded   fetched=1 affected=1")
	assert.Contains(t, out, "carts      loaded   fetched=1 affected=1")
	assert.NotContains(t, out, "transform succeeded")
}

func TestExtractLoad_Subset(t *testing.T) {
	baseEnv(t)
	srv := fakeAPI(t)
	env := sqliteEnv(t, srv.URL)

	_, err := execute(t, env, "setup")
	require.NoError(t, err)

	out, err := execute(t, env, "extract-load", "carts")
	require.NoError(t, err)
	assert.Contains(t, out, "carts")
	assert.NotContains(t, out, "users")
}

func TestExtractLoad_UnknownFeed(t *testing.T) {
	baseEnv(t)
	srv := fakeAPI(t)

	_, err := execute(t, sqliteEnv(t, srv.URL), "extract-load", "orders")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orders")
}

func TestExtractLoad_FailOnLoadError(t *testing.T) {
	baseEnv(t)
	srv := fakeAPI(t)
	// No setup: the tables do not exist, so every load fails.
	env := sqliteEnv(t, srv.URL)

	out, err := execute(t, env, "extract-load", "users")
	require.NoError(t, err)
	assert.Contains(t, out, "users      failed")

	_, err = execute(t, env, "extract-load", "--fail-on-load-error", "users")
	assert.ErrorIs(t, err, errLoadFailed)
}

func TestRun_WithTransform(t *testing.T) {
	baseEnv(t)
	srv := fakeAPI(t)
	// Set through the process env: dotenv files expand $VARS.
	t.Setenv("TRANSFORM_COMMAND", `sh -c 'test "$BRONZE_SCHEMA" = bronze'`)
	env := sqliteEnv(t, srv.URL, "TRANSFORM_ENABLED=true", "TRANSFORM_DIR="+t.TempDir())

	out, err := execute(t, env, "run")
	require.NoError(t, err)
	assert.Contains(t, out, "transform succeeded after 1 attempt(s)")
}

func TestTransform_RetriesAndFails(t *testing.T) {
	baseEnv(t)
	env := envFile(t,
		"DB_KIND=sqlite",
		"TRANSFORM_COMMAND=false",
		"TRANSFORM_DIR="+t.TempDir(),
		"TRANSFORM_RETRIES=1",
		"TRANSFORM_RETRY_DELAY=0",
	)

	_, err := execute(t, env, "transform")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transform")
}

func TestTransform_Disabled(t *testing.T) {
	baseEnv(t)

	_, err := execute(t, envFile(t, "DB_KIND=sqlite", "TRANSFORM_ENABLED=false"), "transform")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}

func TestFlagOverridesEnv(t *testing.T) {
	baseEnv(t)
	t.Setenv("METRICS_BACKEND", "statsd")

	out, err := execute(t, envFile(t, "DB_KIND=sqlite"), "--metrics-backend", "none", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration is valid")
}
