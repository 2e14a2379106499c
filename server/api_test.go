package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openprism/desktop/internal/diagnostics"
	"github.com/openprism/desktop/internal/metrics"
)

type stubDiagnoser struct {
	calls atomic.Int32
}

func (s *stubDiagnoser) Collect(ctx context.Context) diagnostics.Report {
	s.calls.Add(1)
	return diagnostics.Report{
		OK:       true,
		Platform: "linux",
		DataDir:  "/data",
		Latex: diagnostics.EngineSet{
			{Name: "pdflatex", OK: true, Version: "pdfTeX 3.14"},
			{Name: "xelatex", Error: "not found"},
		},
		Python: diagnostics.Python{Packages: map[string]bool{"matplotlib": false, "pandas": false, "seaborn": false}},
	}
}

func TestHealthRoute(t *testing.T) {
	api := &APIServer{}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestDiagnosticsRouteRecomputesEachCall(t *testing.T) {
	diag := &stubDiagnoser{}
	api := &APIServer{Diagnostics: diag}
	h := api.Handler()

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/desktop/diagnostics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Less(t, strings.Index(body, `"pdflatex"`), strings.Index(body, `"xelatex"`))

		var report diagnostics.Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, []string{"pdflatex", "xelatex"}, report.Latex.Names())
		assert.Equal(t, "/data", report.DataDir)
	}
	assert.Equal(t, int32(2), diag.calls.Load())
}

func TestUnknownAPIRouteIs404JSON(t *testing.T) {
	api := &APIServer{}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/compile", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"ok":false,"error":"Not Found"}`, rec.Body.String())
}

func TestMetricsRoute(t *testing.T) {
	collector := metrics.NewCollector("test")
	collector.ObserveHealthPoll(true, time.Millisecond)
	api := &APIServer{Metrics: collector.Handler()}

	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_health_polls_total{result="healthy"} 1`)
}

func TestStaticFallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))
	api := &APIServer{StaticDir: dir}
	h := api.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app.js", nil))
	assert.Contains(t, rec.Body.String(), "console.log")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects/42", nil))
	assert.Contains(t, rec.Body.String(), "app")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeContextShutsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	api := &APIServer{}

	done := make(chan error, 1)
	go func() { done <- api.ServeContext(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/api/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down")
	}
}
