package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openprism/desktop/internal/config"
	"github.com/openprism/desktop/internal/diagnostics"
)

func freeAddr(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return ln.Addr().String(), port
}

func TestServeAnswersHealthAndDiagnostics(t *testing.T) {
	addr, port := freeAddr(t)
	dataDir := t.TempDir() + "/nested/data"
	cfg := config.BackendConfig{Port: port, Addr: addr, DataDir: dataDir, Desktop: true, TunnelMode: "ngrok"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, "", zap.NewNop()) }()

	base := "http://" + addr
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	assert.DirExists(t, dataDir)

	resp, err := http.Get(base + "/api/desktop/diagnostics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	var report diagnostics.Report
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, dataDir, report.DataDir)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("backend did not stop")
	}
}
