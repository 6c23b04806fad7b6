package apiserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttyfwd/ttyfwd/internal/config"
	"github.com/ttyfwd/ttyfwd/internal/session"
)

func newTestServer(t *testing.T) (*Server, *config.Config) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.ControlRoot = t.TempDir()
	return New(cfg), cfg
}

func TestHandleListEmpty(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var out []sessionListEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Empty(t, out)
}

func TestHandleGetMissingSessionIs404(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/nope", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDeleteLiveSessionIs409(t *testing.T) {
	s, cfg := newTestServer(t)
	dir := filepath.Join(cfg.ControlRoot, "live")
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, session.CreateInitial(dir, "bash", "/home", []string{"/bin/bash"}, ""))
	pid := os.Getpid()
	running := session.StatusRunning
	require.NoError(t, session.ApplyUpdate(dir, session.Update{PID: &pid, Status: &running}))

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/live", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleInputRequiresFifo(t *testing.T) {
	s, cfg := newTestServer(t)
	dir := filepath.Join(cfg.ControlRoot, "nofifo")
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, session.CreateInitial(dir, "bash", "/home", []string{"/bin/bash"}, ""))

	body := strings.NewReader(`{"text":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/nofifo/input", body)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleCreateRejectsEmptyCmdline(t *testing.T) {
	s, _ := newTestServer(t)
	body := strings.NewReader(`{"cmdline":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", body)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreateSpawnsSession(t *testing.T) {
	s, cfg := newTestServer(t)
	_ = cfg
	body := strings.NewReader(`{"cmdline":["true"]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", body)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.SessionID)
}
