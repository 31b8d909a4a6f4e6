package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/straja-ai/asclepius/internal/audit"
)

func TestRootRegistersCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "scrub", "bench", "mock-judge", "audit-receiver"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestScrubCommandIsLocal(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "asclepius.yaml")
	// an unreachable judge proves scrub never builds the network client
	require.NoError(t, os.WriteFile(cfgFile, []byte("logging:\n  level: error\njudge:\n  type: openai\n  api_key: unused\n  base_url: https://judge.invalid/v1\n"), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetIn(strings.NewReader("Patient John Smith, call 555-123-4567."))
	rootCmd.SetArgs([]string{"scrub", "--config", cfgFile, "-"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute())

	var res struct {
		Text  string   `json:"text"`
		Types []string `json:"detected_types"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, "Patient <PATIENT_NAME>, call <PHONE>.", res.Text)
	assert.Equal(t, []string{"PERSON", "PHONE_NUMBER"}, res.Types)
}

func TestAuditReceiverHandler(t *testing.T) {
	h := auditReceiverHandler(zap.NewNop())

	ev := audit.NewEvent("req-1")
	ev.Status = "success"
	body, err := json.Marshal(ev)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/audit", bytes.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
