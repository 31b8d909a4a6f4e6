package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/straja-ai/asclepius/internal/entity"
	"github.com/straja-ai/asclepius/internal/evaluator"
	"github.com/straja-ai/asclepius/internal/gateway"
	"github.com/straja-ai/asclepius/internal/judge"
	"github.com/straja-ai/asclepius/internal/recognizer"
	"github.com/straja-ai/asclepius/internal/scrubber"
)

type stubProcessor struct {
	report *gateway.Report
	err    error
	got    []gateway.Transaction
}

func (p *stubProcessor) Process(_ context.Context, tx gateway.Transaction) (*gateway.Report, error) {
	p.got = append(p.got, tx)
	return p.report, p.err
}

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(zap.NewNop(), Config{})
	require.NoError(t, err)
	return s
}

func post(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBufferString(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		s := setupTestServer(t)
		assert.Equal(t, ":8080", s.config.Addr)
		assert.Equal(t, DefaultVersion, s.config.Version)
		assert.Equal(t, DefaultBodyLimit, s.config.BodyLimit)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(nil, Config{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})
}

func TestHandleHealth(t *testing.T) {
	s := setupTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "operational", resp.Status)
	assert.Equal(t, "1.0.0", resp.Version)
}

func TestEvaluateBeforeGatewayReady(t *testing.T) {
	s := setupTestServer(t)

	rec := post(t, s, `{"query":"q","context":"c","response":"r"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"detail":"Gateway not initialized"}`, rec.Body.String())
}

func TestEvaluateValidation(t *testing.T) {
	s := setupTestServer(t)
	p := &stubProcessor{report: &gateway.Report{Status: gateway.StatusSuccess}}
	s.SetGateway(p)

	cases := []struct {
		name  string
		body  string
		field string
		typ   string
	}{
		{"missing query", `{"context":"c","response":"r"}`, "query", "missing"},
		{"missing response", `{"query":"q","context":"c"}`, "response", "missing"},
		{"query too long", `{"query":"` + strings.Repeat("a", 1001) + `","context":"c","response":"r"}`, "query", "string_too_long"},
		{"context too long", `{"query":"q","context":"` + strings.Repeat("a", 10001) + `","response":"r"}`, "context", "string_too_long"},
		{"response too long", `{"query":"q","context":"c","response":"` + strings.Repeat("é", 5001) + `"}`, "response", "string_too_long"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := post(t, s, tc.body)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

			var resp struct {
				Detail []FieldError `json:"detail"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.NotEmpty(t, resp.Detail)
			assert.Equal(t, []string{"body", tc.field}, resp.Detail[0].Loc)
			assert.Equal(t, tc.typ, resp.Detail[0].Type)
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		rec := post(t, s, `{"query":`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("bounds are characters not bytes", func(t *testing.T) {
		rec := post(t, s, `{"query":"`+strings.Repeat("é", 1000)+`","context":"","response":""}`)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	assert.Len(t, p.got, 1, "only the valid request reaches the gateway")
}

func TestEvaluateEscapedBodyAtBounds(t *testing.T) {
	s := setupTestServer(t)
	p := &stubProcessor{report: &gateway.Report{Status: gateway.StatusSuccess}}
	s.SetGateway(p)

	// One emoji per character, sent as a \uXXXX\uXXXX surrogate pair.
	const escaped = `\ud83d\ude00`
	body := `{"query":"` + strings.Repeat(escaped, MaxQueryChars) +
		`","context":"` + strings.Repeat(escaped, MaxContextChars) +
		`","response":"` + strings.Repeat(escaped, MaxResponseChars) + `"}`
	require.Greater(t, len(body), 64*1024)

	rec := post(t, s, body)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, p.got, 1)
	assert.Equal(t, MaxQueryChars, utf8.RuneCountInString(p.got[0].Query))
	assert.Equal(t, MaxContextChars, utf8.RuneCountInString(p.got[0].Context))
	assert.Equal(t, MaxResponseChars, utf8.RuneCountInString(p.got[0].Response))
}

func TestEvaluateStatusMapping(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		s := setupTestServer(t)
		p := &stubProcessor{report: &gateway.Report{
			Status:          gateway.StatusSuccess,
			SecurityAudit:   gateway.SecurityAudit{RedactedEntityTypes: []entity.Type{}},
			ClinicalQuality: &evaluator.Verdict{Score: 8, Reasoning: "fine"},
		}}
		s.SetGateway(p)

		rec := post(t, s, `{"query":"","context":"","response":""}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, p.got, 1)
		assert.NotEmpty(t, p.got[0].RequestID)
		assert.Equal(t, p.got[0].RequestID, rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("service unavailable keeps body", func(t *testing.T) {
		s := setupTestServer(t)
		s.SetGateway(&stubProcessor{report: &gateway.Report{
			Status:        gateway.StatusServiceUnavailable,
			SecurityAudit: gateway.SecurityAudit{PIIDetected: true, RedactedEntityTypes: []entity.Type{entity.Person}, RedactionCount: 1},
			Error:         gateway.ServiceUnavailableMessage,
		}})

		rec := post(t, s, `{"query":"q","context":"c","response":"r"}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "service_unavailable", body["status"])
		assert.Equal(t, "Evaluation Service Unavailable", body["error"])
		assert.NotContains(t, body, "clinical_quality")
		assert.Contains(t, body, "security_audit")
	})

	t.Run("scrub failure is generic", func(t *testing.T) {
		s := setupTestServer(t)
		s.SetGateway(&stubProcessor{err: &scrubber.Error{Op: "detect", Err: errors.New("engine saw John Smith")}})

		rec := post(t, s, `{"query":"John Smith","context":"c","response":"r"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "John")
	})
}

func TestEvaluateEndToEnd(t *testing.T) {
	sc, err := scrubber.New(context.Background(), recognizer.NewRegex(), scrubber.Options{
		Entities: entity.All(),
		Policy:   entity.DefaultPolicy(),
	})
	require.NoError(t, err)
	fake := judge.NewFake(`{"score": 4, "hallucination_detected": true, "missing_warnings": true, "reasoning": "Omits warning."}`)
	ev, err := evaluator.New(fake, evaluator.Options{})
	require.NoError(t, err)
	g, err := gateway.New(sc, ev, gateway.Options{})
	require.NoError(t, err)

	s := setupTestServer(t)
	s.SetGateway(g)

	rec := post(t, s, `{"query":"Is ibuprofen safe for John Smith, phone 555-123-4567?","context":"Ibuprofen: avoid with kidney disease.","response":"Yes it's fine."}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var report gateway.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.SecurityAudit.PIIDetected)
	assert.Contains(t, report.SecurityAudit.RedactedEntityTypes, entity.PhoneNumber)
	require.NotNil(t, report.ClinicalQuality)
	assert.Equal(t, 4, report.ClinicalQuality.Score)

	require.Len(t, fake.Prompts(), 1)
	assert.NotContains(t, fake.Prompts()[0], "John Smith")
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupTestServer(t)
	_ = post(t, s, `{"query":"q","context":"c","response":"r"}`)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `asclepius_http_requests_total{method="POST",route="/evaluate",status="503"} 1`)
}
