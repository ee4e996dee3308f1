package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/memorybank"
	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/pipeline"
	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/rules"
	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/telemetry"
)

func setupTestServer(t *testing.T) (*Server, *memorybank.InMemoryStore) {
	t.Helper()

	store := memorybank.NewInMemoryStore()
	metrics, registry := telemetry.New()
	engine, err := pipeline.NewEngine(store, rules.Builtin(), zap.NewNop(), pipeline.WithMetrics(metrics))
	require.NoError(t, err)

	server, err := NewServer(engine, store, registry, zap.NewNop(), nil)
	require.NoError(t, err)
	return server, store
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, _ := setupTestServer(t)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 8080, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		store := memorybank.NewInMemoryStore()
		engine, err := pipeline.NewEngine(store, rules.Builtin(), zap.NewNop())
		require.NoError(t, err)

		_, err = NewServer(engine, store, nil, nil, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when engine is nil", func(t *testing.T) {
		_, err := NewServer(nil, memorybank.NewInMemoryStore(), nil, zap.NewNop(), nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "engine cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	err := json.Unmarshal(rec.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleProcess(t *testing.T) {
	t.Run("processes a document end to end", func(t *testing.T) {
		server, store := setupTestServer(t)

		m, err := memorybank.New("acme", rules.PatternMissingServiceDate, memorybank.TypeCorrection, 0.9)
		require.NoError(t, err)
		require.NoError(t, store.Save(context.Background(), m))

		body := `{
			"document": {
				"documentId": "doc-1",
				"vendor": "acme",
				"fields": {"invoiceNumber": "INV-100", "issueDate": "2024-02-03"},
				"rawText": "Rechnung INV-100\nLeistungsdatum: 01.02.2024"
			}
		}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/process", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		server.echo.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var result pipeline.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, "2024-02-01", result.NormalizedDocument.Fields.ServiceDate)
		assert.False(t, result.RequiresHumanReview)
		assert.NotEmpty(t, result.AuditTrail)
	})

	t.Run("rejects missing identity fields", func(t *testing.T) {
		server, _ := setupTestServer(t)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/process",
			strings.NewReader(`{"document": {"vendor": "acme"}}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		server.echo.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		req = httptest.NewRequest(http.MethodPost, "/api/v1/process",
			strings.NewReader(`{"document": {"documentId": "doc-1"}}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec = httptest.NewRecorder()

		server.echo.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		server, _ := setupTestServer(t)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/process", bytes.NewReader([]byte("{")))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		server.echo.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleMemories(t *testing.T) {
	server, store := setupTestServer(t)

	m, err := memorybank.New("acme", rules.PatternMissingServiceDate, memorybank.TypeCorrection, 0.7)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), m))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/memories/acme", nil)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp MemoriesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "acme", resp.Vendor)
	require.Len(t, resp.Memories, 1)
	assert.Equal(t, rules.PatternMissingServiceDate, resp.Memories[0].Pattern)

	// Unknown vendors return an empty list, not an error.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/memories/globex", nil)
	rec = httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Memories)
}

func TestHandleBootstrap(t *testing.T) {
	server, store := setupTestServer(t)

	body := `{
		"corrections": [
			{"vendor": "acme", "pattern": "missing_service_date", "field": "serviceDate", "occurrences": 3}
		]
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bootstrap", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	server.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	m, err := store.RawMemory(context.Background(), "acme", "missing_service_date")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.InDelta(t, 0.7, m.Confidence, 1e-9)

	// Empty payloads are rejected.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/bootstrap", strings.NewReader(`{"corrections": []}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()

	server.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleMetrics(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	server.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestShutdown(t *testing.T) {
	server, _ := setupTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, server.Shutdown(ctx))
}
