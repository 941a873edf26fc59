package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concentra/internal/config"
	apierrors "concentra/internal/errors"
	"concentra/internal/infrastructure"
	"concentra/internal/insights"
	"concentra/internal/middleware"
	"concentra/internal/registry"
	"concentra/internal/services"
	"concentra/internal/tasks"
)

func newTestRouter(t *testing.T) chi.Router {
	t.Helper()
	logger := slog.Default()
	cfg := &config.Config{}
	cfg.Storage.DatasetsPath = t.TempDir()
	cfg.Storage.MaxFileSizeMB = 1
	cfg.Analysis.DefaultThresholds = []int{10, 20, 50}
	cfg.Analysis.LargeDatasetThreshold = 10000

	reg, err := registry.New(cfg.Storage.DatasetsPath, logger)
	require.NoError(t, err)
	metrics := infrastructure.NewMetrics()
	gen := insights.NewGenerator(nil, reg, metrics, logger, false, time.Second, 10)
	queue := tasks.NewQueue(1, logger)
	queue.Start(context.Background())
	t.Cleanup(queue.Stop)
	service := services.NewDatasetService(cfg, reg, gen, queue, metrics, logger)

	errorHandler := apierrors.NewHandler(logger, middleware.GetRequestID)
	handler := NewDatasetHandler(service, errorHandler, cfg.Storage.MaxFileBytes(), logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Mount("/api/v1", handler.Routes())
	return r
}

func uploadCSV(t *testing.T, router chi.Router, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

const handlerFixture = `Entity,Year,Revenue
ACME,2024,1000
BETA,2024,500
GAMMA,2024,500
DELTA,2024,500
`

func TestUploadAndAnalyzeFlow(t *testing.T) {
	router := newTestRouter(t)

	rec := uploadCSV(t, router, "revenue.csv", handlerFixture)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var upload services.UploadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &upload))
	assert.Regexp(t, `^ds_[0-9a-f]{12}$`, upload.DatasetID)
	assert.Equal(t, 4, upload.RowsProcessed)

	// Schema is readable.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/schema/"+upload.DatasetID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var schema map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &schema))
	assert.Equal(t, "year", schema["period_grain"])

	// Analyze.
	body := `{"group_by":"entity","value":"revenue","thresholds":[10,50],"run_llm":false}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze/"+upload.DatasetID+"/concentration", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, upload.DatasetID, doc["dataset_id"])
	totals := doc["totals"].(map[string]interface{})
	assert.Equal(t, 2500.0, totals["total"])

	// Downloads stream the artifacts.
	for _, artifact := range []string{"concentration.csv", "concentration.xlsx"} {
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
			"/api/v1/download/"+upload.DatasetID+"/"+artifact, nil))
		assert.Equal(t, http.StatusOK, rec.Code, artifact)
		assert.NotZero(t, rec.Body.Len())
	}

	// Lineage is served verbatim.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/lineage/"+upload.DatasetID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var lineage registry.Lineage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lineage))
	assert.Equal(t, upload.DatasetID, lineage.DatasetID)
	assert.NotEmpty(t, lineage.Steps)
}

func TestUploadRejectsUnsupportedExtension(t *testing.T) {
	router := newTestRouter(t)
	rec := uploadCSV(t, router, "notes.txt", "hello")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "ValidationError", envelope["error"])
	assert.NotEmpty(t, envelope["request_id"])
}

func TestAnalyzeInvalidDatasetID(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze/not-an-id/concentration",
		strings.NewReader(`{"group_by":"a","value":"b"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeUnknownDataset(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze/ds_0123456789ab/concentration",
		strings.NewReader(`{"group_by":"a","value":"b"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyzeValidationFailures(t *testing.T) {
	router := newTestRouter(t)
	rec := uploadCSV(t, router, "revenue.csv", handlerFixture)
	require.Equal(t, http.StatusOK, rec.Code)
	var upload services.UploadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &upload))

	tests := []struct {
		name string
		body string
		code int
	}{
		{name: "missing group_by", body: `{"value":"revenue"}`, code: http.StatusBadRequest},
		{name: "threshold out of range", body: `{"group_by":"entity","value":"revenue","thresholds":[50,10,10,120]}`, code: http.StatusBadRequest},
		{name: "too many thresholds", body: `{"group_by":"entity","value":"revenue","thresholds":[1,2,3,4,5,6,7,8,9,10,11]}`, code: http.StatusBadRequest},
		{name: "malformed json", body: `{`, code: http.StatusUnprocessableEntity},
		{name: "unknown column", body: `{"group_by":"nope","value":"revenue"}`, code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost,
				"/api/v1/analyze/"+upload.DatasetID+"/concentration", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestDuplicateThresholdsAccepted(t *testing.T) {
	router := newTestRouter(t)
	rec := uploadCSV(t, router, "revenue.csv", handlerFixture)
	require.Equal(t, http.StatusOK, rec.Code)
	var upload services.UploadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &upload))

	body := `{"group_by":"entity","value":"revenue","thresholds":[50,10,10],"run_llm":false}`
	req := httptest.NewRequest(http.MethodPost,
		"/api/v1/analyze/"+upload.DatasetID+"/concentration", strings.NewReader(body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	thresholds := doc["thresholds"].([]interface{})
	assert.Equal(t, []interface{}{10.0, 50.0}, thresholds)
}

func TestInsightsPlaceholder(t *testing.T) {
	router := newTestRouter(t)
	rec := uploadCSV(t, router, "revenue.csv", handlerFixture)
	require.Equal(t, http.StatusOK, rec.Code)
	var upload services.UploadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &upload))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/insights/"+upload.DatasetID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp services.InsightsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.Artifacts, "insights")
	var artifact insights.Artifact
	require.NoError(t, json.Unmarshal(resp.Artifacts["insights"], &artifact))
	assert.Equal(t, insights.ReasonDisabled, artifact.LLMStatus.Reason)
}

func TestDatasetState(t *testing.T) {
	router := newTestRouter(t)
	rec := uploadCSV(t, router, "revenue.csv", handlerFixture)
	require.Equal(t, http.StatusOK, rec.Code)
	var upload services.UploadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &upload))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/"+upload.DatasetID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var state registry.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.True(t, state.HasRaw)
	assert.True(t, state.HasNormalized)
	assert.False(t, state.HasAnalyses)
}
