// Package http exposes the pipeline over chi: ingest, schema, analyze,
// downloads, insights and lineage.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "concentra/internal/errors"
	"concentra/internal/registry"
	"concentra/internal/services"
)

// DatasetHandler serves the dataset lifecycle endpoints.
type DatasetHandler struct {
	service      *services.DatasetService
	errorHandler *apierrors.Handler
	validate     *validator.Validate
	maxBytes     int64
	logger       *slog.Logger
}

// NewDatasetHandler creates the handler.
func NewDatasetHandler(service *services.DatasetService, errorHandler *apierrors.Handler, maxBytes int64, logger *slog.Logger) *DatasetHandler {
	return &DatasetHandler{
		service:      service,
		errorHandler: errorHandler,
		validate:     validator.New(),
		maxBytes:     maxBytes,
		logger:       logger.With(slog.String("component", "dataset_handler")),
	}
}

// Routes mounts the endpoints.
func (h *DatasetHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Post("/upload", h.Upload)

	r.Route("/datasets/{datasetID}", func(r chi.Router) {
		r.Use(h.DatasetCtx)
		r.Get("/", h.GetState)
	})
	r.With(h.DatasetCtx).Get("/schema/{datasetID}", h.GetSchema)
	r.With(h.DatasetCtx).Post("/analyze/{datasetID}/concentration", h.Analyze)
	r.With(h.DatasetCtx).Get("/download/{datasetID}/{artifact}", h.Download)
	r.With(h.DatasetCtx).Get("/insights/{datasetID}", h.GetInsights)
	r.With(h.DatasetCtx).Get("/lineage/{datasetID}", h.GetLineage)

	return r
}

// DatasetCtx rejects malformed dataset ids before any filesystem access.
func (h *DatasetHandler) DatasetCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := registry.ValidateID(chi.URLParam(r, "datasetID")); err != nil {
			h.errorHandler.Respond(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Upload handles POST /upload: multipart form with a "file" part and an
// optional "sheet" field for workbooks.
func (h *DatasetHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+(1<<20))
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		if _, tooLarge := err.(*http.MaxBytesError); tooLarge {
			h.errorHandler.Respond(w, r, apierrors.PayloadTooLargef("File exceeds the %d MiB limit", h.maxBytes>>20))
			return
		}
		h.errorHandler.Respond(w, r, apierrors.Unprocessablef("Invalid multipart body: %v", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.errorHandler.Respond(w, r, apierrors.Unprocessablef("Missing 'file' part"))
		return
	}
	defer file.Close()

	result, err := h.service.Ingest(r.Context(), header.Filename, header.Size, file, r.FormValue("sheet"))
	if err != nil {
		h.errorHandler.Respond(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

// GetState handles GET /datasets/{id}.
func (h *DatasetHandler) GetState(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.GetState(chi.URLParam(r, "datasetID"))
	if err != nil {
		h.errorHandler.Respond(w, r, err)
		return
	}
	render.JSON(w, r, state)
}

// GetSchema handles GET /schema/{id}.
func (h *DatasetHandler) GetSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := h.service.GetSchema(chi.URLParam(r, "datasetID"))
	if err != nil {
		h.errorHandler.Respond(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(schema)
}

// analyzeRequest is the analyze endpoint's body.
type analyzeRequest struct {
	GroupBy    string `json:"group_by" validate:"required"`
	Value      string `json:"value" validate:"required"`
	Time       string `json:"time,omitempty"`
	Thresholds []int  `json:"thresholds,omitempty" validate:"omitempty,max=10,dive,min=1,max=100"`
	RunLLM     *bool  `json:"run_llm,omitempty"`
}

// Analyze handles POST /analyze/{id}/concentration.
func (h *DatasetHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.Respond(w, r, apierrors.Unprocessablef("Invalid request body: %v", err))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.errorHandler.Respond(w, r, apierrors.NewWithDetails(
			apierrors.KindValidation, "Request validation failed", err.Error()))
		return
	}

	runLLM := true
	if req.RunLLM != nil {
		runLLM = *req.RunLLM
	}

	doc, err := h.service.Analyze(r.Context(), chi.URLParam(r, "datasetID"), services.AnalyzeRequest{
		GroupBy:    req.GroupBy,
		Value:      req.Value,
		TimeColumn: req.Time,
		Thresholds: req.Thresholds,
		RunLLM:     runLLM,
	})
	if err != nil {
		h.errorHandler.Respond(w, r, err)
		return
	}
	render.JSON(w, r, doc)
}

// Download streams an export artifact.
func (h *DatasetHandler) Download(w http.ResponseWriter, r *http.Request) {
	datasetID := chi.URLParam(r, "datasetID")
	artifact := chi.URLParam(r, "artifact")

	path, err := h.service.ExportPath(datasetID, artifact)
	if err != nil {
		h.errorHandler.Respond(w, r, err)
		return
	}

	contentType := "text/csv"
	if artifact == "concentration.xlsx" {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+artifact+`"`)
	http.ServeFile(w, r, path)
}

// GetInsights handles GET /insights/{id}.
func (h *DatasetHandler) GetInsights(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.GetInsights(chi.URLParam(r, "datasetID"))
	if err != nil {
		h.errorHandler.Respond(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// GetLineage handles GET /lineage/{id}.
func (h *DatasetHandler) GetLineage(w http.ResponseWriter, r *http.Request) {
	lineage, err := h.service.GetLineage(chi.URLParam(r, "datasetID"))
	if err != nil {
		h.errorHandler.Respond(w, r, err)
		return
	}
	render.JSON(w, r, lineage)
}
