// Package services sequences the pipeline: ingest, normalize, analyze,
// export. Each stage records a lineage step; failures map to the error
// taxonomy at the transport edge.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"concentra/internal/concentration"
	"concentra/internal/config"
	"concentra/internal/dataprocessing"
	apierrors "concentra/internal/errors"
	"concentra/internal/exporter"
	"concentra/internal/infrastructure"
	"concentra/internal/insights"
	"concentra/internal/registry"
	"concentra/internal/table"
	"concentra/internal/tasks"
	"concentra/internal/validation"
)

const analysisName = "concentration"

// UploadResult is the ingest response payload.
type UploadResult struct {
	DatasetID         string `json:"dataset_id"`
	Status            string `json:"status"`
	Message           string `json:"message"`
	RowsProcessed     int    `json:"rows_processed"`
	ColumnsProcessed  int    `json:"columns_processed"`
}

// DatasetService is the pipeline controller.
type DatasetService struct {
	cfg        *config.Config
	registry   *registry.Registry
	normalizer *dataprocessing.Normalizer
	analyzer   *concentration.Analyzer
	exporter   *exporter.Exporter
	insights   *insights.Generator
	queue      *tasks.Queue
	metrics    *infrastructure.Metrics
	logger     *slog.Logger
}

// NewDatasetService wires the pipeline together.
func NewDatasetService(cfg *config.Config, reg *registry.Registry, gen *insights.Generator, queue *tasks.Queue, metrics *infrastructure.Metrics, logger *slog.Logger) *DatasetService {
	return &DatasetService{
		cfg:        cfg,
		registry:   reg,
		normalizer: dataprocessing.NewNormalizer(logger),
		analyzer:   concentration.NewAnalyzer(cfg.Analysis.LargeDatasetThreshold, logger),
		exporter:   exporter.New(logger),
		insights:   gen,
		queue:      queue,
		metrics:    metrics,
		logger:     logger.With(slog.String("component", "dataset_service")),
	}
}

// Ingest stores the raw upload, normalizes it and persists the canonical
// table plus schema. Returns the upload summary.
func (s *DatasetService) Ingest(ctx context.Context, filename string, size int64, content io.Reader, sheet string) (*UploadResult, error) {
	if err := validation.ValidateUpload(filename, size, s.cfg.Storage.MaxFileBytes()); err != nil {
		s.metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	datasetID, err := s.registry.CreateDataset(filename)
	if err != nil {
		return nil, err
	}

	rawPath, err := s.registry.RawPath(datasetID, filename)
	if err != nil {
		return nil, err
	}
	if err := copyBounded(rawPath, content, s.cfg.Storage.MaxFileBytes()); err != nil {
		s.metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	digest, err := table.SHA256(rawPath)
	if err != nil {
		return nil, fmt.Errorf("digest raw upload: %w", err)
	}
	if err := s.registry.RecordStep(datasetID, "ingest",
		map[string]interface{}{"filename": filename, "sheet": sheet},
		map[string]interface{}{"raw_path": rawPath, "sha256": digest, "bytes": size},
		nil); err != nil {
		return nil, err
	}

	opts := table.ReadOptions{MaxBytes: s.cfg.Storage.MaxFileBytes()}
	var raw *table.Table
	if validation.IsSpreadsheet(filename) {
		raw, err = table.ReadSpreadsheet(rawPath, sheet, opts)
	} else {
		raw, err = table.ReadDelimited(rawPath, opts)
	}
	if err != nil {
		s.metrics.UploadsTotal.WithLabelValues("unreadable").Inc()
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := s.normalizer.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize dataset: %w", err)
	}
	result.Schema.DatasetID = datasetID

	if err := table.WriteColumnar(result.Table, s.registry.NormalizedPath(datasetID)); err != nil {
		return nil, fmt.Errorf("persist normalized table: %w", err)
	}
	if err := s.registry.SaveSchema(datasetID, result.Schema); err != nil {
		return nil, err
	}
	if err := s.registry.RecordStep(datasetID, "normalize",
		map[string]interface{}{"rows_in": raw.RowCount(), "columns_in": raw.ColumnCount()},
		map[string]interface{}{
			"rows_out":     result.Table.RowCount(),
			"columns_out":  result.Table.ColumnCount(),
			"period_grain": string(result.Schema.PeriodGrain),
		},
		result.Warnings); err != nil {
		return nil, err
	}

	s.metrics.UploadsTotal.WithLabelValues("ok").Inc()
	s.logger.InfoContext(ctx, "dataset ingested",
		slog.String("dataset_id", datasetID),
		slog.Int("rows", result.Table.RowCount()),
		slog.Int("columns", result.Table.ColumnCount()))

	return &UploadResult{
		DatasetID:        datasetID,
		Status:           "completed",
		Message:          "File processed successfully",
		RowsProcessed:    result.Table.RowCount(),
		ColumnsProcessed: result.Table.ColumnCount(),
	}, nil
}

// copyBounded streams an upload to disk, refusing to write past the
// configured limit.
func copyBounded(path string, content io.Reader, maxBytes int64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create raw file: %w", err)
	}
	defer f.Close()

	limit := io.LimitReader(content, maxBytes+1)
	n, err := io.Copy(f, limit)
	if err != nil {
		return fmt.Errorf("store raw file: %w", err)
	}
	if n > maxBytes {
		os.Remove(path)
		return apierrors.PayloadTooLargef("File exceeds the %d MiB limit", maxBytes>>20)
	}
	return nil
}

// AnalyzeRequest carries analyze parameters from the transport layer.
type AnalyzeRequest struct {
	GroupBy    string
	Value      string
	TimeColumn string
	Thresholds []int
	RunLLM     bool
}

// Analyze runs the concentration computation, persists the result and
// its exports, and dispatches the advisory task after the analysis
// artifact is durable.
func (s *DatasetService) Analyze(ctx context.Context, datasetID string, req AnalyzeRequest) (*concentration.Document, error) {
	schema, typed, err := s.loadNormalized(datasetID)
	if err != nil {
		s.metrics.AnalysesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	thresholds := req.Thresholds
	if len(thresholds) == 0 {
		thresholds = s.cfg.Analysis.DefaultThresholds
	}
	doc, err := s.analyzer.Analyze(typed, schema, concentration.Params{
		GroupBy:    req.GroupBy,
		Value:      req.Value,
		TimeColumn: req.TimeColumn,
		Thresholds: thresholds,
	})
	if err != nil {
		s.metrics.AnalysesTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	doc.DatasetID = datasetID

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Export failures degrade, never fail the analysis.
	doc.ExportLinks = s.writeExports(ctx, datasetID, doc)

	if err := s.registry.SaveAnalysis(datasetID, analysisName, doc); err != nil {
		s.metrics.AnalysesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	outputs := map[string]interface{}{"analysis": "analyses/" + analysisName + ".json"}
	for _, p := range doc.ByPeriod {
		outputs[fmt.Sprintf("concentration_calculation_%s", p.Period)] = "completed"
	}
	outputs["concentration_calculation_TOTAL"] = "completed"
	if err := s.registry.RecordStep(datasetID, "analyze_concentration",
		map[string]interface{}{
			"group_by":   req.GroupBy,
			"value":      req.Value,
			"thresholds": doc.Thresholds,
		},
		outputs, doc.Warnings); err != nil {
		return nil, err
	}

	s.metrics.AnalysesTotal.WithLabelValues("ok").Inc()

	// The advisory task starts only after the analysis artifact is durably
	// written, and the response never waits for it.
	if req.RunLLM {
		s.queue.Submit(tasks.Task{
			Name: "llm_insights/" + datasetID,
			Run: func(taskCtx context.Context) {
				s.insights.Generate(taskCtx, datasetID, doc)
			},
		})
	}

	return doc, nil
}

// writeExports renders CSV and workbook artifacts concurrently. On any
// failure it appends a warning to the document and returns nil links.
func (s *DatasetService) writeExports(ctx context.Context, datasetID string, doc *concentration.Document) *concentration.ExportLinks {
	csvPath := s.registry.AnalysisPath(datasetID, analysisName+".csv")
	xlsxPath := s.registry.AnalysisPath(datasetID, analysisName+".xlsx")

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { return s.exporter.WriteCSV(doc, csvPath) })
	g.Go(func() error { return s.exporter.WriteWorkbook(doc, xlsxPath) })
	if err := g.Wait(); err != nil {
		s.logger.WarnContext(ctx, "export failed",
			slog.String("dataset_id", datasetID),
			slog.String("error", err.Error()))
		doc.Warnings = append(doc.Warnings, fmt.Sprintf("Export failed: %v", err))
		return nil
	}

	return &concentration.ExportLinks{
		CSV:  fmt.Sprintf("/api/v1/download/%s/concentration.csv", datasetID),
		XLSX: fmt.Sprintf("/api/v1/download/%s/concentration.xlsx", datasetID),
	}
}

// loadNormalized loads the schema and canonical table for a dataset.
func (s *DatasetService) loadNormalized(datasetID string) (*dataprocessing.Schema, *table.Table, error) {
	raw, err := s.registry.GetSchema(datasetID)
	if err != nil {
		return nil, nil, err
	}
	var schema dataprocessing.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, nil, fmt.Errorf("decode schema: %w", err)
	}
	typed, err := table.ReadColumnar(s.registry.NormalizedPath(datasetID))
	if err != nil {
		return nil, nil, err
	}
	return &schema, typed, nil
}

// GetSchema returns the stored schema document.
func (s *DatasetService) GetSchema(datasetID string) (json.RawMessage, error) {
	return s.registry.GetSchema(datasetID)
}

// GetLineage returns the lineage document verbatim.
func (s *DatasetService) GetLineage(datasetID string) (*registry.Lineage, error) {
	return s.registry.GetLineage(datasetID)
}

// GetState reports which artifacts exist for a dataset.
func (s *DatasetService) GetState(datasetID string) (*registry.State, error) {
	return s.registry.GetState(datasetID)
}

// ExportPath resolves a download to its artifact file. Only the two
// known artifact names are served.
func (s *DatasetService) ExportPath(datasetID, artifact string) (string, error) {
	if err := registry.ValidateID(datasetID); err != nil {
		return "", err
	}
	switch artifact {
	case "concentration.csv", "concentration.xlsx":
	default:
		return "", apierrors.NotFoundf("Artifact %s not found", artifact)
	}
	path := s.registry.AnalysisPath(datasetID, artifact)
	if _, err := os.Stat(path); err != nil {
		return "", apierrors.NotFoundf("Artifact %s not found for dataset %s", artifact, datasetID)
	}
	return path, nil
}

// InsightsResponse is the insights endpoint payload.
type InsightsResponse struct {
	DatasetID string                     `json:"dataset_id"`
	Artifacts map[string]json.RawMessage `json:"artifacts"`
}

// GetInsights returns the latest advisory artifacts, or structured
// placeholders when none exist yet.
func (s *DatasetService) GetInsights(datasetID string) (*InsightsResponse, error) {
	artifacts, err := s.registry.LatestLLMArtifacts(datasetID)
	if err != nil {
		return nil, err
	}
	if len(artifacts) == 0 {
		placeholder := insights.Artifact{
			DatasetID:   datasetID,
			Function:    "insights",
			GeneratedAt: time.Now().UTC(),
			LLMStatus:   insights.Status{Used: false, Reason: insights.ReasonDisabled},
		}
		data, err := json.Marshal(placeholder)
		if err != nil {
			return nil, fmt.Errorf("encode placeholder: %w", err)
		}
		artifacts = map[string]json.RawMessage{"insights": data}
	}
	return &InsightsResponse{DatasetID: datasetID, Artifacts: artifacts}, nil
}
