// Package registry owns the per-dataset directory, the append-only
// lineage log and schema persistence. All writes to one dataset are
// serialized behind a per-dataset mutex; datasets never share locks.
package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apierrors "concentra/internal/errors"
	"concentra/internal/table"
)

// DatasetIDPattern matches well-formed dataset identifiers. IDs are
// validated before any filesystem access.
var DatasetIDPattern = regexp.MustCompile(`^ds_[0-9a-f]{12}$`)

const createRetries = 5

// Step is one lineage entry. Timestamps are RFC 3339 and non-decreasing
// within a dataset.
type Step struct {
	ID         string                 `json:"id"`
	Operation  string                 `json:"operation"`
	Timestamp  time.Time              `json:"timestamp"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Outputs    map[string]interface{} `json:"outputs,omitempty"`
	Warnings   []string               `json:"warnings,omitempty"`
}

// Lineage is the full provenance document for a dataset.
type Lineage struct {
	DatasetID        string    `json:"dataset_id"`
	CreatedAt        time.Time `json:"created_at"`
	OriginalFilename string    `json:"original_filename"`
	Steps            []Step    `json:"steps"`
}

// State reports which artifacts exist for a dataset.
type State struct {
	DatasetID     string `json:"dataset_id"`
	HasRaw        bool   `json:"has_raw"`
	HasNormalized bool   `json:"has_normalized"`
	HasSchema     bool   `json:"has_schema"`
	HasAnalyses   bool   `json:"has_analyses"`
}

// Registry allocates dataset ids and mediates all dataset-directory IO.
type Registry struct {
	basePath string
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a registry rooted at basePath, creating it if needed.
func New(basePath string, logger *slog.Logger) (*Registry, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create datasets directory: %w", err)
	}
	return &Registry{
		basePath: basePath,
		logger:   logger.With(slog.String("component", "registry")),
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// lockFor returns the mutex guarding one dataset, creating it on first use.
func (r *Registry) lockFor(datasetID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[datasetID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[datasetID] = l
	}
	return l
}

// newDatasetID draws a fresh id from the random pool.
func newDatasetID() string {
	return "ds_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// CreateDataset allocates an id, creates the directory skeleton and the
// initial lineage document. Allocation retries on the unlikely collision,
// bounded so a corrupt base directory cannot loop forever.
func (r *Registry) CreateDataset(originalFilename string) (string, error) {
	var datasetID string
	for attempt := 0; ; attempt++ {
		if attempt >= createRetries {
			return "", apierrors.Conflictf("Could not allocate a dataset identifier")
		}
		datasetID = newDatasetID()
		if _, err := os.Stat(r.DatasetPath(datasetID)); os.IsNotExist(err) {
			break
		}
	}

	dir := r.DatasetPath(datasetID)
	for _, sub := range []string{"raw", "analyses", "llm"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return "", fmt.Errorf("create dataset directory: %w", err)
		}
	}

	lineage := Lineage{
		DatasetID:        datasetID,
		CreatedAt:        time.Now().UTC(),
		OriginalFilename: originalFilename,
		Steps: []Step{{
			ID:         "st_0001",
			Operation:  "create",
			Timestamp:  time.Now().UTC(),
			Parameters: map[string]interface{}{"filename": originalFilename},
		}},
	}
	if err := r.writeJSON(filepath.Join(dir, "lineage.json"), lineage); err != nil {
		return "", err
	}

	r.logger.Info("dataset created",
		slog.String("dataset_id", datasetID),
		slog.String("filename", originalFilename))
	return datasetID, nil
}

// ValidateID rejects malformed dataset ids before any filesystem access.
func ValidateID(datasetID string) error {
	if !DatasetIDPattern.MatchString(datasetID) {
		return apierrors.Validationf("Invalid dataset id format")
	}
	return nil
}

// DatasetPath returns the directory owned by a dataset.
func (r *Registry) DatasetPath(datasetID string) string {
	return filepath.Join(r.basePath, datasetID)
}

// RawPath canonicalizes the raw-file path for an upload and rejects any
// filename that would escape the dataset directory.
func (r *Registry) RawPath(datasetID, filename string) (string, error) {
	if err := ValidateID(datasetID); err != nil {
		return "", err
	}
	rawDir := filepath.Join(r.DatasetPath(datasetID), "raw")
	candidate := filepath.Join(rawDir, filepath.Base(filename))
	resolved := filepath.Clean(candidate)
	if !strings.HasPrefix(resolved, filepath.Clean(rawDir)+string(filepath.Separator)) {
		return "", apierrors.Validationf("Invalid filename")
	}
	return resolved, nil
}

// NormalizedPath returns the canonical-table path for a dataset.
func (r *Registry) NormalizedPath(datasetID string) string {
	return filepath.Join(r.DatasetPath(datasetID), "normalized.columns.json")
}

// AnalysisPath returns the path of a named analysis artifact.
func (r *Registry) AnalysisPath(datasetID, name string) string {
	return filepath.Join(r.DatasetPath(datasetID), "analyses", name)
}

// GetState reports which artifacts exist. A missing dataset is NotFound.
func (r *Registry) GetState(datasetID string) (*State, error) {
	if err := ValidateID(datasetID); err != nil {
		return nil, err
	}
	dir := r.DatasetPath(datasetID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, apierrors.NotFoundf("Dataset %s not found", datasetID)
	}
	state := &State{DatasetID: datasetID}
	if entries, err := os.ReadDir(filepath.Join(dir, "raw")); err == nil && len(entries) > 0 {
		state.HasRaw = true
	}
	if _, err := os.Stat(r.NormalizedPath(datasetID)); err == nil {
		state.HasNormalized = true
	}
	if _, err := os.Stat(filepath.Join(dir, "schema.json")); err == nil {
		state.HasSchema = true
	}
	if entries, err := os.ReadDir(filepath.Join(dir, "analyses")); err == nil && len(entries) > 0 {
		state.HasAnalyses = true
	}
	return state, nil
}

// RecordStep appends a lineage step under the dataset's exclusive lock.
// The step timestamp never goes backwards even if the wall clock does.
func (r *Registry) RecordStep(datasetID, operation string, parameters, outputs map[string]interface{}, warnings []string) error {
	if err := ValidateID(datasetID); err != nil {
		return err
	}
	lock := r.lockFor(datasetID)
	lock.Lock()
	defer lock.Unlock()

	lineage, err := r.readLineage(datasetID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if n := len(lineage.Steps); n > 0 && now.Before(lineage.Steps[n-1].Timestamp) {
		now = lineage.Steps[n-1].Timestamp
	}
	lineage.Steps = append(lineage.Steps, Step{
		ID:         fmt.Sprintf("st_%04d", len(lineage.Steps)+1),
		Operation:  operation,
		Timestamp:  now,
		Parameters: parameters,
		Outputs:    outputs,
		Warnings:   warnings,
	})

	return r.writeJSON(filepath.Join(r.DatasetPath(datasetID), "lineage.json"), lineage)
}

// GetLineage returns the lineage document verbatim.
func (r *Registry) GetLineage(datasetID string) (*Lineage, error) {
	if err := ValidateID(datasetID); err != nil {
		return nil, err
	}
	lock := r.lockFor(datasetID)
	lock.Lock()
	defer lock.Unlock()
	return r.readLineage(datasetID)
}

func (r *Registry) readLineage(datasetID string) (*Lineage, error) {
	data, err := os.ReadFile(filepath.Join(r.DatasetPath(datasetID), "lineage.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierrors.NotFoundf("Dataset %s not found", datasetID)
		}
		return nil, fmt.Errorf("read lineage: %w", err)
	}
	var lineage Lineage
	if err := json.Unmarshal(data, &lineage); err != nil {
		return nil, fmt.Errorf("decode lineage: %w", err)
	}
	return &lineage, nil
}

// SaveSchema atomically replaces the schema document.
func (r *Registry) SaveSchema(datasetID string, schema interface{}) error {
	if err := ValidateID(datasetID); err != nil {
		return err
	}
	lock := r.lockFor(datasetID)
	lock.Lock()
	defer lock.Unlock()
	return r.writeJSON(filepath.Join(r.DatasetPath(datasetID), "schema.json"), schema)
}

// GetSchema reads the schema document as raw JSON. Missing dataset or
// schema is NotFound.
func (r *Registry) GetSchema(datasetID string) (json.RawMessage, error) {
	if err := ValidateID(datasetID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(r.DatasetPath(datasetID), "schema.json"))
	if err != nil {
		if os.IsNotExist(err) {
			if _, statErr := os.Stat(r.DatasetPath(datasetID)); os.IsNotExist(statErr) {
				return nil, apierrors.NotFoundf("Dataset %s not found", datasetID)
			}
			return nil, apierrors.NotFoundf("Schema not available for dataset %s", datasetID)
		}
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return json.RawMessage(data), nil
}

// SaveAnalysis writes a named JSON analysis document under analyses/.
func (r *Registry) SaveAnalysis(datasetID, name string, payload interface{}) error {
	if err := ValidateID(datasetID); err != nil {
		return err
	}
	lock := r.lockFor(datasetID)
	lock.Lock()
	defer lock.Unlock()
	return r.writeJSON(r.AnalysisPath(datasetID, name+".json"), payload)
}

// GetAnalysis reads a named analysis document.
func (r *Registry) GetAnalysis(datasetID, name string) (json.RawMessage, error) {
	if err := ValidateID(datasetID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(r.AnalysisPath(datasetID, name+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierrors.NotFoundf("Analysis %s not found for dataset %s", name, datasetID)
		}
		return nil, fmt.Errorf("read analysis: %w", err)
	}
	return json.RawMessage(data), nil
}

// SaveLLMArtifact writes an advisory artifact named
// <function>_<unix-seconds>.json under llm/. Returns the artifact path
// relative to the dataset directory.
func (r *Registry) SaveLLMArtifact(datasetID, functionName string, payload interface{}) (string, error) {
	if err := ValidateID(datasetID); err != nil {
		return "", err
	}
	lock := r.lockFor(datasetID)
	lock.Lock()
	defer lock.Unlock()

	name := fmt.Sprintf("%s_%d.json", functionName, time.Now().Unix())
	rel := filepath.Join("llm", name)
	if err := r.writeJSON(filepath.Join(r.DatasetPath(datasetID), rel), payload); err != nil {
		return "", err
	}
	return rel, nil
}

// LatestLLMArtifacts returns, per function name, the newest advisory
// artifact's raw JSON.
func (r *Registry) LatestLLMArtifacts(datasetID string) (map[string]json.RawMessage, error) {
	if err := ValidateID(datasetID); err != nil {
		return nil, err
	}
	if _, err := os.Stat(r.DatasetPath(datasetID)); os.IsNotExist(err) {
		return nil, apierrors.NotFoundf("Dataset %s not found", datasetID)
	}

	dir := filepath.Join(r.DatasetPath(datasetID), "llm")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("read llm directory: %w", err)
	}

	latest := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		base := strings.TrimSuffix(name, ".json")
		idx := strings.LastIndex(base, "_")
		if idx <= 0 {
			continue
		}
		fn := base[:idx]
		// Artifact names embed unix seconds, so lexicographic comparison of
		// equal-width suffixes matches recency; fall back to full-name order.
		if prev, ok := latest[fn]; !ok || name > prev {
			latest[fn] = name
		}
	}

	out := make(map[string]json.RawMessage, len(latest))
	for fn, name := range latest {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read llm artifact %s: %w", name, err)
		}
		out[fn] = json.RawMessage(data)
	}
	return out, nil
}

func (r *Registry) writeJSON(path string, payload interface{}) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return table.WriteFileAtomic(path, data)
}
