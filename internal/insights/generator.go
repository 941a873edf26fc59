package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"concentra/internal/concentration"
	"concentra/internal/infrastructure"
	"concentra/internal/registry"
)

const insightsFunction = "insights"

const systemPrompt = "You are a financial analyst. Respond with a single JSON object " +
	"containing executive_summary (string), key_findings, risk_indicators, " +
	"opportunities and recommendations (arrays of strings). No prose outside the JSON."

// Generator runs advisory enrichment as a background task after an
// analysis is durably written. Provider failures never propagate; they
// become placeholder artifacts with a reason code.
type Generator struct {
	provider Provider
	registry *registry.Registry
	metrics  *infrastructure.Metrics
	logger   *slog.Logger

	enabled    bool
	timeout    time.Duration
	callBudget int

	mu    sync.Mutex
	calls map[string]int // provider calls per dataset
}

// NewGenerator creates a generator. provider may be nil when the
// advisory layer is disabled.
func NewGenerator(provider Provider, reg *registry.Registry, metrics *infrastructure.Metrics, logger *slog.Logger, enabled bool, timeout time.Duration, callBudget int) *Generator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if callBudget <= 0 {
		callBudget = 10
	}
	return &Generator{
		provider:   provider,
		registry:   reg,
		metrics:    metrics,
		logger:     logger.With(slog.String("component", "insights")),
		enabled:    enabled,
		timeout:    timeout,
		callBudget: callBudget,
		calls:      make(map[string]int),
	}
}

// Generate produces and persists one advisory artifact for a completed
// analysis. It is designed to run on a background goroutine; the
// originating request never waits on it.
func (g *Generator) Generate(ctx context.Context, datasetID string, doc *concentration.Document) {
	artifact := g.run(ctx, datasetID, doc)
	artifact.DatasetID = datasetID
	artifact.Function = insightsFunction
	artifact.GeneratedAt = time.Now().UTC()

	status := artifact.LLMStatus.Reason
	if artifact.LLMStatus.Used {
		status = "ok"
	}
	g.metrics.AdvisoryCalls.WithLabelValues(status).Inc()

	path, err := g.registry.SaveLLMArtifact(datasetID, insightsFunction, artifact)
	if err != nil {
		g.logger.ErrorContext(ctx, "failed to persist advisory artifact",
			slog.String("dataset_id", datasetID),
			slog.String("error", err.Error()))
		return
	}

	outputs := map[string]interface{}{"artifact": path, "used": artifact.LLMStatus.Used}
	if artifact.LLMStatus.Reason != "" {
		outputs["reason"] = artifact.LLMStatus.Reason
	}
	if err := g.registry.RecordStep(datasetID, "llm_insights", nil, outputs, nil); err != nil {
		g.logger.ErrorContext(ctx, "failed to record advisory lineage step",
			slog.String("dataset_id", datasetID),
			slog.String("error", err.Error()))
	}
}

func (g *Generator) run(ctx context.Context, datasetID string, doc *concentration.Document) Artifact {
	if !g.enabled || g.provider == nil {
		return placeholder(ReasonDisabled)
	}

	g.mu.Lock()
	if g.calls[datasetID] >= g.callBudget {
		g.mu.Unlock()
		return placeholder(ReasonUsageLimit)
	}
	g.calls[datasetID]++
	g.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	raw, err := g.provider.Generate(callCtx, systemPrompt, buildPrompt(doc))
	latency := time.Since(start).Milliseconds()
	if err != nil {
		reason := ReasonAPIError
		if errors.Is(err, context.DeadlineExceeded) {
			reason = ReasonTimeout
		}
		g.logger.WarnContext(ctx, "advisory call failed",
			slog.String("dataset_id", datasetID),
			slog.String("reason", reason),
			slog.String("error", err.Error()))
		return placeholder(reason)
	}

	narrative, err := parseNarrative(raw)
	if err != nil {
		g.logger.WarnContext(ctx, "advisory response failed validation",
			slog.String("dataset_id", datasetID),
			slog.String("error", err.Error()))
		return placeholder(ReasonValidation)
	}

	return Artifact{
		Insights: *narrative,
		LLMStatus: Status{
			Used:      true,
			Model:     g.provider.Model(),
			LatencyMS: latency,
		},
	}
}

func placeholder(reason string) Artifact {
	return Artifact{
		Insights:  Narrative{KeyFindings: []string{}, RiskIndicators: []string{}, Opportunities: []string{}, Recommendations: []string{}},
		LLMStatus: Status{Used: false, Reason: reason},
	}
}

// buildPrompt summarizes the numeric result compactly. Only already-
// computed aggregates are shared, never raw rows.
func buildPrompt(doc *concentration.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Concentration analysis of %q by %q.\n", doc.ValueColumn, doc.GroupBy)
	fmt.Fprintf(&b, "Period grain: %s. Thresholds: %v.\n", doc.PeriodGrain, doc.Thresholds)
	fmt.Fprintf(&b, "Overall total %.2f across %d entities.\n", doc.Totals.Total, doc.Totals.TotalEntities)
	for _, threshold := range doc.Thresholds {
		if stat, ok := doc.Totals.Concentration[concentration.ThresholdKey(threshold)]; ok {
			fmt.Fprintf(&b, "Top %d%%: %d entities hold %.1f%% of total value.\n",
				threshold, stat.Count, stat.PctOfTotal)
		}
	}
	for _, p := range doc.ByPeriod {
		if p.Error != "" {
			fmt.Fprintf(&b, "Period %s: %s\n", p.Period, p.Error)
			continue
		}
		fmt.Fprintf(&b, "Period %s: total %.2f.\n", p.Period, p.Total)
	}
	if len(doc.Warnings) > 0 {
		fmt.Fprintf(&b, "Warnings: %s\n", strings.Join(doc.Warnings, "; "))
	}
	b.WriteString("Summarize concentration risk for a credit analyst.")
	return b.String()
}

// parseNarrative decodes the provider's JSON reply, tolerating a fenced
// code block around it.
func parseNarrative(raw string) (*Narrative, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	var n Narrative
	if err := json.Unmarshal([]byte(s), &n); err != nil {
		return nil, fmt.Errorf("decode narrative: %w", err)
	}
	if n.ExecutiveSummary == "" {
		return nil, fmt.Errorf("narrative missing executive_summary")
	}
	return &n, nil
}
