// Command analyze runs the ingest-and-analyze pipeline against a local
// file without the HTTP service, printing the concentration document.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"concentra/internal/config"
	"concentra/internal/infrastructure"
	"concentra/internal/insights"
	"concentra/internal/registry"
	"concentra/internal/services"
	"concentra/internal/tasks"
)

func main() {
	var (
		inputPath  = flag.String("in", "", "input file (.csv, .xlsx, .xls)")
		groupBy    = flag.String("group-by", "", "entity column (normalized name)")
		value      = flag.String("value", "", "numeric metric column (normalized name)")
		timeCol    = flag.String("time", "", "optional time column")
		thresholds = flag.String("thresholds", "", "comma-separated thresholds, e.g. 10,20,50")
		sheet      = flag.String("sheet", "", "workbook sheet name")
	)
	flag.Parse()

	if *inputPath == "" || *groupBy == "" || *value == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*inputPath, *groupBy, *value, *timeCol, *thresholds, *sheet); err != nil {
		fmt.Fprintf(os.Stderr, "analyze failed: %v\n", err)
		os.Exit(1)
	}
}

func run(inputPath, groupBy, value, timeCol, thresholdArg, sheet string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return err
	}

	reg, err := registry.New(cfg.Storage.DatasetsPath, logger)
	if err != nil {
		return err
	}

	metrics := infrastructure.NewMetrics()
	generator := insights.NewGenerator(nil, reg, metrics, logger, false, cfg.LLM.Timeout, cfg.LLM.CallBudget)
	queue := tasks.NewQueue(1, logger)
	service := services.NewDatasetService(cfg, reg, generator, queue, metrics, logger)

	ctx := context.Background()
	queue.Start(ctx)
	defer queue.Stop()

	f, err := os.Open(inputPath)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	upload, err := service.Ingest(ctx, filepath.Base(inputPath), info.Size(), f, sheet)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "dataset %s: %d rows, %d columns\n",
		upload.DatasetID, upload.RowsProcessed, upload.ColumnsProcessed)

	var parsed []int
	if thresholdArg != "" {
		for _, tok := range strings.Split(thresholdArg, ",") {
			t, err := strconv.Atoi(strings.TrimSpace(tok))
			if err != nil {
				return fmt.Errorf("invalid threshold %q", tok)
			}
			parsed = append(parsed, t)
		}
	}

	doc, err := service.Analyze(ctx, upload.DatasetID, services.AnalyzeRequest{
		GroupBy:    groupBy,
		Value:      value,
		TimeColumn: timeCol,
		Thresholds: parsed,
		RunLLM:     false,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
