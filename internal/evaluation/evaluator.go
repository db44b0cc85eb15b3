// Package evaluation measures retrieval quality and namespace isolation
// against a labelled query set.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/product-agent/backend/internal/vector"
	"github.com/product-agent/backend/pkg/logger"
)

// Searcher is the retrieval call under evaluation.
type Searcher interface {
	Search(ctx context.Context, modelID, query string) ([]vector.Hit, error)
}

type Dataset struct {
	Items []DatasetItem `json:"items"`
}

// DatasetItem is one labelled query. ExpectedSection may be empty, in
// which case any result for the model counts as a hit.
type DatasetItem struct {
	ModelID         string `json:"model_id"`
	Query           string `json:"query"`
	ExpectedSection string `json:"expected_section"`
}

// ItemResult records what one query returned.
type ItemResult struct {
	Item     DatasetItem
	Hit      bool
	Leaked   []string
	TopScore float32
	Err      error
}

type Report struct {
	TotalQueries int
	Hits         int
	Misses       int
	Errors       int
	LeakedHits   int
	AvgTopScore  float64
	HitRate      float64
	Results      []ItemResult
}

// Isolated reports whether no query returned another model's content.
func (r *Report) Isolated() bool { return r.LeakedHits == 0 }

type Evaluator struct {
	searcher Searcher
}

func NewEvaluator(searcher Searcher) *Evaluator {
	return &Evaluator{searcher: searcher}
}

func (e *Evaluator) EvaluateItem(ctx context.Context, item DatasetItem) ItemResult {
	res := ItemResult{Item: item}

	hits, err := e.searcher.Search(ctx, item.ModelID, item.Query)
	if err != nil {
		res.Err = err
		return res
	}

	for i, h := range hits {
		if i == 0 {
			res.TopScore = h.Score
		}
		if h.ModelID != item.ModelID {
			res.Leaked = append(res.Leaked, h.ModelID)
			continue
		}
		if item.ExpectedSection == "" || h.Section == item.ExpectedSection {
			res.Hit = true
		}
	}
	return res
}

func (e *Evaluator) Run(ctx context.Context, dataset *Dataset) (*Report, error) {
	logger.Info("Running retrieval evaluation", zap.Int("items", len(dataset.Items)))

	report := &Report{TotalQueries: len(dataset.Items)}
	var totalScore float64
	scored := 0

	for _, item := range dataset.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res := e.EvaluateItem(ctx, item)
		report.Results = append(report.Results, res)

		switch {
		case res.Err != nil:
			logger.Warn("Evaluation query failed", zap.String("model_id", item.ModelID), zap.Error(res.Err))
			report.Errors++
			continue
		case res.Hit:
			report.Hits++
		default:
			report.Misses++
		}

		if len(res.Leaked) > 0 {
			logger.Error("Retrieval returned another model's content",
				zap.String("model_id", item.ModelID),
				zap.Strings("leaked", res.Leaked),
			)
			report.LeakedHits += len(res.Leaked)
		}

		totalScore += float64(res.TopScore)
		scored++
	}

	if scored > 0 {
		report.AvgTopScore = totalScore / float64(scored)
		report.HitRate = float64(report.Hits) / float64(scored) * 100
	}

	logger.Info("Retrieval evaluation completed",
		zap.Int("total", report.TotalQueries),
		zap.Int("hits", report.Hits),
		zap.Int("leaked", report.LeakedHits),
	)

	return report, nil
}

func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	var dataset Dataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}
	for i, item := range dataset.Items {
		if item.ModelID == "" || item.Query == "" {
			return nil, fmt.Errorf("dataset item %d needs model_id and query", i)
		}
	}

	return &dataset, nil
}

func GenerateReport(report *Report) string {
	isolation := "PASS"
	if !report.Isolated() {
		isolation = fmt.Sprintf("FAIL (%d foreign chunks returned)", report.LeakedHits)
	}

	return fmt.Sprintf(`
Retrieval Evaluation Report
===========================

Total Queries: %d
Errors: %d

Expected section found: %d (%.1f%%)
Missed: %d

Average top score: %.3f

Namespace isolation: %s
`,
		report.TotalQueries,
		report.Errors,
		report.Hits, report.HitRate,
		report.Misses,
		report.AvgTopScore,
		isolation,
	)
}
