package vision

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/product-agent/backend/internal/llm"
	"github.com/product-agent/backend/internal/metrics"
	"github.com/product-agent/backend/pkg/logger"
	"github.com/product-agent/backend/pkg/utils"
)

const (
	DefaultMaxImages  = 3
	DefaultConfidence = 0.7
)

// Subject identifies the single product the images are judged against.
type Subject struct {
	ProductName string
	ModelID     string
	Category    string
}

// ResultCache stores parsed results keyed by image digest.
type ResultCache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

type Extractor struct {
	backend           llm.VisionBackend
	cache             ResultCache
	cacheTTL          time.Duration
	maxImages         int
	defaultConfidence float64
}

type Option func(*Extractor)

func WithCache(c ResultCache, ttl time.Duration) Option {
	return func(e *Extractor) {
		e.cache = c
		e.cacheTTL = ttl
	}
}

func WithMaxImages(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxImages = n
		}
	}
}

func WithDefaultConfidence(c float64) Option {
	return func(e *Extractor) {
		if c > 0 && c <= 1 {
			e.defaultConfidence = c
		}
	}
}

func NewExtractor(backend llm.VisionBackend, opts ...Option) *Extractor {
	e := &Extractor{
		backend:           backend,
		maxImages:         DefaultMaxImages,
		defaultConfidence: DefaultConfidence,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Extractor) MaxImages() int { return e.maxImages }

// Analyze runs one image through the vision backend and parses the result.
func (e *Extractor) Analyze(ctx context.Context, img llm.Image, subject Subject) (Result, error) {
	key := utils.CacheKey("vision", subject.ModelID, string(img.Data))
	if e.cache != nil {
		var cached Result
		if ok, err := e.cache.GetJSON(ctx, key, &cached); err == nil && ok {
			metrics.CacheHits.WithLabelValues("vision").Inc()
			return cached, nil
		}
		metrics.CacheMisses.WithLabelValues("vision").Inc()
	}

	raw, err := e.backend.Describe(ctx, BuildPrompt(subject), img)
	if err != nil {
		return Result{}, fmt.Errorf("vision backend failed: %w", err)
	}

	res, err := Parse(raw, e.defaultConfidence)
	if err != nil {
		logger.Warn("Vision output rejected", zap.String("model_id", subject.ModelID), zap.Error(err))
		return Result{}, err
	}

	if e.cache != nil {
		if err := e.cache.SetJSON(ctx, key, res, e.cacheTTL); err != nil {
			logger.Warn("Vision cache write failed", zap.Error(err))
		}
	}
	if !res.Unrelated() {
		metrics.VisionConfidence.Observe(res.Confidence)
	}
	return res, nil
}

// Outcome is the result of analysing every image of a turn.
type Outcome struct {
	Analysis  Analysis
	Unrelated []Result
	Failed    int
	Submitted int
}

// AllUnrelated reports whether every analysed image was judged unrelated
// and nothing usable remains.
func (o Outcome) AllUnrelated() bool {
	return len(o.Unrelated) > 0 && o.Analysis.Empty()
}

// AnalyzeAll analyses up to maxImages images concurrently. Individual
// failures are dropped; whatever succeeded is merged.
func (e *Extractor) AnalyzeAll(ctx context.Context, images []llm.Image, subject Subject) Outcome {
	if len(images) > e.maxImages {
		logger.Warn("Too many images, extra images ignored",
			zap.Int("submitted", len(images)),
			zap.Int("max", e.maxImages),
		)
		images = images[:e.maxImages]
	}

	results := make([]*Result, len(images))
	var g errgroup.Group
	g.SetLimit(e.maxImages)
	for i, img := range images {
		g.Go(func() error {
			res, err := e.Analyze(ctx, img, subject)
			if err != nil {
				logger.Warn("Image analysis failed", zap.Int("image", i), zap.Error(err))
				return nil
			}
			results[i] = &res
			return nil
		})
	}
	_ = g.Wait()

	out := Outcome{Submitted: len(images)}
	var usable []Result
	for _, r := range results {
		switch {
		case r == nil:
			out.Failed++
		case r.Unrelated():
			out.Unrelated = append(out.Unrelated, *r)
		default:
			usable = append(usable, *r)
		}
	}
	if out.Failed > 0 {
		metrics.DegradedLayers.WithLabelValues("vision").Add(float64(out.Failed))
	}
	out.Analysis = Merge(usable)
	return out
}
