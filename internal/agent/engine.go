// Package agent runs one chat turn end to end: scope check, vision,
// retrieval, prompt assembly, generation and the conversation update.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/product-agent/backend/internal/assembler"
	"github.com/product-agent/backend/internal/catalog"
	"github.com/product-agent/backend/internal/conversation"
	"github.com/product-agent/backend/internal/llm"
	"github.com/product-agent/backend/internal/metrics"
	"github.com/product-agent/backend/internal/storage/models"
	"github.com/product-agent/backend/internal/vision"
	"github.com/product-agent/backend/pkg/logger"
)

const (
	DefaultGenerationTimeout = 30 * time.Second

	Apology      = "I apologize, but I couldn't generate a response right now. Please try again."
	ImageRefusal = "The image you uploaded doesn't look related to this product. Please share a photo of the product, the space where you plan to install it, or the issue you're seeing."
)

var (
	ErrGenerationFailed = errors.New("generation failed")
	ErrCatalogMiss      = errors.New("unknown model")
)

// DocumentRetriever returns formatted manual snippets for one model, or ""
// when nothing is available.
type DocumentRetriever interface {
	Retrieve(ctx context.Context, modelID, query string) string
}

type ImageAnalyzer interface {
	AnalyzeAll(ctx context.Context, images []llm.Image, subject vision.Subject) vision.Outcome
}

type EventRecorder interface {
	RecordEvent(ctx context.Context, ev *models.AnalyticsEvent) error
}

// VariantGraph answers same-line variant lookups from an external graph.
type VariantGraph interface {
	Siblings(ctx context.Context, modelID string) ([]string, error)
}

type ChatRequest struct {
	SessionID string
	UserID    string
	ModelID   string
	Mode      models.Mode
	Message   string
	Images    []llm.Image
	Language  string
}

type ChatResponse struct {
	SessionID   string          `json:"session_id"`
	Response    string          `json:"response"`
	Mode        models.Mode     `json:"mode"`
	ModelID     string          `json:"model_id,omitempty"`
	Suggestions []string        `json:"suggestions"`
	VisionData  vision.Analysis `json:"vision_data"`
	Rejected    bool            `json:"rejected,omitempty"`
}

type Engine struct {
	catalog   *catalog.Catalog
	assembler *assembler.Assembler
	generator llm.Generator
	store     conversation.Store
	locks     *conversation.KeyedMutex

	retriever DocumentRetriever
	images    ImageAnalyzer
	events    EventRecorder
	graph     VariantGraph

	brandID           string
	generationTimeout time.Duration
}

type Option func(*Engine)

func WithRetriever(r DocumentRetriever) Option {
	return func(e *Engine) { e.retriever = r }
}

func WithImageAnalyzer(a ImageAnalyzer) Option {
	return func(e *Engine) { e.images = a }
}

func WithEventRecorder(r EventRecorder) Option {
	return func(e *Engine) { e.events = r }
}

func WithVariantGraph(g VariantGraph) Option {
	return func(e *Engine) { e.graph = g }
}

func WithBrandID(id string) Option {
	return func(e *Engine) { e.brandID = id }
}

func WithGenerationTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.generationTimeout = d
		}
	}
}

func NewEngine(cat *catalog.Catalog, asm *assembler.Assembler, gen llm.Generator, store conversation.Store, opts ...Option) *Engine {
	e := &Engine{
		catalog:           cat,
		assembler:         asm,
		generator:         gen,
		store:             store,
		locks:             conversation.NewKeyedMutex(),
		brandID:           "default",
		generationTimeout: DefaultGenerationTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// turn carries the per-request state through the pipeline.
type turn struct {
	req       ChatRequest
	session   *models.Session
	product   *catalog.Product
	model     *catalog.Model
	pinned    string
	eventType models.EventType
	start     time.Time
}

func (e *Engine) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return e.run(ctx, req, "", models.EventChat, nil)
}

// ChatStream is Chat with partial output delivered through onChunk. Backends
// that cannot stream deliver the full text word by word.
func (e *Engine) ChatStream(ctx context.Context, req ChatRequest, onChunk func(string) error) (*ChatResponse, error) {
	return e.run(ctx, req, "", models.EventChat, onChunk)
}

func (e *Engine) run(ctx context.Context, req ChatRequest, pinned string, eventType models.EventType, onChunk func(string) error) (*ChatResponse, error) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	unlock := e.locks.Lock(req.SessionID)
	defer unlock()

	t := &turn{req: req, pinned: pinned, eventType: eventType, start: time.Now()}

	session, err := e.openSession(ctx, req)
	if err != nil {
		return nil, err
	}
	t.session = session
	e.resolveProduct(t)

	logger.Info("Processing chat turn",
		zap.String("session_id", session.SessionID),
		zap.String("mode", string(session.Mode)),
		zap.String("model_id", session.ModelID),
		zap.Int("images", len(req.Images)),
	)

	if rej := e.assembler.CheckScope(req.Message, t.product, t.model); rej != nil {
		metrics.ScopeRejections.WithLabelValues(string(session.Mode)).Inc()
		logger.Info("Query rejected by scope guard",
			zap.String("session_id", session.SessionID),
			zap.String("matched", rej.Matched),
		)
		t.eventType = models.EventScopeReject
		return e.terminal(ctx, t, rej.Message, "scope_rejected", onChunk)
	}

	analysis, rejected := e.analyzeImages(ctx, t)
	if rejected {
		t.eventType = models.EventImageRejected
		return e.terminal(ctx, t, ImageRefusal, "image_rejected", onChunk)
	}

	retrieved := e.retrieve(ctx, t)
	if t.pinned != "" {
		retrieved = strings.TrimSpace(t.pinned + "\n\n" + retrieved)
	}

	history, err := e.store.History(ctx, session.SessionID, e.assembler.HistoryLimit())
	if err != nil {
		logger.Warn("History unavailable, continuing without it", zap.Error(err))
		history = nil
	}

	prompt, rej := e.assembler.Assemble(assembler.Input{
		Mode:       session.Mode,
		Query:      req.Message,
		Product:    t.product,
		Model:      t.model,
		Siblings:   e.siblings(ctx, t),
		Retrieved:  retrieved,
		Vision:     analysis,
		ImageCount: len(req.Images),
		History:    history,
		Language:   req.Language,
	})
	if rej != nil {
		return e.terminal(ctx, t, rej.Message, "scope_rejected", onChunk)
	}

	text, err := e.generate(ctx, prompt.Request(), onChunk)
	if err != nil {
		metrics.TurnsTotal.WithLabelValues(string(session.Mode), "generation_failed").Inc()
		logger.Error("Generation failed",
			zap.String("session_id", session.SessionID),
			zap.String("backend", e.generator.Name()),
			zap.Error(err),
		)
		e.record(ctx, t, err)
		return &ChatResponse{
			SessionID:   session.SessionID,
			Response:    Apology,
			Mode:        session.Mode,
			ModelID:     session.ModelID,
			Suggestions: Suggestions(session.Mode),
			VisionData:  analysis,
		}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	e.persist(ctx, session.SessionID, prompt.Query, text)
	e.finish(ctx, t, "answered")

	return &ChatResponse{
		SessionID:   session.SessionID,
		Response:    text,
		Mode:        session.Mode,
		ModelID:     session.ModelID,
		Suggestions: Suggestions(session.Mode),
		VisionData:  analysis,
	}, nil
}

// openSession creates the session if needed. For an existing session the
// persisted mode wins; a different model id in the request rebinds it.
func (e *Engine) openSession(ctx context.Context, req ChatRequest) (*models.Session, error) {
	mode := req.Mode
	if mode == "" {
		mode = models.ModePrePurchase
	}

	fresh := &models.Session{
		SessionID: req.SessionID,
		BrandID:   e.brandID,
		UserID:    req.UserID,
		Mode:      mode,
		ModelID:   req.ModelID,
	}
	if p, _, ok := e.catalog.GetModel(req.ModelID); ok {
		fresh.ProductID = p.ProductID
	}

	created, err := e.store.CreateSession(ctx, fresh)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	if created {
		return fresh, nil
	}

	session, err := e.store.GetSession(ctx, req.SessionID)
	if err != nil {
		logger.Warn("Session unreadable, using request state", zap.String("session_id", req.SessionID), zap.Error(err))
		return fresh, nil
	}

	if req.ModelID != "" && req.ModelID != session.ModelID {
		if err := e.store.SetModel(ctx, session.SessionID, fresh.ProductID, req.ModelID); err != nil {
			logger.Warn("Failed to rebind session model", zap.String("session_id", session.SessionID), zap.Error(err))
		}
		session.ProductID = fresh.ProductID
		session.ModelID = req.ModelID
	}
	return session, nil
}

func (e *Engine) resolveProduct(t *turn) {
	if t.session.ModelID == "" {
		return
	}
	p, m, ok := e.catalog.GetModel(t.session.ModelID)
	if !ok {
		metrics.DegradedLayers.WithLabelValues("catalog").Inc()
		logger.Warn("Model not in catalog, continuing without product data",
			zap.String("model_id", t.session.ModelID),
		)
		return
	}
	t.product = &p
	t.model = &m
}

// analyzeImages returns the merged analysis, and true when every image was
// judged unrelated.
func (e *Engine) analyzeImages(ctx context.Context, t *turn) (vision.Analysis, bool) {
	if len(t.req.Images) == 0 || e.images == nil {
		return vision.Analysis{}, false
	}

	subject := vision.Subject{ProductName: "Unknown Product", ModelID: "unknown", Category: "appliance"}
	if t.product != nil {
		subject.ProductName = strings.TrimSpace(t.product.Brand + " " + t.product.Name)
		subject.Category = t.product.Category
	}
	if t.model != nil {
		subject.ModelID = t.model.ModelID
	}

	out := e.images.AnalyzeAll(ctx, t.req.Images, subject)
	if out.AllUnrelated() {
		logger.Info("All uploaded images unrelated", zap.Int("images", out.Submitted))
		return vision.Analysis{}, true
	}
	if out.Analysis.Empty() {
		metrics.DegradedLayers.WithLabelValues("vision").Inc()
		logger.Warn("Vision unavailable, continuing without image context", zap.Int("failed", out.Failed))
	}
	return out.Analysis, false
}

func (e *Engine) retrieve(ctx context.Context, t *turn) string {
	if e.retriever == nil || t.model == nil {
		return ""
	}
	query := strings.TrimSpace(t.req.Message)
	if query == "" {
		query = "product information"
	}
	return e.retriever.Retrieve(ctx, t.model.ModelID, query)
}

// siblings lists other variants of the same product for pre-purchase turns.
func (e *Engine) siblings(ctx context.Context, t *turn) []catalog.Model {
	if t.model == nil || t.session.Mode == models.ModePostPurchase {
		return nil
	}
	if e.graph != nil {
		ids, err := e.graph.Siblings(ctx, t.model.ModelID)
		if err == nil {
			var out []catalog.Model
			for _, id := range ids {
				if _, m, ok := e.catalog.GetModel(id); ok {
					out = append(out, m)
				}
			}
			return out
		}
		logger.Warn("Variant graph unavailable, using catalog", zap.Error(err))
	}
	return e.catalog.Siblings(t.model.ModelID)
}

func (e *Engine) generate(ctx context.Context, req llm.Request, onChunk func(string) error) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, e.generationTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.GenerationDuration.WithLabelValues(e.generator.Name()).Observe(time.Since(start).Seconds())
	}()

	var (
		resp *llm.Response
		err  error
	)
	if s, ok := e.generator.(llm.Streamer); ok && onChunk != nil {
		resp, err = s.Stream(gctx, req, onChunk)
	} else {
		resp, err = e.generator.Generate(gctx, req)
		if err == nil && onChunk != nil {
			err = emitWords(resp.Content, onChunk)
		}
	}
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", llm.ErrEmptyResponse
	}
	return text, nil
}

func emitWords(text string, onChunk func(string) error) error {
	words := strings.Fields(text)
	for i, w := range words {
		if i < len(words)-1 {
			w += " "
		}
		if err := onChunk(w); err != nil {
			return err
		}
	}
	return nil
}

// terminal answers without calling the generation backend.
func (e *Engine) terminal(ctx context.Context, t *turn, text, outcome string, onChunk func(string) error) (*ChatResponse, error) {
	query := strings.TrimSpace(t.req.Message)
	if query == "" {
		query = assembler.ImageOnlyQuery
	}
	e.persist(ctx, t.session.SessionID, query, text)
	e.finish(ctx, t, outcome)

	if onChunk != nil {
		if err := onChunk(text); err != nil {
			return nil, err
		}
	}

	return &ChatResponse{
		SessionID:   t.session.SessionID,
		Response:    text,
		Mode:        t.session.Mode,
		ModelID:     t.session.ModelID,
		Suggestions: Suggestions(t.session.Mode),
		Rejected:    true,
	}, nil
}

func (e *Engine) persist(ctx context.Context, sessionID, query, answer string) {
	err := e.store.AppendMessages(ctx, sessionID,
		models.Message{Role: models.RoleUser, Content: query},
		models.Message{Role: models.RoleAgent, Content: answer},
	)
	if err != nil {
		logger.Warn("Failed to store conversation turn", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (e *Engine) finish(ctx context.Context, t *turn, outcome string) {
	mode := string(t.session.Mode)
	metrics.TurnsTotal.WithLabelValues(mode, outcome).Inc()
	metrics.TurnDuration.WithLabelValues(mode).Observe(time.Since(t.start).Seconds())
	e.record(ctx, t, nil)
}

// record writes the analytics event. Failures are logged only.
func (e *Engine) record(ctx context.Context, t *turn, turnErr error) {
	if e.events == nil {
		return
	}
	ev := &models.AnalyticsEvent{
		BrandID:        e.brandID,
		SessionID:      t.session.SessionID,
		ProductID:      t.session.ProductID,
		ModelID:        t.session.ModelID,
		Mode:           t.session.Mode,
		EventType:      t.eventType,
		UserQuery:      t.req.Message,
		ResponseTimeMS: time.Since(t.start).Milliseconds(),
		ImagesCount:    len(t.req.Images),
	}
	if turnErr != nil {
		ev.ErrorOccurred = true
		ev.ErrorMessage = turnErr.Error()
	}
	if err := e.events.RecordEvent(ctx, ev); err != nil {
		logger.Warn("Failed to record analytics event", zap.Error(err))
	}
}
