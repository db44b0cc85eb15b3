// Package assembler builds the single bounded prompt for one chat turn. It
// runs the scope guard, then layers mode policy, retrieved documents,
// catalog data, vision output and trimmed history in a fixed order.
package assembler

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/product-agent/backend/internal/catalog"
	"github.com/product-agent/backend/internal/llm"
	"github.com/product-agent/backend/internal/storage/models"
	"github.com/product-agent/backend/internal/vision"
)

const (
	DefaultHistoryLimit  = 6
	DefaultLowConfidence = 0.6

	// ImageOnlyQuery stands in for an empty message sent with images.
	ImageOnlyQuery = "[User sent an image]"

	RetrievedHeader = "=== RETRIEVED DOCUMENTS (authoritative, use first) ==="
	CatalogHeader   = "=== PRODUCT INFORMATION ==="
	VariantsHeader  = "=== OTHER VARIANTS OF THIS PRODUCT ==="
	VisionHeader    = "=== VISION ANALYSIS ==="
	LowConfidence   = "Note: Vision analysis confidence is low"
)

// Input is everything gathered for one turn. Product and Model are nil on a
// catalog miss; Vision is empty when no image was analysed.
type Input struct {
	Mode       models.Mode
	Query      string
	Product    *catalog.Product
	Model      *catalog.Model
	Siblings   []catalog.Model
	Retrieved  string
	Vision     vision.Analysis
	ImageCount int
	History    []models.Message
	Language   string
}

func (in Input) subject() Subject {
	var s Subject
	if in.Product != nil {
		s.ProductName = in.Product.Name
		s.ProductID = in.Product.ProductID
		s.Brand = in.Product.Brand
	}
	if in.Model != nil {
		s.ModelID = in.Model.ModelID
	}
	return s
}

// Prompt is ready for a generation backend.
type Prompt struct {
	System  string
	History []llm.Message
	Query   string
}

func (p Prompt) Request() llm.Request {
	return llm.Request{System: p.System, History: p.History, Query: p.Query}
}

type Assembler struct {
	guard         *Guard
	brand         string
	historyLimit  int
	lowConfidence float64
}

type Option func(*Assembler)

func WithBrand(name string) Option {
	return func(a *Assembler) {
		if name != "" {
			a.brand = name
		}
	}
}

func WithHistoryLimit(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.historyLimit = n
		}
	}
}

func WithLowConfidence(c float64) Option {
	return func(a *Assembler) {
		if c > 0 && c <= 1 {
			a.lowConfidence = c
		}
	}
}

func New(guard *Guard, opts ...Option) *Assembler {
	a := &Assembler{
		guard:         guard,
		brand:         "our brand",
		historyLimit:  DefaultHistoryLimit,
		lowConfidence: DefaultLowConfidence,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Assembler) HistoryLimit() int { return a.historyLimit }

// CheckScope runs only the guard. Callers use it before paying for
// retrieval or vision.
func (a *Assembler) CheckScope(query string, product *catalog.Product, model *catalog.Model) *Rejection {
	return a.guard.Check(query, Input{Product: product, Model: model}.subject())
}

// Assemble returns the prompt, or a rejection when the query is out of scope.
func (a *Assembler) Assemble(in Input) (Prompt, *Rejection) {
	if rej := a.guard.Check(in.Query, in.subject()); rej != nil {
		return Prompt{}, rej
	}

	ref := refOf(in.Product, in.Model)
	layers := []string{
		identityBlock(a.brand, ref, a.guard.Refusal()),
		modeBlock(in.Mode),
		retrievedBlock(in.Retrieved),
		catalogBlock(in.Product, in.Model),
	}
	if in.Mode != models.ModePostPurchase {
		layers = append(layers, variantsBlock(in.Model, in.Siblings))
	}
	layers = append(layers, a.visionBlock(in.Vision))
	if in.ImageCount == 0 {
		layers = append(layers, noImageBlock())
	}
	layers = append(layers, languageBlock(in.Language))

	var sections []string
	for _, l := range layers {
		if strings.TrimSpace(l) != "" {
			sections = append(sections, strings.TrimRight(l, "\n"))
		}
	}

	query := strings.TrimSpace(in.Query)
	if query == "" {
		query = ImageOnlyQuery
	}

	return Prompt{
		System:  strings.Join(sections, "\n\n"),
		History: a.window(in.History),
		Query:   query,
	}, nil
}

// window keeps the last historyLimit messages in their original order.
func (a *Assembler) window(history []models.Message) []llm.Message {
	if len(history) > a.historyLimit {
		history = history[len(history)-a.historyLimit:]
	}
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == models.RoleAgent {
			role = llm.RoleAgent
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

type productRef struct {
	name, brand, modelID, category string
}

func refOf(p *catalog.Product, m *catalog.Model) productRef {
	var r productRef
	if p != nil {
		r.name, r.brand, r.category = p.Name, p.Brand, p.Category
	}
	if m != nil {
		r.modelID = m.ModelID
	}
	return r
}

func (r productRef) known() bool { return r.modelID != "" }

func retrievedBlock(docs string) string {
	docs = strings.TrimSpace(docs)
	if docs == "" {
		return ""
	}
	return RetrievedHeader + "\n" + docs
}

func catalogBlock(p *catalog.Product, m *catalog.Model) string {
	if p == nil || m == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(CatalogHeader + "\n")
	fmt.Fprintf(&b, "Model: %s\n", m.ModelID)
	fmt.Fprintf(&b, "Product: %s\n", p.Name)
	if m.Color != "" {
		fmt.Fprintf(&b, "Color: %s\n", m.Color)
	}
	if d := m.DimensionsCM; d != [3]float64{} {
		fmt.Fprintf(&b, "Dimensions: %gcm (H) x %gcm (W) x %gcm (D)\n", d[0], d[1], d[2])
	}
	if m.Price > 0 {
		fmt.Fprintf(&b, "Price: $%.2f\n", m.Price)
	}
	if m.WarrantyYears > 0 {
		fmt.Fprintf(&b, "Warranty: %d years\n", m.WarrantyYears)
	}
	if len(m.Features) > 0 {
		fmt.Fprintf(&b, "Features: %s\n", strings.Join(m.Features, ", "))
	}
	if m.Installation != "" {
		fmt.Fprintf(&b, "Installation: %s\n", m.Installation)
	}
	if m.Maintenance != "" {
		fmt.Fprintf(&b, "Maintenance: %s\n", m.Maintenance)
	}

	if len(m.CommonIssues) > 0 {
		b.WriteString("\nCOMMON ERROR CODES:\n")
		for _, is := range m.CommonIssues {
			fmt.Fprintf(&b, "- %s: %s - FIX: %s\n", is.Error, is.Meaning, is.Fix)
		}
	}

	if man := m.Manual; man != nil {
		if man.Overview != "" {
			fmt.Fprintf(&b, "\nProduct Overview: %s\n", man.Overview)
		}
		if len(man.SafetyGuidelines) > 0 {
			safety := man.SafetyGuidelines
			if len(safety) > 3 {
				safety = safety[:3]
			}
			fmt.Fprintf(&b, "\nSafety Guidelines: %s\n", strings.Join(safety, ", "))
		}
	}

	return b.String()
}

func variantsBlock(current *catalog.Model, siblings []catalog.Model) string {
	var lines []string
	for _, s := range siblings {
		if current != nil && s.ModelID == current.ModelID {
			continue
		}
		line := "- " + s.ModelID
		if s.Color != "" {
			line += " (" + s.Color + ")"
		}
		if s.Price > 0 {
			line += fmt.Sprintf(" $%.2f", s.Price)
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return ""
	}
	return VariantsHeader + "\n" + strings.Join(lines, "\n")
}

func (a *Assembler) visionBlock(v vision.Analysis) string {
	if v.Empty() {
		return ""
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(VisionHeader + "\n")
	if n := v.ImagesCount(); n > 1 {
		fmt.Fprintf(&b, "From %d uploaded images:\n%s\n", n, data)
		b.WriteString("\nThe user uploaded multiple images. Use all of the analyses for spatial, colour and installation recommendations.\n")
	} else {
		fmt.Fprintf(&b, "From the uploaded image:\n%s\n", data)
		b.WriteString("\nThe user uploaded an image. Use this vision data for spatial, colour and installation recommendations.\n")
	}
	b.WriteString("Vision output is an automated estimate; treat measurements as approximate.\n")

	if c := v.Confidence(); c < a.lowConfidence {
		fmt.Fprintf(&b, "\n%s (%.2f). Be conservative with spatial recommendations.\n", LowConfidence, c)
	}
	return b.String()
}
