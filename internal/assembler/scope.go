package assembler

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/product-agent/backend/pkg/logger"
)

// DefaultRefusal is returned verbatim whenever the guard fires.
const DefaultRefusal = "I'm the AI assistant for this product only. I can help with its buying, usage, or issues."

// ScopeRules is the tunable indicator data, normally read from scope.yaml.
type ScopeRules struct {
	Refusal          string   `yaml:"refusal"`
	Indicators       []string `yaml:"indicators"`
	CompetitorBrands []string `yaml:"competitor_brands"`
}

func DefaultScopeRules() ScopeRules {
	return ScopeRules{
		Refusal: DefaultRefusal,
		Indicators: []string{
			"other product",
			"different brand",
			"compare to",
			"vs",
			"competitor",
			"alternative",
			"instead of",
			"better than",
		},
		CompetitorBrands: []string{
			"samsung",
			"lg",
			"whirlpool",
			"bosch",
			"ifb",
			"haier",
			"panasonic",
			"godrej",
			"electrolux",
			"siemens",
		},
	}
}

// Rejection is a terminal answer that bypasses retrieval and generation.
type Rejection struct {
	Message string
	Matched string
}

type matcher struct {
	term string
	re   *regexp.Regexp
}

type compiledRules struct {
	refusal     string
	indicators  []matcher
	competitors []matcher
}

// Guard decides whether a query is about the current product. Rules can be
// swapped at runtime with Reload.
type Guard struct {
	rules atomic.Pointer[compiledRules]
}

func NewGuard(rules ScopeRules) (*Guard, error) {
	g := &Guard{}
	if err := g.set(rules); err != nil {
		return nil, err
	}
	return g, nil
}

// LoadGuard reads rules from a YAML file. A missing file yields the built-in
// rules.
func LoadGuard(path string) (*Guard, error) {
	rules, err := readRules(path)
	if err != nil {
		return nil, err
	}
	return NewGuard(rules)
}

// Reload replaces the active rules. On error the previous rules stay active.
func (g *Guard) Reload(path string) error {
	rules, err := readRules(path)
	if err != nil {
		return err
	}
	if err := g.set(rules); err != nil {
		return err
	}
	logger.Info("Scope rules reloaded",
		zap.String("path", path),
		zap.Int("indicators", len(rules.Indicators)),
		zap.Int("competitor_brands", len(rules.CompetitorBrands)),
	)
	return nil
}

func readRules(path string) (ScopeRules, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Warn("Scope rules file not found, using built-in rules", zap.String("path", path))
		return DefaultScopeRules(), nil
	}
	if err != nil {
		return ScopeRules{}, fmt.Errorf("failed to read scope rules: %w", err)
	}

	var rules ScopeRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return ScopeRules{}, fmt.Errorf("failed to parse scope rules: %w", err)
	}
	return rules, nil
}

func (g *Guard) set(rules ScopeRules) error {
	c := &compiledRules{refusal: rules.Refusal}
	if c.refusal == "" {
		c.refusal = DefaultRefusal
	}

	var err error
	if c.indicators, err = compileTerms(rules.Indicators); err != nil {
		return err
	}
	if c.competitors, err = compileTerms(rules.CompetitorBrands); err != nil {
		return err
	}
	if len(c.indicators) == 0 && len(c.competitors) == 0 {
		return fmt.Errorf("scope rules define no indicators")
	}

	g.rules.Store(c)
	return nil
}

func compileTerms(terms []string) ([]matcher, error) {
	out := make([]matcher, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(t) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("invalid scope term %q: %w", t, err)
		}
		out = append(out, matcher{term: t, re: re})
	}
	return out, nil
}

// Subject names the product the session is bound to. Any of these appearing
// in the query marks a within-product comparison, which is allowed.
type Subject struct {
	ProductName string
	ProductID   string
	ModelID     string
	Brand       string
}

func (s Subject) mentionedIn(query string) bool {
	q := strings.ToLower(query)
	for _, name := range []string{s.ProductName, s.ProductID, s.ModelID} {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" && strings.Contains(q, name) {
			return true
		}
	}
	return false
}

func (g *Guard) Refusal() string {
	return g.rules.Load().refusal
}

// Check returns a rejection when the query points away from the subject.
// A query that names the current product is a within-product comparison and
// passes; the subject's own brand never counts as a competitor.
func (g *Guard) Check(query string, subject Subject) *Rejection {
	query = strings.TrimSpace(query)
	if query == "" || subject.mentionedIn(query) {
		return nil
	}
	rules := g.rules.Load()

	ownBrand := strings.ToLower(strings.TrimSpace(subject.Brand))
	for _, m := range rules.competitors {
		if m.term != ownBrand && m.re.MatchString(query) {
			return &Rejection{Message: rules.refusal, Matched: m.term}
		}
	}

	for _, m := range rules.indicators {
		if m.re.MatchString(query) {
			return &Rejection{Message: rules.refusal, Matched: m.term}
		}
	}
	return nil
}
