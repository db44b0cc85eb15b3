// Package catalog loads the static product catalog and answers read-only
// lookups by product, model, error code and attribute.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

var ErrModelNotFound = errors.New("model not found")

type Issue struct {
	Error   string `json:"error"`
	Meaning string `json:"meaning"`
	Fix     string `json:"fix"`
}

type Manual struct {
	Overview                string   `json:"overview,omitempty"`
	InstallationSteps       []string `json:"installation_steps,omitempty"`
	FirstTimeUse            []string `json:"first_time_use,omitempty"`
	DailyUsage              []string `json:"daily_usage,omitempty"`
	SafetyGuidelines        []string `json:"safety_guidelines,omitempty"`
	DoNot                   []string `json:"do_not,omitempty"`
	EnvironmentalConditions []string `json:"environmental_conditions,omitempty"`
	Storage                 []string `json:"storage,omitempty"`
}

type Model struct {
	ModelID       string     `json:"model_id"`
	Color         string     `json:"color,omitempty"`
	HexColor      string     `json:"hex_color,omitempty"`
	Price         float64    `json:"price,omitempty"`
	DimensionsCM  [3]float64 `json:"dimensions_cm"`
	Features      []string   `json:"features,omitempty"`
	Installation  string     `json:"installation,omitempty"`
	Maintenance   string     `json:"maintenance,omitempty"`
	WarrantyYears int        `json:"warranty_years,omitempty"`
	CommonIssues  []Issue    `json:"common_issues,omitempty"`
	Manual        *Manual    `json:"manual,omitempty"`

	// Auxiliary support data, kept raw and indexed verbatim.
	BatteryHealth       json.RawMessage `json:"battery_health,omitempty"`
	RepairPolicy        json.RawMessage `json:"repair_policy,omitempty"`
	WarrantyDetails     json.RawMessage `json:"warranty_details,omitempty"`
	TroubleshootingFlow json.RawMessage `json:"troubleshooting_flow,omitempty"`
	Lifecycle           json.RawMessage `json:"lifecycle,omitempty"`
}

type Product struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Brand     string  `json:"brand"`
	Category  string  `json:"category,omitempty"`
	Models    []Model `json:"models"`
}

// Match pairs a product with one of its models.
type Match struct {
	Product Product
	Model   Model
}

type modelRef struct {
	category string
	product  int
	model    int
}

// Catalog is immutable after Load and safe for concurrent use.
type Catalog struct {
	categories map[string][]Product
	models     map[string]modelRef
	products   map[string]modelRef
}

func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var raw map[string][]Product
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	c := &Catalog{
		categories: make(map[string][]Product, len(raw)),
		models:     make(map[string]modelRef),
		products:   make(map[string]modelRef),
	}

	for category, products := range raw {
		for pi := range products {
			p := &products[pi]
			p.Category = category
			if p.ProductID == "" {
				return nil, fmt.Errorf("product without product_id in category %q", category)
			}
			if _, dup := c.products[p.ProductID]; dup {
				return nil, fmt.Errorf("duplicate product_id %q", p.ProductID)
			}
			c.products[p.ProductID] = modelRef{category: category, product: pi}

			for mi, m := range p.Models {
				if m.ModelID == "" {
					return nil, fmt.Errorf("model without model_id in product %q", p.ProductID)
				}
				if prev, dup := c.models[m.ModelID]; dup {
					return nil, fmt.Errorf("duplicate model_id %q in %q and %q",
						m.ModelID, raw[prev.category][prev.product].ProductID, p.ProductID)
				}
				c.models[m.ModelID] = modelRef{category: category, product: pi, model: mi}
			}
		}
		c.categories[category] = products
	}

	return c, nil
}

func (c *Catalog) GetModel(modelID string) (Product, Model, bool) {
	ref, ok := c.models[modelID]
	if !ok {
		return Product{}, Model{}, false
	}
	p := c.categories[ref.category][ref.product]
	return p, p.Models[ref.model], true
}

func (c *Catalog) GetProduct(productID string) (Product, bool) {
	ref, ok := c.products[productID]
	if !ok {
		return Product{}, false
	}
	return c.categories[ref.category][ref.product], true
}

func (c *Catalog) Categories() []string {
	out := make([]string, 0, len(c.categories))
	for k := range c.categories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) ProductsIn(category string) []Product {
	return c.categories[category]
}

// All returns every product/model pair in stable category order.
func (c *Catalog) All() []Match {
	var out []Match
	for _, category := range c.Categories() {
		for _, p := range c.categories[category] {
			for _, m := range p.Models {
				out = append(out, Match{Product: p, Model: m})
			}
		}
	}
	return out
}

// ErrorCode finds a model's issue entry, ignoring case.
func (c *Catalog) ErrorCode(modelID, code string) (Issue, error) {
	_, m, ok := c.GetModel(modelID)
	if !ok {
		return Issue{}, ErrModelNotFound
	}
	code = strings.TrimSpace(code)
	for _, issue := range m.CommonIssues {
		if strings.EqualFold(issue.Error, code) {
			return issue, nil
		}
	}
	return Issue{}, fmt.Errorf("error code %q not listed for %s", code, modelID)
}

// Variants returns every model of a product; the colour variants of one line.
func (c *Catalog) Variants(productID string) []Model {
	p, ok := c.GetProduct(productID)
	if !ok {
		return nil
	}
	return p.Models
}

// Siblings returns the other models of the product owning modelID.
func (c *Catalog) Siblings(modelID string) []Model {
	p, _, ok := c.GetModel(modelID)
	if !ok {
		return nil
	}
	out := make([]Model, 0, len(p.Models))
	for _, m := range p.Models {
		if m.ModelID != modelID {
			out = append(out, m)
		}
	}
	return out
}

func (c *Catalog) ByPriceRange(category string, min, max float64) []Match {
	var out []Match
	for _, p := range c.categories[category] {
		for _, m := range p.Models {
			if m.Price >= min && m.Price <= max {
				out = append(out, Match{Product: p, Model: m})
			}
		}
	}
	return out
}

// SearchByFeatures returns models carrying any of the requested features.
func (c *Catalog) SearchByFeatures(category string, features []string) []Match {
	want := make(map[string]struct{}, len(features))
	for _, f := range features {
		want[strings.ToLower(strings.TrimSpace(f))] = struct{}{}
	}

	var out []Match
	for _, p := range c.categories[category] {
		for _, m := range p.Models {
			for _, f := range m.Features {
				if _, ok := want[strings.ToLower(f)]; ok {
					out = append(out, Match{Product: p, Model: m})
					break
				}
			}
		}
	}
	return out
}
