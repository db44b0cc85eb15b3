package ingestion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/jdkato/prose/v2"

	"github.com/product-agent/backend/internal/catalog"
)

// Section tags stored with each chunk.
const (
	SectionOverview        = "overview"
	SectionInstallation    = "installation"
	SectionFirstTimeUse    = "first_time_use"
	SectionDailyUsage      = "daily_usage"
	SectionSafety          = "safety"
	SectionWarnings        = "warnings"
	SectionSpecifications  = "specifications"
	SectionStorage         = "storage"
	SectionBatteryHealth   = "battery_health"
	SectionRepairPolicy    = "repair_policy"
	SectionWarranty        = "warranty_details"
	SectionTroubleshooting = "troubleshooting"
	SectionLifecycle       = "lifecycle"
)

var whitespace = regexp.MustCompile(`[ \t]+`)

// Chunk is one indexable passage before embedding.
type Chunk struct {
	ID      string
	ModelID string
	Section string
	Text    string
}

type Chunker struct {
	maxChars int
}

func NewChunker(maxChars int) *Chunker {
	if maxChars <= 0 {
		maxChars = 1200
	}
	return &Chunker{maxChars: maxChars}
}

// ChunkModel produces one chunk per manual section and auxiliary object.
// Sections longer than maxChars are split on sentence boundaries.
func (c *Chunker) ChunkModel(m catalog.Model) ([]Chunk, error) {
	type section struct {
		tag  string
		text string
	}
	var sections []section

	if man := m.Manual; man != nil {
		if man.Overview != "" {
			sections = append(sections, section{SectionOverview, man.Overview})
		}
		if len(man.InstallationSteps) > 0 {
			sections = append(sections, section{SectionInstallation, "Installation steps:\n" + numbered(man.InstallationSteps)})
		}
		if len(man.FirstTimeUse) > 0 {
			sections = append(sections, section{SectionFirstTimeUse, "First time use instructions:\n" + bulleted("- ", man.FirstTimeUse)})
		}
		if len(man.DailyUsage) > 0 {
			sections = append(sections, section{SectionDailyUsage, "Daily usage guidelines:\n" + bulleted("- ", man.DailyUsage)})
		}
		if len(man.SafetyGuidelines) > 0 {
			sections = append(sections, section{SectionSafety, "SAFETY GUIDELINES:\n" + bulleted("! ", man.SafetyGuidelines)})
		}
		if len(man.DoNot) > 0 {
			sections = append(sections, section{SectionWarnings, "DO NOT:\n" + bulleted("x ", man.DoNot)})
		}
		if len(man.EnvironmentalConditions) > 0 {
			sections = append(sections, section{SectionSpecifications, "Environmental conditions:\n" + bulleted("- ", man.EnvironmentalConditions)})
		}
		if len(man.Storage) > 0 {
			sections = append(sections, section{SectionStorage, "Storage instructions:\n" + bulleted("- ", man.Storage)})
		}
	}

	aux := []struct {
		tag   string
		label string
		raw   json.RawMessage
	}{
		{SectionBatteryHealth, "Battery Health", m.BatteryHealth},
		{SectionRepairPolicy, "Repair Policy", m.RepairPolicy},
		{SectionWarranty, "Warranty Details", m.WarrantyDetails},
		{SectionTroubleshooting, "Troubleshooting Flow", m.TroubleshootingFlow},
		{SectionLifecycle, "Lifecycle", m.Lifecycle},
	}
	for _, a := range aux {
		if len(a.raw) == 0 || string(a.raw) == "null" {
			continue
		}
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, a.raw, "", "  "); err != nil {
			return nil, fmt.Errorf("invalid %s for %s: %w", a.tag, m.ModelID, err)
		}
		sections = append(sections, section{a.tag, a.label + ":\n" + pretty.String()})
	}

	var out []Chunk
	for _, s := range sections {
		text := CleanText(s.text)
		if text == "" {
			continue
		}
		for i, part := range c.split(text) {
			out = append(out, Chunk{
				ID:      chunkID(m.ModelID, s.tag, i),
				ModelID: m.ModelID,
				Section: s.tag,
				Text:    part,
			})
		}
	}
	return out, nil
}

func (c *Chunker) split(text string) []string {
	if len(text) <= c.maxChars {
		return []string{text}
	}

	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithTokenization(false),
	)
	if err != nil {
		return hardSplit(text, c.maxChars)
	}

	var parts []string
	var cur strings.Builder
	for _, sent := range doc.Sentences() {
		s := strings.TrimSpace(sent.Text)
		if s == "" {
			continue
		}
		if len(s) > c.maxChars {
			if cur.Len() > 0 {
				parts = append(parts, cur.String())
				cur.Reset()
			}
			parts = append(parts, hardSplit(s, c.maxChars)...)
			continue
		}
		if cur.Len() > 0 && cur.Len()+1+len(s) > c.maxChars {
			parts = append(parts, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(s)
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

// CleanText strips HTML markup and collapses runs of spaces, keeping line breaks.
func CleanText(s string) string {
	if strings.ContainsAny(s, "<&") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
		if err == nil {
			doc.Find("script, style").Remove()
			s = doc.Text()
		}
	}

	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(whitespace.ReplaceAllString(line, " "))
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func hardSplit(s string, n int) []string {
	words := strings.Fields(s)
	var parts []string
	var cur strings.Builder
	for _, w := range words {
		if cur.Len() > 0 && cur.Len()+1+len(w) > n {
			parts = append(parts, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

func numbered(items []string) string {
	var b strings.Builder
	for i, it := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, it)
	}
	return b.String()
}

func bulleted(prefix string, items []string) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString(prefix + it + "\n")
	}
	return b.String()
}

// chunkID is stable across re-indexing so upserts replace rather than duplicate.
func chunkID(modelID, section string, part int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s/%s/%d", modelID, section, part))).String()
}
