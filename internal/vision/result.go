// Package vision turns uploaded images into schema-checked structured
// observations about one product's placement, installation or faults.
package vision

import (
	"encoding/json"
	"errors"
)

type ImageType string

const (
	ImageRoom         ImageType = "room"
	ImageProduct      ImageType = "product"
	ImageInstallation ImageType = "installation"
	ImageDamage       ImageType = "damage"
	ImageErrorDisplay ImageType = "error_display"
	ImageUnrelated    ImageType = "unrelated"
	ImageOther        ImageType = "other"
)

var (
	ErrInvalidOutput  = errors.New("vision output does not match schema")
	ErrUnrelatedImage = errors.New("image is unrelated to the product")
)

type Result struct {
	ImageType             ImageType `json:"image_type"`
	Observations          []string  `json:"observations,omitempty"`
	DetectedEnvironment   string    `json:"detected_environment,omitempty"`
	WallColor             string    `json:"wall_color,omitempty"`
	FloorColor            string    `json:"floor_color,omitempty"`
	Lighting              string    `json:"lighting,omitempty"`
	VisibleProductParts   []string  `json:"visible_product_parts,omitempty"`
	VisibleIssues         []string  `json:"visible_issues,omitempty"`
	InstallationObstacles []string  `json:"installation_obstacles,omitempty"`
	Confidence            float64   `json:"confidence"`
	Reason                string    `json:"reason,omitempty"`
}

func (r Result) Unrelated() bool { return r.ImageType == ImageUnrelated }

// Aggregate summarises several per-image results.
type Aggregate struct {
	ImagesCount        int      `json:"images_count"`
	Analyses           []Result `json:"analyses"`
	Observations       []string `json:"observations,omitempty"`
	CombinedConfidence float64  `json:"combined_confidence"`
}

// Analysis is the merged vision context for one turn: nothing, a single
// result passed through unchanged, or an aggregate of two or more.
type Analysis struct {
	Single *Result
	Multi  *Aggregate
}

func (a Analysis) Empty() bool { return a.Single == nil && a.Multi == nil }

func (a Analysis) ImagesCount() int {
	switch {
	case a.Multi != nil:
		return a.Multi.ImagesCount
	case a.Single != nil:
		return 1
	}
	return 0
}

func (a Analysis) Confidence() float64 {
	switch {
	case a.Multi != nil:
		return a.Multi.CombinedConfidence
	case a.Single != nil:
		return a.Single.Confidence
	}
	return 0
}

func (a Analysis) MarshalJSON() ([]byte, error) {
	switch {
	case a.Multi != nil:
		return json.Marshal(a.Multi)
	case a.Single != nil:
		return json.Marshal(a.Single)
	}
	return []byte("null"), nil
}

// Merge combines per-image results. One result is returned as is; two or
// more become an Aggregate with the arithmetic mean confidence.
func Merge(results []Result) Analysis {
	switch len(results) {
	case 0:
		return Analysis{}
	case 1:
		r := results[0]
		return Analysis{Single: &r}
	}

	agg := &Aggregate{
		ImagesCount: len(results),
		Analyses:    append([]Result(nil), results...),
	}
	var sum float64
	for _, r := range results {
		sum += r.Confidence
		agg.Observations = append(agg.Observations, r.Observations...)
	}
	agg.CombinedConfidence = sum / float64(len(results))
	return Analysis{Multi: agg}
}
