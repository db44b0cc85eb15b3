package vision

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/product-agent/backend/internal/catalog"
	"github.com/product-agent/backend/internal/llm"
	"github.com/product-agent/backend/pkg/logger"
)

const MeasurementDisclaimer = "IMPORTANT: All measurements and dimensions in this analysis are APPROXIMATE ESTIMATES based on visual assessment. Please verify actual measurements before making purchase decisions."

// Clearance is the free space a category needs around the unit, in cm.
type Clearance struct {
	Sides float64
	Back  float64
	Top   float64
}

var clearances = map[string]Clearance{
	"washing_machine": {Sides: 10, Back: 15},
	"refrigerator":    {Sides: 10, Back: 15, Top: 10},
}

var defaultClearance = Clearance{Sides: 5, Back: 5, Top: 5}

func ClearanceFor(category string) Clearance {
	if c, ok := clearances[category]; ok {
		return c
	}
	return defaultClearance
}

// Footprint is the space a model needs including clearances, in cm.
type Footprint struct {
	HeightCM float64 `json:"height_cm"`
	WidthCM  float64 `json:"width_cm"`
	DepthCM  float64 `json:"depth_cm"`
}

// RequiredFootprint adds the category clearances to [height, width, depth].
func RequiredFootprint(dims [3]float64, category string) Footprint {
	c := ClearanceFor(category)
	return Footprint{
		HeightCM: dims[0] + c.Top,
		WidthCM:  dims[1] + 2*c.Sides,
		DepthCM:  dims[2] + c.Back,
	}
}

type RoomAnalysis struct {
	Analysis   string `json:"analysis"`
	Disclaimer string `json:"confidence"`
}

type FitAssessment struct {
	Assessment string    `json:"assessment"`
	Required   Footprint `json:"required_space_cm"`
}

type ColorRecommendation struct {
	Recommendation string   `json:"recommendation"`
	Options        []string `json:"options"`
}

// RoomAdvisor supports the placement endpoints: free-form room analysis,
// fit assessment and colour matching.
type RoomAdvisor struct {
	vision    llm.VisionBackend
	generator llm.Generator
	brand     string
}

func NewRoomAdvisor(vision llm.VisionBackend, generator llm.Generator, brand string) *RoomAdvisor {
	return &RoomAdvisor{vision: vision, generator: generator, brand: brand}
}

// AnalyzeRoom checks relevance first; a relevance check that errors lets the
// image through.
func (r *RoomAdvisor) AnalyzeRoom(ctx context.Context, img llm.Image) (*RoomAnalysis, error) {
	verdict, err := r.vision.Describe(ctx, relevancePrompt(r.brand), img)
	if err != nil {
		logger.Warn("Room relevance check failed, continuing", zap.Error(err))
	} else if strings.Contains(strings.ToUpper(verdict), "IRRELEVANT") {
		return nil, ErrUnrelatedImage
	}

	text, err := r.vision.Describe(ctx, roomPrompt, img)
	if err != nil {
		return nil, fmt.Errorf("room analysis failed: %w", err)
	}
	return &RoomAnalysis{
		Analysis:   strings.TrimSpace(text) + "\n\n" + MeasurementDisclaimer,
		Disclaimer: MeasurementDisclaimer,
	}, nil
}

func (r *RoomAdvisor) AssessFit(ctx context.Context, roomAnalysis string, p catalog.Product, m catalog.Model) (*FitAssessment, error) {
	c := ClearanceFor(p.Category)
	need := RequiredFootprint(m.DimensionsCM, p.Category)

	prompt := fmt.Sprintf(`Room analysis:
%s

Product: %s (%s), category %s
Dimensions: %.0fcm (H) x %.0fcm (W) x %.0fcm (D)
Required clearance: %.0fcm each side, %.0fcm behind, %.0fcm above
Minimum space needed: %.0fcm (H) x %.0fcm (W) x %.0fcm (D)

Answer YES or NO on whether it fits, then explain: clearance concerns, the best placement, and installation challenges such as door swing or access. If it is tight, say so.`,
		roomAnalysis, p.Name, m.ModelID, p.Category,
		m.DimensionsCM[0], m.DimensionsCM[1], m.DimensionsCM[2],
		c.Sides, c.Back, c.Top,
		need.HeightCM, need.WidthCM, need.DepthCM)

	resp, err := r.generator.Generate(ctx, llm.Request{
		System:      "You assess whether one appliance fits a described space. Be conservative.",
		Query:       prompt,
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("fit assessment failed: %w", err)
	}
	return &FitAssessment{Assessment: resp.Content, Required: need}, nil
}

func (r *RoomAdvisor) RecommendColor(ctx context.Context, roomAnalysis string, variants []catalog.Model) (*ColorRecommendation, error) {
	options := make([]string, 0, len(variants))
	for _, v := range variants {
		if v.Color == "" {
			continue
		}
		opt := v.Color
		if v.HexColor != "" {
			opt += " (" + v.HexColor + ")"
		}
		options = append(options, opt)
	}
	if len(options) == 0 {
		return nil, fmt.Errorf("no colour variants to choose from")
	}

	prompt := fmt.Sprintf(`Room analysis:
%s

Available colours: %s

Recommend the colour that best suits this room given the wall and floor colours. Give one alternative and any colour to avoid. Say so if several would work.`,
		roomAnalysis, strings.Join(options, ", "))

	resp, err := r.generator.Generate(ctx, llm.Request{
		System:      "You recommend a colour variant of one product for a described room.",
		Query:       prompt,
		Temperature: 0.5,
	})
	if err != nil {
		return nil, fmt.Errorf("colour recommendation failed: %w", err)
	}
	return &ColorRecommendation{Recommendation: resp.Content, Options: options}, nil
}

func relevancePrompt(brand string) string {
	return fmt.Sprintf(`Is this image relevant to %s home appliances? It is relevant only if it shows a room where an appliance could be installed, the product or its parts, installation context, or diagnostic information.
People, landscapes, animals and vehicles are not relevant.
Reply with one word: RELEVANT or IRRELEVANT.`, brand)
}

const roomPrompt = `Describe this room for appliance placement:
1. Room type.
2. Available space: approximate floor dimensions, candidate placement spots, tight corners.
3. Colours: wall colour with an estimated hex code, floor colour and material, accents.
4. Lighting: natural or artificial, warm or cool, brightness.
5. Existing elements: appliances, cabinets, doors and windows.
6. Placement recommendations and ventilation.
7. Safety: water sources near electrics, clearance, power outlets.
Label every measurement APPROXIMATE and say what cannot be determined from the image.`
