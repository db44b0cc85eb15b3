package vision

import "fmt"

// BuildPrompt returns the instruction sent with each image. The model must
// reply with JSON only and never address the user.
func BuildPrompt(s Subject) string {
	return fmt.Sprintf(`You extract structured facts from an image for an assistant that supports exactly one product.

Product Name: %s
Model: %s
Category: %s

Use the image only for: product placement, installation compatibility, size fitting, colour matching, visible damage, error diagnosis and part identification.

Rules:
- Do not answer or advise the user.
- Do not mention other products.
- Do not invent measurements. Write "unknown" when unsure.

Reply with JSON only, in this shape:
{
  "image_type": "room | product | installation | damage | error_display | other",
  "observations": ["..."],
  "detected_environment": "...",
  "wall_color": "...",
  "floor_color": "...",
  "lighting": "bright | dim | natural | artificial",
  "visible_product_parts": ["..."],
  "visible_issues": ["..."],
  "installation_obstacles": ["..."],
  "confidence": 0.0
}

If the image has nothing to do with this product, reply with:
{"image_type": "unrelated", "reason": "short explanation"}`, s.ProductName, s.ModelID, s.Category)
}
