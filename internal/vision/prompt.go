package vision

import (
	"fmt"
	"strings"

	"github.com/raysh454/miru/internal/model"
)

// systemPrompt frames the task for every provider. Providers that take a
// separate system message use it directly; the rest prepend it to the user
// prompt.
const systemPrompt = `You are a visual regression analyst. You are shown two screenshots of the same page: first the approved baseline, then the current render. Compare them and report the differences as JSON.

Respond with a single JSON object and nothing else:
{
  "severity": "none" | "minor" | "moderate" | "breaking",
  "categories": ["layout" | "content" | "styling" | "animation"],
  "confidence": 0.0-1.0,
  "reasoning": "one or two sentences",
  "suggestions": ["optional follow-up actions"]
}

Severity guide: "none" means no user-visible change, "minor" means cosmetic drift a user would not notice, "moderate" means a visible change that needs review, "breaking" means content is missing, unreadable or the layout is broken.`

// buildUserPrompt renders the comparison context that accompanies the two
// screenshots.
func buildUserPrompt(req *model.VisionRequest) string {
	var b strings.Builder
	b.WriteString("Compare the two screenshots (baseline first, current second).\n")
	if req.TestName != "" {
		fmt.Fprintf(&b, "Test: %s\n", req.TestName)
	}
	if req.URL != "" {
		fmt.Fprintf(&b, "URL: %s\n", req.URL)
	}
	if req.Viewport.Width > 0 && req.Viewport.Height > 0 {
		fmt.Fprintf(&b, "Viewport: %dx%d\n", req.Viewport.Width, req.Viewport.Height)
	}
	if d := req.Diff; d != nil {
		fmt.Fprintf(&b, "Pixel comparison: similarity %.4f, %d differing pixels, %d changed regions.\n",
			d.Similarity, d.PixelDifference, len(d.Regions))
		for i, r := range d.Regions {
			if i >= 5 {
				fmt.Fprintf(&b, "(%d further regions omitted)\n", len(d.Regions)-i)
				break
			}
			fmt.Fprintf(&b, "Region %d: %dx%d at (%d,%d), %d pixels.\n",
				i+1, r.Width, r.Height, r.X, r.Y, r.PixelCount)
		}
	}
	b.WriteString("Answer with the JSON object only.")
	return b.String()
}
