package document

import (
	"fmt"
	"math"
	"strings"

	"github.com/anime-shed/pattern-inspector-go/internal/adapter"
	"github.com/anime-shed/pattern-inspector-go/internal/embedding"
	"github.com/anime-shed/pattern-inspector-go/pkg/models"
)

// DefaultKeywords mark text blocks that describe a pattern.
var DefaultKeywords = []string{
	"pattern", "tile", "texture", "design", "motif",
	"collection", "series", "decor", "mosaic",
}

// RegionID builds the synthetic id of the index-th candidate on a page.
func RegionID(index, page int) string {
	return fmt.Sprintf("r%dp%d", index, page)
}

// FullPageRegion covers a whole page when no candidate was found.
func FullPageRegion(page *adapter.PageContent) models.RegionDescriptor {
	return models.RegionDescriptor{
		PageNumber: page.Number,
		RegionID:   RegionID(0, page.Number) + "_full",
		Rect:       models.Rect{Width: page.Width, Height: page.Height},
		Confidence: 0.7,
	}
}

// IdentifyRegions returns the pattern-region candidates of a page: every
// image structure, and every text block mentioning a keyword. Image
// confidence grows with the share of the page it covers; text confidence
// with the number of keyword hits. Both stay in [0.7, 0.9).
func IdentifyRegions(page *adapter.PageContent, keywords []string) []models.RegionDescriptor {
	pageArea := page.Width * page.Height
	var out []models.RegionDescriptor
	for _, s := range page.Structures {
		if s.Rect.Area() == 0 {
			continue
		}
		var conf float64
		switch s.Kind {
		case adapter.StructureImage:
			share := 1.0
			if pageArea > 0 {
				share = math.Min(1, s.Rect.Area()/pageArea)
			}
			conf = 0.8 + 0.09*share
		case adapter.StructureText:
			hits := keywordHits(s.Text, keywords)
			if hits == 0 {
				continue
			}
			conf = 0.7 + 0.03*float64(min(hits, 3))
		default:
			continue
		}
		out = append(out, models.RegionDescriptor{
			PageNumber: page.Number,
			RegionID:   RegionID(len(out), page.Number),
			Rect:       s.Rect,
			Confidence: conf,
		})
	}
	return out
}

// keywordHits counts the distinct keywords that appear as a word or a word
// prefix ("tiles", "patterned") in text.
func keywordHits(text string, keywords []string) int {
	tokens := embedding.Tokenize(text)
	hits := 0
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		for _, tok := range tokens {
			if strings.HasPrefix(tok, kw) {
				hits++
				break
			}
		}
	}
	return hits
}

// nearbyText joins the text blocks within margin points of r, in page
// order. It falls back to the whole page text.
func nearbyText(page *adapter.PageContent, r models.Rect, margin float64) string {
	grown := models.Rect{X: r.X - margin, Y: r.Y - margin, Width: r.Width + 2*margin, Height: r.Height + 2*margin}
	var parts []string
	for _, s := range page.Structures {
		if s.Kind == adapter.StructureText && strings.TrimSpace(s.Text) != "" && grown.Intersects(s.Rect) {
			parts = append(parts, strings.TrimSpace(s.Text))
		}
	}
	if len(parts) == 0 {
		return strings.TrimSpace(page.Text)
	}
	return strings.Join(parts, "\n")
}
