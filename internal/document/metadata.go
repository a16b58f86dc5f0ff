package document

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/arbovm/levenshtein"

	"github.com/anime-shed/pattern-inspector-go/internal/embedding"
	"github.com/anime-shed/pattern-inspector-go/pkg/models"
)

// Vocabulary holds the words a specification value is matched against.
type Vocabulary struct {
	Materials []string
	Finishes  []string
}

func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Materials: []string{
			"ceramic", "porcelain", "marble", "granite", "travertine", "slate",
			"limestone", "terrazzo", "quartz", "glass", "metal", "wood",
			"concrete", "cement", "stone", "vinyl", "textile",
		},
		Finishes: []string{
			"matte", "glossy", "polished", "honed", "satin", "textured",
			"brushed", "lappato", "structured", "tumbled",
		},
	}
}

// Specification keys set by DeriveMetadata.
const (
	SpecMaterial = "Material"
	SpecFinish   = "Finish"
)

var (
	dimensionPattern    = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*[x×]\s*(\d+(?:[.,]\d+)?)\s*(mm\b|cm\b|inches\b|inch\b|in\b|m\b|")`)
	productCodePattern  = regexp.MustCompile(`Code:\s*([A-Z0-9-]+)`)
	manufacturerPattern = regexp.MustCompile(`(?i)(?:manufacturer|brand|made by)\s*:\s*([^,;\n]+)`)
)

// fuzzyMinLength is the shortest token matched with one edit of tolerance.
const fuzzyMinLength = 6

// DeriveMetadata mines text for dimensions, material, finish, product code
// and manufacturer. The manufacturer is only kept when a product code was
// found. ExtractedText is text truncated to limit runes.
func DeriveMetadata(region models.RegionDescriptor, text string, vocab Vocabulary, limit int) models.TileMetadata {
	meta := models.TileMetadata{
		PageNumber:     region.PageNumber,
		RegionID:       region.RegionID,
		Rect:           region.Rect,
		Specifications: make(map[string]string),
		ExtractedText:  truncate(text, limit),
	}

	if m := dimensionPattern.FindStringSubmatch(text); m != nil {
		w, errW := parseNumber(m[1])
		h, errH := parseNumber(m[2])
		if errW == nil && errH == nil {
			meta.Dimensions = &models.Dimensions{Width: w, Height: h, Unit: normalizeUnit(m[3])}
		}
	}

	tokens := embedding.Tokenize(text)
	if v := matchVocabulary(tokens, vocab.Materials); v != "" {
		meta.Specifications[SpecMaterial] = v
	}
	if v := matchVocabulary(tokens, vocab.Finishes); v != "" {
		meta.Specifications[SpecFinish] = v
	}

	if m := productCodePattern.FindStringSubmatch(text); m != nil {
		meta.ProductCode = m[1]
		if mm := manufacturerPattern.FindStringSubmatch(text); mm != nil {
			meta.Manufacturer = strings.TrimSpace(mm[1])
		}
	}
	return meta
}

// matchVocabulary returns the capitalized vocabulary word of the first
// token that matches one, exactly or within one edit for long tokens.
func matchVocabulary(tokens, words []string) string {
	for _, tok := range tokens {
		for _, w := range words {
			if tok == w {
				return capitalize(w)
			}
			if utf8.RuneCountInString(tok) >= fuzzyMinLength && levenshtein.Distance(tok, w) <= 1 {
				return capitalize(w)
			}
		}
	}
	return ""
}

func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
}

func normalizeUnit(u string) string {
	switch strings.ToLower(u) {
	case "inches", "inch", "in", `"`:
		return "in"
	default:
		return strings.ToLower(u)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return strings.ToUpper(string(r)) + s[size:]
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
