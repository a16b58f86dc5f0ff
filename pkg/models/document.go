package models

// Rect is a rectangle in document coordinate units (points, top-left origin).
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns Width*Height, or 0 for degenerate rectangles.
func (r Rect) Area() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// Intersects reports whether two rectangles overlap.
func (r Rect) Intersects(o Rect) bool {
	return r.X < o.X+o.Width && o.X < r.X+r.Width &&
		r.Y < o.Y+o.Height && o.Y < r.Y+r.Height
}

// RegionDescriptor is a located candidate pattern area on a document page.
type RegionDescriptor struct {
	PageNumber int     `json:"page_number"`
	RegionID   string  `json:"region_id"`
	Rect       Rect    `json:"rect"`
	Confidence float64 `json:"confidence"`
}

// Dimensions is a parsed "W x H unit" specification.
type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Unit   string  `json:"unit"`
}

// TileMetadata is derived from a region and the text around it.
type TileMetadata struct {
	PageNumber     int               `json:"page_number"`
	RegionID       string            `json:"region_id"`
	Rect           Rect              `json:"rect"`
	Dimensions     *Dimensions       `json:"dimensions,omitempty"`
	Specifications map[string]string `json:"specifications"`
	Manufacturer   string            `json:"manufacturer,omitempty"`
	ProductCode    string            `json:"product_code,omitempty"`
	ExtractedText  string            `json:"extracted_text,omitempty"`
}

// ExtractOptions controls document region extraction.
type ExtractOptions struct {
	TargetDPI         float64 `json:"target_dpi"`
	EnhanceResolution bool    `json:"enhance_resolution"`
	DetectRegions     bool    `json:"detect_regions"`
	MaxPageLimit      int     `json:"max_page_limit,omitempty"`
	PageRanges        []int   `json:"page_ranges,omitempty"`
}

// DefaultExtractOptions returns the options used when a caller passes none.
func DefaultExtractOptions() ExtractOptions {
	return ExtractOptions{
		TargetDPI:         300,
		EnhanceResolution: true,
		DetectRegions:     true,
	}
}

// ProcessingStats summarizes one extraction call.
type ProcessingStats struct {
	PagesProcessed      int     `json:"pages_processed"`
	ImagesExtracted     int     `json:"images_extracted"`
	AverageImageQuality float64 `json:"average_image_quality"`
	ProcessingTimeMs    int64   `json:"processing_time_ms"`
}

// ExtractionResult pairs every extracted image with its metadata entry:
// Images[i] belongs to Metadata[i].
type ExtractionResult struct {
	Images          [][]byte        `json:"-"`
	Metadata        []TileMetadata  `json:"metadata"`
	ProcessingStats ProcessingStats `json:"processing_stats"`
}
