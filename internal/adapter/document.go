package adapter

import (
	"context"
	"image"

	"github.com/anime-shed/pattern-inspector-go/pkg/models"
)

// StructureKind distinguishes the layout elements of a page.
type StructureKind string

const (
	StructureImage StructureKind = "image"
	StructureText  StructureKind = "text"
)

// Structure is one layout element of a page. Rect is in page points with a
// top-left origin.
type Structure struct {
	Kind StructureKind
	Rect models.Rect
	Text string
	// Name is the XObject resource name for image structures
	Name string
}

// PageContent is the parsed layout of one page.
type PageContent struct {
	Number     int
	Width      float64
	Height     float64
	Text       string
	Structures []Structure
	// OCR is set when the text came from recognition instead of the text layer
	OCR bool
}

// Document is an opened multi-page document. Pages are numbered from 1.
// Page and Rasterize are safe for concurrent use.
type Document interface {
	PageCount() int
	Page(ctx context.Context, number int) (*PageContent, error)
	Rasterize(ctx context.Context, number int, dpi float64) (image.Image, error)
	Close() error
}

// DocumentRender opens encoded documents.
type DocumentRender interface {
	Name() string
	Open(ctx context.Context, data []byte) (Document, error)
}

// OCRResult is recognized text with block boxes in pixel coordinates.
type OCRResult struct {
	Text   string
	Blocks []Structure
}

// TextRecognizer reads text from rendered pages.
type TextRecognizer interface {
	Recognize(ctx context.Context, img image.Image) (OCRResult, error)
}
