//go:build cgo

package adapter

import (
	"context"
	"fmt"
	"image"
	"os"

	"github.com/otiai10/gosseract/v2"

	"github.com/anime-shed/pattern-inspector-go/internal/raster"
	"github.com/anime-shed/pattern-inspector-go/pkg/models"
)

// tesseractOCR creates a client per call; gosseract clients are not safe
// for concurrent use.
type tesseractOCR struct {
	dataRoot string
}

func newTextRecognizer(opts Options) (TextRecognizer, error) {
	t := &tesseractOCR{}
	if opts.VisionDataRoot != "" {
		if _, err := os.Stat(opts.VisionDataRoot); err == nil {
			t.dataRoot = opts.VisionDataRoot
		}
	}
	// Fail early when the library or its language data is missing
	client := gosseract.NewClient()
	defer client.Close()
	if t.dataRoot != "" {
		if err := client.SetTessdataPrefix(t.dataRoot); err != nil {
			return nil, fmt.Errorf("failed to set tessdata path: %w", err)
		}
	}
	if err := client.SetLanguage("eng"); err != nil {
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	return t, nil
}

func (t *tesseractOCR) Recognize(ctx context.Context, img image.Image) (OCRResult, error) {
	if err := ctx.Err(); err != nil {
		return OCRResult{}, err
	}
	buf, err := raster.EncodePNG(img)
	if err != nil {
		return OCRResult{}, err
	}

	client := gosseract.NewClient()
	defer client.Close()
	if t.dataRoot != "" {
		if err := client.SetTessdataPrefix(t.dataRoot); err != nil {
			return OCRResult{}, fmt.Errorf("failed to set tessdata path: %w", err)
		}
	}
	if err := client.SetImageFromBytes(buf); err != nil {
		return OCRResult{}, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return OCRResult{}, fmt.Errorf("OCR failed: %w", err)
	}

	res := OCRResult{Text: text}
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_BLOCK)
	if err != nil {
		return res, nil
	}
	for _, box := range boxes {
		res.Blocks = append(res.Blocks, Structure{
			Kind: StructureText,
			Text: box.Word,
			Rect: models.Rect{
				X:      float64(box.Box.Min.X),
				Y:      float64(box.Box.Min.Y),
				Width:  float64(box.Box.Dx()),
				Height: float64(box.Box.Dy()),
			},
		})
	}
	return res, nil
}
