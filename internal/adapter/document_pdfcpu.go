package adapter

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/codycollier/wer"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/sirupsen/logrus"
	xdraw "golang.org/x/image/draw"

	"github.com/anime-shed/pattern-inspector-go/internal/embedding"
	apperrors "github.com/anime-shed/pattern-inspector-go/internal/errors"
	"github.com/anime-shed/pattern-inspector-go/internal/logger"
	"github.com/anime-shed/pattern-inspector-go/internal/raster"
	"github.com/anime-shed/pattern-inspector-go/pkg/models"
)

const (
	ocrDPI = 200
	// Above this word error rate the text layer is replaced by OCR text
	maxTextLayerWER = 0.5
	// Below this share of ordinary characters a text layer is re-checked
	minReadableRatio = 0.7
)

// pdfcpuRender parses PDFs with pdfcpu and rasterizes pages through the
// renderer worker, composing embedded images itself when the worker fails.
type pdfcpuRender struct {
	worker *workerRasterizer
	ocr    TextRecognizer
	once   sync.Once
}

func newPDFRender(opts Options, ocr TextRecognizer) *pdfcpuRender {
	r := &pdfcpuRender{ocr: ocr}
	worker, err := newWorkerRasterizer(opts.RendererWorkerPath)
	if err != nil {
		logger.WithError(err).Warn("Renderer worker unavailable, pages will be composed from embedded images")
	} else {
		r.worker = worker
	}
	return r
}

func (r *pdfcpuRender) Name() string {
	return "pdfcpu"
}

// safely converts parser panics into structural errors.
func safely(op string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = apperrors.NewStructuralError(op+" panicked", fmt.Errorf("%v", rec))
		}
	}()
	return fn()
}

func (r *pdfcpuRender) Open(ctx context.Context, data []byte) (Document, error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return nil, apperrors.NewStructuralError("input is not a PDF document", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc := &pdfDocument{render: r, data: data}
	err := safely("document parse", func() error {
		conf := model.NewDefaultConfiguration()
		pctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
		if err != nil {
			return apperrors.NewStructuralError("failed to parse document", err)
		}
		dims, err := pctx.PageDims()
		if err != nil {
			return apperrors.NewStructuralError("failed to read page dimensions", err)
		}
		if len(dims) != pctx.PageCount {
			return apperrors.NewStructuralError(
				fmt.Sprintf("page tree lists %d pages but %d have dimensions", pctx.PageCount, len(dims)), nil)
		}
		doc.ctx = pctx
		doc.sizes = make([][2]float64, len(dims))
		for i, d := range dims {
			doc.sizes[i] = [2]float64{d.Width, d.Height}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

type pdfDocument struct {
	render *pdfcpuRender
	data   []byte

	// pdfcpu contexts are not safe for concurrent use
	mu    sync.Mutex
	ctx   *model.Context
	sizes [][2]float64
}

func (d *pdfDocument) PageCount() int {
	return len(d.sizes)
}

func (d *pdfDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ctx = nil
	return nil
}

func (d *pdfDocument) checkPage(number int) error {
	if number < 1 || number > len(d.sizes) {
		return fmt.Errorf("page %d out of range 1..%d", number, len(d.sizes))
	}
	return nil
}

func (d *pdfDocument) pageContent(number int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return nil, fmt.Errorf("document closed")
	}

	var content []byte
	err := safely("content extraction", func() error {
		r, err := pdfcpu.ExtractPageContent(d.ctx, number)
		if err != nil {
			return apperrors.NewStructuralError(fmt.Sprintf("failed to read page %d content", number), err)
		}
		if r == nil {
			return nil
		}
		content, err = io.ReadAll(r)
		return err
	})
	return content, err
}

func (d *pdfDocument) Page(ctx context.Context, number int) (*PageContent, error) {
	if err := d.checkPage(number); err != nil {
		return nil, err
	}
	content, err := d.pageContent(number)
	if err != nil {
		return nil, err
	}

	w, h := d.sizes[number-1][0], d.sizes[number-1][1]
	images, runs := parseContentStream(content, h)
	blocks := textBlocks(runs)

	page := &PageContent{Number: number, Width: w, Height: h}
	page.Structures = append(page.Structures, images...)
	page.Structures = append(page.Structures, blocks...)
	page.Text = blockText(blocks)

	if d.render.ocr != nil && (page.Text == "" || !readable(page.Text)) {
		if err := d.applyOCR(ctx, page); err != nil {
			logger.WithError(err).WithField("page", number).Warn("OCR failed, keeping text layer")
		}
	}
	return page, nil
}

// applyOCR fills pages without a text layer and replaces text layers that
// disagree too much with what is visibly printed.
func (d *pdfDocument) applyOCR(ctx context.Context, page *PageContent) error {
	img, err := d.Rasterize(ctx, page.Number, ocrDPI)
	if err != nil {
		return err
	}
	res, err := d.render.ocr.Recognize(ctx, img)
	if err != nil {
		return err
	}
	if strings.TrimSpace(res.Text) == "" {
		return nil
	}

	if page.Text != "" {
		rate, _ := wer.WER(embedding.Tokenize(res.Text), embedding.Tokenize(page.Text))
		logger.WithFields(logrus.Fields{"page": page.Number, "wer": rate}).Debug("Verified text layer against OCR")
		if rate <= maxTextLayerWER {
			return nil
		}
	}

	scale := 72.0 / ocrDPI
	kept := page.Structures[:0]
	for _, s := range page.Structures {
		if s.Kind != StructureText {
			kept = append(kept, s)
		}
	}
	for _, b := range res.Blocks {
		b.Kind = StructureText
		b.Rect = models.Rect{X: b.Rect.X * scale, Y: b.Rect.Y * scale, Width: b.Rect.Width * scale, Height: b.Rect.Height * scale}
		kept = append(kept, b)
	}
	page.Structures = kept
	page.Text = res.Text
	page.OCR = true
	return nil
}

func (d *pdfDocument) Rasterize(ctx context.Context, number int, dpi float64) (image.Image, error) {
	if err := d.checkPage(number); err != nil {
		return nil, err
	}
	if dpi <= 0 {
		return nil, fmt.Errorf("invalid dpi %g", dpi)
	}
	if w := d.render.worker; w != nil {
		img, err := w.Rasterize(ctx, d.data, number, dpi)
		if err == nil {
			return img, nil
		}
		d.render.once.Do(func() {
			logger.WithError(err).Warn("Renderer worker failed, composing pages from embedded images")
		})
	}
	return d.compose(number, dpi)
}

// compose draws the page's embedded images at their placements on a white
// canvas. Vector content and text are not rendered.
func (d *pdfDocument) compose(number int, dpi float64) (image.Image, error) {
	content, err := d.pageContent(number)
	if err != nil {
		return nil, err
	}
	w, h := d.sizes[number-1][0], d.sizes[number-1][1]
	placements, _ := parseContentStream(content, h)

	var embedded map[int]model.Image
	d.mu.Lock()
	err = safely("image extraction", func() error {
		if d.ctx == nil {
			return fmt.Errorf("document closed")
		}
		var err error
		embedded, err = pdfcpu.ExtractPageImages(d.ctx, number, false)
		return err
	})
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to extract page %d images: %w", number, err)
	}

	scale := dpi / 72
	canvas := image.NewRGBA(image.Rect(0, 0, int(math.Ceil(w*scale)), int(math.Ceil(h*scale))))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	keys := make([]int, 0, len(embedded))
	for k := range embedded {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	byName := make(map[string]image.Image, len(keys))
	ordered := make([]image.Image, 0, len(keys))
	for _, k := range keys {
		raw, err := io.ReadAll(embedded[k])
		if err != nil {
			continue
		}
		img, _, err := raster.Decode(raw)
		if err != nil {
			continue
		}
		byName[embedded[k].Name] = img
		ordered = append(ordered, img)
	}

	if len(placements) == 0 && len(ordered) > 0 {
		placements = []Structure{{Kind: StructureImage, Rect: models.Rect{Width: w, Height: h}}}
	}
	for i, p := range placements {
		img, ok := byName[p.Name]
		if !ok {
			if i >= len(ordered) {
				continue
			}
			img = ordered[i]
		}
		dst := image.Rect(
			int(p.Rect.X*scale), int(p.Rect.Y*scale),
			int(math.Ceil((p.Rect.X+p.Rect.Width)*scale)), int(math.Ceil((p.Rect.Y+p.Rect.Height)*scale)),
		)
		xdraw.CatmullRom.Scale(canvas, dst, img, img.Bounds(), xdraw.Over, nil)
	}
	return canvas, nil
}

func blockText(blocks []Structure) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, b.Text)
	}
	return strings.Join(parts, "\n")
}

// readable reports whether most characters look like ordinary text rather
// than glyph ids from an unmapped font encoding.
func readable(text string) bool {
	var ok, total int
	for _, r := range text {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || strings.ContainsRune(".,:;-()/x\"'%&+#", r) {
			ok++
		}
	}
	return total == 0 || float64(ok)/float64(total) >= minReadableRatio
}
