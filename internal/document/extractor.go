// Package document extracts pattern regions and their metadata from
// multi-page documents: parse, identify regions, rasterize and enhance,
// derive metadata.
package document

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/pattern-inspector-go/internal/adapter"
	"github.com/anime-shed/pattern-inspector-go/internal/analyzer"
	"github.com/anime-shed/pattern-inspector-go/internal/enhance"
	apperrors "github.com/anime-shed/pattern-inspector-go/internal/errors"
	"github.com/anime-shed/pattern-inspector-go/internal/logger"
	"github.com/anime-shed/pattern-inspector-go/internal/quality"
	"github.com/anime-shed/pattern-inspector-go/internal/raster"
	"github.com/anime-shed/pattern-inspector-go/pkg/models"
)

// DocumentProvider hands out the document capability. *adapter.LibraryAdapter
// implements it.
type DocumentProvider interface {
	Document() (adapter.DocumentRender, error)
}

// Options configures the extractor.
type Options struct {
	Keywords   []string
	Vocabulary Vocabulary
	// TextLimit truncates ExtractedText
	TextLimit int
	// NearbyMargin is how far, in points, text may sit from a region
	NearbyMargin float64
	// SuperResolveBelow is the resolution sub-score that triggers upscaling
	SuperResolveBelow float64
	// QualitySamples bounds the images scored for AverageImageQuality
	QualitySamples int
	Workers        int
}

func DefaultOptions() Options {
	return Options{
		Keywords:          DefaultKeywords,
		Vocabulary:        DefaultVocabulary(),
		TextLimit:         500,
		NearbyMargin:      72,
		SuperResolveBelow: 0.7,
		QualitySamples:    10,
		Workers:           4,
	}
}

// Extractor runs the document state machine. It is safe for concurrent use.
type Extractor struct {
	docs     DocumentProvider
	quality  *quality.Evaluator
	enhancer *enhance.Enhancer
	opts     Options
}

func NewExtractor(docs DocumentProvider, evaluator *quality.Evaluator, enhancer *enhance.Enhancer, opts Options) *Extractor {
	return &Extractor{docs: docs, quality: evaluator, enhancer: enhancer, opts: opts}
}

type pageResult struct {
	images   [][]byte
	metadata []models.TileMetadata
	err      error
}

// ExtractRegions returns every region image with its metadata, in page
// order. A document that cannot be parsed yields an empty result and a
// structural error; failing pages are skipped.
func (e *Extractor) ExtractRegions(ctx context.Context, buf []byte, opts models.ExtractOptions) (models.ExtractionResult, error) {
	start := time.Now()
	var result models.ExtractionResult

	render, err := e.docs.Document()
	if err != nil {
		return result, err
	}
	doc, err := render.Open(ctx, buf)
	if err != nil {
		if apperrors.IsAdapterNotReady(err) {
			return result, err
		}
		return result, apperrors.NewStructuralError("cannot parse document", err)
	}
	defer doc.Close()

	pages := SelectPages(doc.PageCount(), opts.PageRanges, opts.MaxPageLimit)
	if len(pages) == 0 {
		return result, apperrors.NewStructuralError("document has no pages to process", nil)
	}
	if opts.TargetDPI <= 0 {
		opts.TargetDPI = models.DefaultExtractOptions().TargetDPI
	}

	results := make([]pageResult, len(pages))
	pool := analyzer.NewWorkerPool(min(e.opts.Workers, len(pages)))
	pool.Start()
	for i, number := range pages {
		i, number := i, number
		pool.Submit(func() {
			results[i] = e.processPage(ctx, doc, number, opts)
		})
	}
	pool.Wait()
	pool.Close()

	for i, r := range results {
		if r.err != nil {
			if apperrors.IsAdapterNotReady(r.err) {
				return models.ExtractionResult{}, r.err
			}
			logger.WithError(r.err).WithField("page", pages[i]).Warn("Skipping document page")
			continue
		}
		result.ProcessingStats.PagesProcessed++
		result.Images = append(result.Images, r.images...)
		result.Metadata = append(result.Metadata, r.metadata...)
	}
	if result.ProcessingStats.PagesProcessed == 0 {
		return result, apperrors.NewStructuralError("no document page could be processed", results[0].err)
	}

	result.ProcessingStats.ImagesExtracted = len(result.Images)
	result.ProcessingStats.AverageImageQuality = e.averageQuality(result.Images)
	result.ProcessingStats.ProcessingTimeMs = time.Since(start).Milliseconds()

	logger.WithFields(logrus.Fields{
		"pages":           result.ProcessingStats.PagesProcessed,
		"images":          result.ProcessingStats.ImagesExtracted,
		"average_quality": result.ProcessingStats.AverageImageQuality,
		"duration_ms":     result.ProcessingStats.ProcessingTimeMs,
		"renderer":        render.Name(),
	}).Info("Document regions extracted")
	return result, nil
}

func (e *Extractor) processPage(ctx context.Context, doc adapter.Document, number int, opts models.ExtractOptions) (r pageResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r = pageResult{err: fmt.Errorf("page %d panicked: %v", number, rec)}
		}
	}()
	if err := ctx.Err(); err != nil {
		return pageResult{err: err}
	}

	page, err := doc.Page(ctx, number)
	if err != nil {
		return pageResult{err: fmt.Errorf("parse page %d: %w", number, err)}
	}
	var regions []models.RegionDescriptor
	if opts.DetectRegions {
		regions = IdentifyRegions(page, e.opts.Keywords)
	}
	detected := len(regions) > 0
	if !detected {
		regions = []models.RegionDescriptor{FullPageRegion(page)}
	}

	rendered, err := doc.Rasterize(ctx, number, opts.TargetDPI)
	if err != nil {
		return pageResult{err: fmt.Errorf("rasterize page %d: %w", number, err)}
	}
	scale := opts.TargetDPI / 72

	if err := e.appendRegions(&r, page, rendered, scale, regions, opts); err != nil {
		return pageResult{err: err}
	}
	// every detected region failed: the page still yields one image
	if detected && len(r.images) == 0 {
		logger.WithField("page", number).Debug("No detected region usable, falling back to the full page")
		if err := e.appendRegions(&r, page, rendered, scale, []models.RegionDescriptor{FullPageRegion(page)}, opts); err != nil {
			return pageResult{err: err}
		}
	}
	return r
}

// appendRegions crops, enhances and describes each region into r. Only an
// adapter-not-ready error is returned; other region failures are skipped.
func (e *Extractor) appendRegions(r *pageResult, page *adapter.PageContent, rendered image.Image, scale float64, regions []models.RegionDescriptor, opts models.ExtractOptions) error {
	for _, region := range regions {
		img, ok := cropRegion(rendered, region.Rect, scale)
		if !ok {
			logger.WithField("region", region.RegionID).Debug("Region outside rendered page")
			continue
		}
		buf, err := e.enhanceRegion(img, opts.EnhanceResolution)
		if err != nil {
			if apperrors.IsAdapterNotReady(err) {
				return err
			}
			logger.WithError(err).WithField("region", region.RegionID).Warn("Region enhancement failed")
			continue
		}
		r.images = append(r.images, buf)
		r.metadata = append(r.metadata, DeriveMetadata(region,
			nearbyText(page, region.Rect, e.opts.NearbyMargin), e.opts.Vocabulary, e.opts.TextLimit))
	}
	return nil
}

// cropRegion cuts rect, given in points, out of a page rendered at scale
// pixels per point.
func cropRegion(page image.Image, rect models.Rect, scale float64) (image.Image, bool) {
	b := page.Bounds()
	r := image.Rect(
		b.Min.X+int(math.Floor(rect.X*scale)),
		b.Min.Y+int(math.Floor(rect.Y*scale)),
		b.Min.X+int(math.Ceil((rect.X+rect.Width)*scale)),
		b.Min.Y+int(math.Ceil((rect.Y+rect.Height)*scale)),
	).Intersect(b)
	if r.Dx() < 2 || r.Dy() < 2 {
		return nil, false
	}
	return raster.Crop(page, r), true
}

// enhanceRegion upscales low-resolution regions when allowed, always
// applies adaptive contrast and encodes the result as PNG. Enhancement
// failures keep the unenhanced crop.
func (e *Extractor) enhanceRegion(img image.Image, superResolve bool) ([]byte, error) {
	if superResolve {
		scores, err := e.quality.Assess(img)
		if apperrors.IsAdapterNotReady(err) {
			return nil, err
		}
		if err == nil && scores.Resolution < e.opts.SuperResolveBelow {
			up, err := e.enhancer.SuperResolve(img)
			if apperrors.IsAdapterNotReady(err) {
				return nil, err
			}
			img = up
		}
	}
	out, err := e.enhancer.AdaptiveContrast(img)
	if apperrors.IsAdapterNotReady(err) {
		return nil, err
	}
	return raster.EncodePNG(out)
}

// averageQuality scores at most QualitySamples evenly strided images.
func (e *Extractor) averageQuality(images [][]byte) float64 {
	idx := SampleIndices(len(images), e.opts.QualitySamples)
	if len(idx) == 0 {
		return 0
	}
	var sum float64
	for _, i := range idx {
		s, _ := e.quality.EvaluateBuffer(images[i])
		sum += s.Overall
	}
	return math.Round(sum/float64(len(idx))*1000) / 1000
}

// SampleIndices picks min(n, k) evenly strided indices out of n.
func SampleIndices(n, k int) []int {
	if n <= 0 || k <= 0 {
		return nil
	}
	if k > n {
		k = n
	}
	out := make([]int, k)
	for i := range out {
		out[i] = i * n / k
	}
	return out
}

// SelectPages resolves the pages to process: the requested page numbers
// within range, deduplicated and ascending, or every page. limit caps the
// count when positive.
func SelectPages(count int, ranges []int, limit int) []int {
	var pages []int
	if len(ranges) == 0 {
		for p := 1; p <= count; p++ {
			pages = append(pages, p)
		}
	} else {
		seen := make(map[int]bool, len(ranges))
		for _, p := range ranges {
			if p >= 1 && p <= count && !seen[p] {
				seen[p] = true
				pages = append(pages, p)
			}
		}
		sort.Ints(pages)
	}
	if limit > 0 && len(pages) > limit {
		pages = pages[:limit]
	}
	return pages
}
