// Package adaptertest provides deterministic capability fakes for tests.
package adaptertest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"

	"github.com/anime-shed/pattern-inspector-go/internal/adapter"
)

// ErrInjected is returned by operations listed in FailOps.
var ErrInjected = errors.New("injected failure")

// FakeVision delegates to the reference backend, failing the operations
// named in FailOps and counting every call.
type FakeVision struct {
	FailOps map[string]bool

	mu    sync.Mutex
	calls map[string]int
	ref   adapter.VisionOps
}

func NewFakeVision(failOps ...string) *FakeVision {
	f := &FakeVision{FailOps: make(map[string]bool), calls: make(map[string]int), ref: adapter.NewReferenceVision()}
	for _, op := range failOps {
		f.FailOps[op] = true
	}
	return f
}

func (f *FakeVision) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if f.FailOps[op] {
		return fmt.Errorf("%s: %w", op, ErrInjected)
	}
	return nil
}

// Calls returns how often op was invoked.
func (f *FakeVision) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FakeVision) Name() string { return "fake" }

func (f *FakeVision) GaussianBlur(gray *image.Gray, sigma float64) (*image.Gray, error) {
	if err := f.record("GaussianBlur"); err != nil {
		return nil, err
	}
	return f.ref.GaussianBlur(gray, sigma)
}

func (f *FakeVision) Laplacian(gray *image.Gray) ([]float64, error) {
	if err := f.record("Laplacian"); err != nil {
		return nil, err
	}
	return f.ref.Laplacian(gray)
}

func (f *FakeVision) Filter2D(gray *image.Gray, kernel adapter.Kernel) ([]float64, error) {
	if err := f.record("Filter2D"); err != nil {
		return nil, err
	}
	return f.ref.Filter2D(gray, kernel)
}

func (f *FakeVision) GradientDescriptor(gray *image.Gray) ([]float64, error) {
	if err := f.record("GradientDescriptor"); err != nil {
		return nil, err
	}
	return f.ref.GradientDescriptor(gray)
}

func (f *FakeVision) AdaptiveEqualize(img image.Image, clipLimit float64, tiles int) (image.Image, error) {
	if err := f.record("AdaptiveEqualize"); err != nil {
		return nil, err
	}
	return f.ref.AdaptiveEqualize(img, clipLimit, tiles)
}

func (f *FakeVision) Denoise(img image.Image) (image.Image, error) {
	if err := f.record("Denoise"); err != nil {
		return nil, err
	}
	return f.ref.Denoise(img)
}

func (f *FakeVision) Sharpen(img image.Image, amount float64) (image.Image, error) {
	if err := f.record("Sharpen"); err != nil {
		return nil, err
	}
	return f.ref.Sharpen(img, amount)
}

func (f *FakeVision) Resize(img image.Image, width, height int) (image.Image, error) {
	if err := f.record("Resize"); err != nil {
		return nil, err
	}
	return f.ref.Resize(img, width, height)
}

func (f *FakeVision) Rotate(img image.Image, degrees float64) (image.Image, error) {
	if err := f.record("Rotate"); err != nil {
		return nil, err
	}
	return f.ref.Rotate(img, degrees)
}

func (f *FakeVision) WarpPerspective(img image.Image, h adapter.Homography, width, height int) (image.Image, error) {
	if err := f.record("WarpPerspective"); err != nil {
		return nil, err
	}
	return f.ref.WarpPerspective(img, h, width, height)
}

// FakeTensor returns fixed scores per model id. Models without an entry get
// uniform scores.
type FakeTensor struct {
	Scores map[string][]float32
	// LoadErr fails Load, RunErr fails every Run
	LoadErr   error
	RunErr    error
	LoadDelay time.Duration

	loads      atomic.Int64
	runs       atomic.Int64
	mu         sync.Mutex
	lastInputs []adapter.NamedTensor
}

func (f *FakeTensor) Name() string { return "fake" }
func (f *FakeTensor) Close() error { return nil }

// Loads returns how many times Load ran.
func (f *FakeTensor) Loads() int64 { return f.loads.Load() }

// Runs returns how many times any model ran.
func (f *FakeTensor) Runs() int64 { return f.runs.Load() }

// LastInputs returns the inputs of the most recent Run.
func (f *FakeTensor) LastInputs() []adapter.NamedTensor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastInputs
}

func (f *FakeTensor) Load(ctx context.Context, spec adapter.ModelSpec) (adapter.Model, error) {
	f.loads.Add(1)
	if f.LoadDelay > 0 {
		select {
		case <-time.After(f.LoadDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.LoadErr != nil {
		return nil, f.LoadErr
	}
	scores, ok := f.Scores[spec.ID]
	if !ok {
		scores = make([]float32, len(spec.Labels))
		for i := range scores {
			scores[i] = float32(1 / math.Max(1, float64(len(spec.Labels))))
		}
	}
	return &fakeModel{spec: spec, scores: scores, tensor: f}, nil
}

type fakeModel struct {
	spec   adapter.ModelSpec
	scores []float32
	tensor *FakeTensor
}

func (m *fakeModel) ID() string       { return m.spec.ID }
func (m *fakeModel) Labels() []string { return m.spec.Labels }
func (m *fakeModel) Close() error     { return nil }

func (m *fakeModel) Run(ctx context.Context, inputs []adapter.NamedTensor) ([]float32, error) {
	m.tensor.runs.Add(1)
	m.tensor.mu.Lock()
	m.tensor.lastInputs = inputs
	m.tensor.mu.Unlock()
	if m.tensor.RunErr != nil {
		return nil, m.tensor.RunErr
	}
	out := make([]float32, len(m.scores))
	copy(out, m.scores)
	return out, nil
}

// FakePage is one page of a FakeDocument. Image is the page rendered at
// 72 dpi, so page points equal pixels.
type FakePage struct {
	Content adapter.PageContent
	Image   image.Image
	PageErr error
}

// FakeDocument opens every buffer as the same fixed page list.
type FakeDocument struct {
	Pages   []FakePage
	OpenErr error

	opens atomic.Int64
}

func (f *FakeDocument) Name() string { return "fake" }

// Opens returns how many documents were opened.
func (f *FakeDocument) Opens() int64 { return f.opens.Load() }

func (f *FakeDocument) Open(ctx context.Context, data []byte) (adapter.Document, error) {
	f.opens.Add(1)
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	return &fakeDoc{pages: f.Pages}, nil
}

type fakeDoc struct {
	pages []FakePage
}

func (d *fakeDoc) PageCount() int { return len(d.pages) }
func (d *fakeDoc) Close() error   { return nil }

func (d *fakeDoc) page(number int) (*FakePage, error) {
	if number < 1 || number > len(d.pages) {
		return nil, fmt.Errorf("page %d out of range 1..%d", number, len(d.pages))
	}
	return &d.pages[number-1], nil
}

func (d *fakeDoc) Page(ctx context.Context, number int) (*adapter.PageContent, error) {
	p, err := d.page(number)
	if err != nil {
		return nil, err
	}
	if p.PageErr != nil {
		return nil, p.PageErr
	}
	content := p.Content
	content.Number = number
	content.Structures = append([]adapter.Structure(nil), p.Content.Structures...)
	return &content, nil
}

func (d *fakeDoc) Rasterize(ctx context.Context, number int, dpi float64) (image.Image, error) {
	p, err := d.page(number)
	if err != nil {
		return nil, err
	}
	if p.Image == nil {
		return nil, fmt.Errorf("page %d has no image", number)
	}
	if dpi == 72 {
		return p.Image, nil
	}
	b := p.Image.Bounds()
	scale := dpi / 72
	return imaging.Resize(p.Image, int(math.Round(float64(b.Dx())*scale)), int(math.Round(float64(b.Dy())*scale)), imaging.Lanczos), nil
}
