package adapter

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/anime-shed/pattern-inspector-go/internal/raster"
)

// workerRasterizer renders single pages with an external poppler-style
// worker (pdftoppm compatible command line).
type workerRasterizer struct {
	path string
}

func newWorkerRasterizer(path string) (*workerRasterizer, error) {
	if path == "" {
		return nil, fmt.Errorf("no renderer worker configured")
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("renderer worker %q not found: %w", path, err)
	}
	return &workerRasterizer{path: resolved}, nil
}

func (w *workerRasterizer) Rasterize(ctx context.Context, data []byte, page int, dpi float64) (image.Image, error) {
	dir, err := os.MkdirTemp("", "pattern-render-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create render dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to stage document: %w", err)
	}

	prefix := filepath.Join(dir, "page")
	n := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, w.path,
		"-png",
		"-r", strconv.FormatFloat(dpi, 'f', 0, 64),
		"-f", n, "-l", n,
		"-singlefile",
		input, prefix)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("renderer worker failed on page %d: %w: %s", page, err, bytes.TrimSpace(stderr.Bytes()))
	}

	out, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("renderer worker produced no output for page %d: %w", page, err)
	}
	img, _, err := raster.Decode(out)
	return img, err
}
