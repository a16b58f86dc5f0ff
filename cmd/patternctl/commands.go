package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/anime-shed/pattern-inspector-go/internal/container"
	"github.com/anime-shed/pattern-inspector-go/pkg/models"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize <file|url>",
	Short: "Classify the material of an image or of every region of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecognize,
}

var extractCmd = &cobra.Command{
	Use:   "extract <file|url>",
	Short: "Extract tile regions and their catalogue metadata from a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtract,
}

var similarCmd = &cobra.Command{
	Use:   "similar <file>",
	Short: "Search the feature index for patterns similar to an image",
	Args:  cobra.ExactArgs(1),
	RunE:  runSimilar,
}

func init() {
	rootCmd.AddCommand(recognizeCmd, extractCmd, similarCmd)

	recognizeCmd.Flags().Float64("dpi", 0, "render resolution for documents (0 = configured default)")
	recognizeCmd.Flags().Bool("enhance-resolution", false, "super-resolve low-resolution inputs")
	recognizeCmd.Flags().String("document", "", "force the document path (true/false); sniffed when empty")

	extractCmd.Flags().Float64("dpi", 0, "render resolution (0 = configured default)")
	extractCmd.Flags().Bool("enhance-resolution", true, "super-resolve low-resolution regions")
	extractCmd.Flags().Bool("detect-regions", true, "split pages into tile regions")
	extractCmd.Flags().Int("max-pages", 0, "stop after this many pages (0 = all)")
	extractCmd.Flags().String("pages", "", "pages to process (e.g. '1-3', '1,4,6')")

	similarCmd.Flags().Int("limit", 10, "maximum number of matches")
}

func runRecognize(cmd *cobra.Command, args []string) error {
	var opts models.RecognizeOptions
	opts.TargetDPI, _ = cmd.Flags().GetFloat64("dpi")
	opts.EnhanceResolution, _ = cmd.Flags().GetBool("enhance-resolution")
	if v, _ := cmd.Flags().GetString("document"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid --document value %q", v)
		}
		opts.IsDocument = &b
	}
	if opts.TargetDPI < 0 {
		return fmt.Errorf("invalid dpi: %.0f (must be positive)", opts.TargetDPI)
	}

	return withContainer(cmd.Context(), func(c *container.Container) error {
		var (
			resp *models.RecognizeResponse
			err  error
		)
		if isRemote(args[0]) {
			resp, err = c.Boundary().RecognizeURL(cmd.Context(), args[0], opts)
		} else {
			buf, readErr := os.ReadFile(args[0])
			if readErr != nil {
				return readErr
			}
			resp, err = c.Boundary().Recognize(cmd.Context(), buf, opts)
		}
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), resp)
	})
}

func runExtract(cmd *cobra.Command, args []string) error {
	opts := models.DefaultExtractOptions()
	opts.TargetDPI = 0
	if dpi, _ := cmd.Flags().GetFloat64("dpi"); dpi > 0 {
		opts.TargetDPI = dpi
	}
	opts.EnhanceResolution, _ = cmd.Flags().GetBool("enhance-resolution")
	opts.DetectRegions, _ = cmd.Flags().GetBool("detect-regions")
	opts.MaxPageLimit, _ = cmd.Flags().GetInt("max-pages")
	if opts.MaxPageLimit < 0 {
		return fmt.Errorf("invalid max-pages: %d", opts.MaxPageLimit)
	}
	if spec, _ := cmd.Flags().GetString("pages"); spec != "" {
		pages, err := parsePageRanges(spec)
		if err != nil {
			return fmt.Errorf("invalid page range: %w", err)
		}
		opts.PageRanges = pages
	}

	return withContainer(cmd.Context(), func(c *container.Container) error {
		if opts.TargetDPI == 0 {
			opts.TargetDPI = c.Config().DefaultTargetDPI
		}
		var (
			resp *models.ExtractResponse
			err  error
		)
		if isRemote(args[0]) {
			resp, err = c.Boundary().ExtractRegionsURL(cmd.Context(), args[0], opts)
		} else {
			buf, readErr := os.ReadFile(args[0])
			if readErr != nil {
				return readErr
			}
			resp, err = c.Boundary().ExtractRegions(cmd.Context(), buf, opts)
		}
		if err != nil {
			return err
		}
		// Image bytes are noise on a terminal
		return writeJSON(cmd.OutOrStdout(), struct {
			RequestID       string                 `json:"request_id"`
			Images          int                    `json:"images"`
			Metadata        []models.TileMetadata  `json:"metadata"`
			ProcessingStats models.ProcessingStats `json:"processing_stats"`
		}{resp.RequestID, len(resp.Images), resp.Metadata, resp.ProcessingStats})
	})
}

func runSimilar(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	if limit < 1 {
		return fmt.Errorf("invalid limit: %d (must be positive)", limit)
	}
	buf, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	return withContainer(cmd.Context(), func(c *container.Container) error {
		matches, err := c.Boundary().Similar(cmd.Context(), buf, limit)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), matches)
	})
}

func isRemote(arg string) bool {
	u, err := url.Parse(arg)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "azblob":
		return true
	}
	return false
}

// parsePageRanges turns "1-3,7" into [1 2 3 7]. Pages are 1-based and the
// result is sorted without duplicates.
func parsePageRanges(spec string) ([]int, error) {
	seen := map[int]bool{}
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi := part, part
		if i := strings.Index(part, "-"); i >= 0 {
			lo, hi = strings.TrimSpace(part[:i]), strings.TrimSpace(part[i+1:])
		}
		start, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("bad page %q", lo)
		}
		end, err := strconv.Atoi(hi)
		if err != nil {
			return nil, fmt.Errorf("bad page %q", hi)
		}
		if start < 1 || end < start {
			return nil, fmt.Errorf("bad range %q", part)
		}
		for p := start; p <= end; p++ {
			seen[p] = true
		}
	}
	if len(seen) == 0 {
		return nil, errors.New("no pages selected")
	}
	pages := make([]int, 0, len(seen))
	for p := range seen {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages, nil
}
