package image

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"image/color"
	"strings"
	"time"

	"github.com/disintegration/imaging"
)

// SyntheticGenerator renders a deterministic placeholder image from the
// prompt. It needs no credentials and is used for local runs and as the
// fallback of remote providers.
type SyntheticGenerator struct {
	// Size is the length of the longer edge in pixels.
	Size int
	// Delay simulates provider latency; it is cut short by ctx.
	Delay time.Duration
}

// NewSyntheticGenerator returns a generator producing 512px images.
func NewSyntheticGenerator() *SyntheticGenerator {
	return &SyntheticGenerator{Size: 512}
}

func (g *SyntheticGenerator) Generate(ctx context.Context, req GenerateRequest) ([]Asset, error) {
	if g.Delay > 0 {
		timer := time.NewTimer(g.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("synthetic: prompt is required")
	}

	width, height := syntheticDimensions(g.Size, req.AspectRatio)
	sum := sha256.Sum256([]byte(prompt))
	background := color.NRGBA{R: sum[0], G: sum[1], B: sum[2], A: 255}
	accent := color.NRGBA{R: sum[3], G: sum[4], B: sum[5], A: 255}

	canvas := imaging.New(width, height, background)
	inset := imaging.New(width/2, height/2, accent)
	canvas = imaging.PasteCenter(canvas, inset)
	canvas = imaging.Blur(canvas, 6)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.PNG); err != nil {
		return nil, fmt.Errorf("synthetic: encode png: %w", err)
	}
	return []Asset{{
		URL:    "synthetic://" + fmt.Sprintf("%x", sum[:8]),
		Format: "image/png",
		Width:  width,
		Height: height,
		Data:   buf.Bytes(),
	}}, nil
}

func (g *SyntheticGenerator) String() string { return "synthetic" }

var _ Generator = (*SyntheticGenerator)(nil)

func syntheticDimensions(size int, ratio string) (int, int) {
	if size <= 0 {
		size = 512
	}
	switch strings.TrimSpace(ratio) {
	case "16:9":
		return size, size * 9 / 16
	case "9:16":
		return size * 9 / 16, size
	case "4:3":
		return size, size * 3 / 4
	case "3:4":
		return size * 3 / 4, size
	default:
		return size, size
	}
}
