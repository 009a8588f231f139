package image

import (
	"context"
	"strings"
)

// DefaultNegativePrompt steers models away from low-effort output.
const DefaultNegativePrompt = "bad quality"

// GenerateRequest describes a normalized request passed to any image provider.
type GenerateRequest struct {
	Prompt         string
	NegativePrompt string
	AspectRatio    string
	Provider       string
	RequestID      string
}

// Asset represents one generated image. Providers fill Data when they hold
// the bytes; URL is kept as provenance.
type Asset struct {
	URL    string
	Format string
	Width  int
	Height int
	Data   []byte
}

// Generator is the contract implemented by all image providers. Generate may
// block for a long time; callers bound it through ctx.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) ([]Asset, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req GenerateRequest) ([]Asset, error)

func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) ([]Asset, error) {
	return f(ctx, req)
}

// AspectRatioSize maps an aspect ratio to a DashScope size string.
func AspectRatioSize(ratio string) string {
	switch strings.TrimSpace(ratio) {
	case "16:9":
		return "1664*928"
	case "9:16":
		return "928*1664"
	case "4:3":
		return "1472*1104"
	case "3:4":
		return "1140*1472"
	default:
		return "1328*1328"
	}
}

// NormalizeFormat canonicalizes an image MIME type, defaulting to PNG.
func NormalizeFormat(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	switch mime {
	case "image/jpeg", "image/jpg":
		return "image/jpeg"
	case "":
		return "image/png"
	default:
		if strings.HasPrefix(mime, "image/") {
			return mime
		}
		return "image/png"
	}
}
