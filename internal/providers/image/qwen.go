package image

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"promptbot/internal/providers/qwen"
)

type qwenImageClient interface {
	GenerateImage(context.Context, qwen.ImageRequest) (*qwen.ImageAsset, error)
	HasCredentials() bool
	Model() string
}

// QwenGenerator calls DashScope's Qwen image model and falls back to another
// generator (usually the synthetic one) when credentials are missing. Remote
// failures are returned as-is; it never retries.
type QwenGenerator struct {
	client   qwenImageClient
	fallback Generator
}

// NewQwenGenerator wires a Qwen client with an optional fallback generator.
func NewQwenGenerator(client qwenImageClient, fallback Generator) *QwenGenerator {
	return &QwenGenerator{client: client, fallback: fallback}
}

// Generate fulfils the Generator interface with a single image.
func (g *QwenGenerator) Generate(ctx context.Context, req GenerateRequest) ([]Asset, error) {
	if g == nil || g.client == nil {
		return nil, errors.New("qwen generator not configured")
	}
	if !g.client.HasCredentials() {
		if g.fallback != nil {
			return g.fallback.Generate(ctx, req)
		}
		return nil, qwen.ErrMissingAPIKey
	}

	prompt := strings.TrimSpace(req.Prompt)
	negative := strings.TrimSpace(req.NegativePrompt)
	if negative == "" {
		negative = DefaultNegativePrompt
	}
	imageReq := qwen.ImageRequest{
		Prompt:         prompt,
		NegativePrompt: negative,
		Size:           AspectRatioSize(req.AspectRatio),
		Seed:           deterministicSeed(req.RequestID, prompt),
		RequestID:      req.RequestID,
	}

	asset, err := g.client.GenerateImage(ctx, imageReq)
	if err != nil {
		return nil, err
	}
	return []Asset{{
		URL:    asset.URL,
		Format: NormalizeFormat(asset.Format),
		Width:  asset.Width,
		Height: asset.Height,
		Data:   asset.Data,
	}}, nil
}

func (g *QwenGenerator) String() string {
	if g == nil || g.client == nil {
		return "qwen"
	}
	return g.client.Model()
}

var _ Generator = (*QwenGenerator)(nil)

func deterministicSeed(values ...any) int {
	if len(values) == 0 {
		return 0
	}
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, fmt.Sprint(v))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	n := binary.BigEndian.Uint32(sum[:4])
	value := int(n % 2147483647)
	if value <= 0 {
		fallback := binary.BigEndian.Uint32(sum[4:8]) % 2147483647
		if fallback == 0 {
			fallback = 1
		}
		value = int(fallback)
	}
	return value
}
