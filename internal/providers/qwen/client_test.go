package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newQwenServer(t *testing.T, handle func(w http.ResponseWriter, payload generationRequest, baseURL string)) *httptest.Server {
	t.Helper()
	data := pngBytes(t, 8, 4)
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/services/aigc/multimodal-generation/generation":
			if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
				t.Errorf("unexpected auth header: %s", got)
			}
			var payload generationRequest
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Errorf("decode request: %v", err)
			}
			handle(w, payload, ts.URL)
		case "/out.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(data)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func imageResponse(url string) map[string]any {
	return map[string]any{
		"output": map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": []any{map[string]any{"image": url}},
					},
				},
			},
		},
		"request_id": "req-123",
	}
}

func TestGenerateImageDownloadsAsset(t *testing.T) {
	var captured generationRequest
	ts := newQwenServer(t, func(w http.ResponseWriter, payload generationRequest, baseURL string) {
		captured = payload
		_ = json.NewEncoder(w).Encode(imageResponse(baseURL + "/out.png"))
	})

	client := NewClient(Options{APIKey: "test-key", BaseURL: ts.URL, Watermark: true})
	asset, err := client.GenerateImage(context.Background(), ImageRequest{
		Prompt:         "  a cat  ",
		NegativePrompt: "bad quality",
		Seed:           7,
	})
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if asset.Format != "image/png" {
		t.Fatalf("format = %q", asset.Format)
	}
	if asset.Width != 8 || asset.Height != 4 {
		t.Fatalf("dimensions = %dx%d, want 8x4", asset.Width, asset.Height)
	}
	if len(asset.Data) == 0 {
		t.Fatal("expected downloaded data")
	}

	if captured.Model != "qwen-image-plus" {
		t.Fatalf("model = %q", captured.Model)
	}
	if text := captured.Input.Messages[0].Content[0].Text; text != "a cat" {
		t.Fatalf("prompt = %q", text)
	}
	if captured.Parameters.NegativePrompt != "bad quality" {
		t.Fatalf("negative prompt = %q", captured.Parameters.NegativePrompt)
	}
	if captured.Parameters.Size != "1328*1328" {
		t.Fatalf("size = %q", captured.Parameters.Size)
	}
	if captured.Parameters.Seed == nil || *captured.Parameters.Seed != 7 {
		t.Fatalf("seed = %v", captured.Parameters.Seed)
	}
	if captured.Parameters.Watermark == nil || !*captured.Parameters.Watermark {
		t.Fatal("watermark flag not forwarded")
	}
}

func TestGenerateImageMissingKey(t *testing.T) {
	client := NewClient(Options{})
	if _, err := client.GenerateImage(context.Background(), ImageRequest{Prompt: "cat"}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("error = %v, want ErrMissingAPIKey", err)
	}
}

func TestGenerateImageAPIError(t *testing.T) {
	ts := newQwenServer(t, func(w http.ResponseWriter, _ generationRequest, _ string) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "InternalError", "message": "busy"})
	})

	client := NewClient(Options{APIKey: "test-key", BaseURL: ts.URL})
	_, err := client.GenerateImage(context.Background(), ImageRequest{Prompt: "cat"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusServiceUnavailable || apiErr.Code != "InternalError" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestGenerateImageEmptyChoices(t *testing.T) {
	ts := newQwenServer(t, func(w http.ResponseWriter, _ generationRequest, _ string) {
		_ = json.NewEncoder(w).Encode(map[string]any{"output": map[string]any{"choices": []any{}}})
	})

	client := NewClient(Options{APIKey: "test-key", BaseURL: ts.URL})
	if _, err := client.GenerateImage(context.Background(), ImageRequest{Prompt: "cat"}); !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("error = %v, want ErrEmptyImage", err)
	}
}

func TestAPIErrorMessage(t *testing.T) {
	tests := []struct {
		err  APIError
		want string
	}{
		{APIError{StatusCode: http.StatusTooManyRequests}, "qwen: rate limited, try again later"},
		{APIError{StatusCode: http.StatusOK, Code: "Throttling.RateQuota", Message: "quota"}, "qwen: rate limited, try again later"},
		{APIError{StatusCode: http.StatusBadRequest, Code: "InvalidParameter", Message: "bad size"}, "qwen: bad size (InvalidParameter)"},
		{APIError{StatusCode: http.StatusUnauthorized}, "qwen: status 401"},
	}
	for _, tc := range tests {
		if got := tc.err.Error(); got != tc.want {
			t.Fatalf("Error(%+v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
