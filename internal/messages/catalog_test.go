package messages

import (
	"strings"
	"testing"

	"promptbot/internal/domain"
)

func TestWorkingMatchesLocale(t *testing.T) {
	c := NewCatalog()
	tests := []struct {
		locale string
		want   string
	}{
		{"", "Generating image for: 'cat'... Please wait"},
		{"en-US", "Generating image for: 'cat'... Please wait"},
		{"id", "Membuat gambar untuk: 'cat'... Mohon tunggu"},
		{"id-ID,en;q=0.5", "Membuat gambar untuk: 'cat'... Mohon tunggu"},
		{"fr", "Generating image for: 'cat'... Please wait"},
		{"not a locale!!", "Generating image for: 'cat'... Please wait"},
	}
	for _, tc := range tests {
		if got := c.Working(tc.locale, "cat"); got != tc.want {
			t.Fatalf("Working(%q) = %q, want %q", tc.locale, got, tc.want)
		}
	}
}

func TestAlreadyActiveIncludesJobID(t *testing.T) {
	got := NewCatalog().AlreadyActive("en", "job-42")
	if !strings.Contains(got, "job-42") {
		t.Fatalf("AlreadyActive = %q, want job id", got)
	}
}

func TestFailedByKind(t *testing.T) {
	c := NewCatalog()
	if got := c.Failed("en", domain.FailureUpstream, "quota exceeded"); got != "Error: quota exceeded" {
		t.Fatalf("upstream = %q", got)
	}
	if got := c.Failed("en", domain.FailureUpstream, ""); got != "Error: generation failed" {
		t.Fatalf("upstream without cause = %q", got)
	}
	if got := c.Failed("en", domain.FailureTimeout, "context deadline exceeded"); got != "Error: image generation timed out" {
		t.Fatalf("timeout = %q", got)
	}
	if got := c.Failed("en", domain.FailureKind("other"), "boom"); got != "Error: boom" {
		t.Fatalf("unknown kind = %q", got)
	}
	if got := c.Failed("id", domain.FailureInvalidResult, ""); !strings.HasPrefix(got, "Error: layanan") {
		t.Fatalf("indonesian invalid result = %q", got)
	}
}

func TestNilCatalogFallsBackToEnglish(t *testing.T) {
	var c *Catalog
	if got := c.Delivered("id", "cat"); got != "Here is your image for: 'cat'" {
		t.Fatalf("Delivered = %q", got)
	}
}
