package messages

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"promptbot/internal/domain"
)

// Catalog renders the texts sent to users. Unknown locales fall back to
// English through language matching.
type Catalog struct {
	matcher language.Matcher
	tables  []table
}

type table struct {
	working       string
	alreadyActive string
	delivered     string
	failed        map[domain.FailureKind]string
	failedDefault string
}

var english = table{
	working:       "Generating image for: '%s'... Please wait",
	alreadyActive: "A previous request is still in progress (job %s). Please wait for it to finish.",
	delivered:     "Here is your image for: '%s'",
	failed: map[domain.FailureKind]string{
		domain.FailureTimeout:       "Error: image generation timed out",
		domain.FailureUpstream:      "Error: %s",
		domain.FailureInvalidResult: "Error: the image service returned an unusable image",
	},
	failedDefault: "Error: %s",
}

var indonesian = table{
	working:       "Membuat gambar untuk: '%s'... Mohon tunggu",
	alreadyActive: "Permintaan sebelumnya masih diproses (job %s). Mohon tunggu hingga selesai.",
	delivered:     "Ini gambar Anda untuk: '%s'",
	failed: map[domain.FailureKind]string{
		domain.FailureTimeout:       "Error: pembuatan gambar melebihi batas waktu",
		domain.FailureUpstream:      "Error: %s",
		domain.FailureInvalidResult: "Error: layanan gambar mengembalikan gambar yang tidak valid",
	},
	failedDefault: "Error: %s",
}

// NewCatalog returns the built-in English and Indonesian catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		matcher: language.NewMatcher([]language.Tag{language.English, language.Indonesian}),
		tables:  []table{english, indonesian},
	}
}

func (c *Catalog) lookup(locale string) table {
	if c == nil || len(c.tables) == 0 {
		return english
	}
	tags, _, err := language.ParseAcceptLanguage(strings.TrimSpace(locale))
	if err != nil || len(tags) == 0 {
		return c.tables[0]
	}
	_, idx, _ := c.matcher.Match(tags...)
	if idx < 0 || idx >= len(c.tables) {
		return c.tables[0]
	}
	return c.tables[idx]
}

// Working acknowledges an admitted prompt.
func (c *Catalog) Working(locale, prompt string) string {
	return fmt.Sprintf(c.lookup(locale).working, prompt)
}

// AlreadyActive tells the user their earlier job is still running.
func (c *Catalog) AlreadyActive(locale, jobID string) string {
	return fmt.Sprintf(c.lookup(locale).alreadyActive, jobID)
}

// Delivered captions a delivered image.
func (c *Catalog) Delivered(locale, prompt string) string {
	return fmt.Sprintf(c.lookup(locale).delivered, prompt)
}

// Failed renders a failure. The cause is only shown for upstream failures.
func (c *Catalog) Failed(locale string, kind domain.FailureKind, cause string) string {
	t := c.lookup(locale)
	format, ok := t.failed[kind]
	if !ok {
		format = t.failedDefault
	}
	if !strings.Contains(format, "%s") {
		return format
	}
	cause = strings.TrimSpace(cause)
	if cause == "" {
		cause = "generation failed"
	}
	return fmt.Sprintf(format, cause)
}
