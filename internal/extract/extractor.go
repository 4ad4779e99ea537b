// Package extract parses certificate verification pages into structured
// fields using goquery.
package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/certpull/certpull/internal/scrape"
)

// courseTitleSelector matches the inline-styled heading the verification
// portal renders for the course name. Its presence is the marker that a page
// carries certificate data at all.
const courseTitleSelector = `h1[style='color: #002347;font-size: 25px;']`

// CertificateExtractor pulls certificate fields out of verification pages.
// It is stateless and safe for concurrent use.
type CertificateExtractor struct{}

// NewCertificateExtractor creates a new extractor.
func NewCertificateExtractor() *CertificateExtractor {
	return &CertificateExtractor{}
}

// Extract implements scrape.Extractor. The second return is false when the
// page carries no certificate markup. Pages with the course heading but
// missing detail tags still extract; the absent fields stay empty.
func (e *CertificateExtractor) Extract(raw []byte) (scrape.Fields, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return scrape.Fields{}, false
	}

	title := doc.Find(courseTitleSelector).First()
	if title.Length() == 0 {
		return scrape.Fields{}, false
	}

	fields := scrape.Fields{CourseName: cleanText(title.Text())}

	// Detail values appear as the first three <strong> tags in document
	// order: student name, completion date, duration.
	details := doc.Find("strong").Map(func(_ int, sel *goquery.Selection) string {
		return cleanText(sel.Text())
	})
	if len(details) > 0 {
		fields.StudentName = details[0]
	}
	if len(details) > 1 {
		fields.CompletionDate = details[1]
	}
	if len(details) > 2 {
		fields.Duration = details[2]
	}
	return fields, true
}

// HasContent reports whether the page renders any heading at all. The range
// prober uses it to tell live pages apart from empty placeholders that still
// answer 200.
func HasContent(raw []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return false
	}
	return doc.Find("h1, h2, h3").Length() > 0
}

// cleanText collapses runs of whitespace, including newlines from nested
// markup, into single spaces.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
