package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// BodyExtractor turns message parts into the plain text body sent to the classifier
type BodyExtractor struct {
	spaceRegex     *regexp.Regexp
	blankRunRegex  *regexp.Regexp
	invisibleRegex *regexp.Regexp
}

// NewBodyExtractor creates a new body extractor
func NewBodyExtractor() *BodyExtractor {
	return &BodyExtractor{
		spaceRegex:    regexp.MustCompile(`[^\S\n]+`),
		blankRunRegex: regexp.MustCompile(`\n{3,}`),
		// Zero-width and other invisible characters used by mailers for tracking
		invisibleRegex: regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}\x{034F}\x{061C}\x{180E}\x{2060}-\x{2064}]+`),
	}
}

// PlainText picks the text/plain part, falling back to the HTML part converted to text
func (e *BodyExtractor) PlainText(text, html string) string {
	if strings.TrimSpace(text) != "" {
		return text
	}
	if html == "" {
		return ""
	}
	converted, err := e.HTMLToText(html)
	if err != nil {
		return ""
	}
	return converted
}

// HTMLToText converts HTML to clean plain text
func (e *BodyExtractor) HTMLToText(html string) (string, error) {
	if html == "" {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, head, meta, link").Remove()

	// Keep block structure as line breaks
	doc.Find("p, div, br, h1, h2, h3, h4, h5, h6, li, tr").Each(func(i int, s *goquery.Selection) {
		s.PrependHtml("\n")
	})

	text := e.invisibleRegex.ReplaceAllString(doc.Text(), "")
	text = e.spaceRegex.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	text = strings.Join(kept, "\n")
	text = e.blankRunRegex.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text), nil
}
