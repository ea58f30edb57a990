// Package extract pulls a person's public headline (name, title, company) out of
// a profile page using a fixed cascade of metadata sources.
package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Kind tags an extraction result.
type Kind string

// Result kinds.
const (
	KindFound       Kind = "found"
	KindUnavailable Kind = "unavailable"
)

// Reasons reported with unavailable results.
const (
	ReasonNoHeadline    = "no_public_headline"
	ReasonUnparseable   = "unparseable_html"
	ReasonEmptyDocument = "empty_document"
)

// Headline is the parsed public headline of a profile.
type Headline struct {
	Name    string `json:"name,omitempty"`
	Title   string `json:"title,omitempty"`
	Company string `json:"company,omitempty"`
}

func (h Headline) empty() bool {
	return h.Name == "" && h.Title == "" && h.Company == ""
}

func (h Headline) hasRole() bool {
	return h.Title != "" || h.Company != ""
}

// fill copies fields from other that are still blank on h.
func (h *Headline) fill(other Headline) {
	if h.Name == "" {
		h.Name = other.Name
	}
	if h.Title == "" {
		h.Title = other.Title
	}
	if h.Company == "" {
		h.Company = other.Company
	}
}

// Result is either a found headline or an unavailable marker with a reason.
type Result struct {
	Kind     Kind     `json:"kind"`
	Headline Headline `json:"headline"`
	Reason   string   `json:"reason,omitempty"`
}

// Found wraps a headline.
func Found(h Headline) Result {
	return Result{Kind: KindFound, Headline: h}
}

// Unavailable returns a result carrying only the reason.
func Unavailable(reason string) Result {
	return Result{Kind: KindUnavailable, Reason: reason}
}

// IsFound reports whether a headline was extracted.
func (r Result) IsFound() bool {
	return r.Kind == KindFound
}

// Extract runs the metadata cascade over an HTML document. It never fails:
// malformed or empty markup yields an unavailable result.
func Extract(body []byte) Result {
	if len(bytes.TrimSpace(body)) == 0 {
		return Unavailable(ReasonEmptyDocument)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Unavailable(ReasonUnparseable)
	}

	var h Headline
	if content, ok := metaContent(doc, `meta[property="og:title"]`); ok {
		h = SplitHeadline(content)
	}

	if h.Title == "" {
		if content, ok := metaContent(doc, `meta[name="twitter:title"]`, `meta[property="twitter:title"]`); ok {
			h.fill(SplitHeadline(content))
		}
	}

	if !h.hasRole() {
		content, ok := metaContent(doc, `meta[property="og:description"]`, `meta[name="description"]`)
		if ok && strings.Contains(content, " - ") {
			h.fill(SplitHeadline(content))
		}
	}

	if !h.hasRole() {
		if content, ok := metaContent(doc, `meta[name="twitter:description"]`, `meta[property="twitter:description"]`); ok {
			h.fill(SplitHeadline(content))
		}
	}

	if !h.hasRole() {
		h.fill(jsonLDPerson(doc))
	}

	if !h.hasRole() {
		if title := doc.Find("title").First().Text(); CleanText(title) != "" {
			h.fill(SplitHeadline(title))
		}
	}

	if h.empty() {
		return Unavailable(ReasonNoHeadline)
	}
	return Found(h)
}

// metaContent returns the content attribute of the first selector that matches
// a tag with non-blank content.
func metaContent(doc *goquery.Document, selectors ...string) (string, bool) {
	for _, sel := range selectors {
		content, ok := doc.Find(sel).First().Attr("content")
		if ok && CleanText(content) != "" {
			return content, true
		}
	}
	return "", false
}

var headlineSuffixes = []string{
	"| Professional Profile | LinkedIn",
	"| LinkedIn Profile",
	"| LinkedIn",
}

// SplitHeadline splits "Name - Title - Company" style text. A two part
// headline whose second part reads "Title at Company" is split on " at ".
func SplitHeadline(text string) Headline {
	t := CleanText(text)
	for trimmed := true; trimmed; {
		trimmed = false
		for _, suffix := range headlineSuffixes {
			if strings.HasSuffix(t, suffix) {
				t = strings.TrimSpace(strings.TrimSuffix(t, suffix))
				trimmed = true
			}
		}
	}

	parts := splitNonEmpty(t, " - ")
	if len(parts) <= 1 && strings.Contains(t, "|") {
		parts = splitNonEmpty(t, "|")
	}

	var h Headline
	switch {
	case len(parts) == 0:
	case len(parts) == 1:
		h.Name = parts[0]
	case len(parts) == 2:
		h.Name = parts[0]
		if before, after, ok := strings.Cut(parts[1], " at "); ok {
			h.Title = strings.TrimSpace(before)
			h.Company = strings.TrimSpace(after)
		} else {
			h.Title = parts[1]
		}
	default:
		h.Name = parts[0]
		h.Title = strings.Join(parts[1:len(parts)-1], " - ")
		h.Company = parts[len(parts)-1]
	}
	return h
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CleanText replaces non-breaking spaces, collapses whitespace runs and trims.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}
