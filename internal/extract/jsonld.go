package extract

import (
	"encoding/json"

	"github.com/PuerkitoBio/goquery"
)

// jsonLDPerson scans ld+json blocks for a schema.org Person and stops at the
// first block that yields a title or company. Blocks that fail to decode are
// skipped.
func jsonLDPerson(doc *goquery.Document) Headline {
	var h Headline
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var data any
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return true
		}
		for _, obj := range ldCandidates(data) {
			if !isPerson(obj["@type"]) {
				continue
			}
			if name, ok := obj["name"].(string); ok && h.Name == "" {
				h.Name = CleanText(name)
			}
			if h.Title == "" {
				h.Title = CleanText(firstString(obj["jobTitle"]))
			}
			if h.Company == "" {
				h.Company = CleanText(organizationName(obj["worksFor"]))
			}
		}
		return !h.hasRole()
	})
	return h
}

// ldCandidates flattens a decoded block into its top level objects, including
// the members of an @graph container.
func ldCandidates(data any) []map[string]any {
	var out []map[string]any
	switch v := data.(type) {
	case []any:
		for _, item := range v {
			out = append(out, ldCandidates(item)...)
		}
	case map[string]any:
		out = append(out, v)
		if graph, ok := v["@graph"]; ok {
			out = append(out, ldCandidates(graph)...)
		}
	}
	return out
}

func isPerson(t any) bool {
	switch v := t.(type) {
	case string:
		return v == "Person"
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == "Person" {
				return true
			}
		}
	}
	return false
}

func firstString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && CleanText(s) != "" {
				return s
			}
		}
	}
	return ""
}

func organizationName(v any) string {
	switch t := v.(type) {
	case map[string]any:
		name, _ := t["name"].(string)
		return name
	case []any:
		for _, item := range t {
			if name := organizationName(item); CleanText(name) != "" {
				return name
			}
		}
	}
	return ""
}
