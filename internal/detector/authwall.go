// Package detector decides when a fetched profile page is not publicly visible.
package detector

import (
	"bytes"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/headline-tracker/internal/extract"
	"github.com/JakeFAU/headline-tracker/internal/tracker"
)

// DefaultMarkers are body fragments seen on sign-in interstitials. Public pages
// can carry them too (sign-in links, upsell banners), so they only count when no
// headline can be extracted.
var DefaultMarkers = []string{
	"authwall",
	"sign in to view",
	"join now to see",
	"please log in",
	"session_redirect",
}

var blockedStatuses = map[int]struct{}{
	401: {},
	403: {},
	999: {},
}

var loginPaths = []string{
	"/authwall",
	"/login",
	"/checkpoint",
	"/uas/login",
	"/signup",
}

// AuthWall implements rule-based not-public detection.
type AuthWall struct {
	markers [][]byte
}

// NewAuthWall creates a detector. Empty markers fall back to DefaultMarkers.
func NewAuthWall(markers []string) *AuthWall {
	if len(markers) == 0 {
		markers = DefaultMarkers
	}
	d := &AuthWall{}
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" {
			continue
		}
		d.markers = append(d.markers, []byte(m))
	}
	return d
}

// Check returns the matched rule and true when the page is behind a login wall.
// A blocked status or a login redirect is decisive. Body markers only apply to
// pages that yield no headline.
func (d *AuthWall) Check(page tracker.Page) (string, bool) {
	if _, ok := blockedStatuses[page.StatusCode]; ok {
		return "status:" + strconv.Itoa(page.StatusCode), true
	}
	if reason, ok := loginRedirect(page.FinalURL); ok {
		return reason, true
	}
	if len(page.Body) == 0 || extract.Extract(page.Body).IsFound() {
		return "", false
	}
	lower := bytes.ToLower(page.Body)
	for _, marker := range d.markers {
		if bytes.Contains(lower, marker) {
			return "marker:" + string(marker), true
		}
	}
	return "", false
}

func loginRedirect(finalURL string) (string, bool) {
	if finalURL == "" {
		return "", false
	}
	u, err := url.Parse(finalURL)
	if err != nil {
		return "", false
	}
	path := strings.ToLower(u.Path)
	for _, p := range loginPaths {
		if strings.Contains(path, p) {
			return "redirect:" + p, true
		}
	}
	return "", false
}
