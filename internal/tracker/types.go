// Package tracker defines the headline tracking domain: profiles, the
// append-only observation history, change detection and the run orchestrator.
package tracker

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/headline-tracker/internal/extract"
)

// ChangeType classifies a single observation relative to the last-known headline.
type ChangeType string

// Change types persisted with every history entry.
const (
	ChangeInit            ChangeType = "INIT"
	ChangeNone            ChangeType = "NO_CHANGE"
	ChangeTitle           ChangeType = "TITLE_CHANGE"
	ChangeCompany         ChangeType = "COMPANY_CHANGE"
	ChangeTitleAndCompany ChangeType = "TITLE_AND_COMPANY_CHANGE"
	ChangeUnavailable     ChangeType = "UNAVAILABLE"
	ChangeFetchError      ChangeType = "FETCH_ERROR"
)

var knownChangeTypes = map[ChangeType]struct{}{
	ChangeInit:            {},
	ChangeNone:            {},
	ChangeTitle:           {},
	ChangeCompany:         {},
	ChangeTitleAndCompany: {},
	ChangeUnavailable:     {},
	ChangeFetchError:      {},
}

// IsChange reports whether the change type represents a headline change.
func (c ChangeType) IsChange() bool {
	switch c {
	case ChangeInit, ChangeTitle, ChangeCompany, ChangeTitleAndCompany:
		return true
	default:
		return false
	}
}

// ParseChangeType validates a persisted change type string.
func ParseChangeType(raw string) (ChangeType, error) {
	ct := ChangeType(strings.TrimSpace(raw))
	if _, ok := knownChangeTypes[ct]; !ok {
		return "", fmt.Errorf("unknown change type %q", raw)
	}
	return ct, nil
}

// Profile is a tracked public profile page and its last-known headline.
type Profile struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	URL           string     `json:"url"`
	Firm          string     `json:"firm,omitempty"`
	LastTitle     string     `json:"last_title"`
	LastCompany   string     `json:"last_company"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Snapshot returns the last-known headline of the profile.
func (p Profile) Snapshot() Snapshot {
	return Snapshot{Title: p.LastTitle, Company: p.LastCompany}
}

// NewProfile carries the user supplied fields of a profile being added.
type NewProfile struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Firm string `json:"firm"`
}

// Normalize trims the fields and validates them.
func (n NewProfile) Normalize() (NewProfile, error) {
	out := NewProfile{
		Name: extract.CleanText(n.Name),
		URL:  strings.TrimSpace(n.URL),
		Firm: NormalizeFirm(n.Firm),
	}
	if out.Name == "" {
		return NewProfile{}, ErrInvalidName
	}
	if !ValidURL(out.URL) {
		return NewProfile{}, fmt.Errorf("%w: %q", ErrInvalidURL, n.URL)
	}
	return out, nil
}

// NormalizeFirm collapses whitespace in a firm label so that every write path
// stores the same value for the exact-match firm filter.
func NormalizeFirm(firm string) string {
	return extract.CleanText(firm)
}

// ValidURL reports whether raw looks like a fetchable profile URL.
func ValidURL(raw string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw)), "http")
}

// ProfileUpdate is applied to a profile together with its history entry.
type ProfileUpdate struct {
	LastTitle   string
	LastCompany string
	CheckedAt   time.Time
}

// HistoryEntry is one immutable observation of a profile.
type HistoryEntry struct {
	ID              int64      `json:"id"`
	RunID           string     `json:"run_id"`
	ProfileID       int64      `json:"profile_id"`
	ObservedAt      time.Time  `json:"observed_at"`
	OldTitle        string     `json:"old_title"`
	OldCompany      string     `json:"old_company"`
	ObservedTitle   string     `json:"observed_title"`
	ObservedCompany string     `json:"observed_company"`
	ChangeType      ChangeType `json:"change_type"`
	Changed         bool       `json:"changed"`
	Detail          string     `json:"detail,omitempty"`
}

// Snapshot is a (title, company) pair.
type Snapshot struct {
	Title   string `json:"title"`
	Company string `json:"company"`
}

// IsEmpty reports whether neither title nor company is known.
func (s Snapshot) IsEmpty() bool {
	return s.Title == "" && s.Company == ""
}

// Display renders the pair the way the profile table shows it.
func (s Snapshot) Display() string {
	switch {
	case s.Title != "" && s.Company != "":
		return s.Title + " @ " + s.Company
	case s.Title != "":
		return s.Title
	default:
		return s.Company
	}
}

// Page is the raw result of fetching a profile URL.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Outcome buckets a processed profile for the run summary.
type Outcome string

// Outcome values, one per summary counter.
const (
	OutcomeChanged   Outcome = "changed"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeError     Outcome = "error"
)

// ProfileResult reports what happened to a single profile during a run.
type ProfileResult struct {
	ProfileID  int64      `json:"profile_id"`
	Name       string     `json:"name"`
	Firm       string     `json:"firm,omitempty"`
	Outcome    Outcome    `json:"outcome"`
	ChangeType ChangeType `json:"change_type"`
	Message    string     `json:"message"`
}

// RunOptions parameterizes a tracker run.
type RunOptions struct {
	Firm  string
	Delay time.Duration
}

// RunSummary aggregates the results of one run.
type RunSummary struct {
	RunID      string          `json:"run_id"`
	FirmFilter string          `json:"firm_filter,omitempty"`
	Delay      time.Duration   `json:"delay_ns"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Checked    int             `json:"checked"`
	Changed    int             `json:"changed"`
	Unchanged  int             `json:"unchanged"`
	Skipped    int             `json:"skipped"`
	Errors     int             `json:"errors"`
	Results    []ProfileResult `json:"results"`
}

// Line renders the one-line summary printed after a run.
func (s RunSummary) Line() string {
	return fmt.Sprintf("Checked %d people. %d changed. %d unchanged. %d skipped. %d errors.",
		s.Checked, s.Changed, s.Unchanged, s.Skipped, s.Errors)
}

func (s *RunSummary) add(result ProfileResult) {
	s.Checked++
	switch result.Outcome {
	case OutcomeChanged:
		s.Changed++
	case OutcomeUnchanged:
		s.Unchanged++
	case OutcomeSkipped:
		s.Skipped++
	default:
		s.Errors++
	}
	s.Results = append(s.Results, result)
}
