package tracker

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/headline-tracker/internal/extract"
)

// ReasonNoHeadline is reported when a page parses but carries neither title nor company.
const ReasonNoHeadline = "profile not public / no headline"

// Decision is the outcome of comparing an observation with the last-known headline.
type Decision struct {
	ChangeType ChangeType
	Changed    bool
	Last       Snapshot
	// Next is the headline the profile holds after the observation; it is also
	// what gets recorded as observed.
	Next   Snapshot
	Reason string
}

// Diff compares the extraction result with the last-known headline. Blank
// observed fields keep the last-known value and never count as a change.
func Diff(last Snapshot, obs extract.Result) Decision {
	if !obs.IsFound() {
		return Decision{ChangeType: ChangeUnavailable, Last: last, Next: last, Reason: obs.Reason}
	}
	observed := Snapshot{
		Title:   extract.CleanText(obs.Headline.Title),
		Company: extract.CleanText(obs.Headline.Company),
	}
	if observed.IsEmpty() {
		return Decision{ChangeType: ChangeUnavailable, Last: last, Next: last, Reason: ReasonNoHeadline}
	}
	if last.IsEmpty() {
		return Decision{ChangeType: ChangeInit, Changed: true, Last: last, Next: observed}
	}

	titleChanged := observed.Title != "" && observed.Title != last.Title
	companyChanged := observed.Company != "" && observed.Company != last.Company
	next := last
	if titleChanged {
		next.Title = observed.Title
	}
	if companyChanged {
		next.Company = observed.Company
	}

	d := Decision{Changed: titleChanged || companyChanged, Last: last, Next: next}
	switch {
	case titleChanged && companyChanged:
		d.ChangeType = ChangeTitleAndCompany
	case titleChanged:
		d.ChangeType = ChangeTitle
	case companyChanged:
		d.ChangeType = ChangeCompany
	default:
		d.ChangeType = ChangeNone
	}
	return d
}

// Message renders the per-profile line printed by the CLI and the web UI.
func (d Decision) Message(name, firm string) string {
	switch d.ChangeType {
	case ChangeInit:
		return fmt.Sprintf("[INIT] %s: title='%s' company='%s'", name, dash(d.Next.Title), dash(d.Next.Company))
	case ChangeNone:
		return "[NO CHANGE] " + name
	case ChangeTitle, ChangeCompany, ChangeTitleAndCompany:
		lines := []string{fmt.Sprintf("[CHANGE] %s:", name)}
		if d.ChangeType != ChangeCompany {
			lines = append(lines, fmt.Sprintf("  Title:    '%s' → '%s'", dash(d.Last.Title), dash(d.Next.Title)))
		}
		if d.ChangeType != ChangeTitle {
			lines = append(lines, fmt.Sprintf("  Company:  '%s' → '%s'", dash(d.Last.Company), dash(d.Next.Company)))
		}
		return strings.Join(lines, "\n")
	default:
		return SkipMessage(name, firm, d.Reason)
	}
}

// SkipMessage renders the line for a profile that could not be checked.
func SkipMessage(name, firm, reason string) string {
	return fmt.Sprintf("[SKIP] %s (%s) → %s", name, dash(firm), reason)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
