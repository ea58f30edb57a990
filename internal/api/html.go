package api

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/headline-tracker/internal/export"
	"github.com/JakeFAU/headline-tracker/internal/tracker"
)

//go:embed templates/*.html
var templateFS embed.FS

const displayTimeLayout = "2006-01-02 15:04:05 UTC"

func parseTemplates() *template.Template {
	return template.Must(template.New("pages").ParseFS(templateFS, "templates/*.html"))
}

// page is the data shared by every HTML template.
type page struct {
	Title       string
	Error       string
	Notice      string
	AuthEnabled bool
}

func (s *Server) newPage(title, errMsg string) page {
	return page{Title: title, Error: errMsg, AuthEnabled: s.cfg.Auth.Enabled}
}

type homePage struct {
	page
	ProfileCount int
	Firms        []string
}

type profileRow struct {
	Profile      tracker.Profile
	Headline     string
	LastChecked  string
	RecentChange *tracker.HistoryEntry
}

type profilesPage struct {
	page
	Firm string
	Rows []profileRow
	Form tracker.NewProfile
}

// FormatTime renders timestamps the way the tables show them.
func (profilesPage) FormatTime(t time.Time) string {
	return formatDisplayTime(t)
}

type runPage struct {
	page
	Firms        []string
	Firm         string
	DelaySeconds string
	Summary      *tracker.RunSummary
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.Error("render template failed", zap.String("template", name), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Warn("write html failed", zap.Error(err))
	}
}

func (s *Server) home(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.store.ListProfiles(r.Context(), "")
	if err != nil {
		s.logger.Error("list profiles failed", zap.Error(err))
		s.render(w, http.StatusInternalServerError, "home", homePage{page: s.newPage("Headline Tracker", "Could not load profiles.")})
		return
	}
	s.render(w, http.StatusOK, "home", homePage{
		page:         s.newPage("Headline Tracker", ""),
		ProfileCount: len(profiles),
		Firms:        firmsOf(profiles),
	})
}

func (s *Server) listProfilesPage(w http.ResponseWriter, r *http.Request) {
	data := profilesPage{page: s.newPage("Profiles", ""), Firm: strings.TrimSpace(r.URL.Query().Get("firm"))}
	s.renderProfiles(w, r, http.StatusOK, data)
}

func (s *Server) renderProfiles(w http.ResponseWriter, r *http.Request, status int, data profilesPage) {
	profiles, err := s.store.ListProfiles(r.Context(), data.Firm)
	if err != nil {
		s.logger.Error("list profiles failed", zap.Error(err))
		data.Error = "Could not load profiles."
		s.render(w, http.StatusInternalServerError, "profiles", data)
		return
	}
	data.Rows = make([]profileRow, 0, len(profiles))
	for _, p := range profiles {
		row := profileRow{Profile: p, Headline: p.Snapshot().Display()}
		if p.LastCheckedAt != nil {
			row.LastChecked = formatDisplayTime(*p.LastCheckedAt)
		}
		change, found, err := s.store.LatestTitleChange(r.Context(), p.ID)
		if err != nil {
			s.logger.Warn("latest title change failed", zap.Int64("profile_id", p.ID), zap.Error(err))
		} else if found {
			row.RecentChange = &change
		}
		data.Rows = append(data.Rows, row)
	}
	s.render(w, status, "profiles", data)
}

func (s *Server) addProfile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderProfiles(w, r, http.StatusBadRequest, profilesPage{page: s.newPage("Profiles", "Invalid form.")})
		return
	}
	in := tracker.NewProfile{
		Name: r.PostForm.Get("name"),
		URL:  r.PostForm.Get("url"),
		Firm: r.PostForm.Get("firm"),
	}
	p, err := s.store.AddProfile(r.Context(), in)
	if err != nil {
		status := statusFor(err)
		msg := "Could not add profile."
		switch {
		case errors.Is(err, tracker.ErrInvalidName):
			msg = "Name is required."
		case errors.Is(err, tracker.ErrInvalidURL):
			msg = "URL must start with http."
		default:
			s.logger.Error("add profile failed", zap.Error(err))
		}
		s.renderProfiles(w, r, status, profilesPage{page: s.newPage("Profiles", msg), Form: in})
		return
	}
	s.logger.Info("profile added", zap.Int64("profile_id", p.ID), zap.String("firm", p.Firm))
	http.Redirect(w, r, "/profiles", http.StatusSeeOther)
}

func (s *Server) setFirm(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid profile id", http.StatusBadRequest)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	firm := r.PostForm.Get("firm")
	if r.PostForm.Get("clear") != "" {
		firm = ""
	}
	if err := s.store.SetFirm(r.Context(), id, firm); err != nil {
		if status := statusFor(err); status != http.StatusInternalServerError {
			http.Error(w, err.Error(), status)
			return
		}
		s.logger.Error("set firm failed", zap.Int64("profile_id", id), zap.Error(err))
		http.Error(w, "could not update firm", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/profiles", http.StatusSeeOther)
}

func (s *Server) runForm(w http.ResponseWriter, r *http.Request) {
	s.renderRun(w, r, http.StatusOK, runPage{page: s.newPage("Run", "")})
}

func (s *Server) renderRun(w http.ResponseWriter, r *http.Request, status int, data runPage) {
	profiles, err := s.store.ListProfiles(r.Context(), "")
	if err != nil {
		s.logger.Warn("list firms failed", zap.Error(err))
	}
	data.Firms = firmsOf(profiles)
	if data.DelaySeconds == "" {
		data.DelaySeconds = formatSeconds(s.DefaultDelay())
	}
	s.render(w, status, "run", data)
}

func (s *Server) runSubmit(w http.ResponseWriter, r *http.Request) {
	data := runPage{page: s.newPage("Run", "")}
	if err := r.ParseForm(); err != nil {
		data.Error = "Invalid form."
		s.renderRun(w, r, http.StatusBadRequest, data)
		return
	}
	data.Firm = strings.TrimSpace(r.PostForm.Get("firm"))
	rawDelay := strings.TrimSpace(r.PostForm.Get("delay_seconds"))
	delay, err := parseDelay(rawDelay, s.DefaultDelay())
	if err != nil {
		data.Error = err.Error()
		data.DelaySeconds = rawDelay
		s.renderRun(w, r, http.StatusBadRequest, data)
		return
	}
	s.setDefaultDelay(delay)

	summary, err := s.runner.Run(r.Context(), tracker.RunOptions{Firm: data.Firm, Delay: delay})
	if err != nil {
		status := statusFor(err)
		if errors.Is(err, tracker.ErrRunInProgress) {
			data.Error = "A run is already in progress. Try again when it finishes."
		} else {
			s.logger.Error("run failed", zap.Error(err))
			data.Error = "Run failed: " + err.Error()
		}
		if summary.RunID != "" {
			data.Summary = &summary
		}
		s.renderRun(w, r, status, data)
		return
	}
	data.Summary = &summary
	data.Notice = summary.Line()
	s.renderRun(w, r, http.StatusOK, data)
}

func (s *Server) historyCSV(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.AllHistory(r.Context())
	if err != nil {
		s.logger.Error("load history failed", zap.Error(err))
		http.Error(w, "could not load history", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := export.WriteHistoryCSV(&buf, entries); err != nil {
		s.logger.Error("write history csv failed", zap.Error(err))
		http.Error(w, "could not export history", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="headline_history.csv"`)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Warn("write csv failed", zap.Error(err))
	}
}

// parseDelay reads a delay in seconds, falling back to def when blank.
func parseDelay(raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("delay must be a number of seconds: %q", raw)
	}
	return tracker.DelayFromSeconds(seconds)
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

func formatDisplayTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(displayTimeLayout)
}

func firmsOf(profiles []tracker.Profile) []string {
	seen := make(map[string]struct{})
	firms := make([]string, 0)
	for _, p := range profiles {
		if p.Firm == "" {
			continue
		}
		if _, ok := seen[p.Firm]; ok {
			continue
		}
		seen[p.Firm] = struct{}{}
		firms = append(firms, p.Firm)
	}
	sort.Strings(firms)
	return firms
}
