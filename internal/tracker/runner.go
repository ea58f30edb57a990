package tracker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/headline-tracker/internal/extract"
	"github.com/JakeFAU/headline-tracker/internal/metrics"
)

var tracer = otel.Tracer("github.com/JakeFAU/headline-tracker/internal/tracker")

// Config controls the optional side effects of a run.
type Config struct {
	ArchiveEnabled bool
	ArchivePrefix  string
	ContentType    string
	Topic          string
}

// Deps bundles the collaborators of a Runner. Blobs, Publisher and Hasher are
// optional; Pauser defaults to TimerPauser.
type Deps struct {
	Store     Store
	Fetcher   Fetcher
	Blobs     BlobStore
	Publisher Publisher
	Hasher    Hasher
	Clock     Clock
	IDs       IDGenerator
	Pauser    Pauser
}

// HeadlineChanged is published for every observation that changed a headline.
type HeadlineChanged struct {
	RunID      string     `json:"run_id"`
	ProfileID  int64      `json:"profile_id"`
	Name       string     `json:"name"`
	Firm       string     `json:"firm,omitempty"`
	URL        string     `json:"url"`
	ChangeType ChangeType `json:"change_type"`
	OldTitle   string     `json:"old_title"`
	OldCompany string     `json:"old_company"`
	NewTitle   string     `json:"new_title"`
	NewCompany string     `json:"new_company"`
	ObservedAt time.Time  `json:"observed_at"`
}

// Runner executes sequential refresh runs over the stored profiles.
type Runner struct {
	store     Store
	fetcher   Fetcher
	blobs     BlobStore
	publisher Publisher
	hasher    Hasher
	clock     Clock
	ids       IDGenerator
	pauser    Pauser
	cfg       Config
	logger    *zap.Logger

	// running serializes runs; the store has a single writer.
	running sync.Mutex
}

// New constructs a Runner.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Runner, error) {
	if deps.Store == nil {
		return nil, errors.New("runner requires a store")
	}
	if deps.Fetcher == nil {
		return nil, errors.New("runner requires a fetcher")
	}
	if deps.Clock == nil {
		return nil, errors.New("runner requires a clock")
	}
	if deps.IDs == nil {
		return nil, errors.New("runner requires an id generator")
	}
	if deps.Pauser == nil {
		deps.Pauser = TimerPauser{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	metrics.Init()
	return &Runner{
		store:     deps.Store,
		fetcher:   deps.Fetcher,
		blobs:     deps.Blobs,
		publisher: deps.Publisher,
		hasher:    deps.Hasher,
		clock:     deps.Clock,
		ids:       deps.IDs,
		pauser:    deps.Pauser,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Run refreshes every profile matching opts.Firm (exact match, "" for all) in
// id order, pausing opts.Delay between consecutive profiles. Per-profile
// failures are recorded and counted; only a listing failure aborts the run.
// On cancellation the partial summary is returned together with the context error.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (RunSummary, error) {
	if opts.Delay < 0 || opts.Delay > MaxDelay {
		return RunSummary{}, ErrInvalidDelay
	}
	if !r.running.TryLock() {
		return RunSummary{}, ErrRunInProgress
	}
	defer r.running.Unlock()

	runID, err := r.ids.NewID()
	if err != nil {
		return RunSummary{}, fmt.Errorf("generate run id: %w", err)
	}
	ctx, span := tracer.Start(ctx, "tracker.Run")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", runID), attribute.String("firm", opts.Firm))
	summary := RunSummary{
		RunID:      runID,
		FirmFilter: opts.Firm,
		Delay:      opts.Delay,
		StartedAt:  r.clock.Now().UTC(),
		Results:    []ProfileResult{},
	}
	logger := r.logger.With(zap.String("run_id", runID), zap.String("firm", opts.Firm))

	profiles, err := r.store.ListProfiles(ctx, opts.Firm)
	if err != nil {
		summary.FinishedAt = r.clock.Now().UTC()
		metrics.ObserveRun("failed", summary.FinishedAt.Sub(summary.StartedAt))
		logger.Error("list profiles failed", zap.Error(err))
		return summary, fmt.Errorf("list profiles: %w", err)
	}
	logger.Info("run started", zap.Int("profiles", len(profiles)), zap.Duration("delay", opts.Delay))

	var runErr error
	for i, profile := range profiles {
		if i > 0 {
			if err := r.pauser.Pause(ctx, opts.Delay); err != nil {
				runErr = err
				break
			}
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		result, ok := r.checkProfile(ctx, runID, profile, logger)
		if !ok {
			runErr = ctx.Err()
			break
		}
		metrics.ObserveProfile(string(result.Outcome), string(result.ChangeType))
		summary.add(result)
	}

	summary.FinishedAt = r.clock.Now().UTC()
	status := "succeeded"
	if runErr != nil {
		status = "canceled"
	}
	metrics.ObserveRun(status, summary.FinishedAt.Sub(summary.StartedAt))
	logger.Info("run finished",
		zap.String("status", status),
		zap.Int("checked", summary.Checked),
		zap.Int("changed", summary.Changed),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors),
	)
	span.SetAttributes(attribute.Int("checked", summary.Checked), attribute.Int("changed", summary.Changed))
	if runErr != nil {
		span.RecordError(runErr)
		return summary, fmt.Errorf("run canceled: %w", runErr)
	}
	return summary, nil
}

// checkProfile runs fetch, extract, diff and persist for one profile. It
// reports false when the context ended mid-fetch and nothing was recorded.
func (r *Runner) checkProfile(ctx context.Context, runID string, p Profile, logger *zap.Logger) (ProfileResult, bool) {
	ctx, span := tracer.Start(ctx, "tracker.checkProfile")
	defer span.End()
	span.SetAttributes(attribute.Int64("profile_id", p.ID))
	logger = logger.With(zap.Int64("profile_id", p.ID), zap.String("url", p.URL))
	result := ProfileResult{ProfileID: p.ID, Name: p.Name, Firm: p.Firm}
	entry := HistoryEntry{
		RunID:      runID,
		ProfileID:  p.ID,
		ObservedAt: r.clock.Now().UTC(),
		OldTitle:   p.LastTitle,
		OldCompany: p.LastCompany,
	}

	page, err := r.fetcher.Fetch(ctx, p.URL)
	if err != nil {
		if ctx.Err() != nil {
			return result, false
		}
		reason := failureReason(err)
		entry.Detail = reason
		if errors.Is(err, ErrNotPublic) {
			entry.ChangeType = ChangeUnavailable
			result.Outcome = OutcomeSkipped
		} else {
			entry.ChangeType = ChangeFetchError
			result.Outcome = OutcomeError
		}
		logger.Warn("fetch failed", zap.String("change_type", string(entry.ChangeType)), zap.Error(err))
		result.ChangeType = entry.ChangeType
		result.Message = SkipMessage(p.Name, p.Firm, reason)
		if _, err := r.store.RecordObservation(ctx, entry, nil); err != nil {
			return r.storeFailure(result, p, err, logger), true
		}
		return result, true
	}

	r.archivePage(ctx, runID, p, page, logger)

	decision := Diff(p.Snapshot(), extract.Extract(page.Body))
	entry.ChangeType = decision.ChangeType
	entry.Changed = decision.Changed
	result.ChangeType = decision.ChangeType
	result.Message = decision.Message(p.Name, p.Firm)

	var update *ProfileUpdate
	if decision.ChangeType == ChangeUnavailable {
		entry.Detail = decision.Reason
		result.Outcome = OutcomeSkipped
	} else {
		entry.ObservedTitle = decision.Next.Title
		entry.ObservedCompany = decision.Next.Company
		update = &ProfileUpdate{
			LastTitle:   decision.Next.Title,
			LastCompany: decision.Next.Company,
			CheckedAt:   entry.ObservedAt,
		}
		result.Outcome = OutcomeUnchanged
		if decision.Changed {
			result.Outcome = OutcomeChanged
		}
	}

	saved, err := r.store.RecordObservation(ctx, entry, update)
	if err != nil {
		return r.storeFailure(result, p, err, logger), true
	}
	logger.Debug("observation recorded",
		zap.Int64("entry_id", saved.ID),
		zap.String("change_type", string(saved.ChangeType)),
	)
	if saved.Changed {
		r.publishChange(ctx, p, saved, logger)
	}
	return result, true
}

func (r *Runner) storeFailure(result ProfileResult, p Profile, err error, logger *zap.Logger) ProfileResult {
	logger.Error("record observation failed", zap.Error(err))
	result.Outcome = OutcomeError
	result.Message = SkipMessage(p.Name, p.Firm, "store_error:"+err.Error())
	return result
}

func (r *Runner) archivePage(ctx context.Context, runID string, p Profile, page Page, logger *zap.Logger) {
	if !r.cfg.ArchiveEnabled || r.blobs == nil || r.hasher == nil {
		return
	}
	hash, err := r.hasher.Hash(page.Body)
	if err != nil {
		metrics.ObserveHookFailure("archive")
		logger.Warn("hash page failed", zap.Error(err))
		return
	}
	uri, err := r.blobs.PutObject(ctx, r.archivePath(runID, p.ID, hash), r.cfg.ContentType, page.Body)
	if err != nil {
		metrics.ObserveHookFailure("archive")
		logger.Warn("archive page failed", zap.Error(err))
		return
	}
	logger.Debug("page archived", zap.String("blob_uri", uri))
}

func (r *Runner) archivePath(runID string, profileID int64, hash string) string {
	name := fmt.Sprintf("%s/%s/%s.html", runID, strconv.FormatInt(profileID, 10), hash)
	prefix := strings.Trim(r.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func (r *Runner) publishChange(ctx context.Context, p Profile, entry HistoryEntry, logger *zap.Logger) {
	if r.cfg.Topic == "" || r.publisher == nil {
		return
	}
	event := HeadlineChanged{
		RunID:      entry.RunID,
		ProfileID:  p.ID,
		Name:       p.Name,
		Firm:       p.Firm,
		URL:        p.URL,
		ChangeType: entry.ChangeType,
		OldTitle:   entry.OldTitle,
		OldCompany: entry.OldCompany,
		NewTitle:   entry.ObservedTitle,
		NewCompany: entry.ObservedCompany,
		ObservedAt: entry.ObservedAt,
	}
	msgID, err := r.publisher.Publish(ctx, r.cfg.Topic, event)
	if err != nil {
		metrics.ObserveHookFailure("publish")
		logger.Warn("publish change failed", zap.Error(err))
		return
	}
	logger.Info("change published",
		zap.String("message_id", msgID),
		zap.String("change_type", string(entry.ChangeType)),
	)
}

// AddFromURL fetches a profile page, detects the person's name and adds the
// profile with the detected company as its firm.
func (r *Runner) AddFromURL(ctx context.Context, rawURL string) (Profile, error) {
	url := strings.TrimSpace(rawURL)
	if !ValidURL(url) {
		return Profile{}, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	page, err := r.fetcher.Fetch(ctx, url)
	if err != nil {
		return Profile{}, fmt.Errorf("fetch profile: %w", err)
	}
	res := extract.Extract(page.Body)
	if !res.IsFound() || res.Headline.Name == "" {
		return Profile{}, ErrNameNotDetected
	}
	profile, err := r.store.AddProfile(ctx, NewProfile{
		Name: res.Headline.Name,
		URL:  url,
		Firm: res.Headline.Company,
	})
	if err != nil {
		return Profile{}, fmt.Errorf("add profile: %w", err)
	}
	r.logger.Info("profile added from url",
		zap.Int64("profile_id", profile.ID),
		zap.String("url", url),
		zap.String("firm", profile.Firm),
	)
	return profile, nil
}

func failureReason(err error) string {
	var fetchErr *FetchError
	switch {
	case errors.As(err, &fetchErr):
		return fetchErr.Reason
	case errors.Is(err, ErrNotPublic):
		return err.Error()
	default:
		return "unexpected_error:" + err.Error()
	}
}
