package tracker_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/headline-tracker/internal/publisher/memory"
	memstore "github.com/JakeFAU/headline-tracker/internal/storage/memory"
	"github.com/JakeFAU/headline-tracker/internal/tracker"
)

func headlinePage(name, title, company string) []byte {
	return []byte(fmt.Sprintf(
		`<html><head><meta property="og:title" content="%s - %s - %s | LinkedIn"></head></html>`,
		name, title, company))
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string][]byte
	errs  map[string]error
	calls []string
	hook  func(ctx context.Context, url string) error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string][]byte{}, errs: map[string]error{}}
}

func (f *fakeFetcher) set(url string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = body
	delete(f.errs, url)
}

func (f *fakeFetcher) fail(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (tracker.Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	hook := f.hook
	body, err := f.pages[url], f.errs[url]
	f.mu.Unlock()
	if hook != nil {
		if hookErr := hook(ctx, url); hookErr != nil {
			return tracker.Page{}, hookErr
		}
	}
	if err != nil {
		return tracker.Page{}, err
	}
	return tracker.Page{URL: url, FinalURL: url, StatusCode: 200, Body: body}, nil
}

func (f *fakeFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("run-%d", g.n), nil
}

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
	onCall func() error
}

func (p *recordingPauser) Pause(ctx context.Context, d time.Duration) error {
	p.mu.Lock()
	p.delays = append(p.delays, d)
	onCall := p.onCall
	p.mu.Unlock()
	if onCall != nil {
		if err := onCall(); err != nil {
			return err
		}
	}
	return ctx.Err()
}

type fixedHasher struct{}

func (fixedHasher) Hash(data []byte) (string, error) { return fmt.Sprintf("h%d", len(data)), nil }

type blobRecorder struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (b *blobRecorder) PutObject(_ context.Context, path, _ string, _ []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	b.paths = append(b.paths, path)
	return "memory://" + path, nil
}

type harness struct {
	store   *memstore.Store
	fetcher *fakeFetcher
	pauser  *recordingPauser
	runner  *tracker.Runner
}

func newHarness(t *testing.T, cfg tracker.Config, mutate func(*tracker.Deps)) *harness {
	t.Helper()
	h := &harness{
		store:   memstore.NewStore(),
		fetcher: newFakeFetcher(),
		pauser:  &recordingPauser{},
	}
	deps := tracker.Deps{
		Store:   h.store,
		Fetcher: h.fetcher,
		Clock:   &stepClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		IDs:     &seqIDs{},
		Pauser:  h.pauser,
	}
	if mutate != nil {
		mutate(&deps)
	}
	runner, err := tracker.New(deps, cfg, nil)
	require.NoError(t, err)
	h.runner = runner
	return h
}

func (h *harness) add(t *testing.T, name, firm string) tracker.Profile {
	t.Helper()
	p, err := h.store.AddProfile(context.Background(), tracker.NewProfile{
		Name: name,
		URL:  "https://example.com/in/" + strings.ToLower(name),
		Firm: firm,
	})
	require.NoError(t, err)
	return p
}

func (h *harness) history(t *testing.T, id int64) []tracker.HistoryEntry {
	t.Helper()
	entries, err := h.store.ListHistory(context.Background(), id)
	require.NoError(t, err)
	return entries
}

func (h *harness) profile(t *testing.T, id int64) tracker.Profile {
	t.Helper()
	p, err := h.store.GetProfile(context.Background(), id)
	require.NoError(t, err)
	return p
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := tracker.New(tracker.Deps{}, tracker.Config{}, nil)
	require.Error(t, err)
	_, err = tracker.New(tracker.Deps{Store: memstore.NewStore()}, tracker.Config{}, nil)
	require.Error(t, err)
}

func TestRunInitThenUnchanged(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tracker.Config{}, nil)
	p := h.add(t, "Jane", "Acme")
	h.fetcher.set(p.URL, headlinePage("Jane", "Engineer", "Acme"))

	first, err := h.runner.Run(context.Background(), tracker.RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, first.Changed)
	require.Equal(t, tracker.ChangeInit, first.Results[0].ChangeType)
	afterFirst := h.profile(t, p.ID)
	require.Equal(t, "Engineer", afterFirst.LastTitle)
	require.Equal(t, "Acme", afterFirst.LastCompany)

	second, err := h.runner.Run(context.Background(), tracker.RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, second.Unchanged)
	require.Equal(t, "[NO CHANGE] Jane", second.Results[0].Message)

	afterSecond := h.profile(t, p.ID)
	require.Equal(t, afterFirst.LastTitle, afterSecond.LastTitle)
	require.Equal(t, afterFirst.LastCompany, afterSecond.LastCompany)
	require.True(t, afterSecond.LastCheckedAt.After(*afterFirst.LastCheckedAt))

	entries := h.history(t, p.ID)
	require.Len(t, entries, 2)
	require.Equal(t, tracker.ChangeNone, entries[0].ChangeType)
	require.False(t, entries[0].Changed)
	require.Equal(t, "run-2", entries[0].RunID)
}

func TestRunNotPublicLeavesProfileUntouched(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tracker.Config{}, nil)
	p := h.add(t, "Jane", "")
	h.fetcher.set(p.URL, headlinePage("Jane", "Engineer", "Acme"))
	_, err := h.runner.Run(context.Background(), tracker.RunOptions{})
	require.NoError(t, err)
	before := h.profile(t, p.ID)

	h.fetcher.fail(p.URL, tracker.NotPublicError("status:999"))
	summary, err := h.runner.Run(context.Background(), tracker.RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Skipped)
	require.Equal(t, "[SKIP] Jane (-) → profile not public: status:999", summary.Results[0].Message)

	require.Equal(t, before, h.profile(t, p.ID))
	entries := h.history(t, p.ID)
	require.Len(t, entries, 2)
	latest := entries[0]
	require.Equal(t, tracker.ChangeUnavailable, latest.ChangeType)
	require.False(t, latest.Changed)
	require.Equal(t, "Engineer", latest.OldTitle)
	require.Empty(t, latest.ObservedTitle)
	require.Contains(t, latest.Detail, "status:999")
}

func TestRunAppendsOneEntryPerRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tracker.Config{}, nil)
	p := h.add(t, "Jane", "")
	outcomes := []func(){
		func() { h.fetcher.set(p.URL, headlinePage("Jane", "Engineer", "Acme")) },
		func() { h.fetcher.fail(p.URL, &tracker.FetchError{URL: p.URL, Reason: "network_error:timeout"}) },
		func() { h.fetcher.fail(p.URL, tracker.NotPublicError("redirect:/authwall")) },
		func() { h.fetcher.set(p.URL, []byte("<html><body>nothing here</body></html>")) },
		func() { h.fetcher.set(p.URL, headlinePage("Jane", "Engineer", "Acme")) },
	}
	for _, prepare := range outcomes {
		prepare()
		_, err := h.runner.Run(context.Background(), tracker.RunOptions{})
		require.NoError(t, err)
	}

	entries := h.history(t, p.ID)
	require.Len(t, entries, len(outcomes))
	got := make([]tracker.ChangeType, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		got = append(got, entries[i].ChangeType)
	}
	require.Equal(t, []tracker.ChangeType{
		tracker.ChangeInit,
		tracker.ChangeFetchError,
		tracker.ChangeUnavailable,
		tracker.ChangeUnavailable,
		tracker.ChangeNone,
	}, got)
	require.Equal(t, "network_error:timeout", entries[3].Detail)
}

func TestRunFetchErrorCountsAsError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tracker.Config{}, nil)
	a := h.add(t, "Ann", "")
	b := h.add(t, "Bob", "")
	h.fetcher.fail(a.URL, &tracker.FetchError{URL: a.URL, Reason: "bad_status:404"})
	h.fetcher.set(b.URL, headlinePage("Bob", "Analyst", "Initech"))

	summary, err := h.runner.Run(context.Background(), tracker.RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, summary.Checked)
	require.Equal(t, 1, summary.Errors)
	require.Equal(t, 1, summary.Changed)
	require.Equal(t, tracker.OutcomeError, summary.Results[0].Outcome)
	require.Equal(t, "[SKIP] Ann (-) → bad_status:404", summary.Results[0].Message)

	h.fetcher.fail(a.URL, errors.New("boom"))
	summary, err = h.runner.Run(context.Background(), tracker.RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Errors)
	require.Equal(t, "unexpected_error:boom", h.history(t, a.ID)[0].Detail)
}

func TestRunTitleChange(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tracker.Config{}, nil)
	p := h.add(t, "Jane", "Acme")
	h.fetcher.set(p.URL, headlinePage("Jane", "Engineer", "Acme"))
	_, err := h.runner.Run(context.Background(), tracker.RunOptions{})
	require.NoError(t, err)

	h.fetcher.set(p.URL, headlinePage("Jane", "Senior Engineer", "Acme"))
	summary, err := h.runner.Run(context.Background(), tracker.RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Changed)
	require.Equal(t, tracker.ChangeTitle, summary.Results[0].ChangeType)

	got := h.profile(t, p.ID)
	require.Equal(t, "Senior Engineer", got.LastTitle)
	latest := h.history(t, p.ID)[0]
	require.True(t, latest.Changed)
	require.Equal(t, "Engineer", latest.OldTitle)
	require.Equal(t, "Senior Engineer", latest.ObservedTitle)
	require.Equal(t, got.LastTitle, latest.ObservedTitle)
	require.Equal(t, got.LastCompany, latest.ObservedCompany)

	change, found, err := h.store.LatestTitleChange(context.Background(), p.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, latest.ID, change.ID)
}

func TestRunFirmFilter(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tracker.Config{}, nil)
	acme := h.add(t, "Ann", "Acme")
	globex := h.add(t, "Bob", "Globex")
	lower := h.add(t, "Cat", "acme")
	for _, p := range []tracker.Profile{acme, globex, lower} {
		h.fetcher.set(p.URL, headlinePage(p.Name, "Analyst", p.Firm))
	}

	summary, err := h.runner.Run(context.Background(), tracker.RunOptions{Firm: "Acme"})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Checked)
	require.Equal(t, "Acme", summary.FirmFilter)
	require.Equal(t, []string{acme.URL}, h.fetcher.fetched())
	require.Empty(t, h.history(t, globex.ID))
	require.Empty(t, h.history(t, lower.ID))

	summary, err = h.runner.Run(context.Background(), tracker.RunOptions{Firm: "Acm"})
	require.NoError(t, err)
	require.Zero(t, summary.Checked)
}

func TestRunPausesBetweenProfiles(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tracker.Config{}, nil)
	for _, name := range []string{"Ann", "Bob", "Cat", "Dan"} {
		p := h.add(t, name, "")
		h.fetcher.set(p.URL, headlinePage(name, "Analyst", "Acme"))
	}

	summary, err := h.runner.Run(context.Background(), tracker.RunOptions{Delay: 2 * time.Second})
	require.NoError(t, err)
	require.Equal(t, 4, summary.Checked)
	require.Equal(t, 2*time.Second, summary.Delay)
	require.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, h.pauser.delays)
}

func TestRunRejectsNegativeDelay(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tracker.Config{}, nil)
	h.add(t, "Ann", "")
	_, err := h.runner.Run(context.Background(), tracker.RunOptions{Delay: -time.Second})
	require.ErrorIs(t, err, tracker.ErrInvalidDelay)

	_, err = h.runner.Run(context.Background(), tracker.RunOptions{Delay: tracker.MaxDelay + time.Second})
	require.ErrorIs(t, err, tracker.ErrInvalidDelay)
	require.Empty(t, h.fetcher.fetched())
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tracker.Config{}, nil)
	p := h.add(t, "Ann", "")
	h.fetcher.set(p.URL, headlinePage("Ann", "Analyst", "Acme"))

	started := make(chan struct{})
	release := make(chan struct{})
	h.fetcher.hook = func(context.Context, string) error {
		close(started)
		<-release
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.runner.Run(context.Background(), tracker.RunOptions{})
		done <- err
	}()
	<-started
	_, err := h.runner.Run(context.Background(), tracker.RunOptions{})
	require.ErrorIs(t, err, tracker.ErrRunInProgress)
	close(release)
	require.NoError(t, <-done)
}

func TestRunCanceledBetweenProfiles(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tracker.Config{}, nil)
	a := h.add(t, "Ann", "")
	b := h.add(t, "Bob", "")
	h.fetcher.set(a.URL, headlinePage("Ann", "Analyst", "Acme"))
	h.fetcher.set(b.URL, headlinePage("Bob", "Analyst", "Acme"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.pauser.onCall = func() error {
		cancel()
		return nil
	}

	summary, err := h.runner.Run(ctx, tracker.RunOptions{Delay: time.Second})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, summary.Checked)
	require.Len(t, h.history(t, a.ID), 1)
	require.Empty(t, h.history(t, b.ID))
}

func TestRunCanceledMidFetchRecordsNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tracker.Config{}, nil)
	p := h.add(t, "Ann", "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.fetcher.hook = func(ctx context.Context, _ string) error {
		cancel()
		return ctx.Err()
	}

	summary, err := h.runner.Run(ctx, tracker.RunOptions{})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, summary.Checked)
	require.Empty(t, h.history(t, p.ID))
}

type failingStore struct {
	*memstore.Store
	listErr   error
	recordErr error
}

func (s *failingStore) ListProfiles(ctx context.Context, firm string) ([]tracker.Profile, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.Store.ListProfiles(ctx, firm)
}

func (s *failingStore) RecordObservation(
	ctx context.Context,
	e tracker.HistoryEntry,
	u *tracker.ProfileUpdate,
) (tracker.HistoryEntry, error) {
	if s.recordErr != nil {
		return tracker.HistoryEntry{}, s.recordErr
	}
	return s.Store.RecordObservation(ctx, e, u)
}

func TestRunStoreFailures(t *testing.T) {
	t.Parallel()

	store := &failingStore{Store: memstore.NewStore()}
	h := newHarness(t, tracker.Config{}, func(d *tracker.Deps) { d.Store = store })
	h.store = store.Store
	a := h.add(t, "Ann", "")
	b := h.add(t, "Bob", "")
	h.fetcher.set(a.URL, headlinePage("Ann", "Analyst", "Acme"))
	h.fetcher.set(b.URL, headlinePage("Bob", "Analyst", "Acme"))

	store.recordErr = errors.New("disk full")
	summary, err := h.runner.Run(context.Background(), tracker.RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, summary.Errors)
	require.Contains(t, summary.Results[1].Message, "store_error:disk full")

	store.listErr = errors.New("database locked")
	_, err = h.runner.Run(context.Background(), tracker.RunOptions{})
	require.ErrorContains(t, err, "list profiles: database locked")
}

func TestRunArchivesAndPublishes(t *testing.T) {
	t.Parallel()

	blobs := &blobRecorder{}
	pub := memory.New()
	cfg := tracker.Config{ArchiveEnabled: true, ArchivePrefix: "/pages/", Topic: "headline-changes"}
	h := newHarness(t, cfg, func(d *tracker.Deps) {
		d.Blobs = blobs
		d.Publisher = pub
		d.Hasher = fixedHasher{}
	})
	p := h.add(t, "Jane", "Acme")
	body := headlinePage("Jane", "Engineer", "Acme")
	h.fetcher.set(p.URL, body)

	_, err := h.runner.Run(context.Background(), tracker.RunOptions{})
	require.NoError(t, err)
	_, err = h.runner.Run(context.Background(), tracker.RunOptions{})
	require.NoError(t, err)

	require.Equal(t, []string{
		fmt.Sprintf("pages/run-1/%d/h%d.html", p.ID, len(body)),
		fmt.Sprintf("pages/run-2/%d/h%d.html", p.ID, len(body)),
	}, blobs.paths)

	msgs := pub.Messages()
	require.Len(t, msgs, 1, "only the INIT observation is a change")
	require.Equal(t, "headline-changes", msgs[0].Topic)
	event, ok := msgs[0].Payload.(tracker.HeadlineChanged)
	require.True(t, ok)
	require.Equal(t, tracker.ChangeInit, event.ChangeType)
	require.Equal(t, "Engineer", event.NewTitle)
	require.Equal(t, "run-1", event.RunID)
}

func TestRunHookFailuresDoNotFailProfile(t *testing.T) {
	t.Parallel()

	blobs := &blobRecorder{err: errors.New("bucket missing")}
	pub := memory.New()
	pub.FailWith(errors.New("topic missing"))
	h := newHarness(t, tracker.Config{ArchiveEnabled: true, Topic: "t"}, func(d *tracker.Deps) {
		d.Blobs = blobs
		d.Publisher = pub
		d.Hasher = fixedHasher{}
	})
	p := h.add(t, "Jane", "")
	h.fetcher.set(p.URL, headlinePage("Jane", "Engineer", "Acme"))

	summary, err := h.runner.Run(context.Background(), tracker.RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Changed)
	require.Len(t, h.history(t, p.ID), 1)
}

func TestAddFromURL(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tracker.Config{}, nil)
	url := "https://example.com/in/jane"
	h.fetcher.set(url, headlinePage("Jane Doe", "Partner", "Acme Capital"))

	p, err := h.runner.AddFromURL(context.Background(), "  "+url+" ")
	require.NoError(t, err)
	require.Equal(t, "Jane Doe", p.Name)
	require.Equal(t, "Acme Capital", p.Firm)
	require.Equal(t, url, p.URL)
	require.Empty(t, p.LastTitle, "adding does not record an observation")

	_, err = h.runner.AddFromURL(context.Background(), "example.com/in/jane")
	require.ErrorIs(t, err, tracker.ErrInvalidURL)

	blank := "https://example.com/in/blank"
	h.fetcher.set(blank, []byte("<html><body></body></html>"))
	_, err = h.runner.AddFromURL(context.Background(), blank)
	require.ErrorIs(t, err, tracker.ErrNameNotDetected)

	walled := "https://example.com/in/walled"
	h.fetcher.fail(walled, tracker.NotPublicError("marker:authwall"))
	_, err = h.runner.AddFromURL(context.Background(), walled)
	require.ErrorIs(t, err, tracker.ErrNotPublic)

	all, err := h.store.ListProfiles(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 1)
}
