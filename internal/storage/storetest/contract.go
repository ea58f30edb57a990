// Package storetest holds the behavioral contract every tracker.Store must satisfy.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/headline-tracker/internal/tracker"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) tracker.Store

// Run executes the contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("AddAndGetProfile", func(t *testing.T) { testAddAndGet(t, newStore(t)) })
	t.Run("AddProfileValidation", func(t *testing.T) { testAddValidation(t, newStore(t)) })
	t.Run("ListProfilesFirmFilter", func(t *testing.T) { testFirmFilter(t, newStore(t)) })
	t.Run("SetFirm", func(t *testing.T) { testSetFirm(t, newStore(t)) })
	t.Run("SetFirmByURL", func(t *testing.T) { testSetFirmByURL(t, newStore(t)) })
	t.Run("RecordObservation", func(t *testing.T) { testRecordObservation(t, newStore(t)) })
	t.Run("RecordObservationUnknownProfile", func(t *testing.T) { testRecordUnknown(t, newStore(t)) })
	t.Run("HistoryOrdering", func(t *testing.T) { testHistoryOrdering(t, newStore(t)) })
	t.Run("LatestTitleChange", func(t *testing.T) { testLatestTitleChange(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) { require.NoError(t, newStore(t).Ping(context.Background())) })
}

func testAddAndGet(t *testing.T, s tracker.Store) {
	ctx := context.Background()
	p, err := s.AddProfile(ctx, tracker.NewProfile{Name: "  Jane   Doe ", URL: " https://example.com/in/jane ", Firm: " Acme "})
	require.NoError(t, err)
	require.NotZero(t, p.ID)
	require.Equal(t, "Jane Doe", p.Name)
	require.Equal(t, "https://example.com/in/jane", p.URL)
	require.Equal(t, "Acme", p.Firm)
	require.False(t, p.CreatedAt.IsZero())

	got, err := s.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, p.ID, got.ID)
	require.Equal(t, p.Name, got.Name)
	require.Equal(t, p.Firm, got.Firm)
	require.Empty(t, got.LastTitle)
	require.Nil(t, got.LastCheckedAt)
	require.True(t, p.CreatedAt.Equal(got.CreatedAt))

	_, err = s.GetProfile(ctx, p.ID+1000)
	require.ErrorIs(t, err, tracker.ErrProfileNotFound)
}

func testAddValidation(t *testing.T, s tracker.Store) {
	ctx := context.Background()
	_, err := s.AddProfile(ctx, tracker.NewProfile{Name: "Jane", URL: "ftp://example.com"})
	require.ErrorIs(t, err, tracker.ErrInvalidURL)
	_, err = s.AddProfile(ctx, tracker.NewProfile{Name: "  ", URL: "https://example.com"})
	require.ErrorIs(t, err, tracker.ErrInvalidName)
	_, err = s.AddProfile(ctx, tracker.NewProfile{Name: "Jane", URL: "HTTPS://EXAMPLE.COM/in/jane"})
	require.NoError(t, err)

	all, err := s.ListProfiles(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func testFirmFilter(t *testing.T, s tracker.Store) {
	ctx := context.Background()
	acme := mustAdd(t, s, "A", "Acme")
	mustAdd(t, s, "B", "acme")
	mustAdd(t, s, "C", "Acm")
	mustAdd(t, s, "D", "")
	acme2 := mustAdd(t, s, "E", "Acme")

	got, err := s.ListProfiles(ctx, "Acme")
	require.NoError(t, err)
	require.Equal(t, []int64{acme.ID, acme2.ID}, ids(got))

	all, err := s.ListProfiles(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		require.Less(t, all[i-1].ID, all[i].ID, "profiles must be listed in insertion order")
	}

	none, err := s.ListProfiles(ctx, "Globex")
	require.NoError(t, err)
	require.Empty(t, none)
}

func testSetFirm(t *testing.T, s tracker.Store) {
	ctx := context.Background()
	p := mustAdd(t, s, "A", "")

	require.NoError(t, s.SetFirm(ctx, p.ID, " Globex "))
	got, err := s.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "Globex", got.Firm)

	require.NoError(t, s.SetFirm(ctx, p.ID, ""))
	got, err = s.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	require.Empty(t, got.Firm)

	require.ErrorIs(t, s.SetFirm(ctx, p.ID+99, "X"), tracker.ErrProfileNotFound)

	// set-firm and add store the same label, so one filter finds both.
	q := mustAdd(t, s, "B", "Acme Corp")
	require.NoError(t, s.SetFirm(ctx, p.ID, " Acme \t Corp "))
	same, err := s.ListProfiles(ctx, "Acme Corp")
	require.NoError(t, err)
	require.Equal(t, []int64{p.ID, q.ID}, ids(same))
}

func testSetFirmByURL(t *testing.T, s tracker.Store) {
	ctx := context.Background()
	url := "https://example.com/in/dup"
	a, err := s.AddProfile(ctx, tracker.NewProfile{Name: "A", URL: url})
	require.NoError(t, err)
	b, err := s.AddProfile(ctx, tracker.NewProfile{Name: "B", URL: url})
	require.NoError(t, err)
	mustAdd(t, s, "C", "Other")

	n, err := s.SetFirmByURL(ctx, url, "Initech")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	got, err := s.ListProfiles(ctx, "Initech")
	require.NoError(t, err)
	require.Equal(t, []int64{a.ID, b.ID}, ids(got))

	n, err = s.SetFirmByURL(ctx, url, "Init   Tech")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	got, err = s.ListProfiles(ctx, "Init Tech")
	require.NoError(t, err)
	require.Len(t, got, 2)

	n, err = s.SetFirmByURL(ctx, "https://nowhere.example", "X")
	require.NoError(t, err)
	require.Zero(t, n)
}

func testRecordObservation(t *testing.T, s tracker.Store) {
	ctx := context.Background()
	p := mustAdd(t, s, "A", "Acme")
	at := time.Date(2025, 3, 1, 12, 30, 15, 123456789, time.UTC)

	saved, err := s.RecordObservation(ctx, tracker.HistoryEntry{
		RunID:           "run-1",
		ProfileID:       p.ID,
		ObservedAt:      at,
		ObservedTitle:   "Engineer",
		ObservedCompany: "Acme",
		ChangeType:      tracker.ChangeInit,
		Changed:         true,
	}, &tracker.ProfileUpdate{LastTitle: "Engineer", LastCompany: "Acme", CheckedAt: at})
	require.NoError(t, err)
	require.NotZero(t, saved.ID)

	got, err := s.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "Engineer", got.LastTitle)
	require.Equal(t, "Acme", got.LastCompany)
	require.NotNil(t, got.LastCheckedAt)
	require.True(t, at.Equal(*got.LastCheckedAt))

	// An entry without an update leaves the profile alone.
	_, err = s.RecordObservation(ctx, tracker.HistoryEntry{
		RunID:      "run-2",
		ProfileID:  p.ID,
		ObservedAt: at.Add(time.Hour),
		OldTitle:   "Engineer",
		OldCompany: "Acme",
		ChangeType: tracker.ChangeUnavailable,
		Detail:     "profile not public: status:999",
	}, nil)
	require.NoError(t, err)
	again, err := s.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, got, again)

	history, err := s.ListHistory(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, tracker.ChangeUnavailable, history[0].ChangeType)
	require.Equal(t, "profile not public: status:999", history[0].Detail)
	require.False(t, history[0].Changed)
	require.Equal(t, tracker.ChangeInit, history[1].ChangeType)
	require.True(t, history[1].Changed)
	require.True(t, at.Equal(history[1].ObservedAt), "observed_at keeps sub-second precision")
}

func testRecordUnknown(t *testing.T, s tracker.Store) {
	ctx := context.Background()
	p := mustAdd(t, s, "A", "")
	_, err := s.RecordObservation(ctx, tracker.HistoryEntry{
		RunID: "run", ProfileID: p.ID + 50, ObservedAt: time.Now(), ChangeType: tracker.ChangeInit, Changed: true,
	}, &tracker.ProfileUpdate{LastTitle: "x", CheckedAt: time.Now()})
	require.Error(t, err)

	all, err := s.AllHistory(ctx)
	require.NoError(t, err)
	require.Empty(t, all, "failed observation must not leave a history row")
}

func testHistoryOrdering(t *testing.T, s tracker.Store) {
	ctx := context.Background()
	a := mustAdd(t, s, "A", "")
	b := mustAdd(t, s, "B", "")
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	record := func(p tracker.Profile, offset time.Duration, ct tracker.ChangeType) {
		_, err := s.RecordObservation(ctx, tracker.HistoryEntry{
			RunID: "r", ProfileID: p.ID, ObservedAt: base.Add(offset), ChangeType: ct,
		}, nil)
		require.NoError(t, err)
	}
	record(a, 2*time.Second, tracker.ChangeNone)
	record(b, 1*time.Second, tracker.ChangeFetchError)
	record(a, 3*time.Second, tracker.ChangeUnavailable)
	record(b, 3*time.Second, tracker.ChangeNone)

	all, err := s.AllHistory(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		prev, cur := all[i-1], all[i]
		require.False(t, cur.ObservedAt.Before(prev.ObservedAt))
		if cur.ObservedAt.Equal(prev.ObservedAt) {
			require.Less(t, prev.ID, cur.ID)
		}
	}

	forA, err := s.ListHistory(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, forA, 2)
	require.Equal(t, tracker.ChangeUnavailable, forA[0].ChangeType, "newest first")
}

func testLatestTitleChange(t *testing.T, s tracker.Store) {
	ctx := context.Background()
	p := mustAdd(t, s, "A", "")
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, found, err := s.LatestTitleChange(ctx, p.ID)
	require.NoError(t, err)
	require.False(t, found)

	entries := []tracker.HistoryEntry{
		{ObservedTitle: "Analyst", ChangeType: tracker.ChangeInit, Changed: true},
		{OldTitle: "Analyst", ObservedTitle: "Associate", ChangeType: tracker.ChangeTitle, Changed: true},
		{OldTitle: "Associate", ObservedTitle: "VP", ChangeType: tracker.ChangeTitleAndCompany, Changed: true},
		{OldTitle: "VP", ObservedTitle: "VP", ChangeType: tracker.ChangeCompany, Changed: true},
		{OldTitle: "VP", ObservedTitle: "VP", ChangeType: tracker.ChangeNone},
	}
	for i, e := range entries {
		e.RunID = "r"
		e.ProfileID = p.ID
		e.ObservedAt = base.Add(time.Duration(i) * time.Minute)
		_, err := s.RecordObservation(ctx, e, nil)
		require.NoError(t, err)
	}

	latest, found, err := s.LatestTitleChange(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, tracker.ChangeTitleAndCompany, latest.ChangeType)
	require.Equal(t, "Associate", latest.OldTitle)
	require.Equal(t, "VP", latest.ObservedTitle)
}

func mustAdd(t *testing.T, s tracker.Store, name, firm string) tracker.Profile {
	t.Helper()
	p, err := s.AddProfile(context.Background(), tracker.NewProfile{
		Name: name,
		URL:  "https://example.com/in/" + name,
		Firm: firm,
	})
	require.NoError(t, err)
	return p
}

func ids(profiles []tracker.Profile) []int64 {
	out := make([]int64, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p.ID)
	}
	return out
}
