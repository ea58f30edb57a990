// Package memory provides in-memory implementations of tracker storage for development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/headline-tracker/internal/tracker"
)

// Store keeps profiles and history in maps guarded by a mutex.
type Store struct {
	mu       sync.RWMutex
	profiles map[int64]tracker.Profile
	history  []tracker.HistoryEntry
	nextID   int64
	nextHist int64
	now      func() time.Time
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		profiles: make(map[int64]tracker.Profile),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// AddProfile validates and stores a new profile.
func (s *Store) AddProfile(_ context.Context, in tracker.NewProfile) (tracker.Profile, error) {
	in, err := in.Normalize()
	if err != nil {
		return tracker.Profile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	p := tracker.Profile{
		ID:        s.nextID,
		Name:      in.Name,
		URL:       in.URL,
		Firm:      in.Firm,
		CreatedAt: s.now(),
	}
	s.profiles[p.ID] = p
	return p, nil
}

// GetProfile returns a copy of the stored profile.
func (s *Store) GetProfile(_ context.Context, id int64) (tracker.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return tracker.Profile{}, tracker.ErrProfileNotFound
	}
	return cloneProfile(p), nil
}

// ListProfiles returns profiles in insertion order, optionally filtered by exact firm.
func (s *Store) ListProfiles(_ context.Context, firm string) ([]tracker.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tracker.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		if firm != "" && p.Firm != firm {
			continue
		}
		out = append(out, cloneProfile(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetFirm replaces the firm of one profile.
func (s *Store) SetFirm(_ context.Context, id int64, firm string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return tracker.ErrProfileNotFound
	}
	p.Firm = tracker.NormalizeFirm(firm)
	s.profiles[id] = p
	return nil
}

// SetFirmByURL sets the firm on every profile with the given URL.
func (s *Store) SetFirmByURL(_ context.Context, url string, firm string) (int64, error) {
	url = strings.TrimSpace(url)
	firm = tracker.NormalizeFirm(firm)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, p := range s.profiles {
		if p.URL != url {
			continue
		}
		p.Firm = firm
		s.profiles[id] = p
		n++
	}
	return n, nil
}

// RecordObservation appends entry and applies update in one critical section.
func (s *Store) RecordObservation(
	_ context.Context,
	entry tracker.HistoryEntry,
	update *tracker.ProfileUpdate,
) (tracker.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[entry.ProfileID]
	if !ok {
		return tracker.HistoryEntry{}, tracker.ErrProfileNotFound
	}
	s.nextHist++
	entry.ID = s.nextHist
	entry.ObservedAt = entry.ObservedAt.UTC()
	s.history = append(s.history, entry)
	if update != nil {
		checked := update.CheckedAt.UTC()
		p.LastTitle = update.LastTitle
		p.LastCompany = update.LastCompany
		p.LastCheckedAt = &checked
		s.profiles[p.ID] = p
	}
	return entry, nil
}

// ListHistory returns one profile's entries, newest first.
func (s *Store) ListHistory(_ context.Context, profileID int64) ([]tracker.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tracker.HistoryEntry, 0)
	for _, e := range s.history {
		if e.ProfileID == profileID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return newer(out[i], out[j]) })
	return out, nil
}

// AllHistory returns every entry, oldest first.
func (s *Store) AllHistory(_ context.Context) ([]tracker.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]tracker.HistoryEntry(nil), s.history...)
	sort.Slice(out, func(i, j int) bool { return newer(out[j], out[i]) })
	return out, nil
}

// LatestTitleChange returns the newest entry whose title changed.
func (s *Store) LatestTitleChange(ctx context.Context, profileID int64) (tracker.HistoryEntry, bool, error) {
	entries, err := s.ListHistory(ctx, profileID)
	if err != nil {
		return tracker.HistoryEntry{}, false, err
	}
	for _, e := range entries {
		if e.ChangeType == tracker.ChangeTitle || e.ChangeType == tracker.ChangeTitleAndCompany {
			return e, true, nil
		}
	}
	return tracker.HistoryEntry{}, false, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func newer(a, b tracker.HistoryEntry) bool {
	if !a.ObservedAt.Equal(b.ObservedAt) {
		return a.ObservedAt.After(b.ObservedAt)
	}
	return a.ID > b.ID
}

func cloneProfile(p tracker.Profile) tracker.Profile {
	if p.LastCheckedAt != nil {
		t := *p.LastCheckedAt
		p.LastCheckedAt = &t
	}
	return p
}
