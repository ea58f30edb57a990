package tracker

import (
	"context"
	"time"
)

// Store persists profiles and the append-only history log.
type Store interface {
	AddProfile(ctx context.Context, profile NewProfile) (Profile, error)
	GetProfile(ctx context.Context, id int64) (Profile, error)
	ListProfiles(ctx context.Context, firm string) ([]Profile, error)
	SetFirm(ctx context.Context, id int64, firm string) error
	SetFirmByURL(ctx context.Context, url string, firm string) (int64, error)
	// RecordObservation appends the entry and applies the optional update atomically.
	RecordObservation(ctx context.Context, entry HistoryEntry, update *ProfileUpdate) (HistoryEntry, error)
	ListHistory(ctx context.Context, profileID int64) ([]HistoryEntry, error)
	AllHistory(ctx context.Context) ([]HistoryEntry, error)
	LatestTitleChange(ctx context.Context, profileID int64) (HistoryEntry, bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// Fetcher retrieves a public profile page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes change events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Pauser waits between consecutive profiles.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}
