package capture

import (
	"context"
	"io"
	"time"
)

// Frame describes an iframe element in the current document.
type Frame struct {
	ID        string
	Src       string
	Name      string
	ElementID string
}

// Page is a rendered browser tab. Evaluate runs in the main document unless
// EnterFrame switched the evaluation target; ExitFrame returns to the main
// document.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitReady(ctx context.Context, selector string, timeout time.Duration) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Evaluate(ctx context.Context, script string, out any) error
	HTML(ctx context.Context) (string, error)
	Location(ctx context.Context) (string, error)
	Viewport() Viewport
	SetViewport(ctx context.Context, vp Viewport) error
	Screenshot(ctx context.Context) ([]byte, error)
	Frames(ctx context.Context) ([]Frame, error)
	EnterFrame(ctx context.Context, frameID string) error
	ExitFrame(ctx context.Context) error
}

// Session is a page owned by exactly one job. Close releases the browser.
type Session interface {
	Page
	Close() error
}

// Launcher acquires a browser session configured for a device profile.
type Launcher interface {
	Launch(ctx context.Context, device DeviceType) (Session, error)
}

// JobStore persists job records. Read never fails: unknown ids yield the
// UNKNOWN sentinel and unreadable records yield the ERROR sentinel.
type JobStore interface {
	Save(ctx context.Context, id string, state JobState, info map[string]string) (JobRecord, error)
	Read(ctx context.Context, id string) JobRecord
	List(ctx context.Context) ([]JobRecord, error)
	Sweep(ctx context.Context, maxAge time.Duration) (int, error)
}

// BlobStore mirrors artifacts to secondary storage and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes job completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
