// Package recording keeps the local collection of recordings in step with a
// remote blob store and metadata store.
package recording

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultTitle is used when a recording is saved without a title.
const DefaultTitle = "New Recording"

// Recording is one saved clip and its metadata.
type Recording struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	Title           string    `json:"title"`
	AssetURL        *string   `json:"asset_url,omitempty"`
	DurationSeconds *int      `json:"duration_seconds,omitempty"`
	Transcript      *string   `json:"transcript,omitempty"`
	Summary         *string   `json:"summary,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasSummary reports whether a non-empty summary is attached.
func (r Recording) HasSummary() bool {
	return r.Summary != nil && *r.Summary != ""
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Title      *string `json:"title,omitempty"`
	Summary    *string `json:"summary,omitempty"`
	Transcript *string `json:"transcript,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Summary == nil && p.Transcript == nil
}

// Apply mirrors the patch onto r.
func (p Patch) Apply(r *Recording) {
	if p.Title != nil {
		r.Title = *p.Title
	}
	if p.Summary != nil {
		r.Summary = StringPtr(*p.Summary)
	}
	if p.Transcript != nil {
		r.Transcript = StringPtr(*p.Transcript)
	}
}

// Asset is the audio to upload.
type Asset struct {
	Data        []byte
	ContentType string
}

// BlobStore holds recording audio.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (ref string, err error)
	PublicURL(ref string) string
	// Ref maps a URL built by PublicURL back to its reference.
	Ref(assetURL string) (string, error)
	// Remove deletes the object at path. A missing object is not an error.
	Remove(ctx context.Context, path string) error
}

// MetadataStore holds recording rows.
type MetadataStore interface {
	// Insert stores r and returns the row as written, with ID and timestamps
	// assigned by the store.
	Insert(ctx context.Context, r Recording) (Recording, error)
	// Update applies p to the row. A missing row is ErrNotFound.
	Update(ctx context.Context, id string, p Patch) error
	// Delete removes the row. A missing row is ErrNotFound.
	Delete(ctx context.Context, id string) error
	// SelectAllFor lists an owner's rows, newest first.
	SelectAllFor(ctx context.Context, owner string) ([]Recording, error)
}

var (
	// ErrNoOwner is returned when an operation needs a signed-in owner.
	ErrNoOwner = errors.New("no owner")
	// ErrNotFound is returned for an unknown recording ID.
	ErrNotFound = errors.New("recording not found")
)

// RemoteError wraps a failure of the blob or metadata store.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// RefUnder returns the part of assetURL below base. It undoes joining base
// and a reference with "/".
func RefUnder(assetURL, base string) (string, error) {
	ref, ok := strings.CutPrefix(assetURL, strings.TrimRight(base, "/")+"/")
	if !ok || ref == "" {
		return "", fmt.Errorf("asset url %q is not under %q", assetURL, base)
	}
	return ref, nil
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// IntPtr returns a pointer to n.
func IntPtr(n int) *int { return &n }
