// Package recordingtest provides in-memory blob and metadata stores for tests.
package recordingtest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwulff/quill/internal/recording"
)

// Blobs is an in-memory recording.BlobStore.
type Blobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	calls   int

	// UploadErr and RemoveErr, when set, are returned by the next calls.
	UploadErr error
	RemoveErr error
}

func NewBlobs() *Blobs {
	return &Blobs{objects: make(map[string][]byte)}
}

func (b *Blobs) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.UploadErr != nil {
		return "", b.UploadErr
	}
	b.objects[path] = append([]byte(nil), data...)
	return path, nil
}

// BaseURL prefixes every public URL the fake hands out.
const BaseURL = "https://blobs.test/recordings"

func (b *Blobs) PublicURL(ref string) string {
	return BaseURL + "/" + ref
}

func (b *Blobs) Ref(assetURL string) (string, error) {
	return recording.RefUnder(assetURL, BaseURL)
}

func (b *Blobs) Remove(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.RemoveErr != nil {
		return b.RemoveErr
	}
	delete(b.objects, path)
	return nil
}

// Has reports whether an object exists at path.
func (b *Blobs) Has(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok
}

// Len returns the number of stored objects.
func (b *Blobs) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

// Calls returns how many Upload and Remove calls were made.
func (b *Blobs) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// Meta is an in-memory recording.MetadataStore.
type Meta struct {
	mu    sync.Mutex
	rows  map[string]recording.Recording
	calls int
	now   func() time.Time

	InsertErr error
	UpdateErr error
	DeleteErr error
	SelectErr error
}

func NewMeta() *Meta {
	base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	n := 0
	return &Meta{
		rows: make(map[string]recording.Recording),
		now: func() time.Time {
			n++
			return base.Add(time.Duration(n) * time.Minute)
		},
	}
}

func (m *Meta) Insert(ctx context.Context, r recording.Recording) (recording.Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.InsertErr != nil {
		return recording.Recording{}, m.InsertErr
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now()
	}
	r.UpdatedAt = r.CreatedAt
	m.rows[r.ID] = r
	return r, nil
}

func (m *Meta) Update(ctx context.Context, id string, p recording.Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	r, ok := m.rows[id]
	if !ok {
		return recording.ErrNotFound
	}
	p.Apply(&r)
	r.UpdatedAt = m.now()
	m.rows[id] = r
	return nil
}

func (m *Meta) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	if _, ok := m.rows[id]; !ok {
		return recording.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *Meta) SelectAllFor(ctx context.Context, owner string) ([]recording.Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.SelectErr != nil {
		return nil, m.SelectErr
	}
	var out []recording.Recording
	for _, r := range m.rows {
		if r.OwnerID == owner {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Row returns the stored row for id.
func (m *Meta) Row(id string) (recording.Recording, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	return r, ok
}

// Calls returns how many store methods were called.
func (m *Meta) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// ErrUnavailable is a stand-in transient failure.
var ErrUnavailable = errors.New("service unavailable")
