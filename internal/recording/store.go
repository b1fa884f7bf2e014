package recording

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jwulff/quill/internal/media"
)

// Store is the local mirror of an owner's recordings. Remote calls are made
// without holding the lock; the local collection changes only after the remote
// side confirms.
type Store struct {
	blobs BlobStore
	meta  MetadataStore
	log   *zap.SugaredLogger
	now   func() time.Time

	mu     sync.Mutex
	owner  string
	loaded bool
	items  map[string]Recording
}

// NewStore creates an empty store.
func NewStore(blobs BlobStore, meta MetadataStore, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Store{
		blobs: blobs,
		meta:  meta,
		log:   log,
		now:   time.Now,
		items: make(map[string]Recording),
	}
}

// Fetch replaces the collection with owner's recordings. On failure the prior
// collection is kept if it belongs to the same owner.
func (s *Store) Fetch(ctx context.Context, owner string) ([]Recording, error) {
	if owner == "" {
		s.mu.Lock()
		s.owner = ""
		s.loaded = false
		s.items = make(map[string]Recording)
		s.mu.Unlock()
		return nil, nil
	}

	rows, err := s.meta.SelectAllFor(ctx, owner)
	if err != nil {
		s.mu.Lock()
		if s.owner != owner || !s.loaded {
			s.owner = owner
			s.loaded = false
			s.items = make(map[string]Recording)
		}
		s.mu.Unlock()
		s.log.Warnf("fetch recordings for %s: %v", owner, err)
		return nil, &RemoteError{Op: "fetch recordings", Err: err}
	}

	s.mu.Lock()
	s.owner = owner
	s.loaded = true
	s.items = make(map[string]Recording, len(rows))
	for _, r := range rows {
		s.items[r.ID] = r
	}
	s.mu.Unlock()

	s.log.Debugf("fetched %d recordings for %s", len(rows), owner)
	return s.Items(), nil
}

// Create uploads the asset, inserts its row and adds it to the collection.
func (s *Store) Create(ctx context.Context, asset Asset, title string, durationSeconds int, owner string) (Recording, error) {
	if owner == "" {
		return Recording{}, ErrNoOwner
	}
	if title == "" {
		title = DefaultTitle
	}
	contentType := asset.ContentType
	if contentType == "" {
		contentType = media.DefaultContentType
	}

	path := owner + "/" + uuid.NewString() + media.Extension(contentType)
	ref, err := s.blobs.Upload(ctx, path, asset.Data, contentType)
	if err != nil {
		return Recording{}, &RemoteError{Op: "upload asset", Err: err}
	}
	assetURL := s.blobs.PublicURL(ref)

	row, err := s.meta.Insert(ctx, Recording{
		OwnerID:         owner,
		Title:           title,
		AssetURL:        StringPtr(assetURL),
		DurationSeconds: IntPtr(durationSeconds),
	})
	if err != nil {
		s.log.Warnf("insert recording failed, orphaned blob left at %s: %v", path, err)
		return Recording{}, &RemoteError{Op: "insert recording", Err: err}
	}

	s.mu.Lock()
	if s.owner == "" || s.owner == owner {
		s.owner = owner
		s.items[row.ID] = row
	}
	s.mu.Unlock()

	s.log.Infof("created recording %s (%s, %ds)", row.ID, title, durationSeconds)
	return row, nil
}

// Update patches a recording remotely and then mirrors the patch locally.
func (s *Store) Update(ctx context.Context, id string, p Patch) error {
	if p.Empty() {
		return nil
	}
	if err := s.meta.Update(ctx, id, p); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return &RemoteError{Op: "update recording", Err: err}
	}

	s.mu.Lock()
	if r, ok := s.items[id]; ok {
		p.Apply(&r)
		r.UpdatedAt = s.now()
		s.items[id] = r
	}
	s.mu.Unlock()
	return nil
}

// Delete removes the recording's blob, then its row, then the local entry.
// A blob failure other than not-found aborts before the row is touched.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	r, ok := s.items[id]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	if r.AssetURL != nil && *r.AssetURL != "" {
		ref, err := s.blobs.Ref(*r.AssetURL)
		if err != nil {
			return &RemoteError{Op: "resolve asset", Err: err}
		}
		if err := s.blobs.Remove(ctx, ref); err != nil {
			return &RemoteError{Op: "remove asset", Err: err}
		}
	}

	if err := s.meta.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Already gone remotely; drop the stale local entry too.
			s.forget(id)
			return ErrNotFound
		}
		return &RemoteError{Op: "delete recording", Err: err}
	}

	s.forget(id)
	s.log.Infof("deleted recording %s", id)
	return nil
}

func (s *Store) forget(id string) {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
}

// Items returns a copy of the collection, newest first.
func (s *Store) Items() []Recording {
	s.mu.Lock()
	out := make([]Recording, 0, len(s.items))
	for _, r := range s.items {
		out = append(out, r)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns one recording from the collection.
func (s *Store) Get(id string) (Recording, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	return r, ok
}

// Owner returns the owner whose recordings are loaded.
func (s *Store) Owner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}
