// Package workflow ties a capture session, the recording store and a
// summarizer into the save-and-summarize flow.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jwulff/quill/internal/auth"
	"github.com/jwulff/quill/internal/capture"
	"github.com/jwulff/quill/internal/media"
	"github.com/jwulff/quill/internal/recording"
	"github.com/jwulff/quill/internal/summarize"
)

var (
	// ErrSignInRequired is returned by saves when nobody is signed in.
	ErrSignInRequired = errors.New("please sign in to save recordings")
	// ErrNoAsset is returned when there is no finished capture or asset URL.
	ErrNoAsset = errors.New("nothing recorded to save")
	// ErrUnsupportedFile is returned by SaveFromFile for non-audio files.
	ErrUnsupportedFile = errors.New("please select an audio file")
	// ErrSummaryPending is returned when the recording is already being summarized.
	ErrSummaryPending = errors.New("summary already in progress")
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("orchestrator closed")
)

// DefaultTimeout bounds one background summarization.
const DefaultTimeout = 2 * time.Minute

// Event reports a finished summarization. Persisted is false when the summary
// could not be written back and is only held locally.
type Event struct {
	RecordingID string
	Summary     string
	Transcript  string
	Persisted   bool
	Err         error
}

// Result is a summary held by the orchestrator.
type Result struct {
	Summary    string
	Transcript string
	Persisted  bool
}

// AudioSource loads the audio behind an asset URL.
type AudioSource interface {
	Fetch(ctx context.Context, assetURL string) ([]byte, string, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithTimeout bounds each background summarization.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithAudioSource lets Summarize load audio for recordings saved earlier.
func WithAudioSource(src AudioSource) Option {
	return func(o *Orchestrator) { o.audio = src }
}

// WithEventBuffer sets the capacity of the Events channel.
func WithEventBuffer(n int) Option {
	return func(o *Orchestrator) { o.events = make(chan Event, n) }
}

// Orchestrator runs the save procedure and tracks background summaries.
type Orchestrator struct {
	session    *capture.Session
	store      *recording.Store
	auth       auth.Provider
	summarizer summarize.Summarizer
	audio      AudioSource
	log        *zap.SugaredLogger
	timeout    time.Duration
	events     chan Event

	group errgroup.Group

	mu       sync.Mutex
	inflight map[string]struct{}
	results  map[string]Result
	closed   bool
}

// New creates an orchestrator over its collaborators.
func New(session *capture.Session, store *recording.Store, authp auth.Provider, summarizer summarize.Summarizer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		session:    session,
		store:      store,
		auth:       authp,
		summarizer: summarizer,
		log:        zap.NewNop().Sugar(),
		timeout:    DefaultTimeout,
		events:     make(chan Event, 16),
		inflight:   make(map[string]struct{}),
		results:    make(map[string]Result),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SaveFromCapture saves the session's finished capture and starts its summary.
func (o *Orchestrator) SaveFromCapture(ctx context.Context, title string) (recording.Recording, error) {
	snap := o.session.Snapshot()
	if snap.State != capture.Stopped || snap.Asset == nil {
		return recording.Recording{}, ErrNoAsset
	}
	asset := recording.Asset{Data: snap.Asset.Data, ContentType: snap.Asset.MIMEType}
	return o.save(ctx, asset, title, snap.Elapsed)
}

// SaveFromFile saves an audio file and starts its summary. Any capture in the
// session is discarded. The default title is the file name without extension.
func (o *Orchestrator) SaveFromFile(ctx context.Context, path, title string) (recording.Recording, error) {
	contentType := media.ContentTypeFor(path)
	if !media.IsAudio(contentType) {
		return recording.Recording{}, fmt.Errorf("%s: %w", filepath.Base(path), ErrUnsupportedFile)
	}
	o.session.Reset()

	data, err := os.ReadFile(path)
	if err != nil {
		return recording.Recording{}, fmt.Errorf("read %s: %w", path, err)
	}
	if title == "" {
		base := filepath.Base(path)
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return o.save(ctx, recording.Asset{Data: data, ContentType: contentType}, title, 0)
}

func (o *Orchestrator) save(ctx context.Context, asset recording.Asset, title string, duration int) (recording.Recording, error) {
	owner, ok := o.auth.CurrentUser()
	if !ok {
		return recording.Recording{}, ErrSignInRequired
	}

	rec, err := o.store.Create(ctx, asset, title, duration, owner)
	if err != nil {
		return recording.Recording{}, err
	}

	in := summarize.Input{
		RecordingID: rec.ID,
		Title:       rec.Title,
		Audio:       asset.Data,
		ContentType: asset.ContentType,
	}
	if rec.AssetURL != nil {
		in.AssetURL = *rec.AssetURL
	}
	if err := o.dispatch(in); err != nil {
		o.log.Warnf("recording %s saved but summary not started: %v", rec.ID, err)
	}
	return rec, nil
}

// Summarize starts a summary for an existing recording, for example after a
// previous summary could not be written back.
func (o *Orchestrator) Summarize(ctx context.Context, id string) error {
	rec, ok := o.store.Get(id)
	if !ok {
		return recording.ErrNotFound
	}
	if rec.AssetURL == nil || *rec.AssetURL == "" {
		return ErrNoAsset
	}

	in := summarize.Input{
		RecordingID: rec.ID,
		Title:       rec.Title,
		AssetURL:    *rec.AssetURL,
	}
	if rec.Transcript != nil {
		in.Transcript = *rec.Transcript
	}
	if o.audio != nil && in.Transcript == "" {
		data, contentType, err := o.audio.Fetch(ctx, in.AssetURL)
		if err != nil {
			o.log.Warnf("load audio for %s: %v", id, err)
		} else {
			in.Audio = data
			in.ContentType = contentType
		}
	}
	return o.dispatch(in)
}

func (o *Orchestrator) dispatch(in summarize.Input) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if _, ok := o.inflight[in.RecordingID]; ok {
		o.mu.Unlock()
		return ErrSummaryPending
	}
	o.inflight[in.RecordingID] = struct{}{}
	// Registered under mu so Close cannot start waiting before the task exists.
	o.group.Go(func() error {
		o.run(in)
		return nil
	})
	o.mu.Unlock()

	o.log.Infof("summarizing recording %s", in.RecordingID)
	return nil
}

// run is detached from the caller's context: a summary, once started, runs to
// completion or timeout.
func (o *Orchestrator) run(in summarize.Input) {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	id := in.RecordingID
	s, err := o.summarizer.Summarize(ctx, in)
	if err != nil {
		o.finish(id, nil)
		o.log.Warnf("summarize %s: %v", id, err)
		o.emit(Event{RecordingID: id, Err: fmt.Errorf("summarize: %w", err)})
		return
	}

	patch := recording.Patch{Summary: recording.StringPtr(s.Text)}
	if s.Transcript != "" {
		patch.Transcript = recording.StringPtr(s.Transcript)
	}
	uerr := o.store.Update(ctx, id, patch)
	if uerr != nil {
		o.log.Warnf("summary for %s kept locally, update failed: %v", id, uerr)
	}

	res := Result{Summary: s.Text, Transcript: s.Transcript, Persisted: uerr == nil}
	o.finish(id, &res)
	o.emit(Event{
		RecordingID: id,
		Summary:     s.Text,
		Transcript:  s.Transcript,
		Persisted:   res.Persisted,
		Err:         uerr,
	})
}

func (o *Orchestrator) finish(id string, res *Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if res != nil {
		o.results[id] = *res
	} else {
		delete(o.results, id)
	}
	delete(o.inflight, id)
}

func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	default:
		o.log.Warnf("event buffer full, dropped summary event for %s", ev.RecordingID)
	}
}

// Events streams finished summaries. It is closed by Close.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// Pending reports whether a summary for id is in flight.
func (o *Orchestrator) Pending(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[id]
	return ok
}

// Result returns the summary produced by the latest run for id. A failed run
// clears it.
func (o *Orchestrator) Result(id string) (Result, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.results[id]
	return r, ok
}

// Wait blocks until every dispatched summary has finished.
func (o *Orchestrator) Wait() {
	_ = o.group.Wait()
}

// Close refuses new summaries, waits for running ones and closes Events.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.Wait()
	close(o.events)
}
