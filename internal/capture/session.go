package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jwulff/quill/internal/media"
)

// State is the lifecycle state of a capture session.
type State int

const (
	Idle State = iota
	Acquiring
	Recording
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Acquiring:
		return "acquiring"
	case Recording:
		return "recording"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrBusy is returned when the session is already acquiring, recording or
	// stopping.
	ErrBusy = errors.New("capture session busy")
	// ErrNotRecording is returned by Stop when there is nothing to stop.
	ErrNotRecording = errors.New("capture session is not recording")
	// ErrCancelled is returned by Start when the acquisition was cancelled by
	// Stop or Reset before the device answered.
	ErrCancelled = errors.New("capture acquisition cancelled")
	// ErrReset is returned by Stop when Reset ran while it waited.
	ErrReset = errors.New("capture session reset")
)

// Asset is a finished capture. Ref is a spool file holding Data and stays
// valid until the session is reset or restarted.
type Asset struct {
	Data     []byte
	MIMEType string
	Ref      string
}

// Snapshot is a consistent view of the session for display.
type Snapshot struct {
	State   State
	Elapsed int
	Asset   *Asset
	Failure *AcquireError
}

// Option configures a Session.
type Option func(*Session)

// WithTicker replaces the one-second wall clock ticker.
func WithTicker(f TickerFunc) Option {
	return func(s *Session) { s.newTicker = f }
}

// WithSpoolDir sets where finished captures are written.
func WithSpoolDir(dir string) Option {
	return func(s *Session) { s.spoolDir = dir }
}

// WithLogger sets the session logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Session) { s.log = log }
}

// Session drives one audio input through Idle, Acquiring, Recording, Stopped
// and Failed. It holds at most one device handle and one running ticker.
type Session struct {
	device    Device
	newTicker TickerFunc
	spoolDir  string
	log       *zap.SugaredLogger

	mu        sync.Mutex
	state     State
	gen       uint64
	acquiring chan struct{} // closed when the outstanding Acquire call resolves
	handle    Handle
	ticker    Ticker
	tickDone  chan struct{}
	finalized chan string
	aborted   chan struct{}
	stopping  bool
	chunks    [][]byte
	elapsed   int
	asset     *Asset
	failure   *AcquireError
}

// NewSession creates an idle session over device.
func NewSession(device Device, opts ...Option) *Session {
	s := &Session{
		device:    device,
		newTicker: NewRealTicker,
		spoolDir:  os.TempDir(),
		log:       zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start acquires the device and begins recording. Any previous asset is
// discarded first. If a cancelled acquisition is still waiting on the device,
// Start waits for it to resolve and release before acquiring again.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	for s.acquiring != nil && s.state != Acquiring {
		pending := s.acquiring
		s.mu.Unlock()
		select {
		case <-pending:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}
	switch s.state {
	case Acquiring, Recording:
		s.mu.Unlock()
		return ErrBusy
	case Stopped, Failed:
		s.clearLocked()
	}
	s.gen++
	gen := s.gen
	done := make(chan struct{})
	s.acquiring = done
	s.state = Acquiring
	s.mu.Unlock()

	h, err := s.device.Acquire(ctx, DefaultConfig)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		if err == nil && h != nil {
			h.ReleaseAllTracks()
			s.log.Debugf("released device from cancelled acquisition")
		}
		s.mu.Lock()
		s.resolveAcquireLocked(done)
		s.mu.Unlock()
		return ErrCancelled
	}
	s.resolveAcquireLocked(done)
	if err != nil {
		s.state = Failed
		s.failure = &AcquireError{Kind: Classify(err), Err: err}
		s.mu.Unlock()
		s.log.Warnf("capture acquisition failed: %v", err)
		return s.failure
	}

	fin := make(chan string, 1)
	s.handle = h
	s.chunks = nil
	s.elapsed = 0
	s.stopping = false
	s.finalized = fin
	s.aborted = make(chan struct{})
	s.ticker = s.newTicker(time.Second)
	s.tickDone = make(chan struct{})
	go s.runTicker(gen, s.ticker, s.tickDone)
	s.state = Recording
	s.mu.Unlock()

	// Registered outside the lock: a handle may flush queued fragments from
	// inside OnFragment.
	h.OnFragment(func(data []byte) { s.appendFragment(gen, data) })
	h.OnFinalize(func(mimeType string) {
		select {
		case fin <- mimeType:
		default:
		}
	})
	s.log.Infof("capture started")
	return nil
}

// Stop ends a recording and returns the finished asset. Called while the
// device is still being acquired, it cancels the acquisition instead and
// returns a nil asset.
func (s *Session) Stop(ctx context.Context) (*Asset, error) {
	s.mu.Lock()
	switch s.state {
	case Acquiring:
		s.gen++
		s.state = Idle
		s.mu.Unlock()
		s.log.Infof("capture acquisition cancelled")
		return nil, nil
	case Recording:
		if s.stopping {
			s.mu.Unlock()
			return nil, ErrBusy
		}
	default:
		s.mu.Unlock()
		return nil, ErrNotRecording
	}
	s.stopping = true
	h, fin, aborted, gen := s.handle, s.finalized, s.aborted, s.gen
	s.mu.Unlock()

	h.Stop()

	var mimeType string
	var waitErr error
	select {
	case mimeType = <-fin:
	case <-aborted:
		return nil, ErrReset
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return nil, ErrReset
	}
	if waitErr != nil {
		s.releaseLocked()
		s.chunks = nil
		s.state = Failed
		s.failure = &AcquireError{Kind: KindOther, Err: fmt.Errorf("finalize capture: %w", waitErr)}
		return nil, s.failure
	}

	if mimeType == "" {
		mimeType = media.DefaultContentType
	}
	data := bytes.Join(s.chunks, nil)
	ref, err := s.writeSpool(data, mimeType)
	if err != nil {
		s.log.Warnf("spool capture: %v", err)
	}
	s.asset = &Asset{Data: data, MIMEType: mimeType, Ref: ref}
	s.chunks = nil
	s.releaseLocked()
	s.state = Stopped
	s.log.Infof("capture stopped: %d bytes, %ds", len(data), s.elapsed)

	a := *s.asset
	return &a, nil
}

// Reset returns the session to Idle from any state, releasing the device and
// ticker and discarding any asset.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.state == Recording && s.handle != nil && !s.stopping {
		s.handle.Stop()
	}
	s.releaseLocked()
	s.clearLocked()
	s.state = Idle
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Elapsed returns whole seconds recorded.
func (s *Session) Elapsed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

// Asset returns the finished capture, or nil unless Stopped.
func (s *Session) Asset() *Asset {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.asset == nil {
		return nil
	}
	a := *s.asset
	return &a
}

// Failure returns the acquisition failure, or nil unless Failed.
func (s *Session) Failure() *AcquireError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Snapshot returns state, elapsed seconds, asset and failure read together.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{State: s.state, Elapsed: s.elapsed, Failure: s.failure}
	if s.asset != nil {
		a := *s.asset
		snap.Asset = &a
	}
	return snap
}

func (s *Session) resolveAcquireLocked(done chan struct{}) {
	close(done)
	if s.acquiring == done {
		s.acquiring = nil
	}
}

func (s *Session) appendFragment(gen uint64, data []byte) {
	if len(data) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.state != Recording {
		return
	}
	s.chunks = append(s.chunks, bytes.Clone(data))
}

func (s *Session) runTicker(gen uint64, t Ticker, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-t.C():
			s.mu.Lock()
			if s.gen == gen && s.state == Recording && !s.stopping {
				s.elapsed++
			}
			s.mu.Unlock()
		}
	}
}

// releaseLocked releases the handle, stops the ticker and wakes a waiting Stop.
func (s *Session) releaseLocked() {
	if s.handle != nil {
		s.handle.ReleaseAllTracks()
		s.handle = nil
	}
	if s.ticker != nil {
		s.ticker.Stop()
		close(s.tickDone)
		s.ticker = nil
		s.tickDone = nil
	}
	if s.aborted != nil {
		close(s.aborted)
		s.aborted = nil
	}
	s.finalized = nil
	s.stopping = false
}

func (s *Session) clearLocked() {
	if s.asset != nil && s.asset.Ref != "" {
		if err := os.Remove(s.asset.Ref); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warnf("remove spool %s: %v", s.asset.Ref, err)
		}
	}
	s.asset = nil
	s.chunks = nil
	s.elapsed = 0
	s.failure = nil
}

func (s *Session) writeSpool(data []byte, mimeType string) (string, error) {
	if err := os.MkdirAll(s.spoolDir, 0o755); err != nil {
		return "", fmt.Errorf("create spool dir: %w", err)
	}
	path := filepath.Join(s.spoolDir, "capture-"+uuid.NewString()+media.Extension(mimeType))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write spool file: %w", err)
	}
	return path, nil
}
