package capture

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeHandle struct {
	dev *fakeDevice

	mu         sync.Mutex
	onFragment func([]byte)
	onFinalize func(string)
	released   bool
	stopped    bool
	tail       []byte
}

func (h *fakeHandle) OnFragment(f func([]byte)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onFragment = f
}

func (h *fakeHandle) OnFinalize(f func(string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onFinalize = f
}

func (h *fakeHandle) emit(data []byte) {
	h.mu.Lock()
	f := h.onFragment
	h.mu.Unlock()
	if f != nil {
		f(data)
	}
}

// Stop flushes the tail fragment and finalizes from another goroutine, as a
// real pipeline would.
func (h *fakeHandle) Stop() {
	h.mu.Lock()
	h.stopped = true
	tail := h.tail
	h.mu.Unlock()
	if !h.dev.finalize {
		return
	}
	go func() {
		if tail != nil {
			h.emit(tail)
		}
		h.mu.Lock()
		f := h.onFinalize
		h.mu.Unlock()
		if f != nil {
			f("audio/webm")
		}
	}()
}

func (h *fakeHandle) ReleaseAllTracks() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		h.dev.doubleRelease.Add(1)
		return
	}
	h.released = true
	h.dev.live.Add(-1)
	h.dev.held.Add(-1)
}

type fakeDevice struct {
	live          atomic.Int64
	pending       atomic.Int64
	held          atomic.Int64 // pending plus live, moved in one step
	maxHeld       atomic.Int64
	doubleRelease atomic.Int64
	finalize      bool
	tail          []byte
	delay         func() time.Duration

	mu      sync.Mutex
	errs    []error
	gate    chan struct{}
	handles []*fakeHandle
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{finalize: true}
}

func (d *fakeDevice) Acquire(ctx context.Context, cfg Config) (Handle, error) {
	d.mu.Lock()
	gate := d.gate
	var err error
	if len(d.errs) > 0 {
		err = d.errs[0]
		d.errs = d.errs[1:]
	}
	d.mu.Unlock()

	d.pending.Add(1)
	d.noteHeld(d.held.Add(1))

	if gate != nil {
		<-gate
	}
	if d.delay != nil {
		time.Sleep(d.delay())
	}
	if err != nil {
		d.pending.Add(-1)
		d.held.Add(-1)
		return nil, err
	}
	h := &fakeHandle{dev: d, tail: d.tail}
	d.pending.Add(-1)
	d.live.Add(1)
	d.mu.Lock()
	d.handles = append(d.handles, h)
	d.mu.Unlock()
	return h, nil
}

func (d *fakeDevice) noteHeld(held int64) {
	for {
		peak := d.maxHeld.Load()
		if held <= peak || d.maxHeld.CompareAndSwap(peak, held) {
			return
		}
	}
}

func (d *fakeDevice) last() *fakeHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handles[len(d.handles)-1]
}

type fakeTicker struct {
	clock *fakeClock
	ch    chan time.Time
	once  sync.Once
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.once.Do(func() { t.clock.live.Add(-1) })
}

type fakeClock struct {
	live    atomic.Int64
	maxLive atomic.Int64

	mu      sync.Mutex
	tickers []*fakeTicker
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	t := &fakeTicker{clock: c, ch: make(chan time.Time)}
	if n := c.live.Add(1); n > c.maxLive.Load() {
		c.maxLive.Store(n)
	}
	c.mu.Lock()
	c.tickers = append(c.tickers, t)
	c.mu.Unlock()
	return t
}

func (c *fakeClock) tick(t *testing.T) {
	t.Helper()
	c.mu.Lock()
	tk := c.tickers[len(c.tickers)-1]
	c.mu.Unlock()
	select {
	case tk.ch <- time.Now():
	case <-time.After(time.Second):
		t.Fatal("ticker not being read")
	}
}

func newTestSession(t *testing.T, dev *fakeDevice) (*Session, *fakeClock) {
	t.Helper()
	clock := &fakeClock{}
	s := NewSession(dev,
		WithTicker(clock.NewTicker),
		WithSpoolDir(t.TempDir()),
		WithLogger(zaptest.NewLogger(t).Sugar()),
	)
	return s, clock
}

func TestSessionStartStop(t *testing.T) {
	dev := newFakeDevice()
	s, clock := newTestSession(t, dev)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, Recording, s.State())
	assert.EqualValues(t, 1, dev.live.Load())
	assert.EqualValues(t, 1, clock.live.Load())

	h := dev.last()
	h.emit([]byte("ab"))
	h.emit([]byte("cd"))

	asset, err := s.Stop(ctx)
	require.NoError(t, err)
	require.NotNil(t, asset)
	assert.Equal(t, []byte("abcd"), asset.Data)
	assert.Equal(t, "audio/webm", asset.MIMEType)
	assert.Equal(t, Stopped, s.State())
	assert.EqualValues(t, 0, dev.live.Load())
	assert.EqualValues(t, 0, clock.live.Load())

	spooled, err := os.ReadFile(asset.Ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), spooled)
}

func TestSessionFragmentOrderWithTail(t *testing.T) {
	dev := newFakeDevice()
	dev.tail = []byte("3")
	s, _ := newTestSession(t, dev)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	h := dev.last()
	h.emit([]byte("1"))
	h.emit([]byte("2"))

	asset, err := s.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "123", string(asset.Data))
}

func TestSessionFragmentsAreCopied(t *testing.T) {
	dev := newFakeDevice()
	s, _ := newTestSession(t, dev)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	buf := []byte("xy")
	dev.last().emit(buf)
	buf[0] = 'z'

	asset, err := s.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "xy", string(asset.Data))
}

func TestSessionElapsedTicks(t *testing.T) {
	dev := newFakeDevice()
	s, clock := newTestSession(t, dev)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	for i := 0; i < 3; i++ {
		clock.tick(t)
	}
	require.Eventually(t, func() bool { return s.Elapsed() == 3 }, time.Second, time.Millisecond)

	_, err := s.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Elapsed())
}

func TestSessionStartWhileBusy(t *testing.T) {
	dev := newFakeDevice()
	s, _ := newTestSession(t, dev)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	assert.ErrorIs(t, s.Start(ctx), ErrBusy)
	assert.EqualValues(t, 1, dev.live.Load())
}

func TestSessionStopWhenIdle(t *testing.T) {
	s, _ := newTestSession(t, newFakeDevice())
	_, err := s.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestSessionPermissionDeniedThenRestart(t *testing.T) {
	dev := newFakeDevice()
	dev.errs = []error{fmt.Errorf("getUserMedia: %w", ErrPermissionDenied)}
	s, clock := newTestSession(t, dev)
	ctx := context.Background()

	err := s.Start(ctx)
	var acqErr *AcquireError
	require.True(t, errors.As(err, &acqErr))
	assert.Equal(t, KindPermissionDenied, acqErr.Kind)
	assert.Contains(t, acqErr.Guidance(), "denied")
	assert.Equal(t, Failed, s.State())
	assert.Equal(t, KindPermissionDenied, s.Failure().Kind)
	assert.EqualValues(t, 0, dev.live.Load())
	assert.EqualValues(t, 0, clock.live.Load())

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, Recording, s.State())
	assert.Nil(t, s.Failure())
	assert.Equal(t, 0, s.Elapsed())
}

func TestSessionClassifiesFailures(t *testing.T) {
	tests := []struct {
		err  error
		want FailureKind
	}{
		{ErrPermissionDenied, KindPermissionDenied},
		{fmt.Errorf("open: %w", ErrDeviceAbsent), KindDeviceAbsent},
		{errors.New("boom"), KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			dev := newFakeDevice()
			dev.errs = []error{tt.err}
			s, _ := newTestSession(t, dev)
			require.Error(t, s.Start(context.Background()))
			assert.Equal(t, tt.want, s.Failure().Kind)
		})
	}
}

func TestSessionCancelDuringAcquire(t *testing.T) {
	dev := newFakeDevice()
	dev.gate = make(chan struct{})
	s, clock := newTestSession(t, dev)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	require.Eventually(t, func() bool { return s.State() == Acquiring }, time.Second, time.Millisecond)

	asset, err := s.Stop(ctx)
	require.NoError(t, err)
	assert.Nil(t, asset)
	assert.Equal(t, Idle, s.State())

	close(dev.gate)
	assert.ErrorIs(t, <-done, ErrCancelled)
	assert.Equal(t, Idle, s.State())
	assert.EqualValues(t, 0, dev.live.Load())
	assert.EqualValues(t, 0, clock.live.Load())
}

func TestSessionResetDuringAcquire(t *testing.T) {
	dev := newFakeDevice()
	dev.gate = make(chan struct{})
	s, _ := newTestSession(t, dev)

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()
	require.Eventually(t, func() bool { return s.State() == Acquiring }, time.Second, time.Millisecond)

	s.Reset()
	close(dev.gate)
	assert.ErrorIs(t, <-done, ErrCancelled)
	assert.EqualValues(t, 0, dev.live.Load())
}

func TestSessionRestartWaitsForCancelledAcquire(t *testing.T) {
	dev := newFakeDevice()
	dev.gate = make(chan struct{})
	s, _ := newTestSession(t, dev)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- s.Start(ctx) }()
	require.Eventually(t, func() bool { return s.State() == Acquiring }, time.Second, time.Millisecond)
	_, err := s.Stop(ctx)
	require.NoError(t, err)

	second := make(chan error, 1)
	go func() { second <- s.Start(ctx) }()
	assert.Never(t, func() bool { return dev.pending.Load() > 1 }, 50*time.Millisecond, time.Millisecond)
	select {
	case err := <-second:
		t.Fatalf("restart returned %v before the cancelled acquisition resolved", err)
	default:
	}

	close(dev.gate)
	assert.ErrorIs(t, <-first, ErrCancelled)
	require.NoError(t, <-second)
	assert.Equal(t, Recording, s.State())
	assert.EqualValues(t, 1, dev.live.Load())
	assert.EqualValues(t, 1, dev.maxHeld.Load())
}

func TestSessionRestartWaitHonoursContext(t *testing.T) {
	dev := newFakeDevice()
	dev.gate = make(chan struct{})
	s, _ := newTestSession(t, dev)

	first := make(chan error, 1)
	go func() { first <- s.Start(context.Background()) }()
	require.Eventually(t, func() bool { return s.State() == Acquiring }, time.Second, time.Millisecond)
	s.Reset()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Start(ctx), context.DeadlineExceeded)
	assert.EqualValues(t, 1, dev.pending.Load())

	close(dev.gate)
	assert.ErrorIs(t, <-first, ErrCancelled)
	assert.EqualValues(t, 0, dev.held.Load())
}

func TestSessionStopContextExpires(t *testing.T) {
	dev := newFakeDevice()
	dev.finalize = false
	s, clock := newTestSession(t, dev)

	require.NoError(t, s.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Stop(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Failed, s.State())
	assert.Equal(t, KindOther, s.Failure().Kind)
	assert.EqualValues(t, 0, dev.live.Load())
	assert.EqualValues(t, 0, clock.live.Load())
}

func TestSessionResetUnblocksStop(t *testing.T) {
	dev := newFakeDevice()
	dev.finalize = false
	s, _ := newTestSession(t, dev)
	require.NoError(t, s.Start(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := s.Stop(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.stopping
	}, time.Second, time.Millisecond)

	s.Reset()
	assert.ErrorIs(t, <-done, ErrReset)
	assert.Equal(t, Idle, s.State())
	assert.EqualValues(t, 0, dev.live.Load())
}

func TestSessionResetRemovesSpool(t *testing.T) {
	dev := newFakeDevice()
	s, _ := newTestSession(t, dev)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	dev.last().emit([]byte("data"))
	asset, err := s.Stop(ctx)
	require.NoError(t, err)
	require.FileExists(t, asset.Ref)

	s.Reset()
	assert.NoFileExists(t, asset.Ref)
	assert.Nil(t, s.Asset())
	assert.Equal(t, 0, s.Elapsed())
	assert.Equal(t, Idle, s.State())
}

func TestSessionRestartDiscardsAsset(t *testing.T) {
	dev := newFakeDevice()
	s, _ := newTestSession(t, dev)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	first, err := s.Stop(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Start(ctx))
	assert.Nil(t, s.Asset())
	assert.NoFileExists(t, first.Ref)
}

func TestSessionNeverLeaksHandlesOrTickers(t *testing.T) {
	dev := newFakeDevice()
	s, clock := newTestSession(t, dev)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 300; i++ {
		switch rng.Intn(3) {
		case 0:
			_ = s.Start(ctx)
		case 1:
			_, _ = s.Stop(ctx)
		case 2:
			s.Reset()
		}
		require.LessOrEqual(t, dev.live.Load(), int64(1), "step %d", i)
		require.LessOrEqual(t, clock.live.Load(), int64(1), "step %d", i)
		if st := s.State(); st != Recording {
			require.EqualValues(t, 0, dev.live.Load(), "step %d in %s", i, st)
			require.EqualValues(t, 0, clock.live.Load(), "step %d in %s", i, st)
		}
	}

	s.Reset()
	assert.EqualValues(t, 0, dev.live.Load())
	assert.EqualValues(t, 0, clock.live.Load())
	assert.EqualValues(t, 0, dev.doubleRelease.Load())
}

func TestSessionConcurrentOpsHoldOneDevice(t *testing.T) {
	dev := newFakeDevice()
	var rmu sync.Mutex
	delays := rand.New(rand.NewSource(7))
	dev.delay = func() time.Duration {
		rmu.Lock()
		defer rmu.Unlock()
		return time.Duration(delays.Intn(2000)) * time.Microsecond
	}
	s, clock := newTestSession(t, dev)

	var wg sync.WaitGroup
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 100; i++ {
				ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
				switch rng.Intn(3) {
				case 0:
					_ = s.Start(ctx)
				case 1:
					_, _ = s.Stop(ctx)
				case 2:
					s.Reset()
				}
				cancel()
				if held := dev.held.Load(); held > 1 {
					t.Errorf("worker %d step %d: %d device handles held", seed, i, held)
					return
				}
				if n := clock.live.Load(); n > 1 {
					t.Errorf("worker %d step %d: %d tickers running", seed, i, n)
					return
				}
			}
		}(int64(w))
	}
	wg.Wait()

	s.Reset()
	require.Eventually(t, func() bool { return dev.pending.Load() == 0 }, time.Second, time.Millisecond)
	assert.LessOrEqual(t, dev.maxHeld.Load(), int64(1))
	assert.LessOrEqual(t, clock.maxLive.Load(), int64(1))
	assert.EqualValues(t, 0, dev.live.Load())
	assert.EqualValues(t, 0, clock.live.Load())
	assert.EqualValues(t, 0, dev.doubleRelease.Load())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "recording", Recording.String())
	assert.Equal(t, "state(9)", State(9).String())
}
