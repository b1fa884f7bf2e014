// Package capturetest provides a scripted capture device and ticker for tests
// of packages built on capture.Session.
package capturetest

import (
	"context"
	"sync"
	"time"

	"github.com/jwulff/quill/internal/capture"
)

// Device hands out handles that finalize asynchronously on Stop. Err, when set,
// is returned by the next Acquire.
type Device struct {
	mu      sync.Mutex
	Err     error
	live    int
	handles []*Handle
}

func (d *Device) Acquire(ctx context.Context, cfg capture.Config) (capture.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		err := d.Err
		d.Err = nil
		return nil, err
	}
	h := &Handle{dev: d}
	d.live++
	d.handles = append(d.handles, h)
	return h, nil
}

// Live returns the number of acquired, unreleased handles.
func (d *Device) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

// Emit delivers a fragment through the most recent handle.
func (d *Device) Emit(data []byte) {
	d.mu.Lock()
	h := d.handles[len(d.handles)-1]
	d.mu.Unlock()
	h.mu.Lock()
	f := h.onFragment
	h.mu.Unlock()
	if f != nil {
		f(data)
	}
}

// Handle is a fake device grant.
type Handle struct {
	dev *Device

	mu         sync.Mutex
	onFragment func([]byte)
	onFinalize func(string)
	released   bool
}

func (h *Handle) OnFragment(f func([]byte)) {
	h.mu.Lock()
	h.onFragment = f
	h.mu.Unlock()
}

func (h *Handle) OnFinalize(f func(string)) {
	h.mu.Lock()
	h.onFinalize = f
	h.mu.Unlock()
}

func (h *Handle) Stop() {
	go func() {
		h.mu.Lock()
		f := h.onFinalize
		h.mu.Unlock()
		if f != nil {
			f("audio/webm")
		}
	}()
}

func (h *Handle) ReleaseAllTracks() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	h.dev.mu.Lock()
	h.dev.live--
	h.dev.mu.Unlock()
}

// Clock hands out manually driven tickers.
type Clock struct {
	mu     sync.Mutex
	latest chan time.Time
}

func (c *Clock) NewTicker(time.Duration) capture.Ticker {
	ch := make(chan time.Time)
	c.mu.Lock()
	c.latest = ch
	c.mu.Unlock()
	return &ticker{ch: ch}
}

// Tick fires the most recent ticker once, blocking until it is read or
// timeout passes. It reports whether the tick was delivered.
func (c *Clock) Tick(timeout time.Duration) bool {
	c.mu.Lock()
	ch := c.latest
	c.mu.Unlock()
	if ch == nil {
		return false
	}
	select {
	case ch <- time.Now():
		return true
	case <-time.After(timeout):
		return false
	}
}

type ticker struct{ ch chan time.Time }

func (t *ticker) C() <-chan time.Time { return t.ch }
func (t *ticker) Stop()               {}
