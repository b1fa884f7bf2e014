package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jwulff/quill/internal/capture"
)

const releaseTimeout = 2 * time.Second

// Device is a capture.Device backed by quill-audiod. Each acquisition opens
// two connections: one subscribed to events and one for commands.
type Device struct {
	socketPath string
	log        *zap.SugaredLogger
}

// NewDevice returns a device that dials socketPath on each acquisition.
func NewDevice(socketPath string, log *zap.SugaredLogger) *Device {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Device{socketPath: socketPath, log: log}
}

// Acquire subscribes to capture events, then asks the daemon for the input.
func (d *Device) Acquire(ctx context.Context, cfg capture.Config) (capture.Handle, error) {
	events, err := ConnectContext(ctx, d.socketPath)
	if err != nil {
		return nil, err
	}
	cmds, err := ConnectContext(ctx, d.socketPath)
	if err != nil {
		events.Close()
		return nil, err
	}

	// Unblock the round trips below if ctx ends first.
	stop := context.AfterFunc(ctx, func() {
		events.Close()
		cmds.Close()
	})
	defer stop()

	if err := events.Subscribe(EventFragment, EventFinalized, EventError); err != nil {
		events.Close()
		cmds.Close()
		return nil, ctxErr(ctx, err)
	}

	resp, err := cmds.SendCommand(Command{Cmd: "acquire", Config: &cfg})
	if err == nil && !resp.OK {
		err = responseError(resp)
	}
	if err != nil {
		events.Close()
		cmds.Close()
		if ctx.Err() != nil {
			// The acquire may have reached the daemon before ctx ended.
			d.release()
		}
		return nil, ctxErr(ctx, err)
	}

	if !stop() {
		// ctx ended after the daemon granted the input; connections are closed.
		d.release()
		return nil, ctx.Err()
	}

	h := &handle{
		cmds:   cmds,
		events: events,
		log:    d.log,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	go h.pump()
	d.log.Debugf("acquired capture device %s", resp.Device)
	return h, nil
}

// release asks the daemon to free the input over a fresh connection.
func (d *Device) release() {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	c, err := ConnectContext(ctx, d.socketPath)
	if err != nil {
		d.log.Debugf("release after cancelled acquire: %v", err)
		return
	}
	defer c.Close()
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()
	if _, err := c.SendCommand(Command{Cmd: "release"}); err != nil {
		d.log.Debugf("release after cancelled acquire: %v", err)
	}
}

func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func responseError(resp Response) error {
	switch resp.ErrorKind {
	case ErrorKindPermissionDenied:
		return fmt.Errorf("%w: %s", capture.ErrPermissionDenied, resp.Error)
	case ErrorKindDeviceAbsent:
		return fmt.Errorf("%w: %s", capture.ErrDeviceAbsent, resp.Error)
	default:
		if resp.Error == "" {
			return errors.New("daemon refused acquire")
		}
		return errors.New(resp.Error)
	}
}

// handle delivers daemon events to the session's callbacks. Event delivery
// starts once both callbacks are registered; until then events wait in the
// socket.
type handle struct {
	cmds   *Client
	events *Client
	log    *zap.SugaredLogger

	mu         sync.Mutex
	onFragment func([]byte)
	onFinalize func(string)
	readyOnce  sync.Once
	ready      chan struct{}

	releaseOnce sync.Once
	done        chan struct{}
}

func (h *handle) OnFragment(f func([]byte)) {
	h.mu.Lock()
	h.onFragment = f
	h.mu.Unlock()
	h.checkReady()
}

func (h *handle) OnFinalize(f func(string)) {
	h.mu.Lock()
	h.onFinalize = f
	h.mu.Unlock()
	h.checkReady()
}

func (h *handle) checkReady() {
	h.mu.Lock()
	ok := h.onFragment != nil && h.onFinalize != nil
	h.mu.Unlock()
	if ok {
		h.readyOnce.Do(func() { close(h.ready) })
	}
}

func (h *handle) pump() {
	select {
	case <-h.ready:
	case <-h.done:
		return
	}

	h.mu.Lock()
	onFragment, onFinalize := h.onFragment, h.onFinalize
	h.mu.Unlock()

	for {
		ev, err := h.events.ReadEvent()
		if err != nil {
			select {
			case <-h.done:
			default:
				h.log.Warnf("capture event stream ended: %v", err)
			}
			return
		}
		switch ev.Event {
		case EventFragment:
			onFragment(ev.Data)
		case EventFinalized:
			onFinalize(ev.MimeType)
		case EventError:
			h.log.Warnf("capture daemon error: %s", ev.Message)
		}
	}
}

// Stop asks the daemon to flush and finalize.
func (h *handle) Stop() {
	resp, err := h.cmds.SendCommand(Command{Cmd: "stop"})
	if err != nil {
		h.log.Warnf("stop capture: %v", err)
		return
	}
	if !resp.OK {
		h.log.Warnf("stop capture: %s", resp.Error)
	}
}

// ReleaseAllTracks tells the daemon to release the input and closes both
// connections.
func (h *handle) ReleaseAllTracks() {
	h.releaseOnce.Do(func() {
		close(h.done)
		if _, err := h.cmds.SendCommand(Command{Cmd: "release"}); err != nil {
			h.log.Debugf("release capture: %v", err)
		}
		h.cmds.Close()
		h.events.Close()
	})
}
