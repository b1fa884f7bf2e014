package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/jwulff/quill/internal/capture"
)

// mockAudiod speaks the daemon protocol on a Unix socket. After a successful
// acquire it streams fragments on the subscribed connection; stop is answered
// with a finalized event.
type mockAudiod struct {
	path        string
	ln          net.Listener
	fragments   [][]byte
	acquireResp Response

	mu           sync.Mutex
	events       net.Conn
	cmds         []string
	acquireDelay time.Duration
}

func startMockAudiod(t *testing.T, fragments [][]byte, acquireResp Response) *mockAudiod {
	t.Helper()

	path := filepath.Join(t.TempDir(), "audiod.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	m := &mockAudiod{path: path, ln: ln, fragments: fragments, acquireResp: acquireResp}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go m.serve(conn)
		}
	}()
	return m
}

func (m *mockAudiod) serve(conn net.Conn) {
	defer conn.Close()
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		var cmd Command
		if err := json.Unmarshal(sc.Bytes(), &cmd); err != nil {
			return
		}
		m.mu.Lock()
		m.cmds = append(m.cmds, cmd.Cmd)
		m.mu.Unlock()

		switch cmd.Cmd {
		case "subscribe":
			writeLine(conn, Response{OK: true})
			m.mu.Lock()
			m.events = conn
			m.mu.Unlock()
		case "acquire":
			m.mu.Lock()
			delay := m.acquireDelay
			m.mu.Unlock()
			time.Sleep(delay)
			writeLine(conn, m.acquireResp)
			if m.acquireResp.OK {
				for i, f := range m.fragments {
					m.sendEvent(Event{Event: EventFragment, Data: f, Seq: IntPtr(i)})
				}
			}
		case "stop":
			writeLine(conn, Response{OK: true})
			m.sendEvent(Event{Event: EventFinalized, MimeType: "audio/ogg"})
		default:
			writeLine(conn, Response{OK: true})
		}
	}
}

func (m *mockAudiod) sendEvent(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events != nil {
		writeLine(m.events, ev)
	}
}

func (m *mockAudiod) commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cmds...)
}

func writeLine(conn net.Conn, v any) {
	data, _ := json.Marshal(v)
	conn.Write(append(data, '\n'))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestDeviceCaptureSession(t *testing.T) {
	m := startMockAudiod(t, [][]byte{[]byte("one-"), []byte("two-"), []byte("three")}, Response{OK: true, Device: "Test Mic"})
	log := zaptest.NewLogger(t).Sugar()
	session := capture.NewSession(NewDevice(m.path, log), capture.WithSpoolDir(t.TempDir()), capture.WithLogger(log))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := session.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := session.State(); got != capture.Recording {
		t.Fatalf("state = %s, want recording", got)
	}

	asset, err := session.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if string(asset.Data) != "one-two-three" {
		t.Errorf("data = %q, want %q", asset.Data, "one-two-three")
	}
	if asset.MIMEType != "audio/ogg" {
		t.Errorf("mime = %q, want %q", asset.MIMEType, "audio/ogg")
	}
	if filepath.Ext(asset.Ref) != ".ogg" {
		t.Errorf("ref = %q, want .ogg spool file", asset.Ref)
	}

	waitFor(t, func() bool { return contains(m.commands(), "release") })
}

func TestDevicePermissionDenied(t *testing.T) {
	m := startMockAudiod(t, nil, Response{
		OK:        false,
		Error:     "Microphone permission denied",
		ErrorKind: ErrorKindPermissionDenied,
	})
	session := capture.NewSession(NewDevice(m.path, zaptest.NewLogger(t).Sugar()))

	err := session.Start(context.Background())
	var acqErr *capture.AcquireError
	if !errors.As(err, &acqErr) {
		t.Fatalf("Start = %v, want *capture.AcquireError", err)
	}
	if acqErr.Kind != capture.KindPermissionDenied {
		t.Errorf("kind = %s, want permission-denied", acqErr.Kind)
	}
	if session.State() != capture.Failed {
		t.Errorf("state = %s, want failed", session.State())
	}
}

func TestDeviceDaemonNotRunning(t *testing.T) {
	dev := NewDevice(filepath.Join(t.TempDir(), "missing.sock"), nil)
	_, err := dev.Acquire(context.Background(), capture.DefaultConfig)
	if err == nil {
		t.Fatal("Acquire succeeded without a daemon")
	}
	if kind := capture.Classify(err); kind != capture.KindOther {
		t.Errorf("kind = %s, want device-other", kind)
	}
}

func TestDeviceResetReleases(t *testing.T) {
	m := startMockAudiod(t, nil, Response{OK: true})
	session := capture.NewSession(NewDevice(m.path, zaptest.NewLogger(t).Sugar()))

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	session.Reset()

	waitFor(t, func() bool { return contains(m.commands(), "release") })
	if session.State() != capture.Idle {
		t.Errorf("state = %s, want idle", session.State())
	}
}

func TestDeviceCancelledAcquireReleases(t *testing.T) {
	m := startMockAudiod(t, nil, Response{OK: true, Device: "Test Mic"})
	m.mu.Lock()
	m.acquireDelay = 300 * time.Millisecond
	m.mu.Unlock()
	dev := NewDevice(m.path, zaptest.NewLogger(t).Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	waitDone := make(chan struct{})
	go func() {
		defer close(waitDone)
		for !contains(m.commands(), "acquire") {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
	}()

	h, err := dev.Acquire(ctx, capture.DefaultConfig)
	<-waitDone
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire err = %v, want context.Canceled", err)
	}
	if h != nil {
		t.Fatal("Acquire returned a handle after cancel")
	}
	if !contains(m.commands(), "release") {
		t.Errorf("commands = %v, want a release after the cancelled acquire", m.commands())
	}
}
