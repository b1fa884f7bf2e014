package daemon

import (
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
)

// startMockDaemon creates a Unix socket that accepts one connection,
// reads a command, and writes back a canned response.
func startMockDaemon(t *testing.T, response Response) (string, func()) {
	t.Helper()

	dir := t.TempDir()
	sockPath := filepath.Join(dir, "test.sock")

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		// Read one line (the command)
		buf := make([]byte, 4096)
		if _, err := conn.Read(buf); err != nil {
			return
		}

		data, _ := json.Marshal(response)
		data = append(data, '\n')
		conn.Write(data)
	}()

	return sockPath, func() {
		ln.Close()
		os.Remove(sockPath)
	}
}

func TestClientSendCommand(t *testing.T) {
	recording := true
	resp := Response{
		OK:        true,
		Recording: &recording,
		Device:    "USB Microphone",
	}

	sockPath, cleanup := startMockDaemon(t, resp)
	defer cleanup()

	client, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	got, err := client.SendCommand(Command{Cmd: "status"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if !got.OK {
		t.Error("ok = false, want true")
	}
	if got.Device != "USB Microphone" {
		t.Errorf("device = %q, want %q", got.Device, "USB Microphone")
	}
	if got.Recording == nil || !*got.Recording {
		t.Errorf("recording = %v, want true", got.Recording)
	}
}

func TestClientConnectFailure(t *testing.T) {
	_, err := Connect("/nonexistent/path/audiod.sock")
	if err == nil {
		t.Error("expected error connecting to nonexistent socket")
	}
}

// startMockEventStream creates a daemon that sends a subscribe response
// then streams events and hangs up.
func startMockEventStream(t *testing.T, events []Event) (string, func()) {
	t.Helper()

	dir := t.TempDir()
	sockPath := filepath.Join(dir, "test.sock")

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 4096)
		conn.Read(buf)

		resp, _ := json.Marshal(Response{OK: true})
		conn.Write(append(resp, '\n'))

		for _, ev := range events {
			data, _ := json.Marshal(ev)
			conn.Write(append(data, '\n'))
		}
	}()

	return sockPath, func() {
		ln.Close()
		os.Remove(sockPath)
	}
}

func TestClientReadEvents(t *testing.T) {
	events := []Event{
		{Event: EventFragment, Data: []byte{0x1a, 0x45, 0xdf, 0xa3}, Seq: IntPtr(0)},
		{Event: EventFinalized, MimeType: "audio/webm;codecs=opus"},
	}

	sockPath, cleanup := startMockEventStream(t, events)
	defer cleanup()

	client, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	if err := client.Subscribe(EventFragment, EventFinalized); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ev1, err := client.ReadEvent()
	if err != nil {
		t.Fatalf("read event 1: %v", err)
	}
	if ev1.Event != EventFragment || string(ev1.Data) != "\x1a\x45\xdf\xa3" {
		t.Errorf("event1 = %+v", ev1)
	}
	if ev1.Seq == nil || *ev1.Seq != 0 {
		t.Errorf("event1 seq = %v, want 0", ev1.Seq)
	}

	ev2, err := client.ReadEvent()
	if err != nil {
		t.Fatalf("read event 2: %v", err)
	}
	if ev2.Event != EventFinalized || ev2.MimeType != "audio/webm;codecs=opus" {
		t.Errorf("event2 = %+v", ev2)
	}

	if _, err := client.ReadEvent(); !errors.Is(err, ErrClosed) {
		t.Errorf("read after hangup = %v, want ErrClosed", err)
	}
}
