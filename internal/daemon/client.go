package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
)

// ErrClosed is returned when the daemon closes the connection.
var ErrClosed = errors.New("connection closed")

// SocketPath returns the default daemon socket path.
func SocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "quill", "audiod.sock")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".quill", "audiod.sock")
}

// Client communicates with quill-audiod over a Unix socket.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
	mu      sync.Mutex
}

// Connect dials the daemon Unix socket.
func Connect(socketPath string) (*Client, error) {
	return ConnectContext(context.Background(), socketPath)
}

// ConnectContext dials the daemon Unix socket, giving up when ctx ends.
func ConnectContext(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024) // fragments are base64 audio

	return &Client{conn: conn, scanner: scanner}, nil
}

// Close shuts down the connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// SendCommand writes cmd as one line and reads the daemon's reply.
func (c *Client) SendCommand(cmd Command) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	line, err := json.Marshal(cmd)
	if err != nil {
		return Response{}, fmt.Errorf("marshal %s: %w", cmd.Cmd, err)
	}
	if _, err := c.conn.Write(append(line, '\n')); err != nil {
		return Response{}, fmt.Errorf("write %s: %w", cmd.Cmd, err)
	}
	return readLine[Response](c.scanner, "response")
}

// Subscribe asks for the given event kinds on this connection. Only
// ReadEvent should be used on it afterwards.
func (c *Client) Subscribe(kinds ...string) error {
	resp, err := c.SendCommand(Command{Cmd: "subscribe", Events: kinds})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("subscribe: %s", resp.Error)
	}
	return nil
}

// ReadEvent blocks for the next event on a subscribed connection.
func (c *Client) ReadEvent() (Event, error) {
	return readLine[Event](c.scanner, "event")
}

func readLine[T any](sc *bufio.Scanner, what string) (T, error) {
	var v T
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return v, fmt.Errorf("read %s: %w", what, err)
		}
		return v, ErrClosed
	}
	if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", what, err)
	}
	return v, nil
}
