// Package daemon talks to quill-audiod, the audio capture daemon, over a Unix
// socket using NDJSON, and adapts it to capture.Device.
package daemon

import "github.com/jwulff/quill/internal/capture"

// Command is sent from a client to the daemon.
type Command struct {
	Cmd    string          `json:"cmd"`
	Config *capture.Config `json:"config,omitempty"`
	Device string          `json:"device,omitempty"`
	Events []string        `json:"events,omitempty"`
}

// Error kinds reported in Response.ErrorKind.
const (
	ErrorKindPermissionDenied = "permission_denied"
	ErrorKindDeviceAbsent     = "device_absent"
)

// Response is returned by the daemon after processing a command.
type Response struct {
	OK        bool     `json:"ok"`
	Error     string   `json:"error,omitempty"`
	ErrorKind string   `json:"errorKind,omitempty"`
	Recording *bool    `json:"recording,omitempty"`
	Devices   []string `json:"devices,omitempty"`
	Device    string   `json:"device,omitempty"`
	MimeType  string   `json:"mimeType,omitempty"`
}

// Event is streamed from the daemon to subscribed clients. Data is base64 on
// the wire.
type Event struct {
	Event    string `json:"event"`
	Data     []byte `json:"data,omitempty"`
	Seq      *int   `json:"seq,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Event names.
const (
	EventFragment  = "fragment"
	EventFinalized = "finalized"
	EventError     = "error"
)

// IntPtr returns a pointer to an int value. Convenience for building events.
func IntPtr(n int) *int { return &n }
