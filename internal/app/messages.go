package app

import (
	"github.com/jwulff/quill/internal/recording"
	"github.com/jwulff/quill/internal/workflow"
)

// RecordingsLoadedMsg is sent after the collection has been fetched.
type RecordingsLoadedMsg struct {
	Err error
}

// CaptureStartedMsg is sent when a Start attempt finishes.
type CaptureStartedMsg struct {
	Err error
}

// CaptureStoppedMsg is sent when a Stop attempt finishes.
type CaptureStoppedMsg struct {
	Err error
}

// CaptureTickMsg refreshes the capture panel once a second.
type CaptureTickMsg struct{}

// SavedMsg is sent when a recording has been saved and its summary dispatched.
type SavedMsg struct {
	Recording recording.Recording
	Err       error
}

// DeletedMsg is sent when a delete finishes.
type DeletedMsg struct {
	ID  string
	Err error
}

// RenamedMsg is sent when a title update finishes.
type RenamedMsg struct {
	ID  string
	Err error
}

// SummarizeRequestedMsg is sent after asking for a summary of an existing
// recording.
type SummarizeRequestedMsg struct {
	ID  string
	Err error
}

// SummaryMsg carries a finished background summary.
type SummaryMsg struct {
	Event workflow.Event
}

// summaryStreamClosedMsg is sent once the orchestrator's event stream ends.
type summaryStreamClosedMsg struct{}

// ClearTransientErrorMsg is sent after a delay to clear transient errors.
type ClearTransientErrorMsg struct{}
