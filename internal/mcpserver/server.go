// Package mcpserver exposes saved recordings to agents over MCP.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/jwulff/quill/internal/export"
	"github.com/jwulff/quill/internal/media"
	"github.com/jwulff/quill/internal/query"
	"github.com/jwulff/quill/internal/recording"
	"github.com/jwulff/quill/internal/workflow"
)

const pollInterval = 100 * time.Millisecond

// Server answers MCP tool calls from the recording store.
type Server struct {
	store  *recording.Store
	orch   *workflow.Orchestrator
	locale language.Tag
	log    *zap.SugaredLogger
	mcp    *server.MCPServer
}

// New registers quill's tools. The store should already be fetched for the
// signed-in user.
func New(store *recording.Store, orch *workflow.Orchestrator, locale language.Tag, version string, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		store:  store,
		orch:   orch,
		locale: locale,
		log:    log,
		mcp:    server.NewMCPServer("quill", version, server.WithToolCapabilities(false)),
	}

	s.mcp.AddTool(mcp.NewTool("list_recordings",
		mcp.WithDescription("List saved voice recordings, newest first by default."),
		mcp.WithString("search", mcp.Description("Case-insensitive text matched against title, summary and transcript")),
		mcp.WithString("sort", mcp.Description("Sort order"), mcp.Enum("newest", "oldest", "title")),
		mcp.WithString("filter", mcp.Description("Summary filter"), mcp.Enum("all", "with-summary", "without-summary")),
	), s.listRecordings)

	s.mcp.AddTool(mcp.NewTool("get_recording",
		mcp.WithDescription("Get one recording with its summary and transcript."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Recording ID")),
		mcp.WithString("format", mcp.Description("Output format"), mcp.Enum("markdown", "json")),
	), s.getRecording)

	s.mcp.AddTool(mcp.NewTool("summarize_recording",
		mcp.WithDescription("Summarize a recording again and wait for the result."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Recording ID")),
	), s.summarizeRecording)

	s.mcp.AddTool(mcp.NewTool("rename_recording",
		mcp.WithDescription("Change a recording's title."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Recording ID")),
		mcp.WithString("title", mcp.Required(), mcp.Description("New title")),
	), s.renameRecording)

	return s
}

// ServeStdio serves MCP over stdin and stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

type listItem struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"created_at"`
	Duration   string    `json:"duration,omitempty"`
	HasSummary bool      `json:"has_summary"`
}

func (s *Server) listRecordings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sel := query.Selectors{Search: req.GetString("search", ""), Locale: s.locale}

	var err error
	if sel.Sort, err = query.ParseSort(req.GetString("sort", "newest")); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if sel.Filter, err = query.ParseFilter(req.GetString("filter", "all")); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	items := query.Project(s.store.Items(), sel)
	out := make([]listItem, 0, len(items))
	for _, r := range items {
		li := listItem{ID: r.ID, Title: r.Title, CreatedAt: r.CreatedAt, HasSummary: r.HasSummary()}
		if r.DurationSeconds != nil {
			li.Duration = media.FormatDuration(*r.DurationSeconds)
		}
		out = append(out, li)
	}
	return jsonResult(out)
}

func (s *Server) getRecording(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, ok := s.store.Get(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("recording %s not found", id)), nil
	}

	switch format := req.GetString("format", "markdown"); format {
	case "markdown":
		return mcp.NewToolResultText(export.Markdown(rec, time.Local)), nil
	case "json":
		return jsonResult(rec)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown format %q", format)), nil
	}
}

func (s *Server) summarizeRecording(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.orch.Summarize(ctx, id); err != nil && !errors.Is(err, workflow.ErrSummaryPending) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.log.Infof("mcp: summarizing %s", id)

	// Summaries run detached; wait for this one to leave the in-flight set.
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for s.orch.Pending(id) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	res, ok := s.orch.Result(id)
	if !ok {
		return mcp.NewToolResultError("summary failed; see the quill log"), nil
	}
	text := res.Summary
	if !res.Persisted {
		text += "\n\n(not saved: the summary could not be written back)"
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) renameRecording(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.store.Update(ctx, id, recording.Patch{Title: recording.StringPtr(title)}); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("renamed %s to %q", id, title)), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
