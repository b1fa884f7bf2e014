package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jwulff/quill/internal/capture"
	"github.com/jwulff/quill/internal/export"
	"github.com/jwulff/quill/internal/media"
	"github.com/jwulff/quill/internal/query"
	"github.com/jwulff/quill/internal/recording"
	"github.com/jwulff/quill/internal/workflow"
)

const (
	remoteTimeout   = time.Minute
	finalizeTimeout = 10 * time.Second
)

func newRecordCmd() *cobra.Command {
	var (
		title    string
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a voice note from the microphone, then save and summarize it",
		Example: `  quill record --title "standup"
  quill record -d 30s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd, title, duration)
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "recording title (default \""+recording.DefaultTitle+"\")")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "stop after this long (default: until Ctrl-C)")
	return cmd
}

func runRecord(cmd *cobra.Command, title string, duration time.Duration) error {
	out := cmd.OutOrStdout()
	e, err := openEnv(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.load(cmd.Context()); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := e.session.Start(ctx); err != nil {
		var acqErr *capture.AcquireError
		if errors.As(err, &acqErr) {
			return errors.New(acqErr.Guidance())
		}
		return err
	}
	fmt.Fprintln(out, "Recording... press Ctrl-C to stop")

	if duration > 0 {
		timer := time.NewTimer(duration)
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		timer.Stop()
	} else {
		<-ctx.Done()
	}
	stop()

	stopCtx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	asset, err := e.session.Stop(stopCtx)
	if err != nil {
		return fmt.Errorf("stop recording: %w", err)
	}
	fmt.Fprintf(out, "Captured %s (%d bytes, %s)\n",
		media.FormatDuration(e.session.Elapsed()), len(asset.Data), asset.MIMEType)

	saveCtx, cancelSave := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancelSave()
	rec, err := e.orch.SaveFromCapture(saveCtx, title)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Saved %s %q\n", rec.ID, rec.Title)
	return waitSummary(context.Background(), out, e, rec.ID)
}

func newUploadCmd() *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "upload <audio-file>",
		Short: "Save an existing audio file and summarize it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			e, err := openEnv(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.load(cmd.Context()); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), remoteTimeout)
			defer cancel()
			rec, err := e.orch.SaveFromFile(ctx, args[0], title)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Saved %s %q\n", rec.ID, rec.Title)
			return waitSummary(cmd.Context(), out, e, rec.ID)
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "recording title (default: file name)")
	return cmd
}

func newListCmd() *cobra.Command {
	var (
		search, sortName, filterName string
		asJSON                       bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved recordings",
		Example: `  quill list --search standup
  quill list --sort title --filter without-summary`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sort, err := query.ParseSort(sortName)
			if err != nil {
				return err
			}
			filter, err := query.ParseFilter(filterName)
			if err != nil {
				return err
			}

			e, err := openEnv(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.load(cmd.Context()); err != nil {
				return err
			}

			items := query.Project(e.store.Items(), query.Selectors{
				Search: search,
				Sort:   sort,
				Filter: filter,
				Locale: e.cfg.Language(),
			})
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(items)
			}
			printList(cmd.OutOrStdout(), items)
			return nil
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "match title, summary or transcript")
	cmd.Flags().StringVar(&sortName, "sort", "newest", "newest, oldest or title")
	cmd.Flags().StringVar(&filterName, "filter", "all", "all, with-summary or without-summary")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printList(w io.Writer, items []recording.Recording) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No recordings.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tLENGTH\tSUMMARY\tTITLE")
	for _, r := range items {
		length := "-"
		if r.DurationSeconds != nil {
			length = media.FormatDuration(*r.DurationSeconds)
		}
		summary := "no"
		if r.HasSummary() {
			summary = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			shortID(r.ID), r.CreatedAt.Local().Format("2006-01-02 15:04"), length, summary, r.Title)
	}
	tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a recording with its summary and transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRecording(cmd, args[0], func(e *env, rec recording.Recording) error {
				fmt.Fprint(cmd.OutOrStdout(), export.Markdown(rec, time.Local))
				return nil
			})
		},
	}
}

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Change a recording's title",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.TrimSpace(strings.Join(args[1:], " "))
			if title == "" {
				return errors.New("title cannot be empty")
			}
			return withRecording(cmd, args[0], func(e *env, rec recording.Recording) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), remoteTimeout)
				defer cancel()
				if err := e.store.Update(ctx, rec.ID, recording.Patch{Title: &title}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", shortID(rec.ID), title)
				return nil
			})
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a recording and its audio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRecording(cmd, args[0], func(e *env, rec recording.Recording) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), remoteTimeout)
				defer cancel()
				if err := e.store.Delete(ctx, rec.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s %q\n", shortID(rec.ID), rec.Title)
				return nil
			})
		},
	}
}

func newSummarizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summarize <id>",
		Short: "Summarize a recording again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRecording(cmd, args[0], func(e *env, rec recording.Recording) error {
				if err := e.orch.Summarize(cmd.Context(), rec.ID); err != nil {
					return err
				}
				return waitSummary(cmd.Context(), cmd.OutOrStdout(), e, rec.ID)
			})
		},
	}
}

func newExportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a recording's summary as markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRecording(cmd, args[0], func(e *env, rec recording.Recording) error {
				md := export.Markdown(rec, time.Local)
				if output == "" || output == "-" {
					_, err := io.WriteString(cmd.OutOrStdout(), md)
					return err
				}
				if err := os.WriteFile(output, []byte(md), 0o644); err != nil {
					return fmt.Errorf("write %s: %w", output, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", output)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	return cmd
}

// withRecording opens the environment, loads the collection and runs fn for
// the recording matching idArg.
func withRecording(cmd *cobra.Command, idArg string, fn func(*env, recording.Recording) error) error {
	e, err := openEnv(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.load(cmd.Context()); err != nil {
		return err
	}
	id, err := e.resolveID(idArg)
	if err != nil {
		return err
	}
	rec, _ := e.store.Get(id)
	return fn(e, rec)
}

// waitSummary blocks until the summary for id is reported and prints it.
func waitSummary(ctx context.Context, w io.Writer, e *env, id string) error {
	fmt.Fprintln(w, "Summarizing…")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-e.orch.Events():
			if !ok {
				return workflow.ErrClosed
			}
			if ev.RecordingID != id {
				continue
			}
			if ev.Summary == "" {
				return ev.Err
			}
			fmt.Fprintf(w, "\n%s\n", ev.Summary)
			if ev.Err != nil {
				fmt.Fprintf(w, "\nWarning: summary not saved: %v\n", ev.Err)
			}
			return nil
		}
	}
}
