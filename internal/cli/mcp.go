package cli

import (
	"github.com/spf13/cobra"

	"github.com/jwulff/quill/internal/mcpserver"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve recordings to agents over MCP (stdio)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol, so logs go to the file.
			e, err := openEnv(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.load(cmd.Context()); err != nil {
				return err
			}

			go func() {
				for ev := range e.orch.Events() {
					if ev.Err != nil {
						e.log.Warnf("mcp: summary for %s: %v", ev.RecordingID, ev.Err)
					}
				}
			}()

			e.log.Infof("mcp: serving %d recordings", len(e.store.Items()))
			return mcpserver.New(e.store, e.orch, e.cfg.Language(), appVersion, e.log).ServeStdio()
		},
	}
}
