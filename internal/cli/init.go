package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jwulff/quill/internal/config"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: "Writes a default config (local SQLite metadata, audio under the data dir, " +
			"offline summarizer) to --config or ~/.quill/config.yaml.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				path = config.DefaultPath()
			}
			if err := config.WriteDefault(path, force); err != nil {
				return fmt.Errorf("%w (use --force to overwrite)", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", path)
			fmt.Fprintln(cmd.OutOrStdout(), "Set summarizer.provider and summarizer.api_key to use a real model.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}
