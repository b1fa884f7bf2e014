package cli

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jwulff/quill/internal/app"
)

// runTUI opens the interactive recorder. Logs go to the data dir so the
// terminal stays clean.
func runTUI(ctx context.Context) error {
	e, err := openEnv(ctx, true)
	if err != nil {
		return err
	}
	defer e.Close()

	m := app.New(app.Deps{
		Session:      e.session,
		Store:        e.store,
		Orchestrator: e.orch,
		Auth:         e.auth,
		Locale:       e.cfg.Language(),
		Log:          e.log,
	})
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run tui: %w", err)
	}
	return nil
}
