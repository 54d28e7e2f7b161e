// File: cmd/focus.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/humanrelay/internal/bridge"
	"github.com/xkilldash9x/humanrelay/internal/config"
	"github.com/xkilldash9x/humanrelay/internal/desktop"
	"github.com/xkilldash9x/humanrelay/internal/observability"
)

func newFocusCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "focus <editor|chat>",
		Short:       "Bring the configured editor or chat window to the front",
		Args:        cobra.ExactArgs(1),
		ValidArgs:   []string{"editor", "chat"},
		Annotations: map[string]string{annotationLenient: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			d := desktop.New(nil, logger, desktop.Options{Humanoid: cfg.HumanoidSettings()})
			return runFocus(ctx, cfg, d, args[0], cmd.OutOrStdout())
		},
	}
}

func runFocus(ctx context.Context, cfg *config.Config, br bridge.Bridge, which string, out io.Writer) error {
	var title string
	switch strings.ToLower(which) {
	case "editor":
		title = cfg.WindowTitles.Editor
	case "chat":
		title = cfg.WindowTitles.Chat
	default:
		return fmt.Errorf("unknown window %q: want editor or chat", which)
	}
	if title == "" {
		return fmt.Errorf("window_titles.%s is not configured", strings.ToLower(which))
	}
	if err := br.Focus(ctx, title); err != nil {
		return err
	}
	fmt.Fprintf(out, "focused %q\n", title)
	return nil
}
