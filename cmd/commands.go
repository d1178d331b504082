package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-mirror/internal/mirror"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API and trigger scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
}

func newRunCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Creates a mirror now and waits for it to finish",
		Args:  cobra.NoArgs,
		RunE: oneShot(func(cmd *cobra.Command, app App) error {
			err := app.Mirror().RunSync(cmd.Context(), reason)
			if errors.Is(err, mirror.ErrLockContention) {
				app.Logger().Warn("another mirror run is in progress; the request was queued behind it")
				return err
			}
			if err != nil {
				return fmt.Errorf("mirror run: %w", err)
			}
			st, err := app.Mirror().Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("load status: %w", err)
			}
			app.Logger().Info("mirror run finished", zap.String("reason", reason))
			return writeJSON(cmd.OutOrStdout(), st)
		}),
	}
	cmd.Flags().StringVar(&reason, "reason", "Manual mirror requested", "changelog entry recorded with the mirror")
	return cmd
}

func newPreviewCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Prints the crawler commands the current settings produce",
		Args:  cobra.NoArgs,
		RunE: oneShot(func(cmd *cobra.Command, app App) error {
			return writeJSON(cmd.OutOrStdout(), app.Mirror().Preview(cmd.Context(), dryRun))
		}),
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "probe the site without downloading content")
	return cmd
}

func newExpireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Deletes mirrors older than the configured retention",
		Args:  cobra.NoArgs,
		RunE: oneShot(func(cmd *cobra.Command, app App) error {
			removed, err := app.Mirror().Expire(cmd.Context())
			if werr := writeJSON(cmd.OutOrStdout(), map[string]int{"removed": removed}); werr != nil {
				return werr
			}
			if err != nil {
				return fmt.Errorf("expire mirrors: %w", err)
			}
			return nil
		}),
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
