// Package cmd defines and implements the CLI commands for the mirrord
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-mirror/internal/config"
	"github.com/JakeFAU/site-mirror/internal/mirror"
	"github.com/JakeFAU/site-mirror/internal/orchestrator"
	"github.com/JakeFAU/site-mirror/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// Mirror is the orchestration surface the one-shot commands use.
type Mirror interface {
	RunSync(ctx context.Context, reason string) error
	Preview(ctx context.Context, dryRun bool) orchestrator.Preview
	Expire(ctx context.Context) (int, error)
	Status(ctx context.Context) (mirror.Status, error)
}

// App defines the application interface that commands will use.
// This allows us to inject a mock app during tests.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Logger() *zap.Logger
	Mirror() Mirror
}

type serverApp struct {
	*server.App
}

func (a serverApp) Mirror() Mirror {
	return a.Orchestrator()
}

// newApp is the application factory. It's a variable so we can
// replace it with a mock factory in our tests.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return serverApp{app}, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "mirrord",
		Short: "Keeps timestamped static mirrors of a website.",
		Long: `mirrord collapses content-change triggers into debounced mirror runs,
crawls the site with an external crawler, publishes each copy under a
timestamped destination and expires old copies.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// This hook runs BEFORE the subcommand's RunE and injects the application.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); MIRROR_* environment variables override it")

	cmd.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newPreviewCmd(),
		newExpireCmd(),
	)
	return cmd
}

// oneShot resolves the app for a short-lived command and closes it when fn
// returns, whether or not fn failed. serve closes its app itself on shutdown.
func oneShot(fn func(cmd *cobra.Command, app App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) (err error) {
		app, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			if cerr := app.Close(context.WithoutCancel(cmd.Context())); cerr != nil {
				err = errors.Join(err, fmt.Errorf("close application: %w", cerr))
			}
		}()
		return fn(cmd, app)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
