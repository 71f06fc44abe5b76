// Package cmd defines and implements the CLI commands for the unfurl
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/unfurl/internal/config"
	"github.com/JakeFAU/unfurl/internal/server"
	"github.com/JakeFAU/unfurl/internal/service"
	"github.com/JakeFAU/unfurl/internal/unfurl"
)

// version is stamped at build time via -ldflags "-X ...cmd.version=...".
var version = "dev"

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use.
type App interface {
	Close()
	Logger() *zap.Logger
	Table() *service.Table
	Unfurler() *unfurl.Unfurler
	Run(ctx context.Context) error
}

// newApp is the application factory. Tests replace it to inject fakes.
var newApp = func(cfg config.Config) (App, error) {
	return server.Build(cfg, userAgent())
}

func userAgent() string {
	return "unfurl/" + version
}

type rootOptions struct {
	configPath  string
	routesPath  string
	debug       bool
	verbose     bool
	concurrency int
	timeout     time.Duration
	client      string

	// missingConfig records a config file that was not found.
	missingConfig error
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "unfurl [file]",
		Short: "Expand service URLs in text into short summaries",
		Long: `unfurl reads a document from a file or stdin, finds https:// URLs that
point at known services (GitHub, GitLab, Jira, ...), fetches metadata for each
one from the service's API and writes the document back out with every
recognized URL replaced by a one-line summary.`,
		Args:          cobra.MaximumNArgs(1),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			appInstance, err := newApp(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			if opts.missingConfig != nil {
				logMissingConfig(appInstance.Logger(), opts.configPath, opts.missingConfig)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		RunE: func(cmd *cobra.Command, args []string) error {
			return runUnfurl(cmd, args)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default is $HOME/"+config.DefaultFileName+")")
	flags.StringVar(&opts.routesPath, "routes", "", "additional routes document merged over the built-in services")
	flags.BoolVar(&opts.debug, "debug", false, "use the development logger")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")
	flags.IntVar(&opts.concurrency, "concurrency", 0, "maximum concurrent requests per batch")
	flags.DurationVar(&opts.timeout, "timeout", 0, "per-request timeout")
	flags.StringVar(&opts.client, "client", "", "HTTP transport: http or colly")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRoutesCmd())
	return cmd
}

// loadConfig reads the config file and applies explicitly set flags on top.
// A missing config file is reported separately and is not an error.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if errors.Is(err, config.ErrNotFound) {
		opts.missingConfig, err = err, nil
	}
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("routes") {
		cfg.Routes = opts.routesPath
	}
	if opts.debug {
		cfg.Logging.Development = true
	}
	if opts.verbose {
		cfg.Logging.Level = "debug"
	}
	if flags.Changed("concurrency") {
		cfg.Dispatch.Concurrency = opts.concurrency
	}
	if flags.Changed("timeout") {
		cfg.HTTP.Timeout = opts.timeout
	}
	if flags.Changed("client") {
		cfg.HTTP.Client = opts.client
	}
	if f := flags.Lookup("port"); f != nil && f.Changed {
		port, err := flags.GetInt("port")
		if err != nil {
			return config.Config{}, fmt.Errorf("read port flag: %w", err)
		}
		cfg.Server.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func logMissingConfig(logger *zap.Logger, explicitPath string, missing error) {
	if explicitPath != "" {
		logger.Warn("config file not found; using defaults", zap.Error(missing))
		return
	}
	logger.Debug("no config file; using defaults", zap.Error(missing))
}

func runUnfurl(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer appInstance.Close()

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close() //nolint:errcheck // read-only file
		in = f
	}

	if err := appInstance.Unfurler().Run(cmd.Context(), in, cmd.OutOrStdout()); err != nil {
		return fmt.Errorf("unfurl: %w", err)
	}
	return nil
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
		fmt.Fprintf(os.Stderr, "unfurl: %v\n", err)
		zap.L().Error("command execution failed", zap.Error(err))
		os.Exit(1)
	}
}
