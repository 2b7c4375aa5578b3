// Package cli wires the ekaya-replica commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/source"
	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/target"
	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/config"
	"github.com/ekaya-inc/ekaya-replica/pkg/docker"
	"github.com/ekaya-inc/ekaya-replica/pkg/logging"
	"github.com/ekaya-inc/ekaya-replica/pkg/replica"
	"github.com/ekaya-inc/ekaya-replica/pkg/services/sampling"
)

// Option customizes the command tree.
type Option func(*app)

// WithRuntime replaces the Docker container runtime.
func WithRuntime(runtime replica.ContainerRuntime) Option {
	return func(a *app) { a.runtime = runtime }
}

// WithLogger replaces the logger built from the --log-* flags.
func WithLogger(logger *zap.Logger) Option {
	return func(a *app) { a.logger = logger }
}

type app struct {
	version    string
	configPath string
	logLevel   string
	logFormat  string

	logger  *zap.Logger
	runtime replica.ContainerRuntime
}

// NewRootCommand builds the command tree.
func NewRootCommand(version string, opts ...Option) *cobra.Command {
	a := &app{version: version}
	for _, opt := range opts {
		opt(a)
	}

	root := &cobra.Command{
		Use:           "ekaya-replica",
		Short:         "Build sampled, referentially intact replicas of a data warehouse",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.logger != nil {
				return nil
			}
			logger, err := logging.NewLogger(a.logLevel, a.logFormat)
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
	}

	defaultLevel := os.Getenv("LOG_LEVEL")
	if defaultLevel == "" {
		defaultLevel = "info"
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "replica.yml", "replica file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", defaultLevel, "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "console", "log format (console, json)")

	root.AddCommand(
		&cobra.Command{
			Use:   "create",
			Short: "Sample the source and load the sample into a new replica container",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.create(cmd.Context(), cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "analyze",
			Short: "Report sample and population sizes without materializing anything",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				_, _, err := a.sample(cmd.Context(), cmd.OutOrStdout(), true)
				return err
			},
		},
		&cobra.Command{
			Use:   "adapters",
			Short: "List the registered source and target adapters",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return listAdapters(cmd.OutOrStdout())
			},
		},
	)
	return root
}

// sample runs the sampler and prints its report.
func (a *app) sample(ctx context.Context, out io.Writer, analyze bool) (*config.Config, *sampling.Sampler, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, nil, err
	}
	creds, err := config.LoadCredentials(cfg.CredPath)
	if err != nil {
		return nil, nil, err
	}
	profile, err := creds.Source(cfg.Source.Profile)
	if err != nil {
		return nil, nil, err
	}

	adapter, err := source.NewAdapterFactory(a.logger).NewAdapter(profile.Adapter)
	if err != nil {
		return nil, nil, err
	}
	conn, err := source.Open(ctx, adapter, profile.Credentials(), a.logger)
	if err != nil {
		return nil, nil, err
	}
	defer conn.Close()

	opts, err := sampling.OptionsFromConfig(cfg, analyze)
	if err != nil {
		return nil, nil, err
	}

	a.logger.Info("sampling source",
		zap.String("replica", cfg.Name),
		zap.String("adapter", profile.Adapter),
		zap.Strings("databases", cfg.Source.Databases),
		zap.Bool("analyze", analyze))

	sampler := sampling.New(adapter, conn, opts, a.logger)
	report, runErr := sampler.Run(ctx)
	if report != nil {
		if err := report.Render(out); err != nil {
			return nil, nil, err
		}
	}
	if runErr != nil {
		return nil, nil, runErr
	}
	if report.Failed() {
		return nil, nil, errors.New("sampling finished with failures")
	}
	return cfg, sampler, nil
}

func (a *app) create(ctx context.Context, out io.Writer) error {
	cfg, sampler, err := a.sample(ctx, out, false)
	if err != nil {
		return err
	}

	tgt, err := target.New(cfg.Target.Adapter, a.logger)
	if err != nil {
		return err
	}
	loader, ok := tgt.(target.Loader)
	if !ok {
		return fmt.Errorf("target adapter %s cannot load samples", tgt.Name())
	}
	if cfg.Target.Profile != "" {
		if err := configureTarget(tgt, cfg); err != nil {
			return err
		}
	}

	runtime := a.runtime
	if runtime == nil {
		runtime = docker.NewRuntime(a.logger)
	}
	hostname := cfg.Target.Hostname
	if hostname == "" {
		hostname = cfg.Name
	}

	manager := replica.NewManager(runtime, a.logger)
	r, err := manager.AcquireFor(ctx, tgt, cfg.Target.Image, cfg.Target.Port, hostname)
	if err != nil {
		return err
	}
	endpoint, err := r.Launch(ctx)
	if err != nil {
		return err
	}
	if err := loader.Load(ctx, endpoint, sampler.Catalog().Relations()); err != nil {
		if rmErr := r.Remove(context.WithoutCancel(ctx)); rmErr != nil {
			a.logger.Warn("failed to remove replica after load failure", zap.Error(rmErr))
		}
		return fmt.Errorf("load replica: %w", err)
	}

	_, err = fmt.Fprintf(out, "replica %s running at %s:%d (image %s)\n",
		cfg.Name, endpoint.Host, endpoint.Port, r.Spec().Image)
	return err
}

// configureTarget applies the credentials-file target profile named by the
// replica file.
func configureTarget(tgt target.Adapter, cfg *config.Config) error {
	creds, err := config.LoadCredentials(cfg.CredPath)
	if err != nil {
		return err
	}
	profile, err := creds.Target(cfg.Target.Profile)
	if err != nil {
		return err
	}
	if profile.Adapter != tgt.Name() {
		return apperrors.Configurationf("target profile %q is for adapter %s, not %s",
			profile.Name, profile.Adapter, tgt.Name())
	}
	configurable, ok := tgt.(target.Configurable)
	if !ok {
		return apperrors.Configurationf("target adapter %s does not accept a profile", tgt.Name())
	}
	return configurable.Configure(profile.Credentials())
}

func listAdapters(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tTYPE\tNAME")
	for _, info := range source.RegisteredAdapters() {
		fmt.Fprintf(tw, "source\t%s\t%s\n", info.Type, info.DisplayName)
	}
	for _, name := range target.Registered() {
		fmt.Fprintf(tw, "target\t%s\t%s\n", name, name)
	}
	return tw.Flush()
}
