package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rshade/apprunner-scale/internal/config"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("Received shutdown signal")
		cancel()
	}()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// options is shared by every subcommand.
type options struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{v: viper.New()}
	config.SetDefaults(opts.v)

	root := &cobra.Command{
		Use:   "apprunnerscale",
		Short: "Manage App Runner autoscaling configurations as a custom resource",
		Long: `apprunnerscale creates, replaces and deletes an App Runner autoscaling
configuration on behalf of a CloudFormation custom resource. Before a
configuration is deleted, every service of the owning stack is moved onto
the default configuration.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}

	f := root.PersistentFlags()
	f.StringVarP(&opts.cfgFile, "config", "c", "", "config file (default is ./apprunnerscale.yaml)")
	f.String("region", "", "AWS region (falls back to REGION or AWS_REGION)")
	f.Bool("debug", false, "Enable debug logging")
	f.String("default-policy-name", "", "Autoscaling configuration services are moved onto")
	f.String("missing-default-policy", "", "What to do when the default configuration is missing: fail or skip")
	f.Bool("migrate-on-delete", true, "Move services onto the default configuration before Delete")
	f.Duration("poll-interval", 0, "Wait between operation status checks")
	f.Duration("max-wait", 0, "Give up on an operation after this long (0 waits indefinitely)")
	f.String("connection-name", "", "Source connection that must be AVAILABLE before Create or Update")
	f.String("stack-source", "", "Where stack exports are read from: cloudformation or pulumi")
	f.String("pulumi-workdir", "", "Pulumi project directory when stack-source is pulumi")

	for key, flag := range map[string]string{
		"region":                 "region",
		"debug":                  "debug",
		"default_policy_name":    "default-policy-name",
		"missing_default_policy": "missing-default-policy",
		"migrate_on_delete":      "migrate-on-delete",
		"poll_interval":          "poll-interval",
		"max_wait":               "max-wait",
		"connection_name":        "connection-name",
		"stack_source":           "stack-source",
		"pulumi.work_dir":        "pulumi-workdir",
	} {
		_ = opts.v.BindPFlag(key, f.Lookup(flag))
	}

	root.AddCommand(
		newServeCmd(opts),
		newLambdaCmd(opts),
		newReconcileCmd(opts),
		newCheckConnectionCmd(opts),
	)
	return root
}

func (o *options) load(cmd *cobra.Command) error {
	if err := config.ReadFile(o.v, o.cfgFile); err != nil {
		return err
	}
	cfg, err := config.Load(o.v)
	if err != nil {
		return err
	}
	o.cfg = cfg

	// Lambda ships logs to CloudWatch, which wants JSON lines.
	setupLogging(cfg.Debug, cmd.Name() != "lambda")
	return nil
}

func setupLogging(debug, console bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
