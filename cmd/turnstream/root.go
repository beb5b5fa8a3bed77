package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/turnstream/bus"
	"github.com/hupe1980/turnstream/internal/config"
	"github.com/hupe1980/turnstream/logging"
	"github.com/hupe1980/turnstream/service"
)

// app carries what PersistentPreRunE resolved for the subcommands.
type app struct {
	cfg    *config.Config
	logger logging.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "turnstream",
		Short: "Streaming conversational session engine",
		Long:  `turnstream runs conversational turns against pluggable models, executes tool calls and streams every step as NDJSON.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logging.Setup(cfg.Server.LogLevel, cfg.Server.LogFormat)
			return nil
		},
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default is $HOME/.turnstream/config.yaml)")
	flags.String("log-level", config.DefaultServerLogLevel, "log level (debug, info, warn, error)")
	flags.String("log-format", config.DefaultServerLogFormat, "log format (text, json)")
	flags.String("model", config.DefaultEngineDefaultModel, "default model id")
	flags.String("system-prompt", config.DefaultEngineSystemPrompt, "default system prompt")
	flags.String("busy-policy", config.DefaultEngineBusyPolicy, "behaviour for turns on a busy session (reject, wait)")

	rootCmd.AddCommand(newServeCmd(a), newChatCmd(a))
	return rootCmd
}

// buildService wires the configured models into a service. The returned bus
// receives every committed event; callers close it.
func (a *app) buildService(ctx context.Context) (*service.Service, *bus.Bus, error) {
	models, err := a.cfg.BuildModels(ctx)
	if err != nil {
		return nil, nil, err
	}
	opts, err := a.cfg.ServiceOptions(models, a.logger)
	if err != nil {
		return nil, nil, err
	}

	b := bus.New(func(o *bus.Options) { o.Logger = a.logger })
	svc := service.New(opts, func(o *service.Options) { o.Publisher = b })
	return svc, b, nil
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
