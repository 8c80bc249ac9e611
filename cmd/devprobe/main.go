// devprobe - interactive UDP diagnostic client.
//
// devprobe sends control messages (connect, disconnect, pong, get device
// info) to a single device peer and prints whatever the peer sends back,
// optionally answering keepalive pings on its own.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/devprobe-project/devprobe/internal/config"
	"github.com/devprobe-project/devprobe/internal/session"
	"github.com/devprobe-project/devprobe/internal/util"
)

const (
	AppName    = "devprobe"
	AppVersion = "1.0.0"
)

// errValidation marks a configuration that failed validation; details are
// already logged.
var errValidation = errors.New("configuration validation failed")

type options struct {
	configFile    string
	addr          string
	port          int
	autoPongReply bool
	logLevel      string
	journal       string
	apiPort       int
}

func newRootCmd() (*cobra.Command, *options) {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   AppName,
		Short: "devprobe - interactive UDP diagnostic client",
		Long: `devprobe talks to a device over UDP using the device-control protocol.
Commands typed at the prompt send one message each:
  c  connect       d  disconnect
  p  pong          g  get device info
  q  quit
Everything the device sends is printed as it arrives.`,
		Version:       AppVersion,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configFile, "config", config.DefaultConfigFile, "config file path")
	flags.StringVarP(&opts.addr, "addr", "a", config.DefaultPeerAddress, "Address to connect")
	flags.IntVarP(&opts.port, "port", "p", config.DefaultPeerPort, "Port to connect")
	flags.BoolVar(&opts.autoPongReply, "auto-pong-reply", false, "Automatically reply pong on ping message")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flags.StringVar(&opts.journal, "journal", "", "record traffic to this SQLite file")
	flags.IntVar(&opts.apiPort, "api-port", 0, "serve the local REST API on 127.0.0.1:<port> (0 disables)")

	return cmd, opts
}

// applyFlags overlays explicitly set flags on the loaded configuration.
func applyFlags(cmd *cobra.Command, opts *options, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Peer.Address = opts.addr
	}
	if flags.Changed("port") {
		cfg.Peer.Port = opts.port
	}
	if flags.Changed("auto-pong-reply") {
		cfg.Client.AutoPongReply = opts.autoPongReply
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
	if flags.Changed("journal") {
		cfg.Journal.Enabled = opts.journal != ""
		if opts.journal != "" {
			cfg.Journal.Path = opts.journal
		}
	}
	if flags.Changed("api-port") {
		cfg.API.Port = opts.apiPort
	}
}

func run(cmd *cobra.Command, opts *options) error {
	// Initialize logger with defaults first (reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}
	applyFlags(cmd, opts, cfg)

	logCfg := util.LogConfig{
		Level:      cfg.Logging.Level,
		Directory:  cfg.Logging.Directory,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("starting devprobe")

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return errValidation
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := session.New(session.Options{
		Config: cfg,
		In:     cmd.InOrStdin(),
		Out:    cmd.OutOrStdout(),
		Debug:  cfg.Logging.Level == "debug" || cfg.Logging.Level == "trace",
	})
	if err := s.Run(ctx); err != nil {
		return err
	}

	if ctx.Err() != nil {
		log.Info().Msg("received shutdown signal")
	}
	log.Info().Msg("devprobe stopped")
	return nil
}

func main() {
	cmd, _ := newRootCmd()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, errValidation) {
			log.Error().Err(err).Msg("devprobe failed")
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
