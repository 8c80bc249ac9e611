// Package session wires the datagram channel, listener, dispatcher and the
// optional journal, telemetry and API into one diagnostic session, and
// tears them down in order.
package session

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/devprobe-project/devprobe/internal/api"
	"github.com/devprobe-project/devprobe/internal/cli"
	"github.com/devprobe-project/devprobe/internal/client"
	"github.com/devprobe-project/devprobe/internal/config"
	"github.com/devprobe-project/devprobe/internal/db"
	"github.com/devprobe-project/devprobe/internal/events"
	"github.com/devprobe-project/devprobe/internal/network"
	"github.com/devprobe-project/devprobe/internal/scheduler"
	"github.com/devprobe-project/devprobe/internal/telemetry"
	"github.com/devprobe-project/devprobe/internal/util"
)

// Options configures a Session.
type Options struct {
	Config *config.Config
	In     io.Reader
	Out    io.Writer
	// Debug enables verbose output from the API router.
	Debug bool
}

// Session is one run of the diagnostic client.
type Session struct {
	opts   Options
	logger zerolog.Logger

	bus      *events.EventBus
	channel  *network.Channel
	listener *client.Listener
	journal  *db.Journal
	mqtt     *telemetry.MQTTHandler
	api      *api.Server
}

// New creates a session. Nothing is opened until Run.
func New(opts Options) *Session {
	return &Session{
		opts:   opts,
		logger: util.ComponentLogger("session"),
	}
}

// Run opens the channel, starts the listener and runs the dispatcher until
// the operator quits, input ends or ctx is cancelled. It then stops the
// listener, waits for it, and releases every resource. The returned error
// is non-nil only for startup failures and for a listener that died on a
// transport error.
func (s *Session) Run(ctx context.Context) (err error) {
	cfg := s.opts.Config
	cc := cfg.ClientConfig()

	host := util.GetHostInfo()
	s.logger.Info().
		Str("peer", cc.Peer.String()).
		Bool("auto_pong", cc.AutoPongReply).
		Str("host", host.Hostname).
		Str("os", host.OS).
		Strs("addresses", host.Addresses).
		Msg("starting session")

	s.bus = events.NewEventBus()
	console := cli.NewConsole(s.opts.Out)
	console.Attach(s.bus)
	stats := client.NewStats(s.bus)

	s.channel, err = network.Open(ctx, network.Options{Peer: cc.Peer})
	if err != nil {
		return err
	}

	defer s.shutdown()

	var history cli.HistorySource
	if cfg.Journal.Enabled {
		s.journal, err = db.OpenJournal(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		s.journal.Attach(s.bus)
		history = s.journal
	}

	if cfg.MQTT.Enabled {
		s.startMQTT(ctx, cfg.MQTT, cc.Peer)
	}

	sender := client.NewSender(s.channel, s.bus)
	s.listener = client.NewListener(s.channel, sender, s.bus, cc)

	if cfg.API.Port > 0 {
		s.api = api.NewServer(cfg.API, api.Deps{
			Client:   cc,
			Sender:   sender,
			Stats:    stats,
			History:  history,
			Listener: s.listener,
		}, s.opts.Debug)
		if err := s.api.Start(ctx); err != nil {
			return err
		}
	}

	s.listener.Start(ctx)

	sctx, stopTasks := context.WithCancel(ctx)
	defer stopTasks()
	go s.newScheduler(cfg, stats).Start(sctx)

	// The dispatcher also stops when the listener dies.
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.listener.Done():
			cancel()
		case <-dctx.Done():
		}
	}()

	opts := []cli.Option{cli.WithStats(stats)}
	if history != nil {
		opts = append(opts, cli.WithHistory(history))
	}
	dispatcher := cli.NewDispatcher(s.opts.In, console, sender, opts...)
	if err := dispatcher.Run(dctx); err != nil {
		s.logger.Warn().Err(err).Msg("dispatcher stopped on input error")
	}

	s.listener.Stop()
	if lerr := s.listener.Wait(); lerr != nil {
		return fmt.Errorf("listener stopped: %w", lerr)
	}
	return nil
}

func (s *Session) newScheduler(cfg *config.Config, stats *client.Stats) *scheduler.Scheduler {
	opts := scheduler.Options{
		Stats:         stats,
		StatsInterval: cfg.StatsInterval(),
	}
	if s.journal != nil {
		opts.Journal = s.journal
		opts.MaxRows = cfg.Journal.MaxRows
	}
	return scheduler.NewScheduler(opts)
}

func (s *Session) startMQTT(ctx context.Context, cfg config.MQTTConfig, peer config.PeerAddress) {
	h, err := telemetry.NewMQTTHandler(cfg, peer)
	if err != nil {
		s.logger.Warn().Err(err).Msg("MQTT telemetry disabled")
		return
	}
	if err := h.Start(ctx, s.bus); err != nil {
		s.logger.Warn().Err(err).Msg("MQTT telemetry disabled")
		return
	}
	s.mqtt = h
}

// shutdown releases resources in dependency order. The listener is always
// stopped before the socket is closed.
func (s *Session) shutdown() {
	if s.listener != nil && s.listener.State() != client.StateIdle {
		s.listener.Stop()
		s.listener.Wait()
	}

	s.bus.EmitSync(context.Background(), events.Event{
		Type:   events.EventShutdown,
		Source: "session",
	})

	if s.api != nil {
		if err := s.api.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("API shutdown failed")
		}
	}
	if s.mqtt != nil {
		s.mqtt.Stop()
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("journal close failed")
		}
	}
	if err := s.channel.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("socket close failed")
	}
	s.bus.Stop()

	s.logger.Info().Msg("session closed")
}
