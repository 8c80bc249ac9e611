// Package scheduler runs the session's periodic background tasks: journal
// retention and traffic statistics reporting.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/devprobe-project/devprobe/internal/client"
	"github.com/devprobe-project/devprobe/internal/util"
)

// DefaultPruneInterval is how often the journal is trimmed to its row limit.
const DefaultPruneInterval = time.Minute

// Pruner trims a journal to its newest keep rows.
type Pruner interface {
	Prune(ctx context.Context, keep int) (int64, error)
}

// StatsSource provides traffic counters.
type StatsSource interface {
	Snapshot() client.StatsSnapshot
}

// Options configures a Scheduler. Zero values disable the matching task.
type Options struct {
	Journal       Pruner
	MaxRows       int
	PruneInterval time.Duration

	Stats         StatsSource
	StatsInterval time.Duration
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// NewScheduler creates a new task scheduler.
func NewScheduler(opts Options) *Scheduler {
	if opts.PruneInterval <= 0 {
		opts.PruneInterval = DefaultPruneInterval
	}
	return &Scheduler{
		opts:   opts,
		logger: util.ComponentLogger("scheduler"),
	}
}

// Start runs all enabled tasks and blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Debug().Msg("scheduler started")

	if s.opts.Journal != nil && s.opts.MaxRows > 0 {
		go s.runLoop(ctx, s.opts.PruneInterval, s.pruneJournal)
	}

	if s.opts.Stats != nil && s.opts.StatsInterval > 0 {
		go s.runLoop(ctx, s.opts.StatsInterval, s.reportStats)
	}

	<-ctx.Done()
	s.logger.Debug().Msg("scheduler stopped")
}

func (s *Scheduler) runLoop(ctx context.Context, every time.Duration, task func(context.Context)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task(ctx)
		}
	}
}

// pruneJournal drops rows beyond the configured limit.
func (s *Scheduler) pruneJournal(ctx context.Context) {
	removed, err := s.opts.Journal.Prune(ctx, s.opts.MaxRows)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("journal pruning failed")
		}
		return
	}
	if removed > 0 {
		s.logger.Info().
			Int64("removed", removed).
			Int("max_rows", s.opts.MaxRows).
			Msg("journal pruned")
	}
}

// reportStats logs the traffic counters and warns when the peer has been
// silent for more than one reporting period.
func (s *Scheduler) reportStats(ctx context.Context) {
	snap := s.opts.Stats.Snapshot()

	ev := s.logger.Info().
		Uint64("received", snap.Received).
		Uint64("malformed", snap.Malformed).
		Uint64("sent", snap.Sent).
		Uint64("auto_replies", snap.AutoReplies).
		Uint64("send_failures", snap.SendFailures).
		Str("uptime", formatDuration(snap.Uptime))
	if !snap.LastReceived.IsZero() {
		ev = ev.Time("last_received", snap.LastReceived)
	}
	ev.Msg("traffic stats")

	if silent := peerSilence(snap, time.Now()); silent > s.opts.StatsInterval {
		s.logger.Warn().
			Str("silent_for", formatDuration(silent)).
			Msg("no datagrams from peer")
	}
}

// peerSilence returns how long nothing has been received. Before the first
// datagram the session uptime is used.
func peerSilence(snap client.StatsSnapshot, now time.Time) time.Duration {
	if snap.LastReceived.IsZero() {
		return snap.Uptime
	}
	return now.Sub(snap.LastReceived)
}

// formatDuration rounds d for log output.
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Minute:
		return d.Round(time.Second).String()
	case d >= time.Second:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Millisecond).String()
	}
}
