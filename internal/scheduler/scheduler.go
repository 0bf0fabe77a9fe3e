// Package scheduler runs the poll loop: detect, merge, publish to Discord,
// and hand a snapshot to observers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/musicrpc/musicrpc/internal/detect"
	"github.com/musicrpc/musicrpc/internal/merge"
	"github.com/musicrpc/musicrpc/internal/presence"
	"github.com/musicrpc/musicrpc/internal/song"
)

// failureStreak is the number of consecutive failed cycles that earns a
// warning.
const failureStreak = 3

// Poller is the slice of detect.Registry the loop uses.
type Poller interface {
	Poll(ctx context.Context) detect.Result
	SetAllowed(names []string)
}

type Merger interface {
	Merge(ctx context.Context, raw, previous *song.Info) merge.Outcome
}

// Presence is the slice of presence.Session the loop drives.
type Presence interface {
	Step(ctx context.Context) presence.State
	Update(ctx context.Context, info *song.Info) error
	SetApplicationID(ctx context.Context, id string)
	Enable()
	Disable(ctx context.Context)
	Enabled() bool
	State() presence.State
	Delay() time.Duration
	Stats() presence.Stats
	Close(ctx context.Context) error
}

// Snapshot is what observers see after each cycle. It is never mutated after
// publication.
type Snapshot struct {
	Song            *song.Info
	Player          string
	State           presence.State
	Delay           time.Duration
	PresenceEnabled bool
	// Stats is copied from the session on the loop goroutine; nil when
	// presence is off for the run.
	Stats    *presence.Stats
	Changed  bool
	At       time.Time
	Tick     uint64
	Errors   int
	Interval time.Duration
}

// Options configures a Scheduler.
type Options struct {
	Registry Poller
	Merger   Merger
	// Session is nil when presence is disabled for the whole run.
	Session Presence
	// ClientIDFor maps a player name to its Discord application id.
	ClientIDFor func(player string) string
	Logger      *slog.Logger
	Clock       clockwork.Clock
	Interval    time.Duration
	TickTimeout time.Duration
}

// Scheduler owns the registry, merger and session for the process lifetime.
// All of them are touched only from the loop goroutine.
type Scheduler struct {
	opts     Options
	logger   *slog.Logger
	clock    clockwork.Clock
	interval time.Duration

	requests  chan func(ctx context.Context)
	snapshots chan Snapshot
	done      chan struct{}

	prev    *song.Info
	ticks   uint64
	errors  int
	streak  int
	mu      sync.Mutex
	latest  Snapshot
	started bool
}

func New(opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.TickTimeout <= 0 {
		opts.TickTimeout = opts.Interval
	}
	return &Scheduler{
		opts:      opts,
		logger:    opts.Logger,
		clock:     opts.Clock,
		interval:  opts.Interval,
		requests:  make(chan func(ctx context.Context), 8),
		snapshots: make(chan Snapshot, 1),
		done:      make(chan struct{}),
	}
}

// Snapshots delivers the latest snapshot. Slow readers miss intermediate
// ones. The channel is closed when Run returns.
func (s *Scheduler) Snapshots() <-chan Snapshot { return s.snapshots }

// Latest returns the most recent snapshot.
func (s *Scheduler) Latest() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Run polls immediately and then every interval until ctx is done. Cycle
// failures are logged and never end the loop. On exit the presence is
// cleared and the session closed.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler: already running")
	}
	s.started = true
	s.mu.Unlock()
	defer close(s.snapshots)
	defer close(s.done)

	s.logger.Info("poll loop started", slog.Duration("interval", s.interval))
	s.runTick(ctx)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	current := s.interval
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case req := <-s.requests:
			req(ctx)
			if s.interval != current {
				current = s.interval
				ticker.Reset(current)
			}
		case <-ticker.Chan():
			s.runTick(ctx)
		}
	}
}

func (s *Scheduler) shutdown() {
	s.logger.Info("poll loop stopping")
	if s.opts.Session == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.opts.Session.Close(ctx); err != nil {
		s.logger.Warn("close presence session", slog.Any("err", err))
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	snap, _ := s.Tick(ctx)
	s.publish(snap)
}

func (s *Scheduler) publish(snap Snapshot) {
	select {
	case s.snapshots <- snap:
		return
	default:
	}
	// drop the stale one
	select {
	case <-s.snapshots:
	default:
	}
	select {
	case s.snapshots <- snap:
	default:
	}
}

// Tick runs one cycle bounded by the tick timeout. The returned snapshot is
// valid even when err is non-nil.
func (s *Scheduler) Tick(ctx context.Context) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.TickTimeout)
	defer cancel()

	s.ticks++
	changed, err := s.cycle(ctx)
	if err != nil {
		s.errors++
		s.streak++
		s.logger.Info("poll cycle failed", slog.Uint64("tick", s.ticks), slog.Any("err", err))
		if s.streak == failureStreak {
			s.logger.Warn("poll cycle failing repeatedly", slog.Int("consecutive", s.streak), slog.Any("err", err))
		}
	} else {
		if s.streak >= failureStreak {
			s.logger.Info("poll cycle recovered", slog.Int("failed", s.streak))
		}
		s.streak = 0
	}

	snap := s.snapshot(changed)
	s.mu.Lock()
	s.latest = snap
	s.mu.Unlock()
	return snap, err
}

func (s *Scheduler) cycle(ctx context.Context) (changed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("poll cycle panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	res := s.opts.Registry.Poll(ctx)
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("poll: %w", err)
	}

	out := s.opts.Merger.Merge(ctx, res.Song, s.prev)
	if out.Changed {
		if out.Song != nil {
			s.logger.Info("now playing", slog.String("song", out.Song.String()), slog.String("player", out.Song.Player))
		} else {
			s.logger.Info("playback stopped")
		}
	}
	if out.Emit {
		s.prev = out.Song
	}

	sess := s.opts.Session
	if sess == nil {
		return out.Changed, nil
	}
	if res.Detector != "" && s.opts.ClientIDFor != nil {
		sess.SetApplicationID(ctx, s.opts.ClientIDFor(res.Detector))
	}
	if sess.Step(ctx) == presence.Connected && out.Emit {
		if err := sess.Update(ctx, out.Song); err != nil && !errors.Is(err, presence.ErrNotConnected) {
			s.logger.Debug("presence update failed", slog.Any("err", err))
		}
	}
	return out.Changed, nil
}

func (s *Scheduler) snapshot(changed bool) Snapshot {
	snap := Snapshot{
		Changed:  changed,
		At:       s.clock.Now(),
		Tick:     s.ticks,
		Errors:   s.errors,
		Interval: s.interval,
	}
	if s.prev != nil {
		cp := *s.prev
		snap.Song = &cp
		snap.Player = cp.Player
	}
	if sess := s.opts.Session; sess != nil {
		snap.State = sess.State()
		snap.Delay = sess.Delay()
		snap.PresenceEnabled = sess.Enabled()
		st := sess.Stats()
		snap.Stats = &st
	}
	return snap
}

// request hands fn to the loop goroutine. It gives up if the loop has ended.
func (s *Scheduler) request(fn func(ctx context.Context)) {
	select {
	case s.requests <- fn:
	case <-s.done:
	}
}

// Interval is the current poll interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// SetInterval changes the poll interval from the next tick on.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.request(func(context.Context) {
		if d == s.interval {
			return
		}
		s.logger.Info("poll interval changed", slog.Duration("from", s.interval), slog.Duration("to", d))
		s.mu.Lock()
		s.interval = d
		s.mu.Unlock()
	})
}

// SetPresenceEnabled enables or disables (and clears) the Discord presence.
func (s *Scheduler) SetPresenceEnabled(enabled bool) {
	s.request(func(ctx context.Context) {
		sess := s.opts.Session
		if sess == nil {
			s.logger.Info("presence is disabled for this run")
			return
		}
		if enabled {
			sess.Enable()
			return
		}
		sess.Disable(ctx)
	})
}

// SetAllowed replaces the player allow-list.
func (s *Scheduler) SetAllowed(names []string) {
	s.request(func(context.Context) {
		s.opts.Registry.SetAllowed(names)
		s.logger.Info("player allow-list changed", slog.Any("players", names))
	})
}
