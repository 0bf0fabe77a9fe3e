package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/musicrpc/musicrpc/internal/app"
	"github.com/musicrpc/musicrpc/internal/broadcast"
	"github.com/musicrpc/musicrpc/internal/config"
	"github.com/musicrpc/musicrpc/internal/detect"
	"github.com/musicrpc/musicrpc/internal/enrich"
	"github.com/musicrpc/musicrpc/internal/logging"
	"github.com/musicrpc/musicrpc/internal/merge"
	"github.com/musicrpc/musicrpc/internal/presence"
	"github.com/musicrpc/musicrpc/internal/scheduler"
	"github.com/musicrpc/musicrpc/internal/ui"
)

var version = "2.0.0"

func main() {
	os.Exit(realMain())
}

// realMain returns the process exit code so deferred cleanup runs before
// main exits.
func realMain() int {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `MusicRPC - show what you're listening to on Discord

Usage: musicrpc [options]

Options:
  -config string
        Path to config file (default: <config dir>/musicrpc/config.toml)
  -interval int
        Poll interval in seconds, %d-%d (default from config, 10)
  -debug
        Log at debug level and mirror logs to stderr
  -disable-discord
        Detect and log songs without touching Discord
  -tui
        Show the status screen
  -version
        Print version and exit

Diagnostics:
  -doctor
        Check helpers, detectors and the Discord endpoint, then exit

Examples:
  musicrpc                       # Run headless
  musicrpc -tui                  # Run with the status screen
  musicrpc -interval 5 -debug    # Poll faster and log everything
  musicrpc -doctor               # Check setup

`, config.MinIntervalSecs, config.MaxIntervalSecs)
	}

	cfgPath := flag.String("config", "", "")
	debug := flag.Bool("debug", false, "")
	interval := flag.Int("interval", 0, "")
	disableDiscord := flag.Bool("disable-discord", false, "")
	tui := flag.Bool("tui", false, "")
	doctor := flag.Bool("doctor", false, "")
	showVersion := flag.Bool("version", false, "")
	flag.Parse()

	if *showVersion {
		fmt.Println("musicrpc", version)
		return 0
	}

	overrides := config.Overrides{
		Debug:          *debug,
		IntervalSecs:   *interval,
		DisableDiscord: *disableDiscord,
	}
	cfg, resolvedPath, err := loadConfig(*cfgPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "musicrpc: load config: %v\n", err)
		return 1
	}

	logger, logFile, err := logging.Setup(logging.Options{
		Level:     cfg.Logging.Level,
		Stderr:    *debug && !*tui,
		KeepFiles: cfg.Logging.KeepFiles,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "musicrpc: setup logging: %v\n", err)
		return 1
	}
	defer logFile.Close()
	slog.SetDefault(logger)
	logger.Info("starting musicrpc", slog.String("version", version), slog.String("config", resolvedPath))

	registry := buildRegistry(cfg, logger)

	if *doctor {
		runDoctor(os.Stdout, cfg, resolvedPath, registry)
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, resolvedPath, overrides, registry, logger, *tui); err != nil {
		logger.Error("musicrpc stopped", slog.Any("err", err))
		fmt.Fprintf(os.Stderr, "musicrpc: %v\n", err)
		return 1
	}
	logger.Info("musicrpc stopped")
	return 0
}

// loadConfig reads the file, applies the flags on top and validates the
// result.
func loadConfig(path string, o config.Overrides) (*config.Config, string, error) {
	cfg, resolved, err := config.Load(path)
	if err != nil {
		return nil, resolved, err
	}
	cfg.Apply(o)
	if err := config.Validate(*cfg); err != nil {
		return nil, resolved, err
	}
	return cfg, resolved, nil
}

func buildRegistry(cfg *config.Config, logger *slog.Logger) *detect.Registry {
	registry := detect.NewRegistry(detect.RegistryOptions{
		Logger:     logger,
		RunningTTL: cfg.RunningTTL(),
	})
	players := detect.DefaultPlayers(detect.PlayerOptions{
		Runner: detect.NewExecRunner(cfg.CommandTimeout()),
		Logger: logger,
	})
	for _, d := range players {
		registry.Register(d)
	}
	registry.SetAllowed(cfg.AllowedPlayers(registry.Names()))
	return registry
}

func buildSession(cfg *config.Config, logger *slog.Logger) *presence.Session {
	return presence.New(presence.Options{
		ApplicationID: cfg.Discord.ClientID,
		Logger:        logger,
		MinBackoff:    time.Duration(cfg.Backoff.MinSecs) * time.Second,
		MaxBackoff:    time.Duration(cfg.Backoff.MaxSecs) * time.Second,
		StableAfter:   time.Duration(cfg.Backoff.StableSecs) * time.Second,
		LargeImage:    cfg.Discord.LargeImage,
		PID:           os.Getpid(),
	})
}

// buildEnricher returns nil when enrichment is off or cannot start; the
// daemon runs without artwork in that case.
func buildEnricher(cfg *config.Config, logger *slog.Logger) *enrich.Pipeline {
	if !cfg.Enrich.Enabled {
		return nil
	}
	opts := enrich.Options{
		Provider:  cfg.Enrich.Provider,
		Timeout:   time.Duration(cfg.Enrich.TimeoutSecs) * time.Second,
		LocalTags: cfg.Enrich.LocalTags,
		CacheDays: cfg.Enrich.CacheDays,
		Logger:    logger,
	}
	if dir, err := logging.StateDir(); err == nil {
		opts.StorePath = filepath.Join(dir, "artwork.db")
	}
	pipeline, err := enrich.Build(opts)
	if err != nil && opts.StorePath != "" {
		logger.Warn("artwork cache unavailable", slog.Any("err", err))
		opts.StorePath = ""
		pipeline, err = enrich.Build(opts)
	}
	if err != nil {
		logger.Warn("artwork lookups disabled", slog.Any("err", err))
		return nil
	}
	return pipeline
}

func run(ctx context.Context, cfg *config.Config, cfgPath string, o config.Overrides, registry *detect.Registry, logger *slog.Logger, tui bool) error {
	var current atomic.Pointer[config.Config]
	current.Store(cfg)

	pipeline := buildEnricher(cfg, logger)
	var enricher enrich.Enricher
	if pipeline != nil {
		defer pipeline.Close()
		enricher = pipeline
	}
	merger := merge.New(enricher, merge.Config{
		UseAlbumArt: cfg.Enrich.UseAlbumArt,
		Timeout:     time.Duration(cfg.Enrich.TimeoutSecs) * time.Second,
	}, logger)

	opts := scheduler.Options{
		Registry:    registry,
		Merger:      merger,
		ClientIDFor: func(player string) string { return current.Load().ClientIDFor(player) },
		Logger:      logger,
		Interval:    cfg.Interval(),
		TickTimeout: cfg.TickTimeout(),
	}
	// -disable-discord keeps the session out of the process entirely.
	var session *presence.Session
	if !o.DisableDiscord {
		session = buildSession(cfg, logger)
		if !cfg.Discord.Enabled {
			session.Disable(ctx)
		}
		opts.Session = session
	}
	sched := scheduler.New(opts)

	reload := func(context.Context) error {
		next, _, err := loadConfig(cfgPath, o)
		if err != nil {
			logger.Warn("config reload failed", slog.Any("err", err))
			return err
		}
		current.Store(next)
		sched.SetInterval(next.Interval())
		sched.SetAllowed(next.AllowedPlayers(registry.Names()))
		sched.SetPresenceEnabled(next.Discord.Enabled)
		logger.Info("config reloaded", slog.String("config", cfgPath))
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.Go(func() error { return sched.Run(ctx) })

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				_ = reload(ctx)
			}
		}
	})

	var hub *broadcast.Hub
	if cfg.Broadcast.Enabled {
		hub = broadcast.NewHub(logger)
		g.Go(func() error { return hub.Serve(ctx, cfg.Broadcast.Listen) })
	}

	var uiCh chan scheduler.Snapshot
	if tui {
		uiCh = make(chan scheduler.Snapshot, 1)
	}
	g.Go(func() error {
		fanOut(sched.Snapshots(), hub, uiCh, logger)
		return nil
	})

	if tui {
		noColor := os.Getenv("NO_COLOR") != "" || cfg.UI.NoColor
		model := app.New(app.Options{
			Controller: sched,
			Snapshots:  uiCh,
			Reload:     reload,
			CacheLen:   cacheLenFunc(pipeline),
			Theme:      ui.GetTheme(cfg.UI.Theme, noColor),
			Version:    version,
		})
		g.Go(func() error {
			defer cancel()
			_, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
			if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return fmt.Errorf("tui: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// fanOut hands every snapshot to the overlay hub and the status screen, or
// logs song changes when there is no screen. It returns when the scheduler
// closes its channel.
func fanOut(in <-chan scheduler.Snapshot, hub *broadcast.Hub, uiCh chan scheduler.Snapshot, logger *slog.Logger) {
	if uiCh != nil {
		defer close(uiCh)
	}
	for snap := range in {
		if hub != nil {
			hub.Publish(snap)
		}
		if uiCh == nil {
			logSnapshot(logger, snap)
			continue
		}
		select {
		case <-uiCh:
		default:
		}
		uiCh <- snap
	}
}

func logSnapshot(logger *slog.Logger, snap scheduler.Snapshot) {
	if !snap.Changed {
		return
	}
	if snap.Song == nil {
		logger.Info("nothing playing", slog.String("presence", snap.State.String()))
		return
	}
	logger.Info("now playing",
		slog.String("title", snap.Song.Title),
		slog.String("artist", snap.Song.Artist),
		slog.String("album", snap.Song.DisplayAlbum()),
		slog.String("player", snap.Player),
		slog.Bool("playing", snap.Song.Playing),
		slog.String("presence", snap.State.String()))
}

func cacheLenFunc(p *enrich.Pipeline) func() int {
	if p == nil {
		return nil
	}
	return p.Len
}
