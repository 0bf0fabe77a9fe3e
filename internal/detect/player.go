package detect

import (
	"context"
	"log/slog"

	"github.com/musicrpc/musicrpc/internal/song"
)

// Player is a Detector assembled from a process probe and an ordered list of
// reading strategies.
type Player struct {
	desc       Descriptor
	probe      ProcessProbe
	strategies []Strategy
	logger     *slog.Logger
}

func NewPlayer(desc Descriptor, probe ProcessProbe, logger *slog.Logger, strategies ...Strategy) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{desc: desc, probe: probe, strategies: strategies, logger: logger}
}

func (p *Player) Descriptor() Descriptor { return p.desc }

func (p *Player) IsRunning(ctx context.Context) (bool, error) {
	if p.probe == nil {
		return false, nil
	}
	return p.probe.Running(ctx)
}

// CurrentSong returns the first strategy's reading that has data. Strategy
// failures are transient and only logged at debug.
func (p *Player) CurrentSong(ctx context.Context) (*song.Info, error) {
	for _, s := range p.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := s.Read(ctx)
		if err == nil && info == nil {
			err = ErrNoData
		}
		switch {
		case IsNoData(err):
			p.logger.Debug("strategy had no data", slog.String("player", p.desc.Name), slog.String("strategy", s.Name()))
			continue
		case err != nil:
			p.logger.Debug("strategy failed",
				slog.String("player", p.desc.Name),
				slog.String("strategy", s.Name()),
				slog.Any("err", err))
			continue
		}
		if info.Player == "" {
			fixed := song.New(info.Title, info.Artist, info.Album, p.desc.Name,
				song.WithDuration(info.Duration), song.WithElapsed(info.Elapsed),
				song.WithPlaying(info.Playing), song.WithLocation(info.Location),
				song.WithArtwork(info.ArtworkURL, info.ArtistImageURL))
			info = &fixed
		}
		return info, nil
	}
	return nil, nil
}

// ProcessOnly yields a placeholder while the player process exists, for
// players whose track cannot be read.
type ProcessOnly struct {
	Player string
	Probe  ProcessProbe
}

func (p *ProcessOnly) Name() string { return "process" }

func (p *ProcessOnly) Read(ctx context.Context) (*song.Info, error) {
	running, err := p.Probe.Running(ctx)
	if err != nil {
		return nil, err
	}
	if !running {
		return nil, ErrNoData
	}
	info := song.Placeholder(p.Player)
	return &info, nil
}
