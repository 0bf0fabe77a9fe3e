// Package detect finds the active music player and reads what it is playing.
//
// Each player is a Detector built from an ordered list of strategies (a
// now-playing query, a window-title parse, a bare process check). The
// Registry walks detectors by priority and picks the first enabled one that is
// running.
package detect

import (
	"context"
	"errors"

	"github.com/musicrpc/musicrpc/internal/song"
)

var (
	ErrToolMissing = errors.New("detect: tool not installed")
	ErrTimeout     = errors.New("detect: command timed out")
	ErrNoData      = errors.New("detect: no data")
	ErrUnsupported = errors.New("detect: unsupported on this platform")
)

func IsToolMissing(err error) bool { return errors.Is(err, ErrToolMissing) }
func IsNoData(err error) bool      { return errors.Is(err, ErrNoData) }

type Capability uint8

const (
	CapElapsed Capability = 1 << iota
	CapArtwork
)

func (c Capability) Has(flag Capability) bool { return c&flag != 0 }

// Descriptor identifies a detector and orders it within the Registry.
type Descriptor struct {
	Name     string
	Priority int // lower is checked first
	Caps     Capability
}

// Detector answers whether a player is active and what it is playing.
// CurrentSong returns nil, nil when the player is open but nothing could be
// read.
type Detector interface {
	Descriptor() Descriptor
	IsRunning(ctx context.Context) (bool, error)
	CurrentSong(ctx context.Context) (*song.Info, error)
}

// Strategy is one way of reading the current track. Read returns ErrNoData
// when the source answered but has no track, or another error when it could
// not be asked; either way the caller moves on to the next strategy.
type Strategy interface {
	Name() string
	Read(ctx context.Context) (*song.Info, error)
}

// ProcessProbe reports whether a player process exists.
type ProcessProbe interface {
	Running(ctx context.Context) (bool, error)
}

// Result is the outcome of one poll cycle.
type Result struct {
	Song     *song.Info
	Detector string
}
