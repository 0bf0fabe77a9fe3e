package detect

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Logger *slog.Logger
	// RunningTTL is how long a positive IsRunning answer is trusted.
	RunningTTL time.Duration
	Clock      clockwork.Clock
}

// Registry holds detectors in priority order and selects the active one.
type Registry struct {
	mu        sync.Mutex
	detectors []Detector
	allowed   map[string]bool
	erroring  map[string]bool

	// owned by the polling goroutine
	runningUntil map[string]time.Time

	ttl    time.Duration
	clock  clockwork.Clock
	logger *slog.Logger
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.RunningTTL <= 0 {
		opts.RunningTTL = 5 * time.Second
	}
	return &Registry{
		runningUntil: make(map[string]time.Time),
		erroring:     make(map[string]bool),
		ttl:          opts.RunningTTL,
		clock:        opts.Clock,
		logger:       opts.Logger,
	}
}

// Register adds a detector, keeping ascending priority order. Detectors with
// equal priority keep registration order.
func (r *Registry) Register(d Detector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detectors = append(r.detectors, d)
	sort.SliceStable(r.detectors, func(i, j int) bool {
		return r.detectors[i].Descriptor().Priority < r.detectors[j].Descriptor().Priority
	})
}

// SetAllowed replaces the allow-list. A nil slice allows every detector; an
// empty one allows none. Names may be aliases.
func (r *Registry) SetAllowed(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if names == nil {
		r.allowed = nil
		return
	}
	r.allowed = make(map[string]bool, len(names))
	for _, n := range names {
		r.allowed[strings.ToLower(CanonicalName(n))] = true
	}
}

// Allowed reports whether name passes the allow-list.
func (r *Registry) Allowed(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allowed == nil || r.allowed[strings.ToLower(CanonicalName(name))]
}

// Detectors returns the registered descriptors in priority order.
func (r *Registry) Detectors() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Descriptor, len(r.detectors))
	for i, d := range r.detectors {
		out[i] = d.Descriptor()
	}
	return out
}

// Names returns the registered detector names in priority order.
func (r *Registry) Names() []string {
	descs := r.Detectors()
	names := make([]string, len(descs))
	for i, d := range descs {
		names[i] = d.Name
	}
	return names
}

// Lookup finds a detector by name or alias, ignoring case.
func (r *Registry) Lookup(name string) (Detector, bool) {
	canon := CanonicalName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.detectors {
		if strings.EqualFold(d.Descriptor().Name, canon) {
			return d, true
		}
	}
	return nil, false
}

func (r *Registry) candidates() []Detector {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Detector, 0, len(r.detectors))
	for _, d := range r.detectors {
		if r.allowed == nil || r.allowed[strings.ToLower(d.Descriptor().Name)] {
			out = append(out, d)
		}
	}
	return out
}

// SelectActive returns the first allowed detector, by ascending priority,
// whose player is running. The reason is "cached" when a recent positive
// answer was reused and "probe" otherwise.
func (r *Registry) SelectActive(ctx context.Context) (Detector, string, bool) {
	for _, d := range r.candidates() {
		if reason, ok := r.running(ctx, d); ok {
			return d, reason, true
		}
	}
	return nil, "", false
}

// Poll selects the active detector and reads its current song. A detector
// that fails either step counts as not running and the next one is tried.
func (r *Registry) Poll(ctx context.Context) Result {
	for _, d := range r.candidates() {
		reason, ok := r.running(ctx, d)
		if !ok {
			continue
		}
		name := d.Descriptor().Name
		info, err := d.CurrentSong(ctx)
		if err != nil {
			r.forget(name)
			r.markError(name, "current song", err)
			continue
		}
		r.markRecovered(name)
		r.logger.Debug("detector selected", slog.String("player", name), slog.String("reason", reason), slog.Bool("has_song", info != nil))
		return Result{Song: info, Detector: name}
	}
	return Result{}
}

func (r *Registry) running(ctx context.Context, d Detector) (string, bool) {
	name := d.Descriptor().Name
	if until, ok := r.runningUntil[name]; ok && r.clock.Now().Before(until) {
		return "cached", true
	}
	running, err := d.IsRunning(ctx)
	if err != nil {
		r.forget(name)
		r.markError(name, "is running", err)
		return "", false
	}
	if !running {
		// negatives are never cached, a player may start at any moment
		r.forget(name)
		r.markRecovered(name)
		return "", false
	}
	r.runningUntil[name] = r.clock.Now().Add(r.ttl)
	return "probe", true
}

func (r *Registry) forget(name string) {
	delete(r.runningUntil, name)
}

func (r *Registry) markError(name, op string, err error) {
	r.mu.Lock()
	already := r.erroring[name]
	r.erroring[name] = true
	r.mu.Unlock()
	if already {
		return
	}
	r.logger.Warn("detector failing", slog.String("player", name), slog.String("op", op), slog.Any("err", err))
}

func (r *Registry) markRecovered(name string) {
	r.mu.Lock()
	was := r.erroring[name]
	delete(r.erroring, name)
	r.mu.Unlock()
	if !was {
		return
	}
	r.logger.Info("detector recovered", slog.String("player", name))
}

// Erroring reports whether a detector is in its failing state. It is safe to
// call while another goroutine polls.
func (r *Registry) Erroring(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.erroring[name]
}
