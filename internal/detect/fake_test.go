package detect

import (
	"context"
	"strings"
	"sync"

	"github.com/musicrpc/musicrpc/internal/song"
)

// fakeRunner answers commands by their joined command line.
type fakeRunner struct {
	mu      sync.Mutex
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{outputs: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeRunner) set(cmd, out string)        { f.outputs[cmd] = out }
func (f *fakeRunner) fail(cmd string, err error) { f.errs[cmd] = err }

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	key := strings.Join(append([]string{name}, args...), " ")
	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.mu.Unlock()
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if err, ok := f.errs[name]; ok {
		return nil, err
	}
	if out, ok := f.outputs[key]; ok {
		return []byte(out), nil
	}
	return nil, &ExitError{Name: name, Code: 1}
}

func (f *fakeRunner) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// fakeDetector is a scripted Detector.
type fakeDetector struct {
	desc       Descriptor
	running    bool
	runningErr error
	song       *song.Info
	songErr    error
	probes     int
}

func (f *fakeDetector) Descriptor() Descriptor { return f.desc }

func (f *fakeDetector) IsRunning(context.Context) (bool, error) {
	f.probes++
	return f.running, f.runningErr
}

func (f *fakeDetector) CurrentSong(context.Context) (*song.Info, error) {
	return f.song, f.songErr
}
