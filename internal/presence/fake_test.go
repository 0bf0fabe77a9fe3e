package presence

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

type received struct {
	ClientID string
	Cmd      string
	Activity *Activity
	Clear    bool
}

// fakeDiscord is a minimal Discord IPC peer on a unix socket.
type fakeDiscord struct {
	t      *testing.T
	path   string
	ln     net.Listener
	events chan received

	mu     sync.Mutex
	reject map[string]bool
	conns  []net.Conn
}

func newFakeDiscord(t *testing.T) *fakeDiscord {
	t.Helper()
	dir, err := os.MkdirTemp("", "drpc")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "discord-ipc-0")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeDiscord{t: t, path: path, ln: ln, events: make(chan received, 64), reject: map[string]bool{}}
	t.Cleanup(func() { f.Close() })
	go f.acceptLoop()
	return f
}

func (f *fakeDiscord) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", f.path)
}

func (f *fakeDiscord) rejectClient(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reject[id] = true
}

// dropAll closes every accepted connection from the server side.
func (f *fakeDiscord) dropAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		c.Close()
	}
	f.conns = nil
}

func (f *fakeDiscord) Close() {
	f.ln.Close()
	f.dropAll()
}

func (f *fakeDiscord) acceptLoop() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()
		go f.serve(conn)
	}
}

func (f *fakeDiscord) serve(conn net.Conn) {
	op, payload, err := readFrame(conn)
	if err != nil || op != OpHandshake {
		conn.Close()
		return
	}
	var hs handshake
	_ = json.Unmarshal(payload, &hs)
	f.events <- received{ClientID: hs.ClientID, Cmd: "HANDSHAKE"}

	f.mu.Lock()
	rejected := f.reject[hs.ClientID]
	f.mu.Unlock()
	if rejected {
		_ = writeFrame(conn, OpClose, RPCError{Code: 4000, Message: "Invalid Client ID"})
		conn.Close()
		return
	}
	ready := map[string]any{"cmd": "DISPATCH", "evt": "READY", "data": map[string]any{"v": 1}}
	if err := writeFrame(conn, OpFrame, ready); err != nil {
		return
	}

	for {
		op, payload, err := readFrame(conn)
		if err != nil {
			return
		}
		if op != OpFrame {
			continue
		}
		var cmd struct {
			Cmd  string `json:"cmd"`
			Args struct {
				Activity *Activity `json:"activity"`
			} `json:"args"`
			Nonce string `json:"nonce"`
		}
		if err := json.Unmarshal(payload, &cmd); err != nil {
			f.t.Errorf("bad command: %v", err)
			return
		}
		f.events <- received{ClientID: hs.ClientID, Cmd: cmd.Cmd, Activity: cmd.Args.Activity, Clear: cmd.Args.Activity == nil}
		reply := map[string]any{"cmd": cmd.Cmd, "evt": nil, "nonce": cmd.Nonce, "data": cmd.Args.Activity}
		if err := writeFrame(conn, OpFrame, reply); err != nil {
			return
		}
	}
}

// next waits for the next event, failing the test after a short timeout.
func (f *fakeDiscord) next(t *testing.T) received {
	t.Helper()
	select {
	case ev := <-f.events:
		return ev
	case <-timeoutCh():
		t.Fatal("timeout waiting for discord event")
		return received{}
	}
}

// none asserts that no event is pending.
func (f *fakeDiscord) none(t *testing.T) {
	t.Helper()
	select {
	case ev := <-f.events:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}
