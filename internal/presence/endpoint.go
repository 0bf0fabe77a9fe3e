package presence

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
)

// ErrNoEndpoint means no Discord client is listening.
var ErrNoEndpoint = errors.New("presence: discord ipc endpoint not found")

const endpointSlots = 10

// Endpoints lists the IPC endpoints to try, in order.
func Endpoints(getenv func(string) string, goos string) []string {
	if goos == "windows" {
		out := make([]string, 0, endpointSlots)
		for i := 0; i < endpointSlots; i++ {
			out = append(out, fmt.Sprintf(`\\.\pipe\discord-ipc-%d`, i))
		}
		return out
	}

	var dirs []string
	seen := make(map[string]bool)
	for _, key := range []string{"XDG_RUNTIME_DIR", "TMPDIR", "TMP", "TEMP"} {
		if v := getenv(key); v != "" && !seen[v] {
			seen[v] = true
			dirs = append(dirs, v)
		}
	}
	if !seen["/tmp"] {
		dirs = append(dirs, "/tmp")
	}

	var out []string
	for _, dir := range dirs {
		// flatpak and snap Discord builds put the socket in a subdirectory
		for _, sub := range []string{"", "app/com.discordapp.Discord", "snap.discord"} {
			for i := 0; i < endpointSlots; i++ {
				out = append(out, filepath.Join(dir, sub, fmt.Sprintf("discord-ipc-%d", i)))
			}
		}
	}
	return out
}

// DefaultDial connects to the first reachable Discord endpoint.
func DefaultDial(ctx context.Context) (net.Conn, error) {
	var lastErr error
	for _, path := range Endpoints(os.Getenv, runtime.GOOS) {
		if runtime.GOOS != "windows" {
			if _, err := os.Stat(path); err != nil {
				continue
			}
		}
		conn, err := dialEndpoint(ctx, path)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoEndpoint, lastErr)
	}
	return nil, ErrNoEndpoint
}

// Discover returns the first endpoint that accepts a connection.
func Discover(ctx context.Context) (string, error) {
	for _, path := range Endpoints(os.Getenv, runtime.GOOS) {
		if runtime.GOOS != "windows" {
			if _, err := os.Stat(path); err != nil {
				continue
			}
		}
		conn, err := dialEndpoint(ctx, path)
		if err != nil {
			continue
		}
		conn.Close()
		return path, nil
	}
	return "", ErrNoEndpoint
}
