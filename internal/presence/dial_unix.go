//go:build !windows

package presence

import (
	"context"
	"net"
	"time"
)

func dialEndpoint(ctx context.Context, path string) (net.Conn, error) {
	d := net.Dialer{Timeout: 2 * time.Second}
	return d.DialContext(ctx, "unix", path)
}
