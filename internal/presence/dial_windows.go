//go:build windows

package presence

import (
	"context"
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

func dialEndpoint(ctx context.Context, path string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return winio.DialPipeContext(ctx, path)
}
