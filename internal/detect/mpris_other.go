//go:build !linux

package detect

import (
	"context"

	"github.com/godbus/dbus/v5"
)

// SessionBus has no session bus to talk to outside Linux.
type SessionBus struct{}

func (*SessionBus) ListNames(context.Context) ([]string, error) {
	return nil, ErrUnsupported
}

func (*SessionBus) Property(context.Context, string, string, string) (dbus.Variant, error) {
	return dbus.Variant{}, ErrUnsupported
}
