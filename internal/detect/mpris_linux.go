package detect

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

// SessionBus is a lazily connected Bus backed by the user's session bus.
type SessionBus struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

func (s *SessionBus) connect() (*dbus.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil && s.conn.Connected() {
		return s.conn, nil
	}
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	s.conn = conn
	return conn, nil
}

func (s *SessionBus) ListNames(ctx context.Context) ([]string, error) {
	conn, err := s.connect()
	if err != nil {
		return nil, err
	}
	var names []string
	if err := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return nil, fmt.Errorf("list bus names: %w", err)
	}
	return names, nil
}

func (s *SessionBus) Property(ctx context.Context, dest, iface, prop string) (dbus.Variant, error) {
	conn, err := s.connect()
	if err != nil {
		return dbus.Variant{}, err
	}
	var v dbus.Variant
	obj := conn.Object(dest, mprisPath)
	if err := obj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0, iface, prop).Store(&v); err != nil {
		return dbus.Variant{}, fmt.Errorf("get %s.%s: %w", iface, prop, err)
	}
	return v, nil
}
