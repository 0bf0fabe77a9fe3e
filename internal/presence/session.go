// Package presence keeps a Discord rich presence in sync over the local IPC
// socket.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/musicrpc/musicrpc/internal/song"
)

var (
	ErrNotConnected = errors.New("presence: not connected")
	ErrClosed       = errors.New("presence: session closed")
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Backoff
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Backoff:
		return "backoff"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options configures a Session.
type Options struct {
	ApplicationID string
	Logger        *slog.Logger
	// Dial opens the IPC connection. Defaults to DefaultDial.
	Dial  func(ctx context.Context) (net.Conn, error)
	Clock clockwork.Clock

	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	StableAfter time.Duration

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// ReplyTimeout bounds the wait for a SET_ACTIVITY acknowledgement. A
	// missing reply is not an error.
	ReplyTimeout time.Duration

	LargeImage string
	PID        int
}

// Stats are counters for diagnostics.
type Stats struct {
	Connects       int
	Failures       int
	Updates        int
	Clears         int
	ConnectedSince time.Time
	RetryAt        time.Time
	LastError      string
}

// Session is the single presence connection of the process. It never sends
// outside the Connected state and never queues updates.
type Session struct {
	mu      sync.Mutex
	opts    Options
	logger  *slog.Logger
	clock   clockwork.Clock
	state   State
	conn    net.Conn
	appID   string
	enabled bool
	closed  bool

	delay       time.Duration
	retryAt     time.Time
	connectedAt time.Time

	// failing is set from the first failure until the next connect, so a
	// streak is logged once.
	failing bool
	// cleared is true while the remote presence is known to be empty.
	cleared bool
	lastKey string
	lastTS  int64

	stats Stats
}

func New(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Dial == nil {
		opts.Dial = DefaultDial
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 2 * time.Second
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 60 * time.Second
	}
	if opts.StableAfter <= 0 {
		opts.StableAfter = 30 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Second
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = 750 * time.Millisecond
	}
	if opts.PID == 0 {
		opts.PID = os.Getpid()
	}
	return &Session{
		opts:    opts,
		logger:  opts.Logger,
		clock:   opts.Clock,
		appID:   opts.ApplicationID,
		enabled: true,
	}
}

// Step advances the state machine once: a Disconnected session, or one whose
// backoff has expired, tries to connect.
func (s *Session) Step(ctx context.Context) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.enabled {
		return s.state
	}
	switch s.state {
	case Backoff:
		if s.clock.Now().Before(s.retryAt) {
			return s.state
		}
		s.connectLocked(ctx)
	case Disconnected:
		s.connectLocked(ctx)
	}
	return s.state
}

func (s *Session) connectLocked(ctx context.Context) {
	if s.appID == "" {
		s.failLocked(errors.New("no application id"))
		return
	}
	s.state = Connecting
	s.logger.Debug("connecting to discord", slog.String("client_id", s.appID))

	conn, err := s.opts.Dial(ctx)
	if err != nil {
		s.failLocked(fmt.Errorf("dial: %w", err))
		return
	}
	if err := s.handshake(conn); err != nil {
		conn.Close()
		s.failLocked(fmt.Errorf("handshake: %w", err))
		return
	}

	wasFailing := s.failing
	s.failing = false
	s.conn = conn
	s.state = Connected
	s.connectedAt = s.clock.Now()
	s.cleared = true
	s.lastKey = ""
	s.stats.Connects++
	s.stats.ConnectedSince = s.connectedAt
	s.stats.RetryAt = time.Time{}
	if wasFailing {
		s.logger.Info("discord connection restored", slog.String("client_id", s.appID))
	} else {
		s.logger.Info("connected to discord", slog.String("client_id", s.appID))
	}
}

func (s *Session) handshake(conn net.Conn) error {
	deadline := time.Now().Add(s.opts.HandshakeTimeout)
	_ = conn.SetDeadline(deadline)
	defer conn.SetDeadline(time.Time{})

	if err := writeFrame(conn, OpHandshake, handshake{V: 1, ClientID: s.appID}); err != nil {
		return err
	}
	for {
		op, payload, err := readFrame(conn)
		if err != nil {
			return err
		}
		switch op {
		case OpClose:
			return closeError(payload)
		case OpPing:
			if err := writeRaw(conn, OpPong, payload); err != nil {
				return err
			}
		case OpFrame:
			var resp response
			if err := json.Unmarshal(payload, &resp); err != nil {
				return fmt.Errorf("decode handshake reply: %w", err)
			}
			if resp.Cmd == "DISPATCH" && resp.Evt == "READY" {
				return nil
			}
			if resp.Evt == "ERROR" {
				return decodeRPCError(resp.Data)
			}
		}
	}
}

// failLocked moves to Backoff. The delay doubles per consecutive failure and
// restarts from MinBackoff once a connection has stayed up for StableAfter.
func (s *Session) failLocked(err error) {
	prev := s.state
	now := s.clock.Now()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if prev == Connected && now.Sub(s.connectedAt) >= s.opts.StableAfter {
		s.delay = 0
	}
	switch {
	case s.delay == 0:
		s.delay = s.opts.MinBackoff
	default:
		s.delay *= 2
		if s.delay > s.opts.MaxBackoff {
			s.delay = s.opts.MaxBackoff
		}
	}
	s.state = Backoff
	s.retryAt = now.Add(s.delay)
	s.stats.Failures++
	s.stats.RetryAt = s.retryAt
	s.stats.LastError = err.Error()

	if !s.failing {
		s.failing = true
		s.logger.Warn("discord unavailable", slog.Any("err", err), slog.Duration("retry_in", s.delay))
	} else {
		s.logger.Debug("discord still unavailable", slog.Any("err", err), slog.Duration("retry_in", s.delay))
	}
}

// Update shows info, or clears the presence when info is nil or paused. It
// is a no-op returning ErrNotConnected outside Connected.
func (s *Session) Update(ctx context.Context, info *song.Info) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.state != Connected {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if info == nil || !info.Playing {
		if s.cleared {
			return nil
		}
		if err := s.sendLocked(nil); err != nil {
			return err
		}
		s.cleared = true
		s.lastKey = ""
		s.stats.Clears++
		s.logger.Debug("presence cleared")
		return nil
	}

	act := BuildActivity(*info, s.clock.Now(), s.opts.LargeImage)
	key := activityKey(*info)
	if !s.cleared && key == s.lastKey && abs(act.Timestamps.Start-s.lastTS) < 2000 {
		return nil
	}
	if err := s.sendLocked(&act); err != nil {
		return err
	}
	s.cleared = false
	s.lastKey = key
	s.lastTS = act.Timestamps.Start
	s.stats.Updates++
	s.logger.Info("presence updated", slog.String("song", info.String()), slog.String("player", info.Player))
	return nil
}

func activityKey(info song.Info) string {
	return info.Title + "\x00" + info.Artist + "\x00" + info.DisplayAlbum() + "\x00" + info.Player + "\x00" + info.ArtworkURL
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// sendLocked writes one SET_ACTIVITY and waits briefly for the reply. An
// ERROR reply is returned as *RPCError and keeps the connection; transport
// failures move the session to Backoff.
func (s *Session) sendLocked(act *Activity) error {
	cmd := command{
		Cmd:   "SET_ACTIVITY",
		Args:  activityArgs{PID: s.opts.PID, Activity: act},
		Nonce: uuid.NewString(),
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err := writeFrame(s.conn, OpFrame, cmd); err != nil {
		s.failLocked(fmt.Errorf("send activity: %w", err))
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	err := s.awaitReply(cmd.Nonce)
	var rpcErr *RPCError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &rpcErr) && !errors.Is(err, errPeerClosed):
		s.logger.Warn("discord rejected activity", slog.Any("err", err))
		return err
	default:
		s.failLocked(fmt.Errorf("await reply: %w", err))
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
}

var errPeerClosed = errors.New("peer closed")

func (s *Session) awaitReply(nonce string) error {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.ReplyTimeout))
	defer s.conn.SetReadDeadline(time.Time{})
	for {
		op, payload, err := readFrame(s.conn)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil
			}
			return err
		}
		switch op {
		case OpClose:
			return fmt.Errorf("%w: %v", errPeerClosed, closeError(payload))
		case OpPing:
			if err := writeRaw(s.conn, OpPong, payload); err != nil {
				return err
			}
		case OpFrame:
			var resp response
			if err := json.Unmarshal(payload, &resp); err != nil {
				return fmt.Errorf("decode reply: %w", err)
			}
			if resp.Nonce != nonce {
				continue
			}
			if resp.Evt == "ERROR" {
				return decodeRPCError(resp.Data)
			}
			return nil
		}
	}
}

func closeError(payload []byte) error {
	var e RPCError
	if err := json.Unmarshal(payload, &e); err != nil || (e.Code == 0 && e.Message == "") {
		return errors.New("discord closed the connection")
	}
	return &e
}

func decodeRPCError(data json.RawMessage) error {
	var e RPCError
	_ = json.Unmarshal(data, &e)
	return &e
}

// SetApplicationID switches the Discord application the presence is posted
// under. While connected this clears, reconnects and leaves any backoff.
func (s *Session) SetApplicationID(ctx context.Context, id string) {
	if id == "" {
		id = s.opts.ApplicationID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || id == s.appID {
		return
	}
	s.logger.Debug("switching discord application", slog.String("from", s.appID), slog.String("to", id))
	s.appID = id
	if s.state != Connected {
		return
	}
	s.disconnectLocked()
	s.delay = 0
	if s.enabled {
		s.connectLocked(ctx)
	}
}

// ApplicationID is the id the session connects with.
func (s *Session) ApplicationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appID
}

// disconnectLocked clears the remote presence best-effort and closes.
func (s *Session) disconnectLocked() {
	if s.conn != nil && s.state == Connected && !s.cleared {
		cmd := command{Cmd: "SET_ACTIVITY", Args: activityArgs{PID: s.opts.PID}, Nonce: uuid.NewString()}
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		if err := writeFrame(s.conn, OpFrame, cmd); err == nil {
			_ = s.awaitReply(cmd.Nonce)
			s.stats.Clears++
		}
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.state = Disconnected
	s.cleared = true
	s.lastKey = ""
}

// Enable allows the session to connect again after Disable.
func (s *Session) Enable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled || s.closed {
		return
	}
	s.enabled = true
	s.delay = 0
	s.logger.Info("presence enabled")
}

// Disable clears the presence and disconnects until Enable.
func (s *Session) Disable(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled || s.closed {
		return
	}
	s.enabled = false
	s.disconnectLocked()
	s.logger.Info("presence disabled")
}

// Enabled reports whether presence is enabled.
func (s *Session) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Close clears the presence and disconnects for good.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	done := make(chan struct{})
	if s.conn != nil {
		// unblock the clear if the caller's deadline passes first
		conn := s.conn
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-done:
			}
		}()
	}
	s.disconnectLocked()
	close(done)
	s.closed = true
	s.logger.Debug("presence session closed")
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Delay is the current backoff delay, zero when not backing off.
func (s *Session) Delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Backoff {
		return 0
	}
	return s.delay
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
