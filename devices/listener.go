package devices

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/hypebeast/go-osc/osc"
	"vawter.tech/stopper"

	"github.com/jdginn/larpa/logging"
)

// maxDatagramSize is the largest UDP payload.
const maxDatagramSize = 65535

// DecodeError reports a datagram that could not be parsed as an OSC packet.
type DecodeError struct {
	Remote net.Addr
	Size   int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("osc: undecodable %d-byte datagram from %v: %v", e.Size, e.Remote, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ListenerStats counts datagrams seen by a Listener.
type ListenerStats struct {
	Received   uint64
	Malformed  uint64
	Dispatched uint64
	// Dropped counts datagrams read after shutdown began, which are never decoded.
	Dropped uint64
}

// Listener owns a UDP socket and hands every datagram to a dispatcher on its own goroutine.
//
// The read loop never runs handlers itself, so a handler blocked on a device command does not stall reception.
type Listener struct {
	addr       string
	dispatcher osc.Dispatcher
	conn       net.PacketConn

	received   atomic.Uint64
	malformed  atomic.Uint64
	dispatched atomic.Uint64
	dropped    atomic.Uint64
}

func NewListener(addr string, dispatcher osc.Dispatcher) *Listener {
	return &Listener{addr: addr, dispatcher: dispatcher}
}

// Listen binds the socket. It is separate from Serve so bind failures surface before anything starts.
func (l *Listener) Listen() error {
	if l.conn != nil {
		return errors.New("osc: listener already bound")
	}
	conn, err := net.ListenPacket("udp", l.addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", l.addr, err)
	}
	l.conn = conn
	return nil
}

// Close closes the socket, which ends a running Serve.
func (l *Listener) Close() error {
	if l.conn == nil {
		return nil
	}
	return l.conn.Close()
}

// LocalAddr returns the bound address, or nil before Listen.
func (l *Listener) LocalAddr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

func (l *Listener) Stats() ListenerStats {
	return ListenerStats{
		Received:   l.received.Load(),
		Malformed:  l.malformed.Load(),
		Dispatched: l.dispatched.Load(),
		Dropped:    l.dropped.Load(),
	}
}

// ListenAndServe binds and serves until ctx is cancelled.
func (l *Listener) ListenAndServe(ctx context.Context) error {
	if err := l.Listen(); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Serve reads datagrams until ctx is cancelled or the socket fails.
//
// On cancellation the socket is closed and Serve waits for in-flight handlers before returning nil. Device
// operations are not interruptible, so handlers never see the cancellation.
func (l *Listener) Serve(ctx context.Context) error {
	if l.conn == nil {
		return errors.New("osc: Serve called before Listen")
	}
	log := logging.Get(logging.OSC_IN)
	// Workers outlive ctx: cancellation closes the socket, then Serve waits for every handler to return.
	sctx := stopper.WithContext(context.WithoutCancel(ctx))

	stopClose := context.AfterFunc(ctx, func() { _ = l.conn.Close() })
	defer stopClose()

	var serveErr error
	buf := make([]byte, maxDatagramSize)
	for {
		n, remote, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			serveErr = fmt.Errorf("reading from %s: %w", l.addr, err)
			break
		}
		l.received.Add(1)
		data := make([]byte, n)
		copy(data, buf[:n])
		accepted := sctx.Go(func(*stopper.Context) error {
			l.handle(data, remote)
			return nil
		})
		if !accepted {
			l.dropped.Add(1)
			log.Debug("Dropping datagram received during shutdown", "remote", remote, "size", n)
		}
	}

	log.Info("OSC listener stopping; waiting for in-flight handlers", "addr", l.addr)
	sctx.Stop(0)
	if err := sctx.Wait(); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// handle decodes and dispatches one datagram. It runs on a worker goroutine.
func (l *Listener) handle(data []byte, remote net.Addr) {
	log := logging.Get(logging.OSC_IN)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered from panic while handling OSC datagram", "remote", remote, "panic", r)
		}
	}()

	packet, err := osc.ParsePacket(string(data))
	if err != nil || packet == nil {
		if err == nil {
			err = errors.New("empty packet")
		}
		l.malformed.Add(1)
		log.Warn("Dropping malformed datagram", "err", &DecodeError{Remote: remote, Size: len(data), Err: err})
		return
	}
	log.Debug("Received OSC packet", "remote", remote, "size", len(data))
	l.dispatcher.Dispatch(packet)
	l.dispatched.Add(1)
}
