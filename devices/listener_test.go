package devices_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdginn/larpa/devices"
	devtest "github.com/jdginn/larpa/devices/devicestesting"
)

// startListener binds a Listener on a loopback port and serves it until the test ends.
func startListener(t *testing.T, d osc.Dispatcher) (*devices.Listener, *net.UDPAddr) {
	t.Helper()
	l := devices.NewListener("127.0.0.1:0", d)
	require.NoError(t, l.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("listener did not stop")
		}
	})
	return l, l.LocalAddr().(*net.UDPAddr)
}

func sendRaw(t *testing.T, addr *net.UDPAddr, data []byte) {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(data)
	require.NoError(t, err)
}

func TestListenerEchoRoundTrip(t *testing.T) {
	r := devices.NewRouter()
	received := make(chan []any, 1)
	require.NoError(t, r.Register(devices.ECHO_ADDRESS, func(_ string, args []any) {
		received <- args
	}))
	_, addr := startListener(t, r)

	client := devices.NewClient("127.0.0.1", addr.Port)
	require.NoError(t, client.Echo("Hello, World!!"))

	select {
	case args := <-received:
		assert.Equal(t, []any{"Hello, World!!"}, args)
	case <-time.After(2 * time.Second):
		t.Fatal("echo was not delivered")
	}
}

func TestListenerDropsMalformedDatagram(t *testing.T) {
	r := devices.NewRouter()
	tracker := devtest.NewCallbackTracker(t)
	require.NoError(t, r.Register("/ping", devtest.WrapHandler(tracker, nil)))
	l, addr := startListener(t, r)

	sendRaw(t, addr, []byte("this is not osc"))
	sendRaw(t, addr, []byte{0x00, 0xff, 0x13})

	data, err := osc.NewMessage("/ping", int32(1)).MarshalBinary()
	require.NoError(t, err)
	sendRaw(t, addr, data)

	require.Eventually(t, func() bool { return tracker.Calls() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		stats := l.Stats()
		return stats.Malformed == 2 && stats.Dispatched == 1
	}, 2*time.Second, 5*time.Millisecond)
	stats := l.Stats()
	assert.Equal(t, uint64(3), stats.Received)
	assert.Equal(t, uint64(1), stats.Dispatched)
	assert.Equal(t, stats.Received, stats.Malformed+stats.Dispatched+stats.Dropped)
}

func TestListenerBlockingHandlerDoesNotStallReception(t *testing.T) {
	r := devices.NewRouter()
	unblock := make(chan struct{})
	var blocked sync.WaitGroup
	blocked.Add(1)
	require.NoError(t, r.Register("/slow", func(string, []any) {
		blocked.Done()
		<-unblock
	}))
	fast := make(chan struct{}, 1)
	require.NoError(t, r.Register("/fast", func(string, []any) {
		fast <- struct{}{}
	}))
	_, addr := startListener(t, r)
	defer close(unblock)

	client := devices.NewClient("127.0.0.1", addr.Port)
	require.NoError(t, client.Send("/slow"))
	blocked.Wait()
	require.NoError(t, client.Send("/fast"))

	select {
	case <-fast:
	case <-time.After(2 * time.Second):
		t.Fatal("fast message was stalled behind a blocked handler")
	}
}

func TestListenerRecoversFromHandlerPanic(t *testing.T) {
	r := devices.NewRouter()
	require.NoError(t, r.Register("/panic", func(string, []any) { panic("handler bug") }))
	ok := make(chan struct{}, 1)
	require.NoError(t, r.Register("/ok", func(string, []any) { ok <- struct{}{} }))
	_, addr := startListener(t, r)

	client := devices.NewClient("127.0.0.1", addr.Port)
	require.NoError(t, client.Send("/panic"))
	require.NoError(t, client.Send("/ok"))

	select {
	case <-ok:
	case <-time.After(2 * time.Second):
		t.Fatal("listener stopped serving after a handler panic")
	}
}

func TestListenerWaitsForInFlightHandlers(t *testing.T) {
	// Longer than any grace period, so only an unconditional wait passes.
	const work = 1500 * time.Millisecond

	tests := []struct {
		name string
		stop func(l *devices.Listener, cancel context.CancelFunc)
	}{
		{"context cancelled", func(_ *devices.Listener, cancel context.CancelFunc) { cancel() }},
		{"socket closed", func(l *devices.Listener, _ context.CancelFunc) { _ = l.Close() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := devices.NewRouter()
			started := make(chan struct{})
			finished := make(chan struct{})
			require.NoError(t, r.Register("/scan", func(string, []any) {
				close(started)
				time.Sleep(work)
				close(finished)
			}))

			l := devices.NewListener("127.0.0.1:0", r)
			require.NoError(t, l.Listen())
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			done := make(chan error, 1)
			go func() { done <- l.Serve(ctx) }()

			client := devices.NewClient("127.0.0.1", l.LocalAddr().(*net.UDPAddr).Port)
			require.NoError(t, client.Send("/scan"))
			<-started
			tt.stop(l, cancel)

			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("Serve did not return")
			}
			select {
			case <-finished:
			default:
				t.Fatal("Serve returned before the in-flight handler finished")
			}
			stats := l.Stats()
			assert.Equal(t, uint64(1), stats.Dispatched)
			assert.Zero(t, stats.Dropped)
		})
	}
}

func TestListenerBindFailure(t *testing.T) {
	first := devices.NewListener("127.0.0.1:0", devices.NewRouter())
	require.NoError(t, first.Listen())
	defer first.Close()

	second := devices.NewListener(first.LocalAddr().String(), devices.NewRouter())
	assert.Error(t, second.Listen())
}

func TestServeBeforeListen(t *testing.T) {
	l := devices.NewListener("127.0.0.1:0", devices.NewRouter())
	assert.Error(t, l.Serve(context.Background()))
	assert.Nil(t, l.LocalAddr())
}

func TestListenerCloseEndsServe(t *testing.T) {
	l := devices.NewListener("127.0.0.1:0", devices.NewRouter())
	require.NoError(t, l.Listen())
	done := make(chan error, 1)
	go func() { done <- l.Serve(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, l.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}
