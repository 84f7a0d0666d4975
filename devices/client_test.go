package devices_test

import (
	"net"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdginn/larpa/devices"
)

func TestClientSendsOneDatagram(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	client := devices.NewClient("127.0.0.1", conn.LocalAddr().(*net.UDPAddr).Port)
	require.NoError(t, client.Echo("Hello, World!!"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1024)
	n, _, err := conn.ReadFrom(buf)
	require.NoError(t, err)

	packet, err := osc.ParsePacket(string(buf[:n]))
	require.NoError(t, err)
	msg, ok := packet.(*osc.Message)
	require.True(t, ok, "expected a message, got %T", packet)
	assert.Equal(t, "/echo", msg.Address)
	assert.Equal(t, []any{"Hello, World!!"}, msg.Arguments)
}

func TestAdvertiseTXT(t *testing.T) {
	txt := devices.AdvertiseTXT([]string{"/echo", "/scan"})
	assert.Equal(t, []string{"txtvers=1", "routes=/echo,/scan"}, txt)
}
