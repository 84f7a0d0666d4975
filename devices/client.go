package devices

import (
	"fmt"

	"github.com/hypebeast/go-osc/osc"

	"github.com/jdginn/larpa/logging"
)

const ECHO_ADDRESS = "/echo"

// Client sends single OSC messages. Delivery is fire-and-forget.
type Client struct {
	c    *osc.Client
	host string
	port int
}

func NewClient(host string, port int) *Client {
	return &Client{c: osc.NewClient(host, port), host: host, port: port}
}

// Send encodes one message and writes it as one datagram.
func (c *Client) Send(address string, args ...any) error {
	logging.Get(logging.OSC_OUT).Debug("Sending OSC message",
		"host", c.host,
		"port", c.port,
		"address", address,
		"args", args)
	if err := c.c.Send(osc.NewMessage(address, args...)); err != nil {
		return fmt.Errorf("sending %s to %s:%d: %w", address, c.host, c.port, err)
	}
	return nil
}

// Echo sends body to the /echo route.
func (c *Client) Echo(body string) error {
	return c.Send(ECHO_ADDRESS, body)
}
