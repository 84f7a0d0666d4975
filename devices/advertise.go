package devices

import (
	"fmt"
	"strings"

	"github.com/enbility/zeroconf/v3"

	"github.com/jdginn/larpa/logging"
)

const (
	OSC_SERVICE_TYPE = "_osc._udp"
	MDNS_DOMAIN      = "local."
)

// AdvertiseTXT builds the TXT records published alongside the OSC service.
func AdvertiseTXT(routes []string) []string {
	return []string{
		"txtvers=1",
		"routes=" + strings.Join(routes, ","),
	}
}

// Advertise publishes the listener over mDNS so control surfaces can find it. The returned func withdraws it.
func Advertise(instance string, port int, routes []string) (func(), error) {
	server, err := zeroconf.Register(
		instance,
		OSC_SERVICE_TYPE,
		MDNS_DOMAIN,
		port,
		AdvertiseTXT(routes),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("registering mDNS service %q: %w", instance, err)
	}
	logging.Get(logging.APP).Info("Advertising OSC service", "instance", instance, "type", OSC_SERVICE_TYPE, "port", port)
	return server.Shutdown, nil
}
