package network

import (
	"fmt"
	"net"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// ServiceType is the mDNS service type this EVSE advertises for local
// maintenance tooling to find it, independent of the CSMS connection
// (which always uses the static server_url from configuration). This
// is a supplemental, optional feature, wired from mash-go's mDNS stack
// rather than dropped.
const ServiceType = "_evse._tcp"

// Domain is the mDNS domain used for local advertisement.
const Domain = "local."

// Advertiser publishes an mDNS service record so a technician's laptop
// on the same LAN can find this charge point without knowing its IP.
type Advertiser struct {
	mu     sync.Mutex
	server *zeroconf.Server
}

// Advertise registers the service. deviceID becomes the mDNS instance
// name; port is the host-tool diagnostic port (not the OCPP WebSocket
// port, which is outbound-only to the CSMS).
func (a *Advertiser) Advertise(deviceID string, port int, txt map[string]string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return fmt.Errorf("network: already advertising")
	}

	txtStrings := make([]string, 0, len(txt))
	for k, v := range txt {
		txtStrings = append(txtStrings, k+"="+v)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return err
	}

	server, err := zeroconf.Register(deviceID, ServiceType, Domain, port, txtStrings, ifaces)
	if err != nil {
		return fmt.Errorf("network: register mdns service: %w", err)
	}
	a.server = server
	return nil
}

// StopAdvertising withdraws the mDNS record, if any.
func (a *Advertiser) StopAdvertising() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}
