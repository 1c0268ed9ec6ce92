package discovery

import (
	"context"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
)

// MockNetwork is an in-memory mDNS segment. It is both an MDNSServerFactory
// and an MDNSResolver, so an Advertiser and a Resolver sharing one find each
// other without sockets.
type MockNetwork struct {
	mu      sync.Mutex
	hostIP  net.IP
	entries []*zeroconf.ServiceEntry
}

// NewMockNetwork creates an empty network. Services registered through it
// resolve to hostIP.
func NewMockNetwork(hostIP net.IP) *MockNetwork {
	return &MockNetwork{hostIP: hostIP}
}

// Add publishes an entry as if another host had registered it.
func (n *MockNetwork) Add(entry *zeroconf.ServiceEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries = append(n.entries, entry)
}

// Clear withdraws every entry.
func (n *MockNetwork) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries = nil
}

// Len returns the number of published entries.
func (n *MockNetwork) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.entries)
}

func (n *MockNetwork) remove(entry *zeroconf.ServiceEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, e := range n.entries {
		if e == entry {
			n.entries = append(n.entries[:i], n.entries[i+1:]...)
			return
		}
	}
}

func (n *MockNetwork) match(service, domain string) []*zeroconf.ServiceEntry {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*zeroconf.ServiceEntry
	for _, e := range n.entries {
		if e.Service == service && e.Domain == domain {
			out = append(out, e)
		}
	}
	return out
}

// Register implements MDNSServerFactory.
func (n *MockNetwork) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	entry := newMockEntry(instance, service, domain, port, n.hostIP, txt)
	n.Add(entry)
	return mockRegistration{network: n, entry: entry}, nil
}

// Browse implements MDNSResolver.
func (n *MockNetwork) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	for _, entry := range n.match(service, domain) {
		select {
		case entries <- entry:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Lookup implements MDNSResolver.
func (n *MockNetwork) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	for _, entry := range n.match(service, domain) {
		if entry.Instance != instance {
			continue
		}
		select {
		case entries <- entry:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

type mockRegistration struct {
	network *MockNetwork
	entry   *zeroconf.ServiceEntry
}

func (r mockRegistration) Shutdown() {
	r.network.remove(r.entry)
}

// MockService builds a _pebblemsg._tcp entry in the default domain.
func MockService(instanceName string, port int, ip net.IP, txt AdvertisementTXT) *zeroconf.ServiceEntry {
	return newMockEntry(instanceName, ServiceType, DefaultDomain, port, ip, txt.Encode())
}

func newMockEntry(instance, service, domain string, port int, ip net.IP, txt []string) *zeroconf.ServiceEntry {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: instance,
			Service:  service,
			Domain:   domain,
		},
		HostName: instance + "." + domain,
		Port:     port,
		Text:     txt,
	}
	if ip4 := ip.To4(); ip4 != nil {
		entry.AddrIPv4 = []net.IP{ip4}
	} else if ip != nil {
		entry.AddrIPv6 = []net.IP{ip}
	}
	return entry
}

var (
	_ MDNSServerFactory = (*MockNetwork)(nil)
	_ MDNSResolver      = (*MockNetwork)(nil)
)
