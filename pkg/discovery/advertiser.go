package discovery

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// DefaultPort is the default developer connection port.
const DefaultPort = 9000

// MaxInstanceNameLength is the DNS label limit for instance names.
const MaxInstanceNameLength = 63

// MDNSServer is the interface for mDNS service registration.
// This allows for dependency injection in tests.
type MDNSServer interface {
	// Shutdown stops the server.
	Shutdown()
}

// MDNSServerFactory creates MDNSServer instances.
type MDNSServerFactory interface {
	// Register creates a new mDNS server for the given service.
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

// zeroconfServerFactory is the production implementation using grandcat/zeroconf.
type zeroconfServerFactory struct{}

func (z *zeroconfServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// AdvertiserConfig holds configuration for the Advertiser.
type AdvertiserConfig struct {
	// InstanceName is the DNS-SD instance name.
	// If empty, a random name is generated on each Start.
	InstanceName string

	// Port is the TCP port to advertise (default: 9000).
	Port int

	// Domain defaults to DefaultDomain.
	Domain string

	// Interfaces specifies which network interfaces to advertise on.
	// If nil, all interfaces are used.
	Interfaces []net.Interface

	// ServerFactory is the factory for creating mDNS servers.
	// If nil, the default zeroconf factory is used.
	ServerFactory MDNSServerFactory

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Advertiser publishes the _pebblemsg._tcp service.
type Advertiser struct {
	config   AdvertiserConfig
	factory  MDNSServerFactory
	log      logging.LeveledLogger
	mu       sync.RWMutex
	server   MDNSServer
	instance string
	closed   bool
}

// NewAdvertiser creates a new Advertiser with the given configuration.
func NewAdvertiser(config AdvertiserConfig) (*Advertiser, error) {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Port < 0 || config.Port > 65535 {
		return nil, ErrInvalidPort
	}
	if len(config.InstanceName) > MaxInstanceNameLength {
		return nil, ErrInvalidInstanceName
	}
	if config.Domain == "" {
		config.Domain = DefaultDomain
	}

	factory := config.ServerFactory
	if factory == nil {
		factory = &zeroconfServerFactory{}
	}

	a := &Advertiser{
		config:  config,
		factory: factory,
	}

	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("discovery")
	}

	return a, nil
}

// Start begins advertising with the given TXT payload.
func (a *Advertiser) Start(txt AdvertisementTXT) error {
	if err := txt.Validate(); err != nil {
		return fmt.Errorf("advertiser: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.server != nil {
		return ErrAlreadyStarted
	}

	instance := a.config.InstanceName
	if instance == "" {
		var err error
		if instance, err = generateRandomInstanceName(); err != nil {
			return fmt.Errorf("advertiser: failed to generate instance name: %w", err)
		}
	}

	records := txt.Encode()
	if a.log != nil {
		a.log.Debugf("Registering mDNS service: instance=%s service=%s domain=%s port=%d",
			instance, ServiceType, a.config.Domain, a.config.Port)
		a.log.Tracef("TXT records: %v", records)
	}

	server, err := a.factory.Register(instance, ServiceType, a.config.Domain, a.config.Port, records, a.config.Interfaces)
	if err != nil {
		return fmt.Errorf("advertiser: mDNS registration failed: %w", err)
	}

	if a.log != nil {
		a.log.Infof("advertising %s as %q on port %d", ServiceType, instance, a.config.Port)
	}
	a.server = server
	a.instance = instance
	return nil
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.server == nil {
		return ErrNotStarted
	}
	a.server.Shutdown()
	a.server = nil
	a.instance = ""
	return nil
}

// Close stops the advertisement and closes the advertiser.
func (a *Advertiser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	a.closed = true
	return nil
}

// IsAdvertising returns true while the service is registered.
func (a *Advertiser) IsAdvertising() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.server != nil
}

// InstanceName returns the active instance name, or "" when not advertising.
func (a *Advertiser) InstanceName() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.instance
}

// generateRandomInstanceName returns "pebblemsg-" followed by 8 hex characters.
func generateRandomInstanceName() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return "pebblemsg-" + hex.EncodeToString(buf[:]), nil
}

// AdvertiserWithContext wraps an Advertiser with context support.
type AdvertiserWithContext struct {
	*Advertiser
	cancel context.CancelFunc
}

// NewAdvertiserWithContext creates an Advertiser that is closed when ctx is done.
func NewAdvertiserWithContext(ctx context.Context, config AdvertiserConfig) (*AdvertiserWithContext, error) {
	adv, err := NewAdvertiser(config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		<-ctx.Done()
		adv.Close()
	}()

	return &AdvertiserWithContext{Advertiser: adv, cancel: cancel}, nil
}

// Close cancels the context and closes the advertiser.
func (a *AdvertiserWithContext) Close() error {
	a.cancel()
	return a.Advertiser.Close()
}
