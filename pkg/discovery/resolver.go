package discovery

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// DefaultBrowseTimeout is the default timeout for browse operations.
const DefaultBrowseTimeout = 10 * time.Second

// DefaultLookupTimeout is the default timeout for lookup operations.
const DefaultLookupTimeout = 5 * time.Second

// ResolvedService contains information about a discovered endpoint.
type ResolvedService struct {
	// InstanceName is the DNS-SD instance name.
	InstanceName string

	// HostName is the target host name.
	HostName string

	// Port is the service port.
	Port int

	// IPs contains the resolved IP addresses, sorted by preference.
	IPs []net.IP

	// Text contains the raw TXT record key-value pairs.
	Text map[string]string

	// TXT is the parsed advertisement, nil if the record was invalid.
	TXT *AdvertisementTXT
}

// PreferredIP returns the most preferred IP address, or nil.
func (r *ResolvedService) PreferredIP() net.IP {
	if len(r.IPs) > 0 {
		return r.IPs[0]
	}
	return nil
}

// MDNSResolver is the interface for mDNS service resolution.
// Implementations send entries until ctx is done or the query completes,
// and never close the entries channel.
type MDNSResolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
	Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// zeroconfResolver is the production implementation using grandcat/zeroconf.
// A zeroconf resolver shuts its client down when a query ends, so every
// query gets a fresh one.
type zeroconfResolver struct{}

func (zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return err
	}
	ch := make(chan *zeroconf.ServiceEntry)
	if err := r.Browse(ctx, service, domain, ch); err != nil {
		return err
	}
	return forward(ctx, ch, entries)
}

func (zeroconfResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return err
	}
	ch := make(chan *zeroconf.ServiceEntry)
	if err := r.Lookup(ctx, instance, service, domain, ch); err != nil {
		return err
	}
	return forward(ctx, ch, entries)
}

func forward(ctx context.Context, in <-chan *zeroconf.ServiceEntry, out chan<- *zeroconf.ServiceEntry) error {
	for {
		select {
		case e, ok := <-in:
			if !ok {
				return nil
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ResolverConfig holds configuration for the Resolver.
type ResolverConfig struct {
	// MDNSResolver is the underlying mDNS resolver implementation.
	// If nil, the default zeroconf resolver is used.
	MDNSResolver MDNSResolver

	// Domain defaults to DefaultDomain.
	Domain string

	// BrowseTimeout is the timeout for browse operations.
	// If zero, DefaultBrowseTimeout is used.
	BrowseTimeout time.Duration

	// LookupTimeout is the timeout for lookup operations.
	// If zero, DefaultLookupTimeout is used.
	LookupTimeout time.Duration

	LoggerFactory logging.LoggerFactory
}

// Resolver discovers developer connection endpoints via DNS-SD.
type Resolver struct {
	config   ResolverConfig
	resolver MDNSResolver
	log      logging.LeveledLogger
}

// NewResolver creates a new Resolver with the given configuration.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	resolver := config.MDNSResolver
	if resolver == nil {
		resolver = zeroconfResolver{}
	}
	if config.Domain == "" {
		config.Domain = DefaultDomain
	}
	if config.BrowseTimeout == 0 {
		config.BrowseTimeout = DefaultBrowseTimeout
	}
	if config.LookupTimeout == 0 {
		config.LookupTimeout = DefaultLookupTimeout
	}

	r := &Resolver{
		config:   config,
		resolver: resolver,
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("discovery")
	}
	return r, nil
}

// Browse discovers endpoints on the network. The returned channel receives
// services until the context is cancelled or the browse timeout expires,
// then it is closed.
func (r *Resolver) Browse(ctx context.Context) (<-chan ResolvedService, error) {
	results := make(chan ResolvedService)
	entries := make(chan *zeroconf.ServiceEntry)

	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); ok {
		ctx, cancel = context.WithCancel(ctx)
	} else {
		ctx, cancel = context.WithTimeout(ctx, r.config.BrowseTimeout)
	}

	go func() {
		defer close(entries)
		if err := r.resolver.Browse(ctx, ServiceType, r.config.Domain, entries); err != nil &&
			!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) && r.log != nil {
			r.log.Warnf("browse %s failed: %v", ServiceType, err)
		}
	}()

	go func() {
		defer close(results)
		defer cancel()
		for entry := range entries {
			if entry == nil {
				continue
			}
			svc := r.entryToResolvedService(entry)
			select {
			case results <- svc:
			case <-ctx.Done():
				// Let the browse goroutine observe ctx and close entries.
				for range entries {
				}
				return
			}
		}
	}()

	return results, nil
}

// Lookup resolves a single instance by name.
func (r *Resolver) Lookup(ctx context.Context, instanceName string) (*ResolvedService, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.LookupTimeout)
		defer cancel()
	}
	// Release the lookup goroutine once a result is taken.
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		defer close(entries)
		r.resolver.Lookup(ctx, instanceName, ServiceType, r.config.Domain, entries)
	}()

	select {
	case entry, ok := <-entries:
		if !ok || entry == nil {
			return nil, ErrServiceNotFound
		}
		svc := r.entryToResolvedService(entry)
		return &svc, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// FindPeer browses until an endpoint advertising role with a valid TXT
// record is found.
func (r *Resolver) FindPeer(ctx context.Context, role Role) (*ResolvedService, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results, err := r.Browse(ctx)
	if err != nil {
		return nil, err
	}
	for svc := range results {
		if svc.TXT == nil || svc.TXT.Role != role || len(svc.IPs) == 0 {
			continue
		}
		svc := svc
		return &svc, nil
	}
	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, ctx.Err()
	}
	return nil, ErrServiceNotFound
}

func (r *Resolver) entryToResolvedService(entry *zeroconf.ServiceEntry) ResolvedService {
	var allIPs []net.IP
	allIPs = append(allIPs, entry.AddrIPv4...)
	allIPs = append(allIPs, entry.AddrIPv6...)

	svc := ResolvedService{
		InstanceName: entry.Instance,
		HostName:     entry.HostName,
		Port:         entry.Port,
		IPs:          SortIPsByPreference(allIPs),
		Text:         ParseTXT(entry.Text),
	}
	txt, err := ParseAdvertisementTXT(entry.Text)
	if err != nil {
		if r.log != nil {
			r.log.Debugf("instance %q: %v", entry.Instance, err)
		}
		return svc
	}
	svc.TXT = txt
	return svc
}
