package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/backkem/pebblemsg/pkg/discovery"
	"github.com/backkem/pebblemsg/pkg/loop"
	"github.com/backkem/pebblemsg/pkg/postmessage"
	"github.com/backkem/pebblemsg/pkg/transport"
	"github.com/cenkalti/backoff"
	json "github.com/goccy/go-json"
	"github.com/pion/logging"
	"golang.org/x/sync/errgroup"
)

// Redial policy for dial mode.
const (
	redialInitial = 500 * time.Millisecond
	redialMax     = 10 * time.Second
	linkPoll      = time.Second
	closeTimeout  = 2 * time.Second
)

// Bridge connects stdin and stdout to one PostMessage session.
type Bridge struct {
	cfg   Config
	lf    logging.LoggerFactory
	log   logging.LeveledLogger
	loop  *loop.EventLoop
	link  *transport.ConnLink
	sess  *postmessage.Session
	input io.Reader

	// out is written only on the loop.
	out *json.Encoder
}

// NewBridge builds the event loop, link and session for cfg.
func NewBridge(cfg Config, lf logging.LoggerFactory, in io.Reader, out io.Writer) (*Bridge, error) {
	b := &Bridge{
		cfg:   cfg,
		lf:    lf,
		log:   lf.NewLogger("pmbridge"),
		input: in,
		out:   json.NewEncoder(out),
	}
	b.loop = loop.NewEventLoop(loop.EventLoopConfig{LoggerFactory: lf})

	link, err := transport.NewConnLink(transport.ConnLinkConfig{
		Framing:       transport.FramingStream,
		WriteTimeout:  cfg.WriteTimeout,
		LoggerFactory: lf,
	})
	if err != nil {
		return nil, err
	}
	b.link = link

	sess, err := postmessage.NewSession(postmessage.Config{
		Link:                 link,
		Executor:             b.loop,
		Capabilities:         cfg.Capabilities,
		Listener:             b.listener(),
		InitiateOnConnect:    cfg.Mode == ModeDial,
		MaxObjectSize:        cfg.MaxObjectSize,
		RetryDelay:           cfg.RetryDelay,
		SessionClosedTimeout: cfg.SessionClosedTimeout,
		FailureThreshold:     cfg.FailureThreshold,
		AckTimeout:           cfg.AckTimeout,
		LoggerFactory:        lf,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	b.sess = sess
	return b, nil
}

func (b *Bridge) listener() postmessage.Listener {
	return postmessage.ListenerFuncs{
		Message: func(v any) {
			if err := b.out.Encode(v); err != nil {
				b.log.Errorf("write object: %v", err)
			}
		},
		Connected: func() {
			if p, ok := b.sess.Params(); ok {
				b.log.Infof("session open: version %d, tx chunk %d, rx chunk %d", p.Version, p.TxChunkSize, p.RxChunkSize)
			}
		},
		Disconnected: func() {
			b.log.Info("session closed")
		},
		Error: func(m *postmessage.FailedMessage) {
			b.log.Warnf("dropped %d byte object: %v", len(m.Data()), m.Err)
		},
	}
}

// Run serves until ctx is done or a component fails.
func (b *Bridge) Run(ctx context.Context) error {
	var ln net.Listener
	switch b.cfg.Mode {
	case ModeListen:
		var err error
		if ln, err = transport.ListenTCP(b.cfg.Listen); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		b.log.Infof("listening on %s", ln.Addr())
	case ModeDial:
	default:
		return fmt.Errorf("unknown mode %q", b.cfg.Mode)
	}

	opened := make(chan error, 1)
	b.loop.Post(func() { opened <- b.sess.Open() })

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := b.loop.Run(context.Background()); err != nil && !errors.Is(err, loop.ErrStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case err := <-opened:
			if err != nil {
				return fmt.Errorf("open session: %w", err)
			}
		case <-ctx.Done():
		}
		return nil
	})

	if ln != nil {
		if b.cfg.Advertise {
			adv, err := b.advertise(ctx, ln.Addr())
			if err != nil {
				b.log.Warnf("mDNS advertisement disabled: %v", err)
			} else {
				defer adv.Close()
			}
		}
		g.Go(func() error { return b.acceptLoop(ctx, ln) })
		g.Go(func() error {
			<-ctx.Done()
			return ln.Close()
		})
	} else {
		g.Go(func() error { return b.dialLoop(ctx) })
	}

	g.Go(func() error { return b.pump(ctx, b.readLines()) })
	g.Go(func() error {
		<-ctx.Done()
		b.shutdown()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// shutdown closes the session on the loop, then the link, then the loop.
func (b *Bridge) shutdown() {
	done := make(chan struct{})
	b.loop.Post(func() {
		b.sess.Close()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(closeTimeout):
		b.log.Warn("session close timed out")
	}
	b.link.Close()
	b.loop.Stop()
}

func (b *Bridge) advertise(ctx context.Context, addr net.Addr) (*discovery.AdvertiserWithContext, error) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("listener address %s is not TCP", addr)
	}
	adv, err := discovery.NewAdvertiserWithContext(ctx, discovery.AdvertiserConfig{
		InstanceName:  b.cfg.InstanceName,
		Port:          tcp.Port,
		LoggerFactory: b.lf,
	})
	if err != nil {
		return nil, err
	}
	caps := b.cfg.Capabilities
	err = adv.Start(discovery.AdvertisementTXT{
		MinVersion:     caps.MinVersion,
		MaxVersion:     caps.MaxVersion,
		MaxRxChunkSize: caps.MaxRxChunkSize,
		Role:           discovery.RoleWatch,
		Name:           b.cfg.FriendlyName,
	})
	if err != nil {
		adv.Close()
		return nil, err
	}
	return adv, nil
}

// acceptLoop attaches one connection at a time. Connections arriving while
// the link is up are refused.
func (b *Bridge) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		if err := b.link.Attach(conn); err != nil {
			b.log.Warnf("refusing %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			continue
		}
	}
}

// dialLoop keeps the link connected, redialing with exponential backoff
// whenever it drops.
func (b *Bridge) dialLoop(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = redialInitial
	policy.MaxInterval = redialMax
	policy.MaxElapsedTime = 0

	ticker := time.NewTicker(linkPoll)
	defer ticker.Stop()
	for {
		if !b.link.Connected() {
			policy.Reset()
			err := backoff.RetryNotify(func() error {
				return b.dialOnce(ctx)
			}, backoff.WithContext(policy, ctx), func(err error, next time.Duration) {
				b.log.Warnf("dial failed: %v; retrying in %s", err, next)
			})
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (b *Bridge) dialOnce(ctx context.Context) error {
	addrs := []string{b.cfg.Dial}
	if b.cfg.Dial == "" {
		resolved, err := b.resolve(ctx)
		if err != nil {
			return err
		}
		addrs = resolved
	}

	var lastErr error
	for _, addr := range addrs {
		dialCtx, cancel := context.WithTimeout(ctx, redialMax)
		lastErr = transport.DialTCP(dialCtx, addr, b.link)
		cancel()
		if lastErr == nil {
			b.log.Infof("connected to %s", addr)
			return nil
		}
		if errors.Is(lastErr, transport.ErrAlreadyAttached) {
			return nil
		}
	}
	return lastErr
}

func (b *Bridge) resolve(ctx context.Context) ([]string, error) {
	resolver, err := discovery.NewResolver(discovery.ResolverConfig{
		BrowseTimeout: b.cfg.BrowseTimeout,
		LoggerFactory: b.lf,
	})
	if err != nil {
		return nil, err
	}
	svc, err := resolver.FindPeer(ctx, discovery.RoleWatch)
	if err != nil {
		return nil, err
	}
	b.log.Infof("found %q at %s:%d", svc.InstanceName, svc.HostName, svc.Port)
	return discovery.DialAddresses(svc), nil
}

// readLines scans the input on its own goroutine, since a blocked read
// cannot be cancelled. The channel is closed at EOF.
func (b *Bridge) readLines() <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(b.input)
		scanner.Buffer(make([]byte, 0, 64*1024), b.cfg.MaxObjectSize+1)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			b.log.Warnf("read input: %v", err)
		}
	}()
	return lines
}

// pump parses each line as JSON and posts it on the loop. Input ending
// does not stop the bridge.
func (b *Bridge) pump(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				b.log.Debug("input closed")
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			var v any
			if err := json.Unmarshal([]byte(line), &v); err != nil {
				b.log.Warnf("skipping invalid JSON line: %v", err)
				continue
			}
			b.loop.Post(func() {
				if err := b.sess.PostMessage(v); err != nil {
					b.log.Warnf("post: %v", err)
				}
			})
		}
	}
}
