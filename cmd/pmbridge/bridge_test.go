package main

import (
	"bufio"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/backkem/pebblemsg/pkg/loop"
	"github.com/backkem/pebblemsg/pkg/postmessage"
	"github.com/backkem/pebblemsg/pkg/transport"
	"github.com/google/go-cmp/cmp"
	"github.com/pion/logging"
)

// watchEndpoint is a listening session that answers every object with a pong.
type watchEndpoint struct {
	addr string
	got  chan any
	stop func()
}

func startWatch(t *testing.T) *watchEndpoint {
	t.Helper()
	ln, err := transport.ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP() error = %v", err)
	}
	link, err := transport.NewConnLink(transport.ConnLinkConfig{Framing: transport.FramingStream})
	if err != nil {
		t.Fatal(err)
	}
	el := loop.NewEventLoop(loop.EventLoopConfig{})
	w := &watchEndpoint{addr: ln.Addr().String(), got: make(chan any, 4)}

	var sess *postmessage.Session
	sess, err = postmessage.NewSession(postmessage.Config{
		Link:     link,
		Executor: el,
		Listener: postmessage.ListenerFuncs{
			Message: func(v any) {
				w.got <- v
				sess.PostMessage(map[string]any{"pong": true})
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	el.Post(func() { sess.Open() })

	ctx, cancel := context.WithCancel(context.Background())
	go el.Run(ctx)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		link.Attach(conn)
	}()
	w.stop = func() {
		cancel()
		ln.Close()
		link.Close()
	}
	return w
}

func TestBridgeDialRoundTrip(t *testing.T) {
	watch := startWatch(t)
	defer watch.stop()

	cfg := DefaultConfig()
	cfg.Mode = ModeDial
	cfg.Dial = watch.addr
	cfg.Advertise = false

	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = logging.LogLevelDisabled

	pr, pw := io.Pipe()
	defer pr.Close()
	in := strings.NewReader("\nnot json\n{\"ping\":1}\n")

	bridge, err := NewBridge(cfg, lf, in, pw)
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- bridge.Run(ctx) }()

	select {
	case v := <-watch.got:
		if diff := cmp.Diff(map[string]any{"ping": float64(1)}, v); diff != "" {
			t.Errorf("watch received mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not receive the posted object")
	}

	lines := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(pr)
		if scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	select {
	case line := <-lines:
		if line != `{"pong":true}` {
			t.Errorf("bridge printed %q, want {\"pong\":true}", line)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not print the inbound object")
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestBridgeRejectsUnknownMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = "relay"
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = logging.LogLevelDisabled

	bridge, err := NewBridge(cfg, lf, strings.NewReader(""), io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if err := bridge.Run(context.Background()); err == nil {
		t.Error("Run() accepted unknown mode")
	}
}
