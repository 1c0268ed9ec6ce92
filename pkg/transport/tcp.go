package transport

import (
	"context"
	"net"
)

// DefaultPort is the default developer connection port.
const DefaultPort = 9000

// ListenTCP opens a TCP listener for developer connections. Accepted conns
// are attached to a stream ConnLink by the caller.
func ListenTCP(addr string) (net.Listener, error) {
	if addr == "" {
		addr = ":0"
	}
	return net.Listen("tcp", addr)
}

// DialTCP connects to addr and attaches the conn to link, which must use
// FramingStream.
func DialTCP(ctx context.Context, addr string, link *ConnLink) error {
	if link.config.Framing != FramingStream {
		return ErrInvalidFraming
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if err := link.Attach(conn); err != nil {
		conn.Close()
		return err
	}
	return nil
}
