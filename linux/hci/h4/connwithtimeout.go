package h4

import (
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// deadlineConn bounds every read and write on a TCP bridge. A read that
// times out returns (0, nil) and a closed connection reads as io.EOF, so the
// rx loop keeps polling until the transport is closed.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, c.wrap(err)
		}
	}
	n, err := c.Conn.Read(b)
	return n, c.wrap(err)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, c.wrap(err)
		}
	}
	return c.Conn.Write(b)
}

func (c *deadlineConn) wrap(err error) error {
	if err == nil || err == io.EOF {
		return err
	}
	if oe, ok := err.(*net.OpError); ok {
		if oe.Err == net.ErrClosed {
			return io.EOF
		}
		if oe.Timeout() {
			return nil
		}
	}
	return errors.Wrapf(err, "h4 socket %s", c.RemoteAddr())
}
