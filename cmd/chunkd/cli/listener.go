package cli

import (
	"net"
	"time"
)

// timeoutListener wraps a net.Listener and applies read/write deadlines to
// every accepted connection, adapted from the teacher's Listener/Conn pair
// (cmd/tusd/cli/listener.go). Unlike the teacher, it does not also track an
// open-connections gauge here: chunkd counts open requests at the HTTP
// handler layer instead (internal/httpapi.Server.withRequestMetrics), so a
// second counter at the TCP-accept layer would double the bookkeeping
// without adding information.
type timeoutListener struct {
	net.Listener
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func newTimeoutListener(addr string, readTimeout, writeTimeout time.Duration) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &timeoutListener{Listener: l, readTimeout: readTimeout, writeTimeout: writeTimeout}, nil
}

func (l *timeoutListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	if l.readTimeout > 0 {
		if err := c.SetReadDeadline(time.Now().Add(l.readTimeout)); err != nil {
			return nil, err
		}
	}
	if l.writeTimeout > 0 {
		if err := c.SetWriteDeadline(time.Now().Add(l.writeTimeout)); err != nil {
			return nil, err
		}
	}

	return &timeoutConn{Conn: c, readTimeout: l.readTimeout, writeTimeout: l.writeTimeout}, nil
}

// timeoutConn renews its read/write deadline after every successful
// operation, so a slow-but-alive chunk upload is not cut off by a single
// fixed deadline the way an idle connection should be.
type timeoutConn struct {
	net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *timeoutConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if !isTimeoutError(err) && c.readTimeout > 0 {
		if err2 := c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err == nil {
			err = err2
		}
	}
	return n, err
}

func (c *timeoutConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if !isTimeoutError(err) && c.writeTimeout > 0 {
		if err2 := c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err == nil {
			err = err2
		}
	}
	return n, err
}

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	netErr, ok := err.(*net.OpError)
	if !ok {
		return false
	}
	return netErr.Timeout()
}
