package kiln

import (
	"net"
	"sync/atomic"
	"time"
)

// trackedConn applies the per-connection socket timeout to every read and write and
// records when a write started, so a stalled write can be detected from outside.
type trackedConn struct {
	net.Conn
	timeout  time.Duration
	timelock atomic.Int64
}

func newTrackedConn(conn net.Conn, timeout time.Duration) *trackedConn {
	return &trackedConn{
		Conn:    conn,
		timeout: timeout,
	}
}

func (self *trackedConn) SetTimeout(timeout time.Duration) {
	self.timeout = timeout
}

func (self *trackedConn) Read(p []byte) (int, error) {
	if self.timeout > 0 {
		self.Conn.SetReadDeadline(time.Now().Add(self.timeout))
	}

	return self.Conn.Read(p)
}

func (self *trackedConn) Write(p []byte) (int, error) {
	if self.timeout > 0 {
		self.Conn.SetWriteDeadline(time.Now().Add(self.timeout))
	}

	self.timelock.Store(time.Now().UnixNano())
	defer self.timelock.Store(0)

	return self.Conn.Write(p)
}

// Stalled reports whether a write has been blocked for longer than limit.
func (self *trackedConn) Stalled(limit time.Duration) bool {
	if limit <= 0 {
		return false
	} else if started := self.timelock.Load(); started > 0 {
		return time.Since(time.Unix(0, started)) > limit
	}

	return false
}

// remote and local endpoints split into host and port
func endpoint(addr net.Addr) (string, string) {
	if addr == nil {
		return ``, ``
	} else if host, port, err := net.SplitHostPort(addr.String()); err == nil {
		return host, port
	} else {
		return addr.String(), ``
	}
}
