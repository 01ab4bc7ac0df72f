// Package connect provides the connection layer shared by the network
// methods: staggered dual-stack dialing, SRV indirection, SOCKS5h
// proxying and TLS, all over a composable MethodFd.
package connect

import (
	"net"
	"time"
)

// MethodFd is the opaque stream the methods read and write. Variants
// chain (SOCKS inside TLS) by wrapping an inner MethodFd.
type MethodFd interface {
	net.Conn
	// HasPending reports whether buffered plaintext is ready without
	// touching the wire.
	HasPending() bool
	// DescName names the transport for diagnostics.
	DescName() string
	// Inner returns the wrapped MethodFd, or nil.
	Inner() MethodFd
}

// tcpFd is the base variant over a raw connection.
type tcpFd struct {
	net.Conn
	name string
}

// NewFd wraps an established connection.
func NewFd(c net.Conn, name string) MethodFd {
	return &tcpFd{Conn: c, name: name}
}

func (f *tcpFd) HasPending() bool { return false }
func (f *tcpFd) DescName() string { return f.name }
func (f *tcpFd) Inner() MethodFd  { return nil }

// SetDeadlineAll sets one absolute deadline on the chain's base
// connection.
func SetDeadlineAll(fd MethodFd, t time.Time) {
	fd.SetDeadline(t)
}
