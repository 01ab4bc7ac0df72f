// Package http implements the pipelined HTTP/1.1 acquire method, used
// for both http and https URIs.
package http

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http/httpproxy"

	"github.com/aptutil/aptcore"
	"github.com/aptutil/aptcore/method"
	"github.com/aptutil/aptcore/method/connect"
)

// encoding is how a response body is delimited.
type encoding int

const (
	encChunked encoding = iota
	encStream
	encCloses
)

// serverState is per-connection state: one live connection to one
// authority, possibly via a proxy.
type serverState struct {
	fd connect.MethodFd
	br *bufio.Reader

	name    aptcore.URI // authority this connection serves
	proxy   aptcore.URI
	viaTLS  bool
	timeout time.Duration

	persistent      bool
	pipeline        bool
	pipelineAllowed bool
	rangesAllowed   bool

	inFlight []*method.FetchItem
}

// requestState is per-in-flight-request state.
type requestState struct {
	status       int
	major, minor int
	enc          encoding
	downloadSize int64 // Content-Length (body bytes expected)
	junkSize     int64 // body bytes to drain for failed requests
	startPos     int64 // resume offset from Content-Range
	totalSize    int64
	haveContent  bool
	date         time.Time
	location     string
	acceptRanges string
	connClose    bool
}

func (s *serverState) close() {
	if s.fd != nil {
		s.fd.Close()
	}
	s.fd = nil
	s.br = nil
	s.inFlight = nil
}

// comp reports whether the connection can serve the authority.
func (s *serverState) comp(u aptcore.URI) bool {
	return s.fd != nil && strings.EqualFold(s.name.Host, u.Host) && s.name.Port == u.Port
}

// proxyFor resolves the proxy for a target host: the per-host override
// wins, then the scheme-wide key, then the process environment.
func proxyFor(cfg interface {
	Find(string, ...string) string
}, scheme, host string, target aptcore.URI) (aptcore.URI, bool) {
	if v := cfg.Find("Acquire::" + scheme + "::Proxy::" + host); v != "" {
		if strings.EqualFold(v, "DIRECT") {
			return aptcore.URI{}, false
		}
		return aptcore.ParseURI(v), true
	}
	if v := cfg.Find("Acquire::" + scheme + "::Proxy"); v != "" {
		if strings.EqualFold(v, "DIRECT") {
			return aptcore.URI{}, false
		}
		return aptcore.ParseURI(v), true
	}
	env := httpproxy.FromEnvironment()
	u := &url.URL{Scheme: scheme, Host: target.Host}
	if target.Port != 0 {
		u.Host = u.Host + ":" + strconv.Itoa(target.Port)
	}
	pu, err := env.ProxyFunc()(u)
	if err != nil || pu == nil {
		return aptcore.URI{}, false
	}
	return aptcore.ParseURI(pu.String()), true
}

// open establishes the connection for item's authority, through SOCKS
// or an HTTP proxy as configured, and TLS for https.
func (s *serverState) open(ctx context.Context, h *HTTP, m *method.Method, u aptcore.URI) error {
	s.close()
	s.name = u
	s.viaTLS = false
	s.persistent = true
	s.pipelineAllowed = m.Config.FindI("Acquire::http::Pipeline-Depth", 10) > 0
	s.pipeline = s.pipelineAllowed
	s.rangesAllowed = true
	s.timeout = m.Timeout()

	scheme := u.InnerAccess()
	defaultPort := 80
	if scheme == "https" {
		defaultPort = 443
	}

	proxy, haveProxy := proxyFor(m.Config, scheme, u.Host, u)
	s.proxy = aptcore.URI{}

	switch {
	case haveProxy && proxy.Access == "socks5h":
		pport := proxy.Port
		if pport == 0 {
			pport = 1080
		}
		fd, err := connect.Connect(ctx, m.Config, proxy, pport)
		if err != nil {
			return err
		}
		port := u.Port
		if port == 0 {
			port = defaultPort
		}
		fd, err = connect.UnwrapSOCKS(fd, proxy, u, port)
		if err != nil {
			return err
		}
		s.fd = fd
		s.proxy = proxy
	case haveProxy:
		pport := proxy.Port
		if pport == 0 {
			pport = 80
		}
		fd, err := connect.Connect(ctx, m.Config, proxy, pport)
		if err != nil {
			return err
		}
		s.fd = fd
		s.proxy = proxy
		if scheme == "https" {
			if err := s.connectTunnel(u, defaultPort, m); err != nil {
				s.close()
				return err
			}
		}
	default:
		fd, err := connect.Connect(ctx, m.Config, u, defaultPort)
		if err != nil {
			return err
		}
		s.fd = fd
	}

	if scheme == "https" {
		fd, err := connect.UnwrapTLS(m.Config, s.fd, u.Host)
		if err != nil {
			s.close()
			return err
		}
		s.fd = fd
		s.viaTLS = true
	}
	s.br = bufio.NewReaderSize(s.fd, 64*1024)
	return nil
}

// connectTunnel issues a CONNECT request through an HTTP proxy for a
// TLS target.
func (s *serverState) connectTunnel(u aptcore.URI, defaultPort int, m *method.Method) error {
	port := u.Port
	if port == 0 {
		port = defaultPort
	}
	hostport := u.Host + ":" + strconv.Itoa(port)
	var b strings.Builder
	fmt.Fprintf(&b, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n", hostport, hostport)
	if s.proxy.User != "" {
		fmt.Fprintf(&b, "Proxy-Authorization: Basic %s\r\n",
			aptcore.Base64Encode(s.proxy.User+":"+s.proxy.Password))
	}
	b.WriteString("\r\n")
	if _, err := s.fd.Write([]byte(b.String())); err != nil {
		return fmt.Errorf("%w: CONNECT: %v", method.ErrProtocol, err)
	}
	br := bufio.NewReader(s.fd)
	req := &requestState{}
	if err := readHeaders(br, req); err != nil {
		return err
	}
	if req.status != 200 {
		return fmt.Errorf("%w: proxy refused CONNECT with %d", method.ErrProtocol, req.status)
	}
	s.br = br
	return nil
}
