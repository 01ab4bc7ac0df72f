package connect

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aptutil/aptcore"
)

// SOCKS5 reply codes, RFC 1928 §6.
const (
	socksSucceeded = iota
	socksGeneralFailure
	socksNotAllowed
	socksNetUnreachable
	socksHostUnreachable
	socksRefused
	socksTTLExpired
	socksCmdUnsupported
	socksAddrUnsupported
)

// ErrSOCKS covers protocol-level SOCKS failures.
var ErrSOCKS = errors.New("connect: SOCKS proxy failure")

// socksFd marks a connection as tunneled so TLS layering can report
// the chain.
type socksFd struct {
	MethodFd
	proxy string
}

func (f *socksFd) DescName() string { return "socks5h:" + f.proxy + "+" + f.MethodFd.DescName() }
func (f *socksFd) Inner() MethodFd  { return f.MethodFd }

// UnwrapSOCKS performs the SOCKS5h handshake over an established
// connection to the proxy, asking it to connect to target by hostname
// (request type 0x03) so name resolution happens proxy-side.
func UnwrapSOCKS(fd MethodFd, proxy aptcore.URI, target aptcore.URI, targetPort int) (MethodFd, error) {
	auth := proxy.User != "" || proxy.Password != ""
	greeting := []byte{5, 1, 0}
	if auth {
		greeting = []byte{5, 2, 0, 2}
	}
	if _, err := fd.Write(greeting); err != nil {
		return nil, fmt.Errorf("%w: greeting: %v", ErrSOCKS, err)
	}
	var reply [2]byte
	if _, err := io.ReadFull(fd, reply[:]); err != nil {
		return nil, fmt.Errorf("%w: greeting reply: %v", ErrSOCKS, err)
	}
	if reply[0] != 5 {
		return nil, fmt.Errorf("%w: proxy speaks SOCKS%d, not SOCKS5", ErrSOCKS, reply[0])
	}
	switch reply[1] {
	case 0x00:
	case 0x02:
		if !auth {
			return nil, fmt.Errorf("%w: proxy demands credentials but none configured", ErrSOCKS)
		}
		// RFC 1929 username/password subnegotiation.
		req := []byte{1, byte(len(proxy.User))}
		req = append(req, proxy.User...)
		req = append(req, byte(len(proxy.Password)))
		req = append(req, proxy.Password...)
		if _, err := fd.Write(req); err != nil {
			return nil, fmt.Errorf("%w: auth: %v", ErrSOCKS, err)
		}
		if _, err := io.ReadFull(fd, reply[:]); err != nil {
			return nil, fmt.Errorf("%w: auth reply: %v", ErrSOCKS, err)
		}
		if reply[1] != 0 {
			return nil, fmt.Errorf("%w: proxy rejected the credentials", ErrSOCKS)
		}
	default:
		return nil, fmt.Errorf("%w: no acceptable authentication method", ErrSOCKS)
	}

	host := target.Host
	if len(host) > 255 {
		return nil, fmt.Errorf("%w: hostname longer than 255 bytes", ErrSOCKS)
	}
	req := []byte{5, 1, 0, 3, byte(len(host))}
	req = append(req, host...)
	req = append(req, byte(targetPort>>8), byte(targetPort&0xff))
	if _, err := fd.Write(req); err != nil {
		return nil, fmt.Errorf("%w: connect request: %v", ErrSOCKS, err)
	}
	var head [4]byte
	if _, err := io.ReadFull(fd, head[:]); err != nil {
		return nil, fmt.Errorf("%w: connect reply: %v", ErrSOCKS, err)
	}
	if head[1] != socksSucceeded {
		return nil, socksReplyError(head[1], host)
	}
	// Drain the bound address so the stream starts clean.
	var skip int
	switch head[3] {
	case 1:
		skip = 4 + 2
	case 3:
		var l [1]byte
		if _, err := io.ReadFull(fd, l[:]); err != nil {
			return nil, fmt.Errorf("%w: bound address: %v", ErrSOCKS, err)
		}
		skip = int(l[0]) + 2
	case 4:
		skip = 16 + 2
	default:
		return nil, fmt.Errorf("%w: unknown bound address type %d", ErrSOCKS, head[3])
	}
	if _, err := io.CopyN(io.Discard, fd, int64(skip)); err != nil {
		return nil, fmt.Errorf("%w: bound address: %v", ErrSOCKS, err)
	}
	return &socksFd{MethodFd: fd, proxy: proxy.Host}, nil
}

func socksReplyError(code byte, host string) error {
	switch code {
	case socksRefused:
		return fmt.Errorf("%w: %v", ErrRefused, ErrSOCKS)
	case socksNetUnreachable, socksHostUnreachable:
		return fmt.Errorf("%w: host unreachable via proxy", ErrSOCKS)
	case socksTTLExpired:
		if strings.HasSuffix(host, ".onion") {
			return fmt.Errorf("%w: TTL expired; the onion service %s may be unavailable or overloaded", ErrSOCKS, host)
		}
		return fmt.Errorf("%w: %v", ErrTimedOut, ErrSOCKS)
	case socksNotAllowed:
		return fmt.Errorf("%w: connection not allowed by ruleset", ErrSOCKS)
	default:
		return fmt.Errorf("%w: reply code %d", ErrSOCKS, code)
	}
}
