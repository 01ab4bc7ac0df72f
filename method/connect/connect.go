package connect

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/net/idna"

	"github.com/aptutil/aptcore"
	"github.com/aptutil/aptcore/pkg/config"
)

// Errors surfaced to the method fail-reason mapping.
var (
	ErrResolve    = errors.New("connect: could not resolve host")
	ErrTmpResolve = errors.New("connect: temporary failure resolving host")
	ErrRefused    = errors.New("connect: connection refused")
	ErrTimedOut   = errors.New("connect: connection timed out")
	ErrSrvMissing = errors.New("connect: service not available at this domain")
)

// rotationState remembers the last address that worked for a host so
// the next attempt resumes there, wrapping around.
var (
	rotMu  sync.Mutex
	rotIdx = make(map[string]int)
)

// defaultAttemptDelay staggers the second and later connection
// attempts (happy eyeballs).
const defaultAttemptDelay = 250 * time.Millisecond

// resolve looks the host up and returns its addresses with the two
// families interleaved, starting from the remembered rotation point.
func resolve(ctx context.Context, host, port string) ([]string, error) {
	ahost, err := idna.Lookup.ToASCII(host)
	if err == nil {
		host = ahost
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && (dnsErr.IsTemporary || dnsErr.IsTimeout) {
			return nil, fmt.Errorf("%w: %s (%v)", ErrTmpResolve, host, err)
		}
		return nil, fmt.Errorf("%w: %s (%v)", ErrResolve, host, err)
	}
	var v4, v6 []string
	for _, a := range addrs {
		hp := net.JoinHostPort(a.IP.String(), port)
		if a.IP.To4() != nil {
			v4 = append(v4, hp)
		} else {
			v6 = append(v6, hp)
		}
	}
	// Interleave families so one broken stack cannot starve the other.
	var out []string
	for i := 0; i < len(v4) || i < len(v6); i++ {
		if i < len(v6) {
			out = append(out, v6[i])
		}
		if i < len(v4) {
			out = append(out, v4[i])
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s has no addresses", ErrResolve, host)
	}
	rotMu.Lock()
	start := rotIdx[host] % len(out)
	rotMu.Unlock()
	rotated := append(append([]string(nil), out[start:]...), out[:start]...)
	return rotated, nil
}

func rememberSuccess(host, addr string, addrs []string) {
	// resolve keys the rotation by the ASCII host and hands out the
	// list already rotated by the stored index.
	if ahost, err := idna.Lookup.ToASCII(host); err == nil {
		host = ahost
	}
	rotMu.Lock()
	defer rotMu.Unlock()
	for i, a := range addrs {
		if a == addr {
			rotIdx[host] = (rotIdx[host] + i) % len(addrs)
			return
		}
	}
}

// Connect dials host:port honoring SRV indirection, the configured
// attempt stagger, and the overall timeout. The returned MethodFd is
// plain TCP; callers layer SOCKS or TLS on top.
func Connect(ctx context.Context, cfg *config.Tree, u aptcore.URI, defaultPort int) (MethodFd, error) {
	if cfg == nil {
		cfg = config.New()
	}
	port := u.Port
	if port == 0 {
		port = defaultPort
	}

	timeout := time.Duration(cfg.FindI("Acquire::Timeout", 120)) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if cfg.FindB("Acquire::EnableSrvRecords", true) {
		targets, err := srvTargets(ctx, u.InnerAccess(), u.Host, port)
		if err != nil {
			return nil, err
		}
		var lastErr error
		for _, t := range targets {
			fd, err := connectHost(ctx, cfg, t.host, t.port)
			if err == nil {
				return fd, nil
			}
			lastErr = err
		}
		if lastErr != nil {
			return nil, lastErr
		}
	}
	return connectHost(ctx, cfg, u.Host, port)
}

// connectHost runs the happy-eyeballs loop over the resolved address
// list: start the first dial, arm the stagger timer, and take the
// first connection that completes.
func connectHost(ctx context.Context, cfg *config.Tree, host string, port int) (MethodFd, error) {
	addrs, err := resolve(ctx, host, strconv.Itoa(port))
	if err != nil {
		return nil, err
	}
	delay := time.Duration(cfg.FindI("Acquire::ConnectionAttemptDelayMsec", 250)) * time.Millisecond
	if delay <= 0 {
		delay = defaultAttemptDelay
	}

	type result struct {
		conn net.Conn
		addr string
		err  error
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	results := make(chan result, len(addrs))
	var started int
	dial := func(addr string) {
		started++
		go func() {
			var d net.Dialer
			c, err := d.DialContext(ctx, "tcp", addr)
			results <- result{conn: c, addr: addr, err: err}
		}()
	}

	dial(addrs[0])
	next := 1
	timer := time.NewTimer(delay)
	defer timer.Stop()

	var errs []error
	finished := 0
	for {
		select {
		case <-timer.C:
			if next < len(addrs) {
				dial(addrs[next])
				next++
				timer.Reset(delay)
			}
		case r := <-results:
			finished++
			if r.err == nil {
				rememberSuccess(host, r.addr, addrs)
				return NewFd(r.conn, "tcp:"+r.addr), nil
			}
			errs = append(errs, r.err)
			if next < len(addrs) {
				// A fast failure frees the slot immediately.
				dial(addrs[next])
				next++
			} else if finished == started {
				return nil, classifyDialError(errors.Join(errs...))
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s:%d", ErrTimedOut, host, port)
		}
	}
}

func classifyDialError(err error) error {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("%w: %v", ErrRefused, err)
	case errors.Is(err, syscall.ETIMEDOUT):
		return fmt.Errorf("%w: %v", ErrTimedOut, err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimedOut, err)
	}
	return err
}

type srvTarget struct {
	host string
	port int
}

// srvTargets queries _service._tcp.host and returns the targets in
// priority order, or the host itself when no SRV records exist. A
// single "." target means the service is explicitly not offered.
func srvTargets(ctx context.Context, service, host string, port int) ([]srvTarget, error) {
	_, recs, err := net.DefaultResolver.LookupSRV(ctx, service, "tcp", host)
	if err != nil || len(recs) == 0 {
		return []srvTarget{{host: host, port: port}}, nil
	}
	if len(recs) == 1 && recs[0].Target == "." {
		return nil, fmt.Errorf("%w: %s/%s", ErrSrvMissing, host, service)
	}
	out := make([]srvTarget, 0, len(recs)+1)
	for _, r := range recs {
		t := r.Target
		for len(t) > 0 && t[len(t)-1] == '.' {
			t = t[:len(t)-1]
		}
		out = append(out, srvTarget{host: t, port: int(r.Port)})
	}
	// Fall back to the bare host after exhausting the SRV set.
	out = append(out, srvTarget{host: host, port: port})
	return out, nil
}
