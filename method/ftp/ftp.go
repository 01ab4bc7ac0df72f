// Package ftp implements the RFC 959 acquire method. Passive transfers
// prefer EPSV with PASV as fallback; resume uses REST via offset
// retrieval; SIZE and MDTM fill in the transfer metadata.
package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/aptutil/aptcore"
	"github.com/aptutil/aptcore/method"
)

// FTP is the handler. One control connection is kept per site.
type FTP struct {
	conn     *ftp.ServerConn
	connSite string
}

var _ method.Handler = (*FTP)(nil)

// New returns the handler.
func New() *FTP { return &FTP{} }

// loginVars builds the substitution set for the proxy login script.
func loginVars(u aptcore.URI, proxy aptcore.URI, port int) map[string]string {
	return map[string]string{
		"$(PROXY_USER)": proxy.User,
		"$(PROXY_PASS)": proxy.Password,
		"$(SITE_USER)":  u.User,
		"$(SITE_PASS)":  u.Password,
		"$(SITE)":       u.Host,
		"$(SITE_PORT)":  strconv.Itoa(port),
	}
}

// connect establishes (or reuses) the control connection for the item's
// site and logs in.
func (f *FTP) connect(ctx context.Context, m *method.Method, u aptcore.URI) (*ftp.ServerConn, error) {
	site := u.SiteOnly()
	if f.conn != nil && f.connSite == site {
		// Probe liveness cheaply; a dead control connection is
		// replaced transparently.
		if err := f.conn.NoOp(); err == nil {
			return f.conn, nil
		}
		f.conn.Quit()
		f.conn = nil
	}

	port := u.Port
	if port == 0 {
		port = 21
	}
	user := u.User
	pass := u.Password
	if user == "" {
		user = "anonymous"
		pass = m.Config.Find("Acquire::ftp::Passwd", "apt_get_ftp_2.1@mydomain.invalid")
	}
	addr := u.Host

	// An ftp proxy turns the dial target into the proxy and rewrites
	// the login exchange via the configured script.
	if p := m.Config.Find("Acquire::ftp::Proxy::"+u.Host, m.Config.Find("Acquire::ftp::Proxy", os.Getenv("ftp_proxy"))); p != "" && !strings.EqualFold(p, "DIRECT") {
		proxy := aptcore.ParseURI(p)
		pport := proxy.Port
		if pport == 0 {
			pport = 21
		}
		vars := loginVars(u, proxy, port)
		script := m.Config.List("Acquire::ftp::ProxyLogin")
		if len(script) == 0 {
			// The well-known user@site convention.
			script = []string{"USER $(SITE_USER)@$(SITE):$(SITE_PORT)", "PASS $(SITE_PASS)"}
		}
		for _, cmd := range script {
			cmd = aptcore.SubstVars(cmd, vars)
			switch {
			case strings.HasPrefix(strings.ToUpper(cmd), "USER "):
				user = strings.TrimSpace(cmd[5:])
			case strings.HasPrefix(strings.ToUpper(cmd), "PASS "):
				pass = strings.TrimSpace(cmd[5:])
			default:
				m.Warning("Unsupported proxy login command %q ignored", cmd)
			}
		}
		addr = proxy.Host
		port = pport
	}

	conn, err := ftp.Dial(fmt.Sprintf("%s:%d", addr, port),
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(m.Timeout()),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", method.ErrConnectionRefused, err)
	}
	if err := conn.Login(user, pass); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp: login failed for %s: %w", u.Host, err)
	}
	f.conn = conn
	f.connSite = site
	return conn, nil
}

// Fetch implements method.Handler.
func (f *FTP) Fetch(ctx context.Context, m *method.Method, item *method.FetchItem) error {
	conn, err := f.connect(ctx, m, item.URI)
	if err != nil {
		return err
	}
	path := strings.TrimPrefix(item.URI.Path, "/")

	size, err := conn.FileSize(path)
	if err != nil {
		var perr *textproto.Error
		if errors.As(err, &perr) && perr.Code == ftp.StatusFileUnavailable {
			return fmt.Errorf("%w: %s", method.ErrNotFound, item.URI.NoUserPassword())
		}
		size = -1
	}
	var mtime time.Time
	if t, err := conn.GetTime(path); err == nil {
		mtime = t
	}

	// Unchanged since the scheduler's copy: report the hit.
	if !item.LastModified.IsZero() && !mtime.IsZero() && !mtime.After(item.LastModified) {
		m.URIStart(item, size, mtime, 0)
		m.URIDone(item, &method.FetchResult{IMSHit: true, LastModified: mtime, Size: size})
		return nil
	}

	var resume int64
	if fi, err := os.Stat(item.DestFile); err == nil && size > 0 && fi.Size() > 0 && fi.Size() < size {
		resume = fi.Size()
	}
	m.URIStart(item, size, mtime, resume)

	resp, err := conn.RetrFrom(path, uint64(resume))
	if err != nil {
		var perr *textproto.Error
		if errors.As(err, &perr) && perr.Code == ftp.StatusFileUnavailable {
			return fmt.Errorf("%w: %s", method.ErrNotFound, item.URI.NoUserPassword())
		}
		return fmt.Errorf("%w: RETR: %v", method.ErrProtocol, err)
	}

	out, err := os.OpenFile(item.DestFile, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		resp.Close()
		return err
	}
	if err := out.Truncate(resume); err != nil {
		resp.Close()
		out.Close()
		return err
	}
	if _, err := out.Seek(resume, io.SeekStart); err != nil {
		resp.Close()
		out.Close()
		return err
	}

	var hasher *aptcore.MultiHasher
	if item.Expected.Empty() {
		hasher = aptcore.NewMultiHasher(aptcore.HashAll)
	} else {
		hasher = aptcore.NewMultiHasherForList(&item.Expected)
	}
	if resume > 0 {
		pre, err := os.Open(item.DestFile)
		if err == nil {
			_, err = hasher.AddFD(io.LimitReader(pre, resume), -1)
			pre.Close()
		}
		if err != nil {
			resp.Close()
			out.Close()
			return err
		}
	}

	limiter := m.DequeueLimiter()
	buf := make([]byte, 64*1024)
	written := resume
	var copyErr error
	for {
		n, rerr := resp.Read(buf)
		if n > 0 {
			if limiter != nil {
				limiter.WaitN(ctx, n)
			}
			if _, werr := out.Write(buf[:n]); werr != nil {
				copyErr = werr
				break
			}
			hasher.Write(buf[:n])
			written += int64(n)
			if item.MaximumSize > 0 && written > item.MaximumSize {
				copyErr = method.ErrMaximumSize
				break
			}
		}
		if rerr != nil {
			if !errors.Is(rerr, io.EOF) {
				copyErr = rerr
			}
			break
		}
	}
	resp.Close()
	if cerr := out.Close(); copyErr == nil {
		copyErr = cerr
	}
	if copyErr != nil {
		if errors.Is(copyErr, method.ErrMaximumSize) {
			os.Remove(item.DestFile)
			return copyErr
		}
		return fmt.Errorf("%w: transfer: %v", method.ErrProtocol, copyErr)
	}

	if !mtime.IsZero() {
		os.Chtimes(item.DestFile, time.Now(), mtime)
	}
	got := hasher.Result()
	if !item.Expected.Empty() && !item.Expected.Equal(&got) {
		os.Remove(item.DestFile)
		return method.ErrHashMismatch
	}
	res := &method.FetchResult{
		Filename:     item.DestFile,
		Size:         written,
		LastModified: mtime,
		ResumePoint:  resume,
	}
	res.TakeHashes(hasher)
	m.URIDone(item, res)
	return nil
}
