package http

import (
	"fmt"
	"os"
	"strings"

	"github.com/aptutil/aptcore"
	"github.com/aptutil/aptcore/method"
)

// buildRequest renders the GET for one item on this connection.
func (s *serverState) buildRequest(m *method.Method, item *method.FetchItem) (string, error) {
	u := item.URI
	m.MaybeAddAuth(&u)

	path := aptcore.QuoteString(u.Path, " \"\\")
	target := path
	if !s.proxy.Empty() && !s.viaTLS && s.proxy.Access != "socks5h" {
		// Plain-http proxies want the absolute form.
		target = u.SiteOnly() + path
	}

	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", target)
	if u.Port != 0 {
		fmt.Fprintf(&b, "Host: %s:%d\r\n", u.Host, u.Port)
	} else {
		fmt.Fprintf(&b, "Host: %s\r\n", u.Host)
	}
	if s.proxy.Empty() {
		b.WriteString("Connection: keep-alive\r\n")
	}
	fmt.Fprintf(&b, "User-Agent: %s\r\n",
		m.Config.Find("Acquire::http::User-Agent", "aptcore-http/"+m.Version))

	// Cache directives.
	if m.Config.FindB("Acquire::http::No-Cache", false) {
		b.WriteString("Cache-Control: no-cache\r\nPragma: no-cache\r\n")
	} else {
		if item.IndexFile {
			if age := m.Config.FindI("Acquire::http::Max-Age", 0); age > 0 {
				fmt.Fprintf(&b, "Cache-Control: max-age=%d\r\n", age)
			}
		}
		if m.Config.FindB("Acquire::http::No-Store", false) {
			b.WriteString("Cache-Control: no-store\r\n")
		}
	}

	// Resume or conditional fetch.
	if fi, err := os.Stat(item.DestFile); err == nil && fi.Size() > 0 && s.rangesAllowed {
		fmt.Fprintf(&b, "Range: bytes=%d-\r\n", fi.Size())
		fmt.Fprintf(&b, "If-Range: %s\r\n", aptcore.TimeRFC1123(fi.ModTime()))
	} else if !item.LastModified.IsZero() {
		fmt.Fprintf(&b, "If-Modified-Since: %s\r\n", aptcore.TimeRFC1123(item.LastModified))
	}

	if u.User != "" || u.Password != "" {
		fmt.Fprintf(&b, "Authorization: Basic %s\r\n",
			aptcore.Base64Encode(u.User+":"+u.Password))
	}
	if !s.proxy.Empty() && s.proxy.User != "" && s.proxy.Access != "socks5h" && !s.viaTLS {
		fmt.Fprintf(&b, "Proxy-Authorization: Basic %s\r\n",
			aptcore.Base64Encode(s.proxy.User+":"+s.proxy.Password))
	}
	b.WriteString("Accept: */*\r\n\r\n")
	return b.String(), nil
}

// sendRequest writes the request and records the item as in flight.
func (s *serverState) sendRequest(m *method.Method, item *method.FetchItem) error {
	req, err := s.buildRequest(m, item)
	if err != nil {
		return err
	}
	if _, err := s.fd.Write([]byte(req)); err != nil {
		return fmt.Errorf("%w: sending request: %v", method.ErrProtocol, err)
	}
	s.inFlight = append(s.inFlight, item)
	return nil
}
