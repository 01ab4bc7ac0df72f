package aptcore

import (
	"strconv"
	"strings"
)

// URI is a dissected universal resource identifier.
//
// Access without a '+' names a single scheme; with one ("https+http",
// "tor+http") the part before the '+' is a transport binding over the
// scheme after it. Port 0 means "default for the scheme".
type URI struct {
	Access   string
	User     string
	Password string
	Host     string
	Port     int
	Path     string
}

// ParseURI dissects a URI string. The parse is deliberately lax: a
// missing "//" authority leaves Host empty and everything after the
// scheme becomes the path.
func ParseURI(s string) URI {
	var u URI
	i := strings.IndexByte(s, ':')
	if i == -1 {
		u.Path = s
		return u
	}
	u.Access = s[:i]
	rest := s[i+1:]
	if !strings.HasPrefix(rest, "//") {
		u.Path = rest
		return u
	}
	rest = rest[2:]
	authority := rest
	if j := strings.IndexByte(rest, '/'); j != -1 {
		authority = rest[:j]
		u.Path = rest[j:]
	} else {
		u.Path = "/"
	}
	if at := strings.LastIndexByte(authority, '@'); at != -1 {
		cred := authority[:at]
		authority = authority[at+1:]
		if k := strings.IndexByte(cred, ':'); k != -1 {
			u.User, _ = deQuote(cred[:k])
			u.Password, _ = deQuote(cred[k+1:])
		} else {
			u.User, _ = deQuote(cred)
		}
	}
	// IPv6 hosts keep their brackets only while parsing.
	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end == -1 {
			u.Host = authority[1:]
			return u
		}
		u.Host = authority[1:end]
		authority = authority[end+1:]
		if strings.HasPrefix(authority, ":") {
			u.Port, _ = strconv.Atoi(authority[1:])
		}
		return u
	}
	if k := strings.LastIndexByte(authority, ':'); k != -1 {
		u.Host = authority[:k]
		u.Port, _ = strconv.Atoi(authority[k+1:])
	} else {
		u.Host = authority
	}
	return u
}

func deQuote(s string) (string, bool) {
	return DeQuoteString(s)
}

// String reassembles the URI. IPv6 hosts are re-bracketed; a zero port
// is omitted.
func (u URI) String() string {
	var b strings.Builder
	if u.Access != "" {
		b.WriteString(u.Access)
		b.WriteString("://")
	}
	if u.User != "" {
		b.WriteString(QuoteString(u.User, ":/?#[]@"))
		if u.Password != "" {
			b.WriteByte(':')
			b.WriteString(QuoteString(u.Password, ":/?#[]@"))
		}
		b.WriteByte('@')
	}
	b.WriteString(u.hostPort())
	b.WriteString(u.Path)
	return b.String()
}

// NoUserPassword returns the URI with credentials stripped. The path is
// reassembled as-is; an empty path is not defaulted to "/" here.
func (u URI) NoUserPassword() string {
	c := u
	c.User = ""
	c.Password = ""
	var b strings.Builder
	if c.Access != "" {
		b.WriteString(c.Access)
		b.WriteString("://")
	}
	b.WriteString(c.hostPort())
	b.WriteString(c.Path)
	return b.String()
}

// SiteOnly reduces the URI to scheme and authority without credentials.
func (u URI) SiteOnly() string {
	var b strings.Builder
	if u.Access != "" {
		b.WriteString(u.Access)
		b.WriteString("://")
	}
	b.WriteString(u.hostPort())
	return b.String()
}

func (u URI) hostPort() string {
	host := u.Host
	if strings.ContainsRune(host, ':') {
		host = "[" + host + "]"
	}
	if u.Port != 0 {
		return host + ":" + strconv.Itoa(u.Port)
	}
	return host
}

// Empty reports whether the URI carries neither scheme nor host.
func (u URI) Empty() bool { return u.Access == "" && u.Host == "" }

// InnerAccess returns the scheme after a '+' transport binding, or the
// whole access when there is none.
func (u URI) InnerAccess() string {
	if i := strings.IndexByte(u.Access, '+'); i != -1 {
		return u.Access[i+1:]
	}
	return u.Access
}
