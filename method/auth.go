package method

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aptutil/aptcore"
)

// netrcEntry is one "machine" stanza of an auth.conf file.
type netrcEntry struct {
	machine  string // host[:port][/path-prefix]
	login    string
	password string
}

// parseNetrc tokenizes a netrc-style auth file. Tokens follow the
// quoted-word rules, so passwords may be quoted.
func parseNetrc(r *bufio.Scanner) []netrcEntry {
	var entries []netrcEntry
	var cur *netrcEntry
	for r.Scan() {
		line := r.Text()
		for {
			word, rest, ok := aptcore.ParseQuoteWord(line)
			if !ok {
				break
			}
			line = rest
			switch word {
			case "machine":
				if w, rest2, ok := aptcore.ParseQuoteWord(line); ok {
					entries = append(entries, netrcEntry{machine: w})
					cur = &entries[len(entries)-1]
					line = rest2
				}
			case "login":
				if w, rest2, ok := aptcore.ParseQuoteWord(line); ok && cur != nil {
					cur.login = w
					line = rest2
				}
			case "password":
				if w, rest2, ok := aptcore.ParseQuoteWord(line); ok && cur != nil {
					cur.password = w
					line = rest2
				}
			case "default":
				entries = append(entries, netrcEntry{machine: ""})
				cur = &entries[len(entries)-1]
			}
		}
	}
	return entries
}

// matches reports whether the entry covers the URI. A machine token may
// pin a port and constrain a path prefix.
func (e *netrcEntry) matches(u aptcore.URI) bool {
	m := e.machine
	if m == "" {
		return true
	}
	var pathPrefix string
	if i := strings.IndexByte(m, '/'); i != -1 {
		m, pathPrefix = m[:i], m[i:]
	}
	host, port := m, ""
	if i := strings.LastIndexByte(m, ':'); i != -1 {
		host, port = m[:i], m[i+1:]
	}
	if !strings.EqualFold(host, u.Host) {
		return false
	}
	if port != "" {
		if u.Port == 0 || port != strconv.Itoa(u.Port) {
			return false
		}
	} else if u.Port != 0 {
		// An unported entry does not cover an explicit nonstandard port.
		return false
	}
	if pathPrefix != "" && !strings.HasPrefix(u.Path, pathPrefix) {
		return false
	}
	return true
}

// MaybeAddAuth fills in credentials for the URI from auth.conf and
// auth.conf.d when the URI itself carries none. URIs with explicit
// credentials pass through unchanged.
func (m *Method) MaybeAddAuth(u *aptcore.URI) {
	if u.User != "" || u.Password != "" {
		return
	}
	var files []string
	if main := m.Config.Find("Dir::Etc::netrc", "/etc/apt/auth.conf"); main != "" {
		files = append(files, main)
	}
	dir := m.Config.FindDir("Dir::Etc::netrcparts", "/etc/apt/auth.conf.d/")
	if entries, err := os.ReadDir(dir); err == nil {
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".conf") {
				files = append(files, filepath.Join(dir, e.Name()))
			}
		}
	}
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		entries := parseNetrc(bufio.NewScanner(f))
		f.Close()
		for i := range entries {
			if entries[i].matches(*u) {
				u.User = entries[i].login
				u.Password = entries[i].password
				return
			}
		}
	}
}
