// Package mirror implements the mirror-list acquire method. The first
// acquire downloads the list (its URI rewritten from mirror:// to the
// carrying scheme), and every request is answered with a redirect to a
// mirror chosen in list order; failures observed as repeated requests
// for the same file advance to the next mirror.
package mirror

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/aptutil/aptcore"
	"github.com/aptutil/aptcore/method"
)

// Mirror is the handler.
type Mirror struct {
	lists map[string][]string // mirror-list URI -> mirrors
	next  map[string]int      // file path -> mirror cursor
}

var _ method.Handler = (*Mirror)(nil)

// New returns the handler.
func New() *Mirror {
	return &Mirror{
		lists: make(map[string][]string),
		next:  make(map[string]int),
	}
}

// splitMirrorURI separates mirror://host/list-path/file into the list
// URI and the file path relative to it.
//
// The list path is everything up to and including the component with a
// recognizable file extension (historically "mirrors.txt"), or the
// first component when none matches.
func splitMirrorURI(u aptcore.URI) (listURI aptcore.URI, file string) {
	segs := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	cut := 0
	for i, s := range segs {
		if strings.ContainsRune(s, '.') && !strings.HasPrefix(s, "dists") {
			cut = i + 1
			break
		}
	}
	if cut == 0 || cut >= len(segs) {
		cut = 1
	}
	listURI = u
	listURI.Path = "/" + strings.Join(segs[:cut], "/")
	file = strings.Join(segs[cut:], "/")
	return listURI, file
}

// fetchList retrieves and parses the mirror list over plain HTTP.
func (mm *Mirror) fetchList(ctx context.Context, m *method.Method, listURI aptcore.URI) ([]string, error) {
	key := listURI.String()
	if cached, ok := mm.lists[key]; ok {
		return cached, nil
	}
	fetchable := listURI
	fetchable.Access = "http"
	if i := strings.Index(listURI.Access, "+"); i != -1 {
		fetchable.Access = listURI.Access[i+1:]
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchable.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching mirror list: %v", method.ErrConnectionTimedOut, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: mirror list returned %s", method.ErrNotFound, resp.Status)
	}
	var mirrors []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Tab-separated metadata columns after the URI are ignored.
		if i := strings.IndexByte(line, '\t'); i != -1 {
			line = line[:i]
		}
		mirrors = append(mirrors, strings.TrimSuffix(line, "/"))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(mirrors) == 0 {
		return nil, fmt.Errorf("%w: empty mirror list at %s", method.ErrNotFound, listURI.NoUserPassword())
	}
	mm.lists[key] = mirrors
	return mirrors, nil
}

// Fetch implements method.Handler: resolve the list, pick the mirror,
// and redirect the scheduler there.
func (mm *Mirror) Fetch(ctx context.Context, m *method.Method, item *method.FetchItem) error {
	listURI, file := splitMirrorURI(item.URI)
	mirrors, err := mm.fetchList(ctx, m, listURI)
	if err != nil {
		return err
	}
	cursor := mm.next[file]
	if cursor >= len(mirrors) {
		return fmt.Errorf("%w: no more mirrors for %s", method.ErrNotFound, file)
	}
	// A re-request of the same file means the previous mirror failed;
	// move on for next time.
	mm.next[file] = cursor + 1
	target := mirrors[cursor] + "/" + file
	m.Log("Selecting mirror %s for %s", mirrors[cursor], file)
	m.Redirect(item, target)
	return nil
}
