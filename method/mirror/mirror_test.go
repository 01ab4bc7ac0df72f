package mirror

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aptutil/aptcore"
	"github.com/aptutil/aptcore/method"
)

func TestSplitMirrorURI(t *testing.T) {
	u := aptcore.ParseURI("mirror://host/mirrors.txt/dists/sid/Release")
	list, file := splitMirrorURI(u)
	if list.Path != "/mirrors.txt" {
		t.Errorf("list path = %q", list.Path)
	}
	if file != "dists/sid/Release" {
		t.Errorf("file = %q", file)
	}
}

func TestFetchAndRedirect(t *testing.T) {
	var mirrors string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(mirrors))
	}))
	defer srv.Close()
	mirrors = "# comment\nhttp://mirror-a.example/debian\nhttp://mirror-b.example/debian\tarch:amd64\n"

	host := strings.TrimPrefix(srv.URL, "http://")
	raw := "mirror://" + host + "/list.txt/pool/x.deb"
	item := &method.FetchItem{URI: aptcore.ParseURI(raw), RawURI: raw}

	mm := New()
	m := method.New("mirror", "1.0", 0, mm)
	var out strings.Builder
	m.SetStreams(strings.NewReader(""), &out)

	if err := mm.Fetch(context.Background(), m, item); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "New-URI: http://mirror-a.example/debian/pool/x.deb") {
		t.Errorf("first redirect wrong:\n%s", out.String())
	}

	// A second request for the same file advances to the next mirror.
	out.Reset()
	if err := mm.Fetch(context.Background(), m, item); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "New-URI: http://mirror-b.example/debian/pool/x.deb") {
		t.Errorf("rotation did not advance:\n%s", out.String())
	}

	// Exhausted list surfaces the failure.
	if err := mm.Fetch(context.Background(), m, item); err == nil {
		t.Error("exhausted mirror list did not fail")
	}
}
