package http

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aptutil/aptcore"
	"github.com/aptutil/aptcore/method"
)

func itemFor(uri string) *method.FetchItem {
	return &method.FetchItem{URI: aptcore.ParseURI(uri), RawURI: uri}
}

func TestRewriteRedirectAbsolute(t *testing.T) {
	h := New()
	req := &requestState{location: "http://mirror.example/pool/a.deb"}
	got, err := h.rewriteRedirect(itemFor("http://ex.org/a"), req)
	if err != nil {
		t.Fatal(err)
	}
	if got != "http://mirror.example/pool/a.deb" {
		t.Errorf("redirect = %q", got)
	}
}

func TestRewriteRedirectRelative(t *testing.T) {
	h := New()
	req := &requestState{location: "/pool/b.deb"}
	got, err := h.rewriteRedirect(itemFor("http://ex.org/dists/a"), req)
	if err != nil {
		t.Fatal(err)
	}
	if got != "http://ex.org/pool/b.deb" {
		t.Errorf("host-relative redirect = %q", got)
	}

	req = &requestState{location: "b.deb"}
	got, err = h.rewriteRedirect(itemFor("http://ex.org/dists/a"), req)
	if err != nil {
		t.Fatal(err)
	}
	if got != "http://ex.org/dists/b.deb" {
		t.Errorf("path-relative redirect = %q", got)
	}
}

func TestRewriteRedirectHTTPSUpgradeAllowed(t *testing.T) {
	h := New()
	req := &requestState{location: "https://ex.org/a"}
	if _, err := h.rewriteRedirect(itemFor("http://ex.org/a2"), req); err != nil {
		t.Errorf("http->https refused: %v", err)
	}
}

func TestRewriteRedirectDowngradeRefused(t *testing.T) {
	h := New()
	req := &requestState{location: "http://ex.org/a"}
	if _, err := h.rewriteRedirect(itemFor("https://ex.org/a2"), req); !errors.Is(err, method.ErrRedirectForbidden) {
		t.Errorf("https->http allowed: %v", err)
	}
}

func TestRewriteRedirectCrossSchemeRefused(t *testing.T) {
	h := New()
	req := &requestState{location: "ftp://ex.org/a"}
	if _, err := h.rewriteRedirect(itemFor("http://ex.org/a2"), req); !errors.Is(err, method.ErrRedirectForbidden) {
		t.Errorf("http->ftp allowed: %v", err)
	}
}

func TestRewriteRedirectBoundSchemeRefused(t *testing.T) {
	h := New()
	req := &requestState{location: "tor+http://x.onion/a"}
	if _, err := h.rewriteRedirect(itemFor("http://ex.org/a"), req); !errors.Is(err, method.ErrRedirectForbidden) {
		t.Errorf("bound scheme allowed: %v", err)
	}
}

func TestRewriteRedirectLoopDetected(t *testing.T) {
	h := New()
	req := &requestState{location: "http://ex.org/a"}
	if _, err := h.rewriteRedirect(itemFor("http://ex.org/a"), req); !errors.Is(err, method.ErrRedirectLoop) {
		t.Errorf("loop not detected: %v", err)
	}
}

func TestRewriteRedirectNoLocation(t *testing.T) {
	h := New()
	if _, err := h.rewriteRedirect(itemFor("http://ex.org/a"), &requestState{}); err == nil {
		t.Error("redirect without Location accepted")
	}
}

func TestRecoverMisorder(t *testing.T) {
	dir := t.TempDir()
	destA := filepath.Join(dir, "a")
	destB := filepath.Join(dir, "b")

	// The server answered A's request with B's body.
	bodyB := []byte("body of B")
	if err := os.WriteFile(destA, bodyB, 0o644); err != nil {
		t.Fatal(err)
	}
	hasher := aptcore.NewMultiHasher(aptcore.HashAll)
	hasher.Write(bodyB)
	gotHashes := hasher.Result()

	itemA := itemFor("http://ex.org/a")
	itemA.DestFile = destA
	itemB := itemFor("http://ex.org/b")
	itemB.DestFile = destB
	itemB.Expected.Push(mustFind(t, gotHashes, aptcore.SHA256))

	h := New()
	h.queue = []*method.FetchItem{itemA, itemB}
	h.server.pipeline = true
	m := method.New("http", "1.0", 0, h)
	var out strings.Builder
	m.SetStreams(strings.NewReader(""), &out)

	if !h.recoverMisorder(m, itemA, &gotHashes, int64(len(bodyB))) {
		t.Fatal("misorder not recovered")
	}
	if h.server.pipeline {
		t.Error("pipelining not disabled")
	}
	if got, err := os.ReadFile(destB); err != nil || string(got) != string(bodyB) {
		t.Errorf("body not moved to B's destination: %q, %v", got, err)
	}
	if len(h.queue) != 1 || h.queue[0] != itemA {
		t.Errorf("queue = %v", h.queue)
	}
	text := out.String()
	if !strings.Contains(text, "201 URI Done") || !strings.Contains(text, "URI: http://ex.org/b") {
		t.Errorf("done for B not reported:\n%s", text)
	}
	if !strings.Contains(text, "104 Warning") {
		t.Errorf("no warning logged:\n%s", text)
	}
}

func mustFind(t *testing.T, l aptcore.HashStringList, typ string) aptcore.HashString {
	t.Helper()
	h, ok := l.Find(typ)
	if !ok {
		t.Fatalf("hash %s missing", typ)
	}
	return h
}
