package method

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aptutil/aptcore"
)

// fakeHandler records items and reports them done immediately.
type fakeHandler struct {
	items []*FetchItem
}

func (f *fakeHandler) Fetch(_ context.Context, m *Method, item *FetchItem) error {
	f.items = append(f.items, item)
	m.URIStart(item, 4, time.Time{}, 0)
	m.URIDone(item, &FetchResult{Filename: item.DestFile, Size: 4})
	return nil
}

func TestRunHandlesAcquire(t *testing.T) {
	h := &fakeHandler{}
	m := New("copy", "1.0", SingleInstance|SendConfig, h)
	m.Config.Set("Debug::NoDropPrivs", "true")

	in := "601 Configuration\nConfig-Item: Acquire::http::Timeout=7\n\n" +
		"600 URI Acquire\nURI: copy:/tmp/src\nFilename: /tmp/dst\nExpected-SHA256: e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855\nMaximum-Size: 99\n\n"
	var out strings.Builder
	m.SetStreams(strings.NewReader(in), &out)
	if err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(h.items) != 1 {
		t.Fatalf("items = %d", len(h.items))
	}
	item := h.items[0]
	if item.URI.Access != "copy" || item.URI.Path != "/tmp/src" {
		t.Errorf("URI = %+v", item.URI)
	}
	if item.DestFile != "/tmp/dst" {
		t.Errorf("DestFile = %q", item.DestFile)
	}
	if item.MaximumSize != 99 {
		t.Errorf("MaximumSize = %d", item.MaximumSize)
	}
	if h, ok := item.Expected.Find(aptcore.SHA256); !ok || h.Value() == "" {
		t.Error("expected hash not parsed")
	}
	if got := m.Config.FindI("Acquire::http::Timeout", 0); got != 7 {
		t.Errorf("config item not installed: %d", got)
	}

	text := out.String()
	for _, want := range []string{
		"100 Capabilities\n",
		"Single-Instance: true",
		"200 URI Start\n",
		"201 URI Done\n",
		"Filename: /tmp/dst",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output lacks %q:\n%s", want, text)
		}
	}
}

func TestURIDoneCarriesHashes(t *testing.T) {
	m := New("test", "1.0", 0, nil)
	var out strings.Builder
	m.SetStreams(strings.NewReader(""), &out)

	hasher := aptcore.NewMultiHasher(aptcore.HashAll)
	hasher.Write([]byte("Test"))
	item := &FetchItem{RawURI: "http://ex.org/a"}
	res := &FetchResult{Filename: "/tmp/a", Size: 4, ResumePoint: 2, IMSHit: true}
	res.TakeHashes(hasher)
	m.URIDone(item, res)

	text := out.String()
	for _, want := range []string{
		"201 URI Done",
		"URI: http://ex.org/a",
		"SHA256-Hash: ",
		"MD5Sum-Hash: ",
		"Checksum-FileSize-Hash: 4",
		"Resume-Point: 2",
		"IMS-Hit: true",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output lacks %q:\n%s", want, text)
		}
	}
}

func TestFailTransient(t *testing.T) {
	m := New("test", "1.0", 0, nil)
	var out strings.Builder
	m.SetStreams(strings.NewReader(""), &out)
	item := &FetchItem{RawURI: "http://ex.org/a"}
	m.Fail(item, ErrTimeout, true)

	text := out.String()
	for _, want := range []string{"400 URI Failure", "Transient-Failure: true", "FailReason: Timeout"} {
		if !strings.Contains(text, want) {
			t.Errorf("output lacks %q:\n%s", want, text)
		}
	}
}

func TestIsTransient(t *testing.T) {
	for _, err := range []error{ErrTimeout, ErrConnectionRefused, ErrTmpResolveFailure, ErrProtocol} {
		if !isTransient(err) {
			t.Errorf("%v not transient", err)
		}
	}
	for _, err := range []error{ErrHashMismatch, ErrNotFound, ErrResolveFailure} {
		if isTransient(err) {
			t.Errorf("%v transient", err)
		}
	}
}
