package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTreeFindAndSet(t *testing.T) {
	tr := New()
	tr.Set("Acquire::http::Timeout", "30")
	tr.Set("APT::Sandbox::User", "_apt")

	if got := tr.Find("Acquire::http::Timeout"); got != "30" {
		t.Errorf("Find = %q", got)
	}
	if got := tr.FindI("Acquire::http::Timeout", 120); got != 30 {
		t.Errorf("FindI = %d", got)
	}
	if got := tr.FindI("Acquire::http::Missing", 120); got != 120 {
		t.Errorf("FindI default = %d", got)
	}
	if got := tr.Find("acquire::HTTP::timeout"); got != "30" {
		t.Errorf("case-insensitive lookup = %q", got)
	}
	if !tr.Exists("APT::Sandbox::User") {
		t.Error("Exists = false")
	}
	if tr.Exists("APT::Sandbox::Nope") {
		t.Error("Exists on absent = true")
	}
}

func TestTreeBool(t *testing.T) {
	tr := New()
	tr.Set("A::Yes", "yes")
	tr.Set("A::Off", "off")
	tr.Set("A::Junk", "maybe")
	if !tr.FindB("A::Yes") {
		t.Error("yes = false")
	}
	if tr.FindB("A::Off", true) {
		t.Error("off = true")
	}
	if !tr.FindB("A::Junk", true) {
		t.Error("unparsable did not fall back to default")
	}
}

func TestTreeList(t *testing.T) {
	tr := New()
	tr.Set("Acquire::ftp::ProxyLogin::", "USER $(SITE_USER)")
	tr.Set("Acquire::ftp::ProxyLogin::", "PASS $(SITE_PASS)")
	got := tr.List("Acquire::ftp::ProxyLogin")
	want := []string{"USER $(SITE_USER)", "PASS $(SITE_PASS)"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}
}

func TestTreeListTags(t *testing.T) {
	tr := New()
	tr.Set("APT::Compressor::mylz::Binary", "mylz")
	tr.Set("APT::Compressor::other::Binary", "other")
	got := tr.ListTags("APT::Compressor")
	want := []string{"mylz", "other"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
}

func TestTreeFindDir(t *testing.T) {
	tr := New()
	tr.Set("Dir::Etc", "/etc/apt")
	if got := tr.FindDir("Dir::Etc"); got != "/etc/apt/" {
		t.Errorf("FindDir = %q", got)
	}
}

func TestTreeClear(t *testing.T) {
	tr := New()
	tr.Set("A::B::C", "1")
	tr.Set("A::B2", "2")
	tr.Clear("A::B")
	if tr.Exists("A::B::C") {
		t.Error("cleared subtree still present")
	}
	if !tr.Exists("A::B2") {
		t.Error("sibling lost")
	}
}

func TestParseBool(t *testing.T) {
	for _, word := range []string{"yes", "true", "1", "with", "on", "enable"} {
		if v, ok := ParseBool(word); !ok || !v {
			t.Errorf("ParseBool(%q) = %v, %v", word, v, ok)
		}
	}
	for _, word := range []string{"no", "false", "0", "without", "off", "disable"} {
		if v, ok := ParseBool(word); !ok || v {
			t.Errorf("ParseBool(%q) = %v, %v", word, v, ok)
		}
	}
	if _, ok := ParseBool("sometimes"); ok {
		t.Error("unknown word recognized")
	}
}
