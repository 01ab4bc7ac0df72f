package tagfile

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestFileStep(t *testing.T) {
	stream := "Package: a\nVersion: 1\n\nPackage: b\nVersion: 2\n\n\nPackage: c\nVersion: 3\n"
	f := NewFile(strings.NewReader(stream), 0)
	var pkgs []string
	for {
		sec, err := f.Step()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		v, _ := sec.FindS("Package")
		pkgs = append(pkgs, v)
	}
	if strings.Join(pkgs, ",") != "a,b,c" {
		t.Errorf("packages = %v", pkgs)
	}
}

func TestFileStepLargeStream(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 500; i++ {
		b.WriteString("Package: p\nFiller: ")
		b.WriteString(strings.Repeat("x", 200))
		b.WriteString("\n\n")
	}
	f := NewFile(strings.NewReader(b.String()), 0)
	count := 0
	for {
		_, err := f.Step()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		count++
	}
	if count != 500 {
		t.Errorf("sections = %d, want 500", count)
	}
}

func TestFileComments(t *testing.T) {
	stream := "# leading comment\nPackage: a\n# inner comment line\nSection: tools # trailing note\n\n# only\n# comments\n\nPackage: b\n\n"
	f := NewFile(strings.NewReader(stream), SupportComments)

	sec, err := f.Step()
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := sec.FindS("Package"); v != "a" {
		t.Errorf("first Package = %q", v)
	}
	if v, _ := sec.FindS("Section"); v != "tools" {
		t.Errorf("Section = %q (inline comment not stripped)", v)
	}
	if sec.Count() != 2 {
		t.Errorf("Count = %d, want 2", sec.Count())
	}

	sec, err = f.Step()
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := sec.FindS("Package"); v != "b" {
		t.Errorf("second Package = %q (comment-only paragraph not skipped)", v)
	}

	if _, err := f.Step(); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF, got %v", err)
	}
}
