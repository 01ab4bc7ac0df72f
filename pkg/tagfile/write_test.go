package tagfile

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWriteRewriteWithOrder(t *testing.T) {
	in := "Package: foo\nTypoA:\n aa\n .\n cc\nOverride: 1\nOverride-Backup: 1\n\n"
	sec, _, err := Scan([]byte(in), false)
	if err != nil {
		t.Fatal(err)
	}

	var out strings.Builder
	err = sec.Write(&out,
		[]string{"Package", "TypoA", "Override"},
		[]Rewrite{{Tag: "Override", Op: OpRewrite, Data: "42"}})
	if err != nil {
		t.Fatal(err)
	}
	want := "Package: foo\nTypoA:\n aa\n .\n cc\nOverride: 42\nOverride-Backup: 1\n"
	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Fatalf("serialization mismatch (-want +got):\n%s", diff)
	}

	back, _, err := Scan([]byte(out.String()+"\n"), false)
	if err != nil {
		t.Fatal(err)
	}
	if got := back.Count(); got != 4 {
		t.Errorf("reparsed field count = %d, want 4", got)
	}
	if v, _ := back.FindS("Override"); v != "42" {
		t.Errorf("Override = %q, want 42", v)
	}
}

func TestWriteParseOrderDefault(t *testing.T) {
	in := "B: 2\nA: 1\nC: 3\n\n"
	sec, _, err := Scan([]byte(in), false)
	if err != nil {
		t.Fatal(err)
	}
	var out strings.Builder
	if err := sec.Write(&out, nil, nil); err != nil {
		t.Fatal(err)
	}
	if out.String() != "B: 2\nA: 1\nC: 3\n" {
		t.Errorf("parse-order emission = %q", out.String())
	}
}

func TestWriteRemoveAndRename(t *testing.T) {
	in := "Package: x\nStatus: install ok installed\nOptional: old\n\n"
	sec, _, err := Scan([]byte(in), false)
	if err != nil {
		t.Fatal(err)
	}
	var out strings.Builder
	err = sec.Write(&out, nil, []Rewrite{
		{Tag: "Status", Op: OpRemove},
		{Tag: "Optional", Op: OpRename, Data: "Suggests"},
	})
	if err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if strings.Contains(got, "Status") {
		t.Errorf("removed field survives: %q", got)
	}
	if !strings.Contains(got, "Suggests: old") {
		t.Errorf("rename missing: %q", got)
	}
}

func TestWriteEmptyRewriteRemoves(t *testing.T) {
	sec, _, err := Scan([]byte("A: 1\nB: 2\n\n"), false)
	if err != nil {
		t.Fatal(err)
	}
	var out strings.Builder
	if err := sec.Write(&out, nil, []Rewrite{{Tag: "A", Op: OpRewrite, Data: ""}}); err != nil {
		t.Fatal(err)
	}
	if out.String() != "B: 2\n" {
		t.Errorf("empty rewrite output = %q", out.String())
	}
}

func TestWriteAddsNewField(t *testing.T) {
	sec, _, err := Scan([]byte("Package: x\n\n"), false)
	if err != nil {
		t.Fatal(err)
	}
	var out strings.Builder
	err = sec.Write(&out, nil, []Rewrite{{Tag: "Filename", Op: OpRewrite, Data: "pool/x.deb"}})
	if err != nil {
		t.Fatal(err)
	}
	if out.String() != "Package: x\nFilename: pool/x.deb\n" {
		t.Errorf("addition output = %q", out.String())
	}
}

func TestRoundTripUpToOrder(t *testing.T) {
	sec, _, err := Scan([]byte(sample), false)
	if err != nil {
		t.Fatal(err)
	}
	var out strings.Builder
	if err := sec.Write(&out, nil, nil); err != nil {
		t.Fatal(err)
	}
	back, _, err := Scan([]byte(out.String()+"\n"), false)
	if err != nil {
		t.Fatal(err)
	}
	if back.Count() != sec.Count() {
		t.Fatalf("count changed: %d -> %d", sec.Count(), back.Count())
	}
	for i := 0; i < sec.Count(); i++ {
		tag := sec.Key(i)
		a, _ := sec.FindS(tag)
		b, _ := back.FindS(tag)
		if a != b {
			t.Errorf("field %s changed: %q -> %q", tag, a, b)
		}
	}
}
