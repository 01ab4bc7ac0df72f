package tagfile

import (
	"strings"
	"testing"
)

const sample = "Package: apt\nVersion: 2.6.1\nInstalled-Size: 4000\nDepends: libc6,\n libgcc-s1\nEssential: yes\nDescription: commandline package manager\n This is the long part.\n .\n More text.\n\n"

func TestScanBasics(t *testing.T) {
	sec, consumed, err := Scan([]byte(sample), false)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != len(sample) {
		t.Errorf("consumed %d of %d bytes", consumed, len(sample))
	}
	if got := sec.Count(); got != 6 {
		t.Errorf("Count = %d, want 6", got)
	}
	if v, ok := sec.FindS("Package"); !ok || v != "apt" {
		t.Errorf("Package = %q, %v", v, ok)
	}
	if v, ok := sec.FindS("version"); !ok || v != "2.6.1" {
		t.Errorf("case-insensitive find = %q, %v", v, ok)
	}
	if sec.Exists("Nope") {
		t.Error("Exists on absent tag")
	}
	if _, ok := sec.FindS("Nope"); ok {
		t.Error("FindS on absent tag")
	}
}

func TestScanExistsFindAgree(t *testing.T) {
	sec, _, err := Scan([]byte(sample), false)
	if err != nil {
		t.Fatal(err)
	}
	for _, tag := range []string{"Package", "Version", "Depends", "Description", "Missing", "essential"} {
		_, found := sec.FindS(tag)
		if sec.Exists(tag) != found {
			t.Errorf("Exists and FindS disagree on %q", tag)
		}
	}
}

func TestScanContinuation(t *testing.T) {
	sec, _, err := Scan([]byte(sample), false)
	if err != nil {
		t.Fatal(err)
	}
	v, ok := sec.FindS("Depends")
	if !ok {
		t.Fatal("Depends missing")
	}
	if v != "libc6,\n libgcc-s1" {
		t.Errorf("Depends = %q", v)
	}
}

func TestScanNumbersAndFlags(t *testing.T) {
	sec, _, err := Scan([]byte(sample), false)
	if err != nil {
		t.Fatal(err)
	}
	if n, ok := sec.FindU64("Installed-Size", 0); !ok || n != 4000 {
		t.Errorf("FindU64 = %d, %v", n, ok)
	}
	if n, ok := sec.FindU64("Missing", 7); !ok || n != 7 {
		t.Errorf("FindU64 absent = %d, %v", n, ok)
	}
	var flags uint
	if !sec.FindFlag("Essential", &flags, 1) || flags != 1 {
		t.Errorf("FindFlag essential: flags = %#x", flags)
	}
}

func TestScanMalformedNumber(t *testing.T) {
	sec, _, err := Scan([]byte("Size: twelve\n\n"), false)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := sec.FindU64("Size", 0); ok {
		t.Error("malformed number reported ok")
	}
}

func TestScanCRLF(t *testing.T) {
	sec, _, err := Scan([]byte("Package: a\r\nVersion: 1\r\n\r\n"), false)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := sec.FindS("Package"); v != "a" {
		t.Errorf("Package = %q", v)
	}
	if v, _ := sec.FindS("Version"); v != "1" {
		t.Errorf("Version = %q", v)
	}
}

func TestScanPartial(t *testing.T) {
	if _, _, err := Scan([]byte("Package: a\n"), false); err == nil {
		t.Error("unterminated section accepted without mayBePartial")
	}
	sec, _, err := Scan([]byte("Package: a\n"), true)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := sec.FindS("Package"); v != "a" {
		t.Errorf("Package = %q", v)
	}
}

func TestScanBadTagLine(t *testing.T) {
	if _, _, err := Scan([]byte("not a tag line\n\n"), false); err == nil {
		t.Error("line without colon accepted")
	}
	if _, _, err := Scan([]byte(" lead continuation\nPackage: a\n\n"), false); err == nil {
		t.Error("continuation before any tag accepted")
	}
}

func TestScanTooManyFields(t *testing.T) {
	var b strings.Builder
	for i := 0; i < MaxTagCount+1; i++ {
		b.WriteString("X")
		b.WriteString(strings.Repeat("a", 1+i%5))
		b.WriteString(": v\n")
	}
	b.WriteString("\n")
	if _, _, err := Scan([]byte(b.String()), false); err == nil {
		t.Error("oversized section accepted")
	}
}
