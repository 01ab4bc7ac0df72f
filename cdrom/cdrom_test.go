package cdrom

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestScanFindsIndices(t *testing.T) {
	root := t.TempDir()
	bin := filepath.Join(root, "dists/stable/main/binary-i386")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bin, "Packages"), []byte("Package: a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bin, "Packages.bz2"), []byte("BZh9compressed"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(root, "dists/stable/main/source")
	os.MkdirAll(src, 0o755)
	os.WriteFile(filepath.Join(src, "Sources"), []byte("Package: s\n"), 0o644)
	i18n := filepath.Join(root, "dists/stable/main/i18n")
	os.MkdirAll(i18n, 0o755)
	os.WriteFile(filepath.Join(i18n, "Translation-en"), []byte("Package: a\n"), 0o644)
	os.MkdirAll(filepath.Join(root, ".disk"), 0o755)
	os.WriteFile(filepath.Join(root, ".disk", "info"), []byte("Test CD\n"), 0o644)

	var s Scanner
	res, err := s.Scan(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Packages) != 2 {
		t.Errorf("Packages = %v", res.Packages)
	}
	if len(res.Sources) != 1 {
		t.Errorf("Sources = %v", res.Sources)
	}
	if len(res.Translations) != 1 {
		t.Errorf("Translations = %v", res.Translations)
	}
	if res.InfoDir != filepath.Join(root, ".disk") {
		t.Errorf("InfoDir = %q", res.InfoDir)
	}
}

func TestScanDropsSymlinkAliases(t *testing.T) {
	root := t.TempDir()
	sid := filepath.Join(root, "dists/sid/main/binary-i386")
	if err := os.MkdirAll(sid, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sid, "Packages"), []byte("Package: a\nVersion: 1\n\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// dists/unstable -> dists/sid
	if err := os.Symlink(filepath.Join(root, "dists/sid"), filepath.Join(root, "dists/unstable")); err != nil {
		t.Fatal(err)
	}

	var s Scanner
	res, err := s.Scan(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Packages) != 1 {
		t.Errorf("aliased Packages counted twice: %v", res.Packages)
	}
}

func TestDropRepeatsByContent(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "bb")
	c := filepath.Join(dir, "c")
	os.WriteFile(a, []byte("same"), 0o644)
	os.WriteFile(b, []byte("same"), 0o644)
	os.WriteFile(c, []byte("different"), 0o644)

	out, err := DropRepeats([]string{b, a, c})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("out = %v", out)
	}
	joined := strings.Join(out, ",")
	if !strings.Contains(joined, a) || !strings.Contains(joined, c) {
		t.Errorf("kept = %v", out)
	}
}
