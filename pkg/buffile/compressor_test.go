package buffile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aptutil/aptcore/pkg/config"
)

func TestBuiltinRegistry(t *testing.T) {
	comps := Compressors(nil)
	byName := map[string]Compressor{}
	for _, c := range comps {
		byName[c.Name] = c
	}
	for name, ext := range map[string]string{
		".": "", "gzip": ".gz", "bzip2": ".bz2", "xz": ".xz",
		"lzma": ".lzma", "lz4": ".lz4", "zstd": ".zst",
	} {
		c, ok := byName[name]
		if !ok {
			t.Errorf("registry lacks %q", name)
			continue
		}
		if c.Extension != ext {
			t.Errorf("%s extension = %q, want %q", name, c.Extension, ext)
		}
	}
}

func TestRegistryConfigExtension(t *testing.T) {
	cfg := config.New()
	cfg.Set("APT::Compressor::brotli::Name", "brotli")
	cfg.Set("APT::Compressor::brotli::Extension", ".br")
	cfg.Set("APT::Compressor::brotli::Binary", "brotli")
	cfg.Set("APT::Compressor::brotli::CompressArg::", "-q")
	cfg.Set("APT::Compressor::brotli::UncompressArg::", "-d")
	c, ok := FindCompressor(cfg, "brotli")
	if !ok {
		t.Fatal("configured compressor not found")
	}
	if c.Extension != ".br" || len(c.CompressArgs) != 1 {
		t.Errorf("entry = %+v", c)
	}
}

func TestResolveExtension(t *testing.T) {
	tests := []struct {
		path string
		want CompressMode
	}{
		{"Packages.gz", ModeGzip},
		{"Packages.xz", ModeXz},
		{"Packages.zst", ModeZstd},
		{"Packages.lz4", ModeLz4},
		{"Packages.bz2", ModeBzip2},
		{"Packages.lzma", ModeLzma},
		{"Packages", ModeNone},
		{"Packages.gz.new", ModeGzip},
		{"Packages.xz.bak", ModeXz},
		{"dir.d/Packages", ModeNone},
	}
	for _, tc := range tests {
		if got := ResolveExtension(tc.path); got != tc.want {
			t.Errorf("ResolveExtension(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestResolveAuto(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "Packages")
	if err := os.WriteFile(base+".xz", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	path, mode := resolveAuto(nil, base)
	if path != base+".xz" || mode != ModeXz {
		t.Errorf("resolveAuto = %q, %v", path, mode)
	}

	// A plain file wins over nothing at all.
	if err := os.WriteFile(base, []byte("p"), 0o644); err != nil {
		t.Fatal(err)
	}
	path, mode = resolveAuto(nil, base)
	if path != base || mode != ModeNone {
		t.Errorf("resolveAuto with plain file = %q, %v", path, mode)
	}
}
