package buffile

import (
	"os"
	"strings"

	"github.com/aptutil/aptcore/pkg/config"
)

// Compressor describes one entry of the compressor registry: how to
// recognize its files and, for the piped fallback, how to invoke the
// external binary.
type Compressor struct {
	Name           string
	Extension      string
	Binary         string
	CompressArgs   []string
	UncompressArgs []string
	Cost           int
}

// builtinCompressors is the registry of spec §6, cost-ordered. The "."
// identity entry carries no extension.
var builtinCompressors = []Compressor{
	{Name: ".", Extension: "", Binary: "", Cost: 0},
	{Name: "lz4", Extension: ".lz4", Binary: "lz4", CompressArgs: []string{"-1"}, UncompressArgs: []string{"-d"}, Cost: 50},
	{Name: "zstd", Extension: ".zst", Binary: "zstd", CompressArgs: []string{"-19", "-q"}, UncompressArgs: []string{"-d", "-q"}, Cost: 60},
	{Name: "gzip", Extension: ".gz", Binary: "gzip", CompressArgs: []string{"-6n"}, UncompressArgs: []string{"-d"}, Cost: 100},
	{Name: "xz", Extension: ".xz", Binary: "xz", CompressArgs: []string{"-6"}, UncompressArgs: []string{"-d"}, Cost: 200},
	{Name: "bzip2", Extension: ".bz2", Binary: "bzip2", CompressArgs: []string{"-6"}, UncompressArgs: []string{"-d"}, Cost: 300},
	{Name: "lzma", Extension: ".lzma", Binary: "xz", CompressArgs: []string{"--format=lzma", "-6"}, UncompressArgs: []string{"--format=lzma", "-d"}, Cost: 400},
}

// Compressors returns the registry: built-ins plus any
// APT::Compressor::<name> extension entries from the tree. A nil tree
// yields the built-ins.
func Compressors(cfg *config.Tree) []Compressor {
	out := make([]Compressor, len(builtinCompressors))
	copy(out, builtinCompressors)
	if cfg == nil {
		return out
	}
	for _, name := range cfg.ListTags("APT::Compressor") {
		base := "APT::Compressor::" + name
		c := Compressor{
			Name:      cfg.Find(base+"::Name", name),
			Extension: cfg.Find(base + "::Extension"),
			Binary:    cfg.Find(base+"::Binary", name),
			Cost:      cfg.FindI(base+"::Cost", 500),
		}
		c.CompressArgs = cfg.List(base + "::CompressArg")
		c.UncompressArgs = cfg.List(base + "::UncompressArg")
		replaced := false
		for i := range out {
			if out[i].Name == c.Name {
				out[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, c)
		}
	}
	return out
}

// FindCompressor locates a registry entry by name.
func FindCompressor(cfg *config.Tree, name string) (Compressor, bool) {
	for _, c := range Compressors(cfg) {
		if c.Name == name {
			return c, true
		}
	}
	return Compressor{}, false
}

// CompressMode selects how Open decides on a codec.
type CompressMode int

const (
	// ModeNone opens the file raw.
	ModeNone CompressMode = iota
	// ModeAuto probes path+extension for each registry entry and picks
	// the first that exists on disk.
	ModeAuto
	// ModeExtension derives the codec from the path's trailing
	// extension, peeling one ".new" or ".bak" suffix first.
	ModeExtension
	// ModeGzip through ModeLzma force a specific codec.
	ModeGzip
	ModeBzip2
	ModeXz
	ModeLzma
	ModeLz4
	ModeZstd
)

var modeByName = map[string]CompressMode{
	".":     ModeNone,
	"gzip":  ModeGzip,
	"bzip2": ModeBzip2,
	"xz":    ModeXz,
	"lzma":  ModeLzma,
	"lz4":   ModeLz4,
	"zstd":  ModeZstd,
}

var modeByExtension = map[string]CompressMode{
	"":      ModeNone,
	".gz":   ModeGzip,
	".bz2":  ModeBzip2,
	".xz":   ModeXz,
	".lzma": ModeLzma,
	".lz4":  ModeLz4,
	".zst":  ModeZstd,
}

// ModeForName maps a registry name to its mode; unknown names fall back
// to the piped backend via open-by-compressor.
func ModeForName(name string) (CompressMode, bool) {
	m, ok := modeByName[name]
	return m, ok
}

// resolveAuto scans the registry by extension and returns the first
// candidate for which path+ext exists, along with the adjusted path.
func resolveAuto(cfg *config.Tree, path string) (string, CompressMode) {
	for _, c := range Compressors(cfg) {
		cand := path + c.Extension
		if _, err := os.Stat(cand); err == nil {
			if m, ok := modeByExtension[c.Extension]; ok {
				return cand, m
			}
			return cand, ModeNone
		}
	}
	return path, ModeNone
}

// ResolveExtension maps a path's trailing extension to a codec the way
// ModeExtension does.
func ResolveExtension(path string) CompressMode {
	return resolveExtension(path)
}

// resolveExtension maps a path's trailing extension to a codec, peeling
// one ".new" or ".bak" suffix.
func resolveExtension(path string) CompressMode {
	p := strings.TrimSuffix(strings.TrimSuffix(path, ".new"), ".bak")
	i := strings.LastIndexByte(p, '.')
	if i == -1 || strings.ContainsRune(p[i:], '/') {
		return ModeNone
	}
	if m, ok := modeByExtension[p[i:]]; ok {
		return m
	}
	return ModeNone
}
