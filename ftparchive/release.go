package ftparchive

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aptutil/aptcore"
	"github.com/aptutil/aptcore/pkg/config"
)

// releaseHeaders are the informational fields copied from the
// configuration into the Release paragraph, in order.
var releaseHeaders = []string{
	"Origin", "Label", "Suite", "Version", "Codename", "Date",
	"Valid-Until", "Architectures", "Components", "Description",
	"Signed-By", "Acquire-By-Hash",
}

// releasePatterns are the index files a Release covers.
var releasePatterns = []string{
	"Packages", "Packages.gz", "Packages.bz2", "Packages.xz", "Packages.lz4", "Packages.zst",
	"Sources", "Sources.gz", "Sources.bz2", "Sources.xz", "Sources.lz4", "Sources.zst",
	"Contents-*", "Translation-*", "Release", "Index", "md5sum.txt",
}

// ReleaseWriter hashes every index under a distribution directory and
// emits the Release paragraph with one listing per enabled hash.
type ReleaseWriter struct {
	Out io.Writer
	Cfg *config.Tree

	// enabled hash types, strongest last so the listing order matches
	// the historical MD5Sum-first layout.
	types []string

	entries []releaseEntry
}

type releaseEntry struct {
	name   string
	size   int64
	hashes aptcore.HashStringList
}

// NewReleaseWriter builds a writer honoring the
// APT::FTPArchive::Release::* configuration.
func NewReleaseWriter(out io.Writer, cfg *config.Tree) *ReleaseWriter {
	if cfg == nil {
		cfg = config.New()
	}
	w := &ReleaseWriter{Out: out, Cfg: cfg}
	for _, t := range []string{aptcore.MD5Sum, aptcore.SHA1, aptcore.SHA256, aptcore.SHA512} {
		if cfg.FindB("APT::FTPArchive::Release::"+t, true) {
			w.types = append(w.types, t)
		}
	}
	return w
}

// Scan hashes every matching file below dir, recording paths relative
// to it.
func (w *ReleaseWriter) Scan(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if strings.Contains(p, "by-hash"+string(filepath.Separator)) {
			return nil
		}
		base := filepath.Base(p)
		matched := false
		for _, pat := range releasePatterns {
			if ok, _ := filepath.Match(pat, base); ok {
				matched = true
				break
			}
		}
		if !matched {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if rel == "Release" || rel == "InRelease" || rel == "Release.gpg" {
			return nil
		}
		hashes, err := aptcore.HashFile(p)
		if err != nil {
			return err
		}
		w.entries = append(w.entries, releaseEntry{
			name:   rel,
			size:   hashes.FileSize(),
			hashes: hashes,
		})
		return nil
	})
}

// Finish emits the Release paragraph.
func (w *ReleaseWriter) Finish() error {
	now := time.Now().UTC()
	defaults := map[string]string{
		"Date": aptcore.TimeRFC1123(now),
	}
	if days := w.Cfg.FindI("APT::FTPArchive::Release::ValidDays", 0); days > 0 {
		defaults["Valid-Until"] = aptcore.TimeRFC1123(now.Add(time.Duration(days) * 24 * time.Hour))
	}
	for _, name := range releaseHeaders {
		value := w.Cfg.Find("APT::FTPArchive::Release::" + name)
		if value == "" {
			value = defaults[name]
		}
		if value == "" {
			continue
		}
		if _, err := fmt.Fprintf(w.Out, "%s: %s\n", name, value); err != nil {
			return err
		}
	}

	sort.Slice(w.entries, func(i, j int) bool { return w.entries[i].name < w.entries[j].name })
	listingName := map[string]string{
		aptcore.MD5Sum: "MD5Sum",
		aptcore.SHA1:   "SHA1",
		aptcore.SHA256: "SHA256",
		aptcore.SHA512: "SHA512",
	}
	for _, typ := range w.types {
		if _, err := fmt.Fprintf(w.Out, "%s:\n", listingName[typ]); err != nil {
			return err
		}
		for _, e := range w.entries {
			h, ok := e.hashes.Find(typ)
			if !ok {
				continue
			}
			if _, err := fmt.Fprintf(w.Out, " %s %16d %s\n", h.Value(), e.size, e.name); err != nil {
				return err
			}
		}
	}
	return nil
}

// LinkByHash populates by-hash/<Type>/<hex> links beside every indexed
// file for each enabled hash, then prunes each by-hash directory down
// to the newest keep files by mtime.
func (w *ReleaseWriter) LinkByHash(dir string) error {
	keep := w.Cfg.FindI("Acquire::By-Hash-Keep", 3)
	for _, e := range w.entries {
		target := filepath.Join(dir, e.name)
		for _, typ := range w.types {
			h, ok := e.hashes.Find(typ)
			if !ok {
				continue
			}
			hdir := filepath.Join(filepath.Dir(target), "by-hash", typ)
			if err := os.MkdirAll(hdir, 0o755); err != nil {
				return err
			}
			link := filepath.Join(hdir, h.Value())
			if _, err := os.Lstat(link); err == nil {
				continue
			}
			rel, err := filepath.Rel(hdir, target)
			if err != nil {
				return err
			}
			if err := os.Symlink(rel, link); err != nil && !os.IsExist(err) {
				return err
			}
		}
	}
	// Retention per (algo, dir).
	seen := make(map[string]bool)
	for _, e := range w.entries {
		for _, typ := range w.types {
			hdir := filepath.Join(filepath.Dir(filepath.Join(dir, e.name)), "by-hash", typ)
			if seen[hdir] {
				continue
			}
			seen[hdir] = true
			if err := pruneByHash(hdir, keep); err != nil {
				return err
			}
		}
	}
	return nil
}

// pruneByHash removes all but the newest keep entries, ordered by
// mtime at nanosecond resolution.
func pruneByHash(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	type aged struct {
		name string
		at   time.Time
	}
	var files []aged
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, aged{name: e.Name(), at: fi.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].at.After(files[j].at) })
	for i := keep; i < len(files); i++ {
		if err := os.Remove(filepath.Join(dir, files[i].name)); err != nil {
			return err
		}
	}
	return nil
}
