// Package cdrom discovers index files under a mounted disc: every
// Packages, Sources and Translation-* file, plus the .disk info
// directory, with content-hash de-duplication so aliased trees
// (stable -> sid symlinks) count once. Release files are not collected.
package cdrom

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// maxScanDepth bounds the recursion below the mount point.
const maxScanDepth = 12

// ScanResult is what a disc yields.
type ScanResult struct {
	Packages     []string
	Sources      []string
	Translations []string
	InfoDir      string
}

// Scanner walks a mount point. The zero value is ready to use.
type Scanner struct{}

// Scan discovers all index files under mount. Permission errors on
// unreadable directories are demoted to warnings; any other error is
// fatal.
func (s *Scanner) Scan(mount string) (*ScanResult, error) {
	res := &ScanResult{}
	root := filepath.Clean(mount)

	// Directory symlinks are followed (alias trees like
	// stable -> sid are expected on discs); the visited set keyed by
	// canonical path breaks cycles.
	visited := make(map[string]bool)
	var walk func(dir string, depth int) error
	walk = func(dir string, depth int) error {
		if depth > maxScanDepth {
			return nil
		}
		canon, err := filepath.EvalSymlinks(dir)
		if err != nil {
			return err
		}
		if visited[canon] {
			// An alias of a directory already walked; its files would
			// only be dropped again by DropRepeats.
			return nil
		}
		visited[canon] = true
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				slog.Warn("skipping unreadable directory", "path", dir, "reason", err)
				return nil
			}
			return err
		}
		for _, e := range entries {
			p := filepath.Join(dir, e.Name())
			fi, err := os.Stat(p)
			if err != nil {
				// A dangling symlink is harmless.
				continue
			}
			if fi.IsDir() {
				if e.Name() == ".disk" {
					res.InfoDir = p
					continue
				}
				if err := walk(p, depth+1); err != nil {
					return err
				}
				continue
			}
			base := e.Name()
			switch {
			case base == "Packages" || strings.HasPrefix(base, "Packages."):
				res.Packages = append(res.Packages, p)
			case base == "Sources" || strings.HasPrefix(base, "Sources."):
				res.Sources = append(res.Sources, p)
			case strings.HasPrefix(base, "Translation-"):
				res.Translations = append(res.Translations, p)
			}
		}
		return nil
	}
	if err := walk(root, 0); err != nil {
		return nil, fmt.Errorf("cdrom: scanning %s: %w", mount, err)
	}

	var err error
	res.Packages, err = DropRepeats(res.Packages)
	if err != nil {
		return nil, err
	}
	res.Sources, err = DropRepeats(res.Sources)
	if err != nil {
		return nil, err
	}
	res.Translations, err = DropRepeats(res.Translations)
	if err != nil {
		return nil, err
	}
	sort.Strings(res.Packages)
	sort.Strings(res.Sources)
	sort.Strings(res.Translations)
	return res, nil
}

// DropRepeats removes entries whose file content hashes identically to
// an earlier entry, keeping the first (shortest canonical path wins on
// ties after the sort below).
func DropRepeats(files []string) ([]string, error) {
	ordered := append([]string(nil), files...)
	sort.Slice(ordered, func(i, j int) bool {
		if len(ordered[i]) != len(ordered[j]) {
			return len(ordered[i]) < len(ordered[j])
		}
		return ordered[i] < ordered[j]
	})
	seen := make(map[string]bool)
	var out []string
	for _, p := range ordered {
		sum, err := contentDigest(p)
		if err != nil {
			return nil, fmt.Errorf("cdrom: hashing %s: %w", p, err)
		}
		if seen[sum] {
			continue
		}
		// Canonicalize so the same file reached via different symlink
		// aliases also collapses.
		if canon, err := filepath.EvalSymlinks(p); err == nil {
			p = canon
		}
		if seen[p] {
			continue
		}
		seen[sum] = true
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}

func contentDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
