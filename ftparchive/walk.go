package ftparchive

import (
	"io/fs"
	"path/filepath"
	"sort"
)

// WalkFiles walks root depth-first collecting regular files whose base
// name matches one of the patterns. The result is stable-sorted by
// path so cache access stays local.
func WalkFiles(root string, patterns []string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		base := filepath.Base(p)
		for _, pat := range patterns {
			ok, merr := filepath.Match(pat, base)
			if merr != nil {
				return merr
			}
			if ok {
				out = append(out, p)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
