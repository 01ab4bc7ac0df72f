package ftparchive

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aptutil/aptcore"
	"github.com/aptutil/aptcore/pkg/clearsign"
	"github.com/aptutil/aptcore/pkg/tagfile"
)

// sourceOrder is the canonical field order of a Sources paragraph.
var sourceOrder = []string{
	"Package", "Source", "Binary", "Version", "Priority", "Section",
	"Maintainer", "Original-Maintainer", "Uploaders", "Dm-Upload-Allowed",
	"Build-Depends", "Build-Depends-Indep", "Build-Conflicts",
	"Build-Conflicts-Indep", "Architecture", "Standards-Version",
	"Format", "Directory", "Files", "Checksums-Sha1", "Checksums-Sha256",
	"Checksums-Sha512", "Homepage", "Vcs-Browser", "Vcs-Git",
}

// SourcesWriter emits one Sources paragraph per .dsc file.
type SourcesWriter struct {
	Out        io.Writer
	DB         *CacheDB
	Over       *Override
	SOver      *Override // source-specific override, falls back to Over
	PathPrefix string

	Stats WriterStats
}

// NewSourcesWriter wires a writer.
func NewSourcesWriter(out io.Writer, db *CacheDB, over *Override) *SourcesWriter {
	if over == nil {
		over = NewOverride()
	}
	return &SourcesWriter{Out: out, DB: db, Over: over}
}

// dscText returns the .dsc body with any clearsign armor removed,
// through the cache.
func (w *SourcesWriter) dscText(path string) ([]byte, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if w.DB != nil {
		if rec, ok, err := w.DB.GetStat(path); err != nil {
			return nil, err
		} else if ok && rec.Mtime == fi.ModTime().Unix() && rec.Size == fi.Size() && rec.Flags&flagSourceOK != 0 {
			if text, ok, err := w.DB.GetSource(path); err == nil && ok {
				w.Stats.Hits++
				return text, nil
			}
		}
	}
	w.Stats.Misses++

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var payload bytes.Buffer
	_, err = clearsign.Split(f, &payload, nil)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("ftparchive: reading %s: %w", path, err)
	}
	text := payload.Bytes()

	if w.DB != nil {
		hashes, err := aptcore.HashFile(path)
		if err != nil {
			return nil, err
		}
		rec := &StatRecord{Mtime: fi.ModTime().Unix(), Size: fi.Size(), Flags: flagSourceOK}
		rec.setHashes(hashes)
		if err := w.DB.PutStat(path, rec); err != nil {
			return nil, err
		}
		if err := w.DB.PutSource(path, text); err != nil {
			return nil, err
		}
	}
	return text, nil
}

// DoPackage processes one .dsc file.
func (w *SourcesWriter) DoPackage(path string) error {
	text, err := w.dscText(path)
	if err != nil {
		return err
	}
	sec, _, err := tagfile.Scan(text, true)
	if err != nil {
		return fmt.Errorf("ftparchive: parsing %s: %w", path, err)
	}
	pkg, _ := sec.FindS("Source")
	if pkg == "" {
		if pkg, _ = sec.FindS("Package"); pkg == "" {
			return fmt.Errorf("ftparchive: %s has no Source field", path)
		}
	}

	over := w.Over.Get(pkg)
	if w.SOver != nil {
		if so := w.SOver.Get(pkg); so != nil {
			over = so
		}
	}

	dir := filepath.Dir(path)
	directory := dir
	if w.PathPrefix != "" {
		directory = strings.TrimSuffix(w.PathPrefix, "/") + "/" + strings.TrimPrefix(dir, "./")
	}

	// The .dsc itself leads each checksum list, followed by the files
	// it names which exist beside it.
	dscHashes, err := aptcore.HashFile(path)
	if err != nil {
		return err
	}
	dscSize := dscHashes.FileSize()
	base := filepath.Base(path)

	fileLines := map[string][]string{
		aptcore.MD5Sum: nil, aptcore.SHA1: nil, aptcore.SHA256: nil, aptcore.SHA512: nil,
	}
	appendEntry := func(hashes aptcore.HashStringList, size int64, name string) {
		for typ := range fileLines {
			if h, ok := hashes.Find(typ); ok {
				fileLines[typ] = append(fileLines[typ],
					fmt.Sprintf(" %s %d %s", h.Value(), size, name))
			}
		}
	}
	appendEntry(dscHashes, dscSize, base)

	if files, ok := sec.FindS("Files"); ok {
		for _, line := range strings.Split(files, "\n") {
			fields := strings.Fields(line)
			if len(fields) < 3 {
				continue
			}
			name := fields[len(fields)-1]
			full := filepath.Join(dir, name)
			hashes, err := aptcore.HashFile(full)
			if err != nil {
				return fmt.Errorf("ftparchive: %s names missing file %s: %w", path, name, err)
			}
			appendEntry(hashes, hashes.FileSize(), name)
		}
	}

	rewrites := []tagfile.Rewrite{
		{Tag: "Source", Op: tagfile.OpRename, Data: "Package"},
		{Tag: "Directory", Op: tagfile.OpRewrite, Data: directory},
		{Tag: "Files", Op: tagfile.OpRewrite, Data: "\n" + strings.Join(fileLines[aptcore.MD5Sum], "\n")},
		{Tag: "Checksums-Sha1", Op: tagfile.OpRewrite, Data: "\n" + strings.Join(fileLines[aptcore.SHA1], "\n")},
		{Tag: "Checksums-Sha256", Op: tagfile.OpRewrite, Data: "\n" + strings.Join(fileLines[aptcore.SHA256], "\n")},
		{Tag: "Checksums-Sha512", Op: tagfile.OpRewrite, Data: "\n" + strings.Join(fileLines[aptcore.SHA512], "\n")},
	}
	if over != nil {
		if over.Priority != "" {
			rewrites = append(rewrites, tagfile.Rewrite{Tag: "Priority", Op: tagfile.OpRewrite, Data: over.Priority})
		}
		if over.Section != "" {
			rewrites = append(rewrites, tagfile.Rewrite{Tag: "Section", Op: tagfile.OpRewrite, Data: over.Section})
		}
		if maint, _ := sec.FindS("Maintainer"); maint != "" {
			if nm, changed := over.SwapMaint(maint); changed {
				rewrites = append(rewrites, tagfile.Rewrite{Tag: "Maintainer", Op: tagfile.OpRewrite, Data: nm})
			}
		}
		for field, value := range over.FieldValues {
			rewrites = append(rewrites, tagfile.Rewrite{Tag: field, Op: tagfile.OpRewrite, Data: value})
		}
		w.Stats.OverItems++
	}

	if err := sec.Write(w.Out, sourceOrder, rewrites); err != nil {
		return err
	}
	if _, err := io.WriteString(w.Out, "\n"); err != nil {
		return err
	}
	w.Stats.Packages++
	w.Stats.Bytes += dscSize
	return nil
}
