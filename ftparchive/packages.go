package ftparchive

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/aptutil/aptcore"
	"github.com/aptutil/aptcore/pkg/tagfile"
)

// packageOrder is the canonical field order of a Packages paragraph.
var packageOrder = []string{
	"Package", "Essential", "Status", "Priority", "Section",
	"Installed-Size", "Maintainer", "Original-Maintainer",
	"Architecture", "Source", "Version", "Replaces", "Provides",
	"Depends", "Pre-Depends", "Recommends", "Suggests", "Conflicts",
	"Breaks", "Conffiles", "Filename", "Size", "MD5sum", "SHA1",
	"SHA256", "SHA512", "Description", "Description-md5",
}

// WriterStats counts what a writer did across a run.
type WriterStats struct {
	Packages  int
	Misses    int
	Hits      int
	Bytes     int64
	OverItems int
}

// PackagesWriter emits one Packages paragraph per archive.
type PackagesWriter struct {
	Out        io.Writer
	DB         *CacheDB
	Over       *Override
	Trans      *TranslationWriter
	Contents   *ContentsWriter
	PathPrefix string
	Arch       string
	LongDesc   bool

	Stats WriterStats
}

// NewPackagesWriter wires a writer over its outputs. Any of db, over,
// trans and contents may be nil.
func NewPackagesWriter(out io.Writer, db *CacheDB, over *Override) *PackagesWriter {
	if over == nil {
		over = NewOverride()
	}
	return &PackagesWriter{Out: out, DB: db, Over: over, LongDesc: true}
}

// lookup returns the stat record, control paragraph, and contents
// listing for the archive, from cache when mtime and size still match,
// computing and caching them otherwise.
func (w *PackagesWriter) lookup(path string, needContents bool) (*StatRecord, []byte, []byte, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, nil, nil, err
	}
	var rec *StatRecord
	if w.DB != nil {
		if cached, ok, err := w.DB.GetStat(path); err != nil {
			return nil, nil, nil, err
		} else if ok && cached.Mtime == fi.ModTime().Unix() && cached.Size == fi.Size() {
			rec = cached
		}
	}
	fresh := rec == nil
	if fresh {
		hashes, err := aptcore.HashFile(path)
		if err != nil {
			return nil, nil, nil, err
		}
		rec = &StatRecord{Mtime: fi.ModTime().Unix(), Size: fi.Size()}
		rec.setHashes(hashes)
		w.Stats.Misses++
	} else {
		w.Stats.Hits++
	}

	deb := &debArchive{path: path}
	var control, contents []byte
	if !fresh && rec.Flags&flagControlOK != 0 && w.DB != nil {
		control, _, err = w.DB.GetControl(path)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	if control == nil {
		control, err = deb.Control()
		if err != nil {
			return nil, nil, nil, err
		}
		rec.Flags |= flagControlOK
	}
	if needContents {
		if !fresh && rec.Flags&flagContentsOK != 0 && w.DB != nil {
			contents, _, err = w.DB.GetContents(path)
			if err != nil {
				return nil, nil, nil, err
			}
		}
		if contents == nil {
			contents, err = deb.Contents()
			if err != nil {
				return nil, nil, nil, err
			}
			rec.Flags |= flagContentsOK
		}
	}

	if w.DB != nil {
		if err := w.DB.PutStat(path, rec); err != nil {
			return nil, nil, nil, err
		}
		if err := w.DB.PutControl(path, control); err != nil {
			return nil, nil, nil, err
		}
		if contents != nil {
			if err := w.DB.PutContents(path, contents); err != nil {
				return nil, nil, nil, err
			}
		}
	}
	return rec, control, contents, nil
}

// DoPackage processes one .deb file into the active outputs.
func (w *PackagesWriter) DoPackage(path string) error {
	rec, control, contents, err := w.lookup(path, w.Contents != nil)
	if err != nil {
		return err
	}
	sec, _, err := tagfile.Scan(control, true)
	if err != nil {
		return fmt.Errorf("ftparchive: control of %s: %w", path, err)
	}
	pkg, _ := sec.FindS("Package")
	if pkg == "" {
		return fmt.Errorf("ftparchive: %s has no Package field", path)
	}
	if w.Arch != "" {
		if arch, _ := sec.FindS("Architecture"); arch != "" && arch != "all" && arch != w.Arch {
			return nil
		}
	}

	over := w.Over.Get(pkg)
	hashes := rec.Hashes()

	filename := path
	if w.PathPrefix != "" {
		filename = strings.TrimSuffix(w.PathPrefix, "/") + "/" + strings.TrimPrefix(path, "./")
	}

	rewrites := []tagfile.Rewrite{
		{Tag: "Filename", Op: tagfile.OpRewrite, Data: filename},
		{Tag: "Size", Op: tagfile.OpRewrite, Data: strconv.FormatInt(rec.Size, 10)},
		{Tag: "Status", Op: tagfile.OpRemove},
		{Tag: "Optional", Op: tagfile.OpRemove},
	}
	for _, h := range hashes.Entries() {
		switch h.Type() {
		case aptcore.MD5Sum:
			rewrites = append(rewrites, tagfile.Rewrite{Tag: "MD5sum", Op: tagfile.OpRewrite, Data: h.Value()})
		case aptcore.FileSize:
			// Size is written from the stat record.
		default:
			rewrites = append(rewrites, tagfile.Rewrite{Tag: h.Type(), Op: tagfile.OpRewrite, Data: h.Value()})
		}
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

	// Description handling: the translation stream carries the long
	// description deduplicated by (package, md5) and the Packages
	// paragraph gains Description-md5; the long description stays in
	// the paragraph unless LongDesc is off, which cuts it to its first
	// line.
	if w.Trans != nil {
		if desc, ok := sec.FindRaw("Description"); ok {
			sum := md5.Sum([]byte(firstLineRest(desc)))
			digest := hex.EncodeToString(sum[:])
			if err := w.Trans.Add(pkg, digest, desc); err != nil {
				return err
			}
			rewrites = append(rewrites, tagfile.Rewrite{Tag: "Description-md5", Op: tagfile.OpRewrite, Data: digest})
			if !w.LongDesc {
				rewrites = append(rewrites, tagfile.Rewrite{Tag: "Description", Op: tagfile.OpRewrite, Data: firstLine(desc)})
			}
		}
	}

	if err := sec.Write(w.Out, packageOrder, rewrites); err != nil {
		return err
	}
	if _, err := io.WriteString(w.Out, "\n"); err != nil {
		return err
	}

	if w.Contents != nil && contents != nil {
		section, _ := sec.FindS("Section")
		w.Contents.AddPackage(qualifiedName(section, pkg), contents)
	}

	w.Stats.Packages++
	w.Stats.Bytes += rec.Size
	return nil
}

// firstLine returns the synopsis line of a description.
func firstLine(desc string) string {
	if i := strings.IndexByte(desc, '\n'); i != -1 {
		return desc[:i]
	}
	return desc
}

// firstLineRest returns the long part used for the digest: everything
// including the synopsis, continuation prefixes stripped.
func firstLineRest(desc string) string {
	lines := strings.Split(desc, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimPrefix(l, " ")
	}
	return strings.Join(lines, "\n") + "\n"
}

// qualifiedName renders section/package the way Contents files expect.
func qualifiedName(section, pkg string) string {
	if section == "" {
		return pkg
	}
	return section + "/" + pkg
}
