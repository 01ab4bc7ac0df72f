package ftparchive

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/aptutil/aptcore/pkg/buffile"
	"github.com/aptutil/aptcore/pkg/config"
)

// MultiCompress fans one uncompressed input stream out to several
// codec outputs at once, hashing the canonical bytes with MD5. On
// Finish, outputs whose content is unchanged from the files already on
// disk keep their old mtime; only changed files are replaced.
type MultiCompress struct {
	base  string
	cfg   *config.Tree
	perm  os.FileMode
	outs  []*mcOutput
	md5   hash.Hash
	pipes []*io.PipeWriter
	grp   *errgroup.Group
}

type mcOutput struct {
	comp    Compressor
	path    string
	tmpPath string
}

// Compressor re-exported for callers selecting output codecs by name.
type Compressor = buffile.Compressor

// NewMultiCompress opens outputs for base+ext per the space-separated
// codec name list ("." names the identity entry).
func NewMultiCompress(cfg *config.Tree, base, codecs string, perm os.FileMode) (*MultiCompress, error) {
	m := &MultiCompress{base: base, cfg: cfg, perm: perm, md5: md5.New()}
	var grp errgroup.Group
	m.grp = &grp

	for _, name := range strings.Fields(codecs) {
		comp, ok := buffile.FindCompressor(cfg, name)
		if !ok {
			return nil, fmt.Errorf("ftparchive: unknown compressor %q", name)
		}
		out := &mcOutput{comp: comp, path: base + comp.Extension, tmpPath: base + comp.Extension + ".new"}
		pr, pw := io.Pipe()
		m.pipes = append(m.pipes, pw)
		m.outs = append(m.outs, out)

		o := out
		grp.Go(func() error {
			var fd *buffile.File
			var err error
			if mode, ok := buffile.ModeForName(o.comp.Name); ok {
				fd, err = buffile.Open(o.tmpPath, buffile.WriteOnly|buffile.Create|buffile.Empty|buffile.BufferedWrite|buffile.DelOnFail, mode, perm)
			} else {
				fd, err = buffile.OpenCompressor(o.tmpPath, buffile.WriteOnly|buffile.Create|buffile.Empty|buffile.BufferedWrite|buffile.DelOnFail, o.comp, perm)
			}
			if err != nil {
				pr.CloseWithError(err)
				return err
			}
			if _, err := io.Copy(fd, pr); err != nil {
				fd.Close()
				pr.CloseWithError(err)
				return err
			}
			return fd.Close()
		})
	}
	return m, nil
}

// Write implements io.Writer over the canonical stream.
func (m *MultiCompress) Write(p []byte) (int, error) {
	m.md5.Write(p)
	for _, pw := range m.pipes {
		if _, err := pw.Write(p); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Finish closes the pipelines and installs outputs, skipping files
// whose bytes are unchanged so regeneration is idempotent.
func (m *MultiCompress) Finish() (changed bool, digest string, err error) {
	for _, pw := range m.pipes {
		pw.Close()
	}
	if err := m.grp.Wait(); err != nil {
		m.discard()
		return false, "", err
	}
	digest = hex.EncodeToString(m.md5.Sum(nil))

	for _, o := range m.outs {
		same, err := filesIdentical(o.tmpPath, o.path)
		if err != nil {
			m.discard()
			return false, "", err
		}
		if same {
			os.Remove(o.tmpPath)
			continue
		}
		if err := os.Rename(o.tmpPath, o.path); err != nil {
			m.discard()
			return false, "", err
		}
		changed = true
	}
	return changed, digest, nil
}

func (m *MultiCompress) discard() {
	for _, o := range m.outs {
		os.Remove(o.tmpPath)
	}
}

// filesIdentical compares two files byte for byte.
func filesIdentical(a, b string) (bool, error) {
	fa, err := os.Open(a)
	if err != nil {
		return false, err
	}
	defer fa.Close()
	fb, err := os.Open(b)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer fb.Close()
	ia, err := fa.Stat()
	if err != nil {
		return false, err
	}
	ib, err := fb.Stat()
	if err != nil {
		return false, err
	}
	if ia.Size() != ib.Size() {
		return false, nil
	}
	ba := make([]byte, 64*1024)
	bb := make([]byte, 64*1024)
	for {
		na, ea := io.ReadFull(fa, ba)
		nb, eb := io.ReadFull(fb, bb)
		if na != nb || string(ba[:na]) != string(bb[:nb]) {
			return false, nil
		}
		if ea != nil || eb != nil {
			return ea == eb || na == nb && na == 0, nil
		}
	}
}
