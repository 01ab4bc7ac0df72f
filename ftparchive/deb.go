package ftparchive

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/blakesmith/ar"

	"github.com/aptutil/aptcore/pkg/buffile"
)

// debMemberMode maps a control/data member name to its codec.
func debMemberMode(name string) (buffile.CompressMode, bool) {
	switch {
	case strings.HasSuffix(name, ".tar"):
		return buffile.ModeNone, true
	case strings.HasSuffix(name, ".tar.gz"):
		return buffile.ModeGzip, true
	case strings.HasSuffix(name, ".tar.xz"):
		return buffile.ModeXz, true
	case strings.HasSuffix(name, ".tar.zst"):
		return buffile.ModeZstd, true
	case strings.HasSuffix(name, ".tar.bz2"):
		return buffile.ModeBzip2, true
	case strings.HasSuffix(name, ".tar.lzma"):
		return buffile.ModeLzma, true
	}
	return buffile.ModeNone, false
}

// ErrNotDeb reports a file that is not a Debian archive.
var ErrNotDeb = errors.New("ftparchive: not a debian archive")

// debArchive gives access to the members of one .deb file.
type debArchive struct {
	path string
}

// openMember positions a fresh reader at the named ar member family
// ("control" or "data") and returns a tar reader over its payload.
func (d *debArchive) openMember(prefix string) (*tar.Reader, func() error, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return nil, nil, err
	}
	rd := ar.NewReader(f)
	sawMagic := false
	for {
		hdr, err := rd.Next()
		if err != nil {
			f.Close()
			if errors.Is(err, io.EOF) {
				if !sawMagic {
					return nil, nil, fmt.Errorf("%w: %s", ErrNotDeb, d.path)
				}
				return nil, nil, fmt.Errorf("%w: %s has no %s member", ErrNotDeb, d.path, prefix)
			}
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrNotDeb, d.path, err)
		}
		name := strings.TrimSuffix(strings.TrimSpace(hdr.Name), "/")
		if name == "debian-binary" {
			sawMagic = true
			continue
		}
		if !strings.HasPrefix(name, prefix+".tar") {
			continue
		}
		mode, ok := debMemberMode(name)
		if !ok {
			f.Close()
			return nil, nil, fmt.Errorf("%w: unknown member compression in %s", ErrNotDeb, name)
		}
		dec, err := buffile.NewDecompressor(mode, rd)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		closer := func() error {
			dec.Close()
			return f.Close()
		}
		return tar.NewReader(dec), closer, nil
	}
}

// Control extracts the control paragraph from the .deb.
func (d *debArchive) Control() ([]byte, error) {
	tr, closer, err := d.openMember("control")
	if err != nil {
		return nil, err
	}
	defer closer()
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s has no control file", ErrNotDeb, d.path)
		}
		if err != nil {
			return nil, err
		}
		if path.Clean(hdr.Name) != "control" {
			continue
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, tr); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}

// Contents lists the data member's regular files, symlinks and hard
// links, one path per line, without a leading "./".
func (d *debArchive) Contents() ([]byte, error) {
	tr, closer, err := d.openMember("data")
	if err != nil {
		return nil, err
	}
	defer closer()
	var buf bytes.Buffer
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch hdr.Typeflag {
		case tar.TypeReg, tar.TypeSymlink, tar.TypeLink:
		default:
			continue
		}
		name := strings.TrimPrefix(path.Clean(hdr.Name), "./")
		if name == "" || name == "." {
			continue
		}
		buf.WriteString(name)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
