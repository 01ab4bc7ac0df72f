// Package store implements the transcode acquire method: the source is
// decompressed according to its extension and recompressed to match
// the destination's, hashing the canonical uncompressed bytes once.
//
// Installed under a codec name (gzip, bzip2, xz, zstd) the method
// forces that codec for whichever side has no recognizable extension,
// preserving the historic symlink behavior.
package store

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aptutil/aptcore"
	"github.com/aptutil/aptcore/method"
	"github.com/aptutil/aptcore/pkg/buffile"
)

// Store is the handler. Name is "store" or a codec name.
type Store struct {
	Name string
}

var _ method.Handler = (*Store)(nil)

// New returns a handler acting as the given method name.
func New(name string) *Store { return &Store{Name: name} }

// Fetch implements method.Handler.
func (s *Store) Fetch(ctx context.Context, m *method.Method, item *method.FetchItem) error {
	src := item.URI.Path
	fi, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", method.ErrNotFound, src, err)
	}
	m.URIStart(item, fi.Size(), fi.ModTime(), 0)

	inMode := buffile.ModeExtension
	if s.Name != "store" {
		// Under a codec alias, a source without extension is read with
		// the alias codec.
		if mode, ok := buffile.ModeForName(s.Name); ok && mode != buffile.ModeNone &&
			buffile.ResolveExtension(src) == buffile.ModeNone {
			inMode = mode
		}
	}
	in, err := buffile.OpenConfigured(m.Config, src, buffile.ReadOnly, inMode, 0)
	if err != nil {
		return err
	}
	defer in.Close()

	outMode := buffile.ModeExtension
	if s.Name != "store" {
		// Under a codec alias, a destination without extension gets
		// the alias codec.
		if mode, ok := buffile.ModeForName(s.Name); ok && mode != buffile.ModeNone &&
			buffile.ResolveExtension(item.DestFile) == buffile.ModeNone {
			outMode = mode
		}
	}
	out, err := buffile.OpenConfigured(m.Config, item.DestFile,
		buffile.Atomic|buffile.DelOnFail|buffile.BufferedWrite, outMode, 0o644)
	if err != nil {
		return err
	}

	hasher := aptcore.NewMultiHasher(aptcore.HashAll)
	buf := make([]byte, 64*1024)
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			hasher.Write(buf[:n])
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				return werr
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			out.Close()
			return rerr
		}
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := buffile.TransferModificationTimes(src, item.DestFile); err != nil {
		return err
	}

	res := &method.FetchResult{
		Filename:     item.DestFile,
		Size:         hasher.Size(),
		LastModified: fi.ModTime(),
	}
	res.TakeHashes(hasher)
	m.URIDone(item, res)
	return nil
}
