// Package copym implements the copy acquire method: local file to
// local file with hashing and mtime transfer.
package copym

import (
	"context"
	"fmt"
	"os"

	"github.com/aptutil/aptcore"
	"github.com/aptutil/aptcore/method"
	"github.com/aptutil/aptcore/pkg/buffile"
)

// Copy is the handler.
type Copy struct{}

var _ method.Handler = (*Copy)(nil)

// New returns the handler.
func New() *Copy { return &Copy{} }

// Fetch implements method.Handler.
func (c *Copy) Fetch(ctx context.Context, m *method.Method, item *method.FetchItem) error {
	src := item.URI.Path
	fi, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", method.ErrNotFound, src, err)
	}
	m.URIStart(item, fi.Size(), fi.ModTime(), 0)

	// Same file: only hash it.
	if src != item.DestFile {
		in, err := buffile.Open(src, buffile.ReadOnly, buffile.ModeNone, 0)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := buffile.Open(item.DestFile, buffile.Atomic|buffile.DelOnFail, buffile.ModeNone, 0o644)
		if err != nil {
			return err
		}
		if err := buffile.CopyFile(in, out); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
		if err := buffile.TransferModificationTimes(src, item.DestFile); err != nil {
			return err
		}
	}

	hashes, err := aptcore.HashFile(item.DestFile)
	if err != nil {
		return err
	}
	if !item.Expected.Empty() && !item.Expected.Equal(&hashes) {
		os.Remove(item.DestFile)
		return fmt.Errorf("%w: %s", method.ErrHashMismatch, src)
	}
	res := &method.FetchResult{
		Filename:     item.DestFile,
		Size:         fi.Size(),
		LastModified: fi.ModTime(),
		Hashes:       hashes,
	}
	m.URIDone(item, res)
	return nil
}
