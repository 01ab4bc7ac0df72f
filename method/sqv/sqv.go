// Package sqv implements the signature-verification acquire method:
// the fetched "file" is a clearsigned document that is split, verified
// against the trust store, and delivered as its payload.
package sqv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aptutil/aptcore"
	"github.com/aptutil/aptcore/method"
	"github.com/aptutil/aptcore/pkg/clearsign"
)

// SQV is the handler.
type SQV struct{}

var _ method.Handler = (*SQV)(nil)

// New returns the handler.
func New() *SQV { return &SQV{} }

// Fetch implements method.Handler. The item URI names the local
// clearsigned file; the Signed-By restriction is read from the
// configuration key Acquire::Verify::Signed-By.
func (s *SQV) Fetch(ctx context.Context, m *method.Method, item *method.FetchItem) error {
	src := item.URI.Path
	fi, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", method.ErrNotFound, src, err)
	}
	m.URIStart(item, fi.Size(), fi.ModTime(), 0)

	v := clearsign.NewVerifier(m.Config)
	signedBy := m.Config.Find("Acquire::Verify::Signed-By")
	payload, signers, err := v.VerifyClearsigned(ctx, src, signedBy)
	if err != nil {
		if errors.Is(err, clearsign.ErrNoKeyring) {
			return err
		}
		return fmt.Errorf("signature verification of %s failed: %w", src, err)
	}
	defer os.Remove(payload)

	// Deliver the verified payload as the destination file.
	in, err := os.Open(payload)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(item.DestFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	hasher := aptcore.NewMultiHasher(aptcore.HashAll)
	if _, err := io.Copy(io.MultiWriter(out, hasher), in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	res := &method.FetchResult{
		Filename:     item.DestFile,
		Size:         hasher.Size(),
		LastModified: fi.ModTime(),
	}
	res.TakeHashes(hasher)
	for _, signer := range signers {
		m.Log("Good signature from %s", signer)
	}
	m.URIDone(item, res)
	return nil
}
