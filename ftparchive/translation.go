package ftparchive

import (
	"fmt"
	"io"
)

// TranslationWriter emits the Translation-master stream: one paragraph
// per unique (package, description digest) pair.
type TranslationWriter struct {
	Out  io.Writer
	seen map[string]bool
}

// NewTranslationWriter wires the writer; a nil out suppresses output
// while still deduplicating digests for the Packages stream.
func NewTranslationWriter(out io.Writer) *TranslationWriter {
	return &TranslationWriter{Out: out, seen: make(map[string]bool)}
}

// Add records one description; duplicates are dropped.
func (t *TranslationWriter) Add(pkg, digest, desc string) error {
	key := pkg + "\x00" + digest
	if t.seen[key] {
		return nil
	}
	t.seen[key] = true
	if t.Out == nil {
		return nil
	}
	_, err := fmt.Fprintf(t.Out, "Package: %s\nDescription-md5: %s\nDescription-en: %s\n\n", pkg, digest, desc)
	return err
}
