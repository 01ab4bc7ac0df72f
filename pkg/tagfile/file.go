package tagfile

import (
	"bytes"
	"errors"
	"io"
)

// SupportComments enables comment elision while scanning: lines whose
// first non-blank byte is '#' are dropped before paragraph assembly and
// a trailing "#…" on a value line is truncated. Purely-commented
// sections are skipped rather than yielded.
const SupportComments = 1 << 0

// File is a streaming reader yielding one Section per paragraph of a
// potentially very large multi-section stream.
type File struct {
	r     io.Reader
	flags uint
	buf   []byte
	off   int
	eof   bool
}

// NewFile wraps a reader. Pass SupportComments for files that may carry
// '#' comments (sources lists, override files).
func NewFile(r io.Reader, flags uint) *File {
	return &File{r: r, flags: flags}
}

const fillChunk = 32 * 1024

func (f *File) fill() error {
	if f.eof {
		return io.EOF
	}
	if f.off > 0 {
		f.buf = append(f.buf[:0], f.buf[f.off:]...)
		f.off = 0
	}
	chunk := make([]byte, fillChunk)
	n, err := f.r.Read(chunk)
	f.buf = append(f.buf, chunk[:n]...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		f.eof = true
		return nil
	}
	return err
}

// Step scans the next paragraph. At end of stream it returns
// (nil, io.EOF).
func (f *File) Step() (*Section, error) {
	for {
		data := f.buf[f.off:]
		// Skip leading blank lines between paragraphs.
		trimmed := 0
		for trimmed < len(data) && (data[trimmed] == '\n' || data[trimmed] == '\r') {
			trimmed++
		}
		data = data[trimmed:]

		end, _ := findSectionEnd(data)
		if end == -1 && !f.eof {
			if err := f.fill(); err != nil && !errors.Is(err, io.EOF) {
				return nil, err
			}
			continue
		}
		f.off += trimmed
		if len(data) == 0 {
			return nil, io.EOF
		}

		sec, consumed, err := f.scanAt(data)
		if err != nil {
			return nil, err
		}
		f.off += consumed
		if sec != nil {
			return sec, nil
		}
		if end == -1 {
			// Trailing paragraph was nothing but comments.
			return nil, io.EOF
		}
	}
}

// scanAt applies comment elision when enabled, then scans a section.
// A purely-commented paragraph yields (nil, consumed, nil).
func (f *File) scanAt(data []byte) (*Section, int, error) {
	if f.flags&SupportComments == 0 {
		return Scan(data, true)
	}
	end, boundary := findSectionEnd(data)
	if end == -1 {
		end = len(data)
		boundary = 0
	}
	raw := data[:end]
	cleaned := elideComments(raw)
	if len(bytes.TrimSpace(cleaned)) == 0 {
		return nil, end + boundary, nil
	}
	sec, _, err := Scan(cleaned, true)
	if err != nil {
		return nil, 0, err
	}
	return sec, end + boundary, nil
}

// elideComments drops '#'-led lines and truncates trailing inline
// comments on value lines.
func elideComments(data []byte) []byte {
	var out []byte
	for len(data) > 0 {
		nl := bytes.IndexByte(data, '\n')
		var line []byte
		if nl == -1 {
			line, data = data, nil
		} else {
			line, data = data[:nl+1], data[nl+1:]
		}
		stripped := bytes.TrimLeft(line, " \t")
		if len(stripped) > 0 && stripped[0] == '#' {
			continue
		}
		if i := bytes.IndexByte(line, '#'); i != -1 {
			out = append(out, bytes.TrimRight(line[:i], " \t")...)
			out = append(out, '\n')
			continue
		}
		out = append(out, line...)
	}
	return out
}
