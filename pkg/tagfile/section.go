// Package tagfile reads and writes the "Field: value" paragraph format
// used by every metadata file the toolkit consumes or emits.
package tagfile

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aptutil/aptcore/pkg/config"
)

// MaxTagCount is the ceiling on fields per section.
const MaxTagCount = 1024

// Errors reported by the scanner.
var (
	ErrSectionTooLarge = errors.New("tagfile: section exceeds maximum field count")
	ErrBadTagLine      = errors.New("tagfile: malformed tag line")
)

// tagPos indexes one field inside the section's byte view.
type tagPos struct {
	tagStart   int // first byte of the tag name
	valueStart int // first byte after the ':' and leading blanks
	nextTag    int // first byte of the following field (or section end)
}

// Section is an immutable view into a single paragraph. Field name
// matching is ASCII-case-insensitive.
type Section struct {
	data []byte
	tags []tagPos
}

// Scan indexes the paragraph at the start of data. When mayBePartial is
// set, data without a terminating blank line is accepted as a full
// section; otherwise such data is rejected with an error. Scanning
// stops at the first paragraph boundary.
// The returned length is the number of bytes consumed including the
// boundary.
func Scan(data []byte, mayBePartial bool) (*Section, int, error) {
	end, boundary := findSectionEnd(data)
	if end == -1 {
		if !mayBePartial {
			return nil, 0, fmt.Errorf("tagfile: no paragraph terminator found")
		}
		end = len(data)
		boundary = 0
	}
	body := data[:end]
	s := &Section{data: body}

	i := 0
	for i < len(body) {
		lineEnd := bytes.IndexByte(body[i:], '\n')
		if lineEnd == -1 {
			lineEnd = len(body) - i
		}
		line := body[i : i+lineEnd]
		switch {
		case len(line) == 0 || line[0] == ' ' || line[0] == '\t':
			// continuation of the previous field
			if len(s.tags) == 0 {
				return nil, 0, fmt.Errorf("%w: continuation before any tag", ErrBadTagLine)
			}
		default:
			colon := bytes.IndexByte(line, ':')
			if colon == -1 {
				return nil, 0, fmt.Errorf("%w: %q", ErrBadTagLine, string(line))
			}
			if len(s.tags) >= MaxTagCount {
				return nil, 0, ErrSectionTooLarge
			}
			vs := i + colon + 1
			for vs < i+lineEnd && (body[vs] == ' ' || body[vs] == '\t') {
				vs++
			}
			if n := len(s.tags); n > 0 {
				s.tags[n-1].nextTag = i
			}
			s.tags = append(s.tags, tagPos{tagStart: i, valueStart: vs, nextTag: len(body)})
		}
		i += lineEnd + 1
	}
	return s, end + boundary, nil
}

// findSectionEnd locates the first paragraph boundary: "\n\n",
// "\r\n\r\n" or "\n\r\n". It returns the body length and the boundary
// width, or (-1, 0).
func findSectionEnd(data []byte) (int, int) {
	for i := 0; i < len(data); i++ {
		if data[i] != '\n' {
			continue
		}
		rest := data[i+1:]
		switch {
		case bytes.HasPrefix(rest, []byte("\r\n")):
			return i + 1, 2
		case bytes.HasPrefix(rest, []byte("\n")):
			return i + 1, 1
		}
	}
	return -1, 0
}

// Bytes returns the raw section body.
func (s *Section) Bytes() []byte { return s.data }

// Count returns the number of fields indexed. Later duplicates are
// counted but shadowed for retrieval.
func (s *Section) Count() int { return len(s.tags) }

// find returns the index of the first field named tag.
func (s *Section) find(tag string) (tagPos, bool) {
	for _, p := range s.tags {
		name := s.tagName(p)
		if strings.EqualFold(name, tag) {
			return p, true
		}
	}
	return tagPos{}, false
}

func (s *Section) tagName(p tagPos) string {
	line := s.data[p.tagStart:]
	colon := bytes.IndexByte(line, ':')
	if colon == -1 {
		return ""
	}
	return string(line[:colon])
}

// Key returns the name of the n-th field, in parse order.
func (s *Section) Key(n int) string {
	if n < 0 || n >= len(s.tags) {
		return ""
	}
	return s.tagName(s.tags[n])
}

// Exists reports whether the field is present.
func (s *Section) Exists(tag string) bool {
	_, ok := s.find(tag)
	return ok
}

// FindRaw returns the value bytes with continuation-line prefixes
// intact, without the trailing newline.
func (s *Section) FindRaw(tag string) (string, bool) {
	p, ok := s.find(tag)
	if !ok {
		return "", false
	}
	raw := s.data[p.valueStart:p.nextTag]
	raw = bytes.TrimRight(raw, "\r\n")
	return string(raw), true
}

// FindS returns the textual value: leading blanks after the colon and
// trailing CR/LF on each physical line stripped, continuation layout
// preserved.
func (s *Section) FindS(tag string) (string, bool) {
	raw, ok := s.FindRaw(tag)
	if !ok {
		return "", false
	}
	lines := strings.Split(raw, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, "\r")
	}
	return strings.Join(lines, "\n"), true
}

// FindU64 parses the field as base-10. Absent fields yield def;
// malformed values report ok=false.
func (s *Section) FindU64(tag string, def uint64) (uint64, bool) {
	v, present := s.FindS(tag)
	if !present {
		return def, true
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return def, false
	}
	return n, true
}

// FindI is FindU64 for signed ints.
func (s *Section) FindI(tag string, def int) (int, bool) {
	v, present := s.FindS(tag)
	if !present {
		return def, true
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def, false
	}
	return n, true
}

// FindFlag sets or clears bit in flags according to the boolean
// vocabulary of the field value. Unrecognized words leave flags alone
// and report false.
func (s *Section) FindFlag(tag string, flags *uint, bit uint) bool {
	v, present := s.FindS(tag)
	if !present {
		return true
	}
	b, ok := config.ParseBool(strings.TrimSpace(v))
	if !ok {
		return false
	}
	if b {
		*flags |= bit
	} else {
		*flags &^= bit
	}
	return true
}
