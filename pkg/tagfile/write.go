package tagfile

import (
	"fmt"
	"io"
	"strings"
)

// RewriteOp says what to do with one tag while re-emitting a section.
type RewriteOp int

const (
	// OpRewrite replaces the value; an empty value removes the field.
	// Tags absent from the parse are appended with the new value.
	OpRewrite RewriteOp = iota
	// OpRename keeps the value under a new name.
	OpRename
	// OpRemove drops the field.
	OpRemove
)

// Rewrite is one (tag, operation) pair for Write.
type Rewrite struct {
	Tag  string
	Op   RewriteOp
	Data string // new value for OpRewrite, new name for OpRename
}

// Write re-emits the section. Fields named in order come first (those
// not present are skipped), then the remaining fields in parse order.
// Each paragraph ends with exactly one terminating newline written by
// the caller between sections; Write itself emits "Name: value\n" per
// field with multi-line values verbatim.
func (s *Section) Write(out io.Writer, order []string, rewrites []Rewrite) error {
	type job struct {
		name  string
		value string
	}
	byTag := func(tag string) *Rewrite {
		for i := range rewrites {
			if strings.EqualFold(rewrites[i].Tag, tag) {
				return &rewrites[i]
			}
		}
		return nil
	}

	emit := func(name, value string) error {
		// A value that opens with its own newline (continuation-only
		// fields) gets no separating space after the colon.
		if strings.HasPrefix(value, "\n") {
			_, err := fmt.Fprintf(out, "%s:%s\n", name, value)
			return err
		}
		_, err := fmt.Fprintf(out, "%s: %s\n", name, value)
		return err
	}

	resolve := func(tag string) (job, bool) {
		value, present := s.FindRaw(tag)
		rw := byTag(tag)
		if rw == nil {
			if !present {
				return job{}, false
			}
			return job{name: s.properName(tag), value: value}, true
		}
		switch rw.Op {
		case OpRemove:
			return job{}, false
		case OpRename:
			if !present {
				return job{}, false
			}
			return job{name: rw.Data, value: value}, true
		case OpRewrite:
			if rw.Data == "" {
				return job{}, false
			}
			return job{name: s.properName(tag), value: rw.Data}, true
		}
		return job{}, false
	}

	done := make(map[string]bool)
	for _, tag := range order {
		key := strings.ToLower(tag)
		if done[key] {
			continue
		}
		done[key] = true
		j, ok := resolve(tag)
		if !ok {
			continue
		}
		if err := emit(j.name, j.value); err != nil {
			return err
		}
	}
	for i := 0; i < s.Count(); i++ {
		tag := s.Key(i)
		key := strings.ToLower(tag)
		if done[key] {
			continue
		}
		done[key] = true
		j, ok := resolve(tag)
		if !ok {
			continue
		}
		if err := emit(j.name, j.value); err != nil {
			return err
		}
	}
	// Rewrites that add brand-new fields not named in order.
	for _, rw := range rewrites {
		key := strings.ToLower(rw.Tag)
		if done[key] || rw.Op != OpRewrite || rw.Data == "" || s.Exists(rw.Tag) {
			continue
		}
		done[key] = true
		if err := emit(rw.Tag, rw.Data); err != nil {
			return err
		}
	}
	return nil
}

// properName returns the field name in its parsed capitalization.
func (s *Section) properName(tag string) string {
	for i := 0; i < s.Count(); i++ {
		if k := s.Key(i); strings.EqualFold(k, tag) {
			return k
		}
	}
	return tag
}
