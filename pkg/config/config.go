// Package config implements the hierarchical key/value tree consumed by
// acquire methods and the archive writers.
//
// Keys are "::"-separated paths ("Acquire::http::Timeout"); a trailing
// "::" addresses an anonymous list child. Lookups are
// case-insensitive on each path segment.
package config

import (
	"strconv"
	"strings"
)

// Item is one node of the configuration tree.
type Item struct {
	Tag      string
	Value    string
	children []*Item
}

// Tree is the root of a configuration tree. The zero value is an empty
// tree ready for use.
type Tree struct {
	root Item
}

// New returns an empty tree.
func New() *Tree { return &Tree{} }

func splitKey(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, "::")
}

// lookup walks the tree; when create is set missing nodes are added.
// An empty trailing segment creates a fresh anonymous list entry.
func (t *Tree) lookup(key string, create bool) *Item {
	cur := &t.root
	segs := splitKey(key)
	for i, seg := range segs {
		if seg == "" && i == len(segs)-1 {
			if !create {
				return nil
			}
			n := &Item{}
			cur.children = append(cur.children, n)
			return n
		}
		var next *Item
		for _, c := range cur.children {
			if strings.EqualFold(c.Tag, seg) {
				next = c
				break
			}
		}
		if next == nil {
			if !create {
				return nil
			}
			next = &Item{Tag: seg}
			cur.children = append(cur.children, next)
		}
		cur = next
	}
	return cur
}

// Set stores a value, creating intermediate nodes.
func (t *Tree) Set(key, value string) {
	t.lookup(key, true).Value = value
}

// Exists reports whether a node for key is present.
func (t *Tree) Exists(key string) bool {
	return t.lookup(key, false) != nil
}

// Find returns the value for key, or def when absent or empty.
func (t *Tree) Find(key string, def ...string) string {
	d := ""
	if len(def) > 0 {
		d = def[0]
	}
	n := t.lookup(key, false)
	if n == nil || n.Value == "" {
		return d
	}
	return n.Value
}

// FindB interprets the value as a boolean.
func (t *Tree) FindB(key string, def ...bool) bool {
	d := false
	if len(def) > 0 {
		d = def[0]
	}
	n := t.lookup(key, false)
	if n == nil || n.Value == "" {
		return d
	}
	b, ok := ParseBool(n.Value)
	if !ok {
		return d
	}
	return b
}

// FindI interprets the value as a base-10 integer.
func (t *Tree) FindI(key string, def ...int) int {
	d := 0
	if len(def) > 0 {
		d = def[0]
	}
	n := t.lookup(key, false)
	if n == nil || n.Value == "" {
		return d
	}
	v, err := strconv.Atoi(n.Value)
	if err != nil {
		return d
	}
	return v
}

// FindDir returns the value with a guaranteed trailing slash.
func (t *Tree) FindDir(key string, def ...string) string {
	v := t.Find(key, def...)
	if v != "" && !strings.HasSuffix(v, "/") {
		v += "/"
	}
	return v
}

// List returns the values of the node's children in insertion order:
// the subtree as a list.
func (t *Tree) List(key string) []string {
	n := t.lookup(key, false)
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c.Value)
	}
	return out
}

// ListTags returns the tags of the node's children.
func (t *Tree) ListTags(key string) []string {
	n := t.lookup(key, false)
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c.Tag)
	}
	return out
}

// Clear removes the node and its subtree.
func (t *Tree) Clear(key string) {
	segs := splitKey(key)
	if len(segs) == 0 {
		t.root = Item{}
		return
	}
	parent := &t.root
	if len(segs) > 1 {
		parent = t.lookup(strings.Join(segs[:len(segs)-1], "::"), false)
		if parent == nil {
			return
		}
	}
	tag := segs[len(segs)-1]
	kept := parent.children[:0]
	for _, c := range parent.children {
		if !strings.EqualFold(c.Tag, tag) {
			kept = append(kept, c)
		}
	}
	parent.children = kept
}

// ParseBool recognizes the apt boolean vocabulary. The second return
// reports whether the word was recognized at all.
func ParseBool(s string) (value, ok bool) {
	switch strings.ToLower(s) {
	case "yes", "true", "1", "with", "on", "enable":
		return true, true
	case "no", "false", "0", "without", "off", "disable":
		return false, true
	}
	return false, false
}
