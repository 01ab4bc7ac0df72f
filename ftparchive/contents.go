package ftparchive

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// contentsNode is one level of the pathname tree: children are keyed
// by directory segment, and each terminal path carries the chain of
// packages sharing it.
type contentsNode struct {
	children map[string]*contentsNode
	packages []string
}

// ContentsWriter accumulates the path->packages mapping and writes it
// sorted by in-order traversal.
type ContentsWriter struct {
	root  contentsNode
	Files int
}

// NewContentsWriter returns an empty writer.
func NewContentsWriter() *ContentsWriter {
	return &ContentsWriter{}
}

// AddPackage records every path of the listing for the package.
func (c *ContentsWriter) AddPackage(pkg string, listing []byte) {
	for _, line := range strings.Split(string(listing), "\n") {
		if line == "" {
			continue
		}
		c.add(pkg, line)
	}
}

func (c *ContentsWriter) add(pkg, path string) {
	node := &c.root
	for _, seg := range strings.Split(path, "/") {
		if node.children == nil {
			node.children = make(map[string]*contentsNode)
		}
		next, ok := node.children[seg]
		if !ok {
			next = &contentsNode{}
			node.children[seg] = next
		}
		node = next
	}
	for _, p := range node.packages {
		if p == pkg {
			return
		}
	}
	if len(node.packages) == 0 {
		c.Files++
	}
	node.packages = append(node.packages, pkg)
}

// Finish writes the listing: one "path<tab>pkg1,pkg2" line per path,
// sorted.
func (c *ContentsWriter) Finish(out io.Writer) error {
	return c.walk(out, &c.root, nil)
}

func (c *ContentsWriter) walk(out io.Writer, node *contentsNode, segs []string) error {
	if len(node.packages) > 0 {
		path := strings.Join(segs, "/")
		if _, err := fmt.Fprintf(out, "%s\t%s\n", path, strings.Join(node.packages, ",")); err != nil {
			return err
		}
	}
	keys := make([]string, 0, len(node.children))
	for k := range node.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := c.walk(out, node.children[k], append(segs, k)); err != nil {
			return err
		}
	}
	return nil
}
