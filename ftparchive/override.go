package ftparchive

import (
	"bufio"
	"os"
	"strings"
)

// OverrideItem is one binary-override entry.
type OverrideItem struct {
	Priority    string
	Section     string
	OldMaint    string
	NewMaint    string
	FieldValues map[string]string // extra-override fields
}

// Override is a parsed override file pair.
type Override struct {
	entries map[string]*OverrideItem
}

// NewOverride returns an empty override set.
func NewOverride() *Override {
	return &Override{entries: make(map[string]*OverrideItem)}
}

// Get returns the entry for a package, or nil.
func (o *Override) Get(pkg string) *OverrideItem {
	return o.entries[pkg]
}

func (o *Override) item(pkg string) *OverrideItem {
	it, ok := o.entries[pkg]
	if !ok {
		it = &OverrideItem{FieldValues: make(map[string]string)}
		o.entries[pkg] = it
	}
	return it
}

// ReadOverride loads a binary override file:
//
//	package priority section [oldmaint => newmaint]
//
// Lines starting with '#' are comments.
func (o *Override) ReadOverride(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		it := o.item(fields[0])
		it.Priority = fields[1]
		it.Section = fields[2]
		if len(fields) > 3 {
			rest := strings.Join(fields[3:], " ")
			if i := strings.Index(rest, "=>"); i != -1 {
				it.OldMaint = strings.TrimSpace(rest[:i])
				it.NewMaint = strings.TrimSpace(rest[i+2:])
			} else {
				it.NewMaint = rest
			}
		}
	}
	return sc.Err()
}

// ReadExtraOverride loads an extra-override file:
//
//	package field value...
func (o *Override) ReadExtraOverride(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, " ", 3)
		if len(fields) < 3 {
			fields = strings.SplitN(line, "\t", 3)
			if len(fields) < 3 {
				continue
			}
		}
		it := o.item(strings.TrimSpace(fields[0]))
		it.FieldValues[strings.TrimSpace(fields[1])] = strings.TrimSpace(fields[2])
	}
	return sc.Err()
}

// SwapMaint applies the maintainer override to a current value.
func (it *OverrideItem) SwapMaint(cur string) (string, bool) {
	if it == nil || it.NewMaint == "" {
		return cur, false
	}
	if it.OldMaint == "" || it.OldMaint == cur {
		return it.NewMaint, true
	}
	return cur, false
}
