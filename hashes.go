package aptcore

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"
	"os"
	"strconv"
	"strings"
)

// Hash type names as they appear in index files and the acquire protocol.
const (
	MD5Sum   = "MD5Sum"
	SHA1     = "SHA1"
	SHA256   = "SHA256"
	SHA512   = "SHA512"
	FileSize = "Checksum-FileSize"
)

// HashTypes lists the supported hash types, strongest first. FileSize is a
// pseudo-hash and is deliberately not part of this list.
var HashTypes = []string{SHA512, SHA256, SHA1, MD5Sum}

// weakTypes are computable but do not make a HashStringList usable on
// their own.
var weakTypes = map[string]bool{
	MD5Sum: true,
	SHA1:   true,
}

// HashString is a single (type, value) hash pair. The value is lowercase
// hex, or a decimal byte count for the Checksum-FileSize pseudo-hash.
type HashString struct {
	typ   string
	value string
}

// NewHashString constructs a HashString from a known type and value.
// The value is lowercased; no length validation is performed so that
// truncated values from untrusted input surface as verification failures
// rather than parse errors.
func NewHashString(typ, value string) HashString {
	return HashString{typ: typ, value: strings.ToLower(value)}
}

// ParseHashString parses the "Type:value" serialization.
func ParseHashString(s string) (HashString, error) {
	i := strings.IndexByte(s, ':')
	if i == -1 {
		return HashString{}, fmt.Errorf("aptcore: invalid hash string %q", s)
	}
	typ := s[:i]
	if !supportedHashType(typ) {
		return HashString{}, fmt.Errorf("aptcore: unsupported hash type %q", typ)
	}
	return NewHashString(typ, s[i+1:]), nil
}

func supportedHashType(typ string) bool {
	if typ == FileSize {
		return true
	}
	for _, t := range HashTypes {
		if t == typ {
			return true
		}
	}
	return false
}

// Type returns the hash type name.
func (h HashString) Type() string { return h.typ }

// Value returns the hash value.
func (h HashString) Value() string { return h.value }

// Empty reports whether the HashString carries no value.
func (h HashString) Empty() bool { return h.typ == "" || h.value == "" }

func (h HashString) String() string { return h.typ + ":" + h.value }

// Equal compares type and value; hex comparison is case-insensitive.
func (h HashString) Equal(o HashString) bool {
	return h.typ == o.typ && strings.EqualFold(h.value, o.value)
}

// Usable reports whether this hash alone satisfies integrity requirements.
func (h HashString) Usable() bool {
	return !h.Empty() && h.typ != FileSize && !weakTypes[h.typ]
}

// newHash returns a fresh hash.Hash for the type, or nil for the
// FileSize pseudo-hash.
func (h HashString) newHash() hash.Hash {
	switch h.typ {
	case MD5Sum:
		return md5.New()
	case SHA1:
		return sha1.New()
	case SHA256:
		return sha256.New()
	case SHA512:
		return sha512.New()
	}
	return nil
}

// VerifyFile computes this hash over the named file and compares.
func (h HashString) VerifyFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	if h.typ == FileSize {
		fi, err := f.Stat()
		if err != nil {
			return false, err
		}
		return strconv.FormatInt(fi.Size(), 10) == h.value, nil
	}
	hh := h.newHash()
	if hh == nil {
		return false, fmt.Errorf("aptcore: unsupported hash type %q", h.typ)
	}
	if _, err := io.Copy(hh, f); err != nil {
		return false, err
	}
	return strings.EqualFold(fmt.Sprintf("%x", hh.Sum(nil)), h.value), nil
}

// HashStringList is an ordered set of hashes with at most one entry per
// type.
type HashStringList struct {
	list []HashString
}

// Push adds a hash, replacing any existing entry of the same type.
// Pushing an empty HashString is a no-op and reports false.
func (l *HashStringList) Push(h HashString) bool {
	if h.Empty() || !supportedHashType(h.typ) {
		return false
	}
	for i := range l.list {
		if l.list[i].typ == h.typ {
			l.list[i] = h
			return true
		}
	}
	l.list = append(l.list, h)
	return true
}

// Find returns the entry for the given type, or the entry for the
// strongest present hash when typ is empty.
func (l *HashStringList) Find(typ string) (HashString, bool) {
	if typ == "" {
		for _, want := range HashTypes {
			for _, h := range l.list {
				if h.typ == want {
					return h, true
				}
			}
		}
		return HashString{}, false
	}
	for _, h := range l.list {
		if h.typ == typ {
			return h, true
		}
	}
	return HashString{}, false
}

// FileSize returns the recorded size pseudo-hash, or -1 when absent.
func (l *HashStringList) FileSize() int64 {
	h, ok := l.Find(FileSize)
	if !ok {
		return -1
	}
	n, err := strconv.ParseInt(h.value, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// PushSize records the file size pseudo-hash.
func (l *HashStringList) PushSize(n int64) {
	l.Push(HashString{typ: FileSize, value: strconv.FormatInt(n, 10)})
}

// Entries returns the hashes in insertion order.
func (l *HashStringList) Entries() []HashString { return l.list }

// Empty reports whether the list holds no hashes at all.
func (l *HashStringList) Empty() bool { return len(l.list) == 0 }

// Usable reports whether the list contains at least one strong hash.
// A file size alone never makes a list usable. The force set names
// additional types (from Acquire::ForceHash) treated as strong.
func (l *HashStringList) Usable(force ...string) bool {
	forced := make(map[string]bool, len(force))
	for _, f := range force {
		forced[f] = true
	}
	for _, h := range l.list {
		if h.Usable() || (forced[h.typ] && h.typ != FileSize && !h.Empty()) {
			return true
		}
	}
	return false
}

// Equal reports whether both lists agree on every type they share and
// share at least one type.
func (l *HashStringList) Equal(o *HashStringList) bool {
	matched := false
	for _, a := range l.list {
		b, ok := o.Find(a.typ)
		if !ok {
			continue
		}
		if !a.Equal(b) {
			return false
		}
		matched = true
	}
	return matched
}

// VerifyFile hashes the file once and compares every entry in the list.
func (l *HashStringList) VerifyFile(path string) (bool, error) {
	if l.Empty() {
		return false, fmt.Errorf("aptcore: no hashes to verify %s against", path)
	}
	h := NewMultiHasherForList(l)
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	got := h.Result()
	return l.Equal(&got), nil
}

func (l *HashStringList) String() string {
	parts := make([]string, len(l.list))
	for i, h := range l.list {
		parts[i] = h.String()
	}
	return strings.Join(parts, ",")
}

// Hash selection bits for MultiHasher.
const (
	HashMD5 uint = 1 << iota
	HashSHA1
	HashSHA256
	HashSHA512
	HashAll = HashMD5 | HashSHA1 | HashSHA256 | HashSHA512
)

// MultiHasher feeds one byte stream to a selected set of hashes and
// counts the bytes consumed. The zero value is not usable; construct
// with NewMultiHasher or NewMultiHasherForList.
//
// Identical bytes produce identical results regardless of chunking.
type MultiHasher struct {
	md5    hash.Hash
	sha1   hash.Hash
	sha256 hash.Hash
	sha512 hash.Hash
	size   int64
}

var _ io.Writer = (*MultiHasher)(nil)

// NewMultiHasher enables the hashes selected by the bit mask.
func NewMultiHasher(mask uint) *MultiHasher {
	h := &MultiHasher{}
	if mask&HashMD5 != 0 {
		h.md5 = md5.New()
	}
	if mask&HashSHA1 != 0 {
		h.sha1 = sha1.New()
	}
	if mask&HashSHA256 != 0 {
		h.sha256 = sha256.New()
	}
	if mask&HashSHA512 != 0 {
		h.sha512 = sha512.New()
	}
	return h
}

// NewMultiHasherForList enables only the hash types present in the list.
// Size is always tracked.
func NewMultiHasherForList(l *HashStringList) *MultiHasher {
	var mask uint
	for _, h := range l.Entries() {
		switch h.Type() {
		case MD5Sum:
			mask |= HashMD5
		case SHA1:
			mask |= HashSHA1
		case SHA256:
			mask |= HashSHA256
		case SHA512:
			mask |= HashSHA512
		}
	}
	return NewMultiHasher(mask)
}

// Write implements io.Writer; it never fails.
func (m *MultiHasher) Write(p []byte) (int, error) {
	for _, h := range []hash.Hash{m.md5, m.sha1, m.sha256, m.sha512} {
		if h != nil {
			h.Write(p)
		}
	}
	m.size += int64(len(p))
	return len(p), nil
}

// AddFD streams from r into the hasher. A negative limit means
// unlimited. Returns the byte count consumed.
func (m *MultiHasher) AddFD(r io.Reader, limit int64) (int64, error) {
	if limit >= 0 {
		r = io.LimitReader(r, limit)
	}
	return io.Copy(m, r)
}

// Size returns the number of bytes hashed so far.
func (m *MultiHasher) Size() int64 { return m.size }

// Result snapshots the enabled sums plus the Checksum-FileSize entry.
// The hasher remains usable for further writes.
func (m *MultiHasher) Result() HashStringList {
	var l HashStringList
	if m.md5 != nil {
		l.Push(NewHashString(MD5Sum, fmt.Sprintf("%x", m.md5.Sum(nil))))
	}
	if m.sha1 != nil {
		l.Push(NewHashString(SHA1, fmt.Sprintf("%x", m.sha1.Sum(nil))))
	}
	if m.sha256 != nil {
		l.Push(NewHashString(SHA256, fmt.Sprintf("%x", m.sha256.Sum(nil))))
	}
	if m.sha512 != nil {
		l.Push(NewHashString(SHA512, fmt.Sprintf("%x", m.sha512.Sum(nil))))
	}
	l.PushSize(m.size)
	return l
}

// HashFile hashes the named file with every supported hash.
func HashFile(path string) (HashStringList, error) {
	f, err := os.Open(path)
	if err != nil {
		return HashStringList{}, err
	}
	defer f.Close()
	h := NewMultiHasher(HashAll)
	if _, err := io.Copy(h, f); err != nil {
		return HashStringList{}, err
	}
	return h.Result(), nil
}
