package aptcore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMultiHasherChunkingInvariance(t *testing.T) {
	data := make([]byte, 100000)
	for i := range data {
		data[i] = byte(i * 7)
	}
	whole := NewMultiHasher(HashAll)
	whole.Write(data)

	chunked := NewMultiHasher(HashAll)
	for _, n := range []int{1, 13, 4096, 99999 - 1 - 13 - 4096} {
		chunked.Write(data[:n])
		data = data[n:]
	}
	chunked.Write(data)

	a, b := whole.Result(), chunked.Result()
	if !a.Equal(&b) {
		t.Errorf("chunked hashing diverged:\n%s\n%s", a.String(), b.String())
	}
	if a.FileSize() != 100000 {
		t.Errorf("size pseudo-hash = %d, want 100000", a.FileSize())
	}
}

func TestMultiHasherForList(t *testing.T) {
	var want HashStringList
	want.Push(NewHashString(SHA256, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"))

	h := NewMultiHasherForList(&want)
	got := h.Result()
	if _, ok := got.Find(SHA256); !ok {
		t.Error("SHA256 missing from result")
	}
	if _, ok := got.Find(MD5Sum); ok {
		t.Error("MD5 tracked although not requested")
	}
	if !want.Equal(&got) {
		t.Errorf("empty-input SHA256 mismatch: %s", got.String())
	}
}

func TestHashStringListUsable(t *testing.T) {
	var l HashStringList
	if l.Usable() {
		t.Error("empty list reported usable")
	}
	l.PushSize(42)
	if l.Usable() {
		t.Error("file size alone reported usable")
	}
	l.Push(NewHashString(MD5Sum, "d41d8cd98f00b204e9800998ecf8427e"))
	if l.Usable() {
		t.Error("weak hash reported usable")
	}
	if !l.Usable(MD5Sum) {
		t.Error("forced weak hash not honored")
	}
	l.Push(NewHashString(SHA256, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"))
	if !l.Usable() {
		t.Error("strong hash not reported usable")
	}
}

func TestHashStringEqualCaseInsensitive(t *testing.T) {
	a := NewHashString(SHA1, "DA39A3EE5E6B4B0D3255BFEF95601890AFD80709")
	b := NewHashString(SHA1, "da39a3ee5e6b4b0d3255bfef95601890afd80709")
	if !a.Equal(b) {
		t.Error("hex comparison is case-sensitive")
	}
}

func TestParseHashString(t *testing.T) {
	h, err := ParseHashString("SHA256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855")
	if err != nil {
		t.Fatal(err)
	}
	if h.Type() != SHA256 {
		t.Errorf("type = %q", h.Type())
	}
	if _, err := ParseHashString("NotAHash:abcd"); err == nil {
		t.Error("unknown type accepted")
	}
	if _, err := ParseHashString("missingcolon"); err == nil {
		t.Error("missing colon accepted")
	}
}

func TestVerifyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("Test\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	list, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := list.VerifyFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("file does not verify against its own hashes")
	}

	h, _ := list.Find(SHA256)
	ok, err = h.VerifyFile(path)
	if err != nil || !ok {
		t.Errorf("single-hash verify = %v, %v", ok, err)
	}

	var wrong HashStringList
	wrong.Push(NewHashString(SHA256, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"))
	ok, err = wrong.VerifyFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("wrong hash verified")
	}
}

func TestHashStringListString(t *testing.T) {
	var l HashStringList
	l.Push(NewHashString(MD5Sum, "d41d8cd98f00b204e9800998ecf8427e"))
	l.PushSize(0)
	want := "MD5Sum:d41d8cd98f00b204e9800998ecf8427e,Checksum-FileSize:0"
	if diff := cmp.Diff(want, l.String()); diff != "" {
		t.Errorf("rendering mismatch (-want +got):\n%s", diff)
	}
}
