package buffile

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

var codecModes = []struct {
	name string
	mode CompressMode
	ext  string
}{
	{"direct", ModeNone, ""},
	{"gzip", ModeGzip, ".gz"},
	{"bzip2", ModeBzip2, ".bz2"},
	{"xz", ModeXz, ".xz"},
	{"lzma", ModeLzma, ".lzma"},
	{"lz4", ModeLz4, ".lz4"},
	{"zstd", ModeZstd, ".zst"},
}

func payload() []byte {
	b := make([]byte, 256*1024)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestCodecRoundTrip(t *testing.T) {
	data := payload()
	for _, tc := range codecModes {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "file"+tc.ext)
			w, err := Open(path, WriteOnly|Create|Empty, tc.mode, 0o644)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := w.Write(data); err != nil {
				t.Fatal(err)
			}
			if err := w.Close(); err != nil {
				t.Fatal(err)
			}

			r, err := Open(path, ReadOnly, tc.mode, 0)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(data, got) {
				t.Fatalf("round trip mismatch: %d in, %d out", len(data), len(got))
			}
			if !r.Eof() {
				t.Error("EOF flag not latched")
			}
		})
	}
}

func TestEmptyCompressedInputNativeCodecs(t *testing.T) {
	for _, tc := range codecModes {
		if tc.mode == ModeNone {
			continue
		}
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "empty"+tc.ext)
			if err := os.WriteFile(path, nil, 0o644); err != nil {
				t.Fatal(err)
			}
			f, err := Open(path, ReadOnly, tc.mode, 0)
			if err != nil {
				t.Fatal(err)
			}
			defer f.Close()
			got, err := io.ReadAll(f)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 0 {
				t.Errorf("empty input decompressed to %d bytes", len(got))
			}
			if n, err := f.Size(); err != nil || n != 0 {
				t.Errorf("Size = %d, %v", n, err)
			}
		})
	}
}

func TestEmptyCompressedInput(t *testing.T) {
	// An empty file is valid compressed input meaning "empty stream"
	// for the piped backend; the native codecs see it through an empty
	// direct read.
	path := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := OpenCompressor(path, ReadOnly, Compressor{Name: "external", Binary: "false"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("empty input decompressed to %d bytes", len(got))
	}
	if n, err := f.Size(); err != nil || n != 0 {
		t.Errorf("Size = %d, %v", n, err)
	}
}

func TestAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "target")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := Open(path, Atomic|DelOnFail, ModeNone, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.WriteString("new content"); err != nil {
		t.Fatal(err)
	}
	// The target must still be the old file until close.
	if got, _ := os.ReadFile(path); string(got) != "old" {
		t.Errorf("target replaced before close: %q", got)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if got, _ := os.ReadFile(path); string(got) != "new content" {
		t.Errorf("after close: %q", got)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temp file left behind: %v", entries)
	}
}

func TestAtomicDelOnFail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "target")
	f, err := Open(path, Atomic|DelOnFail, ModeNone, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("partial")
	// Simulate a failed transfer.
	f.flags |= Fail
	f.Close()
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("failed atomic write installed the target")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("temp file left behind: %v", entries)
	}
}

func TestSeekSkipTell(t *testing.T) {
	data := payload()
	for _, tc := range []struct {
		name string
		mode CompressMode
	}{{"direct", ModeNone}, {"gzip", ModeGzip}} {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "f")
			w, err := Open(path, WriteOnly|Create, tc.mode, 0o644)
			if err != nil {
				t.Fatal(err)
			}
			w.Write(data)
			if err := w.Close(); err != nil {
				t.Fatal(err)
			}

			r, err := Open(path, ReadOnly, tc.mode, 0)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()

			if err := r.Seek(1000); err != nil {
				t.Fatal(err)
			}
			if r.Tell() != 1000 {
				t.Errorf("Tell = %d", r.Tell())
			}
			buf := make([]byte, 10)
			if err := r.ReadExact(buf); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(buf, data[1000:1010]) {
				t.Error("read after forward seek returned wrong bytes")
			}

			// Backwards seek re-streams for codecs.
			if err := r.Seek(10); err != nil {
				t.Fatal(err)
			}
			if err := r.ReadExact(buf); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(buf, data[10:20]) {
				t.Error("read after backward seek returned wrong bytes")
			}

			if err := r.Skip(100); err != nil {
				t.Fatal(err)
			}
			if r.Tell() != 120 {
				t.Errorf("Tell after skip = %d", r.Tell())
			}
		})
	}
}

func TestSizeOnCodecStream(t *testing.T) {
	data := payload()
	path := filepath.Join(t.TempDir(), "f.gz")
	w, err := Open(path, WriteOnly|Create, ModeGzip, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	w.Write(data)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path, ReadOnly, ModeGzip, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	r.Seek(5000)
	n, err := r.Size()
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(data)) {
		t.Errorf("Size = %d, want %d", n, len(data))
	}
	// Position must be restored.
	if r.Tell() != 5000 {
		t.Errorf("Tell after Size = %d", r.Tell())
	}
	buf := make([]byte, 4)
	if err := r.ReadExact(buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, data[5000:5004]) {
		t.Error("read after Size returned wrong bytes")
	}
}

func TestWriteSeekRefusedOnCodec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.gz")
	w, err := Open(path, WriteOnly|Create, ModeGzip, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	w.WriteString("data")
	if err := w.Seek(0); !errors.Is(err, ErrSeekNotSupported) {
		t.Errorf("Seek on compressed writer = %v", err)
	}
}

func TestLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := Open(path, ReadOnly, ModeNone, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	f.Limit(4)
	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "0123" {
		t.Errorf("limited read = %q", got)
	}
}

func TestReadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	os.WriteFile(path, []byte("one\ntwo\nthree"), 0o644)
	f, err := Open(path, ReadOnly, ModeNone, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var lines []string
	for {
		l, ok := f.ReadLine()
		if !ok {
			break
		}
		lines = append(lines, l)
	}
	if len(lines) != 3 || lines[0] != "one\n" || lines[2] != "three" {
		t.Errorf("lines = %q", lines)
	}
}

func TestFailLatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	os.WriteFile(path, []byte("x"), 0o644)
	f, err := Open(path, ReadOnly, ModeNone, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.Write([]byte("nope")); err == nil {
		t.Fatal("write on read-only handle succeeded")
	}
	if !f.Failed() {
		t.Error("Fail flag not set")
	}
	if _, err := f.Read(make([]byte, 1)); err == nil {
		t.Error("read after failure succeeded")
	}
	f.ClearFail()
	if _, err := f.Read(make([]byte, 1)); err != nil {
		t.Errorf("read after ClearFail: %v", err)
	}
}

func TestBufferedWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	f, err := Open(path, WriteOnly|Create|BufferedWrite, ModeNone, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		f.WriteString("chunk ")
	}
	if err := f.Flush(); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() != 600 {
		t.Errorf("flushed size = %d", fi.Size())
	}
	f.Close()
}
