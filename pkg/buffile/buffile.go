// Package buffile provides a buffered file abstraction that layers
// block-oriented compression and decompression over a descriptor with
// uniform read, write, seek, skip, truncate and size semantics.
package buffile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/aptutil/aptcore/pkg/config"
)

// Flags controls how a File is opened and tracks its runtime state.
type Flags uint

const (
	ReadOnly Flags = 1 << iota
	WriteOnly
	ReadWrite
	Create
	Exclusive
	Empty
	Atomic
	BufferedWrite
	AutoClose
	DelOnFail
	Replace

	// runtime state
	Fail
	HitEof
	Compressed
)

// Errors returned by File operations. Codec failures wrap a CodecError.
var (
	ErrReadError        = errors.New("buffile: read error")
	ErrWriteError       = errors.New("buffile: write error")
	ErrSeekNotSupported = errors.New("buffile: seek not supported on this stream")
)

// CodecError reports a failure inside a compression backend.
type CodecError struct {
	Codec string
	Err   error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("buffile: %s: %v", e.Codec, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

const writeBufSize = 4096

// File is a buffered stream over a raw descriptor or a compression
// codec. All positions reported and accepted are uncompressed-stream
// positions.
//
// Once an operation fails the Fail flag is set and every subsequent
// operation short-circuits to the same error until Close or ClearFail.
type File struct {
	fd    *os.File
	flags Flags
	mode  CompressMode
	comp  Compressor // piped backend only
	piped bool
	cfg   *config.Tree

	rc  io.ReadCloser
	br  *bufio.Reader
	wc  io.WriteCloser
	bw  *bufio.Writer
	pos int64

	limit int64 // -1: unlimited

	path      string // path as opened (temp path when Atomic)
	finalPath string // rename target for Atomic
	perm      os.FileMode

	failErr error
}

// Open opens path with the given flags and codec selection using the
// built-in compressor registry.
func Open(path string, flags Flags, mode CompressMode, perm os.FileMode) (*File, error) {
	return OpenConfigured(nil, path, flags, mode, perm)
}

// OpenConfigured is Open with an explicit configuration tree for the
// compressor registry.
func OpenConfigured(cfg *config.Tree, path string, flags Flags, mode CompressMode, perm os.FileMode) (*File, error) {
	if perm == 0 {
		perm = 0o644
	}
	f := &File{flags: flags, cfg: cfg, perm: perm, limit: -1, pos: 0}

	switch mode {
	case ModeAuto:
		if flags&ReadOnly != 0 {
			path, mode = resolveAuto(cfg, path)
		} else {
			mode = resolveExtension(path)
		}
	case ModeExtension:
		mode = resolveExtension(path)
	}
	f.mode = mode

	oflag, err := openFlag(flags)
	if err != nil {
		return nil, err
	}
	if flags&Atomic != 0 {
		dir, base := filepath.Split(path)
		if dir == "" {
			dir = "."
		}
		tmp, err := os.CreateTemp(dir, base+".")
		if err != nil {
			return nil, fmt.Errorf("buffile: creating atomic temp for %s: %w", path, err)
		}
		if err := tmp.Chmod(perm &^ umask()); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return nil, fmt.Errorf("buffile: chmod %s: %w", tmp.Name(), err)
		}
		f.fd = tmp
		f.path = tmp.Name()
		f.finalPath = path
	} else {
		fd, err := os.OpenFile(path, oflag, perm)
		if err != nil {
			return nil, err
		}
		f.fd = fd
		f.path = path
	}
	f.flags |= AutoClose
	if err := f.initCodec(); err != nil {
		f.fd.Close()
		if f.finalPath != "" {
			os.Remove(f.path)
		}
		return nil, err
	}
	return f, nil
}

// OpenCompressor opens path through the external binary of the given
// registry entry (the piped backend).
func OpenCompressor(path string, flags Flags, comp Compressor, perm os.FileMode) (*File, error) {
	if m, ok := ModeForName(comp.Name); ok {
		return Open(path, flags, m, perm)
	}
	if perm == 0 {
		perm = 0o644
	}
	oflag, err := openFlag(flags)
	if err != nil {
		return nil, err
	}
	fd, err := os.OpenFile(path, oflag, perm)
	if err != nil {
		return nil, err
	}
	f := &File{fd: fd, flags: flags | AutoClose, comp: comp, piped: true, path: path, perm: perm, limit: -1}
	if err := f.initCodec(); err != nil {
		fd.Close()
		return nil, err
	}
	return f, nil
}

// OpenFd wraps an existing descriptor. When autoClose is unset and a
// codec is in play, the descriptor is duplicated so that closing the
// codec never closes the caller's descriptor.
func OpenFd(fd *os.File, flags Flags, mode CompressMode, autoClose bool) (*File, error) {
	f := &File{flags: flags, mode: mode, limit: -1}
	if autoClose {
		f.flags |= AutoClose
	}
	if mode != ModeNone && !autoClose {
		dupped, err := dupFile(fd)
		if err != nil {
			return nil, err
		}
		f.fd = dupped
		f.flags |= AutoClose
	} else {
		f.fd = fd
	}
	f.path = fd.Name()
	if err := f.initCodec(); err != nil {
		return nil, err
	}
	return f, nil
}

func dupFile(fd *os.File) (*os.File, error) {
	nfd, err := unix.Dup(int(fd.Fd()))
	if err != nil {
		return nil, fmt.Errorf("buffile: dup: %w", err)
	}
	unix.CloseOnExec(nfd)
	return os.NewFile(uintptr(nfd), fd.Name()), nil
}

func openFlag(flags Flags) (int, error) {
	var o int
	switch {
	case flags&ReadWrite != 0:
		o = os.O_RDWR
	case flags&WriteOnly != 0 || flags&Atomic != 0:
		o = os.O_WRONLY
	case flags&ReadOnly != 0:
		o = os.O_RDONLY
	default:
		return 0, fmt.Errorf("buffile: no access mode in flags %#x", flags)
	}
	if flags&(Create|Atomic) != 0 {
		o |= os.O_CREATE
	}
	if flags&Exclusive != 0 && flags&Atomic == 0 {
		o |= os.O_EXCL
	}
	if flags&Empty != 0 {
		o |= os.O_TRUNC
	}
	return o, nil
}

func (f *File) initCodec() error {
	compressed := f.mode != ModeNone || f.piped
	if compressed {
		f.flags |= Compressed
	}
	writing := f.flags&(WriteOnly|ReadWrite|Atomic) != 0
	reading := f.flags&(ReadOnly|ReadWrite) != 0
	if compressed && writing && reading {
		return fmt.Errorf("buffile: compressed streams cannot be opened read-write")
	}
	if writing {
		var w io.WriteCloser
		var err error
		switch {
		case f.piped:
			w, err = newPipedWriter(f.comp, f.fd)
		case compressed:
			w, err = newCompressor(f.mode, f.fd)
		}
		if err != nil {
			return err
		}
		f.wc = w
		if f.flags&BufferedWrite != 0 {
			if w != nil {
				f.bw = bufio.NewWriterSize(w, writeBufSize)
			} else {
				f.bw = bufio.NewWriterSize(f.fd, writeBufSize)
			}
		}
		return nil
	}
	if compressed {
		r, err := f.openDecompressor()
		if err != nil {
			return err
		}
		f.rc = r
		f.br = bufio.NewReader(r)
	} else {
		f.br = bufio.NewReader(f.fd)
	}
	return nil
}

// openDecompressor builds the read codec. An empty regular file is
// valid input for every codec and decompresses to an empty stream.
func (f *File) openDecompressor() (io.ReadCloser, error) {
	if fi, err := f.fd.Stat(); err == nil && fi.Mode().IsRegular() && fi.Size() == 0 {
		return io.NopCloser(&emptyReader{}), nil
	}
	if f.piped {
		return newPipedReader(f.comp, f.fd)
	}
	return newDecompressor(f.mode, f.fd)
}

func (f *File) setFail(err error) error {
	f.flags |= Fail
	if f.failErr == nil {
		f.failErr = err
	}
	return err
}

// Failed reports whether a previous operation failed.
func (f *File) Failed() bool { return f.flags&Fail != 0 }

// ClearFail resets the failure latch.
func (f *File) ClearFail() {
	f.flags &^= Fail
	f.failErr = nil
}

// Flags returns the current flag set.
func (f *File) Flags() Flags { return f.flags }

// Name returns the path the handle was opened with; for atomic handles
// this is the temp path until Close renames it.
func (f *File) Name() string { return f.path }

// Limit caps the number of bytes the next reads may return. A negative
// value removes the cap.
func (f *File) Limit(n int64) { f.limit = n }

// Eof reports whether a read has hit end of stream.
func (f *File) Eof() bool { return f.flags&HitEof != 0 }

// Read reads into b, possibly short. At end of stream it returns
// 0, io.EOF and latches HitEof.
func (f *File) Read(b []byte) (int, error) {
	if f.flags&Fail != 0 {
		return 0, f.failErr
	}
	if f.br == nil {
		return 0, f.setFail(fmt.Errorf("%w: handle not open for reading", ErrReadError))
	}
	if f.limit == 0 {
		f.flags |= HitEof
		return 0, io.EOF
	}
	if f.limit > 0 && int64(len(b)) > f.limit {
		b = b[:f.limit]
	}
	n, err := f.br.Read(b)
	f.pos += int64(n)
	if f.limit > 0 {
		f.limit -= int64(n)
	}
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		f.flags |= HitEof
	default:
		return n, f.setFail(fmt.Errorf("%w: %v", ErrReadError, err))
	}
	return n, err
}

// ReadExact fills b completely or fails with ErrReadError.
func (f *File) ReadExact(b []byte) error {
	n, err := io.ReadFull(f, b)
	if err != nil {
		return f.setFail(fmt.Errorf("%w: short read of %d/%d bytes: %v", ErrReadError, n, len(b), err))
	}
	return nil
}

// ReadLine returns the next line including its trailing newline, or
// ok=false at end of stream.
func (f *File) ReadLine() (string, bool) {
	if f.flags&Fail != 0 || f.br == nil {
		return "", false
	}
	line, err := f.br.ReadString('\n')
	f.pos += int64(len(line))
	if len(line) == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			f.setFail(fmt.Errorf("%w: %v", ErrReadError, err))
		}
		f.flags |= HitEof
		return "", false
	}
	return line, true
}

// Write writes all of b or fails.
func (f *File) Write(b []byte) (int, error) {
	if f.flags&Fail != 0 {
		return 0, f.failErr
	}
	var w io.Writer
	switch {
	case f.bw != nil:
		w = f.bw
	case f.wc != nil:
		w = f.wc
	case f.fd != nil && f.flags&(WriteOnly|ReadWrite|Atomic) != 0:
		w = f.fd
	default:
		return 0, f.setFail(fmt.Errorf("%w: handle not open for writing", ErrWriteError))
	}
	n, err := w.Write(b)
	f.pos += int64(n)
	if err != nil {
		return n, f.setFail(fmt.Errorf("%w: %v", ErrWriteError, err))
	}
	return n, nil
}

// WriteString writes s.
func (f *File) WriteString(s string) error {
	_, err := f.Write([]byte(s))
	return err
}

// Flush drains the coalescing write buffer, if any.
func (f *File) Flush() error {
	if f.flags&Fail != 0 {
		return f.failErr
	}
	if f.bw != nil {
		if err := f.bw.Flush(); err != nil {
			return f.setFail(fmt.Errorf("%w: %v", ErrWriteError, err))
		}
	}
	return nil
}

// Tell returns the current uncompressed-stream position.
func (f *File) Tell() int64 { return f.pos }

// Seek positions the stream at the absolute uncompressed offset. For
// codec streams seeking backwards reopens the source and re-streams;
// this is only possible for read-only handles.
func (f *File) Seek(abs int64) error {
	if f.flags&Fail != 0 {
		return f.failErr
	}
	if abs == f.pos {
		return nil
	}
	writing := f.flags&(WriteOnly|ReadWrite|Atomic) != 0
	if f.flags&Compressed != 0 && writing {
		return f.setFail(ErrSeekNotSupported)
	}
	if f.flags&Compressed == 0 {
		var whence int64 = abs
		if writing {
			if f.bw != nil {
				if err := f.Flush(); err != nil {
					return err
				}
			}
			if _, err := f.fd.Seek(whence, io.SeekStart); err != nil {
				return f.setFail(err)
			}
			f.pos = abs
			return nil
		}
		if _, err := f.fd.Seek(whence, io.SeekStart); err != nil {
			return f.setFail(err)
		}
		f.br.Reset(f.fd)
		f.pos = abs
		f.flags &^= HitEof
		return nil
	}
	if abs > f.pos {
		return f.Skip(abs - f.pos)
	}
	if err := f.reopenCodec(); err != nil {
		return f.setFail(err)
	}
	return f.Skip(abs)
}

// reopenCodec rewinds the raw descriptor and restarts decompression
// from the top of the stream.
func (f *File) reopenCodec() error {
	if f.rc != nil {
		f.rc.Close()
		f.rc = nil
	}
	if _, err := f.fd.Seek(0, io.SeekStart); err != nil {
		return err
	}
	f.pos = 0
	f.flags &^= HitEof
	r, err := f.openDecompressor()
	if err != nil {
		return err
	}
	f.rc = r
	f.br = bufio.NewReader(r)
	return nil
}

// Skip advances the read position by n uncompressed bytes.
func (f *File) Skip(n int64) error {
	if f.flags&Fail != 0 {
		return f.failErr
	}
	if n < 0 {
		return f.Seek(f.pos + n)
	}
	save := f.limit
	f.limit = -1
	_, err := io.CopyN(io.Discard, readerNoLimit{f}, n)
	f.limit = save
	if err != nil {
		return f.setFail(fmt.Errorf("%w: skip: %v", ErrReadError, err))
	}
	return nil
}

// readerNoLimit bypasses the HitEof -> io.EOF short-circuit cleanly for
// internal skips.
type readerNoLimit struct{ f *File }

func (r readerNoLimit) Read(b []byte) (int, error) {
	n, err := r.f.br.Read(b)
	r.f.pos += int64(n)
	return n, err
}

// Truncate shortens the file to n bytes. Codec streams refuse.
func (f *File) Truncate(n int64) error {
	if f.flags&Fail != 0 {
		return f.failErr
	}
	if f.flags&Compressed != 0 {
		return f.setFail(ErrSeekNotSupported)
	}
	if err := f.Flush(); err != nil {
		return err
	}
	if err := f.fd.Truncate(n); err != nil {
		return f.setFail(err)
	}
	return nil
}

// Size returns the uncompressed size of the stream. For codec streams
// this reads ahead to end of stream and then restores the position, so
// it is only possible on read-only handles.
func (f *File) Size() (int64, error) {
	if f.flags&Compressed == 0 {
		fi, err := f.fd.Stat()
		if err != nil {
			return 0, f.setFail(err)
		}
		return fi.Size(), nil
	}
	if f.br == nil {
		return 0, f.setFail(fmt.Errorf("%w: cannot size a write-only codec stream", ErrReadError))
	}
	pos := f.pos
	n, err := io.Copy(io.Discard, readerNoLimit{f})
	if err != nil {
		return 0, f.setFail(fmt.Errorf("%w: sizing stream: %v", ErrReadError, err))
	}
	total := pos + n
	if err := f.reopenCodec(); err != nil {
		return 0, f.setFail(err)
	}
	if err := f.Skip(pos); err != nil {
		return 0, err
	}
	return total, nil
}

// ModificationTime returns the mtime of the underlying file.
func (f *File) ModificationTime() (int64, error) {
	fi, err := f.fd.Stat()
	if err != nil {
		return 0, err
	}
	return fi.ModTime().Unix(), nil
}

// Close flushes, tears down the codec, and closes the descriptor. For
// atomic handles the temp file is renamed over the target on success
// and removed on failure; other handles are removed on failure when
// DelOnFail is set.
func (f *File) Close() error {
	var errs []error
	if f.bw != nil {
		if err := f.bw.Flush(); err != nil {
			f.flags |= Fail
			errs = append(errs, fmt.Errorf("%w: %v", ErrWriteError, err))
		}
		f.bw = nil
	}
	if f.wc != nil {
		if err := f.wc.Close(); err != nil {
			f.flags |= Fail
			errs = append(errs, err)
		}
		f.wc = nil
	}
	if f.rc != nil {
		if err := f.rc.Close(); err != nil {
			errs = append(errs, err)
		}
		f.rc = nil
	}
	if f.fd != nil && f.flags&AutoClose != 0 {
		if err := f.fd.Close(); err != nil {
			f.flags |= Fail
			errs = append(errs, err)
		}
	}
	if f.finalPath != "" {
		if f.flags&Fail == 0 {
			if err := os.Rename(f.path, f.finalPath); err != nil {
				errs = append(errs, fmt.Errorf("buffile: renaming %s to %s: %w", f.path, f.finalPath, err))
			}
		} else {
			os.Remove(f.path)
		}
	} else if f.flags&Fail != 0 && f.flags&DelOnFail != 0 {
		os.Remove(f.path)
	}
	f.fd = nil
	return errors.Join(errs...)
}

// GetTempDir returns the spool directory honoring the TMPDIR family of
// environment variables, falling back to /tmp.
func GetTempDir() string {
	for _, env := range []string{"TMPDIR", "TMP", "TEMP", "TEMPDIR"} {
		if d := os.Getenv(env); d != "" {
			if fi, err := os.Stat(d); err == nil && fi.IsDir() {
				return strings.TrimSuffix(d, "/")
			}
		}
	}
	return "/tmp"
}

func umask() os.FileMode {
	m := unix.Umask(0)
	unix.Umask(m)
	return os.FileMode(m)
}
