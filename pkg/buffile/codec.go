package buffile

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// nopReadCloser adapts codec readers that carry no Close of their own.
type nopReadCloser struct{ io.Reader }

func (nopReadCloser) Close() error { return nil }

type zstdReadCloser struct{ d *zstd.Decoder }

func (z zstdReadCloser) Read(p []byte) (int, error) { return z.d.Read(p) }
func (z zstdReadCloser) Close() error               { z.d.Close(); return nil }

// NewDecompressor layers a decompressing reader over an arbitrary
// stream, for callers that have a reader rather than a descriptor
// (archive members, network bodies). ModeNone returns r unchanged.
func NewDecompressor(mode CompressMode, r io.Reader) (io.ReadCloser, error) {
	if mode == ModeNone {
		if rc, ok := r.(io.ReadCloser); ok {
			return rc, nil
		}
		return io.NopCloser(r), nil
	}
	return newDecompressor(mode, r)
}

// newDecompressor layers a decompressing reader over r for the mode.
// Direct (ModeNone) is handled by the caller.
func newDecompressor(mode CompressMode, r io.Reader) (io.ReadCloser, error) {
	switch mode {
	case ModeGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, &CodecError{Codec: "gzip", Err: err}
		}
		// Treat concatenated members as one stream.
		zr.Multistream(true)
		return zr, nil
	case ModeBzip2:
		br, err := bzip2.NewReader(r, nil)
		if err != nil {
			return nil, &CodecError{Codec: "bzip2", Err: err}
		}
		return br, nil
	case ModeXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, &CodecError{Codec: "xz", Err: err}
		}
		return nopReadCloser{xr}, nil
	case ModeLzma:
		lr, err := lzma.NewReader(r)
		if err != nil {
			return nil, &CodecError{Codec: "lzma", Err: err}
		}
		return nopReadCloser{lr}, nil
	case ModeLz4:
		return nopReadCloser{lz4.NewReader(r)}, nil
	case ModeZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, &CodecError{Codec: "zstd", Err: err}
		}
		return zstdReadCloser{zr}, nil
	}
	return nil, fmt.Errorf("buffile: no decompressor for mode %d", mode)
}

// newCompressor layers a compressing writer over w for the mode.
func newCompressor(mode CompressMode, w io.Writer) (io.WriteCloser, error) {
	switch mode {
	case ModeGzip:
		return gzip.NewWriter(w), nil
	case ModeBzip2:
		bw, err := bzip2.NewWriter(w, &bzip2.WriterConfig{Level: 6})
		if err != nil {
			return nil, &CodecError{Codec: "bzip2", Err: err}
		}
		return bw, nil
	case ModeXz:
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, &CodecError{Codec: "xz", Err: err}
		}
		return xw, nil
	case ModeLzma:
		lw, err := lzma.NewWriter(w)
		if err != nil {
			return nil, &CodecError{Codec: "lzma", Err: err}
		}
		return lw, nil
	case ModeLz4:
		return lz4.NewWriter(w), nil
	case ModeZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, &CodecError{Codec: "zstd", Err: err}
		}
		return zw, nil
	}
	return nil, fmt.Errorf("buffile: no compressor for mode %d", mode)
}

// pipedReader runs an external decompressor with the source on its
// stdin and hands back its stdout. stderr is discarded.
type pipedReader struct {
	cmd *exec.Cmd
	out io.ReadCloser
}

func newPipedReader(c Compressor, src *os.File) (io.ReadCloser, error) {
	// Empty regular files decompress to nothing without spawning.
	if fi, err := src.Stat(); err == nil && fi.Mode().IsRegular() && fi.Size() == 0 {
		return io.NopCloser(&emptyReader{}), nil
	}
	cmd := exec.Command(c.Binary, c.UncompressArgs...)
	cmd.Stdin = src
	cmd.Stderr = nil
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &CodecError{Codec: c.Name, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &CodecError{Codec: c.Name, Err: err}
	}
	return &pipedReader{cmd: cmd, out: out}, nil
}

type emptyReader struct{}

func (*emptyReader) Read([]byte) (int, error) { return 0, io.EOF }

func (p *pipedReader) Read(b []byte) (int, error) { return p.out.Read(b) }

func (p *pipedReader) Close() error {
	p.out.Close()
	if err := p.cmd.Wait(); err != nil {
		return &CodecError{Codec: p.cmd.Path, Err: err}
	}
	return nil
}

// pipedWriter runs an external compressor with its stdout on the
// destination and hands back its stdin.
type pipedWriter struct {
	cmd *exec.Cmd
	in  io.WriteCloser
}

func newPipedWriter(c Compressor, dst *os.File) (io.WriteCloser, error) {
	cmd := exec.Command(c.Binary, c.CompressArgs...)
	cmd.Stdout = dst
	cmd.Stderr = nil
	in, err := cmd.StdinPipe()
	if err != nil {
		return nil, &CodecError{Codec: c.Name, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &CodecError{Codec: c.Name, Err: err}
	}
	return &pipedWriter{cmd: cmd, in: in}, nil
}

func (p *pipedWriter) Write(b []byte) (int, error) { return p.in.Write(b) }

func (p *pipedWriter) Close() error {
	if err := p.in.Close(); err != nil {
		p.cmd.Wait()
		return &CodecError{Codec: p.cmd.Path, Err: err}
	}
	if err := p.cmd.Wait(); err != nil {
		return &CodecError{Codec: p.cmd.Path, Err: err}
	}
	return nil
}
