// Package rsh implements the remote-shell tunnel acquire method: files
// are stat'ed with find -printf and read with dd over a configured
// remote shell binary (rsh, ssh, or anything argv-compatible).
package rsh

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/aptutil/aptcore"
	"github.com/aptutil/aptcore/method"
)

// RSH is the handler. Name selects the config subtree and the default
// binary ("rsh" or "ssh").
type RSH struct {
	Name string
}

var _ method.Handler = (*RSH)(nil)

// New returns a handler running as the given program name.
func New(name string) *RSH { return &RSH{Name: name} }

// command assembles the remote invocation argv.
func (r *RSH) command(m *method.Method, u aptcore.URI, remote string) *exec.Cmd {
	prog := m.Config.Find("Acquire::"+r.Name+"::Program", r.Name)
	var args []string
	args = append(args, m.Config.List("Acquire::"+r.Name+"::Options")...)
	if u.User != "" {
		args = append(args, "-l", u.User)
	}
	if u.Port != 0 {
		args = append(args, "-p", strconv.Itoa(u.Port))
	}
	args = append(args, u.Host, remote)
	return exec.Command(prog, args...)
}

// stat asks the remote side for size and mtime in one exchange.
func (r *RSH) stat(ctx context.Context, m *method.Method, u aptcore.URI) (int64, time.Time, error) {
	cmd := r.command(m, u, fmt.Sprintf("find %s -follow -printf '%%s %%T@\\n'", shellQuote(u.Path)))
	out, err := cmd.Output()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %s: %v", method.ErrNotFound, u.Path, err)
	}
	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, time.Time{}, fmt.Errorf("%w: unparsable stat reply %q", method.ErrProtocol, line)
	}
	size, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: bad size in %q", method.ErrProtocol, line)
	}
	secs, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: bad mtime in %q", method.ErrProtocol, line)
	}
	return size, time.Unix(int64(secs), 0), nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Fetch implements method.Handler.
func (r *RSH) Fetch(ctx context.Context, m *method.Method, item *method.FetchItem) error {
	size, mtime, err := r.stat(ctx, m, item.URI)
	if err != nil {
		return err
	}
	if !item.LastModified.IsZero() && !mtime.After(item.LastModified) {
		m.URIStart(item, size, mtime, 0)
		m.URIDone(item, &method.FetchResult{IMSHit: true, Size: size, LastModified: mtime})
		return nil
	}

	const blockSize = 2048
	var resume int64
	if fi, err := os.Stat(item.DestFile); err == nil && fi.Size() > 0 && fi.Size() <= size {
		// dd resumes on block boundaries only.
		resume = (fi.Size() / blockSize) * blockSize
	}
	m.URIStart(item, size, mtime, resume)

	remote := fmt.Sprintf("dd if=%s bs=%d skip=%d", shellQuote(item.URI.Path), blockSize, resume/blockSize)
	cmd := r.command(m, item.URI, remote)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: spawning %s: %v", method.ErrProtocol, r.Name, err)
	}

	out, err := os.OpenFile(item.DestFile, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return err
	}
	out.Truncate(resume)
	out.Seek(resume, io.SeekStart)

	var hasher *aptcore.MultiHasher
	if item.Expected.Empty() {
		hasher = aptcore.NewMultiHasher(aptcore.HashAll)
	} else {
		hasher = aptcore.NewMultiHasherForList(&item.Expected)
	}
	if resume > 0 {
		pre, perr := os.Open(item.DestFile)
		if perr == nil {
			_, perr = hasher.AddFD(io.LimitReader(pre, resume), -1)
			pre.Close()
		}
		if perr != nil {
			out.Close()
			cmd.Process.Kill()
			cmd.Wait()
			return perr
		}
	}

	br := bufio.NewReader(stdout)
	written := resume
	buf := make([]byte, 64*1024)
	var copyErr error
	for {
		n, rerr := br.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				copyErr = werr
				break
			}
			hasher.Write(buf[:n])
			written += int64(n)
			if item.MaximumSize > 0 && written > item.MaximumSize {
				copyErr = method.ErrMaximumSize
				break
			}
		}
		if rerr != nil {
			if !errors.Is(rerr, io.EOF) {
				copyErr = rerr
			}
			break
		}
	}
	waitErr := cmd.Wait()
	if cerr := out.Close(); copyErr == nil {
		copyErr = cerr
	}
	if copyErr == nil && waitErr != nil {
		copyErr = fmt.Errorf("%w: remote read failed: %v", method.ErrProtocol, waitErr)
	}
	if copyErr != nil {
		if errors.Is(copyErr, method.ErrMaximumSize) {
			os.Remove(item.DestFile)
		}
		return copyErr
	}

	os.Chtimes(item.DestFile, time.Now(), mtime)
	got := hasher.Result()
	if !item.Expected.Empty() && !item.Expected.Equal(&got) {
		os.Remove(item.DestFile)
		return method.ErrHashMismatch
	}
	res := &method.FetchResult{
		Filename:     item.DestFile,
		Size:         written,
		LastModified: mtime,
		ResumePoint:  resume,
	}
	res.TakeHashes(hasher)
	m.URIDone(item, res)
	return nil
}
