package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aptutil/aptcore"
	"github.com/aptutil/aptcore/method"
	"github.com/aptutil/aptcore/method/connect"
)

// HTTP is the pipelined http/https acquire handler.
type HTTP struct {
	queue  []*method.FetchItem
	server serverState

	retried        map[string]bool // one 416/reconnect retry per URI
	misorderWarned bool

	// exit-flush state: the file currently being written and the
	// server-reported mtime it should carry.
	curPath  string
	curMtime time.Time
}

var _ method.BatchHandler = (*HTTP)(nil)

// New returns the handler.
func New() *HTTP {
	return &HTTP{retried: make(map[string]bool)}
}

// Fetch implements method.Handler for the single-item path.
func (h *HTTP) Fetch(ctx context.Context, m *method.Method, item *method.FetchItem) error {
	h.Enqueue(item)
	return h.Process(ctx, m)
}

// Enqueue implements method.BatchHandler.
func (h *HTTP) Enqueue(item *method.FetchItem) {
	h.queue = append(h.queue, item)
}

// FlushPartial is the termination hook: stamp the in-progress file with
// the server-reported modification time before exiting.
func (h *HTTP) FlushPartial() {
	if h.curPath != "" && !h.curMtime.IsZero() {
		os.Chtimes(h.curPath, time.Now(), h.curMtime)
	}
}

func (h *HTTP) dequeue(item *method.FetchItem) {
	for i, q := range h.queue {
		if q == item {
			h.queue = append(h.queue[:i], h.queue[i+1:]...)
			return
		}
	}
}

// Process drains the queue, keeping the pipeline full.
func (h *HTTP) Process(ctx context.Context, m *method.Method) error {
	for len(h.queue) > 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		item := h.queue[0]
		if !h.server.comp(item.URI) {
			h.server.close()
			if err := h.server.open(ctx, h, m, item.URI); err != nil {
				err = mapConnectErr(err)
				h.dequeue(item)
				m.Fail(item, err, transientConnect(err))
				continue
			}
		}
		h.fillPipeline(m)

		if len(h.server.inFlight) == 0 {
			// open succeeded but nothing was sendable; shouldn't
			// happen, drop the item rather than spin.
			h.dequeue(item)
			m.Fail(item, method.ErrProtocol, true)
			continue
		}

		cur := h.server.inFlight[0]
		if h.server.timeout > 0 {
			h.server.fd.SetDeadline(time.Now().Add(h.server.timeout))
		}
		var req requestState
		err := readHeaders(h.server.br, &req)
		if err != nil {
			h.server.close()
			if !h.retried[cur.RawURI] {
				// One reconnect for a connection that died mid-cycle.
				h.retried[cur.RawURI] = true
				continue
			}
			h.dequeue(cur)
			m.Fail(cur, err, true)
			continue
		}
		h.server.inFlight = h.server.inFlight[1:]

		if strings.EqualFold(req.acceptRanges, "none") {
			h.server.rangesAllowed = false
		}

		if err := h.dispatch(ctx, m, cur, &req); err != nil {
			return err
		}
		if req.connClose || req.enc == encCloses {
			h.server.persistent = false
			h.server.close()
		}
	}
	return nil
}

// fillPipeline sends requests for queued items up to the configured
// depth, same authority only. The pipeline is only stacked when the
// head item has no partial file on disk.
func (h *HTTP) fillPipeline(m *method.Method) {
	depth := m.Config.FindI("Acquire::http::Pipeline-Depth", 10)
	if !h.server.pipeline || depth < 1 {
		depth = 1
	}
	// Requests only stack when the head item has no partial on disk; a
	// resume would entangle the Range request with later answers.
	if depth > 1 && len(h.queue) > 0 {
		if fi, err := os.Stat(h.queue[0].DestFile); err == nil && fi.Size() > 0 {
			depth = 1
		}
	}
	inFlight := func(it *method.FetchItem) bool {
		for _, f := range h.server.inFlight {
			if f == it {
				return true
			}
		}
		return false
	}
	for _, it := range h.queue {
		if len(h.server.inFlight) >= depth {
			break
		}
		if inFlight(it) || !h.server.comp(it.URI) {
			continue
		}
		if err := h.server.sendRequest(m, it); err != nil {
			h.server.close()
			return
		}
		if depth == 1 {
			break
		}
	}
}

// dispatch implements the header decision tree for one response.
func (h *HTTP) dispatch(ctx context.Context, m *method.Method, item *method.FetchItem, req *requestState) error {
	switch {
	case req.status == 304:
		os.Remove(item.DestFile)
		h.dequeue(item)
		res := &method.FetchResult{IMSHit: true, LastModified: item.LastModified}
		m.URIDone(item, res)
		return nil

	case req.status >= 300 && req.status < 400 && req.status != 300 && req.status != 306:
		h.drainJunk(req)
		next, err := h.rewriteRedirect(item, req)
		h.dequeue(item)
		if err != nil {
			m.Fail(item, err, false)
			return nil
		}
		m.Redirect(item, next)
		return nil

	case req.status == 416:
		h.drainJunk(req)
		if ok, _ := item.Expected.VerifyFile(item.DestFile); ok && !item.Expected.Empty() {
			h.dequeue(item)
			hashes, _ := aptcore.HashFile(item.DestFile)
			fi, _ := os.Stat(item.DestFile)
			res := &method.FetchResult{Filename: item.DestFile, Hashes: hashes}
			if fi != nil {
				res.Size = fi.Size()
				res.LastModified = fi.ModTime()
			}
			m.URIDone(item, res)
			return nil
		}
		os.Remove(item.DestFile)
		if !h.retried[item.RawURI] {
			h.retried[item.RawURI] = true
			// Item stays at the queue head for a clean refetch.
			h.server.close()
			return nil
		}
		h.dequeue(item)
		m.Fail(item, fmt.Errorf("%w: 416 with mismatching partial", method.ErrProtocol), false)
		return nil

	case req.status == 200 || req.status == 206:
		return h.stream(ctx, m, item, req)

	default:
		h.drainJunk(req)
		h.dequeue(item)
		err := fmt.Errorf("http: server refused %s with %d", item.URI.NoUserPassword(), req.status)
		if req.status == 404 || req.status == 410 {
			err = fmt.Errorf("%w: %v", method.ErrNotFound, err)
		}
		m.Fail(item, err, req.status >= 500)
		return nil
	}
}

// drainJunk consumes an unwanted body so the connection stays usable.
func (h *HTTP) drainJunk(req *requestState) {
	if !req.haveContent || h.server.br == nil {
		return
	}
	io.Copy(io.Discard, bodyReader(h.server.br, req))
}

// rewriteRedirect applies the redirect policy and returns the new URI.
func (h *HTTP) rewriteRedirect(item *method.FetchItem, req *requestState) (string, error) {
	if req.location == "" {
		return "", fmt.Errorf("%w: redirect without Location", method.ErrProtocol)
	}
	loc := req.location
	if strings.HasPrefix(loc, "/") {
		base := item.URI
		base.Path = loc
		loc = base.String()
	} else if !strings.Contains(loc, "://") {
		base := item.URI
		dir := base.Path
		if i := strings.LastIndexByte(dir, '/'); i != -1 {
			dir = dir[:i+1]
		}
		base.Path = dir + loc
		loc = base.String()
	}
	next := aptcore.ParseURI(loc)
	if strings.Contains(next.Access, "+") {
		return "", fmt.Errorf("%w: redirect to bound scheme %s", method.ErrRedirectForbidden, next.Access)
	}
	cur := item.URI.InnerAccess()
	if next.Access != cur && !(cur == "http" && next.Access == "https") {
		return "", fmt.Errorf("%w: redirect from %s to %s", method.ErrRedirectForbidden, cur, next.Access)
	}
	if loc == item.RawURI {
		return "", method.ErrRedirectLoop
	}
	return loc, nil
}

// stream copies the response body into the destination file, hashing
// as it goes, honoring the bandwidth limit and the maximum size.
func (h *HTTP) stream(ctx context.Context, m *method.Method, item *method.FetchItem, req *requestState) error {
	f, err := os.OpenFile(item.DestFile, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		h.dequeue(item)
		m.Fail(item, err, false)
		h.drainJunk(req)
		return nil
	}
	start := req.startPos
	if req.status == 200 {
		start = 0
	}
	if err := f.Truncate(start); err != nil {
		f.Close()
		h.dequeue(item)
		m.Fail(item, err, false)
		return nil
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		f.Close()
		h.dequeue(item)
		m.Fail(item, err, false)
		return nil
	}

	// Hash the already-present prefix, then the wire bytes.
	var hasher *aptcore.MultiHasher
	if item.Expected.Empty() {
		hasher = aptcore.NewMultiHasher(aptcore.HashAll)
	} else {
		hasher = aptcore.NewMultiHasherForList(&item.Expected)
	}
	if start > 0 {
		pre, err := os.Open(item.DestFile)
		if err == nil {
			_, err = hasher.AddFD(io.LimitReader(pre, start), -1)
			pre.Close()
		}
		if err != nil {
			f.Close()
			h.dequeue(item)
			m.Fail(item, err, false)
			return nil
		}
	}

	totalSize := req.totalSize
	if totalSize < 0 && req.downloadSize >= 0 {
		totalSize = start + req.downloadSize
	}
	m.URIStart(item, totalSize, req.date, start)
	h.curPath = item.DestFile
	h.curMtime = req.date

	limiter := m.DequeueLimiter()
	body := bodyReader(h.server.br, req)
	buf := make([]byte, 64*1024)
	written := start
	var copyErr error
	for {
		if ctx.Err() != nil {
			copyErr = ctx.Err()
			break
		}
		if h.server.timeout > 0 {
			h.server.fd.SetDeadline(time.Now().Add(h.server.timeout))
		}
		n, rerr := body.Read(buf)
		if n > 0 {
			if limiter != nil {
				limiter.WaitN(ctx, n)
			}
			if _, werr := f.Write(buf[:n]); werr != nil {
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
	closeErr := f.Close()
	h.curPath = ""
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		// Truncated transfers keep the partial file for resume.
		h.server.close()
		h.dequeue(item)
		if errors.Is(copyErr, method.ErrMaximumSize) {
			os.Remove(item.DestFile)
			m.Fail(item, copyErr, false)
		} else {
			m.Fail(item, fmt.Errorf("%w: %v", method.ErrProtocol, copyErr), true)
		}
		return nil
	}

	if !req.date.IsZero() {
		os.Chtimes(item.DestFile, time.Now(), req.date)
	}

	got := hasher.Result()
	if !item.Expected.Empty() && !item.Expected.Equal(&got) {
		if h.recoverMisorder(m, item, &got, written) {
			return nil
		}
		h.dequeue(item)
		os.Remove(item.DestFile)
		m.Fail(item, fmt.Errorf("%w: got %s", method.ErrHashMismatch, got.String()), false)
		return nil
	}

	h.dequeue(item)
	res := &method.FetchResult{
		Filename:     item.DestFile,
		Size:         written,
		LastModified: req.date,
		ResumePoint:  start,
	}
	res.TakeHashes(hasher)
	m.URIDone(item, res)
	return nil
}

// recoverMisorder handles a pipelined server answering out of order:
// when the payload matches a later queued item, move the file to that
// item's destination, disable pipelining, and report the match.
func (h *HTTP) recoverMisorder(m *method.Method, item *method.FetchItem, got *aptcore.HashStringList, size int64) bool {
	for _, other := range h.queue {
		if other == item || other.Expected.Empty() {
			continue
		}
		if !other.Expected.Equal(got) {
			continue
		}
		if err := os.Rename(item.DestFile, other.DestFile); err != nil {
			return false
		}
		if !h.misorderWarned {
			m.Warning("Invalid response from server with pipelining enabled; reordering %s", other.URI.NoUserPassword())
			h.misorderWarned = true
		}
		h.server.pipeline = false
		h.dequeue(other)
		// The request already on the wire for the matched item will
		// carry this item's payload; retarget it.
		for i, f := range h.server.inFlight {
			if f == other {
				h.server.inFlight[i] = item
			}
		}
		res := &method.FetchResult{
			Filename: other.DestFile,
			Size:     size,
			Hashes:   *got,
		}
		m.URIDone(other, res)
		// The original item stays queued and is refetched without
		// pipelining.
		return true
	}
	return false
}

// mapConnectErr lifts connection-layer errors into the shared method
// taxonomy so fail reasons and retry classification line up.
func mapConnectErr(err error) error {
	switch {
	case errors.Is(err, connect.ErrResolve):
		return fmt.Errorf("%w: %v", method.ErrResolveFailure, err)
	case errors.Is(err, connect.ErrTmpResolve):
		return fmt.Errorf("%w: %v", method.ErrTmpResolveFailure, err)
	case errors.Is(err, connect.ErrRefused):
		return fmt.Errorf("%w: %v", method.ErrConnectionRefused, err)
	case errors.Is(err, connect.ErrTimedOut):
		return fmt.Errorf("%w: %v", method.ErrConnectionTimedOut, err)
	}
	return err
}

func transientConnect(err error) bool {
	return !errors.Is(err, method.ErrResolveFailure)
}
