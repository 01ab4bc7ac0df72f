package method

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/aptutil/aptcore"
	"github.com/aptutil/aptcore/pkg/config"
)

// Capability flags a method announces at startup.
type CapFlags uint

const (
	SingleInstance CapFlags = 1 << iota
	Pipeline
	SendConfig
	LocalOnly
	NeedsCleanup
	Removable
	AuxRequests
	SendURIEncoded
)

// FetchItem is one queued acquire request.
type FetchItem struct {
	URI          aptcore.URI
	RawURI       string
	DestFile     string
	LastModified time.Time
	Expected     aptcore.HashStringList
	IndexFile    bool
	MaximumSize  int64
	FailIgnore   bool
}

// FetchResult describes a completed fetch for URI Done reporting.
type FetchResult struct {
	Filename     string
	Size         int64
	LastModified time.Time
	Hashes       aptcore.HashStringList
	ResumePoint  int64
	IMSHit       bool
	AltURIs      []string
}

// TakeHashes snapshots a live hasher into the result.
func (r *FetchResult) TakeHashes(h *aptcore.MultiHasher) {
	r.Hashes = h.Result()
}

// Handler is the per-scheme fetch hook a concrete method provides.
type Handler interface {
	// Fetch acquires one item, reporting progress through m.
	Fetch(ctx context.Context, m *Method, item *FetchItem) error
}

// BatchHandler is implemented by methods that pipeline: items are
// enqueued as they arrive and processed together so several requests
// can be in flight on one connection.
type BatchHandler interface {
	Handler
	Enqueue(item *FetchItem)
	Process(ctx context.Context, m *Method) error
}

// Configurable is implemented by handlers that want a look at the
// configuration tree once it has arrived.
type Configurable interface {
	Configure(ctx context.Context, m *Method) error
}

// Method is the shared state machine: it parses scheduler messages,
// dispatches fetches, and serializes every report on stdout.
type Method struct {
	Name    string
	Version string
	Flags   CapFlags
	Config  *config.Tree
	Errs    aptcore.ErrorStack

	handler Handler
	in      io.Reader
	outMu   sync.Mutex
	out     io.Writer

	exitFlush  func()
	configured bool
}

// New constructs a Method around a handler.
func New(name, version string, flags CapFlags, h Handler) *Method {
	return &Method{
		Name:    name,
		Version: version,
		Flags:   flags,
		Config:  config.New(),
		handler: h,
		in:      os.Stdin,
		out:     os.Stdout,
	}
}

// SetStreams overrides stdin/stdout, for tests.
func (m *Method) SetStreams(in io.Reader, out io.Writer) {
	m.in = in
	m.out = out
}

// OnExitFlush registers a hook run when a termination signal arrives,
// before the process exits with status 100.
func (m *Method) OnExitFlush(f func()) { m.exitFlush = f }

func (m *Method) send(msg *Message) {
	m.outMu.Lock()
	defer m.outMu.Unlock()
	io.WriteString(m.out, msg.String())
}

// Capabilities emits the 100 greeting.
func (m *Method) Capabilities() {
	msg := &Message{Code: CodeCapabilities, Phrase: "Capabilities"}
	msg.Set("Version", m.Version)
	if m.Flags&SingleInstance != 0 {
		msg.Set("Single-Instance", "true")
	}
	if m.Flags&Pipeline != 0 {
		msg.Set("Pipeline", "true")
	}
	if m.Flags&SendConfig != 0 {
		msg.Set("Send-Config", "true")
	}
	if m.Flags&LocalOnly != 0 {
		msg.Set("Local-Only", "true")
	}
	if m.Flags&NeedsCleanup != 0 {
		msg.Set("Needs-Cleanup", "true")
	}
	if m.Flags&Removable != 0 {
		msg.Set("Removable", "true")
	}
	if m.Flags&AuxRequests != 0 {
		msg.Set("AuxRequests", "true")
	}
	if m.Flags&SendURIEncoded != 0 {
		msg.Set("Send-URI-Encoded", "true")
	}
	m.send(msg)
}

// Log emits a 101 message.
func (m *Method) Log(format string, args ...any) {
	msg := &Message{Code: CodeLog, Phrase: "Log"}
	msg.Set("Message", fmt.Sprintf(format, args...))
	m.send(msg)
}

// Warning emits a 104 message.
func (m *Method) Warning(format string, args ...any) {
	msg := &Message{Code: CodeWarning, Phrase: "Warning"}
	msg.Set("Message", fmt.Sprintf(format, args...))
	m.send(msg)
}

// Status emits a 102 human-readable progress message.
func (m *Method) Status(format string, args ...any) {
	msg := &Message{Code: CodeStatus, Phrase: "Status"}
	msg.Set("Message", fmt.Sprintf(format, args...))
	m.send(msg)
}

// Redirect emits a 103 message pointing the scheduler at a new URI.
func (m *Method) Redirect(item *FetchItem, newURI string) {
	msg := &Message{Code: CodeRedirect, Phrase: "Redirect"}
	msg.Set("URI", item.RawURI)
	msg.Set("New-URI", newURI)
	m.send(msg)
}

// URIStart emits the 200 message for an item.
func (m *Method) URIStart(item *FetchItem, size int64, lastModified time.Time, resumePoint int64) {
	msg := &Message{Code: CodeURIStart, Phrase: "URI Start"}
	msg.Set("URI", item.RawURI)
	if size > 0 {
		msg.Set("Size", strconv.FormatInt(size, 10))
	}
	if !lastModified.IsZero() {
		msg.Set("Last-Modified", aptcore.TimeRFC1123(lastModified))
	}
	if resumePoint > 0 {
		msg.Set("Resume-Point", strconv.FormatInt(resumePoint, 10))
	}
	m.send(msg)
}

// URIDone emits the 201 message with the result's hashes.
func (m *Method) URIDone(item *FetchItem, res *FetchResult) {
	msg := &Message{Code: CodeURIDone, Phrase: "URI Done"}
	msg.Set("URI", item.RawURI)
	if res.Filename != "" {
		msg.Set("Filename", res.Filename)
	}
	if res.Size > 0 {
		msg.Set("Size", strconv.FormatInt(res.Size, 10))
	}
	if !res.LastModified.IsZero() {
		msg.Set("Last-Modified", aptcore.TimeRFC1123(res.LastModified))
	}
	for _, h := range res.Hashes.Entries() {
		msg.Add(h.Type()+"-Hash", h.Value())
	}
	if res.ResumePoint > 0 {
		msg.Set("Resume-Point", strconv.FormatInt(res.ResumePoint, 10))
	}
	if res.IMSHit {
		msg.Set("IMS-Hit", "true")
	}
	for _, alt := range res.AltURIs {
		msg.Add("Alt-URIs", alt)
	}
	m.send(msg)
}

// Fail emits a 400 message for the item. Transient failures carry
// Transient-Failure: true so the scheduler may retry.
func (m *Method) Fail(item *FetchItem, err error, transient bool) {
	msg := &Message{Code: CodeURIFailure, Phrase: "URI Failure"}
	if item != nil {
		msg.Set("URI", item.RawURI)
	}
	text := "failed"
	if err != nil {
		text = err.Error()
	} else if top, ok := m.Errs.Top(); ok {
		text = top.Msg
	}
	msg.Set("Message", text)
	if reason := failReason(err); reason != "" {
		msg.Set("FailReason", reason)
	}
	if transient {
		msg.Set("Transient-Failure", "true")
	}
	m.send(msg)
	m.Errs.Clear()
}

// failReason maps well-known errors to scheduler fail reasons.
func failReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "Timeout"
	case errors.Is(err, ErrConnectionRefused):
		return "ConnectionRefused"
	case errors.Is(err, ErrConnectionTimedOut):
		return "ConnectionTimedOut"
	case errors.Is(err, ErrResolveFailure):
		return "ResolveFailure"
	case errors.Is(err, ErrTmpResolveFailure):
		return "TmpResolveFailure"
	case errors.Is(err, ErrHashMismatch):
		return "HashSumMismatch"
	case errors.Is(err, ErrMaximumSize):
		return "MaximumSizeExceeded"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrRedirectLoop), errors.Is(err, ErrRedirectForbidden):
		return "RedirectionLoop"
	}
	return ""
}

// Shared method error taxonomy (spec §7).
var (
	ErrTimeout            = errors.New("method: connection timed out waiting for data")
	ErrConnectionRefused  = errors.New("method: connection refused")
	ErrConnectionTimedOut = errors.New("method: connection timed out")
	ErrResolveFailure     = errors.New("method: could not resolve host")
	ErrTmpResolveFailure  = errors.New("method: temporary failure resolving host")
	ErrHashMismatch       = errors.New("method: hash sum mismatch")
	ErrMaximumSize        = errors.New("method: file is larger than expected")
	ErrNotFound           = errors.New("method: file not found")
	ErrRedirectLoop       = errors.New("method: redirection loop")
	ErrRedirectForbidden  = errors.New("method: redirect not allowed by policy")
	ErrProtocol           = errors.New("method: protocol error")
)

// DequeueLimiter returns a rate limiter honoring
// Acquire::<name>::Dl-Limit (kilobytes per second), or nil.
func (m *Method) DequeueLimiter() *rate.Limiter {
	kb := m.Config.FindI("Acquire::"+m.Name+"::Dl-Limit", 0)
	if kb <= 0 {
		return nil
	}
	bps := rate.Limit(kb * 1024)
	return rate.NewLimiter(bps, kb*1024)
}

// Timeout returns the configured soft deadline for network waits.
func (m *Method) Timeout() time.Duration {
	secs := m.Config.FindI("Acquire::"+m.Name+"::Timeout", 120)
	return time.Duration(secs) * time.Second
}

// parseConfig installs 601 Config-Item headers into the tree, then
// drops privileges if so configured.
func (m *Method) parseConfig(ctx context.Context, msg *Message) error {
	for _, item := range msg.Values("Config-Item") {
		decoded, _ := aptcore.DeQuoteString(item)
		eq := strings.IndexByte(decoded, '=')
		if eq == -1 {
			continue
		}
		m.Config.Set(decoded[:eq], decoded[eq+1:])
	}
	m.configured = true
	if err := m.DropPrivilegesOrDie(); err != nil {
		return err
	}
	if c, ok := m.handler.(Configurable); ok {
		return c.Configure(ctx, m)
	}
	return nil
}

// parseAcquire builds a FetchItem from a 600 message.
func (m *Method) parseAcquire(msg *Message) (*FetchItem, error) {
	raw := msg.Get("URI")
	if raw == "" {
		return nil, fmt.Errorf("%w: 600 without URI", ErrProtocol)
	}
	uri := raw
	if m.Flags&SendURIEncoded == 0 {
		if dec, ok := aptcore.DeQuoteString(raw); ok {
			uri = dec
		}
	}
	item := &FetchItem{
		URI:      aptcore.ParseURI(uri),
		RawURI:   raw,
		DestFile: msg.Get("Filename"),
	}
	if lm := msg.Get("Last-Modified"); lm != "" {
		if t, err := aptcore.ParseRFC1123(lm); err == nil {
			item.LastModified = t
		}
	}
	for _, typ := range append([]string{aptcore.FileSize}, aptcore.HashTypes...) {
		if v := msg.Get("Expected-" + typ); v != "" {
			item.Expected.Push(aptcore.NewHashString(typ, v))
		}
	}
	if ms := msg.Get("Maximum-Size"); ms != "" {
		item.MaximumSize, _ = strconv.ParseInt(ms, 10, 64)
	}
	item.IndexFile = strings.EqualFold(msg.Get("Index-File"), "true")
	item.FailIgnore = strings.EqualFold(msg.Get("Fail-Ignore"), "true")
	return item, nil
}

// Run announces capabilities and processes scheduler messages until
// stdin closes. A termination signal flushes via the registered hook
// and exits with status 100.
func (m *Method) Run(ctx context.Context) error {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigc)
	go func() {
		<-sigc
		if m.exitFlush != nil {
			m.exitFlush()
		}
		os.Exit(100)
	}()

	slog.SetDefault(slog.New(NewProtocolHandler(m, slog.LevelInfo)))

	m.Capabilities()

	msgs := make(chan *Message, 64)
	readErr := make(chan error, 1)
	go func() {
		mr := NewMessageReader(m.in)
		for {
			msg, err := mr.Next()
			if err != nil {
				readErr <- err
				close(msgs)
				return
			}
			msgs <- msg
		}
	}()

	batch, _ := m.handler.(BatchHandler)
	handle := func(msg *Message) error {
		switch msg.Code {
		case CodeConfig:
			return m.parseConfig(ctx, msg)
		case CodeURIAcquire:
			item, err := m.parseAcquire(msg)
			if err != nil {
				m.Fail(nil, err, false)
				return nil
			}
			if batch != nil {
				batch.Enqueue(item)
				return nil
			}
			if err := m.handler.Fetch(ctx, m, item); err != nil {
				m.Fail(item, err, isTransient(err))
			}
		default:
			// Unknown messages are ignored, matching the tolerant
			// reader on the scheduler side.
		}
		return nil
	}

	for {
		msg, ok := <-msgs
		if !ok {
			err := <-readErr
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("method: reading scheduler message: %w", err)
		}
		if err := handle(msg); err != nil {
			return err
		}
		// Drain whatever else has already arrived so a pipelining
		// method sees the whole burst before processing.
	Drain:
		for {
			select {
			case more, ok := <-msgs:
				if !ok {
					break Drain
				}
				if err := handle(more); err != nil {
					return err
				}
			default:
				break Drain
			}
		}
		if batch != nil {
			if err := batch.Process(ctx, m); err != nil {
				return err
			}
		}
	}
}

// isTransient classifies an error for the Transient-Failure header.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, ErrTimeout),
		errors.Is(err, ErrConnectionRefused),
		errors.Is(err, ErrConnectionTimedOut),
		errors.Is(err, ErrTmpResolveFailure),
		errors.Is(err, ErrProtocol):
		return true
	}
	var nerr interface{ Temporary() bool }
	if errors.As(err, &nerr) {
		return nerr.Temporary()
	}
	return false
}
