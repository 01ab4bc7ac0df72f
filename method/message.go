// Package method implements the acquire-method side of the line
// protocol spoken with the parent scheduler over standard streams, and
// the shared fetch machinery every method builds on.
package method

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Protocol status codes.
const (
	CodeCapabilities = 100
	CodeLog          = 101
	CodeStatus       = 102
	CodeRedirect     = 103
	CodeWarning      = 104
	CodeURIStart     = 200
	CodeURIDone      = 201
	CodeAuxRequest   = 351
	CodeURIFailure   = 400
	CodeGeneralFail  = 401
	CodeAuthorize    = 402
	CodeMediaChange  = 403
	CodeURIAcquire   = 600
	CodeConfig       = 601
	CodeAuthReply    = 602
	CodeMediaReply   = 603
)

// Message is one protocol message: a status line plus RFC-822-style
// headers up to a blank line.
type Message struct {
	Code    int
	Phrase  string
	headers []header
}

type header struct {
	name  string
	value string
}

// Get returns the first header with the given name, case-insensitively.
func (m *Message) Get(name string) string {
	for _, h := range m.headers {
		if strings.EqualFold(h.name, name) {
			return h.value
		}
	}
	return ""
}

// Set appends or replaces a header.
func (m *Message) Set(name, value string) {
	for i := range m.headers {
		if strings.EqualFold(m.headers[i].name, name) {
			m.headers[i].value = value
			return
		}
	}
	m.headers = append(m.headers, header{name: name, value: value})
}

// Values returns every value carried under name, in order.
func (m *Message) Values(name string) []string {
	var out []string
	for _, h := range m.headers {
		if strings.EqualFold(h.name, name) {
			out = append(out, h.value)
		}
	}
	return out
}

// Add appends a header without replacing existing ones.
func (m *Message) Add(name, value string) {
	m.headers = append(m.headers, header{name: name, value: value})
}

// String renders the message for the wire, terminated by a blank line.
func (m *Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s\n", m.Code, m.Phrase)
	for _, h := range m.headers {
		fmt.Fprintf(&b, "%s: %s\n", h.name, h.value)
	}
	b.WriteByte('\n')
	return b.String()
}

// ParseMessage parses one complete message (without its terminating
// blank line). Continuation lines starting with whitespace extend the
// previous header.
func ParseMessage(text string) (*Message, error) {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, errors.New("method: empty message")
	}
	status := strings.TrimRight(lines[0], "\r")
	sp := strings.IndexByte(status, ' ')
	codeStr, phrase := status, ""
	if sp != -1 {
		codeStr, phrase = status[:sp], status[sp+1:]
	}
	code, err := strconv.Atoi(codeStr)
	if err != nil || code < 100 || code > 999 {
		return nil, fmt.Errorf("method: bad status line %q", status)
	}
	m := &Message{Code: code, Phrase: phrase}
	for _, raw := range lines[1:] {
		line := strings.TrimRight(raw, "\r")
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if n := len(m.headers); n > 0 {
				m.headers[n-1].value += "\n" + strings.TrimLeft(line, " \t")
			}
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon == -1 {
			return nil, fmt.Errorf("method: bad header line %q", line)
		}
		m.headers = append(m.headers, header{
			name:  line[:colon],
			value: strings.TrimLeft(line[colon+1:], " \t"),
		})
	}
	return m, nil
}

// MessageReader splits a stream into messages on blank lines ("\n\n",
// "\r\n\r\n" or "\n\r\n"), keeping partial messages buffered between
// calls.
type MessageReader struct {
	r   *bufio.Reader
	buf strings.Builder
}

// NewMessageReader wraps r.
func NewMessageReader(r io.Reader) *MessageReader {
	return &MessageReader{r: bufio.NewReader(r)}
}

// Next blocks for the next complete message. It returns io.EOF once the
// peer has closed with no pending data.
func (mr *MessageReader) Next() (*Message, error) {
	for {
		line, err := mr.r.ReadString('\n')
		if len(line) > 0 {
			if isBlank(line) {
				if mr.buf.Len() > 0 {
					text := mr.buf.String()
					mr.buf.Reset()
					return ParseMessage(text)
				}
				continue
			}
			mr.buf.WriteString(line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if mr.buf.Len() > 0 {
					text := mr.buf.String()
					mr.buf.Reset()
					return ParseMessage(text)
				}
				return nil, io.EOF
			}
			return nil, err
		}
	}
}

func isBlank(line string) bool {
	return line == "\n" || line == "\r\n"
}
