package method

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestParseMessage(t *testing.T) {
	text := "600 URI Acquire\nURI: http://ex.org/a\nFilename: /tmp/a\nExpected-SHA256: e3b0\n"
	m, err := ParseMessage(text)
	if err != nil {
		t.Fatal(err)
	}
	if m.Code != 600 || m.Phrase != "URI Acquire" {
		t.Errorf("status = %d %q", m.Code, m.Phrase)
	}
	if got := m.Get("uri"); got != "http://ex.org/a" {
		t.Errorf("case-insensitive Get = %q", got)
	}
	if got := m.Get("Missing"); got != "" {
		t.Errorf("absent header = %q", got)
	}
}

func TestParseMessageContinuation(t *testing.T) {
	text := "601 Configuration\nConfig-Item: a=first\n second\nConfig-Item: b=2\n"
	m, err := ParseMessage(text)
	if err != nil {
		t.Fatal(err)
	}
	vals := m.Values("Config-Item")
	if len(vals) != 2 {
		t.Fatalf("values = %v", vals)
	}
	if vals[0] != "a=first\nsecond" {
		t.Errorf("continuation = %q", vals[0])
	}
}

func TestParseMessageRejects(t *testing.T) {
	for _, text := range []string{"", "notastatus\n", "99 too low\n", "600 ok\nbroken header\n"} {
		if _, err := ParseMessage(text); err == nil {
			t.Errorf("ParseMessage(%q) accepted", text)
		}
	}
}

func TestMessageString(t *testing.T) {
	m := &Message{Code: 201, Phrase: "URI Done"}
	m.Set("URI", "http://ex.org/a")
	m.Set("Size", "1234")
	want := "201 URI Done\nURI: http://ex.org/a\nSize: 1234\n\n"
	if got := m.String(); got != want {
		t.Errorf("String = %q, want %q", got, want)
	}
}

func TestMessageReaderSplitsOnBlankLines(t *testing.T) {
	stream := "100 Capabilities\nVersion: 1.0\n\n600 URI Acquire\nURI: http://a\n\r\n601 Configuration\n\n"
	mr := NewMessageReader(strings.NewReader(stream))
	var codes []int
	for {
		m, err := mr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		codes = append(codes, m.Code)
	}
	if len(codes) != 3 || codes[0] != 100 || codes[1] != 600 || codes[2] != 601 {
		t.Errorf("codes = %v", codes)
	}
}

func TestMessageReaderPartialAtEOF(t *testing.T) {
	mr := NewMessageReader(strings.NewReader("102 Status\nMessage: done"))
	m, err := mr.Next()
	if err != nil {
		t.Fatal(err)
	}
	if m.Code != 102 || m.Get("Message") != "done" {
		t.Errorf("partial final message = %+v", m)
	}
	if _, err := mr.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF, got %v", err)
	}
}
