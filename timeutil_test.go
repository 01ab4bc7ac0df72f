package aptcore

import (
	"testing"
	"time"
)

func TestParseRFC1123(t *testing.T) {
	want := time.Date(1994, time.November, 6, 8, 49, 37, 0, time.UTC)
	accepted := []string{
		"Sun, 06 Nov 1994 08:49:37 GMT",
		"Sunday, 06-Nov-94 08:49:37 GMT",
		"Sun Nov  6 08:49:37 1994",
		"Sun, 06 Nov 1994 08:49:37 +0000",
	}
	for _, in := range accepted {
		got, err := ParseRFC1123(in)
		if err != nil {
			t.Errorf("ParseRFC1123(%q): %v", in, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("ParseRFC1123(%q) = %v, want %v", in, got, want)
		}
	}

	rejected := []string{
		"06 Nov 1994 08:49:37",
		"1994-11-06T08:49:37Z",
		"garbage",
		"",
	}
	for _, in := range rejected {
		if _, err := ParseRFC1123(in); err == nil {
			t.Errorf("ParseRFC1123(%q) accepted", in)
		}
	}
}

func TestTimeRFC1123RoundTrip(t *testing.T) {
	at := time.Date(2023, time.March, 7, 12, 0, 1, 0, time.UTC)
	s := TimeRFC1123(at)
	if s != "Tue, 07 Mar 2023 12:00:01 GMT" {
		t.Errorf("TimeRFC1123 = %q", s)
	}
	back, err := ParseRFC1123(s)
	if err != nil {
		t.Fatal(err)
	}
	if !back.Equal(at) {
		t.Errorf("round trip = %v, want %v", back, at)
	}
}

func TestParseFTPMDTM(t *testing.T) {
	got, err := ParseFTPMDTM("19941106084937")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(1994, time.November, 6, 8, 49, 37, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("ParseFTPMDTM = %v, want %v", got, want)
	}
	if _, err := ParseFTPMDTM("1994"); err == nil {
		t.Error("short stamp accepted")
	}
}
