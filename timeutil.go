package aptcore

import (
	"fmt"
	"time"
)

// rfc1123Layouts are the three date shapes accepted on the wire, per
// RFC 7231 §7.1.1.1: the preferred IMF-fixdate, the obsolete RFC 850
// form, and asctime. Numeric timezone variants are accepted as well.
var rfc1123Layouts = []string{
	"Mon, 02 Jan 2006 15:04:05 MST",
	"Mon, 02 Jan 2006 15:04:05 -0700",
	"Monday, 02-Jan-06 15:04:05 MST",
	"Monday, 02-Jan-06 15:04:05 -0700",
	"Mon Jan _2 15:04:05 2006",
}

// ParseRFC1123 parses a wire-format HTTP date. Anything outside the
// three canonical shapes is rejected.
func ParseRFC1123(s string) (time.Time, error) {
	for _, layout := range rfc1123Layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("aptcore: unparsable date %q", s)
}

// TimeRFC1123 formats t for the wire in the C locale, always GMT.
func TimeRFC1123(t time.Time) string {
	return t.UTC().Format("Mon, 02 Jan 2006 15:04:05") + " GMT"
}

// ParseFTPMDTM parses the YYYYMMDDHHMMSS reply to an FTP MDTM command.
func ParseFTPMDTM(s string) (time.Time, error) {
	t, err := time.Parse("20060102150405", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("aptcore: unparsable MDTM stamp %q", s)
	}
	return t.UTC(), nil
}
