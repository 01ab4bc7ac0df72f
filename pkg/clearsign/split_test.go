package clearsign

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

const signedInput = `-----BEGIN PGP SIGNED MESSAGE-----
Hash: SHA512

Test
-----BEGIN PGP SIGNATURE-----

iQFEBAEBCgAuFiEENKjp0Y2zIPNn6Oqg
=aBcD
-----END PGP SIGNATURE-----
`

func TestSplitClearsigned(t *testing.T) {
	var payload, sig bytes.Buffer
	signed, err := Split(strings.NewReader(signedInput), &payload, &sig)
	if err != nil {
		t.Fatal(err)
	}
	if !signed {
		t.Fatal("clearsigned input reported unsigned")
	}
	if payload.String() != "Test\n" {
		t.Errorf("payload = %q, want \"Test\\n\"", payload.String())
	}
	s := sig.String()
	if !strings.HasPrefix(s, "-----BEGIN PGP SIGNATURE-----\n") ||
		!strings.HasSuffix(s, "-----END PGP SIGNATURE-----\n") {
		t.Errorf("signature block malformed:\n%s", s)
	}
	if !strings.Contains(s, "=aBcD") {
		t.Error("armor content lost")
	}
}

func TestSplitUnsignedCopiesVerbatim(t *testing.T) {
	in := "Origin: Debian\nSuite: stable\n\nplain text\n"
	var payload bytes.Buffer
	signed, err := Split(strings.NewReader(in), &payload, nil)
	if err != nil {
		t.Fatal(err)
	}
	if signed {
		t.Error("unsigned input reported signed")
	}
	if payload.String() != in {
		t.Errorf("verbatim copy changed: %q", payload.String())
	}
}

func TestSplitDashEscape(t *testing.T) {
	in := "-----BEGIN PGP SIGNED MESSAGE-----\nHash: SHA256\n\n- - leading dash\n- -----fake armor\nplain\n-----BEGIN PGP SIGNATURE-----\nxyz\n-----END PGP SIGNATURE-----\n"
	var payload bytes.Buffer
	if _, err := Split(strings.NewReader(in), &payload, nil); err != nil {
		t.Fatal(err)
	}
	want := "- leading dash\n-----fake armor\nplain\n"
	if payload.String() != want {
		t.Errorf("payload = %q, want %q", payload.String(), want)
	}
}

func TestSplitUnescapedDashRejected(t *testing.T) {
	in := "-----BEGIN PGP SIGNED MESSAGE-----\n\n-bare dash\n-----BEGIN PGP SIGNATURE-----\nx\n-----END PGP SIGNATURE-----\n"
	_, err := Split(strings.NewReader(in), nil, nil)
	if !errors.Is(err, ErrUnexpectedDash) {
		t.Errorf("err = %v, want ErrUnexpectedDash", err)
	}
}

func TestSplitTrailingGarbageRejected(t *testing.T) {
	in := signedInput + "trailing garbage\n"
	_, err := Split(strings.NewReader(in), nil, nil)
	if !errors.Is(err, ErrTrailingLines) {
		t.Errorf("err = %v, want ErrTrailingLines", err)
	}
}

func TestSplitConcatenatedSignatures(t *testing.T) {
	in := signedInput + "-----BEGIN PGP SIGNATURE-----\nsecond\n-----END PGP SIGNATURE-----\n"
	var sig bytes.Buffer
	_, err := Split(strings.NewReader(in), nil, &sig)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(sig.String(), "-----BEGIN PGP SIGNATURE-----"); got != 2 {
		t.Errorf("signature blocks = %d, want 2", got)
	}
}

func TestSplitMissingSignatureRejected(t *testing.T) {
	in := "-----BEGIN PGP SIGNED MESSAGE-----\nHash: SHA256\n\nTest\n"
	_, err := Split(strings.NewReader(in), nil, nil)
	if !errors.Is(err, ErrNoSignature) {
		t.Errorf("err = %v, want ErrNoSignature", err)
	}
}

func TestSplitMalformedArmorHeader(t *testing.T) {
	in := "-----BEGIN PGP SIGNED MESSAGE-----\nnot a header\n\nTest\n-----BEGIN PGP SIGNATURE-----\nx\n-----END PGP SIGNATURE-----\n"
	_, err := Split(strings.NewReader(in), nil, nil)
	if !errors.Is(err, ErrMalformedHeader) {
		t.Errorf("err = %v, want ErrMalformedHeader", err)
	}
}

func TestSplitEmptyInput(t *testing.T) {
	signed, err := Split(strings.NewReader(""), nil, nil)
	if err != nil || signed {
		t.Errorf("empty input: signed=%v err=%v", signed, err)
	}
}
