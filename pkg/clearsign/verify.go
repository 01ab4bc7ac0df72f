package clearsign

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/openpgp"

	"github.com/aptutil/aptcore/pkg/config"
)

// Errors reported by verification.
var (
	ErrNoKeyring        = errors.New("clearsign: no keyring available for verification")
	ErrSignatureInvalid = errors.New("clearsign: signature verification failed")
	ErrNoSigners        = errors.New("clearsign: verifier reported no signers")
)

// Verifier runs an sqv-compatible binary against a keyring set.
type Verifier struct {
	cfg *config.Tree
}

// NewVerifier builds a Verifier over the configuration tree; nil uses
// defaults everywhere.
func NewVerifier(cfg *config.Tree) *Verifier {
	if cfg == nil {
		cfg = config.New()
	}
	return &Verifier{cfg: cfg}
}

func (v *Verifier) binary() string {
	return v.cfg.Find("APT::Sequoia::Binary", "sqv")
}

// keyrings resolves the keyring file set. signedBy may be a file path,
// a comma/space separated fingerprint list, or an armored key block;
// fingerprints restrict the accepted signer set, a key block is spooled
// to a temp keyring. With no override, every *.gpg/*.asc under
// trusted.d plus the deprecated trusted.gpg is used.
//
// The returned cleanup removes any spooled temp file.
func (v *Verifier) keyrings(signedBy string) (files []string, allowed []string, cleanup func(), err error) {
	cleanup = func() {}
	signedBy = strings.TrimSpace(signedBy)
	switch {
	case signedBy == "":
		dir := v.cfg.FindDir("Dir::Etc::TrustedParts", "/etc/apt/trusted.gpg.d/")
		entries, derr := os.ReadDir(dir)
		if derr == nil {
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				switch filepath.Ext(e.Name()) {
				case ".gpg", ".asc":
					files = append(files, filepath.Join(dir, e.Name()))
				}
			}
		}
		if legacy := v.cfg.Find("Dir::Etc::Trusted", "/etc/apt/trusted.gpg"); legacy != "" {
			if _, serr := os.Stat(legacy); serr == nil {
				files = append(files, legacy)
			}
		}
	case strings.HasPrefix(signedBy, "-----BEGIN PGP PUBLIC KEY BLOCK-----"):
		ring, perr := openpgp.ReadArmoredKeyRing(strings.NewReader(signedBy))
		if perr != nil {
			return nil, nil, cleanup, fmt.Errorf("clearsign: parsing inline key block: %w", perr)
		}
		for _, ent := range ring {
			allowed = append(allowed, fmt.Sprintf("%X", ent.PrimaryKey.Fingerprint))
		}
		tmp, terr := os.CreateTemp(os.TempDir(), "apt-key.*.asc")
		if terr != nil {
			return nil, nil, cleanup, terr
		}
		if _, werr := tmp.WriteString(signedBy); werr != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return nil, nil, cleanup, werr
		}
		tmp.Close()
		name := tmp.Name()
		cleanup = func() { os.Remove(name) }
		files = append(files, name)
	case isFingerprintList(signedBy):
		for _, fpr := range strings.FieldsFunc(signedBy, func(r rune) bool { return r == ',' || r == ' ' }) {
			if fpr != "" {
				allowed = append(allowed, strings.ToUpper(fpr))
			}
		}
		// Restricting by fingerprint still verifies against the
		// regular trust store.
		files, _, _, err = v.keyrings("")
		if err != nil {
			return nil, nil, cleanup, err
		}
	default:
		files = append(files, signedBy)
	}
	if len(files) == 0 {
		return nil, nil, cleanup, ErrNoKeyring
	}
	return files, allowed, cleanup, nil
}

func isFingerprintList(s string) bool {
	n := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
			n++
		case r == ',' || r == ' ':
		default:
			return false
		}
	}
	return n >= 32
}

// Verify checks the detached signature over payload against the
// resolved keyrings and returns the accepted signer fingerprints.
func (v *Verifier) Verify(ctx context.Context, signaturePath, payloadPath, signedBy string) ([]string, error) {
	files, allowed, cleanup, err := v.keyrings(signedBy)
	defer cleanup()
	if err != nil {
		return nil, err
	}

	args := make([]string, 0, 2*len(files)+2)
	for _, k := range files {
		args = append(args, "--keyring", k)
	}
	args = append(args, signaturePath, payloadPath)
	cmd := exec.CommandContext(ctx, v.binary(), args...)
	cmd.Env = os.Environ()
	if pol := v.cfg.Find("APT::Sequoia::CryptoPolicy"); pol != "" {
		cmd.Env = append(cmd.Env, "SEQUOIA_CRYPTO_POLICY="+pol)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %v (%s)", ErrSignatureInvalid, err, strings.TrimSpace(stderr.String()))
	}

	var signers []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			signers = append(signers, strings.ToUpper(line))
		}
	}
	if len(signers) == 0 {
		return nil, ErrNoSigners
	}
	if len(allowed) > 0 {
		var matched []string
		for _, s := range signers {
			for _, a := range allowed {
				if strings.EqualFold(s, a) {
					matched = append(matched, s)
					break
				}
			}
		}
		if len(matched) == 0 {
			return nil, fmt.Errorf("%w: no signer matches the signed-by restriction", ErrSignatureInvalid)
		}
		signers = matched
	}
	return signers, nil
}

// VerifyClearsigned splits a clearsigned file into temp spools and
// verifies it in one step, returning the payload path. The caller owns
// the returned payload file and must remove it.
func (v *Verifier) VerifyClearsigned(ctx context.Context, path, signedBy string) (payload string, signers []string, err error) {
	dir := os.TempDir()
	pf, err := os.CreateTemp(dir, "apt-payload.*")
	if err != nil {
		return "", nil, err
	}
	sf, err := os.CreateTemp(dir, "apt-sig.*.asc")
	if err != nil {
		pf.Close()
		os.Remove(pf.Name())
		return "", nil, err
	}
	pf.Close()
	sf.Close()
	defer os.Remove(sf.Name())

	ok := false
	defer func() {
		if !ok {
			os.Remove(pf.Name())
		}
	}()

	signed, err := SplitFile(path, pf.Name(), sf.Name())
	if err != nil {
		return "", nil, err
	}
	if !signed {
		return "", nil, fmt.Errorf("%w: %s is not clearsigned", ErrSignatureInvalid, path)
	}
	signers, err = v.Verify(ctx, sf.Name(), pf.Name(), signedBy)
	if err != nil {
		return "", nil, err
	}
	ok = true
	return pf.Name(), signers, nil
}
