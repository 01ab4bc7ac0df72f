package method

import (
	"fmt"
	"os"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// DropPrivilegesOrDie switches to the sandbox user when running as root
// and APT::Sandbox::User names an existing account. Supplementary
// groups, gid and uid are dropped in that order. When
// APT::Sandbox::Verify is set, the real and effective uid and gid are
// checked once all three are dropped; the stages are not checked one
// by one and the supplementary group list is not checked.
//
// The inherited environment (HOME, USER, LOGNAME, SHELL and the TMPDIR
// family) is reset unless APT::Sandbox::ResetEnvironment is disabled.
func (m *Method) DropPrivilegesOrDie() error {
	if m.Config.FindB("Debug::NoDropPrivs", false) {
		return nil
	}
	if os.Geteuid() != 0 {
		return nil
	}
	name := m.Config.Find("APT::Sandbox::User", "_apt")
	if name == "" {
		return nil
	}
	u, err := user.Lookup(name)
	if err != nil {
		// No sandbox account on this system; carry on as root the way
		// the scheduler expects.
		return nil
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("method: bad uid %q for %s: %w", u.Uid, name, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("method: bad gid %q for %s: %w", u.Gid, name, err)
	}

	if err := unix.Setgroups([]int{gid}); err != nil {
		return fmt.Errorf("method: setgroups for %s: %w", name, err)
	}
	if err := unix.Setresgid(gid, gid, gid); err != nil {
		return fmt.Errorf("method: setresgid %d: %w", gid, err)
	}
	if err := unix.Setresuid(uid, uid, uid); err != nil {
		return fmt.Errorf("method: setresuid %d: %w", uid, err)
	}

	if m.Config.FindB("APT::Sandbox::Verify", false) {
		if os.Getuid() != uid || os.Geteuid() != uid {
			return fmt.Errorf("method: uid drop to %d not effective", uid)
		}
		if os.Getgid() != gid || os.Getegid() != gid {
			return fmt.Errorf("method: gid drop to %d not effective", gid)
		}
	}

	if m.Config.FindB("APT::Sandbox::ResetEnvironment", true) {
		os.Setenv("HOME", u.HomeDir)
		os.Setenv("USER", name)
		os.Setenv("LOGNAME", name)
		os.Setenv("SHELL", "/bin/sh")
		for _, env := range []string{"TMPDIR", "TMP", "TEMP", "TEMPDIR"} {
			if d, ok := os.LookupEnv(env); ok {
				if fi, err := os.Stat(d); err != nil || !fi.IsDir() {
					os.Unsetenv(env)
				}
			}
		}
	}
	return nil
}
