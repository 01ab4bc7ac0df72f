package buffile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// GetLock takes a write lock on path, creating it as needed. The open
// refuses to follow a symlink so a hostile link cannot redirect the
// lock. The returned file must stay open for as long as the lock is
// held.
//
// When the lock is already held elsewhere and the environment carries
// DPKG_FRONTEND_LOCKED, the caller is running under an outer holder
// and the conflict is reported as such.
func GetLock(path string) (*os.File, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0o640)
	if err != nil {
		return nil, fmt.Errorf("buffile: opening lock file %s: %w", path, err)
	}
	f := os.NewFile(uintptr(fd), path)
	lk := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: int16(os.SEEK_SET),
	}
	if err := unix.FcntlFlock(f.Fd(), unix.F_OFD_SETLK, &lk); err != nil {
		f.Close()
		if os.Getenv("DPKG_FRONTEND_LOCKED") != "" {
			return nil, fmt.Errorf("buffile: %s is held by the invoking frontend: %w", path, err)
		}
		return nil, fmt.Errorf("buffile: could not get lock %s: %w", path, err)
	}
	return f, nil
}
