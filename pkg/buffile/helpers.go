package buffile

import (
	"fmt"
	"io"
	"os"
	"time"
)

// CopyFile streams from one handle to the other in full.
func CopyFile(from, to *File) error {
	if from == nil || to == nil || from.Failed() || to.Failed() {
		return fmt.Errorf("buffile: copy requires two healthy handles")
	}
	if _, err := io.Copy(to, from); err != nil {
		return fmt.Errorf("buffile: copy from %s to %s: %w", from.Name(), to.Name(), err)
	}
	return nil
}

// TransferModificationTimes copies the mtime from one path to the
// other; the access time of the target is set to now.
func TransferModificationTimes(from, to string) error {
	fi, err := os.Stat(from)
	if err != nil {
		return err
	}
	return os.Chtimes(to, time.Now(), fi.ModTime())
}
