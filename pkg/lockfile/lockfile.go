// Package lockfile guards a directory against concurrent writers with an
// exclusively created file holding the owner's pid.
package lockfile

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/shirou/gopsutil/v3/process"
)

// Name is the lock file kiln places in a directory it writes.
const Name = ".kiln-lock"

// PollInterval is how often Take retries a held lock.
var PollInterval = time.Second

// Take creates path exclusively, retrying until it succeeds or ctx is done.
// A lock whose recorded process no longer exists is removed and taken.
// waiting is called each time the lock is found held. The returned func
// releases the lock.
func Take(ctx context.Context, path string, waiting func()) (func(), error) {
	tk := time.NewTicker(PollInterval)
	defer tk.Stop()

	var (
		f   *os.File
		err error
	)

	for {
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			break
		}

		if !os.IsExist(err) {
			return nil, err
		}

		if pid, ok := stale(path); ok {
			hclog.L().Warn("removing stale lock", "path", path, "pid", pid)

			err = os.Remove(path)
			if err != nil && !os.IsNotExist(err) {
				return nil, err
			}

			continue
		}

		if waiting != nil {
			waiting()
		}

		select {
		case <-tk.C:
			// ok
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	f.Close()

	closer := func() {
		os.Remove(path)
	}

	return closer, nil
}

// Holder returns the pid recorded in a held lock.
func Holder(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// stale reports whether the lock at path names a process that has exited.
// A lock still being written has no pid yet and is not stale.
func stale(path string) (int, bool) {
	pid, err := Holder(path)
	if err != nil || pid <= 0 {
		return 0, false
	}

	exists, err := process.PidExists(int32(pid))
	if err != nil {
		return pid, false
	}

	return pid, !exists
}
