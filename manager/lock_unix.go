//go:build !windows

package manager

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// dirLock is an advisory exclusive lock over a manager's data directory,
// held for the BucketManager's lifetime so two processes never open the
// same bucket directory and archive store at once. This mirrors bbolt's
// own single-writer flock on its data file, applied one level up to the
// directory as a whole.
type dirLock struct {
	f *os.File
}

func lockDir(dir string) (*dirLock, error) {
	path := dir + "/LOCK"
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("manager: opening lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("manager: data directory %s is already locked by another process: %w", dir, err)
	}
	return &dirLock{f: f}, nil
}

func (l *dirLock) unlock() error {
	if l == nil {
		return nil
	}
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
