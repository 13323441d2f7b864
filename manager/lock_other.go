//go:build windows

package manager

// dirLock is a no-op placeholder on windows, where flock-style advisory
// locking needs a different primitive than unix.Flock. Matches the split
// bbolt itself uses between bolt_unix.go and bolt_windows.go.
type dirLock struct{}

func lockDir(dir string) (*dirLock, error) { return &dirLock{}, nil }

func (l *dirLock) unlock() error { return nil }
