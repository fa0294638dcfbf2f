//go:build !linux

package alarm

import "time"

// BootClock falls back to the process monotonic clock outside Linux.
type BootClock struct{}

func (BootClock) Elapsed() time.Duration {
	return time.Since(processStart)
}

func (BootClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
