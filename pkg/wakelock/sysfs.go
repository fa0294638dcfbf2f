package wakelock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const DefaultSysfsRoot = "/sys/power"

// Sysfs drives the kernel wake-lock interface. The kernel drops a lock
// acquired with a timeout on its own.
type Sysfs struct {
	Root string
}

func NewSysfs(root string) *Sysfs {
	if root == "" {
		root = DefaultSysfsRoot
	}
	return &Sysfs{Root: root}
}

// Available reports whether the kernel exposes wake-locks.
func (s *Sysfs) Available() bool {
	_, err := os.Stat(filepath.Join(s.Root, "wake_lock"))
	return err == nil
}

func (s *Sysfs) Acquire(name string, timeout time.Duration) error {
	value := name
	if timeout > 0 {
		value += " " + strconv.FormatInt(timeout.Nanoseconds(), 10)
	}
	return s.write("wake_lock", value)
}

func (s *Sysfs) Release(name string) error {
	return s.write("wake_unlock", name)
}

func (s *Sysfs) write(file, value string) error {
	path := filepath.Join(s.Root, file)
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(value); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
