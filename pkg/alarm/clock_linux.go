//go:build linux

package alarm

import (
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// BootClock reads CLOCK_BOOTTIME, which keeps counting while the system is
// suspended. Its timers are timerfds on the same clock, so a renewal due
// during suspend fires on resume instead of a suspend-length later.
type BootClock struct{}

func (BootClock) Elapsed() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &ts); err != nil {
		return time.Since(processStart)
	}
	return time.Duration(ts.Nano())
}

func (BootClock) AfterFunc(d time.Duration, f func()) Timer {
	t, err := newBootTimer(d)
	if err != nil {
		return time.AfterFunc(d, f)
	}

	go func() {
		var buf [8]byte
		_, err := t.file.Read(buf[:])
		t.Stop()
		if err == nil {
			f()
		}
	}()
	return t
}

type bootTimer struct {
	file *os.File
	once sync.Once
}

// Stop closes the timerfd, which also unblocks the waiting goroutine.
func (t *bootTimer) Stop() bool {
	stopped := false
	t.once.Do(func() {
		stopped = true
		t.file.Close()
	})
	return stopped
}

func newBootTimer(d time.Duration) (*bootTimer, error) {
	const flags = unix.TFD_NONBLOCK | unix.TFD_CLOEXEC

	// CLOCK_BOOTTIME_ALARM wakes the system but needs CAP_WAKE_ALARM.
	fd, err := unix.TimerfdCreate(unix.CLOCK_BOOTTIME_ALARM, flags)
	if err != nil {
		fd, err = unix.TimerfdCreate(unix.CLOCK_BOOTTIME, flags)
		if err != nil {
			return nil, err
		}
	}

	// A zero value disarms a timerfd.
	if d <= 0 {
		d = time.Nanosecond
	}
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(int64(d))}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &bootTimer{file: os.NewFile(uintptr(fd), "alarm-timerfd")}, nil
}
