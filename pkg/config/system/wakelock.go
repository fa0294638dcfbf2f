package system

const (
	WakeLockBackendMemory = "memory"
	WakeLockBackendSysfs  = "sysfs"
)

type WakeLockConfig struct {
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	// Directory holding wake_lock and wake_unlock.
	SysfsRoot string `json:"sysfs_root,omitempty" yaml:"sysfs_root,omitempty"`
}
