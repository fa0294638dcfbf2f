package logger

const (
	Main       = "main"
	Lease      = "lease"
	Controller = "controller"
	Native     = "native"
	NativeV4   = "native.dhcp4"
	NativeV6   = "native.dhcp6"
	Alarm      = "alarm"
	WakeLock   = "wakelock"
	NetConf    = "netconf"
	Events     = "events"
	OpDB       = "opdb"
	Config     = "config"
	Exporter   = "exporter"
	Gateway    = "gateway"
)
