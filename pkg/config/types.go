package config

import (
	"github.com/veesix-networks/osvlease/pkg/config/interfaces"
	"github.com/veesix-networks/osvlease/pkg/config/ip"
	"github.com/veesix-networks/osvlease/pkg/config/system"
)

type Config struct {
	Logging    system.LoggingConfig                   `json:"logging,omitempty" yaml:"logging,omitempty"`
	OpDB       system.OpDBConfig                      `json:"opdb,omitempty" yaml:"opdb,omitempty"`
	API        system.APIConfig                       `json:"api,omitempty" yaml:"api,omitempty"`
	Monitoring system.MonitoringConfig                `json:"monitoring,omitempty" yaml:"monitoring,omitempty"`
	WakeLock   system.WakeLockConfig                  `json:"wakelock,omitempty" yaml:"wakelock,omitempty"`
	DHCP       ip.DHCPClientConfig                    `json:"dhcp,omitempty" yaml:"dhcp,omitempty"`
	Interfaces map[string]*interfaces.InterfaceConfig `json:"interfaces,omitempty" yaml:"interfaces,omitempty"`
}
