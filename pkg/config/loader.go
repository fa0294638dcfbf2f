package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/veesix-networks/osvlease/pkg/config/interfaces"
	"github.com/veesix-networks/osvlease/pkg/config/system"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAPIListen      = "127.0.0.1:50060"
	DefaultMetricsListen  = ":9470"
	DefaultMetricsPath    = "/metrics"
	DefaultWakeLockName   = "osvlease_renew"
	DefaultStartTimeout   = 30 * time.Second
	DefaultRequestTimeout = 5 * time.Second
	DefaultRetries        = 3
	DefaultRetryDelay     = 4 * time.Second
	DefaultMaxRetryDelay  = 64 * time.Second
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.API.Listen == "" {
		c.API.Listen = DefaultAPIListen
	}
	if c.Monitoring.Listen == "" {
		c.Monitoring.Listen = DefaultMetricsListen
	}
	if c.Monitoring.Path == "" {
		c.Monitoring.Path = DefaultMetricsPath
	}

	if c.WakeLock.Backend == "" {
		c.WakeLock.Backend = system.WakeLockBackendMemory
	}
	if c.WakeLock.Name == "" {
		c.WakeLock.Name = DefaultWakeLockName
	}

	if c.DHCP.StartTimeout == 0 {
		c.DHCP.StartTimeout = DefaultStartTimeout
	}
	if c.DHCP.RequestTimeout == 0 {
		c.DHCP.RequestTimeout = DefaultRequestTimeout
	}
	if c.DHCP.Retries == 0 {
		c.DHCP.Retries = DefaultRetries
	}
	if c.DHCP.RetryDelay == 0 {
		c.DHCP.RetryDelay = DefaultRetryDelay
	}
	if c.DHCP.MaxRetryDelay == 0 {
		c.DHCP.MaxRetryDelay = DefaultMaxRetryDelay
	}

	for name, iface := range c.Interfaces {
		if iface == nil {
			iface = &interfaces.InterfaceConfig{}
			c.Interfaces[name] = iface
		}
		if iface.Name == "" {
			iface.Name = name
		}
		if iface.IPVersion == "" {
			iface.IPVersion = interfaces.IPVersion4
		}
	}
}

func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got '%s'", c.Logging.Format)
	}

	switch c.WakeLock.Backend {
	case system.WakeLockBackendMemory, system.WakeLockBackendSysfs:
	default:
		return fmt.Errorf("wakelock.backend must be memory or sysfs, got '%s'", c.WakeLock.Backend)
	}

	if c.DHCP.StartTimeout < 0 || c.DHCP.RequestTimeout < 0 || c.DHCP.Retries < 0 {
		return fmt.Errorf("dhcp timeouts and retries must not be negative")
	}
	if c.DHCP.RetryDelay < 0 || c.DHCP.MaxRetryDelay < c.DHCP.RetryDelay {
		return fmt.Errorf("dhcp.max_retry_delay must not be below dhcp.retry_delay")
	}

	for _, name := range c.InterfaceNames() {
		iface := c.Interfaces[name]
		if iface.Name != name {
			return fmt.Errorf("interfaces.%s.name must match its key, got '%s'", name, iface.Name)
		}
		switch iface.IPVersion {
		case interfaces.IPVersion4, interfaces.IPVersion6:
		default:
			return fmt.Errorf("interfaces.%s.ip_version must be v4 or v6, got '%s'", name, iface.IPVersion)
		}
		if iface.MaxPollAttempts < 0 {
			return fmt.Errorf("interfaces.%s.max_poll_attempts must not be negative", name)
		}
	}

	return nil
}

// InterfaceNames returns the configured interface names in sorted order.
func (c *Config) InterfaceNames() []string {
	names := make([]string, 0, len(c.Interfaces))
	for name := range c.Interfaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnabledInterfaces returns the enabled interfaces in name order.
func (c *Config) EnabledInterfaces() []*interfaces.InterfaceConfig {
	var out []*interfaces.InterfaceConfig
	for _, name := range c.InterfaceNames() {
		if iface := c.Interfaces[name]; iface.IsEnabled() {
			out = append(out, iface)
		}
	}
	return out
}
