package interfaces

const (
	IPVersion4 = "v4"
	IPVersion6 = "v6"
)

type InterfaceConfig struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	IPVersion            string `json:"ip_version,omitempty" yaml:"ip_version,omitempty"`
	PreLeaseNotification bool   `json:"pre_lease_notification,omitempty" yaml:"pre_lease_notification,omitempty"`
	// Bring the link up as the pre-lease action.
	LinkUp bool `json:"link_up_before_lease,omitempty" yaml:"link_up_before_lease,omitempty"`
	// Install the leased address and default route.
	Apply           bool   `json:"apply,omitempty" yaml:"apply,omitempty"`
	Namespace       string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Hostname        string `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	MaxPollAttempts int    `json:"max_poll_attempts,omitempty" yaml:"max_poll_attempts,omitempty"`
	AutoStart       *bool  `json:"auto_start,omitempty" yaml:"auto_start,omitempty"`
}

func (c *InterfaceConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c *InterfaceConfig) StartsAutomatically() bool {
	return c.AutoStart == nil || *c.AutoStart
}
