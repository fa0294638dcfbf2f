package ip

import "time"

// DHCPClientConfig tunes the in-process DHCP clients.
type DHCPClientConfig struct {
	StartTimeout   time.Duration `json:"start_timeout,omitempty" yaml:"start_timeout,omitempty"`
	RequestTimeout time.Duration `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"`
	Retries        int           `json:"retries,omitempty" yaml:"retries,omitempty"`
	RetryDelay     time.Duration `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"`
	MaxRetryDelay  time.Duration `json:"max_retry_delay,omitempty" yaml:"max_retry_delay,omitempty"`
}
