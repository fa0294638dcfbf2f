package system

type OpDBConfig struct {
	// Empty keeps leases in memory only.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}
