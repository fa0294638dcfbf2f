package system

type LoggingConfig struct {
	Format     string            `json:"format,omitempty" yaml:"format,omitempty"`
	Level      string            `json:"level,omitempty" yaml:"level,omitempty"`
	Components map[string]string `json:"components,omitempty" yaml:"components,omitempty"`
	// Event bus topics logged on every publish.
	DebugTopics []string `json:"debug_topics,omitempty" yaml:"debug_topics,omitempty"`
}
