package config

// Config is the top-level configuration structure parsed from forge YAML.
type Config struct {
	Forge Forge `yaml:"forge"`
}

// Forge defines one orchestrator deployment: phase policy, resilience
// settings, test runner invocation, and history storage.
type Forge struct {
	MaxRetries    int    `yaml:"max_retries"`
	AbandonMarker string `yaml:"abandon_marker"`
	WorkDir       string `yaml:"work_dir"`
	RunsDir       string `yaml:"runs_dir"` // run artifact directory; empty for ~/.forge/runs
	AgentCommand  string `yaml:"agent_command"`
	ToolCommand   string `yaml:"tool_command"`
	TestCommand   string `yaml:"test_command"`
	TestTimeout   string `yaml:"test_timeout"`

	Retry   Retry   `yaml:"retry"`
	Breaker Breaker `yaml:"breaker"`
	History History `yaml:"history"`
}

// Retry configures the backoff policy wrapped around transient operations.
type Retry struct {
	MaxAttempts   int     `yaml:"max_attempts"`
	BaseDelay     string  `yaml:"base_delay"`
	BackoffFactor float64 `yaml:"backoff_factor"`
	MaxDelay      string  `yaml:"max_delay"`
	Jitter        float64 `yaml:"jitter"`
}

// Breaker configures the circuit breaker guarding tool execution.
type Breaker struct {
	FailureThreshold int    `yaml:"failure_threshold"`
	ResetTimeout     string `yaml:"reset_timeout"`
}

// History selects and configures the test-history backend.
type History struct {
	Backend string `yaml:"backend"` // sqlite or postgres
	Path    string `yaml:"path"`    // sqlite file path; empty for the default
	DSN     string `yaml:"dsn"`     // postgres connection string
}
