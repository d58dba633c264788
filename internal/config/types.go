package config

// PipelineConfig is the top-level configuration structure parsed from forge YAML.
type PipelineConfig struct {
	Pipeline Pipeline `yaml:"pipeline"`
}

// Pipeline defines a forge pipeline: where output and state live, how the
// model is reached, which role runs which model, and how artifacts are scored.
type Pipeline struct {
	Name         string           `yaml:"name"`
	OutputDir    string           `yaml:"output_dir"`
	StateDir     string           `yaml:"state_dir"`
	Database     string           `yaml:"database"`
	TemplatesDir string           `yaml:"templates_dir"`
	MetricsFile  string           `yaml:"metrics_file"`
	RunTimeout   string           `yaml:"run_timeout"`
	Model        Model            `yaml:"model"`
	Roles        map[string]Role  `yaml:"roles"`
	Scoring      Scoring          `yaml:"scoring"`
	Checks       map[string]Check `yaml:"checks"`
}

// Model holds the connection and default generation settings for the model service.
type Model struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Name        string  `yaml:"name"`
	Temperature float32 `yaml:"temperature"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Timeout     string  `yaml:"timeout"`
	MaxAttempts int     `yaml:"max_attempts"`
	Backoff     string  `yaml:"backoff"`
	MaxBackoff  string  `yaml:"max_backoff"`
}

// Role overrides model settings for one agent role.
type Role struct {
	Model       string   `yaml:"model"`
	Temperature *float32 `yaml:"temperature"`
}

// Agent role names.
const (
	RolePlanner   = "planner"
	RoleExtractor = "extractor"
	RoleDeveloper = "developer"
	RoleReviewer  = "reviewer"
)

// RoleNames lists every agent role in pipeline order.
var RoleNames = []string{RolePlanner, RoleExtractor, RoleDeveloper, RoleReviewer}

// Scoring selects the checks whose diagnostics feed the reward and prices each severity.
type Scoring struct {
	Checks  []string        `yaml:"checks"`
	Weights map[int]float64 `yaml:"weights"`
}

// Check defines a static-analysis command run against the generated artifact.
// Command may reference {{file}} (quoted absolute path) and {{dir}}.
type Check struct {
	Command string `yaml:"command"`
	Parser  string `yaml:"parser"`
	Timeout string `yaml:"timeout"`
}
