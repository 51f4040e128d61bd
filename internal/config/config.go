package config

import (
	"errors"
	"fmt"
	"time"
)

// Restart modes selectable per agent.
const (
	RestartUnconditional = "unconditional"
	RestartGoalOriented  = "goal_oriented"
)

// Config holds the complete cycled configuration.
type Config struct {
	// ArtifactDir is where status records, handoff artifacts, and cycle
	// journals live. This directory is the coordination substrate between
	// agent processes; it must be shared by every agent.
	ArtifactDir string `koanf:"artifact_dir"`

	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Executor   ExecutorConfig   `koanf:"executor"`
	Harness    HarnessConfig    `koanf:"harness"`
	Gate       GateConfig       `koanf:"gate"`
	Supervisor SupervisorConfig `koanf:"supervisor"`

	// Agents is the roster read at launch. Descriptors are immutable after
	// an agent starts.
	Agents []AgentDescriptor `koanf:"agents"`
}

// AgentDescriptor describes one independent worker.
type AgentDescriptor struct {
	Name           string   `koanf:"name"`
	DependsOn      []string `koanf:"depends_on"`
	MaxCycles      int      `koanf:"max_cycles"`
	TargetPassRate float64  `koanf:"target_pass_rate"`
	RestartMode    string   `koanf:"restart_mode"`
	Workspace      string   `koanf:"workspace"`
	Task           string   `koanf:"task"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug|info|warn|error
	Format string `koanf:"format"` // json|console
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	ServiceName    string   `koanf:"service_name"`
	ServiceVersion string   `koanf:"service_version"`
	Endpoint       string   `koanf:"endpoint"`
	Insecure       bool     `koanf:"insecure"`
	ExportInterval Duration `koanf:"export_interval"`
}

// ExecutorConfig configures the opaque task executor command. The command is
// invoked once per cycle with CYCLED_AGENT, CYCLED_WORKSPACE, and CYCLED_TASK
// set in its environment.
type ExecutorConfig struct {
	Command []string `koanf:"command"`
	Timeout Duration `koanf:"timeout"`
}

// HarnessConfig configures the external test harness command.
type HarnessConfig struct {
	Command []string `koanf:"command"`
	Timeout Duration `koanf:"timeout"`
}

// GateConfig bounds dependency waiting.
type GateConfig struct {
	PollInterval Duration `koanf:"poll_interval"`
	MaxInterval  Duration `koanf:"max_interval"`
	MaxWait      Duration `koanf:"max_wait"`
}

// SupervisorConfig configures the bundled process runtime.
type SupervisorConfig struct {
	// MetricsAddr serves prometheus metrics when non-empty, e.g. ":9464".
	MetricsAddr string `koanf:"metrics_addr"`
	// RestartsPerMinute rate-limits restart storms across all agents.
	RestartsPerMinute float64 `koanf:"restarts_per_minute"`
	RestartBurst      int     `koanf:"restart_burst"`
}

// Default returns the configuration defaults applied before file and
// environment loading.
func Default() *Config {
	return &Config{
		ArtifactDir: ".cycled",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:        false,
			ServiceName:    "cycled",
			ServiceVersion: "dev",
			Endpoint:       "localhost:4318",
			Insecure:       true,
			ExportInterval: Duration(30 * time.Second),
		},
		Executor: ExecutorConfig{
			Timeout: Duration(20 * time.Minute),
		},
		Harness: HarnessConfig{
			Timeout: Duration(10 * time.Minute),
		},
		Gate: GateConfig{
			PollInterval: Duration(2 * time.Second),
			MaxInterval:  Duration(30 * time.Second),
			MaxWait:      Duration(1 * time.Hour),
		},
		Supervisor: SupervisorConfig{
			RestartsPerMinute: 30,
			RestartBurst:      10,
		},
	}
}

// Validate validates the runtime configuration and the agent roster.
func (c *Config) Validate() error {
	if c.ArtifactDir == "" {
		return errors.New("artifact_dir is required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %q", c.Logging.Format)
	}
	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return errors.New("telemetry service_name required when telemetry is enabled")
	}
	if c.Gate.PollInterval.Duration() <= 0 {
		return errors.New("gate poll_interval must be positive")
	}
	if c.Gate.MaxInterval.Duration() < c.Gate.PollInterval.Duration() {
		return errors.New("gate max_interval must be >= poll_interval")
	}
	if c.Gate.MaxWait.Duration() <= 0 {
		return errors.New("gate max_wait must be positive")
	}
	if c.Harness.Timeout.Duration() <= 0 {
		return errors.New("harness timeout must be positive")
	}
	return c.ValidateRoster()
}

// ValidateRoster validates the agent roster: unique names, positive cycle
// budgets, known restart modes, resolvable dependencies, and no dependency
// cycles.
func (c *Config) ValidateRoster() error {
	if len(c.Agents) == 0 {
		return errors.New("at least one agent is required")
	}

	byName := make(map[string]AgentDescriptor, len(c.Agents))
	for _, a := range c.Agents {
		if a.Name == "" {
			return errors.New("agent name is required")
		}
		if _, dup := byName[a.Name]; dup {
			return fmt.Errorf("duplicate agent name: %q", a.Name)
		}
		if a.MaxCycles <= 0 {
			return fmt.Errorf("agent %q: max_cycles must be positive", a.Name)
		}
		if a.TargetPassRate < 0 || a.TargetPassRate > 100 {
			return fmt.Errorf("agent %q: target_pass_rate must be in [0,100]", a.Name)
		}
		switch a.RestartMode {
		case RestartUnconditional, RestartGoalOriented:
		default:
			return fmt.Errorf("agent %q: unknown restart_mode %q", a.Name, a.RestartMode)
		}
		if a.Workspace == "" {
			return fmt.Errorf("agent %q: workspace is required", a.Name)
		}
		byName[a.Name] = a
	}

	for _, a := range c.Agents {
		for _, dep := range a.DependsOn {
			if dep == a.Name {
				return fmt.Errorf("agent %q depends on itself", a.Name)
			}
			if _, ok := byName[dep]; !ok {
				return fmt.Errorf("agent %q depends on unknown agent %q", a.Name, dep)
			}
		}
	}

	return checkDependencyCycles(c.Agents)
}

// Agent returns the descriptor for the named agent.
func (c *Config) Agent(name string) (AgentDescriptor, error) {
	for _, a := range c.Agents {
		if a.Name == name {
			return a, nil
		}
	}
	return AgentDescriptor{}, fmt.Errorf("agent %q not in roster", name)
}

// checkDependencyCycles runs Kahn's algorithm over the roster. A round in
// which no agent becomes schedulable means the remaining agents form a cycle.
func checkDependencyCycles(agents []AgentDescriptor) error {
	done := make(map[string]bool, len(agents))
	for len(done) < len(agents) {
		progressed := false
		for _, a := range agents {
			if done[a.Name] {
				continue
			}
			ready := true
			for _, dep := range a.DependsOn {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				done[a.Name] = true
				progressed = true
			}
		}
		if !progressed {
			return errors.New("dependency cycle in agent roster")
		}
	}
	return nil
}
