// YAML config loader with CUE validation integration
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Endpoints groups the external URLs the runner talks to.
type Endpoints struct {
	ClusterIP  string `yaml:"clusterip"`
	Ingress    string `yaml:"ingress"`
	Prometheus string `yaml:"prometheus"`
}

// Paths groups the directories used for targets, payloads, and results.
type Paths struct {
	TargetsDir  string `yaml:"targets_dir"`
	PayloadsDir string `yaml:"payloads_dir"`
	ResultsDir  string `yaml:"results_dir"`
	ArchiveDir  string `yaml:"archive_dir"`
}

// PushJob describes one pushgateway job category.
type PushJob struct {
	Name         string `yaml:"name"`
	PayloadFile  string `yaml:"payload_file"`
	InstanceType string `yaml:"instance_type"` // node-ip, node-name, pod-name
	ClusterLevel bool   `yaml:"cluster_level"`
	Port         int    `yaml:"port"`
}

// StopRule holds the early-abort policy parameters.
type StopRule struct {
	SuccessThreshold float64 `yaml:"success_threshold"`
	MaxConsecutive   int     `yaml:"max_consecutive"`
}

// Convergence bounds the post-apply discovery wait.
type Convergence struct {
	ProbeSeconds   int `yaml:"probe_seconds"`
	MaxWaitSeconds int `yaml:"max_wait_seconds"`
}

// Config is the root configuration for the experiment runner.
type Config struct {
	Endpoints     Endpoints   `yaml:"endpoints"`
	Paths         Paths       `yaml:"paths"`
	PushJobs      []PushJob   `yaml:"push_jobs"`
	StopRule      StopRule    `yaml:"stop_rule"`
	Convergence   Convergence `yaml:"convergence"`
	SettleSeconds int         `yaml:"settle_seconds"`
	MaxInflight   int         `yaml:"max_inflight"`
	MonitorTarget string      `yaml:"monitor_target"`
	MonitorLog    string      `yaml:"monitor_log"`
}

// Load loads YAML config, validates it against a CUE schema, and applies
// defaults plus environment overrides.
func Load(configPath, cueSchemaPath string) (*Config, error) {
	if err := ValidateWithCue(configPath, cueSchemaPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.StopRule.SuccessThreshold == 0 {
		c.StopRule.SuccessThreshold = 95.0
	}
	if c.StopRule.MaxConsecutive == 0 {
		c.StopRule.MaxConsecutive = 3
	}
	if c.Convergence.ProbeSeconds == 0 {
		c.Convergence.ProbeSeconds = 10
	}
	if c.Convergence.MaxWaitSeconds == 0 {
		c.Convergence.MaxWaitSeconds = 180
	}
	if c.SettleSeconds == 0 {
		c.SettleSeconds = 90
	}
	if c.MaxInflight == 0 {
		c.MaxInflight = 500
	}
	if c.MonitorTarget == "" {
		c.MonitorTarget = "pushgateway"
	}
}

// applyEnv allows endpoint and path overrides without editing the config
// file.
func (c *Config) applyEnv() {
	if v := os.Getenv("PUSHRAMP_PROMETHEUS_URL"); v != "" {
		c.Endpoints.Prometheus = v
	}
	if v := os.Getenv("PUSHRAMP_CLUSTERIP_URL"); v != "" {
		c.Endpoints.ClusterIP = v
	}
	if v := os.Getenv("PUSHRAMP_INGRESS_URL"); v != "" {
		c.Endpoints.Ingress = v
	}
	if v := os.Getenv("PUSHRAMP_RESULTS_DIR"); v != "" {
		c.Paths.ResultsDir = v
	}
}

func (c *Config) check() error {
	if c.Endpoints.Prometheus == "" {
		return fmt.Errorf("config: endpoints.prometheus is required")
	}
	if c.Paths.ResultsDir == "" {
		return fmt.Errorf("config: paths.results_dir is required")
	}
	if len(c.PushJobs) == 0 {
		return fmt.Errorf("config: at least one push job is required")
	}
	return nil
}

// Settle returns the inter-scenario settle period.
func (c *Config) Settle() time.Duration {
	return time.Duration(c.SettleSeconds) * time.Second
}

// ConvergenceProbe returns the discovery probe interval.
func (c *Config) ConvergenceProbe() time.Duration {
	return time.Duration(c.Convergence.ProbeSeconds) * time.Second
}

// ConvergenceMaxWait returns the discovery wait bound.
func (c *Config) ConvergenceMaxWait() time.Duration {
	return time.Duration(c.Convergence.MaxWaitSeconds) * time.Second
}
