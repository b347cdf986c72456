package config

import (
	"fmt"

	"github.com/creasty/defaults"
	"github.com/spf13/viper"
)

// Configuration holds the engine settings. Capacities <= 0 mean unbounded;
// max_jobs defaults to 20 and must be set negative to lift the bound.
type Configuration struct {
	MaxJobs        int     `mapstructure:"max_jobs" default:"20" debugmap:"visible"`
	MaxThreads     int     `mapstructure:"max_threads" debugmap:"visible"`
	MaxProcesses   int     `mapstructure:"max_processes" debugmap:"visible"`
	MaxClusterJobs int     `mapstructure:"max_cluster_jobs" debugmap:"visible"`
	CachePath      string  `mapstructure:"cache_path" debugmap:"visible"`
	PoolWorkers    int     `mapstructure:"pool_workers" debugmap:"visible"`
	Cluster        Cluster `mapstructure:"cluster" debugmap:"visible"`
	LogLevel       string  `mapstructure:"log_level" default:"info" debugmap:"visible"`
	LogFormat      string  `mapstructure:"log_format" default:"console" debugmap:"visible"`
}

// Cluster holds the dial options of the cluster backend client.
type Cluster struct {
	HostPort  string `mapstructure:"host_port" default:"127.0.0.1:7233" debugmap:"visible"`
	Namespace string `mapstructure:"namespace" default:"default" debugmap:"visible"`
	TaskQueue string `mapstructure:"task_queue" default:"executor" debugmap:"visible"`
}

// Default returns a Configuration with all defaults applied.
func Default() *Configuration {
	c := &Configuration{}
	defaults.MustSet(c)
	return c
}

// Load reads a configuration file (format inferred from the extension),
// overlays it on the defaults and returns the result.
func Load(path string) (*Configuration, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read configuration %q: %w", path, err)
	}

	c := &Configuration{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration %q: %w", path, err)
	}
	if err := defaults.Set(c); err != nil {
		return nil, err
	}
	return c, nil
}

// DebugMap returns the settings as a map safe for structured logging.
func (c *Configuration) DebugMap() map[string]any {
	return map[string]any{
		"max_jobs":         c.MaxJobs,
		"max_threads":      c.MaxThreads,
		"max_processes":    c.MaxProcesses,
		"max_cluster_jobs": c.MaxClusterJobs,
		"cache_path":       c.CachePath,
		"pool_workers":     c.PoolWorkers,
		"cluster":          map[string]any{"host_port": c.Cluster.HostPort, "namespace": c.Cluster.Namespace, "task_queue": c.Cluster.TaskQueue},
		"log_level":        c.LogLevel,
		"log_format":       c.LogFormat,
	}
}
