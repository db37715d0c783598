package config

import "time"

// WorkerConfig contains configuration for the worker service.
type WorkerConfig struct {
	Servers     string   `mapstructure:"servers"`
	Functions   []string `mapstructure:"functions"`
	Concurrency int      `mapstructure:"concurrency"`

	// Timeout bounds a single wait for a job.
	Timeout         time.Duration `mapstructure:"timeout"`
	FunctionTimeout time.Duration `mapstructure:"function_timeout"`
}
