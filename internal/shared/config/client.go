package config

import "time"

// ClientConfig contains configuration for the submitting client.
type ClientConfig struct {
	// Servers is a comma separated list of host:port job servers.
	Servers     string        `mapstructure:"servers"`
	Timeout     time.Duration `mapstructure:"timeout"`
	NonBlocking bool          `mapstructure:"non_blocking"`
}
