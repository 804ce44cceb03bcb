// Package sandbox provides HandlerRunner implementations for executing
// FUNCTIONAL intent handlers in isolation.
package sandbox

import "time"

// Option configures a SubprocessRunner.
type Option func(*runnerConfig)

type runnerConfig struct {
	timeout   time.Duration
	maxOutput int
	workspace string
	envVars   map[string]string
}

func defaultConfig() runnerConfig {
	return runnerConfig{
		timeout:   60 * time.Second,
		maxOutput: 64 * 1024, // 64KB
	}
}

// WithTimeout sets the default maximum execution duration for a handler.
// A positive HandlerRequest.Timeout still takes precedence. Default: 60s.
func WithTimeout(d time.Duration) Option {
	return func(c *runnerConfig) { c.timeout = d }
}

// WithMaxOutput sets the maximum captured output size in bytes.
// Output beyond this limit is truncated. Default: 64KB.
func WithMaxOutput(bytes int) Option {
	return func(c *runnerConfig) { c.maxOutput = bytes }
}

// WithWorkspace sets the working directory for handler subprocesses.
// Default: the OS temp directory.
func WithWorkspace(dir string) Option {
	return func(c *runnerConfig) { c.workspace = dir }
}

// WithEnv adds environment variables to the scrubbed subprocess environment.
// Use sparingly; anything added here is visible to untrusted handler code.
func WithEnv(vars map[string]string) Option {
	return func(c *runnerConfig) {
		if c.envVars == nil {
			c.envVars = make(map[string]string, len(vars))
		}
		for k, v := range vars {
			c.envVars[k] = v
		}
	}
}
