package config

import (
	"sort"
	"strings"

	"github.com/wesleyorama2/stampede/internal/runerr"
)

// ApplyEnvironment merges the named environment into the run: its baseUrl
// replaces http.baseUrl, its headers and variables override the defaults.
// An empty name is a no-op.
func (c *RunConfig) ApplyEnvironment(name string) error {
	if name == "" {
		return nil
	}
	env, ok := c.Environments[name]
	if !ok {
		return runerr.Configf("environment", "unknown environment %q (available: %s)", name, strings.Join(c.EnvironmentNames(), ", "))
	}

	if env.BaseURL != "" {
		c.HTTP.BaseURL = env.BaseURL
	}
	c.HTTP.Headers = MergeEnvironments(c.HTTP.Headers, env.Headers)
	c.Scenario.Variables = MergeEnvironments(c.Scenario.Variables, env.Variables)
	return nil
}

// EnvironmentNames returns the declared environment names, sorted.
func (c *RunConfig) EnvironmentNames() []string {
	names := make([]string, 0, len(c.Environments))
	for name := range c.Environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MergeEnvironments merges two maps, with the second taking precedence.
// It returns nil when both are empty.
func MergeEnvironments(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	result := make(map[string]string, len(base)+len(override))
	for key, value := range base {
		result[key] = value
	}
	for key, value := range override {
		result[key] = value
	}
	return result
}
