package models

import "time"

// ConfigTask is one task entry in a configuration: a task definition
// reference plus parameter overrides.
type ConfigTask struct {
	Name      string            `json:"name"`
	TaskDefID string            `json:"taskdef_id"`
	Priority  int               `json:"priority,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
	Runners   []string          `json:"runners,omitempty"` // Per-task runner restriction
}

// ConfigInput supplies a locator or a local agent binding for an external
// input product.
type ConfigInput struct {
	Name    string `json:"name"`
	Locator string `json:"locator,omitempty"`
	LocalAt string `json:"local_at,omitempty"` // Agent holding the local product
}

// Configuration is a named, instantiable set of tasks.
type Configuration struct {
	ID        string            `json:"id"`
	Owner     string            `json:"owner,omitempty"`
	Comment   string            `json:"comment,omitempty"`
	Target    string            `json:"target,omitempty"`
	Tasks     []ConfigTask      `json:"tasks"`
	Params    map[string]string `json:"params,omitempty"`
	Runners   []string          `json:"runners,omitempty"` // Per-job runner restriction
	Tags      map[string]string `json:"tags,omitempty"`
	Inputs    []ConfigInput     `json:"inputs,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Input returns the supplied input entry for a product name, or nil.
func (c *Configuration) Input(name string) *ConfigInput {
	for i := range c.Inputs {
		if c.Inputs[i].Name == name {
			return &c.Inputs[i]
		}
	}
	return nil
}

// HasTag reports whether the configuration carries the given tag value.
func (c *Configuration) HasTag(key, value string) bool {
	return c.Tags[key] == value
}
