// Package manifest owns the persisted project manifest: per-resource
// configuration and project-level UI state.
//
// The Manager reconciles the manifest's resource set against the resources
// discovered in the project tree, applies configuration changes, and
// persists the manifest atomically. Reconciliation and rename/delete are
// serialized by a concurrency.Lock; setter writes are debounced so bursts
// of edits become a single disk write.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"
)

// Filename is the manifest file name at the project root.
const Filename = "fxproject.json"

// Sentinel errors.
var (
	// ErrResourceNotFound is returned when a resource has no configuration.
	ErrResourceNotFound = errors.New("resource not found in manifest")

	// ErrResourceExists is returned when a rename target is already configured.
	ErrResourceExists = errors.New("resource already exists in manifest")

	// ErrClosed is returned after the manager is closed.
	ErrClosed = errors.New("manifest manager closed")
)

// ResourceConfig is the per-resource configuration.
type ResourceConfig struct {
	Enabled         bool `json:"enabled"`
	RestartOnChange bool `json:"restartOnChange"`

	// Extra preserves extension fields this engine does not interpret.
	Extra map[string]json.RawMessage `json:"-"`
}

// DefaultResourceConfig is the configuration of a newly discovered resource.
func DefaultResourceConfig() ResourceConfig {
	return ResourceConfig{}
}

// MarshalJSON writes known fields and extension fields in one object.
func (c ResourceConfig) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Extra)+2)
	for k, v := range c.Extra {
		out[k] = v
	}
	out["enabled"] = c.Enabled
	out["restartOnChange"] = c.RestartOnChange
	return json.Marshal(out)
}

// UnmarshalJSON reads known fields and keeps the rest in Extra.
func (c *ResourceConfig) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*c = ResourceConfig{}
	if v, ok := raw["enabled"]; ok {
		if err := json.Unmarshal(v, &c.Enabled); err != nil {
			return fmt.Errorf("enabled: %w", err)
		}
		delete(raw, "enabled")
	}
	if v, ok := raw["restartOnChange"]; ok {
		if err := json.Unmarshal(v, &c.RestartOnChange); err != nil {
			return fmt.Errorf("restartOnChange: %w", err)
		}
		delete(raw, "restartOnChange")
	}
	if len(raw) > 0 {
		c.Extra = raw
	}
	return nil
}

// Clone returns a deep copy.
func (c ResourceConfig) Clone() ResourceConfig {
	c.Extra = maps.Clone(c.Extra)
	return c
}

// ConfigPatch is a partial ResourceConfig update. Nil fields are left
// unchanged.
type ConfigPatch struct {
	Enabled         *bool
	RestartOnChange *bool
	Extra           map[string]json.RawMessage
}

// Apply returns c with the patch applied.
func (p ConfigPatch) Apply(c ResourceConfig) ResourceConfig {
	c = c.Clone()
	if p.Enabled != nil {
		c.Enabled = *p.Enabled
	}
	if p.RestartOnChange != nil {
		c.RestartOnChange = *p.RestartOnChange
	}
	if len(p.Extra) > 0 {
		if c.Extra == nil {
			c.Extra = make(map[string]json.RawMessage, len(p.Extra))
		}
		for k, v := range p.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// Manifest is the persisted project record.
type Manifest struct {
	Name                string                    `json:"name"`
	CreatedAt           time.Time                 `json:"createdAt"`
	UpdatedAt           time.Time                 `json:"updatedAt"`
	ServerUpdateChannel string                    `json:"serverUpdateChannel,omitempty"`
	Resources           map[string]ResourceConfig `json:"resources"`
	PathsState          json.RawMessage           `json:"pathsState"`
}

// New returns a fresh manifest for a project.
func New(name string, now time.Time) *Manifest {
	m := &Manifest{Name: name, CreatedAt: now}
	m.normalize()
	return m
}

// Parse decodes a manifest, filling defaults for missing sections.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	m.normalize()
	return &m, nil
}

// Encode returns the indented JSON form.
func (m *Manifest) Encode() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Clone returns a deep copy.
func (m *Manifest) Clone() *Manifest {
	c := *m
	c.Resources = make(map[string]ResourceConfig, len(m.Resources))
	for k, v := range m.Resources {
		c.Resources[k] = v.Clone()
	}
	c.PathsState = append(json.RawMessage(nil), m.PathsState...)
	return &c
}

// ResourceConfig returns the configuration for name, or the default.
func (m *Manifest) ResourceConfig(name string) ResourceConfig {
	if cfg, ok := m.Resources[name]; ok {
		return cfg.Clone()
	}
	return DefaultResourceConfig()
}

func (m *Manifest) normalize() {
	if m.Resources == nil {
		m.Resources = make(map[string]ResourceConfig)
	}
	if len(m.PathsState) == 0 || string(m.PathsState) == "null" {
		m.PathsState = json.RawMessage("{}")
	}
}
