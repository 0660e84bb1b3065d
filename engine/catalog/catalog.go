// Package catalog tracks the runtime-discovered set of language servers and
// the JSON-Schema fragments they supply.
package catalog

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/langsettings/composer/engine/schema"
)

// ServerSpec describes one discovered server. Instances are owned by the
// catalog: consumers must copy ConfigSchema before altering it.
type ServerSpec struct {
	Key            string        `yaml:"key"            json:"key"`
	DisplayName    string        `yaml:"display_name"   json:"display_name"`
	ConfigSchema   schema.Schema `yaml:"config_schema"  json:"config_schema,omitempty"`
	HasLiveSession bool          `yaml:"live"           json:"live"`
}

// Catalog exposes the current server set and session liveness, and notifies
// listeners whenever the set of live sessions changes. Notifications carry no
// payload: they mean "re-read the specs".
type Catalog interface {
	Specs() []ServerSpec
	HasLiveSession(key string) bool
	OnSessionSetChanged(fn func()) (cancel func())
}

// -----------------------------------------------------------------------------
// SessionCatalog
// -----------------------------------------------------------------------------

// SessionCatalog is an in-memory Catalog fed by discovery events.
type SessionCatalog struct {
	mu        sync.RWMutex
	specs     []ServerSpec
	sessions  map[string]bool
	listeners map[int]func()
	nextID    int
}

func NewSessionCatalog() *SessionCatalog {
	return &SessionCatalog{
		sessions:  make(map[string]bool),
		listeners: make(map[int]func()),
	}
}

// Specs returns the current specs with HasLiveSession reflecting the live
// session set. The returned slice is a copy.
func (c *SessionCatalog) Specs() []ServerSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ServerSpec, len(c.specs))
	for i, spec := range c.specs {
		spec.HasLiveSession = c.sessions[spec.Key]
		out[i] = spec
	}
	return out
}

func (c *SessionCatalog) HasLiveSession(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessions[key]
}

// SetSpecs replaces the known server set without touching session state.
func (c *SessionCatalog) SetSpecs(specs []ServerSpec) {
	c.mu.Lock()
	c.specs = make([]ServerSpec, len(specs))
	copy(c.specs, specs)
	c.mu.Unlock()
}

// SetSessions replaces the live session set and notifies listeners, even when
// the set is unchanged: recomputation downstream is idempotent and a spurious
// notification is cheaper than a missed one.
func (c *SessionCatalog) SetSessions(keys ...string) {
	c.mu.Lock()
	c.sessions = make(map[string]bool, len(keys))
	for _, key := range keys {
		c.sessions[key] = true
	}
	listeners := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// OnSessionSetChanged registers fn and returns a cancel func that removes it.
func (c *SessionCatalog) OnSessionSetChanged(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// -----------------------------------------------------------------------------
// File loading
// -----------------------------------------------------------------------------

type catalogFile struct {
	Servers []ServerSpec `yaml:"servers"`
}

// FromFile loads a SessionCatalog from a YAML file listing server specs.
func FromFile(path string) (*SessionCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file %s: %w", path, err)
	}
	cat := NewSessionCatalog()
	cat.SetSpecs(file.Servers)
	live := make([]string, 0, len(file.Servers))
	for _, spec := range file.Servers {
		if spec.HasLiveSession {
			live = append(live, spec.Key)
		}
	}
	cat.SetSessions(live...)
	return cat, nil
}
