package composer

import (
	"context"
	"sync"
	"time"

	"github.com/mohae/deepcopy"

	"github.com/langsettings/composer/engine/catalog"
	"github.com/langsettings/composer/engine/registry"
	"github.com/langsettings/composer/engine/schema"
	"github.com/langsettings/composer/engine/settings"
	"github.com/langsettings/composer/pkg/logger"
)

// CompositionCache owns the composed schema for one plugin. The schema is
// computed lazily on fetch and stays reference-stable until the epoch is
// invalidated by a session-set change. The original schema snapshot is
// captured on the very first fetch of the plugin's lifetime and is never
// overwritten afterwards: it anchors the gate's rollback across all epochs.
type CompositionCache struct {
	pluginID string
	catalog  catalog.Catalog
	composer *Composer
	gate     *ValidationGate

	mu       sync.Mutex
	original schema.Schema
	epoch    *epochState
}

type epochState struct {
	schema   schema.Schema
	defaults DefaultsTable
	errors   []schema.ValidationError
}

func NewCompositionCache(
	pluginID string,
	cat catalog.Catalog,
	comp *Composer,
	gate *ValidationGate,
) *CompositionCache {
	return &CompositionCache{
		pluginID: pluginID,
		catalog:  cat,
		composer: comp,
		gate:     gate,
	}
}

// Fetch returns the transformed plugin for the current epoch, composing it
// first when no epoch is cached. Repeated fetches within an epoch return the
// identical schema object.
func (c *CompositionCache) Fetch(ctx context.Context, plugin *registry.Plugin) (*registry.TransformedPlugin, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.original == nil && plugin.Schema != nil {
		c.original = plugin.Schema.DeepCopy()
	}
	if c.epoch == nil {
		c.epoch = c.composeEpoch(ctx, plugin)
	}
	return &registry.TransformedPlugin{
		ID:      plugin.ID,
		Raw:     plugin.Raw,
		Version: plugin.Version,
		Schema:  c.epoch.schema,
		Data:    plugin.Data,
	}, nil
}

func (c *CompositionCache) composeEpoch(ctx context.Context, plugin *registry.Plugin) *epochState {
	log := logger.FromContext(ctx)
	start := time.Now()
	working := plugin.Schema.DeepCopy()
	if working == nil {
		working = schema.Schema{"type": "object"}
	}
	specs := c.catalog.Specs()
	baseTemplate := serverBaseTemplate(working)
	known, defaults := c.composer.Compose(ctx, specs, baseTemplate, collectDefaults(baseTemplate))
	if len(known) == 0 {
		// Nothing composed: leave the schema untouched and skip the gate,
		// an unchanged schema must not trigger a rollback.
		log.Debug("no usable server specs, keeping plugin schema as-is", "plugin", plugin.ID)
		recordComposition(ctx, time.Since(start), 0, true)
		return &epochState{schema: working, defaults: defaults}
	}
	serversNode := ensureChildMap(ensureChildMap(working, "properties"), settings.ServersKey)
	if _, ok := serversNode["type"]; !ok {
		serversNode["type"] = "object"
	}
	serverProps := make(map[string]any, len(known))
	for key, entry := range known {
		serverProps[key] = map[string]any(entry)
	}
	serverDefaults := make(map[string]any, len(defaults))
	for key, def := range defaults {
		serverDefaults[key] = def
	}
	serversNode["properties"] = serverProps
	serversNode["default"] = serverDefaults
	errs := c.gate.Check(ctx, c.pluginID, plugin.Version, working, c.original)
	recordComposition(ctx, time.Since(start), len(known), len(errs) == 0)
	return &epochState{schema: working, defaults: defaults, errors: errs}
}

// Invalidate drops the current epoch. The original snapshot is kept: it must
// survive every epoch of the plugin's lifetime.
func (c *CompositionCache) Invalidate() {
	c.mu.Lock()
	c.epoch = nil
	c.mu.Unlock()
}

// Defaults returns the defaults table of the current epoch, or nil when no
// epoch has been composed yet.
func (c *CompositionCache) Defaults() DefaultsTable {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch == nil {
		return nil
	}
	return c.epoch.defaults
}

// ValidationErrors returns the errors stored for the current epoch, nil when
// the composed schema was accepted or nothing was composed.
func (c *CompositionCache) ValidationErrors() []schema.ValidationError {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch == nil {
		return nil
	}
	return c.epoch.errors
}

// serverBaseTemplate derives the per-server entry template from the plugin
// schema: the additionalProperties object of the language_servers node when
// the author supplied one, a minimal object schema otherwise.
func serverBaseTemplate(pluginSchema schema.Schema) schema.Schema {
	if serversNode, ok := pluginSchema.Property(settings.ServersKey); ok {
		if tmpl, ok := schema.AsSchema(serversNode["additionalProperties"]); ok {
			return tmpl.DeepCopy()
		}
	}
	return schema.Schema{"type": "object", "properties": map[string]any{}}
}

func ensureChildMap(parent map[string]any, key string) map[string]any {
	child, ok := parent[key].(map[string]any)
	if !ok {
		child = make(map[string]any)
		parent[key] = child
	}
	return child
}

func deepCopyValue(v any) any {
	return deepcopy.Copy(v)
}
