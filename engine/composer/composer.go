// Package composer builds one canonical settings schema out of the JSON-Schema
// fragments supplied by runtime-discovered language servers, gates the result
// behind the host's data validator, and caches it per discovery epoch.
package composer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"dario.cat/mergo"
	"github.com/mohae/deepcopy"

	"github.com/langsettings/composer/engine/catalog"
	"github.com/langsettings/composer/engine/schema"
	"github.com/langsettings/composer/engine/settings"
	"github.com/langsettings/composer/pkg/logger"
)

const localDefinitionsPrefix = "#/definitions/"

// DefaultsTable holds the computed defaults for every composed server,
// consistent with the schema of the same epoch.
type DefaultsTable map[string]map[string]any

// ServerDescription renders the presentation text attached to each server's
// schema entry. The phrasing differs on session liveness only.
func ServerDescription(displayName string, live bool) string {
	if live {
		return fmt.Sprintf("Settings sent to %s. This server was detected in the current environment.", displayName)
	}
	return fmt.Sprintf("Settings sent to %s. This server was not detected in the current environment.", displayName)
}

// Composer merges server schema fragments into per-server schema entries.
type Composer struct{}

func NewComposer() *Composer {
	return &Composer{}
}

// Compose processes specs in catalog order. Each usable spec contributes a
// full entry to both results; malformed specs are skipped with a warning and
// leave no partial trace. Supplied fragments are never mutated.
func (c *Composer) Compose(
	ctx context.Context,
	specs []catalog.ServerSpec,
	baseTemplate schema.Schema,
	sharedDefaults map[string]any,
) (map[string]schema.Schema, DefaultsTable) {
	log := logger.FromContext(ctx)
	known := make(map[string]schema.Schema)
	defaults := make(DefaultsTable)
	for i := range specs {
		spec := &specs[i]
		if spec.Key == "" {
			log.Warn("skipping server spec without key", "display_name", spec.DisplayName)
			continue
		}
		if spec.ConfigSchema == nil {
			log.Warn("skipping server spec without config schema", "server", spec.Key)
			continue
		}
		if spec.ConfigSchema.Properties() == nil {
			log.Warn("skipping server spec without schema properties", "server", spec.Key)
			continue
		}
		fragment := spec.ConfigSchema.DeepCopy()
		fragment["title"] = spec.DisplayName
		fragment["description"] = ServerDescription(spec.DisplayName, spec.HasLiveSession)
		c.inlineLocalRefs(ctx, spec.Key, fragment)
		known[spec.Key] = c.buildEntry(baseTemplate, fragment)
		defaults[spec.Key] = mergeDefaults(sharedDefaults, collectDefaults(fragment))
	}
	return known, defaults
}

// buildEntry clones the base template and mounts the processed fragment as
// its serverSettings property.
func (c *Composer) buildEntry(baseTemplate, fragment schema.Schema) schema.Schema {
	entry := baseTemplate.DeepCopy()
	if entry == nil {
		entry = schema.Schema{"type": "object"}
	}
	props, ok := entry["properties"].(map[string]any)
	if !ok {
		props = make(map[string]any)
		entry["properties"] = props
	}
	props[settings.SettingsGroupKey] = map[string]any(fragment)
	return entry
}

// inlineLocalRefs resolves "#/definitions/<name>" references against the
// fragment's own definitions map. Unsupported or dangling refs are left in
// place for the validator to reject later.
func (c *Composer) inlineLocalRefs(ctx context.Context, serverKey string, fragment schema.Schema) {
	log := logger.FromContext(ctx)
	props := fragment.Properties()
	defs := fragment.Definitions()
	for _, name := range sortedKeys(props) {
		prop, ok := schema.AsSchema(props[name])
		if !ok {
			continue
		}
		ref, ok := prop["$ref"].(string)
		if !ok {
			continue
		}
		defName, matched := strings.CutPrefix(ref, localDefinitionsPrefix)
		if !matched {
			log.Warn("unsupported schema reference, leaving unresolved",
				"server", serverKey, "property", name, "ref", ref)
			continue
		}
		def, ok := schema.AsSchema(defs[defName])
		if !ok {
			log.Warn("schema reference points at missing definition, leaving unresolved",
				"server", serverKey, "property", name, "ref", ref)
			continue
		}
		for field, value := range def.DeepCopy() {
			prop[field] = value
		}
		delete(prop, "$ref")
	}
}

// collectDefaults gathers the "default" of every top-level property.
func collectDefaults(fragment schema.Schema) map[string]any {
	out := make(map[string]any)
	props := fragment.Properties()
	for _, name := range sortedKeys(props) {
		prop, ok := schema.AsSchema(props[name])
		if !ok {
			continue
		}
		if value, present := prop["default"]; present {
			out[name] = deepcopy.Copy(value)
		}
	}
	return out
}

func mergeDefaults(shared map[string]any, serverDefaults map[string]any) map[string]any {
	merged, ok := deepcopy.Copy(shared).(map[string]any)
	if !ok || merged == nil {
		merged = make(map[string]any)
	}
	overlay := map[string]any{settings.SettingsGroupKey: serverDefaults}
	if err := mergo.Merge(&merged, overlay, mergo.WithOverride); err != nil {
		merged[settings.SettingsGroupKey] = serverDefaults
	}
	return merged
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
