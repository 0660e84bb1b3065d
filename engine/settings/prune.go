package settings

import (
	"reflect"
)

// Pruner drops override values that are deep-equal to the computed defaults,
// keeping the persisted configuration minimal.
//
// Left disabled in the default configuration: a pruned value whose default is
// later redefined server-side would silently resolve to a different effective
// value, undetected by the schema-version mechanism.
type Pruner struct{}

func NewPruner() *Pruner {
	return &Pruner{}
}

// Prune removes, per server, every top-level value equal to its default.
// One extra level of recursion is applied to the serverSettings sub-map
// against defaults[key][SettingsGroupKey]. The input is not mutated.
func (p *Pruner) Prune(servers map[string]any, defaults map[string]map[string]any) map[string]any {
	pruned := make(map[string]any, len(servers))
	for _, key := range sortedServerKeys(servers) {
		entry, ok := servers[key].(map[string]any)
		if !ok {
			pruned[key] = servers[key]
			continue
		}
		def := defaults[key]
		if def == nil {
			pruned[key] = entry
			continue
		}
		out := make(map[string]any, len(entry))
		for field, value := range entry {
			if reflect.DeepEqual(value, def[field]) {
				continue
			}
			out[field] = value
		}
		if group, ok := out[SettingsGroupKey].(map[string]any); ok {
			defGroup, _ := def[SettingsGroupKey].(map[string]any)
			kept := pruneGroup(group, defGroup)
			if len(kept) == 0 {
				delete(out, SettingsGroupKey)
			} else {
				out[SettingsGroupKey] = kept
			}
		}
		pruned[key] = out
	}
	return pruned
}

func pruneGroup(group, defaults map[string]any) map[string]any {
	kept := make(map[string]any, len(group))
	for field, value := range group {
		if defaults != nil && reflect.DeepEqual(value, defaults[field]) {
			continue
		}
		kept[field] = value
	}
	return kept
}
