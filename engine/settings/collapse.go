// Package settings normalizes persisted per-server overrides: collapsing
// dotted-path keys into nested trees, reporting conflicts, and optionally
// pruning values that match computed defaults.
package settings

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/langsettings/composer/pkg/flatten"
	"github.com/langsettings/composer/pkg/logger"
)

const (
	// ServersKey is the top-level settings key holding per-server overrides.
	ServersKey = "language_servers"
	// SettingsGroupKey is the per-server sub-map forwarded to the server.
	SettingsGroupKey = "serverSettings"
)

// ConflictReport maps server keys to the conflicting dotted paths found in
// their settings group. It is produced once per collapse call and consumed
// immediately; it is never persisted.
type ConflictReport map[string]flatten.Conflicts

// Summary renders the report for user display, one line per conflicting
// path, servers and paths in sorted order.
func (r ConflictReport) Summary() string {
	servers := make([]string, 0, len(r))
	for key := range r {
		servers = append(servers, key)
	}
	sort.Strings(servers)
	var b strings.Builder
	for _, server := range servers {
		conflicts := r[server]
		paths := make([]string, 0, len(conflicts))
		for path := range conflicts {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		for _, path := range paths {
			values := make([]string, 0, len(conflicts[path]))
			for _, v := range conflicts[path] {
				values = append(values, fmt.Sprintf("%v", v))
			}
			fmt.Fprintf(&b, "%s: %s was set to conflicting values: %s (kept: %s)\n",
				server, path, strings.Join(values, ", "), values[len(values)-1])
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Collapser rewrites dotted-path server settings into nested form.
type Collapser struct{}

func NewCollapser() *Collapser {
	return &Collapser{}
}

// Collapse processes every server entry carrying a serverSettings sub-map.
// Entries without one pass through untouched. Conflicts never abort the
// collapse; the last-processed value wins and all distinct values are kept
// in the report for visibility.
func (c *Collapser) Collapse(ctx context.Context, servers map[string]any) (map[string]any, ConflictReport) {
	log := logger.FromContext(ctx)
	collapsed := make(map[string]any, len(servers))
	report := make(ConflictReport)
	for _, key := range sortedServerKeys(servers) {
		entry, ok := servers[key].(map[string]any)
		if !ok {
			collapsed[key] = servers[key]
			continue
		}
		out := make(map[string]any, len(entry))
		for k, v := range entry {
			out[k] = v
		}
		if group, ok := entry[SettingsGroupKey].(map[string]any); ok {
			nested, conflicts := flatten.Collapse(group)
			out[SettingsGroupKey] = nested
			if len(conflicts) > 0 {
				log.Warn("conflicting values while collapsing server settings",
					"server", key, "paths", len(conflicts))
				report[key] = conflicts
			}
		}
		collapsed[key] = out
	}
	return collapsed, report
}

func sortedServerKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
