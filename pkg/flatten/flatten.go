// Package flatten converts maps with dotted-path keys into nested maps.
//
// A key such as "diagnostics.enable" addresses the nested location
// {"diagnostics": {"enable": ...}}. Collapse merges every entry into a
// nested result, recording a conflict whenever two distinct values land on
// the same final location. The merge never fails: the last-processed value
// wins and all distinct values stay visible in the conflict list.
package flatten

import (
	"reflect"
	"sort"
	"strings"
)

// Separator splits dotted-path keys into segments.
const Separator = "."

// Conflicts maps a dotted path to every distinct value assigned to it, in
// contribution order. The last entry is the one retained in the result.
type Conflicts map[string][]any

// Collapse returns a nested copy of flat with all dotted-path keys expanded,
// plus the conflicts discovered while merging. Keys are processed in sorted
// order so results are deterministic. An already-nested input collapses to a
// structurally equal copy with no conflicts.
func Collapse(flat map[string]any) (map[string]any, Conflicts) {
	nested := make(map[string]any, len(flat))
	conflicts := make(Conflicts)
	for _, key := range sortedKeys(flat) {
		setPath(nested, strings.Split(key, Separator), flat[key], "", conflicts)
	}
	return nested, conflicts
}

func setPath(target map[string]any, path []string, value any, prefix string, conflicts Conflicts) {
	head := path[0]
	full := joinPath(prefix, head)
	if len(path) == 1 {
		assign(target, head, full, value, conflicts)
		return
	}
	child, ok := target[head].(map[string]any)
	if !ok {
		if existing, exists := target[head]; exists {
			// A scalar sits where a subtree must go. Keep the subtree,
			// remember the displaced value.
			record(conflicts, full, existing)
		}
		child = make(map[string]any)
		target[head] = child
	}
	setPath(child, path[1:], value, full, conflicts)
}

func assign(target map[string]any, key, full string, value any, conflicts Conflicts) {
	incoming, incomingMap := value.(map[string]any)
	existing, exists := target[key]
	if !exists {
		if incomingMap {
			target[key] = collapseInto(incoming, full, conflicts)
			return
		}
		target[key] = value
		return
	}
	existingMap, existingIsMap := existing.(map[string]any)
	switch {
	case incomingMap && existingIsMap:
		for _, k := range sortedKeys(incoming) {
			setPath(existingMap, strings.Split(k, Separator), incoming[k], full, conflicts)
		}
	case reflect.DeepEqual(existing, value):
		// Same value contributed twice, nothing to report.
	default:
		record(conflicts, full, existing)
		if incomingMap {
			value = collapseInto(incoming, full, conflicts)
		}
		record(conflicts, full, value)
		target[key] = value
	}
}

func collapseInto(src map[string]any, prefix string, conflicts Conflicts) map[string]any {
	out := make(map[string]any, len(src))
	for _, k := range sortedKeys(src) {
		setPath(out, strings.Split(k, Separator), src[k], prefix, conflicts)
	}
	return out
}

// record appends value to the conflict list for path, skipping values
// already present so the list holds each distinct value once.
func record(conflicts Conflicts, path string, value any) {
	for _, seen := range conflicts[path] {
		if reflect.DeepEqual(seen, value) {
			return
		}
	}
	conflicts[path] = append(conflicts[path], value)
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + Separator + key
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
