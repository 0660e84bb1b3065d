// Package registry defines the contracts this engine shares with the host
// settings registry: the plugin record shape, the data validator, the reload
// entry point, and the conflict dialog. The registry itself lives in the
// host; only the validator has a concrete implementation here.
package registry

import (
	"context"

	"github.com/langsettings/composer/engine/schema"
)

// PluginData carries the raw per-server overrides as persisted (User) and
// the effective merged view exposed to consumers (Composite). Only the
// compose hook may produce Composite; User is rewritten in place to its
// collapsed form as a normalization side effect.
type PluginData struct {
	User      map[string]any `json:"user"`
	Composite map[string]any `json:"composite"`
}

// Plugin is the registry's record for one settings plugin.
type Plugin struct {
	ID      string        `json:"id"`
	Raw     string        `json:"raw"`
	Version string        `json:"version"`
	Schema  schema.Schema `json:"schema"`
	Data    PluginData    `json:"data"`
}

// TransformedPlugin is the fetch hook's result, handed back to the registry.
type TransformedPlugin struct {
	ID      string        `json:"id"`
	Raw     string        `json:"raw"`
	Version string        `json:"version"`
	Schema  schema.Schema `json:"schema"`
	Data    PluginData    `json:"data"`
}

// DataRecord is what the validator receives: a plugin-shaped record with a
// synthetic identifier so validator-side schema caches never serve a stale
// compilation of a previous composition attempt.
type DataRecord struct {
	ID      string        `json:"id"`
	Raw     string        `json:"raw"`
	Version string        `json:"version"`
	Schema  schema.Schema `json:"schema"`
	Data    PluginData    `json:"data"`
}

// Validator is the host's generic data validator, treated as a black box
// returning a list of errors or none. strict requests full keyword checking.
type Validator interface {
	ValidateData(ctx context.Context, record *DataRecord, strict bool) []schema.ValidationError
}

// Registry is the slice of the host settings registry this engine calls back
// into: reloading a plugin re-runs its fetch hook against current state.
type Registry interface {
	Reload(ctx context.Context, pluginID string) error
}

// Dialog presents a conflict summary to the user. Implementations must not
// block the save path; failures to display are non-fatal.
type Dialog interface {
	NotifyConflicts(ctx context.Context, summary string) error
}
