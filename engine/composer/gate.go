package composer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/langsettings/composer/engine/registry"
	"github.com/langsettings/composer/engine/schema"
	"github.com/langsettings/composer/engine/settings"
	"github.com/langsettings/composer/pkg/logger"
)

// ValidationGate submits a composed schema to the host's data validator
// before it is exposed. A rejected schema is rolled back field by field:
// only what composition added is withheld, anything the plugin author
// supplied stays intact. Rejection is never fatal, it degrades the plugin
// to schema-free mode for the composed fields.
type ValidationGate struct {
	validator registry.Validator

	// attempt feeds the synthetic record identifier so the validator's
	// schema cache never serves a stale compilation. Instance-owned on
	// purpose: shared process state would leak across engines and tests.
	attempt atomic.Int64

	mu         sync.RWMutex
	lastErrors []schema.ValidationError
}

func NewValidationGate(validator registry.Validator) *ValidationGate {
	return &ValidationGate{validator: validator}
}

// Check validates composed with synthetic empty data. On rejection it
// mutates composed in place, restoring the language_servers properties and
// default fields to their pre-composition state, and retains the errors for
// later display. The returned slice is nil when the schema was accepted.
func (g *ValidationGate) Check(
	ctx context.Context,
	pluginID string,
	version string,
	composed schema.Schema,
	original schema.Schema,
) []schema.ValidationError {
	log := logger.FromContext(ctx)
	record := &registry.DataRecord{
		ID:      fmt.Sprintf("%s-probe-%d", pluginID, g.attempt.Add(1)),
		Raw:     "{}",
		Version: version,
		Schema:  composed,
		Data: registry.PluginData{
			User:      map[string]any{},
			Composite: map[string]any{},
		},
	}
	start := time.Now()
	errs := g.validator.ValidateData(ctx, record, true)
	recordValidation(ctx, time.Since(start), len(errs) == 0)
	if len(errs) == 0 {
		g.setErrors(nil)
		return nil
	}
	log.Warn("validator rejected composed schema, entering schema-free mode",
		"plugin", pluginID, "errors", len(errs))
	g.rollback(composed, original)
	g.setErrors(errs)
	return errs
}

// rollback applies a three-way merge under properties.language_servers:
// fields the original schema lacked are deleted, fields it carried are
// restored to the original value.
func (g *ValidationGate) rollback(composed, original schema.Schema) {
	composedServers, ok := composed.Property(settings.ServersKey)
	if !ok {
		return
	}
	originalServers, _ := original.Property(settings.ServersKey)
	for _, field := range []string{"properties", "default"} {
		if originalServers == nil {
			delete(composedServers, field)
			continue
		}
		if value, present := originalServers[field]; present {
			composedServers[field] = deepCopyValue(value)
		} else {
			delete(composedServers, field)
		}
	}
}

// LastErrors returns the errors retained by the most recent rejected check,
// or nil after an accepted one.
func (g *ValidationGate) LastErrors() []schema.ValidationError {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.lastErrors == nil {
		return nil
	}
	out := make([]schema.ValidationError, len(g.lastErrors))
	copy(out, g.lastErrors)
	return out
}

func (g *ValidationGate) setErrors(errs []schema.ValidationError) {
	g.mu.Lock()
	g.lastErrors = errs
	g.mu.Unlock()
}
