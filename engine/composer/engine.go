package composer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dario.cat/mergo"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/romdo/go-debounce"
	"github.com/sethvargo/go-retry"

	"github.com/langsettings/composer/engine/catalog"
	"github.com/langsettings/composer/engine/registry"
	"github.com/langsettings/composer/engine/schema"
	"github.com/langsettings/composer/engine/settings"
	"github.com/langsettings/composer/pkg/logger"
)

const reloadBackoffBase = 50 * time.Millisecond

// Engine wires the composition pipeline into the host settings registry: it
// serves the fetch hook (compose, gate, cache) and the compose hook
// (collapse, prune, composite view), and invalidates cached epochs when the
// catalog's session set changes.
type Engine struct {
	config    *Config
	catalog   catalog.Catalog
	registry  registry.Registry
	dialog    registry.Dialog
	composer  *Composer
	gate      *ValidationGate
	collapser *settings.Collapser
	pruner    *settings.Pruner

	mu     sync.Mutex
	caches *lru.Cache[string, *CompositionCache]

	cancelDebounce func()
	unsubscribe    func()
	closeOnce      sync.Once
}

func New(
	ctx context.Context,
	cfg *Config,
	cat catalog.Catalog,
	validator registry.Validator,
	reg registry.Registry,
	dialog registry.Dialog,
) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(ctx); err != nil {
		return nil, err
	}
	if cat == nil {
		return nil, errors.New("catalog is required")
	}
	if validator == nil {
		return nil, errors.New("validator is required")
	}
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if dialog == nil {
		dialog = registry.NewLogDialog()
	}
	caches, err := lru.New[string, *CompositionCache](cfg.MaxCachedPlugins)
	if err != nil {
		return nil, fmt.Errorf("failed to create plugin cache: %w", err)
	}
	e := &Engine{
		config:    cfg,
		catalog:   cat,
		registry:  reg,
		dialog:    dialog,
		composer:  NewComposer(),
		gate:      NewValidationGate(validator),
		collapser: settings.NewCollapser(),
		pruner:    settings.NewPruner(),
		caches:    caches,
	}
	notify := func() { e.InvalidateAll(context.WithoutCancel(ctx)) }
	if cfg.DebounceWindow > 0 {
		debounced, cancel := debounce.New(cfg.DebounceWindow, notify)
		e.cancelDebounce = cancel
		notify = debounced
	}
	e.unsubscribe = cat.OnSessionSetChanged(notify)
	return e, nil
}

// Fetch is the registry's fetch hook: it returns the plugin with its schema
// replaced by the current epoch's composed schema.
func (e *Engine) Fetch(ctx context.Context, plugin *registry.Plugin) (*registry.TransformedPlugin, error) {
	if plugin == nil || plugin.ID == "" {
		return nil, errors.New("plugin with id is required")
	}
	return e.cacheFor(plugin.ID).Fetch(ctx, plugin)
}

// ComposeData is the registry's compose hook: it collapses dotted-path
// overrides in plugin.Data.User (rewriting it in place as a normalization
// side effect) and produces the effective merged view in Data.Composite.
// Conflicts are surfaced through the dialog and never block the save.
func (e *Engine) ComposeData(ctx context.Context, plugin *registry.Plugin) (*registry.Plugin, error) {
	if plugin == nil || plugin.ID == "" {
		return nil, errors.New("plugin with id is required")
	}
	log := logger.FromContext(ctx)
	if plugin.Data.User == nil {
		plugin.Data.User = make(map[string]any)
	}
	user := plugin.Data.User
	defaults := e.cacheFor(plugin.ID).Defaults()
	collapsedServers := make(map[string]any)
	if rawServers, ok := user[settings.ServersKey].(map[string]any); ok {
		collapsed, report := e.collapser.Collapse(ctx, rawServers)
		user[settings.ServersKey] = collapsed
		collapsedServers = collapsed
		if len(report) > 0 {
			if err := e.dialog.NotifyConflicts(ctx, report.Summary()); err != nil {
				log.Warn("failed to display conflict summary", "error", err)
			}
		}
		if e.config.PruneDefaults && defaults != nil {
			user[settings.ServersKey] = e.pruner.Prune(collapsed, defaults)
		}
	}
	composite := make(map[string]any, len(user))
	for key, value := range user {
		if key != settings.ServersKey {
			composite[key] = deepCopyValue(value)
		}
	}
	serversView := make(map[string]any, len(defaults))
	for key, def := range defaults {
		serversView[key] = deepCopyValue(def)
	}
	overrides, _ := deepCopyValue(collapsedServers).(map[string]any)
	if err := mergo.Merge(&serversView, overrides, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge server overrides for %s: %w", plugin.ID, err)
	}
	if len(serversView) > 0 || len(collapsedServers) > 0 {
		composite[settings.ServersKey] = serversView
	}
	plugin.Data.Composite = composite
	return plugin, nil
}

// ValidationErrors reports the errors stored for the plugin's current epoch,
// nil when its composed schema was accepted.
func (e *Engine) ValidationErrors(pluginID string) []schema.ValidationError {
	e.mu.Lock()
	cache, ok := e.caches.Get(pluginID)
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return cache.ValidationErrors()
}

// InvalidateAll drops every cached epoch and schedules a fire-and-forget
// reload per known plugin. Overlapping calls are safe: each reload recomputes
// from the catalog's current specs, so results converge regardless of order.
func (e *Engine) InvalidateAll(ctx context.Context) {
	e.mu.Lock()
	ids := e.caches.Keys()
	for _, id := range ids {
		if cache, ok := e.caches.Peek(id); ok {
			cache.Invalidate()
		}
	}
	e.mu.Unlock()
	for _, id := range ids {
		go e.reload(ctx, id)
	}
}

// Close detaches the engine from the catalog's notification stream.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		if e.unsubscribe != nil {
			e.unsubscribe()
		}
		if e.cancelDebounce != nil {
			e.cancelDebounce()
		}
	})
}

func (e *Engine) cacheFor(pluginID string) *CompositionCache {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cache, ok := e.caches.Get(pluginID); ok {
		return cache
	}
	cache := NewCompositionCache(pluginID, e.catalog, e.composer, e.gate)
	e.caches.Add(pluginID, cache)
	return cache
}

func (e *Engine) reload(ctx context.Context, pluginID string) {
	log := logger.FromContext(ctx)
	backoff := retry.WithMaxRetries(e.config.ReloadRetries, retry.NewExponential(reloadBackoffBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := e.registry.Reload(ctx, pluginID); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		log.Error("failed to reload plugin after session-set change", "plugin", pluginID, "error", err)
	}
}
