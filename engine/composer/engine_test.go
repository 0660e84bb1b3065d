package composer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langsettings/composer/engine/catalog"
	"github.com/langsettings/composer/engine/registry"
	"github.com/langsettings/composer/engine/schema"
	"github.com/langsettings/composer/engine/settings"
)

type stubRegistry struct {
	mu      sync.Mutex
	reloads []string
}

func (r *stubRegistry) Reload(_ context.Context, pluginID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reloads = append(r.reloads, pluginID)
	return nil
}

func (r *stubRegistry) reloadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reloads)
}

type stubDialog struct {
	mu        sync.Mutex
	summaries []string
}

func (d *stubDialog) NotifyConflicts(_ context.Context, summary string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.summaries = append(d.summaries, summary)
	return nil
}

func newTestEngine(t *testing.T, cat catalog.Catalog, validator registry.Validator) (*Engine, *stubRegistry, *stubDialog) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DebounceWindow = 0
	reg := &stubRegistry{}
	dialog := &stubDialog{}
	engine, err := New(testContext(t), cfg, cat, validator, reg, dialog)
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine, reg, dialog
}

func TestEngine_Fetch(t *testing.T) {
	ctx := testContext(t)

	t.Run("Should require a plugin with an id", func(t *testing.T) {
		engine, _, _ := newTestEngine(t, catalogWith(), &stubValidator{})

		_, err := engine.Fetch(ctx, nil)
		assert.Error(t, err)

		_, err = engine.Fetch(ctx, &registry.Plugin{})
		assert.Error(t, err)
	})

	t.Run("Should expose stored validation errors per plugin", func(t *testing.T) {
		rejected := []schema.ValidationError{{Keyword: "type", Message: "bad"}}
		engine, _, _ := newTestEngine(t, catalogWith(pylsSpec(true)), &stubValidator{errs: rejected})

		_, err := engine.Fetch(ctx, pluginFixture())

		require.NoError(t, err)
		assert.Equal(t, rejected, engine.ValidationErrors("lsp-settings"))
		assert.Nil(t, engine.ValidationErrors("unknown"))
	})
}

func TestEngine_SessionSetChange(t *testing.T) {
	ctx := testContext(t)

	t.Run("Should invalidate and reload, then recompose from current catalog state", func(t *testing.T) {
		cat := catalogWith(pylsSpec(false))
		engine, reg, _ := newTestEngine(t, cat, &stubValidator{})
		plugin := pluginFixture()

		first, err := engine.Fetch(ctx, plugin)
		require.NoError(t, err)
		fragment := settingsFragment(t, mustServerEntry(t, first.Schema, "pyls"))
		assert.Contains(t, fragment["description"], "was not detected")

		cat.SetSessions("pyls")

		require.Eventually(t, func() bool { return reg.reloadCount() >= 1 },
			time.Second, 10*time.Millisecond)

		second, err := engine.Fetch(ctx, plugin)
		require.NoError(t, err)
		fragment = settingsFragment(t, mustServerEntry(t, second.Schema, "pyls"))
		assert.Contains(t, fragment["description"], "was detected")
	})

	t.Run("Should tolerate overlapping notifications", func(t *testing.T) {
		cat := catalogWith(pylsSpec(false))
		engine, reg, _ := newTestEngine(t, cat, &stubValidator{})
		_, err := engine.Fetch(ctx, pluginFixture())
		require.NoError(t, err)

		cat.SetSessions("pyls")
		cat.SetSessions()
		cat.SetSessions("pyls")

		require.Eventually(t, func() bool { return reg.reloadCount() >= 3 },
			time.Second, 10*time.Millisecond)

		transformed, err := engine.Fetch(ctx, pluginFixture())
		require.NoError(t, err)
		fragment := settingsFragment(t, mustServerEntry(t, transformed.Schema, "pyls"))
		assert.Contains(t, fragment["description"], "was detected")
	})
}

func TestEngine_ComposeData(t *testing.T) {
	ctx := testContext(t)

	overridesFixture := func() map[string]any {
		return map[string]any{
			settings.ServersKey: map[string]any{
				"pyls": map[string]any{
					settings.SettingsGroupKey: map[string]any{
						"a":   map[string]any{"b": 2},
						"a.b": 1,
					},
				},
			},
		}
	}

	t.Run("Should collapse user overrides in place and notify about conflicts", func(t *testing.T) {
		engine, _, dialog := newTestEngine(t, catalogWith(pylsSpec(true)), &stubValidator{})
		plugin := pluginFixture()
		_, err := engine.Fetch(ctx, plugin)
		require.NoError(t, err)
		plugin.Data.User = overridesFixture()

		composed, err := engine.ComposeData(ctx, plugin)

		require.NoError(t, err)
		servers := composed.Data.User[settings.ServersKey].(map[string]any)
		group := servers["pyls"].(map[string]any)[settings.SettingsGroupKey].(map[string]any)
		assert.Equal(t, map[string]any{"a": map[string]any{"b": 1}}, group)
		require.Len(t, dialog.summaries, 1)
		assert.Contains(t, dialog.summaries[0], "pyls")
		assert.Contains(t, dialog.summaries[0], "a.b")
	})

	t.Run("Should merge epoch defaults under user overrides into the composite view", func(t *testing.T) {
		engine, _, _ := newTestEngine(t, catalogWith(pylsSpec(true)), &stubValidator{})
		plugin := pluginFixture()
		_, err := engine.Fetch(ctx, plugin)
		require.NoError(t, err)
		plugin.Data.User = overridesFixture()

		composed, err := engine.ComposeData(ctx, plugin)

		require.NoError(t, err)
		servers := composed.Data.Composite[settings.ServersKey].(map[string]any)
		group := servers["pyls"].(map[string]any)[settings.SettingsGroupKey].(map[string]any)
		assert.Equal(t, 80, group["maxLineLength"])
		assert.Equal(t, map[string]any{"b": 1}, group["a"])
	})

	t.Run("Should not notify when there are no conflicts", func(t *testing.T) {
		engine, _, dialog := newTestEngine(t, catalogWith(pylsSpec(true)), &stubValidator{})
		plugin := pluginFixture()
		plugin.Data.User = map[string]any{
			settings.ServersKey: map[string]any{
				"pyls": map[string]any{
					settings.SettingsGroupKey: map[string]any{"a.b": 1},
				},
			},
		}

		_, err := engine.ComposeData(ctx, plugin)

		require.NoError(t, err)
		assert.Empty(t, dialog.summaries)
	})

	t.Run("Should prune values equal to defaults when enabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DebounceWindow = 0
		cfg.PruneDefaults = true
		engine, err := New(testContext(t), cfg, catalogWith(pylsSpec(true)), &stubValidator{}, &stubRegistry{}, &stubDialog{})
		require.NoError(t, err)
		t.Cleanup(engine.Close)

		plugin := pluginFixture()
		_, err = engine.Fetch(ctx, plugin)
		require.NoError(t, err)
		plugin.Data.User = map[string]any{
			settings.ServersKey: map[string]any{
				"pyls": map[string]any{
					settings.SettingsGroupKey: map[string]any{"maxLineLength": 80, "custom": true},
				},
			},
		}

		composed, err := engine.ComposeData(ctx, plugin)

		require.NoError(t, err)
		servers := composed.Data.User[settings.ServersKey].(map[string]any)
		group := servers["pyls"].(map[string]any)[settings.SettingsGroupKey].(map[string]any)
		assert.Equal(t, map[string]any{"custom": true}, group)
		// The composite view still carries the effective value.
		composite := composed.Data.Composite[settings.ServersKey].(map[string]any)
		compositeGroup := composite["pyls"].(map[string]any)[settings.SettingsGroupKey].(map[string]any)
		assert.Equal(t, 80, compositeGroup["maxLineLength"])
	})
}

func mustServerEntry(t *testing.T, s schema.Schema, key string) schema.Schema {
	t.Helper()
	node, ok := s.Property(settings.ServersKey)
	require.True(t, ok)
	entry, ok := schema.AsSchema(node["properties"].(map[string]any)[key])
	require.True(t, ok)
	return entry
}
