package composer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langsettings/composer/engine/catalog"
	"github.com/langsettings/composer/engine/registry"
	"github.com/langsettings/composer/engine/schema"
	"github.com/langsettings/composer/engine/settings"
)

func pluginFixture() *registry.Plugin {
	return &registry.Plugin{
		ID:      "lsp-settings",
		Version: "1",
		Raw:     "{}",
		Schema:  schema.Schema{"type": "object", "properties": map[string]any{}},
	}
}

func catalogWith(specs ...catalog.ServerSpec) *catalog.SessionCatalog {
	cat := catalog.NewSessionCatalog()
	cat.SetSpecs(specs)
	return cat
}

func newCache(cat catalog.Catalog, validator registry.Validator) *CompositionCache {
	return NewCompositionCache("lsp-settings", cat, NewComposer(), NewValidationGate(validator))
}

func serversNode(t *testing.T, s schema.Schema) schema.Schema {
	t.Helper()
	node, ok := s.Property(settings.ServersKey)
	require.True(t, ok)
	return node
}

func TestCompositionCache_Fetch(t *testing.T) {
	ctx := testContext(t)

	t.Run("Should mount per-server entries and defaults on the plugin schema", func(t *testing.T) {
		cache := newCache(catalogWith(pylsSpec(true)), &stubValidator{})

		transformed, err := cache.Fetch(ctx, pluginFixture())

		require.NoError(t, err)
		node := serversNode(t, transformed.Schema)
		props := node["properties"].(map[string]any)
		assert.Contains(t, props, "pyls")
		defaults := node["default"].(map[string]any)
		assert.Contains(t, defaults, "pyls")
		require.Contains(t, cache.Defaults(), "pyls")
		assert.Equal(t,
			map[string]any{"maxLineLength": 80},
			cache.Defaults()["pyls"][settings.SettingsGroupKey])
	})

	t.Run("Should return the identical schema object within an epoch", func(t *testing.T) {
		cache := newCache(catalogWith(pylsSpec(true)), &stubValidator{})
		plugin := pluginFixture()

		first, err := cache.Fetch(ctx, plugin)
		require.NoError(t, err)
		first.Schema["marker"] = true

		second, err := cache.Fetch(ctx, plugin)
		require.NoError(t, err)
		assert.Equal(t, true, second.Schema["marker"])
	})

	t.Run("Should recompute after invalidation even when the catalog is unchanged", func(t *testing.T) {
		cache := newCache(catalogWith(pylsSpec(true)), &stubValidator{})
		plugin := pluginFixture()

		first, err := cache.Fetch(ctx, plugin)
		require.NoError(t, err)
		first.Schema["marker"] = true

		cache.Invalidate()

		second, err := cache.Fetch(ctx, plugin)
		require.NoError(t, err)
		assert.NotContains(t, second.Schema, "marker")
		serversNode(t, second.Schema)
	})

	t.Run("Should leave the schema untouched and skip the gate when nothing composes", func(t *testing.T) {
		validator := &stubValidator{}
		cache := newCache(catalogWith(), validator)
		plugin := pluginFixture()

		transformed, err := cache.Fetch(ctx, plugin)

		require.NoError(t, err)
		assert.Empty(t, validator.records)
		_, ok := transformed.Schema.Property(settings.ServersKey)
		assert.False(t, ok)
		assert.Nil(t, cache.ValidationErrors())
	})

	t.Run("Should keep the first captured original schema across epochs", func(t *testing.T) {
		cache := newCache(catalogWith(pylsSpec(true)), &stubValidator{})
		plugin := pluginFixture()

		_, err := cache.Fetch(ctx, plugin)
		require.NoError(t, err)
		snapshot := cache.original.DeepCopy()

		cache.Invalidate()
		plugin.Schema = schema.Schema{"type": "object", "properties": map[string]any{"other": map[string]any{}}}
		_, err = cache.Fetch(ctx, plugin)
		require.NoError(t, err)

		assert.Equal(t, snapshot, cache.original)
	})

	t.Run("Should roll back composed fields and store errors on rejection", func(t *testing.T) {
		rejected := []schema.ValidationError{{Keyword: "properties", Message: "unresolvable"}}
		cache := newCache(catalogWith(pylsSpec(true)), &stubValidator{errs: rejected})

		transformed, err := cache.Fetch(ctx, pluginFixture())

		require.NoError(t, err)
		node := serversNode(t, transformed.Schema)
		assert.NotContains(t, node, "properties")
		assert.NotContains(t, node, "default")
		assert.Equal(t, rejected, cache.ValidationErrors())
	})
}
