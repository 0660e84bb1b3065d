package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPruner_Prune(t *testing.T) {
	pruner := NewPruner()

	t.Run("Should drop top-level values equal to the default", func(t *testing.T) {
		servers := map[string]any{
			"pyls": map[string]any{"priority": 50, "enabled": true},
		}
		defaults := map[string]map[string]any{
			"pyls": {"priority": 50},
		}

		pruned := pruner.Prune(servers, defaults)

		assert.Equal(t, map[string]any{
			"pyls": map[string]any{"enabled": true},
		}, pruned)
	})

	t.Run("Should prune settings group keys against the group defaults", func(t *testing.T) {
		servers := map[string]any{
			"pyls": map[string]any{
				SettingsGroupKey: map[string]any{"maxLineLength": 80, "custom": 1},
			},
		}
		defaults := map[string]map[string]any{
			"pyls": {SettingsGroupKey: map[string]any{"maxLineLength": 80}},
		}

		pruned := pruner.Prune(servers, defaults)

		assert.Equal(t, map[string]any{
			"pyls": map[string]any{
				SettingsGroupKey: map[string]any{"custom": 1},
			},
		}, pruned)
	})

	t.Run("Should drop the settings group entirely when everything matched defaults", func(t *testing.T) {
		servers := map[string]any{
			"pyls": map[string]any{
				SettingsGroupKey: map[string]any{"maxLineLength": 80},
			},
		}
		defaults := map[string]map[string]any{
			"pyls": {SettingsGroupKey: map[string]any{"maxLineLength": 80}},
		}

		pruned := pruner.Prune(servers, defaults)

		assert.Equal(t, map[string]any{"pyls": map[string]any{}}, pruned)
	})

	t.Run("Should keep servers without computed defaults as-is", func(t *testing.T) {
		servers := map[string]any{
			"unknown": map[string]any{"priority": 50},
		}

		pruned := pruner.Prune(servers, map[string]map[string]any{})

		assert.Equal(t, servers, pruned)
	})

	t.Run("Should not mutate the input", func(t *testing.T) {
		servers := map[string]any{
			"pyls": map[string]any{"priority": 50},
		}
		defaults := map[string]map[string]any{"pyls": {"priority": 50}}

		pruner.Prune(servers, defaults)

		assert.Equal(t, 50, servers["pyls"].(map[string]any)["priority"])
	})
}
