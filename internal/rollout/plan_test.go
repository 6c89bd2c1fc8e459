package rollout

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sh00ty/fleet-upgrader/internal/models"
	"github.com/Sh00ty/fleet-upgrader/internal/registry"
)

func TestMutations(t *testing.T) {
	keys := registry.NewControlKeys(registry.DefaultControlPrefix)

	t.Run("empty plan", func(t *testing.T) {
		got := Mutations(models.NewUpgradePlan(), keys)
		assert.Empty(t, got.Set)
		assert.Empty(t, got.Delete)
	})

	t.Run("hosts roles and deletes", func(t *testing.T) {
		got := Mutations(models.UpgradePlan{
			Hosts:       []string{"h1"},
			Roles:       []models.Role{"h"},
			DeleteHosts: []string{"h2"},
		}, keys)
		assert.Equal(t, models.Mutations{
			Set: []string{
				"/config_state/enable_puppet/host/h1",
				"/config_state/enable_puppet/role/h",
			},
			Delete: []string{"/config_state/enable_puppet/host/h2"},
		}, got)
	})
}
