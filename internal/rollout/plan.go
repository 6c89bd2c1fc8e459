package rollout

import (
	"github.com/Sh00ty/fleet-upgrader/internal/models"
	"github.com/Sh00ty/fleet-upgrader/internal/registry"
)

// Mutations translates a plan into control key writes and deletes.
// Applying the result any number of times leaves the same store content.
func Mutations(plan models.UpgradePlan, keys registry.ControlKeys) models.Mutations {
	m := models.Mutations{
		Set:    make([]string, 0, len(plan.Hosts)+len(plan.Roles)),
		Delete: make([]string, 0, len(plan.DeleteHosts)),
	}
	for _, host := range plan.Hosts {
		m.Set = append(m.Set, keys.Host(host))
	}
	for _, role := range plan.Roles {
		m.Set = append(m.Set, keys.Role(role))
	}
	for _, host := range plan.DeleteHosts {
		m.Delete = append(m.Delete, keys.Host(host))
	}
	return m
}
