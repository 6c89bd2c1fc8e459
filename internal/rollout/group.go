package rollout

import (
	"maps"
	"slices"

	"github.com/Sh00ty/fleet-upgrader/internal/models"
)

// GroupOf scans mappings in order, first match wins. A role matching
// nothing is its own group.
func GroupOf(role models.Role, mappings models.GroupMappings) models.Group {
	for _, m := range mappings {
		if m.Matches(role) {
			return m.Group
		}
	}
	return models.Group(role)
}

// Subroles is the group -> role -> hosts view of one bucket.
type Subroles map[models.Group]models.HostsByRole

// SubroleMappings regroups a bucket by group. It is rebuilt every tick
// because hosts move between buckets.
func SubroleMappings(byRole models.HostsByRole, mappings models.GroupMappings) Subroles {
	result := make(Subroles, len(byRole))
	for role, hosts := range byRole {
		group := GroupOf(role, mappings)
		if result[group] == nil {
			result[group] = make(models.HostsByRole)
		}
		result[group][role] = hosts
	}
	return result
}

func (s Subroles) Groups() []models.Group {
	return slices.Sorted(maps.Keys(s))
}
