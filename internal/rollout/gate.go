package rollout

import "github.com/Sh00ty/fleet-upgrader/internal/models"

// RolesAndGroups returns the role names of a bucket together with the
// group names those roles were mapped into.
func RolesAndGroups(subroles Subroles) map[string]struct{} {
	result := make(map[string]struct{}, len(subroles))
	for group, roles := range subroles {
		result[string(group)] = struct{}{}
		for role := range roles {
			result[string(role)] = struct{}{}
		}
	}
	return result
}

// NotAllowed returns the pending roles and groups that have a dependency
// which is still pending or upgrading. A dependency on a group blocks on
// every role mapped into it.
func NotAllowed(
	upgrading map[string]struct{},
	pending map[string]struct{},
	deps models.Dependencies,
) map[string]struct{} {
	result := make(map[string]struct{})
	for name := range pending {
		for _, dep := range deps[name] {
			_, isUpgrading := upgrading[dep]
			_, isPending := pending[dep]
			if isUpgrading || isPending {
				result[name] = struct{}{}
				break
			}
		}
	}
	return result
}
