package rollout

import (
	"maps"
	"slices"

	"github.com/Sh00ty/fleet-upgrader/internal/models"
	"github.com/Sh00ty/fleet-upgrader/internal/registry"
)

// ControlValue resolves the effective control value of a host,
// host overrides role which overrides global.
func ControlValue(
	controls map[string]string,
	keys registry.ControlKeys,
	role models.Role,
	host string,
) (string, bool) {
	var (
		value   string
		present bool
	)
	for _, key := range keys.Lookup(role, host) {
		if v, ok := controls[key]; ok {
			value, present = v, true
		}
	}
	return value, present
}

// Classify splits the fleet into upgraded, upgrading and pending hosts.
//
// hostsByVersion holds the advertised version records, controls every key
// under the control prefix. A host advertising target is upgraded even when
// a stale record for an older version is still around.
func Classify(
	target string,
	hostsByVersion map[string][]string,
	controls map[string]string,
	keys registry.ControlKeys,
) (models.FleetState, error) {
	state := models.NewFleetState()
	state.Versions = slices.Sorted(maps.Keys(hostsByVersion))

	upgraded := make(map[string]struct{}, len(hostsByVersion[target]))
	for _, h := range hostsByVersion[target] {
		upgraded[h] = struct{}{}
	}
	others := make(map[string]struct{})
	for version, hosts := range hostsByVersion {
		if version == target {
			continue
		}
		for _, h := range hosts {
			if _, ok := upgraded[h]; !ok {
				others[h] = struct{}{}
			}
		}
	}

	var err error
	state.Upgraded, err = ByRole(slices.Sorted(maps.Keys(upgraded)))
	if err != nil {
		return models.FleetState{}, err
	}
	for _, host := range slices.Sorted(maps.Keys(others)) {
		role, err := RoleOf(host)
		if err != nil {
			return models.FleetState{}, err
		}
		value, present := ControlValue(controls, keys, role, host)
		if registry.IsDisabled(value, present) {
			state.Pending[role] = append(state.Pending[role], host)
			continue
		}
		state.Upgrading[role] = append(state.Upgrading[role], host)
	}
	return state, nil
}
