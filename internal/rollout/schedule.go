package rollout

import (
	"fmt"
	"slices"

	"github.com/Sh00ty/fleet-upgrader/internal/models"
)

type Admission string

const (
	AdmitGroup   Admission = "group"
	AdmitHosts   Admission = "hosts"
	AdmitNothing Admission = "nothing"
	Blocked      Admission = "blocked"
)

// Decision explains what the scheduler did with one pending group.
type Decision struct {
	Group     models.Group
	Admission Admission
	// Quota is nil for unlimited groups.
	Quota     *int
	Pending   int
	Upgrading int
}

func (d Decision) String() string {
	quota := "unlimited"
	if d.Quota != nil {
		quota = fmt.Sprint(*d.Quota)
	}
	return fmt.Sprintf(
		"{group=%s, admission=%s, quota=%s, pending=%d, upgrading=%d}",
		d.Group, d.Admission, quota, d.Pending, d.Upgrading,
	)
}

// UpgradeList decides which roles and hosts may start upgrading now.
// Groups are visited in name order, the result only depends on its input.
func UpgradeList(state models.FleetState, instructions models.Instructions) (models.UpgradePlan, []Decision) {
	var (
		plan      = models.NewUpgradePlan()
		pending   = SubroleMappings(state.Pending, instructions.GroupMappings)
		upgrading = SubroleMappings(state.Upgrading, instructions.GroupMappings)
		blocked   = NotAllowed(
			RolesAndGroups(upgrading),
			RolesAndGroups(pending),
			instructions.RoleDependencies,
		)
		decisions = make([]Decision, 0, len(pending))
	)
	for _, group := range pending.Groups() {
		var (
			subroles     = pending[group]
			roles        = subroles.Roles()
			pendingHosts = subroles.Hosts()
			decision     = Decision{
				Group:     group,
				Pending:   len(pendingHosts),
				Upgrading: upgrading[group].Len(),
			}
		)
		// a blocked role inside a bigger group does not stop the group
		if _, ok := blocked[string(group)]; ok {
			decision.Admission = Blocked
			decisions = append(decisions, decision)
			continue
		}
		num, limited := instructions.RollingRules.Quota(group)
		if limited {
			decision.Quota = &num
		}

		switch {
		case !limited || num >= decision.Pending+decision.Upgrading:
			decision.Admission = AdmitGroup
			plan.Roles = append(plan.Roles, roles...)
			// role level keys supersede every host override of the group
			for _, role := range roles {
				plan.DeleteHosts = append(plan.DeleteHosts, state.Upgrading[role]...)
				plan.DeleteHosts = append(plan.DeleteHosts, state.Upgraded[role]...)
				plan.DeleteHosts = append(plan.DeleteHosts, state.Pending[role]...)
			}
		case decision.Upgrading < num:
			decision.Admission = AdmitHosts
			// smallest names first, so that concurrent controllers agree
			sorted := slices.Sorted(slices.Values(pendingHosts))
			plan.Hosts = append(plan.Hosts, sorted[:num-decision.Upgrading]...)
		default:
			decision.Admission = AdmitNothing
		}
		decisions = append(decisions, decision)
	}
	return plan, decisions
}
