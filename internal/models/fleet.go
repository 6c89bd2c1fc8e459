package models

import (
	"maps"
	"slices"
)

// Role is a class of hosts derived from the hostname prefix, e.g. all compute* hosts.
type Role string

// Group is an operator defined alias uniting one or more roles.
type Group string

type HostState string

const (
	Upgraded  HostState = "upgraded"
	Upgrading HostState = "upgrading"
	Pending   HostState = "pending"
)

// HostsByRole indexes hostnames by their role.
type HostsByRole map[Role][]string

// Roles returns the role names in sorted order.
func (h HostsByRole) Roles() []Role {
	return slices.Sorted(maps.Keys(h))
}

// Hosts returns every host of every role.
func (h HostsByRole) Hosts() []string {
	result := make([]string, 0, len(h))
	for _, role := range h.Roles() {
		result = append(result, h[role]...)
	}
	return result
}

func (h HostsByRole) Len() int {
	n := 0
	for _, hosts := range h {
		n += len(hosts)
	}
	return n
}

// FleetState is a classification snapshot of one tick.
type FleetState struct {
	Upgraded  HostsByRole `json:"upgraded"`
	Upgrading HostsByRole `json:"upgrading"`
	Pending   HostsByRole `json:"pending"`

	// Versions holds every version advertised by at least one host.
	Versions []string `json:"versions,omitempty"`
}

func NewFleetState() FleetState {
	return FleetState{
		Upgraded:  HostsByRole{},
		Upgrading: HostsByRole{},
		Pending:   HostsByRole{},
	}
}

// Done reports that nothing is left to upgrade.
func (s FleetState) Done() bool {
	return s.Pending.Len() == 0 && s.Upgrading.Len() == 0
}

// VersionSkew reports overlapping rollouts: more than two versions
// are advertised at the same time.
func (s FleetState) VersionSkew() bool {
	return len(s.Versions) > 2
}

// UpgradePlan is the scheduler decision for one tick.
type UpgradePlan struct {
	// Roles admitted as a whole, including hosts that join later.
	Roles []Role `json:"roles"`
	// Hosts admitted one by one inside partially admitted groups.
	Hosts []string `json:"hosts"`
	// DeleteHosts are hosts whose host level overrides are superseded
	// by a role level admission.
	DeleteHosts []string `json:"delete_hosts"`
}

func NewUpgradePlan() UpgradePlan {
	return UpgradePlan{
		Roles:       []Role{},
		Hosts:       []string{},
		DeleteHosts: []string{},
	}
}

func (p UpgradePlan) Empty() bool {
	return len(p.Roles) == 0 && len(p.Hosts) == 0 && len(p.DeleteHosts) == 0
}

// Mutations is the list of key-value operations realizing an UpgradePlan.
type Mutations struct {
	Set    []string `json:"set"`
	Delete []string `json:"delete"`
}
