package models

import "regexp"

// RollingRules limit how many hosts may upgrade at once.
type RollingRules struct {
	Global *int
	// Roles holds per role or per group overrides of Global.
	Roles map[string]int
}

// Quota resolves the concurrency ceiling for a group: the per role entry
// wins over the global one. ok is false when the group is unlimited.
func (r *RollingRules) Quota(g Group) (num int, ok bool) {
	if r == nil {
		return 0, false
	}
	if num, ok = r.Roles[string(g)]; ok {
		return num, true
	}
	if r.Global != nil {
		return *r.Global, true
	}
	return 0, false
}

func (r *RollingRules) empty() bool {
	return r == nil || (r.Global == nil && len(r.Roles) == 0)
}

// GroupMapping maps roles matching any of Patterns to Group.
type GroupMapping struct {
	Group    Group
	Patterns []*regexp.Regexp
}

// GroupMappings keep the order the operator wrote them in,
// it defines match precedence.
type GroupMappings []GroupMapping

// Dependencies maps a role or group to the roles or groups that must
// finish upgrading first.
type Dependencies map[string][]string

// Instructions are the operator rules of one invocation. They are never
// mutated after loading.
type Instructions struct {
	RollingRules     *RollingRules
	GroupMappings    GroupMappings
	RoleDependencies Dependencies
}

// WithDefaults fills every empty field from defaults.
func (i Instructions) WithDefaults(defaults Instructions) Instructions {
	if i.RollingRules.empty() {
		i.RollingRules = defaults.RollingRules
	}
	if len(i.GroupMappings) == 0 {
		i.GroupMappings = defaults.GroupMappings
	}
	if len(i.RoleDependencies) == 0 {
		i.RoleDependencies = defaults.RoleDependencies
	}
	return i
}

// NewGroupMapping compiles patterns so that each of them has to match
// a whole role name.
func NewGroupMapping(group Group, patterns ...string) (GroupMapping, error) {
	m := GroupMapping{Group: group, Patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		re, err := regexp.Compile(`^(?:` + p + `)$`)
		if err != nil {
			return GroupMapping{}, err
		}
		m.Patterns = append(m.Patterns, re)
	}
	return m, nil
}

// Matches reports whether role belongs to the mapping group.
func (m GroupMapping) Matches(role Role) bool {
	for _, re := range m.Patterns {
		if re.MatchString(string(role)) {
			return true
		}
	}
	return false
}
