package registry

import (
	"path"
	"strings"

	"github.com/Sh00ty/fleet-upgrader/internal/models"
)

/*
/current_version
/running_version/v42(%s)/compute1(%s) -> advertisement unix timestamp

/config_state/enable_puppet/global            -> false
/config_state/enable_puppet/role/compute(%s)  -> true
/config_state/enable_puppet/host/compute1(%s) -> true
*/

const (
	CurrentVersion       = "/current_version"
	runningVersionFolder = "/running_version"

	DefaultControlPrefix = "/config_state/enable_puppet"

	LeaseKey = "/upgrader/lease"
)

// /running_version/
func RunningVersionsFolder() string {
	return runningVersionFolder + "/"
}

// /running_version/v42(%s)/
func VersionFolder(version string) string {
	return path.Join(runningVersionFolder, version) + "/"
}

// /running_version/v42(%s)/compute1(%s)
func HostAtVersion(version, host string) string {
	return path.Join(runningVersionFolder, version, host)
}

// ParseHostAtVersion splits /running_version/v42/compute1 into its version and host.
func ParseHostAtVersion(key string) (version, host string, ok bool) {
	rest, found := strings.CutPrefix(key, RunningVersionsFolder())
	if !found {
		return "", "", false
	}
	version, host, found = strings.Cut(rest, "/")
	if !found || version == "" || host == "" || strings.Contains(host, "/") {
		return "", "", false
	}
	return version, host, true
}

// ControlKeys lays out the control overrides under a configurable prefix.
type ControlKeys struct {
	prefix string
}

func NewControlKeys(prefix string) ControlKeys {
	prefix = "/" + strings.Trim(prefix, "/")
	if prefix == "/" {
		prefix = DefaultControlPrefix
	}
	return ControlKeys{prefix: prefix}
}

// /config_state/enable_puppet/
func (k ControlKeys) Folder() string {
	return k.prefix + "/"
}

// /config_state/enable_puppet/global
func (k ControlKeys) Global() string {
	return path.Join(k.prefix, "global")
}

// /config_state/enable_puppet/role/compute(%s)
func (k ControlKeys) Role(role models.Role) string {
	return path.Join(k.prefix, "role", string(role))
}

// /config_state/enable_puppet/host/compute1(%s)
func (k ControlKeys) Host(host string) string {
	return path.Join(k.prefix, "host", host)
}

// Lookup returns the keys consulted for a host, least specific first.
func (k ControlKeys) Lookup(role models.Role, host string) []string {
	return []string{k.Global(), k.Role(role), k.Host(host)}
}

const (
	ControlEnabled  = "true"
	ControlDisabled = "false"
)

// IsDisabled reports whether a control value keeps a host from upgrading.
// An absent value disables as well.
func IsDisabled(value string, present bool) bool {
	return !present || strings.EqualFold(value, ControlDisabled)
}
