package rollout

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/Sh00ty/fleet-upgrader/internal/models"
)

var ErrInvalidHostname = errors.New("unexpected hostname format")

var hostnamePattern = regexp.MustCompile(`^([a-z]+)[0-9]`)

// RoleOf extracts the leading lowercase run before the first digit:
// compute3 -> compute, ocdb1-backup -> ocdb.
func RoleOf(host string) (models.Role, error) {
	m := hostnamePattern.FindStringSubmatch(host)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidHostname, host)
	}
	return models.Role(m[1]), nil
}

// ByRole indexes hosts by role keeping their relative order.
// A single unresolvable hostname fails the whole call.
func ByRole(hosts []string) (models.HostsByRole, error) {
	result := make(models.HostsByRole)
	for _, h := range hosts {
		role, err := RoleOf(h)
		if err != nil {
			return nil, err
		}
		result[role] = append(result[role], h)
	}
	return result, nil
}
