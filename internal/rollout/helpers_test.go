package rollout

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/fleet-upgrader/internal/models"
)

type groupSpec struct {
	group    string
	patterns []string
}

func mustMappings(t *testing.T, specs ...groupSpec) models.GroupMappings {
	t.Helper()
	result := make(models.GroupMappings, 0, len(specs))
	for _, s := range specs {
		m, err := models.NewGroupMapping(models.Group(s.group), s.patterns...)
		require.NoError(t, err)
		result = append(result, m)
	}
	return result
}

func quota(n int) *int {
	return &n
}

func set(names ...string) map[string]struct{} {
	result := make(map[string]struct{}, len(names))
	for _, n := range names {
		result[n] = struct{}{}
	}
	return result
}
