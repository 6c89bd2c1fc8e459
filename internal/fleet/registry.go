package fleet

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Sh00ty/fleet-upgrader/internal/models"
	"github.com/Sh00ty/fleet-upgrader/internal/registry"
	"github.com/Sh00ty/fleet-upgrader/internal/rollout"
	"github.com/Sh00ty/fleet-upgrader/internal/store"
)

// Registry reads and writes the fleet records kept in the coordination store:
// target version, version advertisements and control keys.
type Registry struct {
	kv   store.KV
	keys registry.ControlKeys
}

func NewRegistry(kv store.KV, keys registry.ControlKeys) *Registry {
	return &Registry{kv: kv, keys: keys}
}

func (r *Registry) Keys() registry.ControlKeys {
	return r.keys
}

// CurrentVersion returns the target version of the running upgrade.
func (r *Registry) CurrentVersion(ctx context.Context) (string, bool, error) {
	value, ok, err := r.kv.Get(ctx, registry.CurrentVersion)
	if err != nil {
		return "", false, fmt.Errorf("failed to get current version: %w", err)
	}
	return strings.TrimSpace(value), ok, nil
}

func (r *Registry) TriggerUpdate(ctx context.Context, version string) error {
	err := r.kv.Put(ctx, registry.CurrentVersion, version)
	if err != nil {
		return fmt.Errorf("failed to trigger update to %s: %w", version, err)
	}
	return nil
}

// HostsByVersion returns the advertised hosts of every version, hosts sorted.
func (r *Registry) HostsByVersion(ctx context.Context) (map[string][]string, error) {
	records, err := r.kv.FindByPrefix(ctx, registry.RunningVersionsFolder())
	if err != nil {
		return nil, fmt.Errorf("failed to get running versions: %w", err)
	}
	result := make(map[string][]string)
	for key := range records {
		version, host, ok := registry.ParseHostAtVersion(key)
		if !ok {
			continue
		}
		result[version] = append(result[version], host)
	}
	for version := range result {
		slices.Sort(result[version])
	}
	return result, nil
}

func (r *Registry) RunningVersions(ctx context.Context) ([]string, error) {
	hosts, err := r.HostsByVersion(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(hosts)), nil
}

func (r *Registry) HostsAtVersion(ctx context.Context, version string) ([]string, error) {
	records, err := r.kv.FindByPrefix(ctx, registry.VersionFolder(version))
	if err != nil {
		return nil, fmt.Errorf("failed to get hosts at version %s: %w", version, err)
	}
	result := make([]string, 0, len(records))
	for key := range records {
		v, host, ok := registry.ParseHostAtVersion(key)
		if ok && v == version {
			result = append(result, host)
		}
	}
	slices.Sort(result)
	return result, nil
}

type VersionCheck struct {
	Found    bool
	Unwanted []string
}

// Single reports that the wanted version is the only one running.
func (c VersionCheck) Single() bool {
	return c.Found && len(c.Unwanted) == 0
}

func (r *Registry) CheckSingleVersion(ctx context.Context, version string) (VersionCheck, error) {
	versions, err := r.RunningVersions(ctx)
	if err != nil {
		return VersionCheck{}, err
	}
	check := VersionCheck{Unwanted: make([]string, 0, len(versions))}
	for _, v := range versions {
		if v == version {
			check.Found = true
			continue
		}
		check.Unwanted = append(check.Unwanted, v)
	}
	return check, nil
}

// UpdateOwnInfo advertises that host runs version and drops its records
// for any other version.
func (r *Registry) UpdateOwnInfo(ctx context.Context, host, version string, now time.Time) error {
	if version == "" {
		return fmt.Errorf("empty version for host %s", host)
	}
	err := r.kv.Put(
		ctx,
		registry.HostAtVersion(version, host),
		strconv.FormatFloat(float64(now.UnixNano())/float64(time.Second), 'f', 6, 64),
	)
	if err != nil {
		return fmt.Errorf("failed to advertise host %s version: %w", host, err)
	}
	hosts, err := r.HostsByVersion(ctx)
	if err != nil {
		return err
	}
	for v, vHosts := range hosts {
		if v == version || !slices.Contains(vHosts, host) {
			continue
		}
		err = r.kv.Delete(ctx, registry.HostAtVersion(v, host))
		if err != nil {
			return fmt.Errorf("failed to drop stale version %s of host %s: %w", v, host, err)
		}
	}
	return nil
}

// Controls returns every control key with its value.
func (r *Registry) Controls(ctx context.Context) (map[string]string, error) {
	controls, err := r.kv.FindByPrefix(ctx, r.keys.Folder())
	if err != nil {
		return nil, fmt.Errorf("failed to get control keys: %w", err)
	}
	return controls, nil
}

// HostControl returns the effective control value of a host.
func (r *Registry) HostControl(ctx context.Context, host string) (string, bool, error) {
	role, err := rollout.RoleOf(host)
	if err != nil {
		return "", false, err
	}
	controls, err := r.Controls(ctx)
	if err != nil {
		return "", false, err
	}
	value, ok := rollout.ControlValue(controls, r.keys, role, host)
	return value, ok, nil
}

// GlobalDisable drops every role and host override and disables the
// whole fleet, all hosts become pending.
func (r *Registry) GlobalDisable(ctx context.Context) error {
	err := r.kv.DeletePrefix(ctx, r.keys.Folder())
	if err != nil {
		return fmt.Errorf("failed to reset control keys: %w", err)
	}
	err = r.kv.Put(ctx, r.keys.Global(), registry.ControlDisabled)
	if err != nil {
		return fmt.Errorf("failed to disable fleet: %w", err)
	}
	return nil
}

// Snapshot reads the store and classifies the fleet against target.
func (r *Registry) Snapshot(ctx context.Context, target string) (models.FleetState, error) {
	hosts, err := r.HostsByVersion(ctx)
	if err != nil {
		return models.FleetState{}, err
	}
	controls, err := r.Controls(ctx)
	if err != nil {
		return models.FleetState{}, err
	}
	return rollout.Classify(target, hosts, controls, r.keys)
}

// Apply writes mutations, sets first. A failure stops the apply without
// rolling back, the next tick observes and reconciles the partial result.
func (r *Registry) Apply(ctx context.Context, m models.Mutations) error {
	var (
		total   = len(m.Set) + len(m.Delete)
		applied = 0
	)
	for _, key := range m.Set {
		err := r.kv.Put(ctx, key, registry.ControlEnabled)
		if err != nil {
			return fmt.Errorf("applied %d of %d operations: %w", applied, total, err)
		}
		applied++
	}
	for _, key := range m.Delete {
		err := r.kv.Delete(ctx, key)
		if err != nil {
			return fmt.Errorf("applied %d of %d operations: %w", applied, total, err)
		}
		applied++
	}
	return nil
}
