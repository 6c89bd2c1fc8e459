package upgrader

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/Sh00ty/fleet-upgrader/internal/fleet"
	"github.com/Sh00ty/fleet-upgrader/internal/models"
	"github.com/Sh00ty/fleet-upgrader/internal/registry"
	"github.com/Sh00ty/fleet-upgrader/internal/rollout"
	"github.com/Sh00ty/fleet-upgrader/internal/store"
)

const DefaultInterval = 15 * time.Second

type Options struct {
	// Noop computes plans without writing anything, bootstrap included.
	Noop bool
	// Verbose logs fleet state, plan and mutations of every tick.
	Verbose bool
	// Retry keeps ticking every Interval until the fleet converged.
	Retry bool
	// WaitForUpgrading admits nothing new while any host is upgrading.
	WaitForUpgrading bool
	Interval         time.Duration
}

// TickResult is everything one convergence tick observed and decided.
type TickResult struct {
	State     models.FleetState
	Plan      models.UpgradePlan
	Decisions []rollout.Decision
	Mutations models.Mutations

	// Waiting is set when scheduling was skipped for in-flight upgrades.
	Waiting bool
	Done    bool
}

// Upgrader drives the fleet towards a version one tick at a time.
//
// Only one Upgrader should work on a store at a time. Two instances with
// the same instructions converge to the same keys, instances with different
// instructions fight each other. See etcd.Store.AcquireLease.
type Upgrader struct {
	fleet    *fleet.Registry
	notifier store.Notifier

	log zerolog.Logger
}

type Option func(u *Upgrader)

// WithNotifier wakes the retry loop early when a host advertises a version.
func WithNotifier(n store.Notifier) Option {
	return func(u *Upgrader) {
		u.notifier = n
	}
}

func New(fleet *fleet.Registry, logger zerolog.Logger, opts ...Option) *Upgrader {
	u := &Upgrader{
		fleet: fleet,
		log:   logger.With().Str("component", "upgrader").Logger(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upgrade bootstraps the rollout of version if needed and ticks until
// the fleet converged, or once when opts.Retry is unset.
func (u *Upgrader) Upgrade(
	ctx context.Context,
	version string,
	instructions models.Instructions,
	opts Options,
) error {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	var (
		changes      <-chan struct{}
		bootstrapped bool
	)
	if opts.Retry && u.notifier != nil {
		var err error
		changes, err = u.notifier.Notify(ctx, registry.RunningVersionsFolder())
		if err != nil {
			u.log.Warn().Err(err).Msg("failed to watch version advertisements, use plain interval")
		}
	}

	for {
		if !bootstrapped {
			err := u.Bootstrap(ctx, version, opts.Noop)
			switch {
			case err != nil && !opts.Retry:
				return err
			case err != nil:
				u.log.Error().Err(err).Msgf("bootstrap of %s failed, retry in %s", version, opts.Interval)
				changes, err = u.wait(ctx, opts.Interval, changes)
				if err != nil {
					return err
				}
				continue
			}
			bootstrapped = true
		}

		res, err := u.Tick(ctx, version, instructions, opts)
		switch {
		case err != nil && !opts.Retry:
			return err
		case err != nil:
			u.log.Error().Err(err).Msgf("upgrade tick failed, retry in %s", opts.Interval)
		case res.Done:
			u.log.Info().Msgf("no hosts left to upgrade to %s", version)
			return nil
		}
		if !opts.Retry {
			return nil
		}
		changes, err = u.wait(ctx, opts.Interval, changes)
		if err != nil {
			return err
		}
	}
}

// Bootstrap starts a rollout when the store targets another version:
// every control key is dropped, the fleet is globally disabled and
// the new version is published.
func (u *Upgrader) Bootstrap(ctx context.Context, version string, noop bool) error {
	current, _, err := u.fleet.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	if current == version {
		return nil
	}
	if noop {
		u.log.Warn().Msgf("noop: would disable all hosts and trigger update from %q to %s", current, version)
		return nil
	}
	u.log.Info().Msgf("disabling all hosts before rolling out %s", version)
	err = u.fleet.GlobalDisable(ctx)
	if err != nil {
		return err
	}
	return u.fleet.TriggerUpdate(ctx, version)
}

// Tick runs one classify, gate, schedule, plan and apply pass.
func (u *Upgrader) Tick(
	ctx context.Context,
	version string,
	instructions models.Instructions,
	opts Options,
) (TickResult, error) {
	var res TickResult
	err := retry.Do(
		func() error {
			state, err := u.fleet.Snapshot(ctx, version)
			if err != nil {
				return err
			}
			res.State = state
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, rollout.ErrInvalidHostname)
		}),
		retry.OnRetry(func(attempt uint, err error) {
			u.log.Warn().Err(err).Msgf("failed to read fleet state, attempt: %d", attempt)
		}),
	)
	if err != nil {
		return res, err
	}
	if res.State.VersionSkew() {
		u.log.Warn().Strs("versions", res.State.Versions).Msg("more than 2 versions are running at once")
	}
	if opts.Verbose {
		u.log.Info().Interface("status", res.State).Msg("fleet state")
	}
	if res.State.Done() {
		res.Done = true
		return res, nil
	}
	if opts.WaitForUpgrading && res.State.Upgrading.Len() > 0 {
		u.log.Info().Msgf("waiting until %d upgrading hosts are done before proceeding", res.State.Upgrading.Len())
		res.Waiting = true
		return res, nil
	}

	res.Plan, res.Decisions = rollout.UpgradeList(res.State, instructions)
	for _, d := range res.Decisions {
		switch d.Admission {
		case rollout.AdmitNothing:
			u.log.Info().Msgf("no action to perform for %s, %d of %d already upgrading", d.Group, d.Upgrading, *d.Quota)
		case rollout.Blocked:
			u.log.Info().Msgf("group %s waits for its dependencies", d.Group)
		default:
			u.log.Debug().Msgf("scheduled %s", d)
		}
	}
	if opts.Verbose {
		u.log.Info().Interface("plan", res.Plan).Msg("upgrade plan")
	}

	res.Mutations = rollout.Mutations(res.Plan, u.fleet.Keys())
	if opts.Noop {
		return res, nil
	}
	err = u.fleet.Apply(ctx, res.Mutations)
	if err != nil {
		return res, err
	}
	if opts.Verbose {
		u.log.Info().Interface("operations", res.Mutations).Msg("applied operations")
	}
	return res, nil
}

func (u *Upgrader) wait(
	ctx context.Context,
	interval time.Duration,
	changes <-chan struct{},
) (<-chan struct{}, error) {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return changes, ctx.Err()
	case <-timer.C:
	case _, ok := <-changes:
		if !ok {
			return nil, nil
		}
		u.log.Debug().Msg("version advertisements changed, tick early")
	}
	return changes, nil
}
