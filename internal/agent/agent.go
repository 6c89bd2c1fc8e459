package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Sh00ty/fleet-upgrader/internal/registry"
)

type Fleet interface {
	CurrentVersion(ctx context.Context) (string, bool, error)
	HostControl(ctx context.Context, host string) (string, bool, error)
	UpdateOwnInfo(ctx context.Context, host, version string, now time.Time) error
}

// Agent plays one host of the fleet: it follows the target version
// as soon as its control value lets it and advertises what it runs.
type Agent struct {
	host    string
	version string
	fleet   Fleet

	limiter              *rate.Limiter
	afterErrorTokenUsage int
	afterOkTokenUsage    int
	wasError             bool
	advertised           bool

	log zerolog.Logger
}

func New(host, version string, fleet Fleet, every time.Duration, logger zerolog.Logger) *Agent {
	return &Agent{
		host:                 host,
		version:              version,
		fleet:                fleet,
		limiter:              rate.NewLimiter(rate.Every(every), 2),
		afterErrorTokenUsage: 2,
		afterOkTokenUsage:    1,
		log:                  logger.With().Str("component", "agent").Str("host", host).Logger(),
	}
}

func (a *Agent) Run(ctx context.Context) error {
	for {
		reqTokenUsage := a.afterOkTokenUsage
		if a.wasError {
			reqTokenUsage = a.afterErrorTokenUsage
		}
		err := a.limiter.WaitN(ctx, reqTokenUsage)
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("unexpected limiter error: %w", err)
		}
		runID, err := uuid.GenerateUUID()
		if err != nil {
			return fmt.Errorf("failed to generate run id: %w", err)
		}
		err = a.runIteration(ctx, runID)
		if err == nil {
			a.wasError = false
			continue
		}
		a.log.Error().Err(err).Str("run", runID).Msg("agent iteration failed")
		a.wasError = true
	}
}

func (a *Agent) runIteration(ctx context.Context, runID string) error {
	target, ok, err := a.fleet.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	if ok && target != "" && target != a.version {
		value, present, err := a.fleet.HostControl(ctx, a.host)
		if err != nil {
			return err
		}
		if registry.IsDisabled(value, present) {
			a.log.Debug().Str("run", runID).Msgf("upgrade to %s is disabled", target)
		} else {
			a.log.Info().Str("run", runID).Msgf("upgrading from %s to %s", a.version, target)
			a.version = target
			a.advertised = false
		}
	}
	if a.advertised {
		return nil
	}
	err = a.fleet.UpdateOwnInfo(ctx, a.host, a.version, time.Now())
	if err != nil {
		return err
	}
	a.advertised = true
	return nil
}
