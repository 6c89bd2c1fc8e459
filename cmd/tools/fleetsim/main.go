package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vrischmann/envconfig"

	"github.com/Sh00ty/fleet-upgrader/internal/agent"
	"github.com/Sh00ty/fleet-upgrader/internal/etcd"
	"github.com/Sh00ty/fleet-upgrader/internal/fleet"
	"github.com/Sh00ty/fleet-upgrader/internal/registry"
)

type Config struct {
	EtcdEndpoints []string `envconfig:"ETCD_ENDPOINTS,default=localhost:2379"`
	ControlKey    string   `envconfig:"UPGRADER_CONTROL_KEY,default=/config_state/enable_puppet"`

	Version  string        `envconfig:"FLEETSIM_VERSION,default=1"`
	Interval time.Duration `envconfig:"FLEETSIM_INTERVAL,default=2s"`
}

// fleetsim runs a fake agent for every host passed as argument,
// e.g. fleetsim compute1 compute2 ocdb1
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := Config{}
	err := envconfig.Init(&cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init config")
	}
	if len(os.Args) < 2 {
		log.Fatal().Msg("usage: fleetsim host [host...]")
	}

	s, err := etcd.NewStore(ctx, cfg.EtcdEndpoints, 0)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to etcd")
	}
	defer s.Close()
	reg := fleet.NewRegistry(s, registry.NewControlKeys(cfg.ControlKey))

	wg := sync.WaitGroup{}
	for _, host := range os.Args[1:] {
		a := agent.New(host, cfg.Version, reg, cfg.Interval, log.Logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := a.Run(ctx)
			if err != nil {
				log.Error().Err(err).Msgf("agent of %s stopped", host)
			}
		}()
	}
	log.Info().Msgf("started %d agents at version %s", len(os.Args)-1, cfg.Version)
	wg.Wait()
}
