package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/vrischmann/envconfig"

	"github.com/Sh00ty/fleet-upgrader/internal/etcd"
	"github.com/Sh00ty/fleet-upgrader/internal/fleet"
	"github.com/Sh00ty/fleet-upgrader/internal/registry"
)

type Config struct {
	EtcdEndpoints   []string      `envconfig:"ETCD_ENDPOINTS,default=localhost:2379"`
	EtcdDialTimeout time.Duration `envconfig:"ETCD_DIAL_TIMEOUT,default=5s"`

	ControlKey       string        `envconfig:"UPGRADER_CONTROL_KEY,default=/config_state/enable_puppet"`
	InstructionsFile string        `envconfig:"UPGRADER_INSTRUCTIONS_FILE,default=/etc/jiocloud-upgrade.json"`
	RetryInterval    time.Duration `envconfig:"UPGRADER_RETRY_INTERVAL,default=15s"`
	AdvisoryLease    bool          `envconfig:"UPGRADER_ADVISORY_LEASE,default=false"`
	WatchVersions    bool          `envconfig:"UPGRADER_WATCH_VERSIONS,default=false"`

	LoggerLevel string `envconfig:"LOGGER_LEVEL,default=info"`
}

func loggerLevelFromString(level string) zerolog.Level {
	level = strings.ToLower(level)
	switch level {
	case "error":
		return zerolog.ErrorLevel
	case "warn":
		return zerolog.WarnLevel
	case "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	}
	return zerolog.WarnLevel
}

type app struct {
	cfg       Config
	endpoints []string
	store     *etcd.Store
}

func (a *app) init() error {
	err := envconfig.Init(&a.cfg)
	if err != nil {
		return err
	}
	if len(a.endpoints) == 0 {
		a.endpoints = a.cfg.EtcdEndpoints
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(loggerLevelFromString(a.cfg.LoggerLevel))
	return nil
}

func (a *app) registry(ctx context.Context) (*fleet.Registry, error) {
	if a.store == nil {
		s, err := etcd.NewStore(ctx, a.endpoints, a.cfg.EtcdDialTimeout)
		if err != nil {
			return nil, err
		}
		a.store = s
	}
	return fleet.NewRegistry(a.store, registry.NewControlKeys(a.cfg.ControlKey)), nil
}

func (a *app) close() {
	if a.store != nil {
		_ = a.store.Close()
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	a := &app{}
	defer a.close()

	rootCmd := &cobra.Command{
		Use:           "upgrader",
		Short:         "Orchestrates rolling upgrades of a fleet through etcd",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	rootCmd.PersistentFlags().StringSliceVar(
		&a.endpoints, "endpoints", nil,
		"etcd endpoints, overrides ETCD_ENDPOINTS",
	)

	rootCmd.AddCommand(
		newUpgradeCmd(a),
		newStatusCmd(a),
		newGlobalDisableCmd(a),
		newTriggerUpdateCmd(a),
		newCurrentVersionCmd(a),
		newRunningVersionsCmd(a),
		newHostsAtVersionCmd(a),
		newCheckSingleVersionCmd(a),
		newUpdateOwnInfoCmd(a),
		newHostDataCmd(a),
		newSetControlCmd(a),
	)

	err := rootCmd.ExecuteContext(ctx)
	if errors.Is(err, errCheckFailed) {
		a.close()
		os.Exit(1)
	}
	if err != nil {
		log.Error().Err(err).Msg("command failed")
		a.close()
		os.Exit(1)
	}
}
