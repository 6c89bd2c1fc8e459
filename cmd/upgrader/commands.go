package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cheynewallace/tabby"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Sh00ty/fleet-upgrader/internal/fleet"
	"github.com/Sh00ty/fleet-upgrader/internal/instructions"
	"github.com/Sh00ty/fleet-upgrader/internal/models"
	"github.com/Sh00ty/fleet-upgrader/internal/registry"
	"github.com/Sh00ty/fleet-upgrader/internal/upgrader"
)

const leaseReleaseTimeout = 5 * time.Second

// errCheckFailed makes the process exit with 1 without logging an error.
var errCheckFailed = errors.New("check failed")

func newUpgradeCmd(a *app) *cobra.Command {
	var (
		rawInstructions string
		opts            upgrader.Options
	)
	cmd := &cobra.Command{
		Use:   "upgrade <version>",
		Short: "Trigger an upgrade and roll it out following the instructions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instr, err := loadInstructions(a.cfg.InstructionsFile, rawInstructions)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("interval") {
				opts.Interval = a.cfg.RetryInterval
			}

			ctx := cmd.Context()
			reg, err := a.registry(ctx)
			if err != nil {
				return err
			}
			var upgraderOpts []upgrader.Option
			if a.cfg.WatchVersions {
				upgraderOpts = append(upgraderOpts, upgrader.WithNotifier(a.store))
			}
			if a.cfg.AdvisoryLease && !opts.Noop {
				lost, release, err := a.store.AcquireLease(ctx, registry.LeaseKey)
				if err != nil {
					return err
				}
				defer releaseDetached(ctx, release)
				go func() {
					select {
					case <-ctx.Done():
					case <-lost:
						log.Fatal().Msg("lost upgrade lease")
					}
				}()
			}
			return upgrader.New(reg, log.Logger, upgraderOpts...).
				Upgrade(ctx, args[0], instr, opts)
		},
	}
	cmd.Flags().StringVar(&rawInstructions, "instructions", "",
		"JSON rules for rolling upgrades: rolling_rules, group_mappings, role_dependencies")
	cmd.Flags().BoolVar(&opts.Noop, "noop", false, "compute the plan without updating keys")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "be verbose")
	cmd.Flags().BoolVarP(&opts.Retry, "retry", "r", false, "retry until the upgrade is complete")
	cmd.Flags().BoolVar(&opts.WaitForUpgrading, "wait-for-upgrading", false,
		"admit no new hosts while any host is upgrading")
	cmd.Flags().DurationVar(&opts.Interval, "interval", upgrader.DefaultInterval,
		"pause between retries, overrides UPGRADER_RETRY_INTERVAL")
	return cmd
}

// releaseDetached runs release with a bounded context that outlives ctx,
// which is already cancelled on interrupt.
func releaseDetached(ctx context.Context, release func(context.Context)) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), leaseReleaseTimeout)
	defer cancel()
	release(releaseCtx)
}

// loadInstructions validates command line instructions before any store
// access, fields left empty are taken from the instructions file.
func loadInstructions(filename, raw string) (models.Instructions, error) {
	var (
		instr models.Instructions
		err   error
	)
	if raw != "" {
		instr, err = instructions.Parse([]byte(raw))
		if err != nil {
			return models.Instructions{}, err
		}
	}
	defaults, err := instructions.Load(filename)
	if err != nil {
		return models.Instructions{}, err
	}
	return instr.WithDefaults(defaults), nil
}

func newStatusCmd(a *app) *cobra.Command {
	var (
		target string
		table  bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current status of an upgrade",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			reg, err := a.registry(ctx)
			if err != nil {
				return err
			}
			if target == "" {
				target, _, err = reg.CurrentVersion(ctx)
				if err != nil {
					return err
				}
			}
			state, err := reg.Snapshot(ctx, target)
			if err != nil {
				return err
			}
			if table {
				printStatusTable(target, state)
				return nil
			}
			return printJSON(state)
		},
	}
	cmd.Flags().StringVar(&target, "version", "", "version to compare against, defaults to the current version")
	cmd.Flags().BoolVar(&table, "table", false, "print a table instead of JSON")
	return cmd
}

func printStatusTable(target string, state models.FleetState) {
	t := tabby.New()
	t.AddLine("Target version:", target)
	t.AddLine("Running versions:", strings.Join(state.Versions, ", "))
	t.AddLine()
	t.AddHeader("State", "Role", "Hosts")
	for _, bucket := range []struct {
		state models.HostState
		hosts models.HostsByRole
	}{
		{models.Upgraded, state.Upgraded},
		{models.Upgrading, state.Upgrading},
		{models.Pending, state.Pending},
	} {
		for _, role := range bucket.hosts.Roles() {
			t.AddLine(bucket.state, role, strings.Join(bucket.hosts[role], " "))
		}
	}
	t.Print()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newGlobalDisableCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "global_disable_puppet",
		Short: "Remove all role and host keys and disable every host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry(cmd.Context())
			if err != nil {
				return err
			}
			return reg.GlobalDisable(cmd.Context())
		},
	}
}

func newTriggerUpdateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger_update <version>",
		Short: "Publish the version to deploy without touching control keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry(cmd.Context())
			if err != nil {
				return err
			}
			return reg.TriggerUpdate(cmd.Context(), args[0])
		},
	}
}

func newCurrentVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "current_version",
		Short: "Print the version being rolled out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry(cmd.Context())
			if err != nil {
				return err
			}
			version, ok, err := reg.CurrentVersion(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no current version set")
			}
			fmt.Println(version)
			return nil
		},
	}
}

func newRunningVersionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "running_versions",
		Short: "List currently running versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry(cmd.Context())
			if err != nil {
				return err
			}
			versions, err := reg.RunningVersions(cmd.Context())
			if err != nil {
				return err
			}
			for _, v := range versions {
				fmt.Println(v)
			}
			return nil
		},
	}
}

func newHostsAtVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "hosts_at_version <version>",
		Short: "List hosts at the specified version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry(cmd.Context())
			if err != nil {
				return err
			}
			hosts, err := reg.HostsAtVersion(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, h := range hosts {
				fmt.Println(h)
			}
			return nil
		},
	}
}

func newCheckSingleVersionCmd(a *app) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "check_single_version <version>",
		Short: "Exit with 0 only if the given version is the only one running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry(cmd.Context())
			if err != nil {
				return err
			}
			check, err := reg.CheckSingleVersion(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if verbose {
				fmt.Println("Wanted version found:", check.Found)
				fmt.Println("Unwanted versions found:", strings.Join(check.Unwanted, ", "))
			}
			if !check.Single() {
				return errCheckFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "be verbose")
	return cmd
}

func newUpdateOwnInfoCmd(a *app) *cobra.Command {
	var hostname, version string
	cmd := &cobra.Command{
		Use:   "update_own_info",
		Short: "Advertise the version a host is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry(cmd.Context())
			if err != nil {
				return err
			}
			return reg.UpdateOwnInfo(cmd.Context(), hostname, version, time.Now())
		},
	}
	cmd.Flags().StringVar(&hostname, "hostname", defaultHostname(), "this system's hostname")
	cmd.Flags().StringVar(&version, "version", "", "version to report")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func newHostDataCmd(a *app) *cobra.Command {
	var hostname string
	cmd := &cobra.Command{
		Use:   "host_data",
		Short: "Print the effective control value of a host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry(cmd.Context())
			if err != nil {
				return err
			}
			value, ok, err := reg.HostControl(cmd.Context(), hostname)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("<unset>")
				return nil
			}
			fmt.Println(value)
			return nil
		},
	}
	cmd.Flags().StringVarP(&hostname, "hostname", "n", defaultHostname(), "hostname to lookup data for")
	return cmd
}

func newSetControlCmd(a *app) *cobra.Command {
	var (
		name   string
		remove bool
	)
	cmd := &cobra.Command{
		Use:   "set_control <true|false> <global|role|host>",
		Short: "Set or delete a control override",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := fleet.ParseScope(args[1])
			if err != nil {
				return err
			}
			reg, err := a.registry(cmd.Context())
			if err != nil {
				return err
			}
			var key string
			if remove {
				key, err = reg.DeleteControl(cmd.Context(), scope, name)
			} else {
				key, err = reg.SetControl(cmd.Context(), scope, name, args[0])
			}
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "role or host name, invalid for global")
	cmd.Flags().BoolVarP(&remove, "delete", "d", false, "delete the override instead of setting it")
	return cmd
}

func defaultHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}
