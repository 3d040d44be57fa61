package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/patcher"
	"github.com/hnijdam/Toolkit-Release-Clean/internal/service"
)

// errLiveRunNotConfirmed a mutating command ran without --dry-run or --yes.
var errLiveRunNotConfirmed = errors.New("live run needs --yes (or use --dry-run)")

type rootFlags struct {
	configFile string
	target     string
	exportDir  string
	dryRun     bool
	yes        bool
	export     bool
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "fleettool",
		Short: "Fleet maintenance for multi-tenant device databases",
		Long: `fleettool inspects and repairs the device databases of every tenant on a fleet server:
- normalize module switching durations and queue the controller command
- duration scans and firmware statistics
- hardware check seeding and status reports
- tenant and address search`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configFile, "config", "c", "", "YAML config file path")
	pf.StringVar(&flags.target, "db", "", "database target (A or B)")
	pf.StringVar(&flags.exportDir, "export-dir", "", "report directory (overrides config)")
	pf.BoolVar(&flags.dryRun, "dry-run", false, "report what would change without writing")
	pf.BoolVarP(&flags.yes, "yes", "y", false, "confirm a live run")
	pf.BoolVar(&flags.export, "export", true, "write report files")

	root.AddCommand(
		newPatchCommand(flags),
		newScanCommand(flags),
		newStatsCommand(flags),
		newRangeCommand(flags),
		newSeedTimedTaskCommand(flags),
		newSeedSettingsCommand(flags),
		newCheckEnabledCommand(flags),
		newHardwareStatusCommand(flags),
		newListTenantsCommand(flags),
		newSearchTenantsCommand(flags),
		newFindAddressCommand(flags),
	)
	return root
}

// confirmLive guards commands that write to tenant databases.
func confirmLive(flags *rootFlags) error {
	if flags.dryRun || flags.yes {
		return nil
	}
	return errLiveRunNotConfirmed
}

func newPatchCommand(flags *rootFlags) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "patch-durations [tenant...]",
		Short: "Raise short module switching durations and queue the controller command",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := confirmLive(flags); err != nil {
				return err
			}
			if !all && len(args) == 0 {
				return errors.New("name one or more tenants or pass --all")
			}
			a, err := newApp(cmd.Context(), flags, true)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.svc.PatchDurations(cmd.Context(), service.PatchRequest{
				Tenants:  args,
				AllShort: all,
				DryRun:   flags.dryRun,
			})
			if err != nil {
				return err
			}
			printRun(cmd.OutOrStdout(), run)

			s := run.Summary()
			if failed := s.TotalErrored() + s.TenantErrors; failed > 0 {
				return fmt.Errorf("run %s finished with %d failure(s)", run.RunID, failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "patch every tenant with at least one short module")
	return cmd
}

func newScanCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "scan-durations",
		Short: "List modules whose switching duration is below target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.ScanShortDurations(cmd.Context(), flags.export)
			if err != nil {
				return err
			}
			w := table(cmd.OutOrStdout())
			fmt.Fprintln(w, "SCHEMA\tADDRESS\tSECONDS\tSLAVEDEVICEID")
			for _, t := range res.Tenants {
				for _, m := range t.Modules {
					fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", t.Tenant, m.SlaveAddress, m.Seconds, m.ModuleID)
				}
			}
			w.Flush()
			printFooter(cmd.OutOrStdout(), res.Path, res.Failures)
			return nil
		},
	}
}

func newStatsCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "duration-stats",
		Short: "Count short modules per tenant and firmware revision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.DurationStats(cmd.Context(), flags.export)
			if err != nil {
				return err
			}
			w := table(cmd.OutOrStdout())
			fmt.Fprintf(w, "SCHEMA\tSHORT\t%s\n", strings.ToUpper(strings.Join(res.Columns, "\t")))
			for _, ts := range append(res.Tenants[:len(res.Tenants):len(res.Tenants)], res.Totals) {
				cells := []string{ts.Tenant, strconv.Itoa(ts.Short)}
				for _, c := range res.Columns {
					cells = append(cells, strconv.Itoa(ts.Revisions[c]))
				}
				fmt.Fprintln(w, strings.Join(cells, "\t"))
			}
			w.Flush()
			printFooter(cmd.OutOrStdout(), res.Path, res.Failures)
			return nil
		},
	}
}

func newRangeCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "duration-report",
		Short: "Lowest and highest short duration per tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.DurationRange(cmd.Context(), flags.export)
			if err != nil {
				return err
			}
			w := table(cmd.OutOrStdout())
			fmt.Fprintln(w, "SCHEMA\tLOWEST\tHIGHEST\tSCANNED")
			for _, r := range res.Tenants {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", r.Tenant, r.Lowest, r.Highest, r.Scanned)
			}
			w.Flush()
			printFooter(cmd.OutOrStdout(), res.Path, res.Failures)
			return nil
		},
	}
}

func newSeedTimedTaskCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed-timedtask",
		Short: "Schedule the hardware check timed task where missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := confirmLive(flags); err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.SeedTimedTask(cmd.Context(), flags.dryRun)
			if err != nil {
				return err
			}
			w := table(cmd.OutOrStdout())
			fmt.Fprintln(w, "SCHEMA\tEXECUTIONTIME")
			for _, t := range res.Seeded {
				fmt.Fprintf(w, "%s\t%s\n", t, res.ExecutionTimes[t])
			}
			w.Flush()
			printSeed(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func newSeedSettingsCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed-settings",
		Short: "Insert the hardware check settings where missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := confirmLive(flags); err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.SeedSettings(cmd.Context(), flags.dryRun)
			if err != nil {
				return err
			}
			for _, t := range res.Seeded {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			printSeed(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func newCheckEnabledCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check-enabled",
		Short: "Show per tenant whether the hardware check is enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.CheckEnabled(cmd.Context())
			if err != nil {
				return err
			}
			w := table(cmd.OutOrStdout())
			fmt.Fprintln(w, "SCHEMA\tSTATE")
			for _, s := range res.Tenants {
				fmt.Fprintf(w, "%s\t%s\n", s.Tenant, s.State)
			}
			w.Flush()
			printFooter(cmd.OutOrStdout(), "", res.Failures)
			return nil
		},
	}
}

func newHardwareStatusCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "hardware-status",
		Short: "Report modules whose latest hardware check is not OK",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.HardwareStatus(cmd.Context(), flags.export)
			if err != nil {
				return err
			}
			w := table(cmd.OutOrStdout())
			fmt.Fprintln(w, "SCHEMA\tADDRESS\tSTATE\tLAST\tGUIDANCE")
			for _, f := range res.Findings {
				fmt.Fprintf(w, "%s\t%d (%04X)\t%s\t%s\t%s\n",
					f.Tenant, f.SlaveAddress, f.SlaveAddress, f.Last.State, f.Last.Timestamp, f.Guidance)
			}
			w.Flush()
			printFooter(cmd.OutOrStdout(), res.Path, res.Failures)
			return nil
		},
	}
}

func newListTenantsCommand(flags *rootFlags) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "list-tenants",
		Short: "List the tenant schemas on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.svc.ListTenants(cmd.Context(), refresh)
			if err != nil {
				return err
			}
			for _, t := range snap.Tenants {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d tenant(s), loaded %s from %s\n",
				len(snap.Tenants), snap.LoadedAt.Format("2006-01-02 15:04:05"), snap.Source)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "reload from the database, bypassing the cache")
	return cmd
}

func newSearchTenantsCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "search-tenants <pattern>",
		Short: "Find tenants by case-insensitive regular expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			matches, err := a.svc.SearchTenants(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, t := range matches {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
}

func newFindAddressCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "find-address <address>",
		Short: "Find controllers and modules at an address in every tenant",
		Long:  "The address is decimal or 0x-prefixed hex.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.FindAddress(cmd.Context(), addr, flags.export)
			if err != nil {
				return err
			}
			w := table(cmd.OutOrStdout())
			fmt.Fprintln(w, "SCHEMA\tCOUNT\tTYPE\tDEVICE TYPES\tSLAVE TYPES")
			for _, h := range res.Hits {
				mark := ""
				if h.TypeMismatch {
					mark = " (mismatch)"
				}
				fmt.Fprintf(w, "%s\t%d\t%d%s\t%v\t%v\n", h.Tenant, h.Count(), h.MatchedType, mark, h.DeviceTypes, h.ModuleTypes)
			}
			w.Flush()
			printFooter(cmd.OutOrStdout(), res.Path, res.Failures)
			return nil
		},
	}
}

func parseAddress(s string) (int64, error) {
	addr, err := strconv.ParseInt(strings.TrimSpace(s), 0, 64)
	if err != nil || addr < 0 {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return addr, nil
}

func table(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
}

func printRun(out io.Writer, run *patcher.RunReport) {
	s := run.Summary()
	mode := "live"
	if run.DryRun {
		mode = "dry-run"
	}
	fmt.Fprintf(out, "Run %s (%s): %d tenant(s), %d module(s)\n", run.RunID, mode, len(run.Tenants), s.Modules)
	fmt.Fprintf(out, "  enqueued:         %d\n", s.Enqueued)
	fmt.Fprintf(out, "  dry-run enqueued: %d\n", s.DryRunEnqueued)
	fmt.Fprintf(out, "  skipped:          %d\n", s.TotalSkipped())
	for _, r := range patcher.Reasons(s.Skipped) {
		fmt.Fprintf(out, "    %-20s %d\n", r, s.Skipped[r])
	}
	fmt.Fprintf(out, "  errored:          %d\n", s.TotalErrored())
	for _, r := range patcher.Reasons(s.Errored) {
		fmt.Fprintf(out, "    %-20s %d\n", r, s.Errored[r])
	}
	for _, t := range run.Tenants {
		if t.Err != nil {
			fmt.Fprintf(out, "  tenant %s failed: %v\n", t.Tenant, t.Err)
		}
	}
}

func printSeed(out io.Writer, res *service.SeedResult) {
	verb := "seeded"
	if res.DryRun {
		verb = "would seed"
	}
	fmt.Fprintf(out, "%s %d tenant(s), %d already present\n", verb, len(res.Seeded), len(res.Existing))
	printFooter(out, "", res.Failures)
}

func printFooter(out io.Writer, path string, failures []service.TenantError) {
	if path != "" {
		fmt.Fprintf(out, "Report written to %s\n", path)
	}
	for _, f := range failures {
		fmt.Fprintf(out, "tenant %s failed: %v\n", f.Tenant, f.Err)
	}
}
