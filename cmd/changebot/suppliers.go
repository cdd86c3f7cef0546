package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/uhcops/changebot/internal/config"
	"github.com/uhcops/changebot/internal/location"
	"github.com/uhcops/changebot/internal/supplier"
	"github.com/uhcops/changebot/internal/supplier/googleplaces"
	"github.com/uhcops/changebot/internal/supplier/osm"
)

func newSuppliersCmd() *cobra.Command {
	var configPath string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "suppliers <location>",
		Short: "Look up suppliers near a location",
		Long:  `Runs the supplier lookup one-shot and prints the ranked results. The location is parsed the same way as thread titles, e.g. "Austin, TX".`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuppliers(cmd, configPath, timeout, args)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "changebot.yaml", "path to ChangeBot config file")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "lookup timeout")
	return cmd
}

func runSuppliers(cmd *cobra.Command, configPath string, timeout time.Duration, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	raw := ""
	for i, a := range args {
		if i > 0 {
			raw += " "
		}
		raw += a
	}
	loc, ok := location.Parse(raw)
	if !ok {
		return fmt.Errorf("could not parse a location from %q (expected e.g. \"Austin, TX\")", raw)
	}

	// No cache: one-shot runs should not write rows.
	resolver, err := supplier.NewResolver(supplier.ResolverOpts{
		Providers: []supplier.Provider{
			googleplaces.New(googleplaces.Opts{APIKey: cfg.Suppliers.GoogleAPIKey, Out: out}),
			osm.New(osm.Opts{ContactEmail: cfg.Suppliers.OSMContactEmail, Out: out}),
		},
		Out: out,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := resolver.Resolve(ctx, loc.City, loc.State, cfg.Suppliers.RadiusMi)
	if err != nil {
		return fmt.Errorf("resolve suppliers: %w", err)
	}

	fmt.Fprintf(out, "\n%s, %s (%.4f, %.4f) via %s:\n", loc.City, loc.State, res.Lat, res.Lng, res.ProviderUsed)
	for i, s := range supplier.Rank(res.Suppliers) {
		line := fmt.Sprintf("%2d. %s", i+1, supplier.DisplayName(s))
		if s.DistanceMi != nil {
			line += fmt.Sprintf("  ~%.1f mi", *s.DistanceMi)
		}
		if s.Address != "" {
			line += "  " + s.Address
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
