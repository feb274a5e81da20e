package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"repair-pricing-backend/config"
	"repair-pricing-backend/internal/catalog"
	"repair-pricing-backend/internal/db"
	"repair-pricing-backend/internal/factors"
	"repair-pricing-backend/internal/httpx"
	"repair-pricing-backend/internal/pricing"
	"repair-pricing-backend/internal/recommend"
	"repair-pricing-backend/internal/store"
)

type quoteFlags struct {
	repairType string
	device     string
	express    bool
	base       string
	offline    bool
}

func quoteCommand(load func() (*config.Config, error)) *cobra.Command {
	var flags quoteFlags

	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Print a one-off quote with booking-time recommendations",
		Long: `Price a repair against the current market factors and compare booking now
with the next hour and tomorrow.

Examples:
  # Quote a catalog repair type
  repaird quote --repair-type=screen --device="Pixel 8" --express

  # Quote an explicit base price against the default factors
  repaird quote --base=120 --offline`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runQuote(cmd.Context(), cfg, flags, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&flags.repairType, "repair-type", "", "Repair type id from the catalog")
	cmd.Flags().StringVar(&flags.device, "device", "", "Device being repaired")
	cmd.Flags().BoolVar(&flags.express, "express", false, "Apply the express premium")
	cmd.Flags().StringVar(&flags.base, "base", "", "Base price to use instead of the catalog")
	cmd.Flags().BoolVar(&flags.offline, "offline", false, "Use the default market factors instead of the factors service")
	cmd.MarkFlagsMutuallyExclusive("repair-type", "base")
	cmd.MarkFlagsOneRequired("repair-type", "base")

	return cmd
}

func runQuote(ctx context.Context, cfg *config.Config, flags quoteFlags, w io.Writer) error {
	var estimate *catalog.Estimate
	var base decimal.Decimal
	if flags.base != "" {
		b, err := decimal.NewFromString(flags.base)
		if err != nil {
			return fmt.Errorf("invalid --base: %w", err)
		}
		base = b
	} else {
		gormDB, err := db.Init(&cfg.Database)
		if err != nil {
			return err
		}
		s := store.NewGormStore(gormDB)
		if err := catalog.Seed(ctx, s, cfg.Catalog); err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
		est, err := catalog.NewEstimator(s).CalculatePrice(ctx, flags.device, flags.repairType, catalog.Options{Express: flags.express})
		if err != nil {
			return err
		}
		estimate = &est
		base = est.Total
	}

	var source factors.Source
	if !flags.offline && cfg.Factors.URL != "" {
		source = factors.NewHTTPSource(cfg.Factors.URL, cfg.Factors.Token, httpx.NewClient(cfg.Factors.HTTPProxy, cfg.Factors.Timeout))
	}
	provider := factors.NewProvider(source)

	opts := []recommend.Option{recommend.WithTTL(cfg.Pricing.QuoteTTL)}
	if cfg.Pricing.SimulatorSeed != 0 {
		opts = append(opts, recommend.WithSimulator(recommend.NewRandomSimulator(cfg.Pricing.SimulatorSeed)))
	}
	composer := recommend.NewComposer(pricing.NewEngine(cfg.Pricing.Limits()), provider, cfg.Pricing.Rules, opts...)

	recs, err := composer.Recommend(ctx, base)
	if err != nil {
		if errors.Is(err, recommend.ErrInvalidBasePrice) {
			return fmt.Errorf("invalid --base: %w", err)
		}
		return err
	}

	out := json.NewEncoder(w)
	out.SetIndent("", "  ")
	return out.Encode(struct {
		Estimate        *catalog.Estimate         `json:"estimate,omitempty"`
		Recommendations recommend.Recommendations `json:"recommendations"`
	}{estimate, recs})
}
