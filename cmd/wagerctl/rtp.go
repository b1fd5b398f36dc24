package main

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/xtding233/wager-backend/internal/bet"
	"github.com/xtding233/wager-backend/internal/rtp"
)

// RTPCmd runs a Monte Carlo return-to-player estimate.
func RTPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rtp <family>",
		Short: "Estimate return-to-player of a selector by simulation",
		Args:  cobra.ExactArgs(1),
		RunE:  simulate,
	}
	cmd.Flags().StringP("selector", "s", "", "selector as kind=value, e.g. side=heads")
	cmd.Flags().IntP("trials", "n", 100_000, "number of simulated wagers")
	cmd.Flags().Uint64("seed", 1, "rng seed")
	cmd.Flags().Int("workers", 4, "parallel workers")
	return cmd
}

func parseSelector(s string) (bet.Selector, error) {
	if s == "" {
		return bet.Selector{}, nil
	}
	kind, value, ok := strings.Cut(s, "=")
	if !ok || kind == "" {
		return bet.Selector{}, errors.Errorf("selector %q is not kind=value", s)
	}
	return bet.Selector{Kind: kind, Value: value}, nil
}

func simulate(cmd *cobra.Command, args []string) error {
	f, err := family(cmd, args[0])
	if err != nil {
		return err
	}
	raw, _ := cmd.Flags().GetString("selector")
	sel, err := parseSelector(raw)
	if err != nil {
		return err
	}
	trials, _ := cmd.Flags().GetInt("trials")
	seed, _ := cmd.Flags().GetUint64("seed")
	workers, _ := cmd.Flags().GetInt("workers")

	rep, err := rtp.Run(cmd.Context(), rtp.Params{
		Family:   f,
		Selector: sel,
		Trials:   trials,
		Seed:     seed,
		Workers:  workers,
	})
	if err != nil {
		return errors.Wrapf(err, "simulate %s", f.Name)
	}
	return printJSON(cmd.OutOrStdout(), rep)
}
