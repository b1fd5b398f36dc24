// Command wagerctl inspects game configuration offline: round previews,
// RTP simulation and config validation.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/xtding233/wager-backend/internal/game"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "wagerctl",
		Short:         "Operator tooling for the wager backend",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String("config_dir", "configs", "directory holding games/*.yaml")
	cmd.AddCommand(
		RoundCmd(),
		RTPCmd(),
		ValidateCmd(),
	)
	return cmd
}

func loadCatalog(cmd *cobra.Command) (*game.Catalog, error) {
	dir, _ := cmd.Flags().GetString("config_dir")
	cat, err := game.LoadCatalog(game.NewLoader(dir))
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", dir)
	}
	return cat, nil
}

func family(cmd *cobra.Command, name string) (*game.Family, error) {
	cat, err := loadCatalog(cmd)
	if err != nil {
		return nil, err
	}
	f, ok := cat.Family(name)
	if !ok {
		return nil, errors.Errorf("unknown family %q (have %v)", name, cat.Names())
	}
	return f, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
