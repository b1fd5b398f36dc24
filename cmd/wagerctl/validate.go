package main

import (
	"github.com/spf13/cobra"
)

// ValidateCmd loads every enabled family and reports what it found.
func ValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the game configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := loadCatalog(cmd)
			if err != nil {
				return err
			}
			type fam struct {
				Mode string `json:"mode"`
				Kind string `json:"kind"`
			}
			out := struct {
				Version  string         `json:"version"`
				Families map[string]fam `json:"families"`
			}{Version: cat.Version, Families: map[string]fam{}}
			for _, name := range cat.Names() {
				f, _ := cat.Family(name)
				out.Families[name] = fam{Mode: f.Mode, Kind: f.Kind}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}
