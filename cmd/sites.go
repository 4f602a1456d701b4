package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/shadowprobe/internal/catalog"
	"github.com/JakeFAU/shadowprobe/internal/output"
)

func newSitesCmd(root *rootOptions) *cobra.Command {
	var noColor bool
	cmd := &cobra.Command{
		Use:   "sites",
		Short: "List the sites in the active catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := setup(cmd, root)
			if err != nil {
				return err
			}
			sites := catalog.Default()
			if cfg.Catalog.Path != "" {
				if sites, err = catalog.LoadFile(cfg.Catalog.Path); err != nil {
					return fmt.Errorf("load catalog: %w", err)
				}
			}
			output.NewPrinter(cmd.OutOrStdout(), noColor).Sites(sites)
			return nil
		},
	}
	cmd.Flags().String("catalog", "", "catalog file (yaml or json); default is the built-in list")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	return cmd
}
