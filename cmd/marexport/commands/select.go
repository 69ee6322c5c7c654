package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	selectRegion    string
	selectDropdown  bool
	selectSkipLogin bool
)

func init() {
	selectCmd.Flags().StringVar(&selectRegion, "region", "", "Only select locations in this region.")
	selectCmd.Flags().BoolVar(&selectDropdown, "select-all", false, "Use the dropdown's own Select All entry instead of selecting names one by one.")
	selectCmd.Flags().BoolVar(&selectSkipLogin, "manual-login", false, "Sign in by hand instead of using the credentials file.")
	rootCmd.AddCommand(selectCmd)
}

var selectCmd = &cobra.Command{
	Use:   "select [--region <name>] [--select-all] [--manual-login]",
	Short: "Selects every location (or one region's) in a single pass, without chunking.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(cfg)
		defer a.close()
		return guard(a.logger, func() error { return a.selectOnce(cmd.Context()) })
	},
}

func (a *app) selectOnce(ctx context.Context) error {
	all, column, table, err := a.loadNames()
	if err != nil {
		return err
	}

	list := all
	if selectRegion != "" {
		if !table.HasRegions() {
			return fmt.Errorf("%s has no Region column", a.cfg.NamesFile)
		}
		list = table.NamesInRegion(column, selectRegion)
		if len(list) == 0 {
			return fmt.Errorf("no locations in region %q", selectRegion)
		}
		a.term.Printf("Filtered to %d locations in %s\n", len(list), selectRegion)
	}

	if selectSkipLogin {
		err = a.startManual(ctx)
	} else {
		err = a.start(ctx)
	}
	if err != nil {
		return err
	}

	if selectDropdown {
		a.dropdownSelectAll(ctx, list)
	} else {
		a.selectNames(ctx, list)
	}
	return ctx.Err()
}
