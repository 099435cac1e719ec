package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bundlesmith/bundlesmith/internal/config"
)

func init() {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration files.",
		Long:  "Merge the configuration files and check the result against the configuration schema.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(rootParams.configFiles) == 0 {
				return fmt.Errorf("no configuration files provided, use --config")
			}

			bs, err := config.Merge(rootParams.configFiles, strict)
			if err != nil {
				return err
			}

			if _, err := config.Parse(bs); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "treat conflicting values across files as errors")

	RootCommand.AddCommand(cmd)
}
