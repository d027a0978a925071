package cmd

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/whit3rabbit/phpunmixer/internal/transformer"
)

// passesCmd lists the registered passes
var passesCmd = &cobra.Command{
	Use:   "passes",
	Short: "List the deobfuscation passes in execution order",
	Long: `Shows every registered pass with the weight its replacements add to the
score and whether the loaded configuration enables it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("configuration not loaded")
		}
		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"#", "Pass", "Weight", "Enabled"})
		table.SetBorder(false)
		table.SetCenterSeparator("")
		table.SetColumnSeparator("")
		for i, d := range transformer.DefaultRegistry().Passes() {
			enabled := d.Active && cfg.PassEnabled(d.Name)
			table.Append([]string{
				strconv.Itoa(i + 1),
				d.Name,
				strconv.Itoa(cfg.Weight(d.Name, d.Weight)),
				strconv.FormatBool(enabled),
			})
		}
		table.Render()
		return nil
	},
}
