package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var planShow int

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the delta between the catalog and the processed index",
	Long: `Plan diffs the catalog against recorded verdicts and in-flight
batches, and prints what the next submit run would pick up. Nothing is
mutated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		submitter, err := newSubmitter(ctx)
		if err != nil {
			return err
		}
		plan, catalogSize, err := submitter.Plan(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Catalog:    %d sites\n", catalogSize)
		fmt.Printf("Processed:  %d\n", plan.Processed)
		fmt.Printf("In flight:  %d\n", plan.InFlight)
		fmt.Printf("Pending:    %d\n", len(plan.Pending))

		if len(plan.Pending) > 0 && planShow > 0 {
			fmt.Println("\nNext up:")
			for i, key := range plan.Pending {
				if i >= planShow {
					fmt.Printf("  ... and %d more\n", len(plan.Pending)-planShow)
					break
				}
				fmt.Printf("  %s\n", key)
			}
		}
		return nil
	},
}

func init() {
	planCmd.Flags().IntVar(&planShow, "show", 10, "how many pending keys to print")
}
