package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/siftworks/sitesift/internal/models"
	"github.com/siftworks/sitesift/internal/service"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Cross-check the catalog, manifest, and results tables",
	Long: `Validate checks the invariants the pipeline relies on: one active
batch per item, one verdict per processed item, no success verdict
beside a dead letter. It reports violations and exits non-zero when any
are found; nothing is mutated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		validator := service.NewValidator(dbClient, log)
		report, err := validator.Run(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Checked %d sites, %d jobs, %d extractions, %d quality rows, %d dead letters\n",
			report.Sites, report.Jobs, report.Extractions, report.Quality, report.DeadLetters)

		if len(report.Verdicts) > 0 {
			fmt.Println("\nVerdicts:")
			for _, status := range []string{models.ResultSuccess, models.ResultParseError, models.ResultServiceError} {
				if count, ok := report.Verdicts[status]; ok {
					fmt.Printf("  %-15s %d\n", status, count)
				}
			}
		}
		if report.Extractions > 0 {
			fmt.Println("\nField completeness (successful extractions):")
			for _, field := range service.FieldNames {
				fmt.Printf("  %-20s %5.1f%%\n", field, report.FieldFill[field])
			}
		}

		if report.OK() {
			fmt.Println("All consistency checks passed")
			return nil
		}
		fmt.Printf("\n%d violations:\n", len(report.Violations))
		for _, violation := range report.Violations {
			fmt.Printf("  • %s\n", violation)
		}
		return fmt.Errorf("%d consistency violations", len(report.Violations))
	},
}
