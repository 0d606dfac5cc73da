package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/siftworks/sitesift/internal/service"
)

var mergeSkipUpload bool

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Consolidate completed batch results into the results tables",
	Long: `Merge reads the archived results of every completed job and writes one
verdict per item: an extraction row on success, a dead letter on
unusable output. All writes are single-key upserts, so running merge
twice, or re-running it after a crash, converges on the same state.

Unless --skip-upload is given, the consolidated tables are exported to
the blob store afterwards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		blobs, err := newBlobStore(ctx)
		if err != nil {
			return err
		}

		consolidator := service.NewConsolidator(dbClient, blobs, cfg, log, collector)
		report, err := consolidator.Run(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Merged %d completed jobs (%d already consolidated, %d with errors)\n",
			report.Jobs, report.Skipped, report.JobErrors)
		fmt.Printf("  Extractions:    %d\n", report.Consolidated)
		fmt.Printf("  Site errors:    %d\n", report.SiteErrors)
		fmt.Printf("  Parse errors:   %d\n", report.ParseErrors)
		fmt.Printf("  Service errors: %d\n", report.ServiceErrors)
		fmt.Printf("  Missing:        %d\n", report.Missing)

		if mergeSkipUpload {
			return nil
		}

		exporter := service.NewExporter(dbClient, blobs, cfg, log, collector)
		exportReport, err := exporter.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Exported %d answers and %d tables\n", exportReport.Answers, exportReport.Tables)
		return nil
	},
}

func init() {
	mergeCmd.Flags().BoolVar(&mergeSkipUpload, "skip-upload", false, "consolidate without exporting to the blob store")
}
