package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/siftworks/sitesift/internal/metrics"
)

var (
	submitDryRun   bool
	submitMaxItems int
	submitMaxBytes int
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Batch the pending delta and submit it to the service",
	Long: `Submit resumes any unsent batches, computes the pending delta,
partitions it under the item and byte limits, and submits each batch.
Every batch is recorded in the manifest and its payload archived before
submission, so an interrupted run picks up where it left off.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if submitMaxItems > 0 {
			cfg.Batch.MaxItems = submitMaxItems
		}
		if submitMaxBytes > 0 {
			cfg.Batch.MaxBytes = submitMaxBytes
		}

		submitter, err := newSubmitter(ctx)
		if err != nil {
			return err
		}

		start := time.Now()
		report, err := submitter.Run(ctx, submitDryRun)
		if err != nil {
			return err
		}
		collector.RecordItems(metrics.OpSubmit, time.Since(start), int64(report.Pending))

		if submitDryRun {
			fmt.Printf("Dry run: %d pending of %d cataloged (%d processed, %d in flight)\n",
				report.Pending, report.CatalogSize, report.Processed, report.InFlight)
			if report.BuildFailures > 0 {
				fmt.Printf("%d items would fail to build\n", report.BuildFailures)
			}
			return nil
		}

		if report.Resumed > 0 {
			fmt.Printf("Resumed %d unsent batches\n", report.Resumed)
		}
		fmt.Printf("Pending %d of %d cataloged; submitted %d batches",
			report.Pending, report.CatalogSize, report.Submitted)
		if len(report.BatchIDs) > 0 {
			fmt.Printf(" %v", report.BatchIDs)
		}
		fmt.Println()
		if report.Deferred > 0 {
			fmt.Printf("%d batches deferred (transient service errors); re-run submit later\n", report.Deferred)
		}
		if report.Failed > 0 {
			fmt.Printf("%d batches rejected permanently; their items are dead-lettered\n", report.Failed)
		}
		if report.BuildFailures > 0 {
			fmt.Printf("%d items could not be built and were dead-lettered\n", report.BuildFailures)
		}
		return nil
	},
}

func init() {
	submitCmd.Flags().BoolVar(&submitDryRun, "dry-run", false, "plan and partition without submitting")
	submitCmd.Flags().IntVar(&submitMaxItems, "max-items", 0, "override the per-batch item limit")
	submitCmd.Flags().IntVar(&submitMaxBytes, "max-bytes", 0, "override the per-batch byte limit")
}
