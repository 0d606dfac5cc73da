package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/siftworks/sitesift/internal/service"
)

var (
	pollOnce     bool
	pollInterval time.Duration
	pollWatch    bool
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Drive submitted jobs through the state machine",
	Long: `Poll checks every submitted job against the service and advances its
manifest row: SUBMITTED to IN_PROGRESS, then to COMPLETED, FAILED, or
EXPIRED. Completed jobs have their raw results archived immediately.

By default poll loops until no active jobs remain. Use --once for a
single pass (cron-friendly) or --watch for a live progress display.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if pollInterval > 0 {
			cfg.Poll.Interval = pollInterval
		}

		poller, err := newPoller(ctx)
		if err != nil {
			return err
		}

		if pollOnce {
			report, err := poller.RunOnce(ctx)
			if err != nil {
				return err
			}
			printPollReport(report)
			return nil
		}

		if pollWatch {
			return runPollWatch(ctx, poller, cfg.Poll.Interval)
		}

		return poller.Run(ctx, func(report service.PollReport) {
			printPollReport(report)
		})
	},
}

func printPollReport(report service.PollReport) {
	fmt.Printf("Polled %d jobs: %d running, %d advanced, %d completed, %d failed, %d expired, %d errors\n",
		report.Polled, report.Running, report.Advanced, report.Completed,
		report.Failed, report.Expired, report.Errors)
	if report.Active() == 0 && report.Polled > 0 {
		fmt.Println("No active jobs remain; run merge to consolidate results.")
	}
}

func init() {
	pollCmd.Flags().BoolVar(&pollOnce, "once", false, "run a single polling pass and exit")
	pollCmd.Flags().DurationVar(&pollInterval, "interval", 0, "override the polling interval")
	pollCmd.Flags().BoolVar(&pollWatch, "watch", false, "show a live progress display while polling")
}
