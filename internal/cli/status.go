package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/siftworks/sitesift/internal/models"
)

var statusJobs int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the pipeline's current state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sites, err := dbClient.CountSites(ctx)
		if err != nil {
			return err
		}
		stateCounts, err := dbClient.CountJobsByState(ctx)
		if err != nil {
			return err
		}
		statuses, err := dbClient.ListQualityStatuses(ctx)
		if err != nil {
			return err
		}
		deadLetters, err := dbClient.ListDeadLetters(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Catalog: %d sites, %d processed, %d dead-lettered\n\n", sites, len(statuses), len(deadLetters))

		fmt.Println("Jobs:")
		if len(stateCounts) == 0 {
			fmt.Println("  none")
		}
		for _, sc := range stateCounts {
			fmt.Printf("  %-15s %d\n", sc.State, sc.Count)
		}

		verdicts := make(map[string]int)
		for _, q := range statuses {
			verdicts[q.ResultStatus]++
		}
		if len(verdicts) > 0 {
			fmt.Println("\nVerdicts:")
			for _, status := range []string{models.ResultSuccess, models.ResultParseError, models.ResultServiceError} {
				if count, ok := verdicts[status]; ok {
					fmt.Printf("  %-15s %d\n", status, count)
				}
			}
		}

		if statusJobs > 0 {
			jobs, err := dbClient.ListJobs(ctx)
			if err != nil {
				return err
			}
			if len(jobs) > statusJobs {
				jobs = jobs[len(jobs)-statusJobs:]
			}
			if len(jobs) > 0 {
				fmt.Println("\nRecent jobs:")
				for _, job := range jobs {
					line := fmt.Sprintf("  #%-5d %-15s %4d items", job.BatchID, job.State, job.ItemCount)
					if job.LastPolledAt != nil {
						line += fmt.Sprintf("  polled %s ago", time.Since(*job.LastPolledAt).Round(time.Second))
					}
					if job.Error != nil {
						line += "  " + *job.Error
					}
					fmt.Println(line)
				}
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusJobs, "jobs", 10, "how many recent jobs to list (0 = none)")
}
