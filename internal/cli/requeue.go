package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/siftworks/sitesift/internal/service"
)

var requeueAll bool

var requeueCmd = &cobra.Command{
	Use:   "requeue [custom_id...]",
	Short: "Put dead-lettered items back into the pending set",
	Long: `Requeue clears the verdict of dead-lettered items so the next submit
run plans them again. Failed items never re-enter the plan on their
own; this command is the only way back.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !requeueAll {
			return fmt.Errorf("pass custom ids or --all")
		}

		requeuer := service.NewRequeuer(dbClient, log)
		report, err := requeuer.Run(cmd.Context(), args)
		if err != nil {
			return err
		}

		fmt.Printf("Requeued %d items\n", report.Requeued)
		for _, key := range report.Unknown {
			fmt.Printf("  not dead-lettered: %s\n", key)
		}
		if report.Requeued > 0 {
			fmt.Println("Run 'sitesift submit' to resubmit them.")
		}
		return nil
	},
}

func init() {
	requeueCmd.Flags().BoolVar(&requeueAll, "all", false, "requeue every dead-lettered item")
}
