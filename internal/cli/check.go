package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/siftworks/sitesift/internal/llm"
	"github.com/siftworks/sitesift/internal/service"
)

var checkRaw bool

var checkCmd = &cobra.Command{
	Use:   "check <custom_id>",
	Short: "Run the extraction prompt against one site synchronously",
	Long: `Check fetches a single site's crawled content and runs the extraction
prompt against the configured spot-check model, without submitting a
batch and without persisting anything. Useful for tuning the prompt or
sanity-checking a site before a large run.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		model, err := llm.NewModel(ctx, cfg)
		if err != nil {
			return err
		}
		blobs, err := newBlobStore(ctx)
		if err != nil {
			return err
		}

		checker := service.NewChecker(dbClient, blobs, model, cfg, log, collector)
		result, err := checker.Run(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Site:   %s (%s)\n", result.Site.Domain, result.Site.CustomID)
		fmt.Printf("Model:  %s (%s)\n", result.ModelName, result.Elapsed.Round(10*time.Millisecond))
		fmt.Printf("Status: %s", result.Parsed.ScrapeStatus)
		if result.Parsed.ErrorCode != "" {
			fmt.Printf(" (%s)", result.Parsed.ErrorCode)
		}
		fmt.Println()

		printField := func(name string, values []string) {
			if len(values) > 0 {
				fmt.Printf("  %-18s %s\n", name+":", strings.Join(values, ", "))
			}
		}
		printField("Sectorial niches", result.Parsed.SectorialNiches)
		printField("End markets", result.Parsed.EndMarkets)
		printField("Products", result.Parsed.ProductOfferings)
		printField("Services", result.Parsed.ServiceOfferings)
		printField("Core activities", result.Parsed.CoreActivities)

		if checkRaw || !result.Parsed.Parseable() {
			fmt.Println("\nRaw output:")
			fmt.Println(result.RawOutput)
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkRaw, "raw", false, "print the raw model output")
}
