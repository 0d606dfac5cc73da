package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/siftworks/sitesift/internal/catalog"
	"github.com/siftworks/sitesift/internal/metrics"
)

var discoverLimit int

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Scan the blob store for crawled sites and update the catalog",
	Long: `Discover lists the crawled-content prefix and upserts a catalog entry
for every parseable crawl result. Rediscovering an existing site is a
no-op, so the command is safe to run at any time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		blobs, err := newBlobStore(ctx)
		if err != nil {
			return err
		}

		start := time.Now()
		discoverer := catalog.NewDiscoverer(blobs, dbClient, cfg.Blob.CrawledPrefix, log)
		report, err := discoverer.Run(ctx, discoverLimit)
		if err != nil {
			return err
		}
		collector.RecordItems(metrics.OpDiscover, time.Since(start), int64(report.Discovered))

		fmt.Printf("Listed %d objects under %s\n", report.Listed, cfg.Blob.CrawledPrefix)
		fmt.Printf("Cataloged %d sites (%.1f MB), skipped %d unparseable keys\n",
			report.Discovered, float64(report.TotalBytes)/(1<<20), report.Skipped)
		return nil
	},
}

func init() {
	discoverCmd.Flags().IntVar(&discoverLimit, "limit", 0, "stop after cataloging this many sites (0 = no limit)")
}
